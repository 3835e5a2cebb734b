package payapplication

import (
	"context"

	"franchise-license-workers/internal/models"
)

type Input struct {
	ApplicationID int64 `json:"applicationId"`
}

type Output struct {
	ApplicationID     int64   `json:"applicationId"`
	PaymentSuccess    bool    `json:"paymentSuccess"`
	PaymentMessage    string  `json:"paymentMessage"`
	BlockIndex        *uint64 `json:"blockIndex,omitempty"`
	BaseUnits         string  `json:"baseUnits,omitempty"`
	ApplicationStatus string  `json:"applicationStatus"`
}

// Payer is satisfied by payment.Adapter.
type Payer interface {
	Pay(ctx context.Context, applicationID int64) (models.TransferReceipt, error)
}
