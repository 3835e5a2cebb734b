// internal/models/application.go
package models

import "time"

// ApplicationStatus is the registry-owned state of a franchise application.
type ApplicationStatus string

const (
	StatusSubmitted        ApplicationStatus = "submitted"
	StatusPendingPayment   ApplicationStatus = "pending_payment"
	StatusRejected         ApplicationStatus = "rejected"
	StatusPaid             ApplicationStatus = "paid"
	StatusAwaitingIssuance ApplicationStatus = "awaiting_issuance"
	StatusIssued           ApplicationStatus = "issued"
)

// transitions lists every legal status change. Anything not listed is rejected.
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusSubmitted:        {StatusPendingPayment, StatusRejected},
	StatusPendingPayment:   {StatusPaid},
	StatusPaid:             {StatusAwaitingIssuance},
	StatusAwaitingIssuance: {StatusIssued},
}

// CanTransition reports whether from -> to is an allowed step of the settlement path.
func CanTransition(from, to ApplicationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusIssued
}

// Valid reports whether s is a known status value.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusPendingPayment, StatusRejected,
		StatusPaid, StatusAwaitingIssuance, StatusIssued:
		return true
	}
	return false
}

type Application struct {
	ID                int64             `json:"id"`
	ApplicantAccount  string            `json:"applicantAccount"`
	FranchiseID       string            `json:"franchiseId"`
	OwnerAccount      string            `json:"ownerAccount"`
	CoverLetter       string            `json:"coverLetter"`
	Price             string            `json:"price"` // human decimal, ledger token
	Status            ApplicationStatus `json:"status"`
	RejectionReason   *string           `json:"rejectionReason,omitempty"`
	PaymentBlockIndex *uint64           `json:"paymentBlockIndex,omitempty"`
	LicenseTokenID    *uint64           `json:"licenseTokenId,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}
