package issuelicense

import (
	"context"

	"franchise-license-workers/internal/settlement/orchestrator"
)

type Input struct {
	ApplicationID int64 `json:"applicationId"`
	// ResumeFrom is set by the operator task after a stalled settlement.
	ResumeFrom string  `json:"resumeFrom,omitempty"`
	TokenID    *uint64 `json:"tokenId,omitempty"`
}

type Output struct {
	ApplicationID     int64  `json:"applicationId"`
	ApplicationStatus string `json:"applicationStatus"`
	LicenseTokenID    uint64 `json:"licenseTokenId"`
	LicenseOwner      string `json:"licenseOwner"`
	AlreadyIssued     bool   `json:"alreadyIssued"`
}

// Settler is satisfied by orchestrator.Orchestrator.
type Settler interface {
	Settle(ctx context.Context, applicationID int64) (*orchestrator.Result, error)
	Resume(ctx context.Context, applicationID int64, step orchestrator.Step, tokenID uint64) (*orchestrator.Result, error)
}
