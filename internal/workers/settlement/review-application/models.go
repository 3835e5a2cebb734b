package reviewapplication

import (
	"context"
	"time"
)

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

type Input struct {
	ApplicationID int64  `json:"applicationId"`
	CallerAccount string `json:"callerAccount"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
}

type Output struct {
	ApplicationID     int64     `json:"applicationId"`
	ApplicationStatus string    `json:"applicationStatus"`
	Decision          string    `json:"decision"`
	ReviewedAt        time.Time `json:"reviewedAt"`
}

// Reviewer is satisfied by review.Adapter.
type Reviewer interface {
	Approve(ctx context.Context, applicationID int64, caller string) error
	Reject(ctx context.Context, applicationID int64, caller, reason string) error
}
