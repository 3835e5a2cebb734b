// Package application is the Application Registry: the single writer of application status.
// Every mutation encodes its expected prior status so concurrent callers cannot skip or
// repeat a transition.
package application

import (
	"context"
	"time"

	"franchise-license-workers/internal/models"
)

// Registry is the contract the settlement adapters depend on.
//
// RecordPayment, CompleteApplication, RecordLicenseToken and MarkIssued are idempotent: when
// the application is already past the transition with the same evidence they return
// applied=false and no error.
type Registry interface {
	Get(ctx context.Context, id int64) (*models.Application, error)
	Franchise(ctx context.Context, franchiseID string) (*models.Franchise, error)

	Approve(ctx context.Context, id int64, caller string) error
	Reject(ctx context.Context, id int64, caller, reason string) error

	RecordPayment(ctx context.Context, id int64, blockIndex uint64) (applied bool, err error)
	CompleteApplication(ctx context.Context, id int64) (applied bool, err error)
	// RecordLicenseToken stores the minted token on an application awaiting issuance, so a
	// later run continues with that token instead of minting again.
	RecordLicenseToken(ctx context.Context, id int64, tokenID uint64) (applied bool, err error)
	MarkIssued(ctx context.Context, id int64, tokenID uint64) (applied bool, err error)

	// ListStale returns applications in one of statuses not updated since olderThan.
	ListStale(ctx context.Context, statuses []models.ApplicationStatus, olderThan time.Time) ([]models.Application, error)
}
