package review

import (
	"context"
	"testing"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/application"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, status models.ApplicationStatus) (*Adapter, *application.MemoryRegistry) {
	t.Helper()
	reg := application.NewMemoryRegistry()
	reg.AddFranchise(models.Franchise{ID: "F-1", Name: "Coffee Corner", OwnerAccount: "acct-owner"})
	reg.AddApplication(models.Application{
		ID: 12, ApplicantAccount: "acct-applicant", FranchiseID: "F-1", Price: "100", Status: status,
	})
	return NewAdapter(reg, logger.NewTestLogger(t)), reg
}

func TestApprove(t *testing.T) {
	adapter, reg := newFixture(t, models.StatusSubmitted)

	require.NoError(t, adapter.Approve(context.Background(), 12, "acct-owner"))

	app, _ := reg.Get(context.Background(), 12)
	assert.Equal(t, models.StatusPendingPayment, app.Status)
}

func TestReject(t *testing.T) {
	adapter, reg := newFixture(t, models.StatusSubmitted)

	require.NoError(t, adapter.Reject(context.Background(), 12, "acct-owner", " location already taken "))

	app, _ := reg.Get(context.Background(), 12)
	assert.Equal(t, models.StatusRejected, app.Status)
	require.NotNil(t, app.RejectionReason)
	assert.Equal(t, "location already taken", *app.RejectionReason)
}

func TestReviewPreconditions_LeaveStatusUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		status models.ApplicationStatus
		caller string
		act    func(a *Adapter, caller string) error
		want   errors.ErrorCode
	}{
		{
			name: "reject without reason", status: models.StatusSubmitted, caller: "acct-owner",
			act:  func(a *Adapter, c string) error { return a.Reject(context.Background(), 12, c, "  \t") },
			want: errors.ErrCodeRejectionReasonRequired,
		},
		{
			name: "approve by stranger", status: models.StatusSubmitted, caller: "acct-stranger",
			act:  func(a *Adapter, c string) error { return a.Approve(context.Background(), 12, c) },
			want: errors.ErrCodeNotAuthorized,
		},
		{
			name: "approve twice", status: models.StatusPendingPayment, caller: "acct-owner",
			act:  func(a *Adapter, c string) error { return a.Approve(context.Background(), 12, c) },
			want: errors.ErrCodeInvalidState,
		},
		{
			name: "reject issued", status: models.StatusIssued, caller: "acct-owner",
			act:  func(a *Adapter, c string) error { return a.Reject(context.Background(), 12, c, "late") },
			want: errors.ErrCodeInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, reg := newFixture(t, tt.status)

			err := tt.act(adapter, tt.caller)
			assert.Equal(t, tt.want, errors.CodeOf(err))

			app, _ := reg.Get(context.Background(), 12)
			assert.Equal(t, tt.status, app.Status)
			assert.Nil(t, app.RejectionReason)
		})
	}
}

func TestApprove_UnknownApplication(t *testing.T) {
	adapter, _ := newFixture(t, models.StatusSubmitted)

	err := adapter.Approve(context.Background(), 99, "acct-owner")
	assert.True(t, errors.IsCode(err, errors.ErrCodeApplicationNotFound))
}
