package application

import (
	"context"
	"testing"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(status models.ApplicationStatus) *MemoryRegistry {
	m := NewMemoryRegistry()
	m.AddFranchise(models.Franchise{ID: "F-1", OwnerAccount: "acct-owner"})
	m.AddApplication(models.Application{ID: 12, ApplicantAccount: "acct-applicant", FranchiseID: "F-1", Status: status})
	return m
}

func TestMemoryRegistry_RecordLicenseToken(t *testing.T) {
	ctx := context.Background()
	m := newMemory(models.StatusAwaitingIssuance)

	applied, err := m.RecordLicenseToken(ctx, 12, 7)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = m.RecordLicenseToken(ctx, 12, 7)
	require.NoError(t, err)
	assert.False(t, applied, "same token is a no-op")

	_, err = m.RecordLicenseToken(ctx, 12, 8)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))

	app, err := m.Get(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingIssuance, app.Status)
	require.NotNil(t, app.LicenseTokenID)
	assert.Equal(t, uint64(7), *app.LicenseTokenID)
}

func TestMemoryRegistry_RecordLicenseTokenRequiresAwaitingIssuance(t *testing.T) {
	m := newMemory(models.StatusPaid)

	_, err := m.RecordLicenseToken(context.Background(), 12, 7)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestMemoryRegistry_MarkIssuedHonoursRecordedToken(t *testing.T) {
	ctx := context.Background()
	m := newMemory(models.StatusAwaitingIssuance)
	_, err := m.RecordLicenseToken(ctx, 12, 7)
	require.NoError(t, err)

	_, err = m.MarkIssued(ctx, 12, 8)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))

	applied, err := m.MarkIssued(ctx, 12, 7)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = m.MarkIssued(ctx, 12, 7)
	require.NoError(t, err)
	assert.False(t, applied)
}
