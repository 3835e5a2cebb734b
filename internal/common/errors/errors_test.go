package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeLedgerUnavailable, 3},
		{ErrCodeSignerUnavailable, 3},
		{ErrCodeLicenseRegistryUnavailable, 3},
		{ErrCodeDatabaseConnectionFailed, 3},
		{ErrCodeSettlementLocked, 2},
		{ErrCodeInvalidState, 0},
		{ErrCodeAmbiguousOutcome, 0},
		{ErrCodePaymentUnrecorded, 0},
		{ErrCodeReconciliationRequired, 0},
		{ErrCodeDuplicateMint, 0},
		{ErrCodeMintFailed, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetRetryCount(tt.code))
		})
	}
}

func TestConvertToBPMNError_CarriesMetadata(t *testing.T) {
	stdErr := NewInvalidStateError(12, "issued", "paid")

	bpmnErr := ConvertToBPMNError(stdErr)

	assert.Equal(t, "INVALID_STATE", bpmnErr.Code)
	assert.False(t, bpmnErr.Retryable)
	assert.Equal(t, 0, bpmnErr.Retries)

	vars := bpmnErr.ToErrorVariables()
	assert.Equal(t, int64(12), vars["applicationId"])
	assert.Equal(t, "issued", vars["status"])
	assert.Equal(t, "PRECONDITION", vars["errorCategory"])
	assert.Equal(t, "INVALID_STATE", vars["errorCode"])
}

func TestConvertToBPMNError_TransientKeepsRetries(t *testing.T) {
	stdErr := NewUnavailableError(ErrCodeLedgerUnavailable, "ledger", fmt.Errorf("connection refused"))

	bpmnErr := ConvertToBPMNError(stdErr)

	assert.True(t, bpmnErr.Retryable)
	assert.Equal(t, 3, bpmnErr.Retries)
}

func TestAsStandard_ThroughWrapping(t *testing.T) {
	base := NewDuplicateMintError("token exists")
	wrapped := fmt.Errorf("step mint: %w", base)

	stdErr, ok := AsStandard(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeDuplicateMint, stdErr.Code)
	assert.True(t, IsCode(wrapped, ErrCodeDuplicateMint))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}

func TestStandardError_UnwrapsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: i/o timeout")
	stdErr := NewAmbiguousOutcomeError("ledger", "transfer", cause)

	assert.True(t, stderrors.Is(stdErr, cause))
	assert.Contains(t, stdErr.Error(), "AMBIGUOUS_OUTCOME")
}

func TestNormalize_PlainError(t *testing.T) {
	stdErr := Normalize(stderrors.New("boom"))

	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), stdErr.Code)
	assert.Equal(t, "boom", stdErr.Details)
	assert.False(t, stdErr.Retryable)
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "PRECONDITION", GetErrorCategory(ErrCodeNotAuthorized))
	assert.Equal(t, "TRANSPORT", GetErrorCategory(ErrCodeSignerUnavailable))
	assert.Equal(t, "TRANSPORT", GetErrorCategory(ErrCodeDatabaseConnectionFailed))
	assert.Equal(t, "AMBIGUOUS", GetErrorCategory(ErrCodePaymentUnrecorded))
	assert.Equal(t, "DOMAIN", GetErrorCategory(ErrCodeExcessPrecision))
	assert.Equal(t, "OTHER", GetErrorCategory("SOMETHING_ELSE"))
}
