package payapplication

import (
	"context"
	"encoding/json"
	"testing"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPayer struct {
	mock.Mock
}

func (m *MockPayer) Pay(ctx context.Context, applicationID int64) (models.TransferReceipt, error) {
	args := m.Called(ctx, applicationID)
	return args.Get(0).(models.TransferReceipt), args.Error(1)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "franchise-application",
		ElementId:          "Activity_PayApplication",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T, payer Payer) *Handler {
	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Payer:        payer,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func TestNewHandler_RequiresPayer(t *testing.T) {
	h, err := NewHandler(HandlerOptions{CustomConfig: DefaultConfig()})
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Contains(t, err.Error(), "payer is required")
}

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, new(MockPayer))

	input, err := h.parseInput(createMockJob(1, map[string]interface{}{
		"applicationId":     12,
		"applicationStatus": "pending_payment",
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(12), input.ApplicationID)

	for name, vars := range map[string]map[string]interface{}{
		"missing id":  {},
		"zero id":     {"applicationId": 0},
		"string id":   {"applicationId": "12"},
		"fraction id": {"applicationId": 1.5},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.parseInput(createMockJob(2, vars))
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
		})
	}
}

func TestHandler_ExecuteSuccess(t *testing.T) {
	payer := new(MockPayer)
	payer.On("Pay", mock.Anything, int64(12)).
		Return(models.SucceededReceipt(42, "150000000", "transferred 1.5 ICP"), nil)
	h := newTestHandler(t, payer)

	output, err := h.Execute(context.Background(), &Input{ApplicationID: 12})

	require.NoError(t, err)
	assert.True(t, output.PaymentSuccess)
	require.NotNil(t, output.BlockIndex)
	assert.Equal(t, uint64(42), *output.BlockIndex)
	assert.Equal(t, "150000000", output.BaseUnits)
	assert.Equal(t, "paid", output.ApplicationStatus)
	payer.AssertExpectations(t)
}

func TestHandler_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name        string
		receipt     models.TransferReceipt
		err         error
		wantCode    errors.ErrorCode
		wantRetries int
	}{
		{
			name:     "payer mismatch",
			receipt:  models.FailedReceipt("payer mismatch"),
			err:      errors.NewPayerMismatchError("acct-b", "acct-a"),
			wantCode: errors.ErrCodePayerMismatch,
		},
		{
			name:        "ledger unreachable",
			receipt:     models.FailedReceipt("ledger down"),
			err:         errors.NewUnavailableError(errors.ErrCodeLedgerUnavailable, "ledger", assert.AnError),
			wantCode:    errors.ErrCodeLedgerUnavailable,
			wantRetries: 3,
		},
		{
			name:     "paid but unrecorded",
			receipt:  models.SucceededReceipt(42, "100", "transferred"),
			err:      errors.NewPaymentUnrecordedError(12, 42, assert.AnError),
			wantCode: errors.ErrCodePaymentUnrecorded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payer := new(MockPayer)
			payer.On("Pay", mock.Anything, int64(12)).Return(tt.receipt, tt.err)
			h := newTestHandler(t, payer)

			output, err := h.Execute(context.Background(), &Input{ApplicationID: 12})

			assert.Nil(t, output)
			assert.True(t, errors.IsCode(err, tt.wantCode))
			assert.Equal(t, tt.wantRetries, errors.ConvertToBPMNError(errors.Normalize(err)).Retries)
		})
	}
}

func TestHandler_UnrecordedPaymentCarriesBlockIndex(t *testing.T) {
	payer := new(MockPayer)
	payer.On("Pay", mock.Anything, int64(12)).
		Return(models.SucceededReceipt(42, "100", "transferred"), errors.NewPaymentUnrecordedError(12, 42, assert.AnError))
	h := newTestHandler(t, payer)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: 12})

	vars := errors.ConvertToBPMNError(errors.Normalize(err)).ToErrorVariables()
	assert.Equal(t, uint64(42), vars["blockIndex"])
	assert.Equal(t, "AMBIGUOUS", vars["errorCategory"])
}
