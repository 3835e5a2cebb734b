package issuelicense

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/settlement/orchestrator"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSettler struct {
	mock.Mock
}

func (m *MockSettler) Settle(ctx context.Context, applicationID int64) (*orchestrator.Result, error) {
	args := m.Called(ctx, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Result), args.Error(1)
}

func (m *MockSettler) Resume(ctx context.Context, applicationID int64, step orchestrator.Step, tokenID uint64) (*orchestrator.Result, error) {
	args := m.Called(ctx, applicationID, step, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Result), args.Error(1)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "franchise-application",
		ElementId:          "Activity_IssueLicense",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T, settler Settler) *Handler {
	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Settler:      settler,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, new(MockSettler))

	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   bool
		validate  func(*testing.T, *Input)
	}{
		{
			name:      "fresh settlement",
			variables: map[string]interface{}{"applicationId": 12, "paymentSuccess": true},
			validate: func(t *testing.T, in *Input) {
				assert.Equal(t, int64(12), in.ApplicationID)
				assert.Empty(t, in.ResumeFrom)
				assert.Nil(t, in.TokenID)
			},
		},
		{
			name:      "resume transfer with token",
			variables: map[string]interface{}{"applicationId": 12, "resumeFrom": "transfer", "tokenId": 7},
			validate: func(t *testing.T, in *Input) {
				assert.Equal(t, "transfer", in.ResumeFrom)
				require.NotNil(t, in.TokenID)
				assert.Equal(t, uint64(7), *in.TokenID)
			},
		},
		{
			name:      "resume mint without token",
			variables: map[string]interface{}{"applicationId": 12, "resumeFrom": "mint"},
			validate: func(t *testing.T, in *Input) {
				assert.Nil(t, in.TokenID)
			},
		},
		{
			name:      "resume transfer without token",
			variables: map[string]interface{}{"applicationId": 12, "resumeFrom": "transfer"},
			wantErr:   true,
		},
		{
			name:      "resume mark_issued without token",
			variables: map[string]interface{}{"applicationId": 12, "resumeFrom": "mark_issued"},
			wantErr:   true,
		},
		{
			name:      "unknown step",
			variables: map[string]interface{}{"applicationId": 12, "resumeFrom": "refund"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := h.parseInput(createMockJob(1, tt.variables))
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			tt.validate(t, input)
		})
	}
}

func TestHandler_ExecuteSettle(t *testing.T) {
	settler := new(MockSettler)
	settler.On("Settle", mock.Anything, int64(12)).
		Return(&orchestrator.Result{ApplicationID: 12, TokenID: 7, Owner: "acct-a"}, nil)
	h := newTestHandler(t, settler)

	output, err := h.Execute(context.Background(), &Input{ApplicationID: 12})

	require.NoError(t, err)
	assert.Equal(t, uint64(7), output.LicenseTokenID)
	assert.Equal(t, "acct-a", output.LicenseOwner)
	assert.Equal(t, "issued", output.ApplicationStatus)
	assert.False(t, output.AlreadyIssued)
	settler.AssertExpectations(t)
}

func TestHandler_ExecuteResume(t *testing.T) {
	token := uint64(7)
	settler := new(MockSettler)
	settler.On("Resume", mock.Anything, int64(12), orchestrator.StepTransfer, uint64(7)).
		Return(&orchestrator.Result{ApplicationID: 12, TokenID: 7, Owner: "acct-a"}, nil)
	h := newTestHandler(t, settler)

	output, err := h.Execute(context.Background(), &Input{ApplicationID: 12, ResumeFrom: "transfer", TokenID: &token})

	require.NoError(t, err)
	assert.Equal(t, uint64(7), output.LicenseTokenID)
	settler.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything)
}

func TestHandler_ExecuteRejectsUnknownStep(t *testing.T) {
	settler := new(MockSettler)
	h := newTestHandler(t, settler)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: 12, ResumeFrom: "refund"})

	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	settler.AssertExpectations(t)
}

func TestJobError_StepContextReachesVariables(t *testing.T) {
	token := uint64(7)
	stepErr := &orchestrator.StepError{
		ApplicationID: 12,
		Step:          orchestrator.StepTransfer,
		TokenID:       &token,
		Err:           errors.NewReconciliationRequiredError("transfer failed", assert.AnError),
	}
	settler := new(MockSettler)
	settler.On("Settle", mock.Anything, int64(12)).Return(nil, fmt.Errorf("settle: %w", stepErr))
	h := newTestHandler(t, settler)

	_, err := h.Execute(context.Background(), &Input{ApplicationID: 12})
	require.Error(t, err)

	jobErr := jobError(err)
	assert.Equal(t, errors.ErrCodeReconciliationRequired, jobErr.Code)

	vars := errors.ConvertToBPMNError(jobErr).ToErrorVariables()
	assert.Equal(t, "transfer", vars["step"])
	assert.Equal(t, uint64(7), vars["tokenId"])
	assert.Equal(t, int64(12), vars["applicationId"])
	assert.Equal(t, false, vars["ambiguous"])
}

func TestJobError_PlainErrorsAreNormalized(t *testing.T) {
	jobErr := jobError(errors.NewSettlementLockedError(12))
	assert.Equal(t, errors.ErrCodeSettlementLocked, jobErr.Code)
	assert.Equal(t, 2, errors.ConvertToBPMNError(jobErr).Retries)
}

func TestJobError_NoRetriesOnceTokenMinted(t *testing.T) {
	token := uint64(7)
	dbDown := errors.NewDatabaseConnectionFailedError(assert.AnError)

	tests := []struct {
		name        string
		stepErr     *orchestrator.StepError
		wantRetries int
	}{
		{
			name:        "complete before mint",
			stepErr:     &orchestrator.StepError{ApplicationID: 12, Step: orchestrator.StepComplete, Err: dbDown},
			wantRetries: 3,
		},
		{
			name:        "mark issued after mint",
			stepErr:     &orchestrator.StepError{ApplicationID: 12, Step: orchestrator.StepMarkIssued, TokenID: &token, Err: dbDown},
			wantRetries: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settler := new(MockSettler)
			settler.On("Settle", mock.Anything, int64(12)).Return(nil, tt.stepErr)
			h := newTestHandler(t, settler)

			_, err := h.Execute(context.Background(), &Input{ApplicationID: 12})
			require.Error(t, err)

			bpmnErr := errors.ConvertToBPMNError(jobError(err))
			assert.Equal(t, string(errors.ErrCodeDatabaseConnectionFailed), bpmnErr.Code)
			assert.Equal(t, tt.wantRetries, bpmnErr.Retries)
			settler.AssertExpectations(t)
		})
	}
}
