package reviewapplication

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks and helpers
// ==========================

type MockReviewer struct {
	mock.Mock
}

func (m *MockReviewer) Approve(ctx context.Context, applicationID int64, caller string) error {
	return m.Called(ctx, applicationID, caller).Error(0)
}

func (m *MockReviewer) Reject(ctx context.Context, applicationID int64, caller, reason string) error {
	return m.Called(ctx, applicationID, caller, reason).Error(0)
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "franchise-application",
		ElementId:          "Activity_ReviewApplication",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func newTestHandler(t *testing.T, reviewer Reviewer) *Handler {
	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Reviewer:     reviewer,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

// ==========================
// Handler construction
// ==========================

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name    string
		opts    HandlerOptions
		wantErr string
	}{
		{
			name: "valid",
			opts: HandlerOptions{CustomConfig: DefaultConfig(), Reviewer: new(MockReviewer)},
		},
		{
			name:    "missing reviewer",
			opts:    HandlerOptions{CustomConfig: DefaultConfig()},
			wantErr: "reviewer is required",
		},
		{
			name: "invalid timeout",
			opts: HandlerOptions{
				CustomConfig: &Config{Enabled: true, MaxJobsActive: 5, Timeout: -time.Second},
				Reviewer:     new(MockReviewer),
			},
			wantErr: "timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, h.logger)
			assert.NotNil(t, h.obs)
		})
	}
}

// ==========================
// Input parsing
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, new(MockReviewer))

	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   bool
		validate  func(*testing.T, *Input)
	}{
		{
			name: "approve with extra process variables",
			variables: map[string]interface{}{
				"applicationId": 12,
				"callerAccount": "acct-owner",
				"decision":      "approve",
				"franchiseName": "Coffee Corner",
			},
			validate: func(t *testing.T, in *Input) {
				assert.Equal(t, int64(12), in.ApplicationID)
				assert.Equal(t, "acct-owner", in.CallerAccount)
				assert.Equal(t, DecisionApprove, in.Decision)
			},
		},
		{
			name: "reject with reason",
			variables: map[string]interface{}{
				"applicationId": 12,
				"callerAccount": "acct-owner",
				"decision":      "reject",
				"reason":        "territory taken",
			},
			validate: func(t *testing.T, in *Input) {
				assert.Equal(t, "territory taken", in.Reason)
			},
		},
		{
			name: "reject without reason",
			variables: map[string]interface{}{
				"applicationId": 12, "callerAccount": "acct-owner", "decision": "reject",
			},
			wantErr: true,
		},
		{
			name:      "missing application id",
			variables: map[string]interface{}{"callerAccount": "acct-owner", "decision": "approve"},
			wantErr:   true,
		},
		{
			name: "unknown decision",
			variables: map[string]interface{}{
				"applicationId": 12, "callerAccount": "acct-owner", "decision": "defer",
			},
			wantErr: true,
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

// ==========================
// Execute
// ==========================

func TestHandler_ExecuteApprove(t *testing.T) {
	reviewer := new(MockReviewer)
	reviewer.On("Approve", mock.Anything, int64(12), "acct-owner").Return(nil)
	h := newTestHandler(t, reviewer)

	output, err := h.Execute(context.Background(), &Input{
		ApplicationID: 12, CallerAccount: "acct-owner", Decision: DecisionApprove,
	})

	require.NoError(t, err)
	assert.Equal(t, "pending_payment", output.ApplicationStatus)
	assert.Equal(t, int64(12), output.ApplicationID)
	reviewer.AssertExpectations(t)
}

func TestHandler_ExecuteReject(t *testing.T) {
	reviewer := new(MockReviewer)
	reviewer.On("Reject", mock.Anything, int64(12), "acct-owner", "territory taken").Return(nil)
	h := newTestHandler(t, reviewer)

	output, err := h.Execute(context.Background(), &Input{
		ApplicationID: 12, CallerAccount: "acct-owner", Decision: DecisionReject, Reason: "territory taken",
	})

	require.NoError(t, err)
	assert.Equal(t, "rejected", output.ApplicationStatus)
}

func TestHandler_ExecutePropagatesPreconditionErrors(t *testing.T) {
	reviewer := new(MockReviewer)
	reviewer.On("Approve", mock.Anything, int64(12), "acct-stranger").
		Return(errors.NewNotAuthorizedError(12, "acct-stranger"))
	h := newTestHandler(t, reviewer)

	output, err := h.Execute(context.Background(), &Input{
		ApplicationID: 12, CallerAccount: "acct-stranger", Decision: DecisionApprove,
	})

	assert.Nil(t, output)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotAuthorized))
	assert.Equal(t, 0, errors.ConvertToBPMNError(errors.Normalize(err)).Retries)
}
