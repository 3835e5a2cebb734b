package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/orchestrator"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSNS struct {
	mock.Mock
}

func (m *MockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

type MockSES struct {
	mock.Mock
}

func (m *MockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ses.SendEmailOutput), args.Error(1)
}

func newTestNotifier(t *testing.T, snsClient *MockSNS, sesClient *MockSES) *Notifier {
	n := New(snsClient, sesClient, Options{
		TopicARN:      "arn:aws:sns:eu-west-1:123:settlement",
		FromEmail:     "noreply@franchise.example",
		OperatorEmail: "ops@franchise.example",
	}, logger.NewTestLogger(t))
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	n.newID = func() string { return "evt-1" }
	return n
}

func decodeEvent(t *testing.T, input *sns.PublishInput) Event {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(*input.Message), &ev))
	return ev
}

func TestPaymentRecorded_PublishesEvent(t *testing.T) {
	snsClient := new(MockSNS)
	var published *sns.PublishInput
	snsClient.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).(*sns.PublishInput) }).
		Return(&sns.PublishOutput{}, nil)

	n := newTestNotifier(t, snsClient, new(MockSES))
	require.NoError(t, n.PaymentRecorded(context.Background(), 12, 42))

	require.NotNil(t, published)
	assert.Equal(t, "arn:aws:sns:eu-west-1:123:settlement", *published.TopicArn)
	assert.Equal(t, EventPaymentRecorded, *published.MessageAttributes["eventType"].StringValue)

	ev := decodeEvent(t, published)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, int64(12), ev.ApplicationID)
	assert.Equal(t, float64(42), ev.Data["blockIndex"])
}

func TestLicenseIssued_PublishesOwnerAndToken(t *testing.T) {
	snsClient := new(MockSNS)
	var published *sns.PublishInput
	snsClient.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).(*sns.PublishInput) }).
		Return(&sns.PublishOutput{}, nil)

	n := newTestNotifier(t, snsClient, new(MockSES))
	err := n.LicenseIssued(context.Background(),
		models.Application{ID: 12, FranchiseID: "F"},
		models.LicenseToken{TokenID: 7, Owner: "acct-a"})
	require.NoError(t, err)

	ev := decodeEvent(t, published)
	assert.Equal(t, EventLicenseIssued, ev.Type)
	assert.Equal(t, "acct-a", ev.Data["owner"])
	assert.Equal(t, float64(7), ev.Data["tokenId"])
}

func TestSettlementStalled_EmailsOperator(t *testing.T) {
	snsClient := new(MockSNS)
	snsClient.On("Publish", mock.Anything, mock.Anything).Return(&sns.PublishOutput{}, nil)
	sesClient := new(MockSES)
	var sent *ses.SendEmailInput
	sesClient.On("SendEmail", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*ses.SendEmailInput) }).
		Return(&ses.SendEmailOutput{}, nil)

	token := uint64(7)
	n := newTestNotifier(t, snsClient, sesClient)
	err := n.SettlementStalled(context.Background(), &orchestrator.StepError{
		ApplicationID: 12,
		Step:          orchestrator.StepTransfer,
		TokenID:       &token,
		Err:           errors.NewReconciliationRequiredError("transfer failed", nil),
	})
	require.NoError(t, err)

	require.NotNil(t, sent)
	assert.Equal(t, []string{"ops@franchise.example"}, sent.Destination.ToAddresses)
	assert.Contains(t, *sent.Message.Subject.Data, "application 12 stopped at transfer")
	assert.Contains(t, *sent.Message.Body.Text.Data, "resumeFrom=transfer and tokenId=7")
	snsClient.AssertNumberOfCalls(t, "Publish", 1)
}

func TestSettlementStalled_EmailSentEvenWhenPublishFails(t *testing.T) {
	snsClient := new(MockSNS)
	snsClient.On("Publish", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	sesClient := new(MockSES)
	sesClient.On("SendEmail", mock.Anything, mock.Anything).Return(&ses.SendEmailOutput{}, nil)

	n := newTestNotifier(t, snsClient, sesClient)
	err := n.SettlementStalled(context.Background(), &orchestrator.StepError{
		ApplicationID: 12,
		Step:          orchestrator.StepMint,
		Ambiguous:     true,
		Err:           errors.NewAmbiguousOutcomeError("license_registry", "mint", assert.AnError),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish settlement_stalled")
	sesClient.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestStaleApplications(t *testing.T) {
	sesClient := new(MockSES)
	var sent *ses.SendEmailInput
	sesClient.On("SendEmail", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*ses.SendEmailInput) }).
		Return(&ses.SendEmailOutput{}, nil)

	n := New(nil, sesClient, Options{FromEmail: "noreply@x", OperatorEmail: "ops@x"}, logger.NewTestLogger(t))

	require.NoError(t, n.StaleApplications(context.Background(), nil))
	sesClient.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)

	err := n.StaleApplications(context.Background(), []models.Application{
		{ID: 3, Status: models.StatusPaid},
		{ID: 4, Status: models.StatusAwaitingIssuance},
	})
	require.NoError(t, err)
	assert.Equal(t, "2 stale franchise applications", *sent.Message.Subject.Data)
	assert.Contains(t, *sent.Message.Body.Text.Data, "application 4  status=awaiting_issuance")
}

func TestNew_DisablesUnconfiguredChannels(t *testing.T) {
	snsClient := new(MockSNS)
	sesClient := new(MockSES)
	n := New(snsClient, sesClient, Options{}, logger.NewNoOpLogger())

	require.NoError(t, n.PaymentRecorded(context.Background(), 1, 1))
	require.NoError(t, n.StaleApplications(context.Background(), []models.Application{{ID: 1}}))
	snsClient.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	sesClient.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}
