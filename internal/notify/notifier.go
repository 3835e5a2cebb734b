// Package notify publishes settlement events to SNS and emails operators through SES when
// a settlement needs manual attention.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"franchise-license-workers/internal/common/aws"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/orchestrator"

	"github.com/google/uuid"
)

const (
	EventPaymentRecorded   = "payment_recorded"
	EventLicenseIssued     = "license_issued"
	EventSettlementStalled = "settlement_stalled"
	EventApplicationsStale = "applications_stale"
)

// Event is the JSON body published to the settlement topic.
type Event struct {
	ID            string                 `json:"eventId"`
	Type          string                 `json:"type"`
	ApplicationID int64                  `json:"applicationId,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

type Options struct {
	TopicARN      string
	FromEmail     string
	OperatorEmail string
}

// Notifier fans settlement outcomes out to SNS and operator email. Either client may be nil,
// which disables that channel.
type Notifier struct {
	sns    aws.SNSAPI
	ses    aws.SESAPI
	opts   Options
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

func New(snsClient aws.SNSAPI, sesClient aws.SESAPI, opts Options, log logger.Logger) *Notifier {
	if opts.TopicARN == "" {
		snsClient = nil
	}
	if opts.FromEmail == "" || opts.OperatorEmail == "" {
		sesClient = nil
	}
	return &Notifier{
		sns:    snsClient,
		ses:    sesClient,
		opts:   opts,
		logger: log,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

func (n *Notifier) PaymentRecorded(ctx context.Context, applicationID int64, blockIndex uint64) error {
	return n.publish(ctx, EventPaymentRecorded, applicationID, map[string]interface{}{
		"blockIndex": blockIndex,
	})
}

func (n *Notifier) LicenseIssued(ctx context.Context, app models.Application, token models.LicenseToken) error {
	return n.publish(ctx, EventLicenseIssued, app.ID, map[string]interface{}{
		"tokenId":     token.TokenID,
		"owner":       token.Owner,
		"franchiseId": app.FranchiseID,
	})
}

// SettlementStalled publishes the event and emails the operator. Both are attempted; the
// first error is returned.
func (n *Notifier) SettlementStalled(ctx context.Context, stepErr *orchestrator.StepError) error {
	data := map[string]interface{}{
		"step":      string(stepErr.Step),
		"ambiguous": stepErr.Ambiguous,
		"error":     stepErr.Err.Error(),
	}
	if stepErr.TokenID != nil {
		data["tokenId"] = *stepErr.TokenID
	}
	pubErr := n.publish(ctx, EventSettlementStalled, stepErr.ApplicationID, data)

	subject := fmt.Sprintf("Settlement of application %d stopped at %s", stepErr.ApplicationID, stepErr.Step)
	var body strings.Builder
	fmt.Fprintf(&body, "%s\n\n", stepErr.Error())
	if stepErr.Ambiguous {
		body.WriteString("The outcome of the last remote call is unknown. Check the license registry before resuming.\n")
	}
	if stepErr.TokenID != nil {
		fmt.Fprintf(&body, "Resume with resumeFrom=%s and tokenId=%d.\n", stepErr.Step, *stepErr.TokenID)
	} else {
		fmt.Fprintf(&body, "Resume with resumeFrom=%s.\n", stepErr.Step)
	}
	mailErr := n.email(ctx, subject, body.String())

	if pubErr != nil {
		return pubErr
	}
	return mailErr
}

// StaleApplications alerts the operator about applications stuck between payment and issuance.
func (n *Notifier) StaleApplications(ctx context.Context, apps []models.Application) error {
	if len(apps) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(apps))
	var body strings.Builder
	body.WriteString("These applications have not progressed and need a settlement run or reconciliation:\n\n")
	for _, app := range apps {
		ids = append(ids, app.ID)
		fmt.Fprintf(&body, "  application %d  status=%s  updated=%s\n",
			app.ID, app.Status, app.UpdatedAt.UTC().Format(time.RFC3339))
	}

	pubErr := n.publish(ctx, EventApplicationsStale, 0, map[string]interface{}{"applicationIds": ids})
	mailErr := n.email(ctx, fmt.Sprintf("%d stale franchise applications", len(apps)), body.String())
	if pubErr != nil {
		return pubErr
	}
	return mailErr
}

func (n *Notifier) publish(ctx context.Context, eventType string, applicationID int64, data map[string]interface{}) error {
	if n.sns == nil {
		return nil
	}
	event := Event{
		ID:            n.newID(),
		Type:          eventType,
		ApplicationID: applicationID,
		OccurredAt:    n.now().UTC(),
		Data:          data,
	}
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	input := aws.TopicMessage(n.opts.TopicARN, eventType, string(msg), map[string]string{
		"eventType": eventType,
	})
	if _, err := n.sns.Publish(ctx, input); err != nil {
		n.logger.Warn("failed to publish settlement event", map[string]interface{}{
			"eventId":       event.ID,
			"eventType":     eventType,
			"applicationId": applicationID,
			"error":         err.Error(),
		})
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	n.logger.Debug("settlement event published", map[string]interface{}{
		"eventId":   event.ID,
		"eventType": eventType,
	})
	return nil
}

func (n *Notifier) email(ctx context.Context, subject, body string) error {
	if n.ses == nil {
		return nil
	}
	if _, err := n.ses.SendEmail(ctx, aws.TextEmail(n.opts.FromEmail, n.opts.OperatorEmail, subject, body)); err != nil {
		n.logger.Warn("failed to email operator", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
		return fmt.Errorf("email operator: %w", err)
	}
	return nil
}
