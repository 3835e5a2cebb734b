// Package review lets a franchisor approve or reject a submitted application.
// Decisions are single-shot: failures are returned to the caller and never retried here.
package review

import (
	"context"
	"strings"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/settlement/application"
)

type Adapter struct {
	registry application.Registry
	logger   logger.Logger
}

func NewAdapter(registry application.Registry, log logger.Logger) *Adapter {
	return &Adapter{registry: registry, logger: log}
}

// Approve moves a submitted application to pending payment. The registry checks that
// caller owns the franchise.
func (a *Adapter) Approve(ctx context.Context, applicationID int64, caller string) error {
	log := a.logger.WithFields(map[string]interface{}{"applicationId": applicationID, "caller": caller})

	if err := a.registry.Approve(ctx, applicationID, caller); err != nil {
		log.Warn("approve failed", map[string]interface{}{"errorCode": string(errors.CodeOf(err)), "error": err.Error()})
		return err
	}

	log.Info("application approved", nil)
	return nil
}

// Reject moves a submitted application to rejected, storing reason.
func (a *Adapter) Reject(ctx context.Context, applicationID int64, caller, reason string) error {
	log := a.logger.WithFields(map[string]interface{}{"applicationId": applicationID, "caller": caller})

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.NewRejectionReasonRequiredError(applicationID)
	}

	if err := a.registry.Reject(ctx, applicationID, caller, reason); err != nil {
		log.Warn("reject failed", map[string]interface{}{"errorCode": string(errors.CodeOf(err)), "error": err.Error()})
		return err
	}

	log.Info("application rejected", map[string]interface{}{"reason": reason})
	return nil
}
