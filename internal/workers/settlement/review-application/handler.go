// Package reviewapplication applies a franchisor's approve or reject decision.
package reviewapplication

import (
	"context"
	"fmt"
	"time"

	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/common/metrics"
	"franchise-license-workers/internal/common/observability"
	"franchise-license-workers/internal/common/validation"
	"franchise-license-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "review-application"

type Handler struct {
	config       *Config
	logger       logger.Logger
	reviewer     Reviewer
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	AppConfig     *config.Config
	CustomConfig  *Config
	Reviewer      Reviewer
	Observability *observability.Observability
	Logger        logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Reviewer == nil {
		return nil, fmt.Errorf("%s: reviewer is required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	obs := opts.Observability
	if obs == nil {
		obs = observability.NewNoop()
	}

	return &Handler{
		config:       cfg,
		logger:       log,
		reviewer:     opts.Reviewer,
		errorHandler: errors.NewErrorHandler(log),
		obs:          obs,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			h.obs.RecordJobProcessed(ctx, TaskType, "completed")
			h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "completed")
			return
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

// Execute applies the decision. A failed decision is never retried here: the process
// surfaces the error and the franchisor may decide again.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	var (
		err    error
		status models.ApplicationStatus
	)
	switch input.Decision {
	case DecisionApprove:
		err = h.reviewer.Approve(ctx, input.ApplicationID, input.CallerAccount)
		status = models.StatusPendingPayment
	case DecisionReject:
		err = h.reviewer.Reject(ctx, input.ApplicationID, input.CallerAccount, input.Reason)
		status = models.StatusRejected
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown decision %q", input.Decision))
	}
	if err != nil {
		return nil, err
	}

	return &Output{
		ApplicationID:     input.ApplicationID,
		ApplicationStatus: string(status),
		Decision:          input.Decision,
		ReviewedAt:        time.Now().UTC(),
	}, nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse job variables: %v", err))
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("validation errors: %v", result.GetErrorMessages()))
	}

	var input Input
	if err := job.GetVariablesAs(&input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("decode job variables: %v", err))
	}
	return &input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	h.logger.Info("review applied", map[string]interface{}{
		"jobKey":            job.GetKey(),
		"applicationId":     output.ApplicationID,
		"applicationStatus": output.ApplicationStatus,
	})
}
