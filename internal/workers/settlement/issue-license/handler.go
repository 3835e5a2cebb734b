// Package issuelicense settles a paid application into an issued license.
package issuelicense

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/common/metrics"
	"franchise-license-workers/internal/common/observability"
	"franchise-license-workers/internal/common/validation"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/orchestrator"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
)

const TaskType = "issue-license"

type Handler struct {
	config       *Config
	logger       logger.Logger
	settler      Settler
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	AppConfig     *config.Config
	CustomConfig  *Config
	Settler       Settler
	Observability *observability.Observability
	Logger        logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Settler == nil {
		return nil, fmt.Errorf("%s: settler is required", TaskType)
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
		settler:      opts.Settler,
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

	jobErr := jobError(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(jobErr.Code)).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, jobErr)
}

// Execute settles the application, or resumes it from the requested step.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, span := h.obs.StartSpan(ctx, "issue-license.execute",
		attribute.Int64("application.id", input.ApplicationID),
		attribute.String("settlement.resume_from", input.ResumeFrom),
	)
	defer span.End()

	var (
		result *orchestrator.Result
		err    error
	)
	if input.ResumeFrom == "" {
		result, err = h.settler.Settle(ctx, input.ApplicationID)
	} else {
		var step orchestrator.Step
		step, err = orchestrator.ParseStep(input.ResumeFrom)
		if err != nil {
			return nil, err
		}
		var tokenID uint64
		if input.TokenID != nil {
			tokenID = *input.TokenID
		}
		result, err = h.settler.Resume(ctx, input.ApplicationID, step, tokenID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &Output{
		ApplicationID:     result.ApplicationID,
		ApplicationStatus: string(models.StatusIssued),
		LicenseTokenID:    result.TokenID,
		LicenseOwner:      result.Owner,
		AlreadyIssued:     result.AlreadyIssued,
	}, nil
}

// jobError flattens a step failure so the step and token id reach the process variables.
func jobError(err error) *errors.StandardError {
	var stepErr *orchestrator.StepError
	if stderrors.As(err, &stepErr) {
		return stepErr.StandardError()
	}
	return errors.Normalize(err)
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
			"jobKey":        job.GetKey(),
			"applicationId": output.ApplicationID,
			"error":         err.Error(),
		})
		return
	}

	h.logger.Info("license issued", map[string]interface{}{
		"jobKey":         job.GetKey(),
		"applicationId":  output.ApplicationID,
		"licenseTokenId": output.LicenseTokenID,
		"alreadyIssued":  output.AlreadyIssued,
	})
}
