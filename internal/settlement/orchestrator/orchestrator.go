// Package orchestrator turns a paid application into an issued license owned by the
// applicant: complete the application, mint the license, move it to the applicant if it was
// minted elsewhere, mark the application issued.
//
// Steps run strictly in order and nothing is compensated. The minted token id is recorded on
// the application before anything else happens, so re-running Settle never mints twice: complete
// is a guarded no-op and mint is skipped once a token is recorded. A failed step stops the
// sequence with a *StepError naming the step; the operator can Resume from it once remote state
// has been checked.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/common/metrics"
	"franchise-license-workers/internal/common/observability"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/application"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LicenseRegistry is the part of the license registry client the orchestrator uses.
type LicenseRegistry interface {
	Mint(ctx context.Context, req models.MintRequest) (uint64, error)
	Transfer(ctx context.Context, tokenID uint64, to string) error
	OwnerOf(ctx context.Context, tokenID uint64) (string, bool, error)
	Metadata(ctx context.Context, tokenIDs []uint64) ([]models.LicenseToken, error)
}

// Notifier publishes settlement outcomes. Errors are logged and never fail a settlement.
type Notifier interface {
	LicenseIssued(ctx context.Context, app models.Application, token models.LicenseToken) error
	SettlementStalled(ctx context.Context, stepErr *StepError) error
}

// Indexer makes issued licenses searchable. Errors are logged only.
type Indexer interface {
	IndexLicense(ctx context.Context, token models.LicenseToken, applicationID int64) error
}

type Options struct {
	// MintTarget is the account licenses are minted to. Empty mints straight to the applicant.
	MintTarget   string
	TokenURIBase string
	LockTTL      time.Duration
}

// OptionsFromConfig maps the settlement config section onto orchestrator options.
func OptionsFromConfig(cfg config.SettlementConfig) Options {
	return Options{
		MintTarget:   cfg.MintTarget,
		TokenURIBase: cfg.TokenURIBase,
		LockTTL:      config.GetDuration(cfg.LockTTL),
	}
}

// Result describes a settled application.
type Result struct {
	ApplicationID int64  `json:"applicationId"`
	TokenID       uint64 `json:"tokenId"`
	Owner         string `json:"owner"`
	// AlreadyIssued is set when the application was issued before this call.
	AlreadyIssued bool `json:"alreadyIssued"`
}

type Orchestrator struct {
	registry application.Registry
	licenses LicenseRegistry
	locker   Locker
	notifier Notifier
	indexer  Indexer
	obs      *observability.Observability
	opts     Options
	logger   logger.Logger
	now      func() time.Time
}

func New(registry application.Registry, licenses LicenseRegistry, opts Options, log logger.Logger) *Orchestrator {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Orchestrator{
		registry: registry,
		licenses: licenses,
		locker:   NopLocker{},
		opts:     opts,
		logger:   log,
		now:      time.Now,
	}
}

func (o *Orchestrator) WithLocker(l Locker) *Orchestrator {
	o.locker = l
	return o
}

func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	o.notifier = n
	return o
}

func (o *Orchestrator) WithIndexer(i Indexer) *Orchestrator {
	o.indexer = i
	return o
}

func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// Settle runs the full sequence for a paid application. Re-running it after a mint failure
// skips completion and mints again; after a recorded mint it continues from transfer with the
// recorded token. An application that is already issued is reported as settled without any
// remote call.
func (o *Orchestrator) Settle(ctx context.Context, applicationID int64) (*Result, error) {
	release, err := o.locker.Acquire(ctx, applicationID, o.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer o.release(ctx, applicationID, release)

	app, err := o.registry.Get(ctx, applicationID)
	if err != nil {
		return nil, o.stalled(ctx, &StepError{ApplicationID: applicationID, Step: StepComplete, Err: err})
	}
	if done, ok := alreadyIssued(app); ok {
		return done, nil
	}

	if err := o.run(ctx, app.ID, StepComplete, func(ctx context.Context) (string, error) {
		applied, err := o.registry.CompleteApplication(ctx, app.ID)
		if err != nil {
			return "", err
		}
		if !applied {
			return "skipped", nil
		}
		return "ok", nil
	}); err != nil {
		return nil, o.stalled(ctx, &StepError{ApplicationID: app.ID, Step: StepComplete, Err: err})
	}

	if app.LicenseTokenID != nil {
		o.logger.Info("license already minted, continuing settlement", map[string]interface{}{
			"applicationId": app.ID,
			"tokenId":       *app.LicenseTokenID,
		})
		return o.finish(ctx, app, StepTransfer, *app.LicenseTokenID)
	}

	var tokenID uint64
	if err := o.run(ctx, app.ID, StepMint, func(ctx context.Context) (string, error) {
		req, err := o.mintRequest(ctx, app)
		if err != nil {
			return "", err
		}
		tokenID, err = o.licenses.Mint(ctx, req)
		if err != nil {
			return "", err
		}
		return "ok", nil
	}); err != nil {
		return nil, o.stalled(ctx, &StepError{
			ApplicationID: app.ID,
			Step:          StepMint,
			Ambiguous:     isAmbiguous(err),
			Err:           err,
		})
	}
	o.logger.Info("license minted", map[string]interface{}{
		"applicationId": app.ID,
		"tokenId":       tokenID,
		"mintedTo":      o.mintTarget(app),
	})

	if _, err := o.registry.RecordLicenseToken(ctx, app.ID, tokenID); err != nil {
		return nil, o.stalled(ctx, &StepError{
			ApplicationID: app.ID,
			Step:          StepTransfer,
			TokenID:       &tokenID,
			Err: errors.NewReconciliationRequiredError(
				fmt.Sprintf("token %d minted, recording it on application %d failed", tokenID, app.ID), err),
		})
	}
	app.LicenseTokenID = &tokenID

	return o.finish(ctx, app, StepTransfer, tokenID)
}

// Resume continues a stalled settlement from step. complete and mint restart the sequence;
// transfer and mark_issued need the token id the mint returned.
func (o *Orchestrator) Resume(ctx context.Context, applicationID int64, step Step, tokenID uint64) (*Result, error) {
	switch step {
	case StepComplete, StepMint:
		return o.Settle(ctx, applicationID)
	case StepTransfer, StepMarkIssued:
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("cannot resume from step %q", step))
	}

	release, err := o.locker.Acquire(ctx, applicationID, o.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer o.release(ctx, applicationID, release)

	app, err := o.registry.Get(ctx, applicationID)
	if err != nil {
		return nil, o.stalled(ctx, &StepError{ApplicationID: applicationID, Step: step, TokenID: &tokenID, Err: err})
	}
	if done, ok := alreadyIssued(app); ok {
		if done.TokenID != tokenID {
			return nil, errors.NewInvalidInputError(fmt.Sprintf(
				"application %d was issued with token %d, not %d", app.ID, done.TokenID, tokenID))
		}
		return done, nil
	}
	if app.Status != models.StatusAwaitingIssuance {
		return nil, errors.NewInvalidStateError(app.ID, string(app.Status), string(models.StatusAwaitingIssuance))
	}
	if app.LicenseTokenID != nil && *app.LicenseTokenID != tokenID {
		return nil, errors.NewInvalidInputError(fmt.Sprintf(
			"application %d has minted token %d recorded, not %d", app.ID, *app.LicenseTokenID, tokenID))
	}
	if app.LicenseTokenID == nil {
		if err := o.verifyToken(ctx, app, tokenID); err != nil {
			return nil, err
		}
		if _, err := o.registry.RecordLicenseToken(ctx, app.ID, tokenID); err != nil {
			return nil, o.stalled(ctx, &StepError{ApplicationID: app.ID, Step: step, TokenID: &tokenID, Err: err})
		}
		app.LicenseTokenID = &tokenID
	}

	o.logger.Info("resuming settlement", map[string]interface{}{
		"applicationId": app.ID,
		"step":          string(step),
		"tokenId":       tokenID,
	})
	return o.finish(ctx, app, step, tokenID)
}

// finish runs the steps after mint, starting at from.
func (o *Orchestrator) finish(ctx context.Context, app *models.Application, from Step, tokenID uint64) (*Result, error) {
	if from == StepTransfer {
		if err := o.run(ctx, app.ID, StepTransfer, func(ctx context.Context) (string, error) {
			return o.transferLicense(ctx, app, tokenID)
		}); err != nil {
			return nil, o.stalled(ctx, &StepError{
				ApplicationID: app.ID,
				Step:          StepTransfer,
				TokenID:       &tokenID,
				Ambiguous:     isAmbiguous(err),
				Err:           err,
			})
		}
	}

	if err := o.run(ctx, app.ID, StepMarkIssued, func(ctx context.Context) (string, error) {
		applied, err := o.registry.MarkIssued(ctx, app.ID, tokenID)
		if err != nil {
			return "", err
		}
		if !applied {
			return "skipped", nil
		}
		return "ok", nil
	}); err != nil {
		return nil, o.stalled(ctx, &StepError{
			ApplicationID: app.ID,
			Step:          StepMarkIssued,
			TokenID:       &tokenID,
			Ambiguous:     isAmbiguous(err),
			Err:           err,
		})
	}

	app.Status = models.StatusIssued
	app.LicenseTokenID = &tokenID
	o.published(ctx, app, tokenID)

	o.logger.Info("license issued", map[string]interface{}{
		"applicationId": app.ID,
		"tokenId":       tokenID,
		"owner":         app.ApplicantAccount,
	})
	return &Result{ApplicationID: app.ID, TokenID: tokenID, Owner: app.ApplicantAccount}, nil
}

// verifyToken checks that an operator-supplied token exists and licenses the application's
// franchise before it is recorded.
func (o *Orchestrator) verifyToken(ctx context.Context, app *models.Application, tokenID uint64) error {
	tokens, err := o.licenses.Metadata(ctx, []uint64{tokenID})
	if err != nil {
		return o.stalled(ctx, &StepError{ApplicationID: app.ID, Step: StepTransfer, TokenID: &tokenID, Err: err})
	}
	for _, tok := range tokens {
		if tok.TokenID != tokenID {
			continue
		}
		if tok.FranchiseID != app.FranchiseID {
			return errors.NewInvalidInputError(fmt.Sprintf(
				"token %d licenses franchise %s, application %d is for %s", tokenID, tok.FranchiseID, app.ID, app.FranchiseID))
		}
		return nil
	}
	return errors.NewInvalidInputError(fmt.Sprintf("token %d is unknown to the license registry", tokenID))
}

// transferLicense moves the token to the applicant unless it already belongs to them.
// Any failure after the mint needs a human: the token exists and must not be minted again.
func (o *Orchestrator) transferLicense(ctx context.Context, app *models.Application, tokenID uint64) (string, error) {
	if o.mintTarget(app) == app.ApplicantAccount {
		return "skipped", nil
	}

	owner, found, err := o.licenses.OwnerOf(ctx, tokenID)
	if err != nil {
		return "", errors.NewReconciliationRequiredError(
			fmt.Sprintf("token %d minted, owner could not be read", tokenID), err)
	}
	if !found {
		return "", errors.NewReconciliationRequiredError(
			fmt.Sprintf("token %d minted but unknown to the license registry", tokenID), nil)
	}
	if owner == app.ApplicantAccount {
		return "skipped", nil
	}

	if err := o.licenses.Transfer(ctx, tokenID, app.ApplicantAccount); err != nil {
		return "", errors.NewReconciliationRequiredError(
			fmt.Sprintf("token %d minted to %s, transfer to %s failed", tokenID, owner, app.ApplicantAccount), err)
	}
	return "ok", nil
}

func (o *Orchestrator) mintRequest(ctx context.Context, app *models.Application) (models.MintRequest, error) {
	franchise, err := o.registry.Franchise(ctx, app.FranchiseID)
	if err != nil {
		return models.MintRequest{}, err
	}

	tokenURI := franchise.ImageURI
	if o.opts.TokenURIBase != "" {
		tokenURI = fmt.Sprintf("%s/%s/%d", strings.TrimSuffix(o.opts.TokenURIBase, "/"), franchise.ID, app.ID)
	}

	return models.MintRequest{
		To:              o.mintTarget(app),
		Name:            franchise.Name + " License",
		Description:     franchise.Description,
		TokenURI:        tokenURI,
		FranchiseID:     franchise.ID,
		LicenseDuration: franchise.LicenseDuration,
		IssueDate:       o.now().UTC(),
	}, nil
}

func (o *Orchestrator) mintTarget(app *models.Application) string {
	if o.opts.MintTarget != "" {
		return o.opts.MintTarget
	}
	return app.ApplicantAccount
}

// run executes one step inside a span and records its outcome.
func (o *Orchestrator) run(ctx context.Context, applicationID int64, step Step, fn func(context.Context) (string, error)) error {
	ctx, span := o.obs.StartSpan(ctx, "settlement."+string(step),
		attribute.Int64("application.id", applicationID),
		attribute.String("settlement.step", string(step)),
	)
	defer span.End()

	start := time.Now()
	outcome, err := fn(ctx)
	metrics.SettlementStepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome = "failed"
		if isAmbiguous(err) {
			outcome = "ambiguous"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	}
	span.SetAttributes(attribute.String("settlement.outcome", outcome))
	metrics.SettlementSteps.WithLabelValues(string(step), outcome).Inc()
	return err
}

func (o *Orchestrator) stalled(ctx context.Context, stepErr *StepError) error {
	fields := map[string]interface{}{
		"applicationId": stepErr.ApplicationID,
		"step":          string(stepErr.Step),
		"ambiguous":     stepErr.Ambiguous,
		"errorCode":     string(errors.CodeOf(stepErr.Err)),
		"error":         stepErr.Err.Error(),
	}
	if stepErr.TokenID != nil {
		fields["tokenId"] = *stepErr.TokenID
	}
	o.logger.Error("settlement stalled", fields)

	if o.notifier != nil {
		if err := o.notifier.SettlementStalled(context.WithoutCancel(ctx), stepErr); err != nil {
			o.logger.Warn("stall notification failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return stepErr
}

func (o *Orchestrator) published(ctx context.Context, app *models.Application, tokenID uint64) {
	franchise, err := o.registry.Franchise(ctx, app.FranchiseID)
	if err != nil {
		o.logger.Warn("franchise lookup for issued license failed", map[string]interface{}{
			"applicationId": app.ID,
			"error":         err.Error(),
		})
		franchise = &models.Franchise{ID: app.FranchiseID}
	}
	token := models.LicenseToken{
		TokenID:     tokenID,
		Owner:       app.ApplicantAccount,
		FranchiseID: app.FranchiseID,
		Metadata: models.LicenseMetadata{
			Name:        franchise.Name + " License",
			Description: franchise.Description,
			ImageURI:    franchise.ImageURI,
		},
	}

	if o.indexer != nil {
		if err := o.indexer.IndexLicense(ctx, token, app.ID); err != nil {
			o.logger.Warn("license indexing failed", map[string]interface{}{"tokenId": tokenID, "error": err.Error()})
		}
	}
	if o.notifier != nil {
		if err := o.notifier.LicenseIssued(ctx, *app, token); err != nil {
			o.logger.Warn("issue notification failed", map[string]interface{}{"tokenId": tokenID, "error": err.Error()})
		}
	}
}

func (o *Orchestrator) release(ctx context.Context, applicationID int64, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("settlement lock release failed", map[string]interface{}{
			"applicationId": applicationID,
			"error":         err.Error(),
		})
	}
}

func alreadyIssued(app *models.Application) (*Result, bool) {
	if app.Status != models.StatusIssued || app.LicenseTokenID == nil {
		return nil, false
	}
	return &Result{
		ApplicationID: app.ID,
		TokenID:       *app.LicenseTokenID,
		Owner:         app.ApplicantAccount,
		AlreadyIssued: true,
	}, true
}
