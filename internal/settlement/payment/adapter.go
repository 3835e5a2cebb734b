// Package payment moves funds from the applicant to the franchise owner through the wallet
// signer and the ledger, then records the payment in the application registry.
package payment

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"franchise-license-workers/internal/clients/ledger"
	"franchise-license-workers/internal/clients/signer"
	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/models"
	"franchise-license-workers/internal/settlement/application"
)

// Ledger is the part of the ledger client the adapter uses.
type Ledger interface {
	Balance(ctx context.Context, account string) (*big.Int, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (uint64, error)
}

// Signer is the part of the wallet signer client the adapter uses.
type Signer interface {
	Connect(ctx context.Context) (string, error)
	Accounts(ctx context.Context, session string) ([]signer.Account, error)
	Disconnect(ctx context.Context, session string) error
}

// Notifier is told about recorded payments. Failures are logged only.
type Notifier interface {
	PaymentRecorded(ctx context.Context, applicationID int64, blockIndex uint64) error
}

type Options struct {
	PrecisionPolicy string
	BalanceCheck    bool
	RecordRetries   int
	RecordBackoff   time.Duration
}

// OptionsFromConfig maps the settlement config section onto adapter options.
func OptionsFromConfig(cfg config.SettlementConfig) Options {
	return Options{
		PrecisionPolicy: cfg.PrecisionPolicy,
		BalanceCheck:    cfg.BalanceCheckEnabled,
		RecordRetries:   cfg.RecordPaymentRetries,
		RecordBackoff:   config.GetDuration(cfg.RecordPaymentBackoff),
	}
}

type Adapter struct {
	registry application.Registry
	ledger   Ledger
	metadata ledger.MetadataSource
	signer   Signer
	notifier Notifier
	opts     Options
	logger   logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewAdapter(
	registry application.Registry,
	ledgerClient Ledger,
	metadata ledger.MetadataSource,
	signerClient Signer,
	opts Options,
	log logger.Logger,
) *Adapter {
	if opts.RecordRetries < 1 {
		opts.RecordRetries = 1
	}
	if opts.PrecisionPolicy == "" {
		opts.PrecisionPolicy = config.PrecisionReject
	}
	return &Adapter{
		registry: registry,
		ledger:   ledgerClient,
		metadata: metadata,
		signer:   signerClient,
		opts:     opts,
		logger:   log,
		sleep:    sleepContext,
	}
}

// WithNotifier attaches a notifier for recorded payments.
func (a *Adapter) WithNotifier(n Notifier) *Adapter {
	a.notifier = n
	return a
}

// NewAttempt starts a disconnected payment attempt.
func (a *Adapter) NewAttempt() *Attempt {
	return &Attempt{adapter: a, state: StateDisconnected}
}

// Pay runs one full payment for a pending application: connect, check that the signer
// account is the applicant, transfer the price to the franchise owner, record the payment.
// The signer session is always closed before returning.
func (a *Adapter) Pay(ctx context.Context, applicationID int64) (models.TransferReceipt, error) {
	app, err := a.registry.Get(ctx, applicationID)
	if err != nil {
		return models.FailedReceipt(err.Error()), err
	}
	if app.Status != models.StatusPendingPayment {
		err := errors.NewInvalidStateError(applicationID, string(app.Status), string(models.StatusPendingPayment))
		return models.FailedReceipt(err.Error()), err
	}

	attempt := a.NewAttempt().WithMemo(fmt.Sprintf("application %d", applicationID))
	defer func() {
		_ = attempt.Disconnect(context.WithoutCancel(ctx))
	}()

	payer, err := attempt.Connect(ctx)
	if err != nil {
		return models.FailedReceipt(err.Error()), err
	}
	if payer != app.ApplicantAccount {
		err := errors.NewPayerMismatchError(payer, app.ApplicantAccount)
		return models.FailedReceipt(err.Error()), err
	}

	receipt := attempt.Transfer(ctx, app.OwnerAccount, app.Price)
	if !receipt.Success {
		return receipt, attempt.Err()
	}

	return receipt, a.RecordPayment(ctx, applicationID, receipt)
}

// RecordPayment moves the application from pending payment to paid with the receipt's
// block index. The registry call is idempotent for the same block, so retryable failures
// are retried with a linear backoff. When the payment still cannot be recorded the error is
// PAYMENT_UNRECORDED carrying the block index.
func (a *Adapter) RecordPayment(ctx context.Context, applicationID int64, receipt models.TransferReceipt) error {
	if !receipt.Success || receipt.BlockIndex == nil {
		return errors.NewInvalidInputError("recordPayment requires a successful transfer receipt")
	}
	block := *receipt.BlockIndex
	log := a.logger.WithFields(map[string]interface{}{"applicationId": applicationID, "blockIndex": block})

	var lastErr error
	for attempt := 1; attempt <= a.opts.RecordRetries; attempt++ {
		applied, err := a.registry.RecordPayment(ctx, applicationID, block)
		if err == nil {
			log.Info("payment recorded", map[string]interface{}{"applied": applied})
			if applied && a.notifier != nil {
				if nerr := a.notifier.PaymentRecorded(ctx, applicationID, block); nerr != nil {
					log.Warn("payment notification failed", map[string]interface{}{"error": nerr.Error()})
				}
			}
			return nil
		}

		lastErr = err
		if !errors.IsRetryableErrorCode(errors.CodeOf(err)) || attempt == a.opts.RecordRetries {
			break
		}
		log.Warn("record payment failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if err := a.sleep(ctx, a.opts.RecordBackoff*time.Duration(attempt)); err != nil {
			break
		}
	}

	log.Error("payment transferred but not recorded", map[string]interface{}{"error": lastErr.Error()})
	return errors.NewPaymentUnrecordedError(applicationID, block, lastErr)
}

// checkFunds fails fast when the payer cannot cover amount plus the ledger fee.
func (a *Adapter) checkFunds(ctx context.Context, account string, amount *big.Int, meta *ledger.TokenMetadata) error {
	balance, err := a.ledger.Balance(ctx, account)
	if err != nil {
		return err
	}
	required := new(big.Int).Set(amount)
	if meta.Fee != nil {
		required.Add(required, meta.Fee)
	}
	if balance.Cmp(required) < 0 {
		return errors.NewInsufficientFundsError(account, balance.String(), required.String())
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
