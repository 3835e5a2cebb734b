package payment

import (
	"context"
	"sync"
	"time"

	"franchise-license-workers/internal/clients/ledger"
	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/common/metrics"
	"franchise-license-workers/internal/models"
)

type State string

const (
	StateDisconnected      State = "disconnected"
	StateConnecting        State = "connecting"
	StateConnected         State = "connected"
	StateTransferring      State = "transferring"
	StateTransferSucceeded State = "transfer_succeeded"
	StateTransferFailed    State = "transfer_failed"
)

// Attempt is one payment attempt bound to a single signer session.
type Attempt struct {
	adapter *Adapter
	memo    string

	mu      sync.Mutex
	state   State
	session string
	account string
	lastErr error
	// closed is set once a transfer succeeded or ended with an unknown outcome.
	closed string
}

// WithMemo sets the memo attached to the ledger transfer.
func (t *Attempt) WithMemo(memo string) *Attempt {
	t.memo = memo
	return t
}

func (t *Attempt) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Account is the paying account read from the signer, empty until connected.
func (t *Attempt) Account() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.account
}

// Err is the typed error behind the last failed transfer.
func (t *Attempt) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Connect opens a signer session and returns the paying account as reported by the signer.
func (t *Attempt) Connect(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.state != StateDisconnected {
		state, account := t.state, t.account
		t.mu.Unlock()
		if account != "" && state != StateConnecting {
			return account, nil
		}
		return "", errors.NewSignerNotConnectedError(string(state))
	}
	t.state = StateConnecting
	t.mu.Unlock()

	s := t.adapter.signer
	session, err := s.Connect(ctx)
	if err != nil {
		t.reset()
		return "", err
	}

	accounts, err := s.Accounts(ctx, session)
	if err == nil && len(accounts) == 0 {
		err = errors.NewSignerNotConnectedError("signer returned no accounts")
	}
	if err != nil {
		_ = s.Disconnect(context.WithoutCancel(ctx), session)
		t.reset()
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnecting {
		// Disconnected while the signer was answering.
		_ = s.Disconnect(context.WithoutCancel(ctx), session)
		return "", errors.NewSignerNotConnectedError(string(t.state))
	}
	t.session = session
	t.account = accounts[0].String()
	t.state = StateConnected
	return t.account, nil
}

// Transfer sends amount (a human decimal) to owner. It always returns a receipt: a block
// index on success, a message on failure. The typed failure is available from Err.
//
// A session may transfer again only after a definite failure. Once a transfer succeeded, or
// its outcome is unknown, the attempt is finished and a new payment needs a new attempt.
func (t *Attempt) Transfer(ctx context.Context, owner, amount string) models.TransferReceipt {
	t.mu.Lock()
	switch t.state {
	case StateConnected, StateTransferSucceeded, StateTransferFailed:
	default:
		state := t.state
		t.mu.Unlock()
		err := errors.NewSignerNotConnectedError(string(state))
		return t.fail(err, false)
	}
	if closed := t.closed; closed != "" {
		t.mu.Unlock()
		return t.fail(errors.NewTransferFailedError(closed), false)
	}
	t.state = StateTransferring
	session, payer := t.session, t.account
	t.mu.Unlock()

	a := t.adapter
	start := time.Now()
	log := a.logger.WithFields(map[string]interface{}{"payer": payer, "owner": owner, "amount": amount})

	meta, err := a.metadata.Metadata(ctx)
	if err != nil {
		return t.finish(session, models.TransferReceipt{}, err)
	}

	units, err := ToBaseUnits(amount, meta.Decimals, a.opts.PrecisionPolicy)
	if err == nil && units.Sign() == 0 {
		err = errors.NewInvalidAmountError(amount, "amount must be greater than zero")
	}
	if err != nil {
		return t.finish(session, models.TransferReceipt{}, err)
	}

	if a.opts.BalanceCheck {
		if err := a.checkFunds(ctx, payer, units, meta); err != nil {
			return t.finish(session, models.TransferReceipt{}, err)
		}
	}

	block, err := a.ledger.Transfer(ctx, ledger.TransferRequest{
		Session:   session,
		From:      payer,
		To:        owner,
		Amount:    units,
		Memo:      t.memo,
		CreatedAt: start,
	})
	if err != nil {
		log.Warn("ledger transfer failed", map[string]interface{}{
			"errorCode": string(errors.CodeOf(err)),
			"error":     err.Error(),
		})
		return t.finish(session, models.TransferReceipt{}, err)
	}

	log.Info("ledger transfer succeeded", map[string]interface{}{
		"blockIndex": block,
		"baseUnits":  units.String(),
		"durationMs": time.Since(start).Milliseconds(),
	})
	receipt := models.SucceededReceipt(block, units.String(),
		"transferred "+FromBaseUnits(units, meta.Decimals)+" "+meta.Symbol)
	return t.finish(session, receipt, nil)
}

// Disconnect clears the session and account. A transfer the ledger already acknowledged is
// unaffected.
func (t *Attempt) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	session := t.session
	t.session, t.account, t.state = "", "", StateDisconnected
	t.mu.Unlock()

	if session == "" {
		return nil
	}
	if err := t.adapter.signer.Disconnect(ctx, session); err != nil {
		t.adapter.logger.Warn("signer disconnect failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// finish settles the attempt state, unless the session was disconnected meanwhile.
func (t *Attempt) finish(session string, receipt models.TransferReceipt, err error) models.TransferReceipt {
	if err != nil {
		receipt = t.fail(err, errors.IsCode(err, errors.ErrCodeAmbiguousOutcome))
	} else {
		metrics.PaymentTransfers.WithLabelValues("succeeded").Inc()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case receipt.Success:
		t.closed = "attempt already transferred; start a new attempt"
	case receipt.Ambiguous:
		t.closed = "outcome of the previous transfer is unknown; verify the ledger before paying again"
	}
	if t.session == session && t.state == StateTransferring {
		if receipt.Success {
			t.state = StateTransferSucceeded
		} else {
			t.state = StateTransferFailed
		}
	}
	return receipt
}

func (t *Attempt) fail(err error, ambiguous bool) models.TransferReceipt {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()

	result := "failed"
	if ambiguous {
		result = "ambiguous"
	}
	metrics.PaymentTransfers.WithLabelValues(result).Inc()

	receipt := models.FailedReceipt(err.Error())
	receipt.Ambiguous = ambiguous
	return receipt
}

func (t *Attempt) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session, t.account, t.state = "", "", StateDisconnected
}
