package orchestrator

import (
	stderrors "errors"
	"fmt"

	"franchise-license-workers/internal/common/errors"
)

// Step names one stage of the settlement sequence, in execution order.
type Step string

const (
	StepComplete   Step = "complete"
	StepMint       Step = "mint"
	StepTransfer   Step = "transfer"
	StepMarkIssued Step = "mark_issued"
)

// ParseStep accepts the step names used in resume requests.
func ParseStep(s string) (Step, error) {
	switch Step(s) {
	case StepComplete, StepMint, StepTransfer, StepMarkIssued:
		return Step(s), nil
	}
	return "", errors.NewInvalidInputError(fmt.Sprintf("unknown settlement step %q", s))
}

// StepError reports where a settlement stopped. TokenID is set once a token was minted,
// so an operator can resume from Step after checking the remote state.
type StepError struct {
	ApplicationID int64
	Step          Step
	TokenID       *uint64
	Ambiguous     bool
	Err           error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("settlement of application %d stopped at %s", e.ApplicationID, e.Step)
	if e.TokenID != nil {
		msg += fmt.Sprintf(" (token %d)", *e.TokenID)
	}
	if e.Ambiguous {
		msg += " with unknown outcome"
	}
	return msg + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// StandardError returns a copy of the underlying error with the step context in Metadata.
// Once a token exists the copy is never retryable: the job must not run the mint again.
func (e *StepError) StandardError() *errors.StandardError {
	base := errors.Normalize(e.Err)
	cp := *base
	cp.Metadata = make(map[string]interface{}, len(base.Metadata)+4)
	for k, v := range base.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata["applicationId"] = e.ApplicationID
	cp.Metadata["step"] = string(e.Step)
	cp.Metadata["ambiguous"] = e.Ambiguous
	if e.TokenID != nil {
		cp.Metadata["tokenId"] = *e.TokenID
		cp.Retryable = false
	}
	return &cp
}

// isAmbiguous walks the whole chain; wrappers such as RECONCILIATION_REQUIRED may hide
// an AMBIGUOUS_OUTCOME cause.
func isAmbiguous(err error) bool {
	for err != nil {
		var stdErr *errors.StandardError
		if stderrors.As(err, &stdErr) {
			if stdErr.Code == errors.ErrCodeAmbiguousOutcome {
				return true
			}
			err = stdErr.Cause
			continue
		}
		return false
	}
	return false
}
