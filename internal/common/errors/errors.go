// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Precondition violations: reported immediately, never retried.
const (
	ErrCodeInvalidState            ErrorCode = "INVALID_STATE"
	ErrCodeNotAuthorized           ErrorCode = "NOT_AUTHORIZED"
	ErrCodeApplicationNotFound     ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeRejectionReasonRequired ErrorCode = "REJECTION_REASON_REQUIRED"
	ErrCodeSignerNotConnected      ErrorCode = "SIGNER_NOT_CONNECTED"
	ErrCodePayerMismatch           ErrorCode = "PAYER_MISMATCH"
	ErrCodeInvalidInput            ErrorCode = "INVALID_INPUT"
)

// Transport failures: no remote side effect happened, safe to retry the same step.
const (
	ErrCodeLedgerUnavailable          ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeSignerUnavailable          ErrorCode = "SIGNER_UNAVAILABLE"
	ErrCodeLicenseRegistryUnavailable ErrorCode = "LICENSE_REGISTRY_UNAVAILABLE"
	ErrCodeDatabaseConnectionFailed   ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeWorkflowEngineUnavailable  ErrorCode = "WORKFLOW_ENGINE_UNAVAILABLE"
	ErrCodeSettlementLocked           ErrorCode = "SETTLEMENT_LOCKED"
)

// Ambiguous outcomes: a remote call may have taken effect. Manual reconciliation only.
const (
	ErrCodeAmbiguousOutcome       ErrorCode = "AMBIGUOUS_OUTCOME"
	ErrCodePaymentUnrecorded      ErrorCode = "PAYMENT_UNRECORDED"
	ErrCodeReconciliationRequired ErrorCode = "RECONCILIATION_REQUIRED"
)

// Domain failures reported by the remote systems, surfaced verbatim.
const (
	ErrCodeDuplicateMint     ErrorCode = "DUPLICATE_MINT"
	ErrCodeMintFailed        ErrorCode = "MINT_FAILED"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeExcessPrecision   ErrorCode = "EXCESS_PRECISION"
	ErrCodeInvalidAmount     ErrorCode = "INVALID_AMOUNT"
	ErrCodeTransferFailed    ErrorCode = "TRANSFER_FAILED"
	ErrCodeRemoteRejected    ErrorCode = "REMOTE_REQUEST_REJECTED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// WithMetadata attaches a key to the error's metadata and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

// NewInvalidStateError reports that an application is not in the status a step requires.
func NewInvalidStateError(applicationID int64, actual, expected string) *StandardError {
	return newError(ErrCodeInvalidState, "Application is not in the required state",
		fmt.Sprintf("applicationId: %d, status: %s, expected: %s", applicationID, actual, expected), false, nil).
		WithMetadata("applicationId", applicationID).
		WithMetadata("status", actual)
}

// NewNotAuthorizedError reports a caller that may not act on the application.
func NewNotAuthorizedError(applicationID int64, caller string) *StandardError {
	return newError(ErrCodeNotAuthorized, "Caller is not the franchise owner",
		fmt.Sprintf("applicationId: %d, caller: %s", applicationID, caller), false, nil).
		WithMetadata("applicationId", applicationID)
}

func NewApplicationNotFoundError(applicationID int64) *StandardError {
	return newError(ErrCodeApplicationNotFound, "Application not found",
		fmt.Sprintf("applicationId: %d", applicationID), false, nil).
		WithMetadata("applicationId", applicationID)
}

func NewRejectionReasonRequiredError(applicationID int64) *StandardError {
	return newError(ErrCodeRejectionReasonRequired, "A rejection reason is required",
		fmt.Sprintf("applicationId: %d", applicationID), false, nil).
		WithMetadata("applicationId", applicationID)
}

func NewSignerNotConnectedError(state string) *StandardError {
	return newError(ErrCodeSignerNotConnected, "Wallet signer is not connected",
		fmt.Sprintf("state: %s", state), false, nil)
}

func NewPayerMismatchError(signerAccount, applicantAccount string) *StandardError {
	return newError(ErrCodePayerMismatch, "Connected signer account is not the applicant",
		fmt.Sprintf("signer: %s, applicant: %s", signerAccount, applicantAccount), false, nil)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid job input", details, false, nil)
}

// NewUnavailableError creates a retryable transport error for one of the remote systems.
func NewUnavailableError(code ErrorCode, service string, err error) *StandardError {
	return newError(code, fmt.Sprintf("External service '%s' unavailable", service), err.Error(), true, err)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true, err)
}

func NewSettlementLockedError(applicationID int64) *StandardError {
	return newError(ErrCodeSettlementLocked, "Settlement already running for application",
		fmt.Sprintf("applicationId: %d", applicationID), true, nil).
		WithMetadata("applicationId", applicationID)
}

// NewAmbiguousOutcomeError marks a call whose effect on the remote system is unknown.
func NewAmbiguousOutcomeError(service, operation string, err error) *StandardError {
	return newError(ErrCodeAmbiguousOutcome,
		fmt.Sprintf("Outcome of %s.%s is unknown; verify remote state before retrying", service, operation),
		err.Error(), false, err)
}

// NewPaymentUnrecordedError is the paid-but-unrecorded case: funds moved, registry not updated.
func NewPaymentUnrecordedError(applicationID int64, blockIndex uint64, err error) *StandardError {
	return newError(ErrCodePaymentUnrecorded, "Payment transferred but not recorded",
		fmt.Sprintf("applicationId: %d, blockIndex: %d, error: %v", applicationID, blockIndex, err), false, err).
		WithMetadata("applicationId", applicationID).
		WithMetadata("blockIndex", blockIndex)
}

func NewReconciliationRequiredError(details string, err error) *StandardError {
	return newError(ErrCodeReconciliationRequired, "Manual reconciliation required", details, false, err)
}

func NewDuplicateMintError(details string) *StandardError {
	return newError(ErrCodeDuplicateMint, "License already minted", details, false, nil)
}

// NewMintFailedError carries the license registry's own error code in Metadata["remoteCode"].
func NewMintFailedError(remoteCode int64, message string) *StandardError {
	return newError(ErrCodeMintFailed, "License mint rejected",
		fmt.Sprintf("code: %d, message: %s", remoteCode, message), false, nil).
		WithMetadata("remoteCode", remoteCode)
}

func NewInsufficientFundsError(account, balance, required string) *StandardError {
	return newError(ErrCodeInsufficientFunds, "Insufficient funds",
		fmt.Sprintf("account: %s, balance: %s, required: %s", account, balance, required), false, nil)
}

func NewExcessPrecisionError(amount string, decimals uint8) *StandardError {
	return newError(ErrCodeExcessPrecision, "Amount has more fractional digits than the token supports",
		fmt.Sprintf("amount: %s, decimals: %d", amount, decimals), false, nil)
}

func NewInvalidAmountError(amount, reason string) *StandardError {
	return newError(ErrCodeInvalidAmount, "Invalid amount",
		fmt.Sprintf("amount: %q, %s", amount, reason), false, nil)
}

func NewTransferFailedError(details string) *StandardError {
	return newError(ErrCodeTransferFailed, "Transfer rejected", details, false, nil)
}

// NewRemoteRejectedError reports a 4xx answer without a structured domain error.
func NewRemoteRejectedError(service, operation string, status int, body string) *StandardError {
	return newError(ErrCodeRemoteRejected, fmt.Sprintf("%s rejected %s", service, operation),
		fmt.Sprintf("status: %d, body: %s", status, body), false, nil).
		WithMetadata("status", status)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the Zeebe retry budget for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeLedgerUnavailable,
		ErrCodeSignerUnavailable,
		ErrCodeLicenseRegistryUnavailable,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeWorkflowEngineUnavailable:
		return 3

	case ErrCodeSettlementLocked:
		return 2

	default:
		return 0 // precondition, ambiguous and domain errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorCategory":     GetErrorCategory(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandard extracts a StandardError from an error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidState, ErrCodeNotAuthorized, ErrCodeApplicationNotFound,
		ErrCodeRejectionReasonRequired, ErrCodeSignerNotConnected, ErrCodePayerMismatch,
		ErrCodeInvalidInput:
		return "PRECONDITION"
	case ErrCodeAmbiguousOutcome, ErrCodePaymentUnrecorded, ErrCodeReconciliationRequired:
		return "AMBIGUOUS"
	case ErrCodeDuplicateMint, ErrCodeMintFailed, ErrCodeInsufficientFunds,
		ErrCodeExcessPrecision, ErrCodeInvalidAmount, ErrCodeTransferFailed, ErrCodeRemoteRejected:
		return "DOMAIN"
	}
	if strings.HasSuffix(string(code), "_UNAVAILABLE") || strings.Contains(string(code), "CONNECTION") ||
		code == ErrCodeSettlementLocked {
		return "TRANSPORT"
	}
	return "OTHER"
}
