package domain

import (
	"errors"
	"fmt"
)

// ─── Error Taxonomy ─────────────────────────────────────────────────────────
// Every failure that crosses a collaborator boundary (connector, ledger,
// storage) is converted into one of these codes. Matching is by code, so a
// wrapped *Error with extra context still satisfies errors.Is(err, ErrX).

// Code is a machine-readable error code.
type Code string

const (
	CodeConnectorUnavailable Code = "CONNECTOR_UNAVAILABLE"
	CodeConnectionRejected   Code = "CONNECTION_REJECTED"
	CodeNotConnected         Code = "NOT_CONNECTED"
	CodeMintFailed           Code = "MINT_FAILED"
	CodeMintTimeout          Code = "MINT_TIMEOUT"
	CodeMintPending          Code = "MINT_PENDING"
	CodeAlreadyCompleted     Code = "ALREADY_COMPLETED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeCacheMiss            Code = "CACHE_MISS"
	CodeOperationInProgress  Code = "OPERATION_IN_PROGRESS"
	CodeSessionChanged       Code = "SESSION_CHANGED"
	CodeCampaignExhausted    Code = "CAMPAIGN_EXHAUSTED"
	CodeNotEligible          Code = "NOT_ELIGIBLE"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel errors, one per code.
var (
	// Session errors
	ErrConnectorUnavailable = &Error{Code: CodeConnectorUnavailable, Message: "wallet connector unavailable"}
	ErrConnectionRejected   = &Error{Code: CodeConnectionRejected, Message: "wallet connection rejected"}
	ErrNotConnected         = &Error{Code: CodeNotConnected, Message: "wallet not connected"}

	// Ledger errors
	ErrMintFailed  = &Error{Code: CodeMintFailed, Message: "mint failed"}
	ErrMintTimeout = &Error{Code: CodeMintTimeout, Message: "mint timed out"}
	ErrMintPending = &Error{Code: CodeMintPending, Message: "mint submitted but not yet confirmed"}

	// Profile errors
	ErrAlreadyCompleted    = &Error{Code: CodeAlreadyCompleted, Message: "quest already completed"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrOperationInProgress = &Error{Code: CodeOperationInProgress, Message: "operation already in progress"}
	ErrSessionChanged      = &Error{Code: CodeSessionChanged, Message: "wallet session changed before the operation finished"}
	ErrCampaignExhausted   = &Error{Code: CodeCampaignExhausted, Message: "campaign has no claims left"}
	ErrNotEligible         = &Error{Code: CodeNotEligible, Message: "address is not eligible for this campaign"}

	// Internal only
	ErrCacheMiss = &Error{Code: CodeCacheMiss, Message: "cache miss"}
)

// MintFailed wraps a ledger failure reason.
func MintFailed(reason error) error {
	return Wrap(CodeMintFailed, "mint failed", reason)
}

// MintPending reports a submitted transaction that has not confirmed.
func MintPending(txRef string, cause error) error {
	return Wrap(CodeMintPending, fmt.Sprintf("mint %s submitted but not yet confirmed", txRef), cause)
}

// NotFound reports a missing entity of the given kind.
func NotFound(kind, id string) error {
	return Wrap(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil)
}

// userMessages are the human-readable texts shown for each code.
var userMessages = map[Code]string{
	CodeConnectorUnavailable: "That wallet is not installed or not available in this environment.",
	CodeConnectionRejected:   "The wallet rejected the connection request.",
	CodeNotConnected:         "Connect a wallet first.",
	CodeMintFailed:           "Minting failed. Please try again.",
	CodeMintTimeout:          "The network took too long to respond. Please try again.",
	CodeMintPending:          "Your transaction was submitted and is waiting for confirmation. Check back shortly.",
	CodeAlreadyCompleted:     "You have already completed this quest.",
	CodeNotFound:             "We couldn't find that item.",
	CodeOperationInProgress:  "This action is already in progress.",
	CodeSessionChanged:       "Your wallet session changed while the action was running.",
	CodeCampaignExhausted:    "All credentials for this campaign have been claimed.",
	CodeNotEligible:          "This wallet is not eligible for this campaign.",
}

// CodeOf returns the taxonomy code of err, or "" if err is not coded.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// UserMessage returns the human-readable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := userMessages[CodeOf(err)]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}
