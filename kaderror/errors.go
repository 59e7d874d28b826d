// Package kaderror defines the error taxonomy shared by the kadstore
// library and its callers. Every failure the library reports carries a
// Code so callers can branch programmatically while still reading a
// human message.
package kaderror

import "fmt"

// Error codes for kademlia operations.
const (
	// Session lifecycle errors
	CodeRunAborted     = "RUN_ABORTED"
	CodeAlreadyRunning = "ALREADY_RUNNING"

	// Lookup errors
	CodeInitialPeerFailedToRespond = "INITIAL_PEER_FAILED_TO_RESPOND"
	CodeValueNotFound              = "VALUE_NOT_FOUND"
	CodeTimedOut                   = "TIMED_OUT"
	CodeUnassociatedMessageID      = "UNASSOCIATED_MESSAGE_ID"

	// Codec errors
	CodeInvalidID              = "INVALID_ID"
	CodeTruncatedID            = "TRUNCATED_ID"
	CodeTruncatedHeader        = "TRUNCATED_HEADER"
	CodeTruncatedEndpoint      = "TRUNCATED_ENDPOINT"
	CodeTruncatedAddress       = "TRUNCATED_ADDRESS"
	CodeTruncatedSize          = "TRUNCATED_SIZE"
	CodeCorruptedBody          = "CORRUPTED_BODY"
	CodeUnknownProtocolVersion = "UNKNOWN_PROTOCOL_VERSION"

	// Listen-address resolution errors
	CodeInvalidIPv4Address = "INVALID_IPV4_ADDRESS"
	CodeInvalidIPv6Address = "INVALID_IPV6_ADDRESS"

	// Timer errors
	CodeTimerMalfunction = "TIMER_MALFUNCTION"
)

// Error is the error type used across the kademlia category.
type Error struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("kademlia: [%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("kademlia: [%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by code, so errors.Is(err, kaderror.ValueNotFound)
// holds for any Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates a new kademlia error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with kademlia error context.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// One sentinel per code. Compare with errors.Is.
var (
	RunAborted                 = New(CodeRunAborted, "run aborted")
	AlreadyRunning             = New(CodeAlreadyRunning, "another run is still active")
	InitialPeerFailedToRespond = New(CodeInitialPeerFailedToRespond, "initial peer failed to respond")
	ValueNotFound              = New(CodeValueNotFound, "value not found")
	TimedOut                   = New(CodeTimedOut, "request timed out")
	UnassociatedMessageID      = New(CodeUnassociatedMessageID, "response token matches no pending request")
	InvalidID                  = New(CodeInvalidID, "invalid id")
	TruncatedID                = New(CodeTruncatedID, "truncated id")
	TruncatedHeader            = New(CodeTruncatedHeader, "truncated header")
	TruncatedEndpoint          = New(CodeTruncatedEndpoint, "truncated endpoint")
	TruncatedAddress           = New(CodeTruncatedAddress, "truncated address")
	TruncatedSize              = New(CodeTruncatedSize, "truncated size")
	CorruptedBody              = New(CodeCorruptedBody, "corrupted body")
	UnknownProtocolVersion     = New(CodeUnknownProtocolVersion, "unknown protocol version")
	InvalidIPv4Address         = New(CodeInvalidIPv4Address, "invalid IPv4 listen address")
	InvalidIPv6Address         = New(CodeInvalidIPv6Address, "invalid IPv6 listen address")
	TimerMalfunction           = New(CodeTimerMalfunction, "timer malfunction")
)
