package chat

import "fmt"

// Error codes reported to the originating connection. No error in this
// package terminates the connection or the process; each one results in a
// single error notification to the offending caller.
const (
	CodeValidation  = "validation_error"  // empty body, missing username
	CodePersistence = "persistence_error" // store unreachable or write failure
	CodeProtocol    = "protocol_error"    // event received in the wrong lifecycle state
	CodeRateLimited = "rate_limited"      // sender exceeded the message rate limit
)

// Error is a chat engine error carrying the wire code sent back to the
// originating connection.
type Error struct {
	Code    string
	Message string
	// RetryAfter is set for rate-limit errors, in seconds.
	RetryAfter int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("chat: %s: %s", e.Code, e.Message)
}

func errValidation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func errPersistence(msg string) *Error {
	return &Error{Code: CodePersistence, Message: msg}
}

func errProtocol(msg string) *Error {
	return &Error{Code: CodeProtocol, Message: msg}
}

func errRateLimited(retryAfter int) *Error {
	return &Error{Code: CodeRateLimited, Message: "too many messages", RetryAfter: retryAfter}
}
