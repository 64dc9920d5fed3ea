package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeBlocked     Code = 16

	// Execution outcomes. Every orchestrated operation fails with exactly one of these.
	CodeValidation  Code = 20
	CodeCancelled   Code = 21
	CodeSigning     Code = 22
	CodeTimeout     Code = 23
	CodeTransaction Code = 24
	CodeUnexpected  Code = 25
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeInternal:
		return "internal_error"
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodeValidation:
		return "validation_error"
	case CodeCancelled:
		return "cancelled"
	case CodeSigning:
		return "signing_error"
	case CodeTimeout:
		return "timeout"
	case CodeTransaction:
		return "transaction_error"
	case CodeUnexpected:
		return "unexpected_error"
	default:
		return "error"
	}
}

// Error is a typed error that carries a stable error code.
// TxHash is set when the failure is tied to a submitted transaction.
type Error struct {
	Code    Code
	Message string
	Cause   error
	TxHash  string
}

func (e *Error) Error() string {
	msg := e.Message
	if e.TxHash != "" {
		msg = fmt.Sprintf("%s (tx %s)", msg, e.TxHash)
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Cancelled(message string) *Error {
	return New(CodeCancelled, message)
}

func Signing(message string, cause error) *Error {
	return Wrap(CodeSigning, message, cause)
}

func Timeout(message string, cause error) *Error {
	return Wrap(CodeTimeout, message, cause)
}

func Transaction(message, txHash string, cause error) *Error {
	return &Error{Code: CodeTransaction, Message: message, Cause: cause, TxHash: txHash}
}

func Unexpected(message string) *Error {
	return New(CodeUnexpected, message)
}

// Validation wraps a business rejection (for example an insufficient balance
// plan) so callers can recover the typed detail with errors.As.
func Validation(message string, detail error) *Error {
	return Wrap(CodeValidation, message, detail)
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Kind returns the outermost typed code, CodeInternal for untyped errors and
// CodeSuccess for nil.
func Kind(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && Kind(err) == code
}

func ExitCode(err error) int {
	return int(Kind(err))
}
