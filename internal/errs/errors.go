// Package errs defines the error taxonomy shared by the storage core.
//
// Every failure surfaced to a consumer is one of five categories:
//   - Connection: store unreachable or corrupt; fatal per call
//   - NotFound: tenant/collection/document/user absent; returned, never fatal
//   - DuplicateName: unique-constraint violation on tenant/collection names
//   - Validation: missing or malformed required input
//   - SchemaDrift: bootstrap or migration failure; store unavailable until repaired
//
// Errors carry operation, store, and key context so callers can log them
// without reconstructing the call site.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes an Error.
type Code string

const (
	CodeConnection    Code = "CONNECTION"
	CodeNotFound      Code = "NOT_FOUND"
	CodeDuplicateName Code = "DUPLICATE_NAME"
	CodeValidation    Code = "VALIDATION"
	CodeSchemaDrift   Code = "SCHEMA_DRIFT"
)

// Error is the structured error type for the storage core.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op is the logical operation that failed, e.g. "service.CreateCollection".
	Op string

	// Store identifies the affected store: "admin" or a tenant identifier.
	Store string

	// Key identifies the affected entity, if any.
	Key string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Op != "" {
		fmt.Fprintf(&b, " (op=%s", e.Op)
		if e.Store != "" {
			fmt.Fprintf(&b, ", store=%s", e.Store)
		}
		if e.Key != "" {
			fmt.Fprintf(&b, ", key=%s", e.Key)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports that an entity does not exist.
func NotFound(op, store, key string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Store: store, Key: key, Message: "not found"}
}

// DuplicateName reports a unique-name violation.
func DuplicateName(op, store, name string) *Error {
	return &Error{Code: CodeDuplicateName, Op: op, Store: store, Key: name, Message: "name already exists"}
}

// Validation reports missing or malformed required input.
func Validation(op, msg string) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: msg}
}

// Connection reports an unreachable or corrupt store.
func Connection(op, store string, err error) *Error {
	return &Error{Code: CodeConnection, Op: op, Store: store, Message: "store unavailable", Err: err}
}

// SchemaDrift reports a bootstrap or migration failure.
func SchemaDrift(op, store string, err error) *Error {
	return &Error{Code: CodeSchemaDrift, Op: op, Store: store, Message: "schema drift", Err: err}
}

// Wrap attaches code and context to an underlying storage error.
func Wrap(code Code, op, store string, err error) *Error {
	return &Error{Code: code, Op: op, Store: store, Message: "storage operation failed", Err: err}
}

// is reports whether err is an *Error with the given code.
func is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND error. Handles wrapped errors.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsDuplicateName reports whether err is a DUPLICATE_NAME error.
func IsDuplicateName(err error) bool { return is(err, CodeDuplicateName) }

// IsValidation reports whether err is a VALIDATION error.
func IsValidation(err error) bool { return is(err, CodeValidation) }

// IsConnection reports whether err is a CONNECTION error.
func IsConnection(err error) bool { return is(err, CodeConnection) }

// IsSchemaDrift reports whether err is a SCHEMA_DRIFT error.
func IsSchemaDrift(err error) bool { return is(err, CodeSchemaDrift) }

// IsMissingSchema reports whether err looks like a missing table or column
// error from the storage engine. Used to decide whether a failed operation
// should trigger one repair-and-retry cycle before surfacing.
func IsMissingSchema(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}
