package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to react
type ErrorKind string

const (
	KindMetadata       ErrorKind = "MetadataError"
	KindProvider       ErrorKind = "ProviderError"
	KindProvisioning   ErrorKind = "ProvisioningError"
	KindWaitTimeout    ErrorKind = "WaitTimeoutError"
	KindValidation     ErrorKind = "ValidationError"
	KindAttachConflict ErrorKind = "AttachConflictError"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrMetadata       = &Error{Kind: KindMetadata}
	ErrProvider       = &Error{Kind: KindProvider}
	ErrProvisioning   = &Error{Kind: KindProvisioning}
	ErrWaitTimeout    = &Error{Kind: KindWaitTimeout}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAttachConflict = &Error{Kind: KindAttachConflict}
)

// Error is a classified ebspin failure
type Error struct {
	Kind     ErrorKind
	Op       string
	Resource string
	Err      error
}

// NewError wraps err with a kind and the operation that failed
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithResource returns a copy of e naming the affected resource
func (e *Error) WithResource(id string) *Error {
	out := *e
	out.Resource = id
	return &out
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Resource != "" {
		msg += " " + e.Resource
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the outermost classified error in err's
// chain, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
