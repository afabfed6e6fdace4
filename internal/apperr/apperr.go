package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	NotFound             Kind = "NOT_FOUND"
	PreconditionFailed   Kind = "PRECONDITION_FAILED"
	InvalidSchedule      Kind = "INVALID_SCHEDULE"
	InvalidState         Kind = "INVALID_STATE"
	UnsupportedPlatform  Kind = "UNSUPPORTED_PLATFORM"
	PlatformAPI          Kind = "PLATFORM_API_ERROR"
	ConfigurationMissing Kind = "CONFIGURATION_MISSING"
	InvalidRequest       Kind = "INVALID_REQUEST"
	Internal             Kind = "INTERNAL"
)

// Error is the structured error surfaced to callers of the scheduling core.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: NotFound})
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
