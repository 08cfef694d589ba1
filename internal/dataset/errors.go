package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange reports an inverted or out-of-domain interval, bin count or parameter.
	ErrInvalidRange = errors.New("invalid range")
	// ErrMissingMetadata reports an absent exposure log or charge.
	ErrMissingMetadata = errors.New("missing metadata")
	// ErrNormalization reports a zero or non-finite normalization factor.
	ErrNormalization = errors.New("normalization error")
	// ErrIncompatibleMerge reports datasets that cannot be combined.
	ErrIncompatibleMerge = errors.New("incompatible merge")
	// ErrUnsupportedWorkspace reports a dataset of the wrong kind for an operation.
	ErrUnsupportedWorkspace = errors.New("unsupported workspace")
	// ErrInvalidInput reports a structurally invalid request.
	ErrInvalidInput = errors.New("invalid input")
)

// Error wraps a reduction failure with its kind.
//
// Callers match on the kind with errors.Is and recover the message with errors.As.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the taxonomy sentinel carried by err, or nil if err is not
// one of the reduction error kinds.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidRange,
		ErrMissingMetadata,
		ErrNormalization,
		ErrIncompatibleMerge,
		ErrUnsupportedWorkspace,
		ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
