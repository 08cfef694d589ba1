package runstate

import (
	"context"
	"errors"

	"powderreduce/internal/dataset"
	"powderreduce/internal/reduction"
)

// kindCodes maps each reduction error kind to its failure class and stable
// error code.
var kindCodes = []struct {
	kind  error
	class FailureClass
	code  string
}{
	{dataset.ErrInvalidRange, FailureClassInput, "InvalidRange"},
	{dataset.ErrInvalidInput, FailureClassInput, "InvalidInput"},
	{dataset.ErrUnsupportedWorkspace, FailureClassInput, "UnsupportedWorkspace"},
	{dataset.ErrMissingMetadata, FailureClassMetadata, "MissingMetadata"},
	{dataset.ErrNormalization, FailureClassMetadata, "Normalization"},
	{dataset.ErrIncompatibleMerge, FailureClassMerge, "IncompatibleMerge"},
}

// FailureFromError classifies err into a failure record. Only system
// failures are retryable: every other class is a property of the inputs.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	f := Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "Internal",
		ErrorMessage: err.Error(),
		Retryable:    true,
	}
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			f.FailureClass = kc.class
			f.ErrorCode = kc.code
			f.Retryable = false
			break
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		f.ErrorCode = "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		f.ErrorCode = "DeadlineExceeded"
	}

	var se *reduction.StageError
	if errors.As(err, &se) && se != nil {
		if se.Artifact != "" {
			a := se.Artifact
			f.Artifact = &a
		}
		f.Stage = string(se.Stage)
	}
	return f, nil
}
