package runstate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"powderreduce/internal/dataset"
	"powderreduce/internal/reduction"
)

func TestFailureFromError_Classes(t *testing.T) {
	cases := []struct {
		err       error
		class     FailureClass
		code      string
		retryable bool
	}{
		{dataset.Errorf(dataset.ErrInvalidRange, "bins"), FailureClassInput, "InvalidRange", false},
		{dataset.Errorf(dataset.ErrInvalidInput, "no samples"), FailureClassInput, "InvalidInput", false},
		{dataset.Errorf(dataset.ErrUnsupportedWorkspace, "events"), FailureClassInput, "UnsupportedWorkspace", false},
		{dataset.Errorf(dataset.ErrMissingMetadata, "no charge"), FailureClassMetadata, "MissingMetadata", false},
		{dataset.Errorf(dataset.ErrNormalization, "zero"), FailureClassMetadata, "Normalization", false},
		{fmt.Errorf("merging: %w", dataset.Errorf(dataset.ErrIncompatibleMerge, "3 vs 4")), FailureClassMerge, "IncompatibleMerge", false},
		{context.Canceled, FailureClassSystem, "Canceled", true},
		{errors.New("disk full"), FailureClassSystem, "Internal", true},
	}
	for _, tc := range cases {
		f, err := FailureFromError(tc.err)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.FailureClass != tc.class || f.ErrorCode != tc.code || f.Retryable != tc.retryable {
			t.Fatalf("%v: unexpected failure: %#v", tc.err, f)
		}
		if err := f.Validate(); err != nil {
			t.Fatalf("%v: classified failure is invalid: %v", tc.err, err)
		}
	}
}

func TestFailureFromError_NamesArtifact(t *testing.T) {
	err := &reduction.StageError{
		Artifact: "cal_0",
		Stage:    reduction.StageNormalized,
		Err:      dataset.Errorf(dataset.ErrMissingMetadata, "no duration"),
	}
	f, ferr := FailureFromError(fmt.Errorf("reduce: %w", err))
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if f.Artifact == nil || *f.Artifact != "cal_0" || f.Stage != "Normalized" {
		t.Fatalf("unexpected failure: %#v", f)
	}
	if f.FailureClass != FailureClassMetadata {
		t.Fatalf("class = %s, want metadata", f.FailureClass)
	}
}

func TestFailureFromError_Nil(t *testing.T) {
	if _, err := FailureFromError(nil); err == nil {
		t.Fatalf("expected error for nil")
	}
}
