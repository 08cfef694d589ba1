package runstate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Command names the CLI operation a run performed.
type Command string

const (
	CommandReduce    Command = "reduce"
	CommandMaskAngle Command = "mask-angle"
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Run is the persistent record of one CLI invocation.
//
// run_hash identifies the reduction by its inputs and options, so repeated
// attempts at the same reduction share it. previous_run_id is always present
// and null for a first attempt.
type Run struct {
	RunID         string     `json:"run_id"`
	RunHash       string     `json:"run_hash"`
	Command       Command    `json:"command"`
	StartTime     time.Time  `json:"start_time"`
	FinishTime    *time.Time `json:"finish_time,omitempty"`
	Status        RunStatus  `json:"status"`
	RetryCount    int        `json:"retry_count"`
	PreviousRunID *string    `json:"previous_run_id"`
	Inputs        []string   `json:"inputs"`
	Output        string     `json:"output,omitempty"`
	TraceHash     string     `json:"trace_hash,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.RunHash) == "" {
		errs = append(errs, errors.New("run_hash is required"))
	}
	switch r.Command {
	case CommandReduce, CommandMaskAngle:
	default:
		errs = append(errs, fmt.Errorf("invalid command %q", r.Command))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Status != StatusRunning && r.FinishTime == nil {
		errs = append(errs, errors.New("finish_time is required once a run has ended"))
	}
	if r.RetryCount < 0 {
		errs = append(errs, errors.New("retry_count must be >= 0"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	// FailureClassInput covers bad ranges, bad invocations and datasets of
	// the wrong kind. Retrying without changing the request fails again.
	FailureClassInput FailureClass = "input"
	// FailureClassMetadata covers missing or unusable exposure metadata.
	FailureClassMetadata FailureClass = "metadata"
	// FailureClassMerge covers samples that cannot be combined.
	FailureClassMerge FailureClass = "merge"
	// FailureClassSystem covers everything else: I/O, cancellation, panics.
	FailureClassSystem FailureClass = "system"
)

// Failure is the recorded reason a run ended unsuccessfully.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Artifact     *string      `json:"artifact,omitempty"`
	Stage        string       `json:"stage,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Retryable    bool         `json:"retryable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassInput, FailureClassMetadata, FailureClassMerge, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Artifact != nil && strings.TrimSpace(*f.Artifact) == "" {
		errs = append(errs, errors.New("artifact must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
