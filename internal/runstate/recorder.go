package runstate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Recorder writes run.json and failure.json for CLI runs.
//
// A run whose hash matches an earlier attempt that did not succeed is linked
// to it as a retry.
type Recorder struct {
	Store *Store

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Recorder) NewRunID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// StartRun assigns an id and start time when missing, links retries and
// persists the run as running.
func (r *Recorder) StartRun(run Run) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if run.RunID == "" {
		id, err := r.NewRunID()
		if err != nil {
			return Run{}, fmt.Errorf("run id: %w", err)
		}
		run.RunID = id
	}
	if run.StartTime.IsZero() {
		run.StartTime = r.now()
	}
	run.Status = StatusRunning
	run.FinishTime = nil

	prev, ok, err := r.Store.LatestAttempt(run.RunHash)
	if err != nil {
		return Run{}, fmt.Errorf("looking up previous attempts: %w", err)
	}
	if ok && prev.RunID != run.RunID && prev.Status != StatusSucceeded {
		id := prev.RunID
		run.PreviousRunID = &id
		run.RetryCount = prev.RetryCount + 1
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// FinishRun marks run as succeeded.
func (r *Recorder) FinishRun(run Run) (Run, error) {
	return r.end(run, StatusSucceeded)
}

// RecordFailure marks run as failed and writes the classified failure.
func (r *Recorder) RecordFailure(run Run, cause error) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	f, err := FailureFromError(cause)
	if err != nil {
		return Run{}, err
	}
	if err := r.Store.SaveFailure(run.RunID, f); err != nil {
		return Run{}, err
	}
	return r.end(run, StatusFailed)
}

func (r *Recorder) end(run Run, status RunStatus) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	now := r.now()
	run.Status = status
	run.FinishTime = &now
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}
