package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"powderreduce/internal/dataset"
)

// Store keeps run records under:
//
//	<baseDir>/runs/<run-id>/run.json
//	<baseDir>/runs/<run-id>/failure.json
//
// Every write is atomic and durable.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) runsRootDir() string { return filepath.Join(s.baseDir, "runs") }

func (s *Store) runDir(runID string) string { return filepath.Join(s.runsRootDir(), runID) }

func (s *Store) runPath(runID string) string { return filepath.Join(s.runDir(runID), "run.json") }

func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

// ListRunIDs returns all run IDs currently on disk, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.TrimSpace(e.Name()) == "" {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if run.Inputs == nil {
		run.Inputs = []string{}
	}
	data, err := jsonMarshalStable(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := dataset.WriteFileAtomic(s.runPath(run.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	data, err := jsonMarshalStable(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	if err := dataset.WriteFileAtomic(s.failurePath(runID), data, 0o644); err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if strings.TrimSpace(runID) == "" {
		return Failure{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.failurePath(runID), &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

// LatestAttempt returns the most recently started run with the given run
// hash. Unreadable run directories are skipped.
func (s *Store) LatestAttempt(runHash string) (Run, bool, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return Run{}, false, err
	}
	var latest Run
	found := false
	for _, id := range ids {
		run, err := s.LoadRun(id)
		if err != nil || run.RunHash != runHash {
			continue
		}
		if !found || run.StartTime.After(latest.StartTime) {
			latest = run
			found = true
		}
	}
	return latest, found, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
