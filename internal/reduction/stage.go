package reduction

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"powderreduce/internal/trace"
)

// Stage is the pipeline position of one working artifact.
type Stage string

const (
	StageInit          Stage = "Init"
	StageNormalized    Stage = "Normalized"
	StageMasked        Stage = "Masked"
	StageAxisConverted Stage = "AxisConverted"
	StageResampled     Stage = "Resampled"
	StageCombined      Stage = "Combined"
	StageMerged        Stage = "Merged"
	StageDone          Stage = "Done"
	StageFailed        Stage = "Failed"
)

var stageOrder = map[Stage]int{
	StageInit:          0,
	StageNormalized:    1,
	StageMasked:        2,
	StageAxisConverted: 3,
	StageResampled:     4,
	StageCombined:      5,
	StageMerged:        6,
	StageDone:          7,
	StageFailed:        8,
}

// IsTerminal reports whether no further transition leaves s.
func IsTerminal(s Stage) bool { return s == StageDone || s == StageFailed }

// StageState holds the current stage of every artifact, keyed by
// call-local artifact name.
type StageState map[string]Stage

// Transition performs a validated transition for a single artifact.
//
// The caller supplies the expected prior stage so ordering bugs surface as
// errors. state is modified if and only if the transition is valid.
func Transition(state StageState, name string, from, to Stage) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown artifact in stage table: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	state[name] = to
	return nil
}

// isAllowedTransition permits the linear pipeline, the early finish of
// reference datasets once resampled, and failure from any live stage.
func isAllowedTransition(from, to Stage) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StageFailed {
		return true
	}
	if from == StageResampled && to == StageDone {
		return true
	}
	return stageOrder[to] == stageOrder[from]+1
}

// stageTable is the concurrency-safe stage bookkeeping of one call.
type stageTable struct {
	mu     sync.Mutex
	state  StageState
	logger *slog.Logger
	sink   trace.Sink
}

func newStageTable(logger *slog.Logger, sink trace.Sink) *stageTable {
	return &stageTable{state: make(StageState), logger: logger, sink: sink}
}

func (t *stageTable) add(name string) {
	t.mu.Lock()
	t.state[trace.LocalName(name)] = StageInit
	t.mu.Unlock()
}

func (t *stageTable) advance(name string, from, to Stage) error {
	local := trace.LocalName(name)
	t.mu.Lock()
	err := Transition(t.state, local, from, to)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.logger.Debug("stage transition", "dataset", local, "from", from, "to", to)
	trace.SafeRecord(t.sink, trace.Event{
		Kind:    trace.EventStageEntered,
		Subject: local,
		Stage:   string(to),
		Step:    stageOrder[to],
	})
	return nil
}

// failAll moves every live artifact to Failed, recording reason.
func (t *stageTable) failAll(reason string) {
	t.mu.Lock()
	var failed []string
	for name, st := range t.state {
		if IsTerminal(st) {
			continue
		}
		t.state[name] = StageFailed
		failed = append(failed, name)
	}
	t.mu.Unlock()

	sort.Strings(failed)
	for _, name := range failed {
		t.logger.Debug("stage transition", "dataset", name, "to", StageFailed, "reason", reason)
		trace.SafeRecord(t.sink, trace.Event{
			Kind:    trace.EventStageEntered,
			Subject: name,
			Stage:   string(StageFailed),
			Step:    stageOrder[StageFailed],
			Reason:  reason,
		})
	}
}

func (t *stageTable) snapshot() StageState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(StageState, len(t.state))
	for k, v := range t.state {
		out[k] = v
	}
	return out
}
