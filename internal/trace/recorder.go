package trace

import "sync"

// Sink is the minimal interface the reduction depends on.
//
// Record must be inert: it must not panic and cannot fail. Callers assume
// Record may be a no-op.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord records an event and swallows any panic from a buggy sink.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory collector. Ordering is fixed
// after collection, so lock contention never changes the canonical trace.
//
// Recorder also observes an artifact pool, turning registrations and
// disposals into events.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// ArtifactRegistered records a pool registration.
func (r *Recorder) ArtifactRegistered(name string) {
	r.Record(Event{Kind: EventArtifactRegistered, Subject: LocalName(name)})
}

// ArtifactDisposed records a pool disposal.
func (r *Recorder) ArtifactDisposed(name string) {
	r.Record(Event{Kind: EventArtifactDisposed, Subject: LocalName(name)})
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical ReductionTrace from the recorded events.
func (r *Recorder) Trace(runHash string) ReductionTrace {
	tr := ReductionTrace{RunHash: runHash, Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}
