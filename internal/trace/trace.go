// Package trace records what a reduction did as a canonical, hashable
// document.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ReductionTrace is the canonical record of one reduction call.
//
// It captures logical facts only: stage transitions per working artifact,
// artifact registration and disposal, and masking outcomes. It never holds
// timestamps, pointer identities, call-scoped artifact prefixes or error
// strings, so two runs over the same inputs with the same options produce
// byte-identical traces regardless of goroutine scheduling.
//
// Canonical representation:
//   - Events are sorted via Canonicalize() using a fully specified ordering.
//   - JSON serialization uses a custom marshaler to fix field order and omit
//     absent optional fields.
type ReductionTrace struct {
	RunHash string
	Events  []Event
}

// EventKind is the stable discriminator for Event. The string values are
// part of the trace's canonical bytes; do not rename.
type EventKind string

const (
	EventArtifactRegistered EventKind = "ArtifactRegistered"
	EventStageEntered       EventKind = "StageEntered"
	EventMaskApplied        EventKind = "MaskApplied"
	EventMaskEmpty          EventKind = "MaskEmpty"
	EventArtifactDisposed   EventKind = "ArtifactDisposed"
)

// Event is a single logical transition or decision.
type Event struct {
	Kind EventKind

	// Subject is the call-local artifact name (e.g. "sample_0") the event is
	// about.
	Subject string

	// Stage and Step name the stage entered and its position in the
	// pipeline, for StageEntered events.
	Stage string
	Step  int

	// Reason is a stable reason code, e.g. the failure kind when the stage
	// entered is Failed.
	Reason string

	// Detectors lists detector ids, for MaskApplied events.
	Detectors []int32
}

// LocalName strips the call prefix from a pool artifact name so traces of
// different calls over the same inputs compare equal.
func LocalName(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ReductionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.RunHash == "" {
		return errors.New("runHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Subject == "" {
			return fmt.Errorf("events[%d].subject is required for kind %q", i, e.Kind)
		}
		if e.Kind == EventStageEntered && e.Stage == "" {
			return fmt.Errorf("events[%d].stage is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Rules:
//   - Detectors are copied and sorted; empty lists become nil.
//   - Events are stably sorted by (subject, kindOrder, step, stage, reason, detectors).
func (t *ReductionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Detectors) == 0 {
			t.Events[i].Detectors = nil
			continue
		}
		ids := make([]int32, len(t.Events[i].Detectors))
		copy(ids, t.Events[i].Detectors)
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		t.Events[i].Detectors = ids
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return lessIDs(a.Detectors, b.Detectors)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventArtifactRegistered:
		return 10
	case EventStageEntered:
		return 20
	case EventMaskApplied:
		return 30
	case EventMaskEmpty:
		return 40
	case EventArtifactDisposed:
		return 50
	default:
		return 1000
	}
}

func lessIDs(a, b []int32) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy so the caller's slices are untouched.
func (t ReductionTrace) CanonicalJSON() ([]byte, error) {
	c := ReductionTrace{RunHash: t.RunHash, Events: make([]Event, len(t.Events))}
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash returns the trace hash of the canonical JSON bytes.
func (t ReductionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order.
func (t ReductionTrace) MarshalJSON() ([]byte, error) {
	if t.RunHash == "" {
		return nil, errors.New("runHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"runHash":`)
	rh, _ := json.Marshal(t.RunHash)
	buf.Write(rh)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, "kind", string(e.Kind), true)
	writeString(&buf, "subject", e.Subject, false)
	writeString(&buf, "stage", e.Stage, false)
	if e.Step != 0 {
		fmt.Fprintf(&buf, `,"step":%d`, e.Step)
	}
	writeString(&buf, "reason", e.Reason, false)
	if len(e.Detectors) > 0 {
		ids := make([]int32, len(e.Detectors))
		copy(ids, e.Detectors)
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		buf.WriteString(`,"detectors":[`)
		for i, id := range ids {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%d", id)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, key, value string, first bool) {
	if value == "" && !first {
		return
	}
	if !first {
		buf.WriteByte(',')
	}
	kb, _ := json.Marshal(key)
	vb, _ := json.Marshal(value)
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
}
