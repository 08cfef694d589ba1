// Package pool tracks the intermediate datasets of one reduction call and
// guarantees they are all released when the call ends.
package pool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"powderreduce/internal/dataset"
)

// ErrDuplicate is returned when an artifact name is registered twice.
var ErrDuplicate = errors.New("artifact already registered")

// ErrUnknown is returned when replacing an artifact that is not in the pool.
var ErrUnknown = errors.New("artifact not registered")

// callSeq numbers pools process-wide so concurrent reductions never share
// artifact names.
var callSeq atomic.Uint64

// Observer is told about every registration and disposal, in order.
type Observer interface {
	ArtifactRegistered(name string)
	ArtifactDisposed(name string)
}

// Options configure a Pool. The zero value is usable.
type Options struct {
	Logger   *slog.Logger
	Observer Observer

	// OnDispose, when set, is called with each artifact as it leaves the
	// pool. Its errors are collected by Drain; the artifact is removed
	// regardless.
	OnDispose func(name string, d *dataset.Dataset) error
}

// Pool maps artifact names to datasets. Names have the form
// "<call-id>/<role>_<index>" and are unique for the life of the process.
//
// A Pool is owned by one reduction call. Its methods are safe for use by the
// goroutines of that call.
type Pool struct {
	mu      sync.Mutex
	callID  string
	entries map[string]*dataset.Dataset
	order   []string

	logger    *slog.Logger
	observer  Observer
	onDispose func(string, *dataset.Dataset) error
}

// New returns an empty pool with a fresh call id.
func New(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		callID:    fmt.Sprintf("call-%d", callSeq.Add(1)),
		entries:   make(map[string]*dataset.Dataset),
		logger:    logger,
		observer:  opts.Observer,
		onDispose: opts.OnDispose,
	}
}

// CallID returns the prefix shared by every name in this pool.
func (p *Pool) CallID() string { return p.callID }

// Name returns the artifact name for role and index in this pool.
func (p *Pool) Name(role string, index int) string {
	return fmt.Sprintf("%s/%s_%d", p.callID, role, index)
}

// Register adds d under the name for role and index, renames d to match
// and returns the name.
func (p *Pool) Register(role string, index int, d *dataset.Dataset) (string, error) {
	name := p.Name(role, index)

	p.mu.Lock()
	if _, exists := p.entries[name]; exists {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	d.Name = name
	p.entries[name] = d
	p.order = append(p.order, name)
	p.mu.Unlock()

	p.logger.Debug("artifact registered", "artifact", name)
	if p.observer != nil {
		p.observer.ArtifactRegistered(name)
	}
	return name, nil
}

// Replace swaps the dataset held under name for d, the result of a further
// processing step on the same artifact.
func (p *Pool) Replace(name string, d *dataset.Dataset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	d.Name = name
	p.entries[name] = d
	return nil
}

// Get returns the dataset held under name.
func (p *Pool) Get(name string) (*dataset.Dataset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.entries[name]
	return d, ok
}

// Has reports whether name is live in the pool.
func (p *Pool) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Len returns the number of live artifacts.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Names returns the live artifact names in registration order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.entries))
	for _, name := range p.order {
		if _, ok := p.entries[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Dispose removes name from the pool. Disposing a name that is not present
// is a no-op.
func (p *Pool) Dispose(name string) error {
	p.mu.Lock()
	d, ok := p.entries[name]
	if ok {
		delete(p.entries, name)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	p.logger.Debug("artifact disposed", "artifact", name)
	if p.observer != nil {
		p.observer.ArtifactDisposed(name)
	}
	if p.onDispose != nil {
		if err := p.onDispose(name, d); err != nil {
			return fmt.Errorf("disposing %s: %w", name, err)
		}
	}
	return nil
}

// Drain disposes every live artifact in registration order. Every artifact
// leaves the pool even when some disposals fail; the failures are joined.
func (p *Pool) Drain() error {
	var errs []error
	for _, name := range p.Names() {
		if err := p.Dispose(name); err != nil {
			errs = append(errs, err)
		}
	}
	p.mu.Lock()
	p.order = p.order[:0]
	p.mu.Unlock()
	return errors.Join(errs...)
}
