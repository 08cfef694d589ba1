// Package resultcache stores reduced outputs keyed by run hash.
//
// A run hash covers every input fingerprint and every option that affects
// the result, and the reduction is deterministic, so a stored entry is
// exactly what re-running the reduction would produce.
package resultcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"powderreduce/internal/dataset"
)

// Entry is one cached reduction.
type Entry struct {
	// RunHash identifies the reduction.
	RunHash string `json:"run_hash"`

	// TraceHash is the hash of Trace.
	TraceHash string `json:"trace_hash"`

	// Output is the reduced dataset.
	Output *dataset.Dataset `json:"-"`

	// Trace is the canonical trace JSON of the reduction that produced
	// Output.
	Trace []byte `json:"-"`
}

// Cache provides storage and retrieval of reduction results.
type Cache interface {
	// Get returns the entry for runHash, or nil when there is none.
	Get(runHash string) (*Entry, error)

	// Put stores an entry, replacing any entry with the same run hash.
	Put(entry *Entry) error
}

const (
	metadataFile = "metadata.json"
	outputFile   = "output.cbor.zst"
	traceFile    = "trace.json"
)

// FileCache implements Cache on the filesystem.
//
// Structure:
//
//	{Dir}/
//	  {hash[0:2]}/
//	    {hash}/
//	      metadata.json
//	      output.cbor.zst
//	      trace.json
type FileCache struct {
	Dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

// Get returns the entry for runHash. A missing or partial entry is a miss.
func (c *FileCache) Get(runHash string) (*Entry, error) {
	if err := validHash(runHash); err != nil {
		return nil, err
	}
	entryDir := c.entryPath(runHash)

	data, err := os.ReadFile(filepath.Join(entryDir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}
	if entry.RunHash != runHash {
		return nil, fmt.Errorf("cache entry %s holds run hash %s", runHash, entry.RunHash)
	}

	entry.Output, err = dataset.ReadFile(filepath.Join(entryDir, outputFile))
	if err != nil {
		return nil, fmt.Errorf("reading cached output: %w", err)
	}
	entry.Trace, err = os.ReadFile(filepath.Join(entryDir, traceFile))
	if err != nil {
		return nil, fmt.Errorf("reading cached trace: %w", err)
	}
	return &entry, nil
}

// Put stores entry. The entry is assembled in a temporary directory and
// renamed into place, so a crash leaves either the old entry, the new
// entry or a miss.
func (c *FileCache) Put(entry *Entry) error {
	if entry == nil || entry.Output == nil {
		return errors.New("cache entry has no output")
	}
	if err := validHash(entry.RunHash); err != nil {
		return err
	}

	entryDir := c.entryPath(entry.RunHash)
	parentDir := filepath.Dir(entryDir)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-"+entry.RunHash+"-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	// Metadata goes last so it only appears once the payload is complete.
	if err := dataset.WriteFile(filepath.Join(tmpDir, outputFile), entry.Output); err != nil {
		return fmt.Errorf("writing cached output: %w", err)
	}
	if err := dataset.WriteFileAtomic(filepath.Join(tmpDir, traceFile), entry.Trace, 0o644); err != nil {
		return fmt.Errorf("writing cached trace: %w", err)
	}
	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := dataset.WriteFileAtomic(filepath.Join(tmpDir, metadataFile), meta, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not corruption.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

// entryPath shards entries by the first two hash characters.
func (c *FileCache) entryPath(runHash string) string {
	if len(runHash) < 2 {
		return filepath.Join(c.Dir, runHash)
	}
	return filepath.Join(c.Dir, runHash[:2], runHash)
}

func validHash(h string) error {
	if strings.TrimSpace(h) == "" {
		return errors.New("run hash is required")
	}
	if strings.ContainsAny(h, `/\.`) {
		return fmt.Errorf("invalid run hash %q", h)
	}
	return nil
}

// MemoryCache implements Cache in memory. It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

func (c *MemoryCache) Get(runHash string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[runHash]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (c *MemoryCache) Put(entry *Entry) error {
	if entry == nil || entry.Output == nil {
		return errors.New("cache entry has no output")
	}
	if err := validHash(entry.RunHash); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.RunHash] = copyEntry(entry)
	return nil
}

func copyEntry(e *Entry) *Entry {
	return &Entry{
		RunHash:   e.RunHash,
		TraceHash: e.TraceHash,
		Output:    e.Output.Clone(e.Output.Name),
		Trace:     append([]byte(nil), e.Trace...),
	}
}
