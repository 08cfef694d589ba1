package runstate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_SaveAndLoadRun_PreviousRunIDIsNull(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	run := Run{
		RunID:     "run-123",
		RunHash:   "rh-abc",
		Command:   CommandReduce,
		StartTime: time.Unix(1, 2).UTC(),
		Status:    StatusRunning,
		Inputs:    []string{"a.cbor"},
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "runs", "run-123", "run.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "\"previous_run_id\": null") {
		t.Fatalf("expected previous_run_id to be null; got: %s", string(data))
	}

	loaded, err := store.LoadRun("run-123")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.RunID != run.RunID || loaded.RunHash != run.RunHash || loaded.Inputs[0] != "a.cbor" {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
	if loaded.PreviousRunID != nil {
		t.Fatalf("expected PreviousRunID nil; got %v", *loaded.PreviousRunID)
	}
}

func TestStore_RejectsInvalidRun(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	err := store.SaveRun(Run{RunID: "r", RunHash: "h", Command: CommandReduce, StartTime: time.Unix(1, 0), Status: StatusSucceeded})
	if err == nil {
		t.Fatalf("expected error for an ended run without finish_time")
	}
	if ids, _ := store.ListRunIDs(); len(ids) != 0 {
		t.Fatalf("invalid run was persisted: %v", ids)
	}
}

func TestStore_LoadRun_RejectsUnknownFields(t *testing.T) {
	base := t.TempDir()
	store, _ := NewStore(base)
	path := filepath.Join(base, "runs", "r1", "run.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	body := `{"run_id":"r1","run_hash":"h","command":"reduce","start_time":"2020-01-01T00:00:00Z","status":"running","retry_count":0,"previous_run_id":null,"inputs":[],"extra":1}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.LoadRun("r1"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestStore_SaveAndLoadFailure_ArtifactOptional(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f := Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "Canceled",
		ErrorMessage: "context canceled",
		Retryable:    true,
	}
	if err := store.SaveFailure("run-9", f); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	loaded, err := store.LoadFailure("run-9")
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if loaded.FailureClass != FailureClassSystem || loaded.Artifact != nil || !loaded.Retryable {
		t.Fatalf("loaded failure mismatch: %+v", loaded)
	}
}

func TestStore_LatestAttempt(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	save := func(id, hash string, start int64) {
		t.Helper()
		if err := store.SaveRun(Run{RunID: id, RunHash: hash, Command: CommandReduce, StartTime: time.Unix(start, 0).UTC(), Status: StatusRunning}); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	save("b", "h1", 10)
	save("a", "h1", 20)
	save("c", "h2", 30)

	run, ok, err := store.LatestAttempt("h1")
	if err != nil || !ok {
		t.Fatalf("LatestAttempt: ok=%v err=%v", ok, err)
	}
	if run.RunID != "a" {
		t.Fatalf("latest attempt = %s, want a", run.RunID)
	}
	if _, ok, _ := store.LatestAttempt("h3"); ok {
		t.Fatalf("found an attempt for an unknown hash")
	}
}
