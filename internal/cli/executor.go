package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"powderreduce/internal/config"
	"powderreduce/internal/dataset"
	"powderreduce/internal/reduction"
	"powderreduce/internal/resultcache"
	"powderreduce/internal/runstate"
	"powderreduce/internal/trace"
)

// Result is the outcome of one command.
type Result struct {
	ExitCode int

	// Output is the dataset written on success.
	Output *dataset.Dataset

	RunID     string
	RunHash   string
	TraceHash string

	// Masked lists the detectors mask-angle selected.
	Masked []dataset.DetectorID
}

// Env carries the process surroundings of an execution.
type Env struct {
	// Stderr receives log output; nil discards it.
	Stderr io.Writer
	// Now is the clock used for run records; nil means time.Now.
	Now func() time.Time
}

// Execute runs inv with logs on os.Stderr.
func Execute(ctx context.Context, inv Invocation) (Result, error) {
	return ExecuteWithEnv(ctx, inv, Env{Stderr: os.Stderr})
}

// ExecuteWithEnv runs a canonical invocation.
//
// Responsibilities:
//   - Merge config file and flags, and load every input before any work.
//   - Record the run under the state directory, when one is configured.
//   - Write the trace even when the reduction fails.
//   - Translate outcomes into semantic exit codes, including panics.
func ExecuteWithEnv(ctx context.Context, inv Invocation, env Env) (res Result, execErr error) {
	res.ExitCode = ExitInternalError

	cfg, err := loadConfig(inv)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	stderr := env.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	logger, err := cfg.Logging.NewLogger(stderr)
	if err != nil {
		res.ExitCode = ExitInvalidInvocation
		return res, err
	}

	x := &execution{inv: inv, cfg: cfg, logger: logger}
	if cfg.Paths.StateDir != "" {
		st, err := runstate.NewStore(cfg.Paths.StateDir)
		if err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
		x.recorder = &runstate.Recorder{Store: st, Now: env.Now}
	}
	if cfg.Paths.CacheDir != "" {
		x.cache = resultcache.NewFileCache(cfg.Paths.CacheDir)
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("panic: %v", r)
			logger.Error("internal error", "panic", r)
			x.fail(execErr)
		}
	}()

	switch inv.Command {
	case CommandReduce:
		return x.reduce(ctx)
	case CommandMaskAngle:
		return x.maskAngle()
	default:
		err := invalidInvocationf("unknown command %q", inv.Command)
		res.ExitCode = ExitInvalidInvocation
		return res, err
	}
}

// execution is the state of one command run.
type execution struct {
	inv      Invocation
	cfg      *config.Config
	logger   *slog.Logger
	recorder *runstate.Recorder
	cache    resultcache.Cache
	run      runstate.Run
	started  bool
}

func (x *execution) start(runHash string, inputs []string) string {
	if x.recorder == nil {
		return ""
	}
	run, err := x.recorder.StartRun(runstate.Run{
		RunHash: runHash,
		Command: runstate.Command(x.inv.Command),
		Inputs:  inputs,
	})
	if err != nil {
		x.logger.Warn("run record not written", "error", err)
		return ""
	}
	x.run, x.started = run, true
	if run.PreviousRunID != nil {
		x.logger.Info("retrying earlier run", "run", run.RunID, "previous_run", *run.PreviousRunID, "retry", run.RetryCount)
	}
	return run.RunID
}

func (x *execution) finish(output, traceHash string) {
	if !x.started {
		return
	}
	x.run.Output = output
	x.run.TraceHash = traceHash
	if _, err := x.recorder.FinishRun(x.run); err != nil {
		x.logger.Warn("run record not updated", "error", err)
	}
}

func (x *execution) fail(cause error) {
	if !x.started {
		return
	}
	if _, err := x.recorder.RecordFailure(x.run, cause); err != nil {
		x.logger.Warn("failure record not written", "error", err)
	}
	x.started = false
}

func (x *execution) reduce(ctx context.Context) (Result, error) {
	res := Result{ExitCode: ExitInternalError}
	in, err := loadInputs(x.inv)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	opts, err := reductionOptions(x.inv, x.cfg, in)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	res.RunHash = opts.RunHash()
	res.RunID = x.start(res.RunHash, in.paths(x.inv))

	if hit, ok := x.cached(res.RunHash); ok {
		return x.replay(res, hit)
	}

	rec := trace.NewRecorder()
	r := &reduction.Reducer{
		Logger:      x.logger,
		Trace:       rec,
		Concurrency: x.cfg.Reduction.Concurrency,
	}
	if x.inv.DumpDir != "" {
		r.OnDispose = dumpTo(x.inv.DumpDir)
	}

	out, err := r.Reduce(ctx, opts)
	traceHash, traceErr := x.writeTrace(rec.Trace(res.RunHash))
	res.TraceHash = traceHash
	if err != nil {
		x.fail(err)
		res.ExitCode = exitCodeFor(err)
		return res, err
	}
	if traceErr != nil {
		x.fail(traceErr)
		res.ExitCode = ExitConfigError
		return res, traceErr
	}

	if err := dataset.WriteFile(x.inv.Output, out.Output); err != nil {
		err = fmt.Errorf("writing output: %w", err)
		x.fail(err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	x.logger.Info("reduced dataset written", "path", x.inv.Output, "bins", out.Bins, "xmin", out.XMin, "xmax", out.XMax)
	x.store(res.RunHash, traceHash, out.Output, rec.Trace(res.RunHash))
	x.finish(x.inv.Output, traceHash)
	res.Output = out.Output
	res.ExitCode = ExitSuccess
	return res, nil
}

// cached looks runHash up in the result cache. Lookup errors are logged
// and treated as a miss.
func (x *execution) cached(runHash string) (*resultcache.Entry, bool) {
	if x.cache == nil {
		return nil, false
	}
	e, err := x.cache.Get(runHash)
	if err != nil {
		x.logger.Warn("result cache unreadable", "run_hash", runHash, "error", err)
		return nil, false
	}
	return e, e != nil
}

// replay writes a cached reduction as if it had just run.
func (x *execution) replay(res Result, e *resultcache.Entry) (Result, error) {
	if x.inv.TracePath != "" {
		if err := dataset.WriteFileAtomic(x.inv.TracePath, e.Trace, 0o644); err != nil {
			err = fmt.Errorf("writing trace: %w", err)
			x.fail(err)
			res.ExitCode = ExitConfigError
			return res, err
		}
	}
	// The name is not part of the run hash.
	out := e.Output
	out.Name = x.inv.OutputName
	if out.Name == "" {
		out.Name = reduction.DefaultOutputName
	}
	if err := dataset.WriteFile(x.inv.Output, out); err != nil {
		err = fmt.Errorf("writing output: %w", err)
		x.fail(err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	x.logger.Info("reduced dataset replayed from cache", "path", x.inv.Output, "run_hash", e.RunHash)
	x.finish(x.inv.Output, e.TraceHash)
	res.TraceHash = e.TraceHash
	res.Output = out
	res.ExitCode = ExitSuccess
	return res, nil
}

func (x *execution) store(runHash, traceHash string, out *dataset.Dataset, tr trace.ReductionTrace) {
	if x.cache == nil {
		return
	}
	b, err := tr.CanonicalJSON()
	if err == nil {
		err = x.cache.Put(&resultcache.Entry{RunHash: runHash, TraceHash: traceHash, Output: out, Trace: b})
	}
	if err != nil {
		x.logger.Warn("result not cached", "run_hash", runHash, "error", err)
	}
}

func (x *execution) maskAngle() (Result, error) {
	res := Result{ExitCode: ExitInternalError}
	d, err := dataset.ReadFile(x.inv.Input)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	res.RunHash = trace.ComputeRunHash(
		string(CommandMaskAngle),
		dataset.ComputeFingerprint(d).String(),
		strconv.FormatFloat(x.inv.MinAngle, 'g', -1, 64),
		strconv.FormatFloat(x.inv.MaxAngle, 'g', -1, 64),
	)
	res.RunID = x.start(res.RunHash, []string{x.inv.Input})

	ids, err := reduction.MaskByAngle(d, x.inv.MinAngle, x.inv.MaxAngle, x.logger)
	if err != nil {
		x.fail(err)
		res.ExitCode = exitCodeFor(err)
		return res, err
	}
	if err := dataset.WriteFile(x.inv.Output, d); err != nil {
		err = fmt.Errorf("writing output: %w", err)
		x.fail(err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	x.logger.Info("detectors masked",
		"count", len(ids),
		"min", x.inv.MinAngle,
		"max", x.inv.MaxAngle,
		"path", x.inv.Output,
	)
	x.finish(x.inv.Output, "")
	res.Output = d
	res.Masked = ids
	res.ExitCode = ExitSuccess
	return res, nil
}

// writeTrace writes the canonical trace when a trace path is configured and
// returns its hash.
func (x *execution) writeTrace(tr trace.ReductionTrace) (string, error) {
	b, err := tr.CanonicalJSON()
	if err != nil {
		return "", err
	}
	h := trace.ComputeTraceHash(b)
	if x.inv.TracePath == "" {
		return h, nil
	}
	if err := dataset.WriteFileAtomic(x.inv.TracePath, b, 0o644); err != nil {
		return h, fmt.Errorf("writing trace: %w", err)
	}
	return h, nil
}

// dumpTo stores every released intermediate as <dir>/<artifact>.cbor.zst.
func dumpTo(dir string) func(string, *dataset.Dataset) error {
	return func(name string, d *dataset.Dataset) error {
		return dataset.WriteFile(filepath.Join(dir, trace.LocalName(name)+".cbor.zst"), d)
	}
}

// exitCodeFor maps a command error to its exit code: reduction error kinds
// and cancellation are reduction failures, anything else is internal.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case dataset.KindOf(err) != nil:
		return ExitReductionFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitReductionFailure
	default:
		return ExitInternalError
	}
}
