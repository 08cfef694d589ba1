package reduction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"powderreduce/internal/axis"
	"powderreduce/internal/dataset"
	"powderreduce/internal/exposure"
	"powderreduce/internal/geometry"
	"powderreduce/internal/masking"
	"powderreduce/internal/ops"
	"powderreduce/internal/pool"
	"powderreduce/internal/trace"
)

// Artifact roles, used in pool names.
const (
	roleSample      = "sample"
	roleBackground  = "bkg"
	roleCalibration = "cal"
	roleMerged      = "merged"
)

// Reducer runs powder reductions. The zero value is usable; a Reducer holds
// no per-call state and may run several reductions concurrently.
type Reducer struct {
	Logger *slog.Logger

	// Trace receives the logical events of every call. If it also
	// implements pool.Observer it is told about artifact lifetimes.
	Trace trace.Sink

	// Concurrency bounds how many datasets are processed at once in the
	// per-dataset stages. Zero means GOMAXPROCS.
	Concurrency int

	// OnDispose is handed each intermediate artifact as the pool releases
	// it.
	OnDispose func(name string, d *dataset.Dataset) error
}

// Result is the outcome of one reduction.
type Result struct {
	// Output is the reduced spectrum. It is owned by the caller. Nil when
	// the reduction failed.
	Output *dataset.Dataset

	RunHash string

	// XMin and XMax are the bounds actually used, Bins the bin count.
	XMin, XMax float64
	Bins       int

	// Masked lists, per sample index, the detectors excluded from it.
	Masked [][]dataset.DetectorID

	// Stages is the final stage of every working artifact.
	Stages StageState
}

// call is the state of one Reduce invocation: its options, its artifact
// pool and the working set of artifact names.
type call struct {
	r      *Reducer
	opts   Options
	logger *slog.Logger
	pool   *pool.Pool
	stages *stageTable

	samples     []string
	backgrounds []string
	calibration string

	sampleMasks []dataset.Mask
	xMin, xMax  float64

	// Set by planReferences: the references combined with each sample, the
	// copies made of shared references, and the mask of every reference.
	calFor, bkgFor []string
	copies         []string
	refMask        map[string]dataset.Mask
	isCalibration  map[string]bool
}

// Reduce normalizes, masks, converts, resamples and combines the datasets
// described by opts into one weighted spectrum.
//
// Every intermediate dataset lives in a pool scoped to this call and is
// disposed before Reduce returns, on success and on failure. On failure the
// returned Result carries the run hash and final stages; errors keep their
// dataset error kind.
func (r *Reducer) Reduce(ctx context.Context, opts Options) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolOpts := pool.Options{Logger: logger, OnDispose: r.OnDispose}
	if obs, ok := r.Trace.(pool.Observer); ok {
		poolOpts.Observer = obs
	}

	c := &call{
		r:      r,
		opts:   opts,
		logger: logger,
		pool:   pool.New(poolOpts),
		stages: newStageTable(logger, r.Trace),
	}
	res := &Result{RunHash: opts.RunHash(), Bins: opts.Bins}
	logger = logger.With("call", c.pool.CallID())
	c.logger = logger

	defer func() {
		if err := c.pool.Drain(); err != nil {
			logger.Warn("artifact disposal failed", "error", err)
		}
	}()

	out, err := c.run(ctx)
	res.Stages = c.stages.snapshot()
	res.XMin, res.XMax = c.xMin, c.xMax
	for _, m := range c.sampleMasks {
		res.Masked = append(res.Masked, m.IDs())
	}
	if err != nil {
		c.stages.failAll(reasonFor(err))
		res.Stages = c.stages.snapshot()
		return res, err
	}
	res.Output = out
	logger.Info("reduction complete",
		"output", out.Name,
		"bins", opts.Bins,
		"xmin", c.xMin,
		"xmax", c.xMax,
		"samples", len(opts.Samples),
		"merged_rows", c.mergedRows(),
	)
	return res, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	}
	if kind := dataset.KindOf(err); kind != nil {
		return kind.Error()
	}
	return "Internal"
}

func (c *call) mergedRows() int {
	if d, ok := c.pool.Get(c.pool.Name(roleMerged, 0)); ok {
		return d.Len()
	}
	return 0
}

func (c *call) run(ctx context.Context) (*dataset.Dataset, error) {
	if err := c.register(); err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, c.samples, c.prepareSample); err != nil {
		return nil, err
	}
	if err := c.checkSampleCounts(); err != nil {
		return nil, err
	}
	if err := c.planReferences(); err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, c.samples, c.convert); err != nil {
		return nil, err
	}
	refs := c.references()
	if err := c.forEach(ctx, refs, c.prepareReference); err != nil {
		return nil, err
	}
	if err := c.resolveRange(); err != nil {
		return nil, err
	}
	all := append(append([]string(nil), c.samples...), refs...)
	if err := c.forEach(ctx, all, c.resample); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.combineAndMerge()
}

// register clones every input into the pool. Samples are registered first.
func (c *call) register() error {
	add := func(role string, i int, d *dataset.Dataset) (string, error) {
		name, err := c.pool.Register(role, i, d.Clone(""))
		if err != nil {
			return "", fmt.Errorf("%w: %v", errInternal, err)
		}
		c.stages.add(name)
		return name, nil
	}
	for i, d := range c.opts.Samples {
		name, err := add(roleSample, i, d)
		if err != nil {
			return err
		}
		c.samples = append(c.samples, name)
	}
	for i, d := range c.opts.Backgrounds {
		name, err := add(roleBackground, i, d)
		if err != nil {
			return err
		}
		c.backgrounds = append(c.backgrounds, name)
	}
	if c.opts.Calibration != nil {
		name, err := add(roleCalibration, 0, c.opts.Calibration)
		if err != nil {
			return err
		}
		c.calibration = name
	}
	c.sampleMasks = make([]dataset.Mask, len(c.samples))
	return nil
}

// references lists every reference artifact: backgrounds, the calibration,
// then per-sample copies.
func (c *call) references() []string {
	refs := append([]string(nil), c.backgrounds...)
	if c.calibration != "" {
		refs = append(refs, c.calibration)
	}
	return append(refs, c.copies...)
}

// planReferences picks the references each sample is combined with and the
// mask each reference is extracted with. A reference is masked like the
// sample it corrects. A reference shared by samples whose masks differ is
// copied once per further sample, so no sample is corrected over detectors
// it kept but its reference dropped.
func (c *call) planReferences() error {
	n := len(c.samples)
	c.calFor = make([]string, n)
	c.bkgFor = make([]string, n)
	c.refMask = make(map[string]dataset.Mask)
	c.isCalibration = make(map[string]bool)

	uniform := true
	for _, m := range c.sampleMasks[1:] {
		if !m.Equal(c.sampleMasks[0]) {
			uniform = false
			break
		}
	}
	forSample := func(role, base string, src *dataset.Dataset, i int) (string, error) {
		if uniform || i == 0 {
			return base, nil
		}
		name, err := c.pool.Register(role, i, src.Clone(""))
		if err != nil {
			return "", fmt.Errorf("%w: %v", errInternal, err)
		}
		c.stages.add(name)
		c.copies = append(c.copies, name)
		return name, nil
	}

	for i := range c.samples {
		if c.calibration != "" {
			name, err := forSample(roleCalibration, c.calibration, c.opts.Calibration, i)
			if err != nil {
				return err
			}
			c.calFor[i] = name
			c.isCalibration[name] = true
			c.refMask[name] = c.sampleMasks[i]
		}
		b := c.opts.backgroundFor(i)
		if b < 0 {
			continue
		}
		name := c.backgrounds[b]
		if len(c.backgrounds) != n {
			var err error
			if name, err = forSample(roleBackground, name, c.opts.Backgrounds[b], i); err != nil {
				return err
			}
		}
		c.bkgFor[i] = name
		c.refMask[name] = c.sampleMasks[i]
	}
	if uniform {
		c.logger.Debug("references share the sample mask", "detectors", c.sampleMasks[0].Len())
	} else {
		c.logger.Debug("sample masks differ, references masked per sample", "copies", len(c.copies))
	}
	return nil
}

func (c *call) concurrency() int {
	if c.r.Concurrency > 0 {
		return c.r.Concurrency
	}
	return runtime.GOMAXPROCS(0)
}

func (c *call) forEach(ctx context.Context, names []string, fn func(i int, name string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i, name)
		})
	}
	return g.Wait()
}

// update applies fn to the artifact held under name and advances its stage.
func (c *call) update(name string, from, to Stage, fn func(*dataset.Dataset) (*dataset.Dataset, error)) error {
	cur, ok := c.pool.Get(name)
	if !ok {
		return fmt.Errorf("%w: artifact %s missing from pool", errInternal, name)
	}
	next, err := fn(cur)
	if err != nil {
		return &StageError{Artifact: trace.LocalName(name), Stage: to, Err: err}
	}
	if err := c.pool.Replace(name, next); err != nil {
		return fmt.Errorf("%w: %v", errInternal, err)
	}
	if err := c.stages.advance(name, from, to); err != nil {
		return fmt.Errorf("%w: %v", errInternal, err)
	}
	return nil
}

// prepareSample normalizes sample i against the calibration exposure, then
// builds and applies its mask.
func (c *call) prepareSample(i int, name string) error {
	if err := c.update(name, StageInit, StageNormalized, func(d *dataset.Dataset) (*dataset.Dataset, error) {
		out, _, err := exposure.Normalize(d, c.opts.Calibration, c.opts.normaliseBy())
		return out, err
	}); err != nil {
		return err
	}
	return c.update(name, StageNormalized, StageMasked, func(d *dataset.Dataset) (*dataset.Dataset, error) {
		if c.opts.MaskAngle != nil {
			if _, err := geometry.MaskByAngle(d, geometry.MinAngle, *c.opts.MaskAngle, c.logger); err != nil {
				return nil, err
			}
		}
		mask := masking.Combine(masking.Extract(d), c.opts.ExternalMask)
		c.sampleMasks[i] = mask
		c.recordMask(name, mask)
		return masking.ExtractUnmasked(d, mask), nil
	})
}

func (c *call) recordMask(name string, mask dataset.Mask) {
	local := trace.LocalName(name)
	if mask.Len() == 0 {
		trace.SafeRecord(c.r.Trace, trace.Event{Kind: trace.EventMaskEmpty, Subject: local})
		return
	}
	ids := mask.IDs()
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	trace.SafeRecord(c.r.Trace, trace.Event{Kind: trace.EventMaskApplied, Subject: local, Detectors: out})
}

// checkSampleCounts rejects samples that kept different numbers of
// detectors, before any axis work is done.
func (c *call) checkSampleCounts() error {
	first, _ := c.pool.Get(c.samples[0])
	for i, name := range c.samples[1:] {
		d, _ := c.pool.Get(name)
		if d.Len() != first.Len() {
			return dataset.Errorf(dataset.ErrIncompatibleMerge,
				"sample 0 keeps %d detectors after masking, sample %d keeps %d", first.Len(), i+1, d.Len())
		}
	}
	return nil
}

// convert integrates event data, converts the spectrum axis and transposes.
func (c *call) convert(_ int, name string) error {
	return c.update(name, StageMasked, StageAxisConverted, func(d *dataset.Dataset) (*dataset.Dataset, error) {
		if d.IsEventCounted() {
			d = axis.Integrate(d)
		}
		conv, err := axis.ConvertAxis(d, c.opts.target(), c.opts.EFixed)
		if err != nil {
			return nil, err
		}
		return axis.Transpose(conv)
	})
}

// prepareReference takes a background or the calibration through
// normalization, masking like its sample, instrument parameter propagation
// and axis conversion.
func (c *call) prepareReference(_ int, name string) error {
	isBackground := !c.isCalibration[name]
	if err := c.update(name, StageInit, StageNormalized, func(d *dataset.Dataset) (*dataset.Dataset, error) {
		ref := c.opts.Calibration
		if !isBackground {
			ref = d
		}
		out, _, err := exposure.Normalize(d, ref, c.opts.normaliseBy())
		if err != nil {
			return nil, err
		}
		if isBackground {
			out = ops.Scale(out, c.opts.backgroundScale())
		}
		return out, nil
	}); err != nil {
		return err
	}
	mask := c.refMask[name]
	if err := c.update(name, StageNormalized, StageMasked, func(d *dataset.Dataset) (*dataset.Dataset, error) {
		c.recordMask(name, mask)
		out := masking.ExtractUnmasked(d, mask)
		copyInstrumentParameters(c.opts.Samples[0], out)
		return out, nil
	}); err != nil {
		return err
	}
	return c.convert(0, name)
}

// copyInstrumentParameters overwrites dst's instrument parameters with
// those of src.
func copyInstrumentParameters(src, dst *dataset.Dataset) {
	if len(src.Parameters) == 0 {
		return
	}
	if dst.Parameters == nil {
		dst.Parameters = make(map[string]float64, len(src.Parameters))
	}
	for k, v := range src.Parameters {
		dst.Parameters[k] = v
	}
}

// resolveRange fixes the output bounds, deriving any open bound from every
// converted dataset.
func (c *call) resolveRange() error {
	if c.opts.XMin != nil && c.opts.XMax != nil {
		c.xMin, c.xMax = *c.opts.XMin, *c.opts.XMax
		return nil
	}
	var all []*dataset.Dataset
	for _, name := range append(append([]string(nil), c.samples...), c.references()...) {
		d, _ := c.pool.Get(name)
		all = append(all, d)
	}
	lo, hi, err := axis.SharedRange(all...)
	if err != nil {
		return err
	}
	if c.opts.XMin != nil {
		lo = *c.opts.XMin
	}
	if c.opts.XMax != nil {
		hi = *c.opts.XMax
	}
	c.xMin, c.xMax = lo, hi
	c.logger.Debug("shared range derived", "xmin", lo, "xmax", hi)
	return axis.ValidateBinning(lo, hi, c.opts.Bins, c.opts.LogBinning)
}

func (c *call) resample(_ int, name string) error {
	return c.update(name, StageAxisConverted, StageResampled, func(d *dataset.Dataset) (*dataset.Dataset, error) {
		return axis.Resample(d, c.xMin, c.xMax, c.opts.Bins, c.opts.LogBinning)
	})
}

// combineAndMerge divides each sample by the calibration, subtracts its
// background and appends it to the merged artifact, strictly in sample
// order, then collapses the merged rows into the output.
func (c *call) combineAndMerge() (*dataset.Dataset, error) {
	mergedName := ""
	for i, name := range c.samples {
		if err := c.update(name, StageResampled, StageCombined, func(d *dataset.Dataset) (*dataset.Dataset, error) {
			out := d
			var err error
			if c.calFor[i] != "" {
				cal, _ := c.pool.Get(c.calFor[i])
				if out, err = ops.Divide(out, cal); err != nil {
					return nil, err
				}
			}
			if c.bkgFor[i] != "" {
				bkg, _ := c.pool.Get(c.bkgFor[i])
				if out, err = ops.Subtract(out, bkg); err != nil {
					return nil, err
				}
			}
			return out, nil
		}); err != nil {
			return nil, err
		}

		combined, _ := c.pool.Get(name)
		if mergedName == "" {
			n, err := c.pool.Register(roleMerged, 0, combined.Clone(""))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errInternal, err)
			}
			mergedName = n
		} else {
			merged, _ := c.pool.Get(mergedName)
			next, err := ops.Concatenate(merged, combined)
			if err != nil {
				return nil, fmt.Errorf("merging sample %d: %w", i, err)
			}
			if err := c.pool.Replace(mergedName, next); err != nil {
				return nil, fmt.Errorf("%w: %v", errInternal, err)
			}
		}
		if err := c.stages.advance(name, StageCombined, StageMerged); err != nil {
			return nil, fmt.Errorf("%w: %v", errInternal, err)
		}
	}

	merged, _ := c.pool.Get(mergedName)
	out, err := ops.WeightedSum(merged)
	if err != nil {
		return nil, err
	}
	out.Name = c.opts.outputName()

	for _, name := range c.samples {
		if err := c.stages.advance(name, StageMerged, StageDone); err != nil {
			return nil, fmt.Errorf("%w: %v", errInternal, err)
		}
	}
	for _, name := range c.references() {
		if err := c.stages.advance(name, StageResampled, StageDone); err != nil {
			return nil, fmt.Errorf("%w: %v", errInternal, err)
		}
	}
	return out, nil
}
