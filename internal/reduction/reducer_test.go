package reduction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"powderreduce/internal/axis"
	"powderreduce/internal/dataset"
	"powderreduce/internal/dataset/datasettest"
	"powderreduce/internal/exposure"
	"powderreduce/internal/ops"
	"powderreduce/internal/trace"
)

var approx = cmpopts.EquateApprox(1e-9, 1e-12)

func ptr(v float64) *float64 { return &v }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// tenDetectors puts one detector in the middle of each 0.1° bin of [1, 2].
func tenDetectors(name string, counts float64) *dataset.Dataset {
	d := datasettest.Histogram(name, datasettest.Ring(1, 10, 1.05, 1.95), []float64{0, 1000}, counts)
	datasettest.WithCharge(d, 5)
	return datasettest.WithDuration(d, 60)
}

// lifetimes counts artifact registrations and disposals.
type lifetimes struct {
	*trace.Recorder
	mu         sync.Mutex
	registered map[string]int
	disposed   map[string]int
}

func newLifetimes() *lifetimes {
	return &lifetimes{Recorder: trace.NewRecorder(), registered: map[string]int{}, disposed: map[string]int{}}
}

func (l *lifetimes) ArtifactRegistered(name string) {
	l.mu.Lock()
	l.registered[name]++
	l.mu.Unlock()
	l.Recorder.ArtifactRegistered(name)
}

func (l *lifetimes) ArtifactDisposed(name string) {
	l.mu.Lock()
	l.disposed[name]++
	l.mu.Unlock()
	l.Recorder.ArtifactDisposed(name)
}

func (l *lifetimes) assertDrained(t *testing.T) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.registered) == 0 {
		t.Fatalf("no artifacts were registered")
	}
	for name, n := range l.registered {
		if n != 1 || l.disposed[name] != 1 {
			t.Fatalf("artifact %s registered %d times, disposed %d times", name, n, l.disposed[name])
		}
	}
	if len(l.disposed) != len(l.registered) {
		t.Fatalf("disposed %d artifacts, registered %d", len(l.disposed), len(l.registered))
	}
}

func TestReduce_TwoSamplesWeightedSum(t *testing.T) {
	a := tenDetectors("a", 4)
	b := tenDetectors("b", 9)
	life := newLifetimes()
	r := &Reducer{Logger: quietLogger(), Trace: life, Concurrency: 2}

	res, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{a, b},
		Target:      axis.Theta,
		XMin:        ptr(1),
		XMax:        ptr(2),
		Bins:        10,
		NormaliseBy: exposure.None,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	out := res.Output
	if out.Len() != 1 || len(out.Spectra[0].Y) != 10 {
		t.Fatalf("output has %d rows of %d bins, want 1 row of 10", out.Len(), len(out.Spectra[0].Y))
	}
	if out.Name != DefaultOutputName {
		t.Fatalf("output name = %q", out.Name)
	}

	// Build the expectation from the same primitives.
	want := expectedMerge(t, []*dataset.Dataset{a, b}, 1, 2, 10)
	if diff := cmp.Diff(want.Spectra[0].Y, out.Spectra[0].Y, approx); diff != "" {
		t.Fatalf("Y (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Spectra[0].E, out.Spectra[0].E, approx); diff != "" {
		t.Fatalf("E (-want +got):\n%s", diff)
	}

	// 4±2 and 9±3 in every bin.
	wantY := (4.0/4 + 9.0/9) / (1.0/4 + 1.0/9)
	for j, y := range out.Spectra[0].Y {
		if math.Abs(y-wantY) > 1e-9 {
			t.Fatalf("bin %d = %v, want %v", j, y, wantY)
		}
	}

	life.assertDrained(t)
	for name, st := range res.Stages {
		if st != StageDone {
			t.Fatalf("artifact %s ended in %s", name, st)
		}
	}
}

func expectedMerge(t *testing.T, samples []*dataset.Dataset, xMin, xMax float64, bins int) *dataset.Dataset {
	t.Helper()
	var merged *dataset.Dataset
	for _, s := range samples {
		conv, err := axis.ConvertAxis(s, axis.Theta, 0)
		if err != nil {
			t.Fatalf("ConvertAxis: %v", err)
		}
		tr, err := axis.Transpose(conv)
		if err != nil {
			t.Fatalf("Transpose: %v", err)
		}
		rs, err := axis.Resample(tr, xMin, xMax, bins, false)
		if err != nil {
			t.Fatalf("Resample: %v", err)
		}
		if merged == nil {
			merged = rs
			continue
		}
		if merged, err = ops.Concatenate(merged, rs); err != nil {
			t.Fatalf("Concatenate: %v", err)
		}
	}
	sum, err := ops.WeightedSum(merged)
	if err != nil {
		t.Fatalf("WeightedSum: %v", err)
	}
	return sum
}

func TestReduce_DerivesSharedRange(t *testing.T) {
	a := tenDetectors("a", 4)
	r := &Reducer{Logger: quietLogger()}
	res, err := r.Reduce(context.Background(), Options{Samples: []*dataset.Dataset{a}, Bins: 5})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if math.Abs(res.XMin-1.05) > 1e-9 || math.Abs(res.XMax-1.95) > 1e-9 {
		t.Fatalf("range = [%v, %v], want [1.05, 1.95]", res.XMin, res.XMax)
	}
	x := res.Output.Spectra[0].X
	if len(x) != 6 || x[0] != res.XMin || x[5] != res.XMax {
		t.Fatalf("output edges = %v", x)
	}
	var total float64
	for _, y := range res.Output.Spectra[0].Y {
		total += y
	}
	// A single sample's weighted sum is the sample itself: 10 detectors of 4.
	if math.Abs(total-40) > 1e-9 {
		t.Fatalf("total counts = %v, want 40", total)
	}
}

func TestReduce_CalibrationRoundTripIsConstant(t *testing.T) {
	sample := tenDetectors("van", 25)
	cal := tenDetectors("van", 25)
	r := &Reducer{Logger: quietLogger()}

	res, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{sample},
		Calibration: cal,
		XMin:        ptr(1),
		XMax:        ptr(2),
		Bins:        10,
		NormaliseBy: exposure.Monitor,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	for j, y := range res.Output.Spectra[0].Y {
		if math.Abs(y-1) > 1e-12 {
			t.Fatalf("bin %d = %v, want 1", j, y)
		}
	}
}

func TestReduce_NormalizesAgainstCalibrationExposure(t *testing.T) {
	sample := datasettest.WithCharge(tenDetectors("s", 10), 2)
	cal := datasettest.WithCharge(tenDetectors("cal", 1), 4)
	r := &Reducer{Logger: quietLogger()}

	res, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{sample},
		Calibration: cal,
		XMin:        ptr(1),
		XMax:        ptr(2),
		Bins:        10,
		NormaliseBy: exposure.Monitor,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	// 10 counts scaled by 4/2, divided by 1 calibration count.
	for j, y := range res.Output.Spectra[0].Y {
		if math.Abs(y-20) > 1e-9 {
			t.Fatalf("bin %d = %v, want 20", j, y)
		}
	}
}

func TestReduce_MaskAngle(t *testing.T) {
	dets := []dataset.DetectorRef{datasettest.Detector(1, 30), datasettest.Detector(2, 60)}
	sample := datasettest.Histogram("s", dets, []float64{0, 1}, 4)
	life := newLifetimes()
	r := &Reducer{Logger: quietLogger(), Trace: life}

	res, err := r.Reduce(context.Background(), Options{
		Samples:   []*dataset.Dataset{sample},
		MaskAngle: ptr(45),
		XMin:      ptr(50),
		XMax:      ptr(70),
		Bins:      4,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if want := [][]dataset.DetectorID{{1}}; !reflect.DeepEqual(res.Masked, want) {
		t.Fatalf("Masked = %v, want %v", res.Masked, want)
	}
	if got := res.Output.Contributors; !reflect.DeepEqual(got, []dataset.DetectorID{2}) {
		t.Fatalf("contributors = %v, want [2]", got)
	}
	if sample.Masked.Len() != 0 {
		t.Fatalf("Reduce masked the caller's dataset")
	}

	var masked []int32
	for _, e := range life.Trace(res.RunHash).Events {
		if e.Kind == trace.EventMaskApplied && e.Subject == "sample_0" {
			masked = e.Detectors
		}
	}
	if !reflect.DeepEqual(masked, []int32{1}) {
		t.Fatalf("traced mask = %v, want [1]", masked)
	}
}

func TestReduce_ExternalMaskUnion(t *testing.T) {
	sample := datasettest.Masking(tenDetectors("s", 4), 3)
	r := &Reducer{Logger: quietLogger()}
	res, err := r.Reduce(context.Background(), Options{
		Samples:      []*dataset.Dataset{sample},
		ExternalMask: dataset.NewMask(7, 8),
		XMin:         ptr(1),
		XMax:         ptr(2),
		Bins:         10,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if want := []dataset.DetectorID{3, 7, 8}; !reflect.DeepEqual(res.Masked[0], want) {
		t.Fatalf("Masked = %v, want %v", res.Masked[0], want)
	}
	if got := res.Output.DetectorCount(); got != 7 {
		t.Fatalf("DetectorCount = %d, want 7", got)
	}
}

func TestReduce_CalibrationMissingMetadataCleansUp(t *testing.T) {
	sample := tenDetectors("s", 4)
	cal := tenDetectors("cal", 4)
	delete(cal.Run.Logs, dataset.LogDuration)

	life := newLifetimes()
	var disposedCount int
	var mu sync.Mutex
	r := &Reducer{
		Logger: quietLogger(),
		Trace:  life,
		OnDispose: func(string, *dataset.Dataset) error {
			mu.Lock()
			disposedCount++
			mu.Unlock()
			return nil
		},
	}

	res, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{sample, tenDetectors("s2", 4)},
		Calibration: cal,
		Bins:        10,
		NormaliseBy: exposure.Time,
	})
	if !errors.Is(err, dataset.ErrMissingMetadata) {
		t.Fatalf("err = %v, want ErrMissingMetadata", err)
	}
	var derr *dataset.Error
	if !errors.As(err, &derr) {
		t.Fatalf("error %v is not a *dataset.Error", err)
	}
	var serr *StageError
	if !errors.As(err, &serr) || !strings.HasPrefix(serr.Artifact, "sample_") || serr.Stage != StageNormalized {
		t.Fatalf("error %v does not name the failing sample and stage", err)
	}
	if res == nil || res.Output != nil {
		t.Fatalf("failed reduction returned output")
	}
	life.assertDrained(t)
	if disposedCount != len(life.registered) {
		t.Fatalf("OnDispose saw %d artifacts, %d registered", disposedCount, len(life.registered))
	}
	for name, st := range res.Stages {
		if st != StageFailed {
			t.Fatalf("artifact %s ended in %s, want Failed", name, st)
		}
	}
}

func TestReduce_DifferentDetectorCountsFailToMerge(t *testing.T) {
	a := tenDetectors("a", 4)
	b := datasettest.Masking(tenDetectors("b", 4), 5)
	life := newLifetimes()
	r := &Reducer{Logger: quietLogger(), Trace: life}

	_, err := r.Reduce(context.Background(), Options{
		Samples: []*dataset.Dataset{a, b},
		XMin:    ptr(1),
		XMax:    ptr(2),
		Bins:    10,
	})
	if !errors.Is(err, dataset.ErrIncompatibleMerge) {
		t.Fatalf("err = %v, want ErrIncompatibleMerge", err)
	}
	life.assertDrained(t)
}

func TestReduce_BackgroundSubtraction(t *testing.T) {
	sample := tenDetectors("s", 9)
	bkg := tenDetectors("bkg", 4)

	r := &Reducer{Logger: quietLogger()}
	res, err := r.Reduce(context.Background(), Options{
		Samples:         []*dataset.Dataset{sample},
		Backgrounds:     []*dataset.Dataset{bkg},
		BackgroundScale: ptr(0.5),
		XMin:            ptr(1),
		XMax:            ptr(2),
		Bins:            10,
		NormaliseBy:     exposure.Monitor,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	// 9±3 minus 0.5·(4±2)
	for j := range res.Output.Spectra[0].Y {
		if y := res.Output.Spectra[0].Y[j]; math.Abs(y-7) > 1e-9 {
			t.Fatalf("bin %d = %v, want 7", j, y)
		}
		if e := res.Output.Spectra[0].E[j]; math.Abs(e-math.Sqrt(10)) > 1e-9 {
			t.Fatalf("bin %d error = %v, want sqrt(10)", j, e)
		}
	}
}

func TestReduce_SharedReferencesFollowEachSampleMask(t *testing.T) {
	// Same detector count, different detectors: 3 is masked in a, 8 in b.
	a := datasettest.Masking(tenDetectors("a", 9), 3)
	b := datasettest.Masking(tenDetectors("b", 9), 8)
	bkg := tenDetectors("bkg", 4)
	cal := tenDetectors("cal", 1)
	life := newLifetimes()
	r := &Reducer{Logger: quietLogger(), Trace: life, Concurrency: 3}

	res, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{a, b},
		Backgrounds: []*dataset.Dataset{bkg},
		Calibration: cal,
		XMin:        ptr(1),
		XMax:        ptr(2),
		Bins:        10,
		NormaliseBy: exposure.None,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	// Every bin holds one detector. Each sample is corrected only over the
	// detectors it kept, so every bin is 9/1 - 4 = 5, including the bins of
	// detectors 3 and 8 that only one sample carries.
	for j, y := range res.Output.Spectra[0].Y {
		if math.Abs(y-5) > 1e-9 {
			t.Fatalf("bin %d = %v, want 5", j, y)
		}
	}

	life.assertDrained(t)
	for _, name := range []string{"bkg_1", "cal_1"} {
		found := false
		for full := range life.registered {
			if trace.LocalName(full) == name {
				found = true
			}
		}
		if !found {
			t.Fatalf("no per-sample reference %s was registered", name)
		}
	}
	for name, st := range res.Stages {
		if st != StageDone {
			t.Fatalf("artifact %s ended in %s", name, st)
		}
	}
}

func TestReduce_SharedReferencesNotCopiedForEqualMasks(t *testing.T) {
	life := newLifetimes()
	r := &Reducer{Logger: quietLogger(), Trace: life}
	_, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{tenDetectors("a", 9), tenDetectors("b", 9)},
		Backgrounds: []*dataset.Dataset{tenDetectors("bkg", 4)},
		Calibration: tenDetectors("cal", 1),
		Bins:        10,
		NormaliseBy: exposure.None,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	// Two samples, one background, one calibration, one merged artifact.
	if len(life.registered) != 5 {
		t.Fatalf("registered %d artifacts, want 5: %v", len(life.registered), life.registered)
	}
}

func TestReduce_BackgroundPerSample(t *testing.T) {
	samples := []*dataset.Dataset{tenDetectors("s0", 9), tenDetectors("s1", 9)}
	bkgs := []*dataset.Dataset{tenDetectors("b0", 1), tenDetectors("b1", 4)}
	r := &Reducer{Logger: quietLogger()}

	res, err := r.Reduce(context.Background(), Options{
		Samples: samples, Backgrounds: bkgs,
		XMin: ptr(1), XMax: ptr(2), Bins: 10,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	// 8±sqrt(10) and 5±sqrt(13)
	w0, w1 := 1.0/10, 1.0/13
	want := (8*w0 + 5*w1) / (w0 + w1)
	if y := res.Output.Spectra[0].Y[0]; math.Abs(y-want) > 1e-9 {
		t.Fatalf("bin 0 = %v, want %v", y, want)
	}

	_, err = r.Reduce(context.Background(), Options{
		Samples:     samples,
		Backgrounds: append(bkgs, tenDetectors("b2", 1)),
		Bins:        10,
	})
	if !errors.Is(err, dataset.ErrInvalidInput) {
		t.Fatalf("three backgrounds for two samples: err = %v, want ErrInvalidInput", err)
	}
}

func TestReduce_EventSamplesAreIntegrated(t *testing.T) {
	ev := datasettest.Events("ev", datasettest.Ring(1, 10, 1.05, 1.95), 4, 0, 100)
	r := &Reducer{Logger: quietLogger()}
	res, err := r.Reduce(context.Background(), Options{
		Samples: []*dataset.Dataset{ev},
		XMin:    ptr(1), XMax: ptr(2), Bins: 10,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if diff := cmp.Diff([]float64{4, 4, 4, 4, 4, 4, 4, 4, 4, 4}, res.Output.Spectra[0].Y, approx); diff != "" {
		t.Fatalf("Y (-want +got):\n%s", diff)
	}
}

func TestReduce_ElasticTargetUsesSampleEFixed(t *testing.T) {
	sample := datasettest.WithEFixed(tenDetectors("s", 4), 81.80420235)
	cal := tenDetectors("cal", 2)
	r := &Reducer{Logger: quietLogger()}

	res, err := r.Reduce(context.Background(), Options{
		Samples:     []*dataset.Dataset{sample},
		Calibration: cal,
		Target:      axis.ElasticQ,
		Bins:        3,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if res.Output.Unit != "MomentumTransfer" {
		t.Fatalf("Unit = %q", res.Output.Unit)
	}
	if _, ok := cal.Parameter(dataset.ParamEFixed); ok {
		t.Fatalf("Reduce copied parameters into the caller's calibration")
	}

	_, err = r.Reduce(context.Background(), Options{
		Samples: []*dataset.Dataset{tenDetectors("s", 4)},
		Target:  axis.ElasticQ,
		Bins:    3,
	})
	if !errors.Is(err, dataset.ErrInvalidRange) {
		t.Fatalf("elastic target without energy: err = %v, want ErrInvalidRange", err)
	}
}

func TestReduce_InputsUntouched(t *testing.T) {
	a := tenDetectors("a", 4)
	bkg := tenDetectors("bkg", 1)
	cal := tenDetectors("cal", 2)
	before := []dataset.Fingerprint{dataset.ComputeFingerprint(a), dataset.ComputeFingerprint(bkg), dataset.ComputeFingerprint(cal)}

	r := &Reducer{Logger: quietLogger()}
	if _, err := r.Reduce(context.Background(), Options{
		Samples: []*dataset.Dataset{a}, Backgrounds: []*dataset.Dataset{bkg}, Calibration: cal,
		MaskAngle: ptr(1.2), NormaliseBy: exposure.Monitor, Bins: 4,
	}); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	after := []dataset.Fingerprint{dataset.ComputeFingerprint(a), dataset.ComputeFingerprint(bkg), dataset.ComputeFingerprint(cal)}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("Reduce modified its inputs")
	}
	if a.Name != "a" || cal.Name != "cal" {
		t.Fatalf("Reduce renamed its inputs")
	}
}

func TestReduce_TraceIsDeterministic(t *testing.T) {
	run := func() string {
		rec := trace.NewRecorder()
		r := &Reducer{Logger: quietLogger(), Trace: rec, Concurrency: 4}
		res, err := r.Reduce(context.Background(), Options{
			Samples:     []*dataset.Dataset{tenDetectors("a", 4), tenDetectors("b", 5), tenDetectors("c", 6)},
			Backgrounds: []*dataset.Dataset{tenDetectors("bkg", 1)},
			Calibration: tenDetectors("cal", 2),
			Bins:        10,
		})
		if err != nil {
			t.Fatalf("Reduce: %v", err)
		}
		h, err := rec.Trace(res.RunHash).Hash()
		if err != nil {
			t.Fatalf("trace hash: %v", err)
		}
		return h
	}
	if h1, h2 := run(), run(); h1 != h2 {
		t.Fatalf("trace hash differs between identical runs: %s vs %s", h1, h2)
	}
}

func TestReduce_ConcurrentCallsDoNotShareArtifacts(t *testing.T) {
	r := &Reducer{Logger: quietLogger()}
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Reduce(context.Background(), Options{
				Samples: []*dataset.Dataset{tenDetectors("a", float64(i+1))},
				XMin:    ptr(1), XMax: ptr(2), Bins: 10,
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

func TestReduce_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	life := newLifetimes()
	r := &Reducer{Logger: quietLogger(), Trace: life}
	_, err := r.Reduce(ctx, Options{Samples: []*dataset.Dataset{tenDetectors("a", 1)}, Bins: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	life.assertDrained(t)
}

func TestOptionsValidate(t *testing.T) {
	s := []*dataset.Dataset{tenDetectors("a", 1)}
	cases := []struct {
		name string
		opts Options
		kind error
	}{
		{"no samples", Options{Bins: 10}, dataset.ErrInvalidInput},
		{"nil sample", Options{Samples: []*dataset.Dataset{nil}, Bins: 10}, dataset.ErrInvalidInput},
		{"unknown target", Options{Samples: s, Target: "Wavelength", Bins: 10}, dataset.ErrInvalidInput},
		{"unknown mode", Options{Samples: s, NormaliseBy: "Proton", Bins: 10}, dataset.ErrInvalidInput},
		{"zero bins", Options{Samples: s}, dataset.ErrInvalidRange},
		{"inverted range", Options{Samples: s, XMin: ptr(2), XMax: ptr(1), Bins: 10}, dataset.ErrInvalidRange},
		{"log from zero", Options{Samples: s, XMin: ptr(0), LogBinning: true, Bins: 10}, dataset.ErrInvalidRange},
		{"negative scale", Options{Samples: s, BackgroundScale: ptr(-1), Bins: 10}, dataset.ErrInvalidRange},
		{"mask angle too big", Options{Samples: s, MaskAngle: ptr(200), Bins: 10}, dataset.ErrInvalidRange},
		{"negative efixed", Options{Samples: s, EFixed: -1, Bins: 10}, dataset.ErrInvalidRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.opts.Validate(); !errors.Is(err, tc.kind) {
				t.Fatalf("Validate() = %v, want %v", err, tc.kind)
			}
		})
	}
	if err := (Options{Samples: s, Bins: 10, BackgroundScale: ptr(0)}).Validate(); err != nil {
		t.Fatalf("zero background scale rejected: %v", err)
	}
}

func TestRunHash_ChangesWithInputsAndOptions(t *testing.T) {
	base := Options{Samples: []*dataset.Dataset{tenDetectors("a", 1)}, Bins: 10}
	h := base.RunHash()

	renamed := base
	renamed.Samples = []*dataset.Dataset{tenDetectors("renamed", 1)}
	if renamed.RunHash() != h {
		t.Fatalf("renaming an input changed the run hash")
	}

	for name, mutate := range map[string]func(o *Options){
		"bins":   func(o *Options) { o.Bins = 11 },
		"counts": func(o *Options) { o.Samples = []*dataset.Dataset{tenDetectors("a", 2)} },
		"xmin":   func(o *Options) { o.XMin = ptr(1) },
		"mask":   func(o *Options) { o.ExternalMask = dataset.NewMask(1) },
		"scale":  func(o *Options) { o.BackgroundScale = ptr(2) },
	} {
		o := base
		mutate(&o)
		if o.RunHash() == h {
			t.Errorf("changing %s kept the run hash", name)
		}
	}
}

func TestMaskByAngle_Standalone(t *testing.T) {
	d := datasettest.Histogram("ws", []dataset.DetectorRef{
		datasettest.Monitor(0), datasettest.Detector(1, 10), datasettest.Detector(2, 170),
	}, []float64{0, 1}, 1)

	ids, err := MaskByAngle(d, 0, 180, quietLogger())
	if err != nil {
		t.Fatalf("MaskByAngle: %v", err)
	}
	if !reflect.DeepEqual(ids, []dataset.DetectorID{1, 2}) {
		t.Fatalf("ids = %v", ids)
	}
	if _, err := MaskByAngle(d, 90, 10, nil); !errors.Is(err, dataset.ErrInvalidRange) {
		t.Fatalf("err = %v, want ErrInvalidRange", err)
	}
	if _, err := MaskByAngle(nil, 0, 180, nil); !errors.Is(err, dataset.ErrInvalidInput) {
		t.Fatalf("nil dataset: err = %v, want ErrInvalidInput", err)
	}
}
