package reduction

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"powderreduce/internal/axis"
	"powderreduce/internal/dataset"
	"powderreduce/internal/exposure"
	"powderreduce/internal/geometry"
	"powderreduce/internal/trace"
)

// DefaultOutputName names the reduced dataset when the caller gives none.
const DefaultOutputName = "reduced"

// DefaultBackgroundScale multiplies normalized backgrounds unless overridden.
const DefaultBackgroundScale = 1.0

// Options describe one reduction.
//
// Samples are required. Backgrounds may be empty, hold one dataset applied to
// every sample, or hold one dataset per sample. The caller keeps ownership
// of every dataset; Reduce works on copies.
type Options struct {
	Samples     []*dataset.Dataset
	Backgrounds []*dataset.Dataset
	Calibration *dataset.Dataset

	// ExternalMask is ORed into every sample's own mask.
	ExternalMask dataset.Mask

	Target axis.Target
	// EFixed is the fixed energy in meV for elastic targets; zero defers to
	// each dataset's EFixed instrument parameter.
	EFixed float64

	// XMin and XMax bound the output axis. A nil bound is derived from the
	// converted datasets.
	XMin, XMax *float64
	Bins       int
	LogBinning bool

	NormaliseBy exposure.Mode

	// MaskAngle, when set, additionally masks detectors with two-theta in
	// [0, MaskAngle].
	MaskAngle *float64

	// BackgroundScale multiplies every normalized background. Nil means
	// DefaultBackgroundScale.
	BackgroundScale *float64

	OutputName string
}

func (o Options) target() axis.Target {
	if o.Target == "" {
		return axis.Theta
	}
	return o.Target
}

func (o Options) normaliseBy() exposure.Mode {
	if o.NormaliseBy == "" {
		return exposure.None
	}
	return o.NormaliseBy
}

func (o Options) backgroundScale() float64 {
	if o.BackgroundScale == nil {
		return DefaultBackgroundScale
	}
	return *o.BackgroundScale
}

func (o Options) outputName() string {
	if o.OutputName == "" {
		return DefaultOutputName
	}
	return o.OutputName
}

// backgroundFor returns the index of the background applied to sample i, or
// -1 when there are no backgrounds.
func (o Options) backgroundFor(i int) int {
	switch len(o.Backgrounds) {
	case 0:
		return -1
	case 1:
		return 0
	default:
		return i
	}
}

// Validate checks everything that can be checked before any computation.
// Problems of the same kind are reported together.
func (o Options) Validate() error {
	if len(o.Samples) == 0 {
		return dataset.Errorf(dataset.ErrInvalidInput, "at least one sample dataset is required")
	}

	var inputErrs []error
	check := func(role string, i int, d *dataset.Dataset) {
		if d == nil {
			inputErrs = append(inputErrs, fmt.Errorf("%s %d is nil", role, i))
			return
		}
		if err := d.Validate(); err != nil {
			inputErrs = append(inputErrs, fmt.Errorf("%s %d: %w", role, i, err))
		}
	}
	for i, d := range o.Samples {
		check("sample", i, d)
	}
	for i, d := range o.Backgrounds {
		check("background", i, d)
	}
	if o.Calibration != nil {
		check("calibration", 0, o.Calibration)
	}
	if n := len(o.Backgrounds); n > 1 && n != len(o.Samples) {
		inputErrs = append(inputErrs, fmt.Errorf("%d backgrounds for %d samples; give one, or one per sample", n, len(o.Samples)))
	}
	if o.target().Unit() == "" {
		inputErrs = append(inputErrs, fmt.Errorf("unknown target %q", o.Target))
	}
	switch o.normaliseBy() {
	case exposure.None, exposure.Time, exposure.Monitor:
	default:
		inputErrs = append(inputErrs, fmt.Errorf("unknown normalization mode %q", o.NormaliseBy))
	}
	if err := joinKind(dataset.ErrInvalidInput, inputErrs); err != nil {
		return err
	}

	var rangeErrs []error
	if o.Bins <= 0 {
		rangeErrs = append(rangeErrs, fmt.Errorf("bin count must be positive, got %d", o.Bins))
	}
	if o.XMin != nil && o.XMax != nil && !(*o.XMin < *o.XMax) {
		rangeErrs = append(rangeErrs, fmt.Errorf("xmin %g must be below xmax %g", *o.XMin, *o.XMax))
	}
	if o.LogBinning && o.XMin != nil && !(*o.XMin > 0) {
		rangeErrs = append(rangeErrs, fmt.Errorf("logarithmic binning needs xmin > 0, got %g", *o.XMin))
	}
	if o.EFixed < 0 || math.IsNaN(o.EFixed) {
		rangeErrs = append(rangeErrs, fmt.Errorf("efixed must not be negative, got %g", o.EFixed))
	}
	if s := o.backgroundScale(); !(s >= 0) || math.IsInf(s, 0) {
		rangeErrs = append(rangeErrs, fmt.Errorf("background scale must be a non-negative number, got %g", s))
	}
	if o.MaskAngle != nil {
		if err := geometry.ValidateRange(geometry.MinAngle, *o.MaskAngle); err != nil {
			rangeErrs = append(rangeErrs, fmt.Errorf("mask angle: %w", err))
		}
	}
	return joinKind(dataset.ErrInvalidRange, rangeErrs)
}

func joinKind(kind error, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return &dataset.Error{Kind: kind, Msg: strings.Join(msgs, "; ")}
}

// RunHash identifies the reduction these options describe: the content
// fingerprints of every input plus every option that affects the output.
func (o Options) RunHash() string {
	parts := []string{"samples", strconv.Itoa(len(o.Samples))}
	for _, d := range o.Samples {
		parts = append(parts, fingerprintOf(d))
	}
	parts = append(parts, "backgrounds", strconv.Itoa(len(o.Backgrounds)))
	for _, d := range o.Backgrounds {
		parts = append(parts, fingerprintOf(d))
	}
	parts = append(parts, "calibration", fingerprintOf(o.Calibration))

	mask := o.ExternalMask.IDs()
	ids := make([]string, len(mask))
	for i, id := range mask {
		ids[i] = strconv.Itoa(int(id))
	}
	parts = append(parts,
		"mask", strings.Join(ids, ","),
		"target", string(o.target()),
		"efixed", formatFloat(&o.EFixed),
		"xmin", formatFloat(o.XMin),
		"xmax", formatFloat(o.XMax),
		"bins", strconv.Itoa(o.Bins),
		"log", strconv.FormatBool(o.LogBinning),
		"normalise", string(o.normaliseBy()),
		"maskAngle", formatFloat(o.MaskAngle),
		"backgroundScale", strconv.FormatFloat(o.backgroundScale(), 'g', -1, 64),
	)
	return trace.ComputeRunHash(parts...)
}

func fingerprintOf(d *dataset.Dataset) string {
	if d == nil {
		return "-"
	}
	return dataset.ComputeFingerprint(d).String()
}

func formatFloat(v *float64) string {
	if v == nil {
		return "auto"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// errInternal marks bookkeeping failures that indicate a bug rather than bad
// input.
var errInternal = errors.New("internal reduction error")
