// Package axis converts detector-indexed spectra to an axis-indexed form and
// resamples them onto a common binning.
//
// The usual sequence for one dataset is
//
//	Integrate (event data only) → ConvertAxis → Transpose → Resample
//
// with SharedRange used to pick a binning common to every dataset of a
// reduction when the caller leaves the bounds open.
package axis

import (
	"math"
	"sort"
	"strings"

	"powderreduce/internal/dataset"
	"powderreduce/internal/geometry"
)

// Target is the quantity a spectrum axis is converted to.
type Target string

const (
	// Theta is the scattering angle two-theta in degrees.
	Theta Target = "Theta"
	// ElasticQ is the elastic momentum transfer in inverse Ångström.
	ElasticQ Target = "ElasticQ"
	// ElasticDSpacing is the elastic lattice spacing in Ångström.
	ElasticDSpacing Target = "ElasticDSpacing"
)

// Unit returns the unit label a target produces.
func (t Target) Unit() string {
	switch t {
	case Theta:
		return "Degrees"
	case ElasticQ:
		return "MomentumTransfer"
	case ElasticDSpacing:
		return "dSpacing"
	}
	return ""
}

// NeedsEnergy reports whether converting to t requires a fixed energy.
func (t Target) NeedsEnergy() bool { return t == ElasticQ || t == ElasticDSpacing }

// ParseTarget accepts a target name case-insensitively.
func ParseTarget(s string) (Target, error) {
	for _, t := range []Target{Theta, ElasticQ, ElasticDSpacing} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", dataset.Errorf(dataset.ErrInvalidInput, "unknown target %q (want Theta, ElasticQ or ElasticDSpacing)", s)
}

// energyToWavelength is h²/(2mₙ) in meV·Å², so that λ = sqrt(k/E).
const energyToWavelength = 81.80420235

// Wavelength returns the neutron wavelength in Ångström for an energy in meV.
func Wavelength(meV float64) float64 { return math.Sqrt(energyToWavelength / meV) }

// Integrate collapses every spectrum of d into a single bin spanning its
// x range. Event weights are summed with uncertainty sqrt(Σw²); histogram
// counts are summed with uncertainties added in quadrature. The result is
// always a histogram dataset.
func Integrate(d *dataset.Dataset) *dataset.Dataset {
	out := d.Clone(d.Name)
	out.Kind = dataset.Histogram
	for i := range out.Spectra {
		s := &out.Spectra[i]
		lo, hi := xBounds(*s)
		var sum, variance float64
		if d.IsEventCounted() {
			for _, ev := range s.Events {
				sum += ev.Weight
				variance += ev.Weight * ev.Weight
			}
		} else {
			for j := range s.Y {
				sum += s.Y[j]
				variance += s.E[j] * s.E[j]
			}
		}
		s.X = []float64{lo, hi}
		s.Y = []float64{sum}
		s.E = []float64{math.Sqrt(variance)}
		s.Events = nil
	}
	return out
}

// xBounds returns the x range a spectrum was recorded over: its first and
// last x value, or for events without a recorded range the span of the
// events themselves.
func xBounds(s dataset.Spectrum) (float64, float64) {
	if len(s.X) > 0 {
		return s.X[0], s.X[len(s.X)-1]
	}
	if len(s.Events) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ev := range s.Events {
		lo = math.Min(lo, ev.X)
		hi = math.Max(hi, ev.X)
	}
	return lo, hi
}

// ConvertAxis labels every spectrum of d with its detector's value of
// target and orders the spectra by that value.
//
// eFixed is the fixed energy in meV for elastic targets. When it is zero the
// dataset's EFixed instrument parameter is used. Event-counted datasets must
// be integrated first.
func ConvertAxis(d *dataset.Dataset, target Target, eFixed float64) (*dataset.Dataset, error) {
	if d.IsEventCounted() {
		return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace,
			"dataset %q holds events; integrate before converting its axis", d.Name)
	}
	if target.Unit() == "" {
		return nil, dataset.Errorf(dataset.ErrInvalidInput, "unknown target %q", target)
	}

	var wavelength float64
	if target.NeedsEnergy() {
		e := eFixed
		if e == 0 {
			e, _ = d.Parameter(dataset.ParamEFixed)
		}
		if !(e > 0) || math.IsInf(e, 0) {
			return nil, dataset.Errorf(dataset.ErrInvalidRange,
				"%s conversion of %q needs a positive EFixed, got %g", target, d.Name, e)
		}
		wavelength = Wavelength(e)
	}

	type labelled struct {
		value    float64
		spectrum dataset.Spectrum
	}
	rows := make([]labelled, d.Len())
	for i, s := range d.Spectra {
		twoTheta := geometry.TwoTheta(s.Detector)
		v := twoTheta
		switch target {
		case ElasticQ, ElasticDSpacing:
			q := 4 * math.Pi * math.Sin(twoTheta*math.Pi/360) / wavelength
			v = q
			if target == ElasticDSpacing {
				if q == 0 {
					return nil, dataset.Errorf(dataset.ErrInvalidRange,
						"detector %d of %q is on the beam axis; d-spacing is undefined", s.Detector.ID, d.Name)
				}
				v = 2 * math.Pi / q
			}
		}
		rows[i] = labelled{value: v, spectrum: s}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].value < rows[j].value })

	out := d.Clone(d.Name)
	out.AxisUnit = target.Unit()
	out.Axis = make([]float64, len(rows))
	for i, r := range rows {
		out.Axis[i] = r.value
		out.Spectra[i] = r.spectrum.Clone()
	}
	return out, nil
}

// Transpose turns a dataset of N spectra with B bins each into B rows of N
// points, one point per former spectrum, positioned at its axis label.
// The detectors of the former spectra become the contributors of the result.
func Transpose(d *dataset.Dataset) (*dataset.Dataset, error) {
	if d.IsEventCounted() {
		return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace, "cannot transpose event dataset %q", d.Name)
	}
	if d.Len() == 0 {
		return nil, dataset.Errorf(dataset.ErrInvalidInput, "dataset %q has no unmasked spectra", d.Name)
	}
	if len(d.Axis) != d.Len() {
		return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace,
			"dataset %q has no converted spectrum axis", d.Name)
	}
	bins := len(d.Spectra[0].Y)
	for i, s := range d.Spectra {
		if len(s.Y) != bins {
			return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace,
				"dataset %q spectrum %d has %d bins, spectrum 0 has %d", d.Name, i, len(s.Y), bins)
		}
	}

	n := d.Len()
	out := &dataset.Dataset{
		Name:         d.Name,
		Kind:         dataset.Histogram,
		Unit:         d.AxisUnit,
		Run:          d.Run.Clone(),
		Parameters:   cloneParams(d.Parameters),
		Masked:       d.Masked.Clone(),
		Spectra:      make([]dataset.Spectrum, bins),
		Contributors: make([]dataset.DetectorID, n),
	}
	for i, s := range d.Spectra {
		out.Contributors[i] = s.Detector.ID
	}
	for j := 0; j < bins; j++ {
		row := dataset.Spectrum{
			Detector: dataset.DetectorRef{ID: dataset.DetectorID(j)},
			X:        append([]float64(nil), d.Axis...),
			Y:        make([]float64, n),
			E:        make([]float64, n),
		}
		for i, s := range d.Spectra {
			row.Y[i] = s.Y[j]
			row.E[i] = s.E[j]
		}
		out.Spectra[j] = row
	}
	return out, nil
}

func cloneParams(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
