package dataset

import "math"

// DetectorID identifies a single sensing element.
type DetectorID int32

// V3D is a position in the sample frame, in metres.
type V3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns v - o.
func (v V3D) Sub(o V3D) V3D { return V3D{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Dot returns the scalar product of v and o.
func (v V3D) Dot(o V3D) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Norm returns the Euclidean length of v.
func (v V3D) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Angle returns the angle between v and o in radians.
// A zero-length vector has no direction; the angle is reported as 0.
func (v V3D) Angle(o V3D) float64 {
	n := v.Norm() * o.Norm()
	if n == 0 {
		return 0
	}
	c := v.Dot(o) / n
	// Rounding can push |c| just past 1.
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// DetectorRef is the geometry of a detector. It is immutable once obtained
// from a dataset.
type DetectorRef struct {
	ID       DetectorID `json:"id"`
	Position V3D        `json:"position"`
	Monitor  bool       `json:"monitor,omitempty"`
}

// Kind distinguishes pre-integrated histograms from raw event lists.
type Kind string

const (
	Histogram    Kind = "histogram"
	EventCounted Kind = "event"
)

// Event is a single counted neutron with its x value (e.g. time-of-flight)
// and statistical weight. Its variance is Weight*Weight.
type Event struct {
	X      float64 `json:"x"`
	Weight float64 `json:"weight"`
}

// Spectrum is the data recorded by one detector, or after Transpose, one
// axis-indexed row of points.
//
// For histograms len(X) == len(Y)+1 (bin edges); for point data
// len(X) == len(Y). E holds one standard uncertainty per Y value.
// Event-counted spectra carry Events and optionally the X range
// [X[0], X[len(X)-1]] the events were recorded over.
type Spectrum struct {
	Detector DetectorRef `json:"detector"`
	X        []float64   `json:"x"`
	Y        []float64   `json:"y"`
	E        []float64   `json:"e"`
	Events   []Event     `json:"events,omitempty"`
}

// IsHistogram reports whether X holds bin edges rather than point positions.
func (s Spectrum) IsHistogram() bool { return len(s.X) == len(s.Y)+1 }

// Clone returns a deep copy of s.
func (s Spectrum) Clone() Spectrum {
	return Spectrum{
		Detector: s.Detector,
		X:        cloneFloats(s.X),
		Y:        cloneFloats(s.Y),
		E:        cloneFloats(s.E),
		Events:   cloneEvents(s.Events),
	}
}

// LogDuration is the run log holding the elapsed counting time in seconds.
const LogDuration = "duration"

// ParamEFixed is the instrument parameter holding the fixed energy in meV.
const ParamEFixed = "EFixed"

// RunMetadata holds the exposure proxies of a run.
type RunMetadata struct {
	// ProtonCharge is the accumulated proton/monitor charge, when recorded.
	ProtonCharge *float64 `json:"proton_charge,omitempty"`

	// Logs are numeric time-series summaries keyed by log name.
	Logs map[string]float64 `json:"logs,omitempty"`
}

// Log returns the named log value.
func (r RunMetadata) Log(name string) (float64, bool) {
	v, ok := r.Logs[name]
	return v, ok
}

// Clone returns a deep copy of r.
func (r RunMetadata) Clone() RunMetadata {
	out := RunMetadata{Logs: cloneFloatMap(r.Logs)}
	if r.ProtonCharge != nil {
		c := *r.ProtonCharge
		out.ProtonCharge = &c
	}
	return out
}

// Dataset is an ordered sequence of detector spectra plus run metadata.
type Dataset struct {
	// Name is a human label. It does not contribute to the fingerprint.
	Name string `json:"name"`

	Kind Kind `json:"kind"`

	// Unit names the quantity on the X axis (e.g. "TOF", "Theta").
	Unit string `json:"unit,omitempty"`

	Spectra []Spectrum `json:"spectra"`

	Run RunMetadata `json:"run"`

	// Parameters are instrument parameters such as EFixed.
	Parameters map[string]float64 `json:"parameters,omitempty"`

	// Masked is the set of detectors already masked on this dataset.
	Masked Mask `json:"masked"`

	// Axis holds one numeric label per spectrum once the spectrum axis has
	// been converted (e.g. two-theta of each detector), in AxisUnit.
	Axis     []float64 `json:"axis,omitempty"`
	AxisUnit string    `json:"axis_unit,omitempty"`

	// Contributors lists the detectors folded into axis-indexed rows by a
	// transpose. Empty for detector-indexed datasets.
	Contributors []DetectorID `json:"contributors,omitempty"`
}

// IsEventCounted reports whether the spectra hold raw events.
func (d *Dataset) IsEventCounted() bool { return d.Kind == EventCounted }

// Len returns the number of spectra.
func (d *Dataset) Len() int { return len(d.Spectra) }

// DetectorCount returns the number of detectors whose data the dataset
// carries: the contributors of an axis-indexed dataset, otherwise one per
// spectrum.
func (d *Dataset) DetectorCount() int {
	if len(d.Contributors) > 0 {
		return len(d.Contributors)
	}
	return len(d.Spectra)
}

// Detector returns the geometry of spectrum i.
func (d *Dataset) Detector(i int) DetectorRef { return d.Spectra[i].Detector }

// IsMonitor reports whether spectrum i belongs to a monitor.
func (d *Dataset) IsMonitor(i int) bool { return d.Spectra[i].Detector.Monitor }

// Parameter returns the named instrument parameter.
func (d *Dataset) Parameter(name string) (float64, bool) {
	v, ok := d.Parameters[name]
	return v, ok
}

// Clone returns a deep copy of d under a new name.
func (d *Dataset) Clone(name string) *Dataset {
	out := &Dataset{
		Name:       name,
		Kind:       d.Kind,
		Unit:       d.Unit,
		Spectra:    make([]Spectrum, len(d.Spectra)),
		Run:        d.Run.Clone(),
		Parameters: cloneFloatMap(d.Parameters),
		Masked:     d.Masked.Clone(),
	}
	for i, s := range d.Spectra {
		out.Spectra[i] = s.Clone()
	}
	out.Axis = cloneFloats(d.Axis)
	out.AxisUnit = d.AxisUnit
	if len(d.Contributors) > 0 {
		out.Contributors = append([]DetectorID(nil), d.Contributors...)
	}
	return out
}

// Validate checks the structural invariants of d.
func (d *Dataset) Validate() error {
	if d == nil {
		return Errorf(ErrInvalidInput, "dataset is nil")
	}
	switch d.Kind {
	case Histogram, EventCounted:
	default:
		return Errorf(ErrUnsupportedWorkspace, "dataset %q has unknown kind %q", d.Name, d.Kind)
	}
	if len(d.Axis) > 0 && len(d.Axis) != len(d.Spectra) {
		return Errorf(ErrInvalidInput, "dataset %q has %d axis labels for %d spectra", d.Name, len(d.Axis), len(d.Spectra))
	}
	for i, s := range d.Spectra {
		if len(s.Y) != len(s.E) {
			return Errorf(ErrInvalidInput, "dataset %q spectrum %d: %d values but %d uncertainties", d.Name, i, len(s.Y), len(s.E))
		}
		if d.Kind == Histogram && len(s.X) != len(s.Y) && len(s.X) != len(s.Y)+1 {
			return Errorf(ErrInvalidInput, "dataset %q spectrum %d: %d x values for %d y values", d.Name, i, len(s.X), len(s.Y))
		}
	}
	return nil
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	copy(out, in)
	return out
}

func cloneEvents(in []Event) []Event {
	if in == nil {
		return nil
	}
	out := make([]Event, len(in))
	copy(out, in)
	return out
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
