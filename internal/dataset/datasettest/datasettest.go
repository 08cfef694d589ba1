// Package datasettest builds small synthetic datasets for tests.
package datasettest

import (
	"math"

	"powderreduce/internal/dataset"
)

// Detector returns a detector one metre from the sample at the given
// two-theta, in degrees, in the horizontal scattering plane.
func Detector(id dataset.DetectorID, twoTheta float64) dataset.DetectorRef {
	rad := twoTheta * math.Pi / 180
	return dataset.DetectorRef{
		ID:       id,
		Position: dataset.V3D{X: math.Sin(rad), Y: 0, Z: math.Cos(rad)},
	}
}

// Monitor returns an upstream monitor.
func Monitor(id dataset.DetectorID) dataset.DetectorRef {
	return dataset.DetectorRef{ID: id, Position: dataset.V3D{Z: -1}, Monitor: true}
}

// Ring returns n detectors with ids starting at first, spread evenly in
// two-theta over [from, to].
func Ring(first dataset.DetectorID, n int, from, to float64) []dataset.DetectorRef {
	dets := make([]dataset.DetectorRef, n)
	for i := range dets {
		tt := from
		if n > 1 {
			tt = from + (to-from)*float64(i)/float64(n-1)
		}
		dets[i] = Detector(first+dataset.DetectorID(i), tt)
	}
	return dets
}

// Histogram builds a histogram dataset with one spectrum per detector. Every
// bin of every spectrum holds counts with Poisson uncertainty.
func Histogram(name string, dets []dataset.DetectorRef, edges []float64, counts float64) *dataset.Dataset {
	d := &dataset.Dataset{Name: name, Kind: dataset.Histogram, Unit: "TOF"}
	for _, det := range dets {
		n := len(edges) - 1
		s := dataset.Spectrum{
			Detector: det,
			X:        append([]float64(nil), edges...),
			Y:        make([]float64, n),
			E:        make([]float64, n),
		}
		for j := 0; j < n; j++ {
			s.Y[j] = counts
			s.E[j] = math.Sqrt(counts)
		}
		d.Spectra = append(d.Spectra, s)
	}
	return d
}

// Points builds a point-data dataset with one row per detector from
// explicit x, y and e slices shared by every row.
func Points(name, unit string, dets []dataset.DetectorRef, x, y, e []float64) *dataset.Dataset {
	d := &dataset.Dataset{Name: name, Kind: dataset.Histogram, Unit: unit}
	for _, det := range dets {
		d.Spectra = append(d.Spectra, dataset.Spectrum{
			Detector: det,
			X:        append([]float64(nil), x...),
			Y:        append([]float64(nil), y...),
			E:        append([]float64(nil), e...),
		})
	}
	return d
}

// Events builds an event-counted dataset. Each detector records n unit
// weight events spread over [xMin, xMax).
func Events(name string, dets []dataset.DetectorRef, n int, xMin, xMax float64) *dataset.Dataset {
	d := &dataset.Dataset{Name: name, Kind: dataset.EventCounted, Unit: "TOF"}
	for _, det := range dets {
		s := dataset.Spectrum{Detector: det, X: []float64{xMin, xMax}}
		for k := 0; k < n; k++ {
			s.Events = append(s.Events, dataset.Event{
				X:      xMin + (xMax-xMin)*float64(k)/float64(n),
				Weight: 1,
			})
		}
		d.Spectra = append(d.Spectra, s)
	}
	return d
}

// WithCharge sets the proton charge of d and returns d.
func WithCharge(d *dataset.Dataset, charge float64) *dataset.Dataset {
	d.Run.ProtonCharge = &charge
	return d
}

// WithDuration sets the duration log of d and returns d.
func WithDuration(d *dataset.Dataset, seconds float64) *dataset.Dataset {
	if d.Run.Logs == nil {
		d.Run.Logs = map[string]float64{}
	}
	d.Run.Logs[dataset.LogDuration] = seconds
	return d
}

// WithEFixed sets the EFixed instrument parameter of d and returns d.
func WithEFixed(d *dataset.Dataset, meV float64) *dataset.Dataset {
	if d.Parameters == nil {
		d.Parameters = map[string]float64{}
	}
	d.Parameters[dataset.ParamEFixed] = meV
	return d
}

// Masking adds ids to the mask of d and returns d.
func Masking(d *dataset.Dataset, ids ...dataset.DetectorID) *dataset.Dataset {
	for _, id := range ids {
		d.Masked.Add(id)
	}
	return d
}
