// Package geometry derives scattering angles from detector positions and
// builds angle-interval masks.
package geometry

import (
	"log/slog"
	"math"

	"powderreduce/internal/dataset"
)

// Angle bounds, in degrees, accepted by MaskByAngle.
const (
	MinAngle = 0.0
	MaxAngle = 180.0
)

// angleTolerance absorbs floating-point rounding in the angle computation so
// detectors sitting exactly on a bound are included.
const angleTolerance = 1e-9

// beamAxis is the direction of the incident beam, with the sample at the
// origin.
var beamAxis = dataset.V3D{Z: 1}

// TwoTheta returns the scattering angle of det in degrees: the angle between
// the incident beam axis and the vector from the sample to the detector.
func TwoTheta(det dataset.DetectorRef) float64 {
	return det.Position.Angle(beamAxis) * 180 / math.Pi
}

// ValidateRange checks that [minAngle, maxAngle] is an ordered interval
// inside [0, 180].
func ValidateRange(minAngle, maxAngle float64) error {
	if math.IsNaN(minAngle) || math.IsNaN(maxAngle) {
		return dataset.Errorf(dataset.ErrInvalidRange, "angle bounds must be numbers")
	}
	if minAngle > maxAngle {
		return dataset.Errorf(dataset.ErrInvalidRange, "min angle %g exceeds max angle %g", minAngle, maxAngle)
	}
	if minAngle < MinAngle || maxAngle > MaxAngle {
		return dataset.Errorf(dataset.ErrInvalidRange, "angle bounds [%g, %g] outside [0, 180]", minAngle, maxAngle)
	}
	return nil
}

// SelectByAngle returns the ids of the non-monitor detectors of d whose
// scattering angle lies in [minAngle, maxAngle], in dataset order. It does
// not modify d.
func SelectByAngle(d *dataset.Dataset, minAngle, maxAngle float64) ([]dataset.DetectorID, error) {
	if err := ValidateRange(minAngle, maxAngle); err != nil {
		return nil, err
	}
	var ids []dataset.DetectorID
	for i := 0; i < d.Len(); i++ {
		if d.IsMonitor(i) {
			continue
		}
		det := d.Detector(i)
		tt := TwoTheta(det)
		if tt >= minAngle-angleTolerance && tt <= maxAngle+angleTolerance {
			ids = append(ids, det.ID)
		}
	}
	return ids, nil
}

// MaskByAngle masks, in place on d, every non-monitor detector whose
// scattering angle lies in [minAngle, maxAngle] and returns their ids in
// dataset order.
//
// An empty selection leaves d untouched; it is logged, not reported as an
// error.
func MaskByAngle(d *dataset.Dataset, minAngle, maxAngle float64, logger *slog.Logger) ([]dataset.DetectorID, error) {
	ids, err := SelectByAngle(d, minAngle, maxAngle)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		if logger != nil {
			logger.Info("no detectors within angle range",
				"dataset", d.Name,
				"min_angle", minAngle,
				"max_angle", maxAngle,
			)
		}
		return ids, nil
	}
	for _, id := range ids {
		d.Masked.Add(id)
	}
	return ids, nil
}
