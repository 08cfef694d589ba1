// Package exposure normalizes datasets collected over different exposures.
package exposure

import (
	"fmt"
	"math"
	"strings"

	"powderreduce/internal/dataset"
	"powderreduce/internal/ops"
)

// Mode selects the exposure proxy used for normalization.
type Mode string

const (
	None    Mode = "None"
	Time    Mode = "Time"
	Monitor Mode = "Monitor"
)

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{None, Time, Monitor} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", dataset.Errorf(dataset.ErrInvalidInput, "unknown normalization mode %q (want None, Time or Monitor)", s)
}

// Factor returns the exposure of d under mode: 1 for None, the accumulated
// proton charge for Monitor and the duration log for Time.
func Factor(d *dataset.Dataset, mode Mode) (float64, error) {
	switch mode {
	case None, "":
		return 1, nil
	case Monitor:
		if d.Run.ProtonCharge == nil {
			return 0, dataset.Errorf(dataset.ErrMissingMetadata, "dataset %q has no proton charge", d.Name)
		}
		return *d.Run.ProtonCharge, nil
	case Time:
		v, ok := d.Run.Log(dataset.LogDuration)
		if !ok {
			return 0, dataset.Errorf(dataset.ErrMissingMetadata, "dataset %q has no %q log", d.Name, dataset.LogDuration)
		}
		return v, nil
	default:
		return 0, dataset.Errorf(dataset.ErrInvalidInput, "unknown normalization mode %q", mode)
	}
}

// Ratio returns factor(reference)/factor(d). With no reference, d is
// normalized against itself and the ratio is 1 whenever d's own factor is
// usable.
func Ratio(d, reference *dataset.Dataset, mode Mode) (float64, error) {
	if reference == nil {
		reference = d
	}
	num, err := Factor(reference, mode)
	if err != nil {
		return 0, err
	}
	den, err := Factor(d, mode)
	if err != nil {
		return 0, err
	}
	if err := checkFactor(reference, mode, num); err != nil {
		return 0, err
	}
	if err := checkFactor(d, mode, den); err != nil {
		return 0, err
	}
	ratio := num / den
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, dataset.Errorf(dataset.ErrNormalization, "normalization ratio for %q is %g", d.Name, ratio)
	}
	return ratio, nil
}

func checkFactor(d *dataset.Dataset, mode Mode, f float64) error {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return dataset.Errorf(dataset.ErrNormalization, "%s factor of %q is %g", mode, d.Name, f)
	}
	return nil
}

// Normalize scales d by factor(reference)/factor(d) and returns the scaled
// copy with the applied ratio.
func Normalize(d, reference *dataset.Dataset, mode Mode) (*dataset.Dataset, float64, error) {
	ratio, err := Ratio(d, reference, mode)
	if err != nil {
		return nil, 0, fmt.Errorf("normalizing %q: %w", d.Name, err)
	}
	return ops.Scale(d, ratio), ratio, nil
}
