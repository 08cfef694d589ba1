package reduction

import (
	"log/slog"

	"powderreduce/internal/dataset"
	"powderreduce/internal/geometry"
)

// MaskByAngle masks, on d itself, every non-monitor detector with two-theta
// in [minAngle, maxAngle] degrees and returns the masked ids in dataset
// order. Use geometry.MinAngle and geometry.MaxAngle to mask the full range.
//
// It needs no pool: the only effect is the documented in-place mask update.
func MaskByAngle(d *dataset.Dataset, minAngle, maxAngle float64, logger *slog.Logger) ([]dataset.DetectorID, error) {
	if d == nil {
		return nil, dataset.Errorf(dataset.ErrInvalidInput, "dataset is nil")
	}
	return geometry.MaskByAngle(d, minAngle, maxAngle, logger)
}
