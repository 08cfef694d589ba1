// Package ops implements the primitive numeric operations the reduction
// pipeline is built from.
//
// Every operation is pure: it reads its operands and returns a new dataset,
// never modifying the inputs. Uncertainties are propagated assuming
// uncorrelated Gaussian errors. Results keep the metadata (kind, unit, run,
// parameters, mask, contributors) of the left-hand operand.
package ops

import (
	"math"

	"powderreduce/internal/dataset"
)

// xTolerance is the relative tolerance used when checking that two rows
// share a binning.
const xTolerance = 1e-9

// Scale multiplies every value of d by factor and every uncertainty by
// |factor|. Event weights are scaled too.
func Scale(d *dataset.Dataset, factor float64) *dataset.Dataset {
	out := d.Clone(d.Name)
	af := math.Abs(factor)
	for i := range out.Spectra {
		s := &out.Spectra[i]
		for j := range s.Y {
			s.Y[j] *= factor
			s.E[j] *= af
		}
		for k := range s.Events {
			s.Events[k].Weight *= factor
		}
	}
	return out
}

// Divide returns a/b bin by bin.
//
// b must either have as many rows as a or a single row, which is then applied
// to every row of a. A bin whose denominator is zero yields 0 with 0
// uncertainty, which later merges treat as carrying no weight.
func Divide(a, b *dataset.Dataset) (*dataset.Dataset, error) {
	return binary(a, b, "divide", func(ya, ea, yb, eb float64) (float64, float64) {
		if yb == 0 {
			return 0, 0
		}
		y := ya / yb
		e := math.Sqrt(ea*ea+y*y*eb*eb) / math.Abs(yb)
		return y, e
	})
}

// Subtract returns a-b bin by bin, adding uncertainties in quadrature.
// Row broadcasting follows Divide.
func Subtract(a, b *dataset.Dataset) (*dataset.Dataset, error) {
	return binary(a, b, "subtract", func(ya, ea, yb, eb float64) (float64, float64) {
		return ya - yb, math.Hypot(ea, eb)
	})
}

type binaryFunc func(ya, ea, yb, eb float64) (y, e float64)

func binary(a, b *dataset.Dataset, op string, fn binaryFunc) (*dataset.Dataset, error) {
	if a.IsEventCounted() || b.IsEventCounted() {
		return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace,
			"%s needs histogram data, got %s and %s", op, a.Kind, b.Kind)
	}
	if b.Len() != a.Len() && b.Len() != 1 {
		return nil, dataset.Errorf(dataset.ErrIncompatibleMerge,
			"%s: %q has %d rows, %q has %d", op, a.Name, a.Len(), b.Name, b.Len())
	}
	out := a.Clone(a.Name)
	for i := range out.Spectra {
		rs := b.Spectra[0]
		if b.Len() > 1 {
			rs = b.Spectra[i]
		}
		ls := &out.Spectra[i]
		if !sameBinning(ls.X, rs.X) || len(ls.Y) != len(rs.Y) {
			return nil, dataset.Errorf(dataset.ErrIncompatibleMerge,
				"%s: row %d of %q and %q have different binning", op, i, a.Name, b.Name)
		}
		for j := range ls.Y {
			ls.Y[j], ls.E[j] = fn(ls.Y[j], ls.E[j], rs.Y[j], rs.E[j])
		}
	}
	return out, nil
}

func sameBinning(x1, x2 []float64) bool {
	if len(x1) != len(x2) {
		return false
	}
	for i := range x1 {
		diff := math.Abs(x1[i] - x2[i])
		scale := math.Max(math.Abs(x1[i]), math.Abs(x2[i]))
		if diff > xTolerance*math.Max(scale, 1) {
			return false
		}
	}
	return true
}

// Concatenate appends the rows of b after the rows of a.
//
// Both operands must carry the same number of detectors and share a
// binning. The result keeps a's contributor list; rows are not checked for
// overlapping detectors.
func Concatenate(a, b *dataset.Dataset) (*dataset.Dataset, error) {
	if a.DetectorCount() != b.DetectorCount() {
		return nil, dataset.Errorf(dataset.ErrIncompatibleMerge,
			"cannot merge %q (%d detectors) with %q (%d detectors)",
			a.Name, a.DetectorCount(), b.Name, b.DetectorCount())
	}
	if a.Kind != b.Kind {
		return nil, dataset.Errorf(dataset.ErrIncompatibleMerge,
			"cannot merge %s dataset %q with %s dataset %q", a.Kind, a.Name, b.Kind, b.Name)
	}
	if a.Len() > 0 && b.Len() > 0 && !sameBinning(a.Spectra[0].X, b.Spectra[0].X) {
		return nil, dataset.Errorf(dataset.ErrIncompatibleMerge,
			"cannot merge %q with %q: binning differs", a.Name, b.Name)
	}
	out := a.Clone(a.Name)
	for _, s := range b.Spectra {
		out.Spectra = append(out.Spectra, s.Clone())
	}
	return out, nil
}

// WeightedSum collapses all rows of d into one, taking in every bin the
// inverse-variance weighted mean of the rows:
//
//	y = Σ(yᵢ/eᵢ²) / Σ(1/eᵢ²),  e = 1/sqrt(Σ(1/eᵢ²))
//
// A row whose uncertainty in a bin is zero carries no weight there and is
// left out of both sums. A bin with no weighted contributions is 0 ± 0.
func WeightedSum(d *dataset.Dataset) (*dataset.Dataset, error) {
	if d.IsEventCounted() {
		return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace,
			"weighted sum needs histogram data, %q is %s", d.Name, d.Kind)
	}
	if d.Len() == 0 {
		return nil, dataset.Errorf(dataset.ErrInvalidInput, "weighted sum of empty dataset %q", d.Name)
	}
	first := d.Spectra[0]
	for i, s := range d.Spectra[1:] {
		if !sameBinning(first.X, s.X) || len(first.Y) != len(s.Y) {
			return nil, dataset.Errorf(dataset.ErrIncompatibleMerge,
				"weighted sum: row %d of %q has different binning", i+1, d.Name)
		}
	}

	n := len(first.Y)
	sum := dataset.Spectrum{
		Detector: first.Detector,
		X:        append([]float64(nil), first.X...),
		Y:        make([]float64, n),
		E:        make([]float64, n),
	}
	for j := 0; j < n; j++ {
		var num, den float64
		for _, s := range d.Spectra {
			e := s.E[j]
			if e == 0 || math.IsNaN(e) || math.IsInf(e, 0) {
				continue
			}
			w := 1 / (e * e)
			num += s.Y[j] * w
			den += w
		}
		if den == 0 {
			continue
		}
		sum.Y[j] = num / den
		sum.E[j] = 1 / math.Sqrt(den)
	}

	out := d.Clone(d.Name)
	out.Spectra = []dataset.Spectrum{sum}
	return out, nil
}
