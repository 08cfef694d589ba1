package axis

import (
	"math"
	"sort"

	"powderreduce/internal/dataset"
)

// ValidateBinning checks a resampling request: a positive bin count and a
// finite, non-empty range that is also positive for logarithmic binning.
func ValidateBinning(xMin, xMax float64, bins int, logBinning bool) error {
	if bins <= 0 {
		return dataset.Errorf(dataset.ErrInvalidRange, "bin count must be positive, got %d", bins)
	}
	if math.IsNaN(xMin) || math.IsNaN(xMax) || math.IsInf(xMin, 0) || math.IsInf(xMax, 0) {
		return dataset.Errorf(dataset.ErrInvalidRange, "range [%g, %g] is not finite", xMin, xMax)
	}
	if xMin >= xMax {
		return dataset.Errorf(dataset.ErrInvalidRange, "xmin %g must be below xmax %g", xMin, xMax)
	}
	if logBinning && xMin <= 0 {
		return dataset.Errorf(dataset.ErrInvalidRange, "logarithmic binning needs xmin > 0, got %g", xMin)
	}
	return nil
}

// Edges returns bins+1 bin edges spanning exactly [xMin, xMax], evenly
// spaced or, with logBinning, in geometric progression.
func Edges(xMin, xMax float64, bins int, logBinning bool) ([]float64, error) {
	if err := ValidateBinning(xMin, xMax, bins, logBinning); err != nil {
		return nil, err
	}
	edges := make([]float64, bins+1)
	if logBinning {
		ratio := math.Log(xMax / xMin)
		for i := range edges {
			edges[i] = xMin * math.Exp(ratio*float64(i)/float64(bins))
		}
	} else {
		width := (xMax - xMin) / float64(bins)
		for i := range edges {
			edges[i] = xMin + width*float64(i)
		}
	}
	edges[0], edges[bins] = xMin, xMax
	return edges, nil
}

// Resample maps every row of d onto bins bins spanning [xMin, xMax].
//
// Point values falling in a bin are summed and their uncertainties added in
// quadrature; histogram rows contribute each bin at its centre. The last
// bin is closed so a point at xMax is kept. Points outside the range are
// dropped, never extrapolated.
func Resample(d *dataset.Dataset, xMin, xMax float64, bins int, logBinning bool) (*dataset.Dataset, error) {
	if d.IsEventCounted() {
		return nil, dataset.Errorf(dataset.ErrUnsupportedWorkspace,
			"cannot resample event dataset %q; integrate it first", d.Name)
	}
	edges, err := Edges(xMin, xMax, bins, logBinning)
	if err != nil {
		return nil, err
	}

	out := d.Clone(d.Name)
	for i, s := range d.Spectra {
		row := dataset.Spectrum{
			Detector: s.Detector,
			X:        append([]float64(nil), edges...),
			Y:        make([]float64, bins),
			E:        make([]float64, bins),
		}
		variance := make([]float64, bins)
		for j := range s.Y {
			x := pointPosition(s, j)
			b, ok := binIndex(edges, x)
			if !ok {
				continue
			}
			row.Y[b] += s.Y[j]
			variance[b] += s.E[j] * s.E[j]
		}
		for b := range variance {
			row.E[b] = math.Sqrt(variance[b])
		}
		out.Spectra[i] = row
	}
	return out, nil
}

func pointPosition(s dataset.Spectrum, j int) float64 {
	if s.IsHistogram() {
		return (s.X[j] + s.X[j+1]) / 2
	}
	return s.X[j]
}

// binIndex locates x among ascending edges. Bins are half open except the
// last, which also holds its upper edge.
func binIndex(edges []float64, x float64) (int, bool) {
	last := len(edges) - 1
	if math.IsNaN(x) || x < edges[0] || x > edges[last] {
		return 0, false
	}
	i := sort.SearchFloat64s(edges, x)
	switch {
	case i >= last:
		return last - 1, true
	case edges[i] == x:
		return i, true
	default:
		return i - 1, true
	}
}

// SharedRange returns the smallest lower edge and largest upper edge over
// every row of every dataset.
func SharedRange(ds ...*dataset.Dataset) (float64, float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range ds {
		if d == nil {
			continue
		}
		for _, s := range d.Spectra {
			for _, x := range s.X {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					continue
				}
				lo = math.Min(lo, x)
				hi = math.Max(hi, x)
			}
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, dataset.Errorf(dataset.ErrInvalidRange, "no x values to derive a shared range from")
	}
	return lo, hi, nil
}
