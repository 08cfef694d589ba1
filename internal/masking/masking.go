// Package masking combines detector masks and strips masked spectra.
package masking

import "powderreduce/internal/dataset"

// Extract returns a copy of the mask already carried by d.
func Extract(d *dataset.Dataset) dataset.Mask {
	return d.Masked.Clone()
}

// Combine returns the union of the given masks. It is commutative and
// idempotent and never modifies its arguments.
func Combine(masks ...dataset.Mask) dataset.Mask {
	var out dataset.Mask
	for _, m := range masks {
		out = out.Union(m)
	}
	return out
}

// ExtractUnmasked returns a new dataset holding only the spectra of d whose
// detector is not in mask, in their original order. The result carries no
// mask of its own.
func ExtractUnmasked(d *dataset.Dataset, mask dataset.Mask) *dataset.Dataset {
	out := d.Clone(d.Name)
	out.Masked = dataset.Mask{}
	out.Spectra = out.Spectra[:0]
	out.Axis = nil
	for i, s := range d.Spectra {
		if mask.Has(s.Detector.ID) {
			continue
		}
		out.Spectra = append(out.Spectra, s.Clone())
		if len(d.Axis) == len(d.Spectra) {
			out.Axis = append(out.Axis, d.Axis[i])
		}
	}
	return out
}
