package exposure

import (
	"errors"
	"testing"

	"powderreduce/internal/dataset"
	"powderreduce/internal/dataset/datasettest"
)

func run(name string) *dataset.Dataset {
	return datasettest.Histogram(name, datasettest.Ring(1, 2, 10, 20), []float64{0, 1, 2}, 10)
}

func TestFactor(t *testing.T) {
	d := datasettest.WithDuration(datasettest.WithCharge(run("a"), 7), 300)

	cases := []struct {
		mode Mode
		want float64
	}{
		{None, 1},
		{Monitor, 7},
		{Time, 300},
	}
	for _, tc := range cases {
		got, err := Factor(d, tc.mode)
		if err != nil {
			t.Fatalf("Factor(%s): %v", tc.mode, err)
		}
		if got != tc.want {
			t.Errorf("Factor(%s) = %v, want %v", tc.mode, got, tc.want)
		}
	}
}

func TestFactor_MissingMetadata(t *testing.T) {
	d := run("bare")
	for _, mode := range []Mode{Monitor, Time} {
		if _, err := Factor(d, mode); !errors.Is(err, dataset.ErrMissingMetadata) {
			t.Errorf("Factor(%s) err = %v, want ErrMissingMetadata", mode, err)
		}
	}
	if _, err := Factor(d, None); err != nil {
		t.Errorf("Factor(None) on bare dataset: %v", err)
	}
}

func TestRatio_CalibrationOverDataset(t *testing.T) {
	d := datasettest.WithCharge(run("a"), 4)
	cal := datasettest.WithCharge(run("cal"), 10)

	got, err := Ratio(d, cal, Monitor)
	if err != nil {
		t.Fatalf("Ratio: %v", err)
	}
	if got != 2.5 {
		t.Fatalf("Ratio = %v, want 2.5", got)
	}

	self, err := Ratio(d, nil, Monitor)
	if err != nil {
		t.Fatalf("Ratio without reference: %v", err)
	}
	if self != 1 {
		t.Fatalf("Ratio without reference = %v, want 1", self)
	}
}

func TestRatio_ZeroFactorIsNormalizationError(t *testing.T) {
	d := datasettest.WithCharge(run("a"), 0)
	cal := datasettest.WithCharge(run("cal"), 10)
	if _, err := Ratio(d, cal, Monitor); !errors.Is(err, dataset.ErrNormalization) {
		t.Fatalf("zero dataset charge: err = %v, want ErrNormalization", err)
	}
	if _, err := Ratio(cal, d, Monitor); !errors.Is(err, dataset.ErrNormalization) {
		t.Fatalf("zero reference charge: err = %v, want ErrNormalization", err)
	}
}

func TestNormalize_ScalesCopy(t *testing.T) {
	d := datasettest.WithDuration(run("a"), 50)
	cal := datasettest.WithDuration(run("cal"), 100)

	got, ratio, err := Normalize(d, cal, Time)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ratio != 2 {
		t.Fatalf("ratio = %v, want 2", ratio)
	}
	if got.Spectra[0].Y[0] != 20 {
		t.Fatalf("Y[0] = %v, want 20", got.Spectra[0].Y[0])
	}
	if d.Spectra[0].Y[0] != 10 {
		t.Fatalf("Normalize modified its input")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("monitor"); err != nil || m != Monitor {
		t.Fatalf("ParseMode(monitor) = %q, %v", m, err)
	}
	if _, err := ParseMode("proton"); !errors.Is(err, dataset.ErrInvalidInput) {
		t.Fatalf("ParseMode(proton) err = %v, want ErrInvalidInput", err)
	}
}
