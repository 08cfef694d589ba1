package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"powderreduce/internal/axis"
	"powderreduce/internal/config"
	"powderreduce/internal/dataset"
	"powderreduce/internal/exposure"
	"powderreduce/internal/reduction"
)

// loadConfig returns the configured defaults with the command-line
// overrides applied. A config file problem is a config error; a bad
// override is an invocation error.
func loadConfig(inv Invocation) (*config.Config, error) {
	cfg := config.Default()
	if inv.ConfigPath != "" {
		loaded, err := config.Load(inv.ConfigPath)
		if err != nil {
			return nil, &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf("config %s: %v", inv.ConfigPath, err)}
		}
		cfg = loaded
	}

	o := inv.Overrides
	r := &cfg.Reduction
	if o.Target != nil {
		r.Target = *o.Target
	}
	if o.EFixed != nil {
		r.EFixed = *o.EFixed
	}
	if o.Bins != nil {
		r.Bins = *o.Bins
	}
	if o.LogBinning != nil {
		r.LogBinning = *o.LogBinning
	}
	if o.NormaliseBy != nil {
		r.NormaliseBy = *o.NormaliseBy
	}
	if o.MaskAngle != nil {
		r.MaskAngle = o.MaskAngle
	}
	if o.BackgroundScale != nil {
		r.BackgroundScale = *o.BackgroundScale
	}
	if o.Concurrency != nil {
		r.Concurrency = *o.Concurrency
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
	if o.StateDir != nil {
		cfg.Paths.StateDir = *o.StateDir
	}
	if o.CacheDir != nil {
		cfg.Paths.CacheDir = *o.CacheDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, invalidInvocationf("invalid settings: %v", err)
	}
	return cfg, nil
}

// reductionOptions builds the reduction request from settings and loaded
// datasets.
func reductionOptions(inv Invocation, cfg *config.Config, in inputs) (reduction.Options, error) {
	target, err := axis.ParseTarget(cfg.Reduction.Target)
	if err != nil {
		return reduction.Options{}, invalidInvocationf("%v", err)
	}
	mode, err := exposure.ParseMode(cfg.Reduction.NormaliseBy)
	if err != nil {
		return reduction.Options{}, invalidInvocationf("%v", err)
	}
	scale := cfg.Reduction.BackgroundScale
	return reduction.Options{
		Samples:         in.samples,
		Backgrounds:     in.backgrounds,
		Calibration:     in.calibration,
		ExternalMask:    in.mask,
		Target:          target,
		EFixed:          cfg.Reduction.EFixed,
		XMin:            inv.Overrides.XMin,
		XMax:            inv.Overrides.XMax,
		Bins:            cfg.Reduction.Bins,
		LogBinning:      cfg.Reduction.LogBinning,
		NormaliseBy:     mode,
		MaskAngle:       cfg.Reduction.MaskAngle,
		BackgroundScale: &scale,
		OutputName:      inv.OutputName,
	}, nil
}

// inputs are the datasets and mask a reduce invocation names.
type inputs struct {
	samples     []*dataset.Dataset
	backgrounds []*dataset.Dataset
	calibration *dataset.Dataset
	mask        dataset.Mask
}

func (in inputs) paths(inv Invocation) []string {
	out := append([]string(nil), inv.Samples...)
	out = append(out, inv.Backgrounds...)
	if inv.Calibration != "" {
		out = append(out, inv.Calibration)
	}
	if inv.MaskPath != "" {
		out = append(out, inv.MaskPath)
	}
	return out
}

func loadInputs(inv Invocation) (inputs, error) {
	var in inputs
	var errs []error
	read := func(path string) *dataset.Dataset {
		d, err := dataset.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	for _, p := range inv.Samples {
		in.samples = append(in.samples, read(p))
	}
	for _, p := range inv.Backgrounds {
		in.backgrounds = append(in.backgrounds, read(p))
	}
	if inv.Calibration != "" {
		in.calibration = read(inv.Calibration)
	}
	if inv.MaskPath != "" {
		m, err := loadMask(inv.MaskPath)
		if err != nil {
			errs = append(errs, err)
		}
		in.mask = m
	}
	if len(errs) != 0 {
		return inputs{}, &InvocationError{ExitCode: ExitConfigError, Message: errors.Join(errs...).Error()}
	}
	return in, nil
}

// maskFile is the YAML layout of an external mask.
type maskFile struct {
	Detectors []dataset.DetectorID `yaml:"detectors"`
}

func loadMask(path string) (dataset.Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataset.Mask{}, err
	}
	defer f.Close()

	var mf maskFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		return dataset.Mask{}, fmt.Errorf("mask %s: %w", path, err)
	}
	return dataset.NewMask(mf.Detectors...), nil
}
