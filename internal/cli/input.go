package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

const (
	ExitSuccess           = 0
	ExitReductionFailure  = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Command selects what an invocation does.
type Command string

const (
	CommandReduce    Command = "reduce"
	CommandMaskAngle Command = "mask-angle"
)

// Overrides holds the reduction settings given explicitly on the command
// line. A nil field leaves the configured value alone.
type Overrides struct {
	Target          *string
	EFixed          *float64
	XMin, XMax      *float64
	Bins            *int
	LogBinning      *bool
	NormaliseBy     *string
	MaskAngle       *float64
	BackgroundScale *float64
	Concurrency     *int
	LogLevel        *string
	LogFormat       *string
	StateDir        *string
	CacheDir        *string
}

// Invocation is the canonical description of one command.
//
// Paths are cleaned, and relative paths are resolved against WorkDir when
// one is given.
type Invocation struct {
	Command Command
	WorkDir string

	ConfigPath string
	TracePath  string
	DumpDir    string

	// reduce
	Samples     []string
	Backgrounds []string
	Calibration string
	MaskPath    string
	OutputName  string

	// mask-angle
	Input    string
	MinAngle float64
	MaxAngle float64

	// Output is the dataset file written on success. mask-angle defaults it
	// to Input.
	Output string

	Overrides Overrides
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// Flags binds the flags of one command to a value holder. The flag set can
// be parsed directly or attached to another command tree.
type Flags struct {
	cmd Command
	fs  *pflag.FlagSet

	workDir, configPath, tracePath, dumpDir string
	samples, backgrounds                    []string
	calibration, maskPath, output, name     string
	input                                   string
	minAngle, maxAngle                      float64

	target, normaliseBy, logLevel, logFormat, stateDir string
	cacheDir                                           string
	efixed, xmin, xmax, maskAngle, bkgScale            float64
	bins, concurrency                                  int
	logBinning                                         bool
}

// NewFlags returns the flags of cmd.
func NewFlags(cmd Command) (*Flags, error) {
	f := &Flags{cmd: cmd, fs: pflag.NewFlagSet(string(cmd), pflag.ContinueOnError)}
	fs := f.fs
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fs.StringVar(&f.workDir, "workdir", "", "Absolute directory relative paths are resolved against.")
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file.")
	fs.StringVar(&f.stateDir, "state-dir", "", "Directory receiving run records.")
	fs.StringVar(&f.logLevel, "log-level", "info", "Log level: debug|info|warn|error.")
	fs.StringVar(&f.logFormat, "log-format", "text", "Log format: text|json.")

	switch cmd {
	case CommandReduce:
		fs.StringArrayVar(&f.samples, "sample", nil, "Sample dataset file. Repeatable; at least one is required.")
		fs.StringArrayVar(&f.backgrounds, "background", nil, "Background dataset file. Give one, or one per sample.")
		fs.StringVar(&f.calibration, "calibration", "", "Calibration (vanadium) dataset file.")
		fs.StringVar(&f.maskPath, "mask", "", "YAML file listing detectors to mask.")
		fs.StringVar(&f.target, "target", "Theta", "Output axis: Theta|ElasticQ|ElasticDSpacing.")
		fs.Float64Var(&f.efixed, "efixed", 0, "Fixed energy in meV for elastic targets.")
		fs.Float64Var(&f.xmin, "xmin", 0, "Lower bound of the output axis. Derived from the data when unset.")
		fs.Float64Var(&f.xmax, "xmax", 0, "Upper bound of the output axis. Derived from the data when unset.")
		fs.IntVar(&f.bins, "bins", 1000, "Number of output bins.")
		fs.BoolVar(&f.logBinning, "log-binning", false, "Use logarithmic bins.")
		fs.StringVar(&f.normaliseBy, "normalise-by", "Monitor", "Exposure normalization: None|Time|Monitor.")
		fs.Float64Var(&f.maskAngle, "mask-angle", 0, "Mask detectors with two-theta in [0, DEG].")
		fs.Float64Var(&f.bkgScale, "background-scale", 1.0, "Factor applied to normalized backgrounds.")
		fs.IntVar(&f.concurrency, "concurrency", 4, "Datasets processed at once.")
		fs.StringVar(&f.tracePath, "trace", "", "Write the canonical reduction trace to this file.")
		fs.StringVar(&f.output, "output", "", "Reduced dataset file. Required.")
		fs.StringVar(&f.name, "output-name", "", "Name stored in the reduced dataset.")
		fs.StringVar(&f.cacheDir, "cache-dir", "", "Reuse reduced outputs stored here for identical inputs and options.")
		fs.StringVar(&f.dumpDir, "dump-intermediates", "", "Write every intermediate dataset to this directory as it is released.")
	case CommandMaskAngle:
		fs.StringVar(&f.input, "input", "", "Dataset file to mask. Required.")
		fs.Float64Var(&f.minAngle, "min", 0, "Lower two-theta bound in degrees.")
		fs.Float64Var(&f.maxAngle, "max", 180, "Upper two-theta bound in degrees.")
		fs.StringVar(&f.output, "output", "", "Masked dataset file. Defaults to --input.")
	default:
		return nil, invalidInvocationf("unknown command %q (expected reduce|mask-angle)", cmd)
	}
	return f, nil
}

// FlagSet returns the underlying flag set.
func (f *Flags) FlagSet() *pflag.FlagSet { return f.fs }

// ParseInvocation parses "<command> [flags]" into an Invocation.
//
// It does not read environment variables or the process working directory.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("missing command (expected reduce|mask-angle)")
	}
	f, err := NewFlags(Command(args[0]))
	if err != nil {
		return Invocation{}, err
	}
	if err := f.fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Invocation{}, invalidInvocationf("usage of %s:\n%s", args[0], f.fs.FlagUsages())
		}
		return Invocation{}, invalidInvocationf("%v", err)
	}
	return f.Invocation(f.fs.Args())
}

// Invocation validates the parsed flags. positional holds the arguments
// left after flag parsing.
func (f *Flags) Invocation(positional []string) (Invocation, error) {
	if len(positional) != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(positional, " "))
	}

	workDir := ""
	if strings.TrimSpace(f.workDir) != "" {
		workDir = filepath.Clean(f.workDir)
		if !filepath.IsAbs(workDir) {
			return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", f.workDir)
		}
	}
	resolve := func(flag, p string) (string, error) {
		if p == "" {
			return "", nil
		}
		return resolvePath(workDir, flag, p)
	}

	inv := Invocation{Command: f.cmd, WorkDir: workDir, OutputName: f.name}
	var err error
	if inv.ConfigPath, err = resolve("config", f.configPath); err != nil {
		return Invocation{}, err
	}
	if inv.TracePath, err = resolve("trace", f.tracePath); err != nil {
		return Invocation{}, err
	}
	if inv.Output, err = resolve("output", f.output); err != nil {
		return Invocation{}, err
	}
	if inv.DumpDir, err = resolve("dump-intermediates", f.dumpDir); err != nil {
		return Invocation{}, err
	}

	switch f.cmd {
	case CommandReduce:
		if len(f.samples) == 0 {
			return Invocation{}, invalidInvocationf("--sample is required")
		}
		if inv.Output == "" {
			return Invocation{}, invalidInvocationf("--output is required")
		}
		for _, p := range f.samples {
			r, err := resolvePath(workDir, "sample", p)
			if err != nil {
				return Invocation{}, err
			}
			inv.Samples = append(inv.Samples, r)
		}
		for _, p := range f.backgrounds {
			r, err := resolvePath(workDir, "background", p)
			if err != nil {
				return Invocation{}, err
			}
			inv.Backgrounds = append(inv.Backgrounds, r)
		}
		if inv.Calibration, err = resolve("calibration", f.calibration); err != nil {
			return Invocation{}, err
		}
		if inv.MaskPath, err = resolve("mask", f.maskPath); err != nil {
			return Invocation{}, err
		}
	case CommandMaskAngle:
		if f.input == "" {
			return Invocation{}, invalidInvocationf("--input is required")
		}
		if inv.Input, err = resolvePath(workDir, "input", f.input); err != nil {
			return Invocation{}, err
		}
		if inv.Output == "" {
			inv.Output = inv.Input
		}
		inv.MinAngle, inv.MaxAngle = f.minAngle, f.maxAngle
	}

	inv.Overrides = f.overrides()
	if f.fs.Changed("state-dir") {
		dir, err := resolvePath(workDir, "state-dir", f.stateDir)
		if err != nil {
			return Invocation{}, err
		}
		inv.Overrides.StateDir = &dir
	}
	if f.fs.Lookup("cache-dir") != nil && f.fs.Changed("cache-dir") {
		dir, err := resolvePath(workDir, "cache-dir", f.cacheDir)
		if err != nil {
			return Invocation{}, err
		}
		inv.Overrides.CacheDir = &dir
	}
	return inv, nil
}

// overrides collects the explicitly set reduction flags.
func (f *Flags) overrides() Overrides {
	var o Overrides
	changed := func(name string) bool { return f.fs.Lookup(name) != nil && f.fs.Changed(name) }
	if changed("target") {
		o.Target = &f.target
	}
	if changed("efixed") {
		o.EFixed = &f.efixed
	}
	if changed("xmin") {
		o.XMin = &f.xmin
	}
	if changed("xmax") {
		o.XMax = &f.xmax
	}
	if changed("bins") {
		o.Bins = &f.bins
	}
	if changed("log-binning") {
		o.LogBinning = &f.logBinning
	}
	if changed("normalise-by") {
		o.NormaliseBy = &f.normaliseBy
	}
	if changed("mask-angle") {
		o.MaskAngle = &f.maskAngle
	}
	if changed("background-scale") {
		o.BackgroundScale = &f.bkgScale
	}
	if changed("concurrency") {
		o.Concurrency = &f.concurrency
	}
	if changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	if changed("log-format") {
		o.LogFormat = &f.logFormat
	}
	return o
}

func resolvePath(workDir, flag, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("--%s must not be empty", flag)
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("--%s must not be '.'", flag)
	}
	if filepath.IsAbs(clean) || workDir == "" {
		return clean, nil
	}
	return filepath.Join(workDir, clean), nil
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
