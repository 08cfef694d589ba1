package main

import (
	"github.com/spf13/cobra"

	"powderreduce/internal/cli"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "powderreduce",
	Short: "Reduce powder diffraction runs to a single spectrum",
	Long: "powderreduce normalizes, corrects and merges powder diffraction runs\n" +
		"into one spectrum on a two-theta, Q or d-spacing axis.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(newCommand(cli.CommandReduce,
		"Normalize, correct and merge sample runs",
		`Reduce one or more sample runs into a single spectrum.

Every sample is normalized by its exposure, optionally corrected by a
calibration and background, converted to the target axis and merged
by an inverse-variance weighted sum.

Usage:
  powderreduce reduce --sample run1.cbor --sample run2.cbor \
      --calibration van.cbor --background empty.cbor --output out.cbor.zst`))
	rootCmd.AddCommand(newCommand(cli.CommandMaskAngle,
		"Mask detectors in a two-theta range",
		`Mask every detector whose scattering angle falls in [--min, --max]
degrees. The dataset is rewritten in place unless --output is given.`))
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cli.InvocationError{ExitCode: cli.ExitInvalidInvocation, Message: err.Error()}
	})
	rootCmd.Version = version
}

// newCommand attaches the flags of cmd to a cobra command that executes it.
func newCommand(cmd cli.Command, short, long string) *cobra.Command {
	f, err := cli.NewFlags(cmd)
	if err != nil {
		panic(err)
	}
	c := &cobra.Command{
		Use:   string(cmd),
		Short: short,
		Long:  long,
		RunE: func(c *cobra.Command, args []string) error {
			inv, err := f.Invocation(args)
			if err != nil {
				return err
			}
			res, err := cli.Execute(c.Context(), inv)
			exitCode = res.ExitCode
			return err
		},
	}
	c.Flags().AddFlagSet(f.FlagSet())
	return c
}
