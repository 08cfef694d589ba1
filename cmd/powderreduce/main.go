// powderreduce is the command-line front end of the reduction pipeline.
//
// Usage:
//
//	powderreduce reduce --sample <file> [--sample <file>...] --output <file> [flags]
//	powderreduce mask-angle --input <file> [--min <deg>] [--max <deg>] [--output <file>]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"powderreduce/internal/cli"
)

// exitCode is set by the command that ran.
var exitCode = cli.ExitSuccess

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			os.Exit(cli.ExitCode(err))
		}
		if exitCode == cli.ExitSuccess {
			// Cobra's own errors (unknown command, bad arguments).
			exitCode = cli.ExitInvalidInvocation
		}
	}
	os.Exit(exitCode)
}
