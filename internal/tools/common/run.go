package common

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/tools/ui"
)

// Options are the flags every tool shares.
type Options struct {
	EnvFile string
	Timeout time.Duration
	CI      bool
}

func (o *Options) Bind(cmd *cobra.Command, defaultTimeout time.Duration) {
	cmd.PersistentFlags().StringVar(&o.EnvFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&o.Timeout, "timeout", defaultTimeout, "operation timeout")
	cmd.PersistentFlags().BoolVar(&o.CI, "ci", false, "non-interactive machine-readable output")
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

type Action func(ctx context.Context) ([]string, error)

// Run executes action under the TUI, or directly with JSON output in CI mode.
// Failures come back as *ExitError with the given code.
func Run(opts *Options, tool, command string, code int, action Action) error {
	title := tool + " " + command
	start := time.Now()
	var (
		details []string
		err     error
	)
	if opts.CI {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		details, err = action(ctx)
		cancel()
	} else {
		details, err = ui.Run(title, opts.Timeout, action)
	}
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordToolCommandRun(context.Background(), tool, command, outcome)
	observability.RecordToolCommandDuration(context.Background(), tool, command, outcome, elapsed)

	if opts.CI {
		PrintCIResult(err == nil, title, details, err, elapsed)
	}
	if err != nil {
		return &ExitError{Code: code, Err: err}
	}
	return nil
}
