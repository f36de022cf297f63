package loadgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/email-auth-api/internal/tools/common"
)

const exitCodeLoadgen = 4

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loadgen",
		Short:         "Generate auth traffic against a running API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var cfg Config
	var opts common.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one load generation pass and print a summary",
		PreRunE: func(*cobra.Command, []string) error {
			return validateConfig(cfg)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Timeout <= 0 {
				// The run stops itself after Duration; leave room for bootstrap and drain.
				opts.Timeout = cfg.Duration + 15*time.Second
			}
			return common.Run(&opts, "loadgen", "run", exitCodeLoadgen, func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return summarize(res, cfg.Duration), nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	f.StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: auth|mixed|error-heavy")
	f.DurationVar(&cfg.Duration, "duration", 15*time.Second, "how long to generate traffic")
	f.IntVar(&cfg.RPS, "rps", 20, "target requests per second across all workers")
	f.IntVar(&cfg.Concurrency, "concurrency", 6, "number of workers, each with its own account")
	f.Int64Var(&cfg.Seed, "seed", 42, "seed for step selection")
	opts.Bind(cmd, 0)
	return cmd
}

func validateConfig(cfg Config) error {
	var errs []error
	if len(stepsForProfile(cfg.Profile)) == 0 {
		errs = append(errs, fmt.Errorf("unknown profile %q", cfg.Profile))
	}
	if cfg.Duration <= 0 {
		errs = append(errs, errors.New("--duration must be positive"))
	}
	if cfg.RPS <= 0 {
		errs = append(errs, errors.New("--rps must be positive"))
	}
	if cfg.Concurrency <= 0 {
		errs = append(errs, errors.New("--concurrency must be positive"))
	}
	return errors.Join(errs...)
}

func summarize(res Result, elapsed time.Duration) []string {
	lines := []string{
		fmt.Sprintf("total_requests=%d", res.TotalRequests),
		fmt.Sprintf("failures=%d", res.Failures),
		fmt.Sprintf("status_2xx=%d", res.Status2xx),
		fmt.Sprintf("status_4xx=%d", res.Status4xx),
		fmt.Sprintf("status_5xx=%d", res.Status5xx),
	}
	if elapsed > 0 {
		lines = append(lines, fmt.Sprintf("throughput_rps=%.1f", float64(res.TotalRequests)/elapsed.Seconds()))
	}
	if res.TotalRequests > 0 {
		lines = append(lines, fmt.Sprintf("failure_ratio=%.3f", float64(res.Failures)/float64(res.TotalRequests)))
	}
	return lines
}
