package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/service"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Phases       []string
	RefreshRepos bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the import phases",
		Long: `Run the import phases in their fixed order: students, attendance, schedule,
courses, pending, github. A failing phase is recorded and the next one still runs.

Example:
  tracker-sync sync
  tracker-sync sync --phase attendance --phase github`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Phases, "phase", nil, "run only these phases (repeatable)")
	cmd.Flags().BoolVar(&opts.RefreshRepos, "refresh-repo-cache", false, "drop cached classroom repository listings first")

	return cmd
}

type syncSummary struct {
	RunID     string            `json:"run_id"`
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return out.Failure(WrapExitError(ExitCommandError, "start sync", err))
	}
	defer a.close()

	services, err := a.syncServices()
	if err != nil {
		return out.Failure(WrapExitError(ExitCommandError, "build sync services", err))
	}
	if opts.RefreshRepos {
		if err := a.repos.Invalidate(ctx); err != nil {
			a.log.Warn("repository cache not refreshed", zap.Error(err))
		}
	}

	runner := service.NewRunner(services.Phases(), a.metrics, a.diagnostics(), a.log,
		service.WithMetricsTextfile(a.cfg.Metrics.TextfilePath))
	report, err := runner.Run(ctx, opts.Phases)
	if err != nil {
		return out.Failure(err)
	}

	summary := syncSummary{RunID: report.RunID, Completed: report.Completed}
	names := make([]string, 0, len(report.Failed))
	for name, phaseErr := range report.Failed {
		if summary.Failed == nil {
			summary.Failed = map[string]string{}
		}
		summary.Failed[name] = phaseErr.Error()
		names = append(names, name)
	}
	sort.Strings(names)

	text := fmt.Sprintf("run %s: completed [%s]", report.RunID, strings.Join(report.Completed, " "))
	if len(names) > 0 {
		text += fmt.Sprintf(", failed [%s]", strings.Join(names, " "))
	}
	if err := out.Success(summary, text); err != nil {
		return err
	}
	if len(names) > 0 {
		return WrapExitError(ExitFailure, "sync finished with failures", errors.New(strings.Join(names, ", ")))
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
