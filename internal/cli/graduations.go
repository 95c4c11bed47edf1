package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

// NewGraduationsCommand groups the graduation ledger commands.
func NewGraduationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graduations",
		Short: "Manage the graduation ledger",
	}

	cmd.AddCommand(newGraduationsExportCommand(rootOpts))
	cmd.AddCommand(newGraduationsAckCommand(rootOpts))
	cmd.AddCommand(newGraduationsPruneCommand(rootOpts))

	return cmd
}

func newGraduationsExportCommand(rootOpts *RootOptions) *cobra.Command {
	var fileFormat string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write unacknowledged graduations to a CSV or PDF report",
		Example: `  tracker-sync graduations export
  tracker-sync graduations export --file-format pdf`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			a, err := newApp(rootOpts)
			if err != nil {
				return out.Failure(WrapExitError(ExitCommandError, "start export", err))
			}
			defer a.close()

			svc, err := a.graduations()
			if err != nil {
				return out.Failure(err)
			}
			path, rows, err := svc.Export(cmdContext(cmd), fileFormat)
			if err != nil {
				return out.Failure(err)
			}
			return out.Success(map[string]interface{}{"path": path, "rows": rows},
				fmt.Sprintf("%d graduations written to %s", rows, path))
		},
	}

	cmd.Flags().StringVar(&fileFormat, "file-format", "csv", "report format (csv|pdf)")

	return cmd
}

func newGraduationsAckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ack <client-id> <level>",
		Short:         "Acknowledge one graduation so it leaves the next export",
		Example:       "  tracker-sync graduations ack 4411 3\n  tracker-sync graduations ack 4411 AP_COMPA",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			clientID, err := strconv.Atoi(args[0])
			if err != nil {
				return out.Failure(appErrors.Clone(appErrors.ErrValidation, "client id must be numeric"))
			}

			a, err := newApp(rootOpts)
			if err != nil {
				return out.Failure(WrapExitError(ExitCommandError, "start ack", err))
			}
			defer a.close()

			svc, err := a.graduations()
			if err != nil {
				return out.Failure(err)
			}
			if err := svc.Acknowledge(cmdContext(cmd), clientID, args[1]); err != nil {
				return out.Failure(err)
			}
			return out.Success(map[string]interface{}{"client_id": clientID, "level": args[1]},
				fmt.Sprintf("acknowledged %d level %s", clientID, args[1]))
		},
	}
}

func newGraduationsPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var exportsOlderThan time.Duration

	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete acknowledged graduations",
		Example:       "  tracker-sync graduations prune --exports-older-than 720h",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			a, err := newApp(rootOpts)
			if err != nil {
				return out.Failure(WrapExitError(ExitCommandError, "start prune", err))
			}
			defer a.close()

			svc, err := a.graduations()
			if err != nil {
				return out.Failure(err)
			}
			n, err := svc.Prune(cmdContext(cmd))
			if err != nil {
				return out.Failure(err)
			}
			text := fmt.Sprintf("%d acknowledged graduations removed", n)

			var removed []string
			if exportsOlderThan > 0 {
				store, err := a.exportStorage()
				if err != nil {
					return out.Failure(err)
				}
				if removed, err = store.CleanupOlderThan(exportsOlderThan, a.clock.Now()); err != nil {
					return out.Failure(err)
				}
				text += fmt.Sprintf(", %d export files removed", len(removed))
			}
			return out.Success(map[string]interface{}{"pruned": n, "exports_removed": removed}, text)
		},
	}

	cmd.Flags().DurationVar(&exportsOlderThan, "exports-older-than", 0, "also delete export files older than this")

	return cmd
}
