package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show diagnostics recorded by recent syncs",
		Example: `  tracker-sync logs
  tracker-sync logs --since 2024-03-01 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			a, err := newApp(rootOpts)
			if err != nil {
				return out.Failure(WrapExitError(ExitCommandError, "start logs", err))
			}
			defer a.close()

			if since == "" {
				since = a.clock.Today()
			} else if _, err := time.Parse(time.DateOnly, since); err != nil {
				return out.Failure(appErrors.Clone(appErrors.ErrValidation, "--since must be YYYY-MM-DD"))
			}

			entries, err := a.logs.ListSince(cmdContext(cmd), since)
			if err != nil {
				return out.Failure(err)
			}

			var b strings.Builder
			tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tCODE\tCLIENT\tSTUDENT\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.CreatedAt, e.Code, e.ClientID, e.StudentName, e.Message)
			}
			_ = tw.Flush()
			return out.Success(entries, strings.TrimRight(b.String(), "\n"))
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "first date to show (default today)")

	return cmd
}
