package cli

import (
	"github.com/spf13/cobra"

	"github.com/noah-isme/student-tracker-sync/pkg/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tracker tables",
		Long: `Apply the tracker schema for the configured database driver. The schema is
idempotent and safe to run before every sync.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			a, err := newApp(rootOpts)
			if err != nil {
				return out.Failure(WrapExitError(ExitCommandError, "start migrate", err))
			}
			defer a.close()

			if err := database.Migrate(cmdContext(cmd), a.gw.DB()); err != nil {
				return out.Failure(WrapExitError(ExitCommandError, "migrate", err))
			}
			driver := a.gw.DB().DriverName()
			return out.Success(map[string]string{"driver": driver}, "schema applied ("+driver+")")
		},
	}
}
