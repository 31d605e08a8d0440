package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// MigrateResult holds the outcome of a migration run.
type MigrateResult struct {
	Applied []string `json:"applied"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migration steps to every store",
		Long: `Apply pending migration steps to the administrative store and to
every tenant store that exists on disk.

Steps already recorded as applied are skipped; a step stuck mid-apply
from a crashed run is retried. The run aborts on the first failing step.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	svc, done, err := openService(cmd, opts, formatter)
	if err != nil {
		_ = formatter.Error("E_STARTUP", err.Error(), nil)
		return err
	}
	defer done()

	applied, err := svc.RunMigrations(cmd.Context())
	if err != nil {
		_ = formatter.Error("E_MIGRATE", err.Error(), applied)
		return WrapExitError(ExitFailure, "migration failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(MigrateResult{Applied: applied})
	}
	if len(applied) == 0 {
		return formatter.Success("all stores up to date")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "applied %d step(s):\n", len(applied))
	for _, line := range applied {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return formatter.Success(strings.TrimRight(b.String(), "\n"))
}
