package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Verify every store contains its required tables",
		Long: `Check that the administrative store and every tenant store contain
the full set of required tables. Exits non-zero when any table is
missing or the service did not reach readiness.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(rootOpts, cmd)
		},
	}

	return cmd
}

func runHealth(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	svc, done, err := openService(cmd, opts, formatter)
	if err != nil {
		_ = formatter.Error("E_STARTUP", err.Error(), nil)
		return err
	}
	defer done()

	report, err := svc.HealthCheck(cmd.Context())
	if err != nil {
		_ = formatter.Error("E_HEALTH", err.Error(), nil)
		return WrapExitError(ExitFailure, "health check failed", err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "state: %s\n", report.State)
		if report.Healthy {
			b.WriteString("healthy: all stores complete")
		} else {
			b.WriteString("unhealthy:\n")
			stores := make([]string, 0, len(report.MissingTables))
			for name := range report.MissingTables {
				stores = append(stores, name)
			}
			sort.Strings(stores)
			for _, name := range stores {
				fmt.Fprintf(&b, "  %s: missing %s\n", name, strings.Join(report.MissingTables[name], ", "))
			}
		}
		if err := formatter.Success(strings.TrimRight(b.String(), "\n")); err != nil {
			return err
		}
	}

	if !report.Healthy {
		return NewExitError(ExitFailure, "stores unhealthy")
	}
	return nil
}
