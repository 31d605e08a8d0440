package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/krapi/krapi/internal/migrate"
)

// RepairResult holds the outcome of a repair pass.
type RepairResult struct {
	Actions []string                  `json:"actions"`
	Schema  map[string]migrate.Report `json:"schema"`
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Recreate missing tables and columns in every store",
		Long: `Re-apply the baseline schema and the declarative column fixes to the
administrative store and every tenant store.

Missing tables are recreated, missing columns added. Existing data is
never touched; a column that cannot be added is reported, not fatal.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(rootOpts, cmd)
		},
	}

	return cmd
}

func runRepair(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	svc, done, err := openService(cmd, opts, formatter)
	if err != nil {
		_ = formatter.Error("E_STARTUP", err.Error(), nil)
		return err
	}
	defer done()

	report, err := svc.AutoRepair(cmd.Context())
	if err != nil {
		_ = formatter.Error("E_REPAIR", err.Error(), nil)
		return WrapExitError(ExitFailure, "repair failed", err)
	}
	schema, err := svc.CheckAndFixSchema(cmd.Context())
	if err != nil {
		_ = formatter.Error("E_REPAIR", err.Error(), nil)
		return WrapExitError(ExitFailure, "schema reconciliation failed", err)
	}

	unhealthy := false
	for _, r := range schema {
		if !r.Healthy() {
			unhealthy = true
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(RepairResult{Actions: report.Actions, Schema: schema}); err != nil {
			return err
		}
	} else {
		var b strings.Builder
		if len(report.Actions) == 0 {
			b.WriteString("nothing to repair\n")
		}
		for _, a := range report.Actions {
			fmt.Fprintf(&b, "%s\n", a)
		}
		stores := make([]string, 0, len(schema))
		for name := range schema {
			stores = append(stores, name)
		}
		sort.Strings(stores)
		for _, name := range stores {
			r := schema[name]
			fmt.Fprintf(&b, "%s: checked %d column(s), added %d, failed %d\n",
				name, r.Checked, len(r.Added), len(r.Failures))
		}
		if err := formatter.Success(strings.TrimRight(b.String(), "\n")); err != nil {
			return err
		}
	}

	if unhealthy {
		return NewExitError(ExitFailure, "some schema fixes failed")
	}
	return nil
}
