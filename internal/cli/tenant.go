package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/pkg/models"
)

// NewTenantCommand creates the tenant command group.
func NewTenantCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant projects",
	}

	cmd.AddCommand(newTenantCreateCommand(rootOpts))
	cmd.AddCommand(newTenantListCommand(rootOpts))
	cmd.AddCommand(newTenantDeleteCommand(rootOpts))
	cmd.AddCommand(newTenantRegenKeyCommand(rootOpts))

	return cmd
}

func newTenantCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project and provision its store",
		Long: `Create a project in the administrative store and provision its
dedicated tenant store with the baseline schema and all migrations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)

			svc, done, err := openService(cmd, rootOpts, formatter)
			if err != nil {
				_ = formatter.Error("E_STARTUP", err.Error(), nil)
				return err
			}
			defer done()

			p, err := svc.CreateProject(cmd.Context(), models.ProjectSpec{
				Name:        args[0],
				Description: description,
			})
			if err != nil {
				code := "E_CREATE"
				if errs.IsDuplicateName(err) {
					code = "E_DUPLICATE"
				}
				_ = formatter.Error(code, err.Error(), nil)
				return WrapExitError(ExitFailure, "create project", err)
			}

			if formatter.Format == "json" {
				return formatter.Success(p)
			}
			return formatter.Success(fmt.Sprintf("created project %s (id %s, api key %s)", p.Name, p.ID, p.APIKey))
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "project description")
	return cmd
}

func newTenantListCommand(rootOpts *RootOptions) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List projects",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)

			svc, done, err := openService(cmd, rootOpts, formatter)
			if err != nil {
				_ = formatter.Error("E_STARTUP", err.Error(), nil)
				return err
			}
			defer done()

			projects, err := svc.ListProjects(cmd.Context(), search)
			if err != nil {
				_ = formatter.Error("E_LIST", err.Error(), nil)
				return WrapExitError(ExitFailure, "list projects", err)
			}

			if formatter.Format == "json" {
				return formatter.Success(projects)
			}
			if len(projects) == 0 {
				return formatter.Success("no projects")
			}
			var b strings.Builder
			for _, p := range projects {
				fmt.Fprintf(&b, "%s  %s  active=%t\n", p.ID, p.Name, p.Active)
			}
			return formatter.Success(strings.TrimRight(b.String(), "\n"))
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "filter projects by name substring")
	return cmd
}

func newTenantDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and destroy its store",
		Long: `Delete a project. The tenant store's tables are wiped and its file
removed before the administrative record goes away, so a crash
mid-delete leaves the project visible for a retry instead of orphaning
the store.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)

			svc, done, err := openService(cmd, rootOpts, formatter)
			if err != nil {
				_ = formatter.Error("E_STARTUP", err.Error(), nil)
				return err
			}
			defer done()

			deleted, err := svc.DeleteProject(cmd.Context(), args[0])
			if err != nil {
				_ = formatter.Error("E_DELETE", err.Error(), nil)
				return WrapExitError(ExitFailure, "delete project", err)
			}
			if !deleted {
				_ = formatter.Error("E_NOT_FOUND", fmt.Sprintf("project %s not found", args[0]), nil)
				return NewExitError(ExitFailure, "project not found")
			}
			return formatter.Success(fmt.Sprintf("deleted project %s", args[0]))
		},
	}

	return cmd
}

func newTenantRegenKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "regen-key <project-id>",
		Short:         "Rotate a project's API key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(cmd, rootOpts)

			svc, done, err := openService(cmd, rootOpts, formatter)
			if err != nil {
				_ = formatter.Error("E_STARTUP", err.Error(), nil)
				return err
			}
			defer done()

			key, err := svc.RegenerateProjectKey(cmd.Context(), args[0])
			if err != nil {
				code := "E_REGEN"
				if errs.IsNotFound(err) {
					code = "E_NOT_FOUND"
				}
				_ = formatter.Error(code, err.Error(), nil)
				return WrapExitError(ExitFailure, "regenerate key", err)
			}

			if formatter.Format == "json" {
				return formatter.Success(map[string]string{"project_id": args[0], "api_key": key})
			}
			return formatter.Success(fmt.Sprintf("new api key: %s", key))
		},
	}

	return cmd
}
