package service

import (
	"context"
	"fmt"

	"github.com/krapi/krapi/internal/bootstrap"
	"github.com/krapi/krapi/internal/migrate"
	"github.com/krapi/krapi/internal/registry"
)

// HealthReport is the result of a health check across all stores.
type HealthReport struct {
	Healthy       bool                `json:"healthy"`
	State         string              `json:"state"`
	MissingTables map[string][]string `json:"missing_tables,omitempty"`
}

// RepairReport lists the actions taken by an automatic repair pass.
type RepairReport struct {
	Actions []string `json:"actions"`
}

// RunMigrations applies pending migration steps to the administrative store
// and every existing tenant store. Returns a human-readable line per step
// applied.
func (s *Service) RunMigrations(ctx context.Context) ([]string, error) {
	var applied []string

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	ran, err := migrate.Run(ctx, admin, migrate.AdminSteps(), s.log)
	if err != nil {
		return applied, err
	}
	for _, n := range ran {
		applied = append(applied, fmt.Sprintf("admin: step %d", n))
	}

	err = s.eachTenant(ctx, func(tenant *registry.Handle) error {
		ran, err := migrate.Run(ctx, tenant, migrate.TenantSteps(), s.log)
		if err != nil {
			return err
		}
		for _, n := range ran {
			applied = append(applied, fmt.Sprintf("%s: step %d", tenant.ID(), n))
		}
		return nil
	})
	return applied, err
}

// CheckAndFixSchema reconciles every store against its declarative column
// list and returns one report per store, keyed by store identifier.
func (s *Service) CheckAndFixSchema(ctx context.Context) (map[string]migrate.Report, error) {
	reports := make(map[string]migrate.Report)

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	report, err := migrate.CheckAndFixSchema(ctx, admin, s.log)
	if err != nil {
		return reports, err
	}
	reports["admin"] = report

	err = s.eachTenant(ctx, func(tenant *registry.Handle) error {
		report, err := migrate.CheckAndFixSchema(ctx, tenant, s.log)
		if err != nil {
			return err
		}
		reports[tenant.ID()] = report
		return nil
	})
	return reports, err
}

// HealthCheck verifies every store contains its required table set.
func (s *Service) HealthCheck(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		Healthy:       true,
		State:         s.State().String(),
		MissingTables: make(map[string][]string),
	}

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	missing, err := migrate.MissingTables(ctx, admin)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		report.Healthy = false
		report.MissingTables["admin"] = missing
	}

	err = s.eachTenant(ctx, func(tenant *registry.Handle) error {
		missing, err := migrate.MissingTables(ctx, tenant)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			report.Healthy = false
			report.MissingTables[tenant.ID()] = missing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.State() != StateReady {
		report.Healthy = false
	}
	return report, nil
}

// AutoRepair re-applies the baseline schema and the declarative column
// fixes to every store, reporting each corrective action taken.
func (s *Service) AutoRepair(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{Actions: []string{}}

	repairStore := func(h *registry.Handle) error {
		before, err := migrate.MissingTables(ctx, h)
		if err != nil {
			return err
		}
		if err := bootstrap.EnsureBaseline(ctx, h); err != nil {
			return err
		}
		for _, table := range before {
			report.Actions = append(report.Actions, fmt.Sprintf("%s: created table %s", h.ID(), table))
		}

		fixed, err := migrate.CheckAndFixSchema(ctx, h, s.log)
		if err != nil {
			return err
		}
		for _, col := range fixed.Added {
			report.Actions = append(report.Actions, fmt.Sprintf("%s: added column %s", h.ID(), col))
		}
		for _, failure := range fixed.Failures {
			report.Actions = append(report.Actions, fmt.Sprintf("%s: failed %s", h.ID(), failure))
		}
		return nil
	}

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	if err := repairStore(admin); err != nil {
		return report, err
	}
	if err := s.eachTenant(ctx, repairStore); err != nil {
		return report, err
	}
	return report, nil
}

// eachTenant runs fn against every project whose store exists on disk.
func (s *Service) eachTenant(ctx context.Context, fn func(*registry.Handle) error) error {
	projects, err := s.ListProjects(ctx, "")
	if err != nil {
		return err
	}
	for _, p := range projects {
		if !s.reg.TenantExists(p.ID) {
			continue
		}
		tenant, err := s.tenant(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := fn(tenant); err != nil {
			return err
		}
	}
	return nil
}
