package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapi/krapi/pkg/models"
)

func TestHealthCheck_FreshStoresAreHealthy(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	createProject(t, svc, "acme")

	report, err := svc.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, "ready", report.State)
	assert.Empty(t, report.MissingTables)
}

func TestHealthCheck_DetectsDroppedTable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	tenant, err := svc.Registry().OpenTenant(p.ID)
	require.NoError(t, err)
	_, err = tenant.Exec(ctx, `DROP TABLE change_log`)
	require.NoError(t, err)

	report, err := svc.HealthCheck(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"change_log"}, report.MissingTables[p.ID])
}

func TestAutoRepair_RecreatesDroppedTable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	tenant, err := svc.Registry().OpenTenant(p.ID)
	require.NoError(t, err)
	_, err = tenant.Exec(ctx, `DROP TABLE change_log`)
	require.NoError(t, err)

	report, err := svc.AutoRepair(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.Actions, p.ID+": created table change_log")

	health, err := svc.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
}

func TestRunMigrations_NoopOnFreshStores(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	createProject(t, svc, "acme")

	// Start and tenant provisioning already applied every step.
	applied, err := svc.RunMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestCheckAndFixSchema_CoversEveryStore(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p1 := createProject(t, svc, "acme")
	p2 := createProject(t, svc, "globex")

	reports, err := svc.CheckAndFixSchema(ctx)
	require.NoError(t, err)
	assert.Contains(t, reports, "admin")
	assert.Contains(t, reports, p1.ID)
	assert.Contains(t, reports, p2.ID)
	for store, report := range reports {
		assert.True(t, report.Healthy(), "store %s reported failures", store)
		assert.Empty(t, report.Added, "fresh store %s needed fixes", store)
	}
}

// Dropping a column and touching the data path exercises the self-repair
// retry: the first attempt fails on the missing column, the reconciler adds
// it back, and the retried call succeeds.
func TestWithRepair_HealsMissingColumn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	_, err := svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)

	tenant, err := svc.Registry().OpenTenant(p.ID)
	require.NoError(t, err)
	_, err = tenant.Exec(ctx, `ALTER TABLE documents DROP COLUMN version`)
	require.NoError(t, err)

	page, err := svc.ListDocuments(ctx, p.ID, "users", models.DocumentFilter{})
	require.NoError(t, err, "repair should recreate the column and retry")
	assert.Equal(t, 0, page.Total)
}

func TestListChanges_RecordsMutations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	_, err := svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)
	doc, err := svc.CreateDocument(ctx, p.ID, "users", map[string]any{"n": 1}, "tester")
	require.NoError(t, err)
	_, err = svc.DeleteDocument(ctx, p.ID, "users", doc.ID)
	require.NoError(t, err)

	entries, err := svc.ListChanges(ctx, p.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "collection.created")
	assert.Contains(t, actions, "document.created")
	assert.Contains(t, actions, "document.deleted")
}
