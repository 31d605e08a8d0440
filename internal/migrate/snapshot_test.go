package migrate

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/krapi/krapi/internal/registry"
)

// Golden schema snapshots pin the exact post-bootstrap shape of each store
// kind. Regenerate with:
//
//	go test ./internal/migrate -update
func TestSchemaSnapshot_Golden(t *testing.T) {
	r := registry.New(registry.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { r.CloseAll() })
	ctx := context.Background()

	admin, err := r.OpenAdmin()
	require.NoError(t, err)
	applyBaseline(t, admin)
	_, err = Run(ctx, admin, AdminSteps(), nil)
	require.NoError(t, err)

	tenant, err := r.OpenTenant("acme")
	require.NoError(t, err)
	applyBaseline(t, tenant)
	_, err = Run(ctx, tenant, TenantSteps(), nil)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	adminSnap, err := SchemaSnapshot(ctx, admin)
	require.NoError(t, err)
	g.Assert(t, "admin_schema", []byte(adminSnap))

	tenantSnap, err := SchemaSnapshot(ctx, tenant)
	require.NoError(t, err)
	g.Assert(t, "tenant_schema", []byte(tenantSnap))
}

func TestSchemaSnapshot_StableAcrossRuns(t *testing.T) {
	r := registry.New(registry.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { r.CloseAll() })
	ctx := context.Background()

	h, err := r.OpenTenant("acme")
	require.NoError(t, err)
	applyBaseline(t, h)

	first, err := SchemaSnapshot(ctx, h)
	require.NoError(t, err)
	second, err := SchemaSnapshot(ctx, h)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
