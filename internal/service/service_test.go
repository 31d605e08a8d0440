package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/config"
	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/pkg/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		DataDir: t.TempDir(),
		Seed:    config.SeedConfig{AdminEmail: "root@example.com", AdminName: "Root"},
	}
	svc := New(cfg, zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Close() })
	return svc
}

func createProject(t *testing.T, svc *Service, name string) *models.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), models.ProjectSpec{Name: name})
	require.NoError(t, err)
	return p
}

func TestStart_ReachesReady(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, StateReady, svc.State())
}

func TestStart_SeedsDefaultAdministrator(t *testing.T) {
	svc := newTestService(t)

	admins, err := svc.ListAdministrators(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "root@example.com", admins[0].Email)
	assert.Equal(t, models.RoleMaster, admins[0].Role)
}

func TestStart_FastStartReturnsImmediately(t *testing.T) {
	cfg := &config.Config{
		DataDir:   t.TempDir(),
		FastStart: true,
		Seed:      config.SeedConfig{AdminEmail: "root@example.com"},
	}
	svc := New(cfg, zap.NewNop())
	t.Cleanup(func() { svc.Close() })

	require.NoError(t, svc.Start(context.Background()))

	// Calls made before readiness proceed optimistically.
	p, err := svc.CreateProject(context.Background(), models.ProjectSpec{Name: "early"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitReady(ctx))
	assert.Equal(t, StateReady, svc.State())
}

func TestWaitReady_ReportsFailedStartup(t *testing.T) {
	// A regular file where the data directory should be makes the
	// background bootstrap fail immediately.
	blocked := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o600))

	cfg := &config.Config{
		DataDir:   blocked,
		FastStart: true,
		Seed:      config.SeedConfig{AdminEmail: "root@example.com"},
	}
	svc := New(cfg, zap.NewNop())
	t.Cleanup(func() { svc.Close() })
	require.NoError(t, svc.Start(context.Background()))

	// WaitReady must observe the failure, not sit out the context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := svc.WaitReady(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errs.IsConnection(err))
	assert.Equal(t, StateFailed, svc.State())
}

// The end-to-end happy path: a fresh tenant gets a collection, a document
// lands in it, and listing finds exactly that document.
func TestTenantLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	assert.True(t, svc.Registry().TenantExists(p.ID))

	_, err := svc.CreateCollection(ctx, p.ID, "users",
		[]models.Field{{Name: "email", Type: "string", Required: true}}, nil)
	require.NoError(t, err)

	doc, err := svc.CreateDocument(ctx, p.ID, "users",
		map[string]any{"email": "a@x.com"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", doc.Data["email"])

	page, err := svc.ListDocuments(ctx, p.ID, "users", models.DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, doc.ID, page.Documents[0].ID)
}
