package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/pkg/models"
)

func TestCreateProject_ProvisionsTenantStore(t *testing.T) {
	svc := newTestService(t)

	p := createProject(t, svc, "acme")
	assert.NotEmpty(t, p.ID)
	assert.True(t, strings.HasPrefix(p.APIKey, "krapi_tenant_"))
	assert.True(t, p.Active)
	assert.True(t, svc.Registry().TenantExists(p.ID))
}

func TestCreateProject_DuplicateName(t *testing.T) {
	svc := newTestService(t)

	createProject(t, svc, "acme")
	_, err := svc.CreateProject(context.Background(), models.ProjectSpec{Name: "acme"})
	assert.True(t, errs.IsDuplicateName(err), "got %v", err)
}

func TestCreateProject_RequiresName(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateProject(context.Background(), models.ProjectSpec{})
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestGetProject_NotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetProject(context.Background(), "nope")
	assert.True(t, errs.IsNotFound(err), "got %v", err)
}

func TestListProjects_Search(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	createProject(t, svc, "acme")
	createProject(t, svc, "acme-staging")
	createProject(t, svc, "globex")

	all, err := svc.ListProjects(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hits, err := svc.ListProjects(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	none, err := svc.ListProjects(ctx, "initech")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateProject_PartialPatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")

	desc := "the coyote supply company"
	active := false
	updated, err := svc.UpdateProject(ctx, p.ID, models.ProjectPatch{
		Description: &desc,
		Active:      &active,
	})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.False(t, updated.Active)
	assert.Equal(t, "acme", updated.Name, "unpatched fields stay put")
}

func TestUpdateProject_UnknownIsNotFound(t *testing.T) {
	svc := newTestService(t)

	name := "renamed"
	_, err := svc.UpdateProject(context.Background(), "nope", models.ProjectPatch{Name: &name})
	assert.True(t, errs.IsNotFound(err), "got %v", err)
}

func TestUpdateProject_ConcurrentPatchesAllLand(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")

	desc := "patched description"
	inactive := false
	patches := []models.ProjectPatch{
		{Description: &desc},
		{Active: &inactive},
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(patches))
	for _, patch := range patches {
		wg.Add(1)
		go func(patch models.ProjectPatch) {
			defer wg.Done()
			_, err := svc.UpdateProject(ctx, p.ID, patch)
			errCh <- err
		}(patch)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, desc, got.Description, "no patch may be lost")
	assert.False(t, got.Active, "no patch may be lost")
}

func TestDeleteProject_RemovesStoreAndRow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	deleted, err := svc.DeleteProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.False(t, svc.Registry().TenantExists(p.ID))
	_, err = svc.GetProject(ctx, p.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteProject_UnknownIsNoop(t *testing.T) {
	svc := newTestService(t)

	deleted, err := svc.DeleteProject(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, deleted)
}

// A failed store removal must leave the administrative row in place so the
// deletion can be retried; losing the row first would orphan the store file.
func TestDeleteProject_KeepsRowWhenStoreRemovalFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")

	svc.Registry().SetRemoveFile(func(string) error { return errors.New("device busy") })
	_, err := svc.DeleteProject(ctx, p.ID)
	require.Error(t, err)

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err, "administrative row must survive a failed removal")
	assert.Equal(t, p.ID, got.ID)

	// Retry succeeds once removal works again.
	svc.Registry().SetRemoveFile(os.Remove)
	deleted, err := svc.DeleteProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestRegenerateProjectKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	key, err := svc.RegenerateProjectKey(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, p.APIKey, key)
	assert.True(t, strings.HasPrefix(key, "krapi_tenant_"))

	got, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, key, got.APIKey)

	_, err = svc.RegenerateProjectKey(ctx, "nope")
	assert.True(t, errs.IsNotFound(err))
}

func TestProjectStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	_, err := svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)
	_, err = svc.CreateDocument(ctx, p.ID, "users", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)

	stats, err := svc.ProjectStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stats.ProjectID)
	assert.Equal(t, 1, stats.Collections)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 0, stats.Users)
	assert.Greater(t, stats.StorageBytes, int64(0))
}
