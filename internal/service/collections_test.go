package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/pkg/models"
)

func TestCreateCollection_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	fields := []models.Field{
		{Name: "email", Type: "string", Required: true, Unique: true},
		{Name: "age", Type: "number"},
	}
	indexes := []models.Index{{Name: "by_email", Fields: []string{"email"}, Unique: true}}

	c, err := svc.CreateCollection(ctx, p.ID, "users", fields, indexes)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	got, err := svc.GetCollection(ctx, p.ID, "users")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, fields, got.Fields)
	assert.Equal(t, indexes, got.Indexes)
}

func TestCreateCollection_DuplicateName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	_, err := svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)

	_, err = svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	assert.True(t, errs.IsDuplicateName(err), "got %v", err)
}

func TestCollections_IsolatedPerProject(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p1 := createProject(t, svc, "acme")
	p2 := createProject(t, svc, "globex")

	_, err := svc.CreateCollection(ctx, p1.ID, "users", nil, nil)
	require.NoError(t, err)

	// Same name in another project is fine; the stores are separate files.
	_, err = svc.CreateCollection(ctx, p2.ID, "users", nil, nil)
	require.NoError(t, err)

	_, err = svc.GetCollection(ctx, p2.ID, "orders")
	assert.True(t, errs.IsNotFound(err))
}

func TestListCollections(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	for _, name := range []string{"users", "orders", "events"} {
		_, err := svc.CreateCollection(ctx, p.ID, name, nil, nil)
		require.NoError(t, err)
	}

	cols, err := svc.ListCollections(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, cols, 3)
}

func TestUpdateCollection_RenameKeepsDocuments(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	_, err := svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)
	_, err = svc.CreateDocument(ctx, p.ID, "users", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)

	newName := "members"
	updated, err := svc.UpdateCollection(ctx, p.ID, "users", models.CollectionPatch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "members", updated.Name)

	// Documents reference the collection by id, so the rename carries them.
	count, err := svc.CountDocuments(ctx, p.ID, "members")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.GetCollection(ctx, p.ID, "users")
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteCollection_RemovesDocuments(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createProject(t, svc, "acme")
	_, err := svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateDocument(ctx, p.ID, "users", map[string]any{"n": i}, "")
		require.NoError(t, err)
	}

	deleted, err := svc.DeleteCollection(ctx, p.ID, "users")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = svc.GetCollection(ctx, p.ID, "users")
	assert.True(t, errs.IsNotFound(err))

	// Recreating the collection starts empty; the old rows are gone.
	_, err = svc.CreateCollection(ctx, p.ID, "users", nil, nil)
	require.NoError(t, err)
	count, err := svc.CountDocuments(ctx, p.ID, "users")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteCollection_UnknownIsNoop(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "acme")

	deleted, err := svc.DeleteCollection(context.Background(), p.ID, "ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
}
