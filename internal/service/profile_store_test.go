package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"github.com/user/llm-proxy-go/tests/testutil"
)

func newTestProfile(name string) *models.Profile {
	return &models.Profile{
		ID:               uuid.New().String(),
		Name:             name,
		APIBaseURL:       "https://api.anthropic.com",
		APIKey:           "sk-ant-test",
		ModelMappingMode: models.MappingPassthrough,
	}
}

func TestProfileStore_CreateAndGet(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProfileRepositoryImpl(db)
	store := NewProfileStore(repo, nil)

	p := newTestProfile("primary")
	require.NoError(t, store.Create(context.Background(), p))

	got := store.Get(p.ID)
	require.NotNil(t, got)
	assert.Equal(t, "primary", got.Name)
	assert.Equal(t, p.APIBaseURL, got.APIBaseURL)
}

func TestProfileStore_ActivateIsExclusive(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProfileRepositoryImpl(db)
	store := NewProfileStore(repo, nil)
	ctx := context.Background()

	a := newTestProfile("a")
	b := newTestProfile("b")
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	require.NoError(t, store.Activate(ctx, a.ID))
	assert.Equal(t, a.ID, store.GetActive().ID)

	require.NoError(t, store.Activate(ctx, b.ID))
	active := store.GetActive()
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)
	assert.False(t, store.Get(a.ID).IsActive)
}

func TestProfileStore_GetActive_NoneActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProfileRepositoryImpl(db)
	store := NewProfileStore(repo, nil)
	assert.Nil(t, store.GetActive())
}

func TestProfileStore_DeleteClearsActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProfileRepositoryImpl(db)
	store := NewProfileStore(repo, nil)
	ctx := context.Background()

	p := newTestProfile("solo")
	require.NoError(t, store.Create(ctx, p))
	require.NoError(t, store.Activate(ctx, p.ID))

	require.NoError(t, store.Delete(ctx, p.ID))
	assert.Nil(t, store.GetActive())
	assert.Nil(t, store.Get(p.ID))
}

func TestProfileStore_Load(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProfileRepositoryImpl(db)
	ctx := context.Background()

	p := newTestProfile("seed")
	require.NoError(t, repo.Insert(ctx, p))
	require.NoError(t, repo.Activate(ctx, p.ID))

	store := NewProfileStore(repo, nil)
	require.NoError(t, store.Load(ctx))

	assert.Len(t, store.List(), 1)
	active := store.GetActive()
	require.NotNil(t, active)
	assert.Equal(t, p.ID, active.ID)
}

func TestProfileStore_UpdatePreservesActiveFlag(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProfileRepositoryImpl(db)
	store := NewProfileStore(repo, nil)
	ctx := context.Background()

	p := newTestProfile("keep-active")
	require.NoError(t, store.Create(ctx, p))
	require.NoError(t, store.Activate(ctx, p.ID))

	updated := store.Get(p.ID)
	updated.Name = "renamed"
	require.NoError(t, store.Update(ctx, updated))

	got := store.Get(p.ID)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.IsActive)
}
