package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

// memCache is a CacheRepository backed by a map of already decoded values.
type memCache struct {
	values  map[string][]models.Category
	deleted []string
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	v, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*[]models.Category)) = v
	return nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if c.values == nil {
		c.values = map[string][]models.Category{}
	}
	c.values[key] = value.([]models.Category)
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.values, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func TestCategoryServiceCreate(t *testing.T) {
	f := newFixture(t)
	cache := &memCache{}
	svc := NewCategoryService(f.categories, f.audit, f.tx, NewCacheService(cache, f.metrics, time.Minute, nil, true), nil, nil)

	category, err := svc.Create(context.Background(), librarianID, models.CreateCategoryRequest{Name: " Novela "})
	require.NoError(t, err)
	assert.Equal(t, "Novela", category.Name)
	assert.Nil(t, category.Description)
	assert.Equal(t, []string{categoryListCacheKey}, cache.deleted)

	entries := f.auditFor(catalog.TargetCategory, category.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, f.actionID(catalog.ActionCreate), entries[0].ActionID)

	_, err = svc.Create(context.Background(), librarianID, models.CreateCategoryRequest{Name: "NOVELA"})
	assert.True(t, appErrors.IsKind(err, appErrors.ErrConflict))

	_, err = svc.Create(context.Background(), librarianID, models.CreateCategoryRequest{Name: "  "})
	assert.True(t, appErrors.IsKind(err, appErrors.ErrValidation))
	assert.Len(t, f.store.categories, 1)
}

func TestCategoryServiceListUsesCache(t *testing.T) {
	f := newFixture(t)
	f.addCategory("Poesía")
	f.addCategory("Ensayo")
	svc := NewCategoryService(f.categories, f.audit, f.tx, NewCacheService(&memCache{}, f.metrics, time.Minute, nil, true), nil, nil)

	first, hit, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	second, hit, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Equal(t, first, second)
	assert.Equal(t, "Ensayo", first[0].Name)
	assert.Equal(t, 1, f.categories.listCalls)
	snapshot := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
}

func TestCategoryServiceWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.addCategory("Novela")
	svc := NewCategoryService(f.categories, f.audit, f.tx, nil, nil, nil)

	_, _, err := svc.List(context.Background())
	require.NoError(t, err)
	_, hit, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, f.categories.listCalls)

	_, err = svc.Get(context.Background(), 12345)
	assert.True(t, appErrors.IsKind(err, appErrors.ErrNotFound))
}
