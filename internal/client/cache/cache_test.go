package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/client/storage/boltdb"
	"github.com/auditflow/fieldsync/internal/models"
)

// testClock управляемые часы для проверки TTL
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func createTestCache(t *testing.T) (*Cache, *testClock, storage.KVStorage) {
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")

	store, err := boltdb.New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	clock := &testClock{now: time.UnixMilli(1700000000000)}
	return New(store, clock.Now, nil), clock, store
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := createTestCache(t)

	assignments := []models.Assignment{
		{ID: "asg-1", SiteName: "Store #12", Status: models.AssignmentPending},
	}
	require.NoError(t, cache.Put(ctx, "assignments", assignments, 15*time.Minute))

	var got []models.Assignment
	assert.True(t, cache.Get(ctx, "assignments", &got))
	assert.Equal(t, assignments, got)
}

func TestCache_GetMissing(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := createTestCache(t)

	var got []models.Assignment
	assert.False(t, cache.Get(ctx, "missing", &got))
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, clock, store := createTestCache(t)

	require.NoError(t, cache.Put(ctx, "assignments", []string{"a"}, 15*time.Minute))

	// До истечения TTL запись читается
	var got []string
	assert.True(t, cache.Get(ctx, "assignments", &got))

	// Ровно на границе TTL запись ещё жива (строгое "старше, чем")
	clock.Advance(15 * time.Minute)
	assert.True(t, cache.Get(ctx, "assignments", &got))

	// После границы — промах, и запись удалена из хранилища
	clock.Advance(time.Millisecond)
	assert.False(t, cache.Get(ctx, "assignments", &got))

	_, err := store.Get(ctx, "cache/assignments")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestCache_Keys_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	cache, clock, _ := createTestCache(t)

	require.NoError(t, cache.Put(ctx, "assignments", []string{"a"}, time.Minute))
	require.NoError(t, cache.Put(ctx, "templates", []string{"t"}, time.Hour))

	clock.Advance(10 * time.Minute)

	// Истечение ленивое: до первого чтения просроченный ключ ещё виден
	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"assignments", "templates"}, keys)

	// Чтение просроченной записи удаляет её
	var got []string
	assert.False(t, cache.Get(ctx, "assignments", &got))

	keys, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"templates"}, keys)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := createTestCache(t)

	require.NoError(t, cache.Put(ctx, "assignments", []string{"a"}, time.Hour))
	require.NoError(t, cache.Invalidate(ctx, "assignments"))

	var got []string
	assert.False(t, cache.Get(ctx, "assignments", &got))
}

func TestCache_CorruptedEntry(t *testing.T) {
	ctx := context.Background()
	cache, _, store := createTestCache(t)

	// Пишем мусор напрямую мимо кэша
	require.NoError(t, store.Put(ctx, "cache/assignments", []byte("{not json")))

	var got []string
	assert.False(t, cache.Get(ctx, "assignments", &got))

	// Повреждённая запись удалена
	_, err := store.Get(ctx, "cache/assignments")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

// failingKV возвращает ошибку на любое чтение
type failingKV struct{}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("disk failure")
}
func (f *failingKV) Put(ctx context.Context, key string, value []byte) error { return nil }
func (f *failingKV) Delete(ctx context.Context, key string) error           { return nil }
func (f *failingKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, errors.New("disk failure")
}
func (f *failingKV) PutBatch(ctx context.Context, entries map[string][]byte) error { return nil }

func TestCache_StorageFailure_TreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	cache := New(&failingKV{}, nil, nil)

	var got []string
	assert.False(t, cache.Get(ctx, "assignments", &got))
}
