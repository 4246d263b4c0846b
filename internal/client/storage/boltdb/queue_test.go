package boltdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/models"
)

func makeRequest(id string) *models.OfflineRequest {
	return &models.OfflineRequest{
		ID:         id,
		Kind:       models.KindUpdate,
		Endpoint:   "/Assignments/" + id + "/status",
		Method:     "PATCH",
		Payload:    []byte(`{"status":"completed"}`),
		EnqueuedAt: 1700000000000,
		RetryCount: 0,
		MaxRetries: 5,
	}
}

func TestStorage_QueueAppendList_FIFO(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	// Пустая очередь
	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Append(ctx, makeRequest(fmt.Sprintf("req-%d", i))))
	}

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Порядок постановки сохраняется
	assert.Equal(t, "req-1", list[0].ID)
	assert.Equal(t, "req-2", list[1].ID)
	assert.Equal(t, "req-3", list[2].ID)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStorage_QueueUpdate_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Append(ctx, makeRequest(fmt.Sprintf("req-%d", i))))
	}

	// Обновляем retry-счётчик головного запроса
	head := makeRequest("req-1")
	head.RetryCount = 2
	require.NoError(t, store.Update(ctx, head))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Голова осталась головой, счётчик сохранён
	assert.Equal(t, "req-1", list[0].ID)
	assert.Equal(t, 2, list[0].RetryCount)
	assert.Equal(t, "req-2", list[1].ID)
	assert.Equal(t, "req-3", list[2].ID)
}

func TestStorage_QueueUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	err := store.Update(ctx, makeRequest("ghost"))
	assert.ErrorIs(t, err, storage.ErrRequestNotFound)
}

func TestStorage_QueueRemove(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	require.NoError(t, store.Append(ctx, makeRequest("req-1")))
	require.NoError(t, store.Append(ctx, makeRequest("req-2")))

	require.NoError(t, store.Remove(ctx, "req-1"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "req-2", list[0].ID)

	// Удаление отсутствующего запроса — типизированная ошибка
	err = store.Remove(ctx, "req-1")
	assert.ErrorIs(t, err, storage.ErrRequestNotFound)
}

func TestStorage_MoveToDeadLetter(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	req := makeRequest("req-1")
	req.RetryCount = 5
	require.NoError(t, store.Append(ctx, req))
	require.NoError(t, store.Append(ctx, makeRequest("req-2")))

	require.NoError(t, store.MoveToDeadLetter(ctx, "req-1"))

	// Из активной очереди запрос исчез
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "req-2", list[0].ID)

	// И появился в dead-letter с сохранённым состоянием
	dead, err := store.ListDeadLetter(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "req-1", dead[0].ID)
	assert.Equal(t, 5, dead[0].RetryCount)

	err = store.MoveToDeadLetter(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrRequestNotFound)
}
