package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/fieldsync/internal/client/storage/boltdb"
	"github.com/auditflow/fieldsync/internal/models"
)

func createTestQueue(t *testing.T) *Queue {
	dbPath := filepath.Join(t.TempDir(), "queue_test.db")

	store, err := boltdb.New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	now := func() time.Time { return time.UnixMilli(1700000000000) }
	return New(store, now, nil)
}

func TestQueue_Enqueue(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	req, err := q.Enqueue(ctx, models.KindSubmit, "POST", "/Audits", []byte(`{"id":"a-1"}`), 0)
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.KindSubmit, req.Kind)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/Audits", req.Endpoint)
	assert.Equal(t, int64(1700000000000), req.EnqueuedAt)
	assert.Equal(t, 0, req.RetryCount)
	// Нулевой maxRetries заменяется на значение по умолчанию
	assert.Equal(t, DefaultMaxRetries, req.MaxRetries)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_FIFOUnderRetryInterleaving(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	r1, err := q.Enqueue(ctx, models.KindUpdate, "PATCH", "/Assignments/1/status", nil, 0)
	require.NoError(t, err)
	r2, err := q.Enqueue(ctx, models.KindUpdate, "PATCH", "/Assignments/2/status", nil, 0)
	require.NoError(t, err)
	r3, err := q.Enqueue(ctx, models.KindSubmit, "POST", "/Audits", nil, 0)
	require.NoError(t, err)

	// Голова дважды переживает transient-отказ
	dead, err := q.IncrementRetry(ctx, r1)
	require.NoError(t, err)
	assert.False(t, dead)
	dead, err = q.IncrementRetry(ctx, r1)
	require.NoError(t, err)
	assert.False(t, dead)

	// Порядок не изменился: retry не переставляет запросы
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, r1.ID, pending[0].ID)
	assert.Equal(t, 2, pending[0].RetryCount)
	assert.Equal(t, r2.ID, pending[1].ID)
	assert.Equal(t, r3.ID, pending[2].ID)
}

func TestQueue_IncrementRetry_DeadLetterOnExhaustion(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	req, err := q.Enqueue(ctx, models.KindSubmit, "POST", "/Audits", nil, 3)
	require.NoError(t, err)

	// Первые maxRetries отказов только наращивают счётчик
	for i := 1; i <= 3; i++ {
		dead, err := q.IncrementRetry(ctx, req)
		require.NoError(t, err)
		assert.False(t, dead, "attempt %d must not dead-letter", i)
		assert.Equal(t, i, req.RetryCount)
	}

	// Следующий отказ при исчерпанном лимите — в dead-letter
	dead, err := q.IncrementRetry(ctx, req)
	require.NoError(t, err)
	assert.True(t, dead)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Запрос не отброшен молча: он в dead-letter с полным состоянием
	parked, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, req.ID, parked[0].ID)
	assert.Equal(t, 3, parked[0].RetryCount)
}

func TestQueue_DeadLetter_Permanent(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	req, err := q.Enqueue(ctx, models.KindUpdate, "PATCH", "/Assignments/ghost/status", nil, 0)
	require.NoError(t, err)

	// Перманентный отказ паркует запрос сразу, без повторов
	require.NoError(t, q.DeadLetter(ctx, req.ID))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	parked, err := q.DeadLettered(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, 0, parked[0].RetryCount)
}

func TestQueue_Remove(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	r1, err := q.Enqueue(ctx, models.KindUpdate, "PATCH", "/Assignments/1/status", nil, 0)
	require.NoError(t, err)
	r2, err := q.Enqueue(ctx, models.KindUpdate, "PATCH", "/Assignments/2/status", nil, 0)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, r1.ID))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r2.ID, pending[0].ID)
}
