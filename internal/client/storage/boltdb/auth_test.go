package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/fieldsync/internal/client/storage"
)

func TestStorage_SaveGetDeleteAuth(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	auth := &storage.AuthData{
		Username:       "demo.auditor",
		UserID:         "user-id-123",
		OrganisationID: "org-1",
		AccessToken:    "jwt-access-token",
		Authenticated:  true,
		ExpiresAt:      time.Now().Add(time.Hour).Unix(),
	}

	// Проверяем что GetAuth до сохранения выдаст ErrAuthNotFound
	_, err := store.GetAuth(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	// Сохраняем auth
	err = store.SaveAuth(ctx, auth)
	require.NoError(t, err)

	// Получаем auth и сравниваем
	got, err := store.GetAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth, got)

	// Повторное сохранение перезаписывает одну-единственную запись
	auth.AccessToken = "rotated-token"
	require.NoError(t, store.SaveAuth(ctx, auth))

	got, err = store.GetAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated-token", got.AccessToken)

	// Удаляем
	err = store.DeleteAuth(ctx)
	require.NoError(t, err)

	_, err = store.GetAuth(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	// Logout идемпотентен
	assert.NoError(t, store.DeleteAuth(ctx))
}

func TestStorage_IsAuthenticated(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	// Нет сохранённых данных
	ok, err := store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Валидная сессия
	require.NoError(t, store.SaveAuth(ctx, &storage.AuthData{
		Username:      "demo.auditor",
		AccessToken:   "token",
		Authenticated: true,
		ExpiresAt:     time.Now().Add(time.Hour).Unix(),
	}))

	ok, err = store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Флаг сброшен
	require.NoError(t, store.SaveAuth(ctx, &storage.AuthData{
		Username:      "demo.auditor",
		AccessToken:   "token",
		Authenticated: false,
		ExpiresAt:     time.Now().Add(time.Hour).Unix(),
	}))

	ok, err = store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Токен истёк
	require.NoError(t, store.SaveAuth(ctx, &storage.AuthData{
		Username:      "demo.auditor",
		AccessToken:   "token",
		Authenticated: true,
		ExpiresAt:     time.Now().Add(-time.Minute).Unix(),
	}))

	ok, err = store.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
