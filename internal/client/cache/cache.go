// Package cache реализует ленивый TTL-кэш поверх долговременного
// key-value хранилища. Просроченность проверяется только при чтении:
// устаревшая запись стоит лишь места на диске, но никогда не влияет
// на корректность — читатель обязан уйти в сеть или в offline mirror
// при отсутствии значения.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditflow/fieldsync/internal/client/storage"
)

// Prefix namespace для ключей кэша в KV хранилище
const keyPrefix = "cache/"

// entry обёртка значения с меткой записи и TTL
type entry struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt int64           `json:"written_at_ms"` // unix ms
	TTLMs     int64           `json:"ttl_ms"`
}

// Cache wraps KVStorage with value + write-timestamp + time-to-live.
// Чтение с истёкшим TTL удаляет запись и сообщает "absent".
type Cache struct {
	kv     storage.KVStorage
	now    func() time.Time
	logger *slog.Logger
}

// New creates a new Cache. now инжектируется для тестов; nil означает time.Now.
func New(kv storage.KVStorage, now func() time.Time, logger *slog.Logger) *Cache {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{kv: kv, now: now, logger: logger}
}

// Put stores value under key with the given TTL
func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	k, data, err := c.Entry(key, value, ttl)
	if err != nil {
		return err
	}

	if err := c.kv.Put(ctx, k, data); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// Entry encodes value into the cache's kv pair without writing it.
// Вызывающая сторона может записать её атомарно вместе с другими ключами
// через PutBatch.
func (c *Cache) Entry(key string, value any, ttl time.Duration) (string, []byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	e := entry{
		Value:     raw,
		WrittenAt: c.now().UnixMilli(),
		TTLMs:     ttl.Milliseconds(),
	}

	data, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return keyPrefix + key, data, nil
}

// Get loads the cached value into dest.
// Возвращает false при отсутствии, просроченности, ошибке хранилища или
// нечитаемом значении: кэш всегда "fail open" в сторону absent и никогда
// не отдаёт устаревшие или повреждённые данные.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.kv.Get(ctx, keyPrefix+key)
	if err != nil {
		if err != storage.ErrKeyNotFound {
			// Ошибка I/O трактуется как промах
			c.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Повреждённая запись — промах, запись удаляем
		c.logger.Warn("corrupted cache entry, evicting", "key", key, "error", err)
		c.evict(ctx, key)
		return false
	}

	if c.expired(&e) {
		c.evict(ctx, key)
		return false
	}

	if err := json.Unmarshal(e.Value, dest); err != nil {
		c.logger.Warn("cache value does not parse, evicting", "key", key, "error", err)
		c.evict(ctx, key)
		return false
	}

	return true
}

// Invalidate removes the entry regardless of its TTL
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, keyPrefix+key); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// Keys returns the keys of all stored entries, including not-yet-evicted
// expired ones (expiry is lazy)
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	stripped := make([]string, 0, len(keys))
	for _, k := range keys {
		stripped = append(stripped, k[len(keyPrefix):])
	}
	return stripped, nil
}

func (c *Cache) expired(e *entry) bool {
	return c.now().UnixMilli()-e.WrittenAt > e.TTLMs
}

func (c *Cache) evict(ctx context.Context, key string) {
	if err := c.kv.Delete(ctx, keyPrefix+key); err != nil {
		c.logger.Warn("failed to evict cache entry", "key", key, "error", err)
	}
}
