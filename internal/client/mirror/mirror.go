// Package mirror хранит офлайн-снимки серверного состояния по типам
// сущностей. Снимок перезаписывается целиком после каждого успешного
// полного fetch (replace-all, не merge-by-id): ответ сервера — авторитет
// для содержимого зеркала. Зеркала — кэш для чтения; намерение пользователя
// живёт в очереди офлайн-запросов, поэтому сверка частичных обновлений
// здесь не нужна.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/auditflow/fieldsync/internal/client/storage"
)

const keyPrefix = "mirror/"

// Entity names used as mirror keys
const (
	EntityAssignments   = "assignments"
	EntityTemplates     = "templates"
	EntityAudits        = "audits"
	EntityNotifications = "notifications"
)

// Mirror holds the last full snapshot for one entity type
type Mirror struct {
	kv     storage.KVStorage
	key    string
	logger *slog.Logger
}

// New creates a mirror for the given entity type
func New(kv storage.KVStorage, entity string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{kv: kv, key: keyPrefix + entity, logger: logger}
}

// Replace overwrites the whole snapshot with entities
func (m *Mirror) Replace(ctx context.Context, entities any) error {
	key, data, err := m.Snapshot(entities)
	if err != nil {
		return err
	}

	if err := m.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store mirror snapshot: %w", err)
	}

	return nil
}

// Snapshot encodes entities into the mirror's kv pair without writing it.
// Вызывающая сторона может записать снимок атомарно вместе с другими
// ключами через PutBatch.
func (m *Mirror) Snapshot(entities any) (string, []byte, error) {
	data, err := json.Marshal(entities)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal mirror snapshot: %w", err)
	}
	return m.key, data, nil
}

// Load fills dest with the last snapshot. При отсутствии снимка или
// нечитаемых данных dest остаётся без изменений (пустая коллекция у
// вызывающего) — путь чтения зеркала "fail open" в сторону absent.
func (m *Mirror) Load(ctx context.Context, dest any) {
	data, err := m.kv.Get(ctx, m.key)
	if err != nil {
		if err != storage.ErrKeyNotFound {
			m.logger.Warn("mirror read failed, treating as empty", "key", m.key, "error", err)
		}
		return
	}

	if err := json.Unmarshal(data, dest); err != nil {
		m.logger.Warn("mirror snapshot does not parse, treating as empty", "key", m.key, "error", err)
	}
}
