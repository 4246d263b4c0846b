// Package queue реализует очередь отложенных мутирующих операций.
// Порядок строго FIFO по моменту постановки: сервер авторизует изменения
// в предположении причинно упорядоченных записей, поэтому запросы к одной
// и той же сущности никогда не переупорядочиваются.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/models"
)

// DefaultMaxRetries предел повторов для запросов, у которых он не задан
const DefaultMaxRetries = 5

// Queue owns pending offline requests: callers enqueue, only the sync
// orchestrator mutates entries during a drain cycle.
type Queue struct {
	store  storage.QueueStorage
	now    func() time.Time
	logger *slog.Logger
}

// New creates a queue service
func New(store storage.QueueStorage, now func() time.Time, logger *slog.Logger) *Queue {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, now: now, logger: logger}
}

// Enqueue appends a new request with retryCount = 0 and a fresh id
func (q *Queue) Enqueue(ctx context.Context, kind models.RequestKind, method, endpoint string, payload []byte, maxRetries int) (*models.OfflineRequest, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	req := &models.OfflineRequest{
		ID:         uuid.New().String(),
		Kind:       kind,
		Endpoint:   endpoint,
		Method:     method,
		Payload:    payload,
		EnqueuedAt: q.now().UnixMilli(),
		RetryCount: 0,
		MaxRetries: maxRetries,
	}

	if err := q.store.Append(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to enqueue request: %w", err)
	}

	q.logger.Info("request queued",
		"request_id", req.ID,
		"kind", req.Kind,
		"method", req.Method,
		"endpoint", req.Endpoint)

	return req, nil
}

// Pending returns queued requests in FIFO order without mutating the queue
func (q *Queue) Pending(ctx context.Context) ([]*models.OfflineRequest, error) {
	return q.store.List(ctx)
}

// Remove deletes a request on terminal success
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Remove(ctx, id)
}

// IncrementRetry bumps retry bookkeeping after a transient failure.
// Запрос, у которого retryCount уже достиг maxRetries, при следующем отказе
// переносится в dead-letter (никогда не отбрасывается молча).
// Возвращает true, если запрос был перенесён в dead-letter.
func (q *Queue) IncrementRetry(ctx context.Context, req *models.OfflineRequest) (bool, error) {
	if req.RetriesExhausted() {
		if err := q.store.MoveToDeadLetter(ctx, req.ID); err != nil {
			return false, fmt.Errorf("failed to dead-letter request: %w", err)
		}
		q.logger.Warn("request retried to exhaustion, dead-lettered",
			"request_id", req.ID,
			"retry_count", req.RetryCount,
			"max_retries", req.MaxRetries)
		return true, nil
	}

	req.RetryCount++
	if err := q.store.Update(ctx, req); err != nil {
		return false, fmt.Errorf("failed to persist retry count: %w", err)
	}

	return false, nil
}

// DeadLetter parks a request without further retries (permanent failure)
func (q *Queue) DeadLetter(ctx context.Context, id string) error {
	if err := q.store.MoveToDeadLetter(ctx, id); err != nil {
		return fmt.Errorf("failed to dead-letter request: %w", err)
	}
	return nil
}

// DeadLettered returns requests parked for operator attention
func (q *Queue) DeadLettered(ctx context.Context) ([]*models.OfflineRequest, error) {
	return q.store.ListDeadLetter(ctx)
}

// Len returns the number of pending requests
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.Len(ctx)
}
