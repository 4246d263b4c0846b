// Package sync реализует оркестратор синхронизации: наблюдает за
// связностью, публикует текущий статус и прогоняет очередь офлайн-запросов
// через сеть (drain). Один drain-цикл в каждый момент времени: вход
// защищён атомарным флагом, повторный вызов — no-op.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/auditflow/fieldsync/internal/client/api"
	"github.com/auditflow/fieldsync/internal/client/queue"
	"github.com/auditflow/fieldsync/internal/client/session"
	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/models"
)

var (
	// ErrSyncInProgress drain уже выполняется, повторный запуск отклонён
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrOffline синхронизация невозможна без сети
	ErrOffline = errors.New("offline, will sync later")

	// ErrBlocked очередь заморожена до повторной аутентификации
	ErrBlocked = errors.New("sync blocked until re-authentication")
)

// Processor воспроизводит один отложенный запрос через сеть.
// Регистрируется вызывающей стороной: ядро очереди не знает доменных
// типов запросов и видит payload как непрозрачные байты.
type Processor func(ctx context.Context, req *models.OfflineRequest) error

// RefreshFunc обновляет зеркала и кэши после успешного drain
type RefreshFunc func(ctx context.Context) error

// DefaultInterval периодичность фоновой синхронизации. Полевые данные —
// не real-time лента, минутный масштаб достаточен.
const DefaultInterval = 5 * time.Minute

// Options настройки оркестратора
type Options struct {
	Interval time.Duration
	Refresh  RefreshFunc
	Now      func() time.Time
}

// Service наблюдает за связностью и прогоняет очередь
type Service struct {
	queue    *queue.Queue
	meta     storage.SyncStateStorage
	process  Processor
	refresh  RefreshFunc
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration

	online   atomic.Bool
	draining atomic.Bool
	blocked  atomic.Bool
	kick     chan struct{}
}

// NewService creates a sync orchestrator
func NewService(q *queue.Queue, meta storage.SyncStateStorage, process Processor, opts Options, logger *slog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:    q,
		meta:     meta,
		process:  process,
		refresh:  opts.Refresh,
		logger:   logger,
		now:      opts.Now,
		interval: opts.Interval,
		kick:     make(chan struct{}, 1),
	}
}

// Result contains drain cycle results
type Result struct {
	Processed    int // успешно отправленные запросы
	Retried      int // запросы, оставленные на повтор
	DeadLettered int // запросы, отложенные для ручного разбора
	Failed       int // постоянные отказы (учтены в DeadLettered)
}

// SetOnline записывает состояние связности. Переход offline -> online
// инициирует drain.
func (s *Service) SetOnline(online bool) {
	was := s.online.Swap(online)
	if online && !was {
		s.logger.Info("connectivity regained, scheduling drain")
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Online returns current connectivity state
func (s *Service) Online() bool {
	return s.online.Load()
}

// Unblock размораживает очередь после повторной аутентификации
func (s *Service) Unblock() {
	if s.blocked.Swap(false) {
		s.logger.Info("sync unblocked after re-authentication")
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Blocked сообщает, что очередь заморожена из-за истёкшей сессии
func (s *Service) Blocked() bool {
	return s.blocked.Load()
}

// Run drives periodic and kick-triggered drains until ctx is cancelled.
// Повторный запуск после отмены безопасен: состояние таймера не переживает
// вызов (быстрые переходы фон/передний план не ломают setup/teardown).
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}

		if _, err := s.Sync(ctx); err != nil {
			switch {
			case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline), errors.Is(err, ErrBlocked):
				s.logger.Debug("drain skipped", "reason", err)
			default:
				s.logger.Error("drain failed", "error", err)
			}
		}
	}
}

// Sync выполняет один drain-цикл. Вход при уже выполняющемся цикле —
// no-op с ErrSyncInProgress: это единственный требуемый контроль
// конкурентности, drain живёт на одной логической временной шкале.
func (s *Service) Sync(ctx context.Context) (*Result, error) {
	if !s.online.Load() {
		return nil, ErrOffline
	}
	if s.blocked.Load() {
		return nil, ErrBlocked
	}
	if !s.draining.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.draining.Store(false)

	result := &Result{}

	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}

	s.logger.Info("drain started", "pending", len(pending))

	// Строгий FIFO: запросы обрабатываются в порядке постановки
	for _, req := range pending {
		err := s.process(ctx, req)
		if err == nil {
			if err := s.queue.Remove(ctx, req.ID); err != nil {
				return result, fmt.Errorf("failed to remove completed request: %w", err)
			}
			result.Processed++
			continue
		}

		switch classify(err) {
		case failureSessionExpired:
			// Сессия истекла: очередь замораживается целиком до повторной
			// аутентификации, запрос остаётся на месте
			s.blocked.Store(true)
			s.logger.Warn("session expired during drain, queue frozen",
				"request_id", req.ID)
			return result, ErrBlocked

		case failurePermanent:
			// Постоянная клиентская ошибка: повторять бессмысленно,
			// запрос паркуется немедленно и не блокирует очередь за собой
			s.logger.Error("permanent failure, parking request",
				"request_id", req.ID,
				"kind", req.Kind,
				"endpoint", req.Endpoint,
				"error", err)
			if dlErr := s.queue.DeadLetter(ctx, req.ID); dlErr != nil {
				return result, fmt.Errorf("failed to park request: %w", dlErr)
			}
			result.Failed++
			result.DeadLettered++

		case failureTransient:
			dead, rErr := s.queue.IncrementRetry(ctx, req)
			if rErr != nil {
				return result, fmt.Errorf("failed to record retry: %w", rErr)
			}
			if dead {
				result.DeadLettered++
			} else {
				result.Retried++
			}
			s.logger.Warn("transient failure, will retry",
				"request_id", req.ID,
				"retry_count", req.RetryCount,
				"dead_lettered", dead,
				"error", err)
		}
	}

	// Цикл завершён без заморозки: фиксируем момент синхронизации
	// и обновляем зеркала
	if err := s.meta.SaveLastSyncTimestamp(ctx, s.now().UnixMilli()); err != nil {
		s.logger.Warn("failed to save last sync timestamp", "error", err)
	}

	if s.refresh != nil {
		if err := s.refresh(ctx); err != nil {
			s.logger.Warn("mirror refresh failed", "error", err)
		}
	}

	s.logger.Info("drain completed",
		"processed", result.Processed,
		"retried", result.Retried,
		"dead_lettered", result.DeadLettered)

	return result, nil
}

// Status собирает текущий статус синхронизации
func (s *Service) Status(ctx context.Context) (*models.SyncStatus, error) {
	lastSync, err := s.meta.GetLastSyncTimestamp(ctx)
	if err != nil {
		s.logger.Warn("failed to get last sync timestamp, using 0", "error", err)
		lastSync = 0
	}

	pending, err := s.queue.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending requests: %w", err)
	}

	dead, err := s.queue.DeadLettered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered requests: %w", err)
	}

	return &models.SyncStatus{
		LastSyncMs:      lastSync,
		IsOnline:        s.online.Load(),
		PendingRequests: pending,
		SyncInProgress:  s.draining.Load(),
		DeadLettered:    len(dead),
	}, nil
}

type failureClass int

const (
	failureTransient failureClass = iota
	failurePermanent
	failureSessionExpired
)

// classify относит отказ к одному из классов: истёкшая сессия
// замораживает очередь, постоянная клиентская ошибка паркует запрос,
// всё остальное (сеть, таймаут, 5xx) повторяется.
func classify(err error) failureClass {
	if session.ExpiredResponse(err) || errors.Is(err, session.ErrSessionExpired) {
		return failureSessionExpired
	}
	if apiErr, ok := api.AsError(err); ok && apiErr.PermanentClientError() {
		return failurePermanent
	}
	return failureTransient
}
