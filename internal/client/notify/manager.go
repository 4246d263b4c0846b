// Package notify владеет единственным постоянным соединением с сервисом
// уведомлений: подключение, автоматический reconnect с ограниченным
// backoff, heartbeat-контроль и подтверждение доставки каждого сохранённого
// уведомления ровно один раз.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auditflow/fieldsync/internal/client/mirror"
	"github.com/auditflow/fieldsync/internal/client/session"
	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/models"
	"github.com/auditflow/fieldsync/pkg/api"
)

var (
	// ErrListenerActive активная подписка уже существует; прежний handle
	// должен быть закрыт до установки новой
	ErrListenerActive = errors.New("notification listener already registered")

	// ErrConnectionLost попытки переподключения исчерпаны
	ErrConnectionLost = errors.New("notification connection lost")

	// ErrValidationInFlight проверка сессии выполняется; connect отклонён,
	// чтобы не гнаться наперегонки с logout
	ErrValidationInFlight = errors.New("session validation in flight")
)

// State состояние менеджера соединения
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn abstracts the persistent bidirectional connection
type Conn interface {
	Read(ctx context.Context, f *api.Frame) error
	Write(ctx context.Context, f *api.Frame) error
	Close() error
}

// Dialer opens a connection to the notification service
type Dialer func(ctx context.Context, url, token string) (Conn, error)

// SessionValidator defines what the manager needs from the session layer
type SessionValidator interface {
	Validate(ctx context.Context, token string) error
	Validating() bool
}

// Listener receives stored inbound notifications
type Listener func(msg models.NotificationMessage)

// Options настройки менеджера
type Options struct {
	// HeartbeatInterval период отправки ping-кадров
	HeartbeatInterval time.Duration
	// HeartbeatWindow отсутствие heartbeat дольше окна равносильно
	// закрытому сокету
	HeartbeatWindow time.Duration
	// BaseBackoff стартовая задержка reconnect, удваивается до MaxBackoff
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxReconnects предел последовательных неудачных подключений,
	// после которого менеджер останавливается (не жжём батарею и сеть
	// на недостижимом сервере)
	MaxReconnects int
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatWindow:   90 * time.Second,
		BaseBackoff:       time.Second,
		MaxBackoff:        2 * time.Minute,
		MaxReconnects:     10,
	}
}

// Manager owns the persistent notification connection
type Manager struct {
	dial      Dialer
	validator SessionValidator
	auth      storage.AuthStorage
	store     *mirror.Notifications
	url       string
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	state atomic.Int32

	statsMu       sync.Mutex
	connectedAt   time.Time
	lastHeartbeat time.Time
	reconnects    int

	listenerMu sync.Mutex
	listener   Listener
	handle     *ListenerHandle
}

// NewManager creates a notification connection manager
func NewManager(dial Dialer, validator SessionValidator, auth storage.AuthStorage, store *mirror.Notifications, url string, opts Options, logger *slog.Logger) *Manager {
	def := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.HeartbeatWindow <= 0 {
		opts.HeartbeatWindow = def.HeartbeatWindow
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = def.MaxReconnects
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dial:      dial,
		validator: validator,
		auth:      auth,
		store:     store,
		url:       url,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// ListenerHandle держит единственный слот подписки на уведомления.
// Закрытие освобождает слот; установка второй подписки без закрытия
// первой — ошибка, а не молчаливая замена.
type ListenerHandle struct {
	m      *Manager
	mu     sync.Mutex
	closed bool
}

// Close releases the listener slot. Повторный вызов — no-op.
func (h *ListenerHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	h.m.listenerMu.Lock()
	defer h.m.listenerMu.Unlock()
	if h.m.handle == h {
		h.m.listener = nil
		h.m.handle = nil
	}
}

// Listen registers the single inbound-notification listener
func (m *Manager) Listen(fn Listener) (*ListenerHandle, error) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	if m.handle != nil {
		return nil, ErrListenerActive
	}

	h := &ListenerHandle{m: m}
	m.listener = fn
	m.handle = h
	return h, nil
}

// Stats returns a snapshot of connection statistics
func (m *Manager) Stats(ctx context.Context) models.ConnectionStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	var uptime int64
	if m.State() == StateConnected && !m.connectedAt.IsZero() {
		uptime = m.now().Sub(m.connectedAt).Milliseconds()
	}

	return models.ConnectionStats{
		UptimeMs:          uptime,
		ReconnectAttempts: m.reconnects,
		LastHeartbeat:     m.lastHeartbeat,
		PendingMessages:   len(m.store.Unacknowledged(ctx)),
	}
}

// Run держит соединение до отмены ctx: подключается, обслуживает,
// переподключается с ограниченным экспоненциальным backoff. Возвращается
// с типизированной ошибкой при истёкшей сессии или исчерпанных попытках.
// Повторный Run после отмены безопасен.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateDisconnected)

	backoff := m.opts.BaseBackoff

	for {
		err := m.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Ошибки сессии терминальны: без валидного токена reconnect
		// бессмыслен, соединение требует повторного входа
		if errors.Is(err, session.ErrSessionExpired) ||
			errors.Is(err, session.ErrPermissionDenied) ||
			errors.Is(err, session.ErrValidationFailed) ||
			errors.Is(err, storage.ErrAuthNotFound) {
			m.setState(StateDisconnected)
			return err
		}

		m.setState(StateReconnecting)
		attempts := m.bumpReconnects()
		m.logger.Warn("connection lost, reconnecting",
			"attempt", attempts,
			"max_attempts", m.opts.MaxReconnects,
			"backoff", backoff,
			"error", err)

		if attempts >= m.opts.MaxReconnects {
			m.setState(StateDisconnected)
			return fmt.Errorf("%w: %d reconnect attempts exhausted", ErrConnectionLost, attempts)
		}

		if err := m.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, m.opts.MaxBackoff)
	}
}

// connectAndServe выполняет один цикл: валидация, dial, подписки,
// повтор неотправленных подтверждений, чтение до ошибки
func (m *Manager) connectAndServe(ctx context.Context) error {
	// Не начинаем connect, пока валидация в полёте: иначе можно
	// обогнать logout
	if m.validator.Validating() {
		return ErrValidationInFlight
	}

	auth, err := m.auth.GetAuth(ctx)
	if err != nil {
		return fmt.Errorf("no credential for notification channel: %w", err)
	}

	m.setState(StateConnecting)

	if err := m.validator.Validate(ctx, auth.AccessToken); err != nil {
		return err
	}

	conn, err := m.dial(ctx, m.url, auth.AccessToken)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	m.onConnected()
	m.logger.Info("notification channel connected", "user_id", auth.UserID)

	// Подписки идемпотентны на сервере: безопасно повторять при каждом
	// reconnect
	setup := []api.Frame{
		{Type: api.FrameHandshake, Token: auth.AccessToken},
		{Type: api.FrameSubscribeUser, UserID: auth.UserID},
	}
	if auth.OrganisationID != "" {
		setup = append(setup, api.Frame{Type: api.FrameJoinOrganisation, OrganisationID: auth.OrganisationID})
	}
	for i := range setup {
		if err := conn.Write(ctx, &setup[i]); err != nil {
			return fmt.Errorf("channel setup failed: %w", err)
		}
	}

	// Подтверждения, не ушедшие в прошлом цикле, повторяются здесь
	for _, msg := range m.store.Unacknowledged(ctx) {
		m.acknowledge(ctx, conn, msg.ID)
	}

	return m.serve(ctx, conn)
}

// serve читает кадры до ошибки; параллельно работает heartbeat-вахта
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go m.heartbeat(ctx, conn)

	for {
		var f api.Frame
		if err := conn.Read(ctx, &f); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		m.handleFrame(ctx, conn, &f)
	}
}

// heartbeat шлёт ping-кадры и следит за окном. Повисший сокет (нет
// heartbeat в пределах окна) принудительно закрывается — для читателя
// это неотличимо от закрытого сокета и уводит в обычный reconnect.
func (m *Manager) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := conn.Write(ctx, &api.Frame{Type: api.FramePing}); err != nil {
			m.logger.Warn("ping failed, closing socket", "error", err)
			_ = conn.Close()
			return
		}

		m.statsMu.Lock()
		silent := m.now().Sub(m.lastHeartbeat)
		m.statsMu.Unlock()

		if silent > m.opts.HeartbeatWindow {
			m.logger.Warn("heartbeat window elapsed, closing socket", "silent", silent)
			_ = conn.Close()
			return
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, conn Conn, f *api.Frame) {
	switch f.Type {
	case api.FramePong, api.FrameHeartbeat:
		m.statsMu.Lock()
		m.lastHeartbeat = m.now()
		m.statsMu.Unlock()

	case api.FrameNotification:
		var msg models.NotificationMessage
		if err := json.Unmarshal(f.Notification, &msg); err != nil {
			// Нечитаемое уведомление не роняет соединение
			m.logger.Warn("malformed notification payload, dropped", "error", err)
			return
		}

		if err := m.store.Upsert(ctx, msg); err != nil {
			// Не сохранили — не подтверждаем: сервер доставит повторно
			m.logger.Error("failed to store notification", "notification_id", msg.ID, "error", err)
			return
		}

		m.acknowledge(ctx, conn, msg.ID)

		m.listenerMu.Lock()
		listener := m.listener
		m.listenerMu.Unlock()
		if listener != nil {
			listener(msg)
		}

	default:
		m.logger.Debug("unexpected frame", "type", f.Type)
	}
}

// acknowledge подтверждает доставку ровно один раз: уже подтверждённое
// уведомление пропускается, неудачная отправка оставляет его в списке
// неподтверждённых для следующего цикла соединения
func (m *Manager) acknowledge(ctx context.Context, conn Conn, id string) {
	for _, n := range m.store.All(ctx) {
		if n.ID == id && n.DeliveryAcknowledged {
			return
		}
	}

	at := m.now().UnixMilli()
	ack := api.Frame{
		Type:             api.FrameDeliveryAck,
		NotificationID:   id,
		AcknowledgedAtMs: at,
	}

	if err := conn.Write(ctx, &ack); err != nil {
		m.logger.Warn("delivery ack failed, will retry on next connection",
			"notification_id", id, "error", err)
		return
	}

	if err := m.store.MarkAcknowledged(ctx, id, at); err != nil {
		m.logger.Error("failed to record acknowledgment", "notification_id", id, "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// onConnected сбрасывает статистику нового соединения. reconnects
// обнуляется только здесь: счётчик переживает неудачные попытки и
// очищается успешным подключением.
func (m *Manager) onConnected() {
	m.setState(StateConnected)
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.connectedAt = m.now()
	m.lastHeartbeat = m.now()
	m.reconnects = 0
}

func (m *Manager) bumpReconnects() int {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.reconnects++
	return m.reconnects
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
