// Package session проверяет bearer-токен на сервере и владеет жизненным
// циклом учётных данных: login, register, logout, инвалидация по истечению.
// Остальная часть приложения узнаёт об изменениях сессии через подписку
// на события, а не через глобальный callback.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/auditflow/fieldsync/internal/client/api"
	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/validation"
	pkgapi "github.com/auditflow/fieldsync/pkg/api"
)

// Типизированные ошибки сессии. UI различает по ним «плохая сеть»,
// «сессия истекла» и «нет прав» — наружу никогда не уходит сырое исключение.
var (
	// ErrSessionExpired сервер пометил токен как истёкший
	ErrSessionExpired = errors.New("session expired")

	// ErrPermissionDenied 401/403 без маркера истечения
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidationFailed все попытки проверки исчерпаны
	ErrValidationFailed = errors.New("session validation failed")
)

// APIClient defines the backend operations the validator needs
type APIClient interface {
	Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error)
	Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.TokenResponse, error)
	ValidateToken(ctx context.Context, token string) error
}

// Options настройки валидатора
type Options struct {
	// Attempts максимальное число попыток проверки токена
	Attempts int
	// BaseDelay стартовая задержка между попытками, удваивается после каждой
	BaseDelay time.Duration
	// AttemptTimeout потолок длительности одной сетевой попытки
	AttemptTimeout time.Duration
	// SettleDelay пауза между выдачей токена и первой проверкой.
	// Токен, принятый auth endpoint-ом, может быть ещё не виден
	// validate-token endpoint-у (отставание на стороне сервера).
	SettleDelay time.Duration
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		Attempts:       3,
		BaseDelay:      500 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
		SettleDelay:    300 * time.Millisecond,
	}
}

// Validator validates session credentials against the backend
type Validator struct {
	apiClient  APIClient
	authStore  storage.AuthStorage
	logger     *slog.Logger
	opts       Options
	bus        *eventBus
	validating atomic.Bool
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewValidator creates a session validator
func NewValidator(apiClient APIClient, authStore storage.AuthStorage, opts Options, logger *slog.Logger) *Validator {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultOptions().Attempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultOptions().AttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		apiClient: apiClient,
		authStore: authStore,
		logger:    logger,
		opts:      opts,
		bus:       newEventBus(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Subscribe регистрирует подписку на события сессии
func (v *Validator) Subscribe() *Subscription {
	return v.bus.subscribe()
}

// Validating сообщает, что проверка токена сейчас выполняется.
// Менеджер соединения обязан не начинать connect, пока проверка в полёте.
func (v *Validator) Validating() bool {
	return v.validating.Load()
}

// Validate проверяет токен на сервере: до Attempts попыток c экспоненциальной
// задержкой, каждая попытка ограничена AttemptTimeout. Возвращает nil для
// валидного токена, ErrSessionExpired / ErrPermissionDenied для отвергнутого,
// ErrValidationFailed после исчерпания попыток.
func (v *Validator) Validate(ctx context.Context, token string) error {
	v.validating.Store(true)
	defer v.validating.Store(false)

	// Локальная проверка exp-claim: заведомо истёкший токен не гоняем по сети
	if expired, err := tokenClaimExpired(token, v.now()); err == nil && expired {
		v.logger.Info("token expired by local claims check", "token", maskToken(token))
		return v.expireSession(ctx, "token exp claim in the past")
	}

	delay := v.opts.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= v.opts.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, v.opts.AttemptTimeout)
		err := v.apiClient.ValidateToken(attemptCtx, token)
		cancel()

		if err == nil {
			v.logger.Debug("token validated", "attempt", attempt, "token", maskToken(token))
			return nil
		}

		if apiErr, ok := api.AsError(err); ok {
			switch {
			case apiErr.StatusCode == 401 && responseIndicatesExpiry(apiErr):
				v.logger.Info("server reports expired session",
					"status", apiErr.StatusCode, "token", maskToken(token))
				return v.expireSession(ctx, "server expiry marker")
			case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
				// 401 без маркера истечения — ошибка прав, не истечение.
				// Учётные данные НЕ стираем.
				v.logger.Warn("token rejected without expiry marker",
					"status", apiErr.StatusCode, "token", maskToken(token))
				return fmt.Errorf("%w: status %d", ErrPermissionDenied, apiErr.StatusCode)
			case apiErr.PermanentClientError():
				v.logger.Error("validation rejected by server",
					"status", apiErr.StatusCode, "token", maskToken(token))
				return fmt.Errorf("%w: status %d", ErrValidationFailed, apiErr.StatusCode)
			}
		}

		// Временная ошибка (сеть, таймаут, 5xx) — повторяем с задержкой
		lastErr = err
		v.logger.Warn("validation attempt failed",
			"attempt", attempt,
			"attempts", v.opts.Attempts,
			"timeout", api.IsTimeout(err),
			"error", err)

		if attempt < v.opts.Attempts {
			if err := v.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}

	// Попытки исчерпаны: стираем учётные данные и возвращаем различимую
	// ошибку, чтобы UI отличил «плохую сессию» от «плохой сети»
	if err := v.clearCredential(ctx); err != nil {
		v.logger.Error("failed to clear credential after validation failure", "error", err)
	}
	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrValidationFailed, v.opts.Attempts, lastErr)
}

// Login аутентифицирует сотрудника и проверяет свежевыданный токен перед
// тем, как объявить вход успешным. Учётные данные сохраняются одной атомарной
// записью и только после успешной проверки.
func (v *Validator) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	resp, err := v.apiClient.Login(ctx, pkgapi.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	return v.adoptToken(ctx, username, resp)
}

// Register регистрирует сотрудника; как и Login, перепроверяет выданный токен
func (v *Validator) Register(ctx context.Context, username, password, fullName, orgID string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	resp, err := v.apiClient.Register(ctx, pkgapi.RegisterRequest{
		Username:       username,
		Password:       password,
		FullName:       fullName,
		OrganisationID: orgID,
	})
	if err != nil {
		return nil, fmt.Errorf("register failed: %w", err)
	}

	return v.adoptToken(ctx, username, resp)
}

// Logout стирает учётные данные и уведомляет подписчиков
func (v *Validator) Logout(ctx context.Context) error {
	if err := v.authStore.DeleteAuth(ctx); err != nil {
		return fmt.Errorf("failed to delete auth data: %w", err)
	}
	v.bus.publish(Event{State: StateLoggedOut, Reason: "user logout"})
	return nil
}

// adoptToken выдерживает settle-паузу, проверяет токен и сохраняет данные
func (v *Validator) adoptToken(ctx context.Context, username string, resp *pkgapi.TokenResponse) (*storage.AuthData, error) {
	// Осознанная пауза: validate-token может ещё не видеть свежий токен
	if v.opts.SettleDelay > 0 {
		if err := v.sleep(ctx, v.opts.SettleDelay); err != nil {
			return nil, err
		}
	}

	if err := v.Validate(ctx, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("fresh token did not validate: %w", err)
	}

	auth := &storage.AuthData{
		Username:       username,
		UserID:         resp.UserID,
		OrganisationID: resp.OrganisationID,
		AccessToken:    resp.AccessToken,
		Authenticated:  true,
		ExpiresAt:      v.now().Unix() + resp.ExpiresIn,
	}

	if err := v.authStore.SaveAuth(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	v.bus.publish(Event{State: StateValid, Reason: "login validated"})
	return auth, nil
}

// expireSession стирает учётные данные и уведомляет подписчиков
func (v *Validator) expireSession(ctx context.Context, reason string) error {
	if err := v.clearCredential(ctx); err != nil {
		v.logger.Error("failed to clear expired credential", "error", err)
	}
	v.bus.publish(Event{State: StateExpired, Reason: reason})
	return fmt.Errorf("%w: %s", ErrSessionExpired, reason)
}

func (v *Validator) clearCredential(ctx context.Context) error {
	return v.authStore.DeleteAuth(ctx)
}

// ExpiredResponse сообщает, что ошибка — это 401 с маркером истечения
// сессии. Используется оркестратором синхронизации для классификации
// отказов при drain-цикле.
func ExpiredResponse(err error) bool {
	apiErr, ok := api.AsError(err)
	return ok && apiErr.StatusCode == 401 && responseIndicatesExpiry(apiErr)
}

// responseIndicatesExpiry ищет маркер истечения в заголовке WWW-Authenticate
// и в теле ответа
func responseIndicatesExpiry(apiErr *api.Error) bool {
	challenge := strings.ToLower(apiErr.Header.Get("WWW-Authenticate"))
	if strings.Contains(challenge, "invalid_token") || strings.Contains(challenge, "expired") {
		return true
	}

	body := strings.ToLower(apiErr.Body + " " + apiErr.Message)
	return strings.Contains(body, "token expired") ||
		strings.Contains(body, "token is expired") ||
		strings.Contains(body, "session expired")
}

// tokenClaimExpired парсит exp-claim без проверки подписи.
// Подпись проверяет сервер; клиенту хватает срока действия.
func tokenClaimExpired(token string, now time.Time) (bool, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, fmt.Errorf("no exp claim")
	}

	return now.After(exp.Time), nil
}

// maskToken возвращает префикс токена для логов, не раскрывая его целиком
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
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
