package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auditflow/fieldsync/internal/client/session"
)

// RunLogin выполняет вход: свежий токен перепроверяется валидатором
// перед тем, как объявить вход успешным
func (c *Cli) RunLogin(ctx context.Context) error {
	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	c.io.Println("Authenticating...")

	auth, err := c.validator.Login(ctx, username, password)
	if err != nil {
		return describeAuthError(err)
	}

	// Сессия снова валидна — размораживаем очередь
	c.syncer.Unblock()

	c.io.Println("Login successful")
	c.io.Printf("User: %s (%s)\n", auth.Username, auth.UserID)
	if auth.OrganisationID != "" {
		c.io.Printf("Organisation: %s\n", auth.OrganisationID)
	}
	return nil
}

// RunRegister регистрирует новый аккаунт
func (c *Cli) RunRegister(ctx context.Context) error {
	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	fullName, err := c.io.ReadInput("Full name: ")
	if err != nil {
		return fmt.Errorf("failed to read full name: %w", err)
	}

	orgID, err := c.io.ReadInput("Organisation id (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read organisation id: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	c.io.Println("Registering...")

	auth, err := c.validator.Register(ctx, username, password, fullName, orgID)
	if err != nil {
		return describeAuthError(err)
	}

	c.io.Println("Registration successful")
	c.io.Printf("User: %s (%s)\n", auth.Username, auth.UserID)
	return nil
}

// RunLogout стирает учётные данные
func (c *Cli) RunLogout(ctx context.Context) error {
	if err := c.validator.Logout(ctx); err != nil {
		return err
	}
	c.io.Println("Logged out")
	return nil
}

// RunStatus показывает состояние аутентификации и синхронизации
func (c *Cli) RunStatus(ctx context.Context) error {
	authenticated, err := c.store.IsAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("failed to check authentication: %w", err)
	}

	status, err := c.syncer.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sync status: %w", err)
	}

	c.io.Printf("Authenticated:    %v\n", authenticated)
	c.io.Printf("Pending requests: %d\n", status.PendingRequests)
	c.io.Printf("Dead-lettered:    %d\n", status.DeadLettered)
	if status.LastSyncMs > 0 {
		c.io.Printf("Last sync:        %s\n", time.UnixMilli(status.LastSyncMs).Format(time.RFC3339))
	} else {
		c.io.Println("Last sync:        never")
	}
	return nil
}

// describeAuthError переводит типизированные ошибки сессии в сообщения,
// по которым пользователь понимает, что делать
func describeAuthError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return fmt.Errorf("session expired, please log in again")
	case errors.Is(err, session.ErrValidationFailed):
		return fmt.Errorf("could not validate the session, try again later: %w", err)
	case errors.Is(err, session.ErrPermissionDenied):
		return fmt.Errorf("access denied: %w", err)
	default:
		return err
	}
}
