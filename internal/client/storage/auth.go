package storage

import "context"

// AuthStorage defines interface for storing authentication data on client.
// The record is written as a whole in one transaction: token, user id and
// the authenticated flag are never observable half-applied.
type AuthStorage interface {
	// SaveAuth stores authentication data atomically
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves stored authentication data
	// Returns ErrAuthNotFound if no auth data exists
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored authentication data (logout, session expiry)
	DeleteAuth(ctx context.Context) error

	// IsAuthenticated checks if valid authentication exists (not expired)
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthData represents authentication information in storage
type AuthData struct {
	Username       string `json:"username"`
	UserID         string `json:"user_id"`
	OrganisationID string `json:"organisation_id,omitempty"`
	AccessToken    string `json:"access_token"`
	Authenticated  bool   `json:"authenticated"`
	ExpiresAt      int64  `json:"expires_at"` // unix seconds
}
