package api

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Username string `json:"username"` // username сотрудника
	Password string `json:"password"` // пароль
}

// RegisterRequest представляет запрос на регистрацию нового сотрудника
type RegisterRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	FullName       string `json:"full_name"`
	OrganisationID string `json:"organisation_id,omitempty"`
}

// TokenResponse представляет ответ с токеном доступа
type TokenResponse struct {
	AccessToken    string `json:"access_token"`    // JWT access token
	ExpiresIn      int64  `json:"expires_in"`      // время жизни токена в секундах
	UserID         string `json:"user_id"`         // UUID сотрудника
	OrganisationID string `json:"organisation_id"` // организация сотрудника (может быть пустой)
}

// ValidateTokenRequest представляет запрос на проверку токена.
// Токен дублируется в теле и в заголовке Authorization.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse представляет ответ на успешную проверку токена
type ValidateTokenResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
