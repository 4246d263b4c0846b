package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error представляет ответ сервера с не-2xx статусом. Заголовки и тело
// сохраняются целиком: по ним вышележащие слои различают истёкшую сессию,
// постоянную клиентскую ошибку и временный сбой.
type Error struct {
	StatusCode int
	Message    string
	Header     http.Header
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// PermanentClientError сообщает, что запрос отвергнут сервером по вине
// клиента и повторять его бессмысленно: любой 4xx, кроме 429 (временная
// перегрузка, подлежит повтору). 401 с маркером истечения сессии вызывающая
// сторона обязана распознать ДО этой проверки; 401 без маркера — ошибка
// прав, такая же постоянная, как 403.
func (e *Error) PermanentClientError() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// AsError извлекает *Error из цепочки обёрток
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsTimeout сообщает, что запрос не получил ответа в отведённое время
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
