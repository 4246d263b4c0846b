package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/fieldsync/pkg/api"
)

func TestClient_Login(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/Auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "demo.auditor", req.Username)

		json.NewEncoder(w).Encode(api.TokenResponse{
			AccessToken:    "jwt-token",
			ExpiresIn:      3600,
			UserID:         "user-1",
			OrganisationID: "org-1",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Login(context.Background(), api.LoginRequest{
		Username: "demo.auditor",
		Password: "demo-password",
	})
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", resp.AccessToken)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "org-1", resp.OrganisationID)
}

func TestClient_ValidateToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Auth/validate-token", r.URL.Path)
		// Токен и в заголовке, и в теле
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))

		var req api.ValidateTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jwt-token", req.Token)

		json.NewEncoder(w).Encode(api.ValidateTokenResponse{Valid: true, UserID: "user-1"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	assert.NoError(t, client.ValidateToken(context.Background(), "jwt-token"))
}

func TestClient_Assignments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/Assignments", r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]api.AssignmentResponse{
			{ID: "asg-1", SiteName: "Store #12", Status: "pending", DueDate: "2026-09-01"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	assignments, err := client.Assignments(context.Background(), "jwt-token")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "asg-1", assignments[0].ID)
	assert.Equal(t, "Store #12", assignments[0].SiteName)
	assert.Equal(t, "2026-09-01", assignments[0].DueDateIso)
}

func TestClient_Do_ReplaysOpaquePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, "/Assignments/asg-1/status", r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		// Тело проходит байт-в-байт, клиент его не интерпретирует
		assert.JSONEq(t, `{"status":"completed"}`, string(body))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Do(context.Background(), "jwt-token", "PATCH", "/Assignments/asg-1/status",
		[]byte(`{"status":"completed"}`))
	assert.NoError(t, err)
}

func TestClient_ErrorCarriesStatusHeaderBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="The access token expired"`)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "token expired"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.ValidateToken(context.Background(), "stale-token")
	require.Error(t, err)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "token expired", apiErr.Message)
	assert.Contains(t, apiErr.Header.Get("WWW-Authenticate"), "invalid_token")
	assert.Contains(t, apiErr.Body, "token expired")
}

func TestError_PermanentClientError(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
		{http.StatusUnprocessableEntity, true},
		// 401 без маркера истечения — ошибка прав; маркер истечения
		// распознаётся вызывающей стороной до этой проверки
		{http.StatusUnauthorized, true},
		// 429 — временная перегрузка
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		e := &Error{StatusCode: tt.status}
		assert.Equal(t, tt.permanent, e.PermanentClientError(), "status %d", tt.status)
	}
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(&Error{StatusCode: 500}))
}
