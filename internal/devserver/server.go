// Package devserver — backend-эмулятор для ручной проверки клиента:
// auth endpoints, фикстуры заданий и websocket-хаб уведомлений.
// Всё состояние в памяти; это инструмент разработки, не сервис.
package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditflow/fieldsync/internal/validation"
	"github.com/auditflow/fieldsync/pkg/api"
)

// Server emulates the field-audit backend in memory
type Server struct {
	logger *slog.Logger
	tokens *tokenService

	mu          sync.Mutex
	users       map[string]user // username -> user
	assignments []api.AssignmentResponse
	templates   map[string]api.TemplateResponse
	audits      map[string]api.SubmitAuditRequest

	hub *hub
}

type user struct {
	id       string
	orgID    string
	password string
}

// New creates a dev server with demo fixtures
func New(secret string, tokenTTL time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:    logger,
		tokens:    newTokenService(secret, tokenTTL),
		users:     make(map[string]user),
		templates: make(map[string]api.TemplateResponse),
		audits:    make(map[string]api.SubmitAuditRequest),
	}
	s.hub = newHub(s.tokens, logger)
	s.seedFixtures()
	return s
}

// Handler returns the HTTP handler with all routes wired
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /Auth/login", s.handleLogin)
	mux.HandleFunc("POST /Auth/register", s.handleRegister)
	mux.HandleFunc("POST /Auth/validate-token", s.handleValidateToken)
	mux.HandleFunc("GET /Assignments", s.withAuth(s.handleAssignments))
	mux.HandleFunc("GET /Assignments/{id}", s.withAuth(s.handleAssignment))
	mux.HandleFunc("PATCH /Assignments/{id}/status", s.withAuth(s.handleUpdateStatus))
	mux.HandleFunc("GET /Templates/{id}", s.withAuth(s.handleTemplate))
	mux.HandleFunc("POST /Audits", s.withAuth(s.handleSubmitAudit))
	mux.HandleFunc("/ws", s.hub.handleWS)
	return mux
}

// Hub returns the notification hub for pushing test notifications
func (s *Server) Hub() *hub {
	return s.hub
}

func (s *Server) seedFixtures() {
	s.users["demo.auditor"] = user{id: uuid.New().String(), orgID: "org-1", password: "demo-password"}

	templateID := "tpl-retail-1"
	s.templates[templateID] = api.TemplateResponse{
		ID:       templateID,
		Name:     "Retail store walkthrough",
		Version:  3,
		Sections: json.RawMessage(`[{"title":"Entrance","questions":[{"id":"q1","text":"Signage clean?"}]}]`),
	}
	s.assignments = []api.AssignmentResponse{
		{
			ID:          "asg-1",
			TemplateID:  templateID,
			SiteName:    "Store #12",
			Address:     "14 Market St",
			Status:      "pending",
			AssignedTo:  s.users["demo.auditor"].id,
			DueDate:     time.Now().Add(48 * time.Hour).Format(time.RFC3339),
			UpdatedAtMs: time.Now().UnixMilli(),
		},
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || u.password != req.Password {
		s.sendError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	s.issueToken(w, req.Username, u)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateUsername(req.Username); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists {
		s.mu.Unlock()
		s.sendError(w, "username already taken", http.StatusConflict)
		return
	}
	u := user{id: uuid.New().String(), orgID: req.OrganisationID, password: req.Password}
	s.users[req.Username] = u
	s.mu.Unlock()

	s.logger.Info("user registered", "username", req.Username, "user_id", u.id)
	s.issueToken(w, req.Username, u)
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token := req.Token
	if token == "" {
		token = bearerToken(r)
	}

	claims, err := s.tokens.validate(token)
	if err != nil {
		s.rejectToken(w, err)
		return
	}

	s.sendJSON(w, api.ValidateTokenResponse{Valid: true, UserID: claims.UserID}, http.StatusOK)
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request, claims *tokenClaims) {
	s.mu.Lock()
	list := append([]api.AssignmentResponse(nil), s.assignments...)
	s.mu.Unlock()
	s.sendJSON(w, list, http.StatusOK)
}

func (s *Server) handleAssignment(w http.ResponseWriter, r *http.Request, claims *tokenClaims) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.ID == id {
			s.sendJSON(w, a, http.StatusOK)
			return
		}
	}
	s.sendError(w, "assignment not found", http.StatusNotFound)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, claims *tokenClaims) {
	id := r.PathValue("id")
	var req api.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Status {
	case "pending", "in_progress", "completed":
	default:
		s.sendError(w, "unknown status", http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assignments {
		if s.assignments[i].ID == id {
			s.assignments[i].Status = req.Status
			s.assignments[i].UpdatedAtMs = time.Now().UnixMilli()
			s.sendJSON(w, s.assignments[i], http.StatusOK)
			return
		}
	}
	s.sendError(w, "assignment not found", http.StatusNotFound)
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request, claims *tokenClaims) {
	id := r.PathValue("id")
	s.mu.Lock()
	tpl, ok := s.templates[id]
	s.mu.Unlock()
	if !ok {
		s.sendError(w, "template not found", http.StatusNotFound)
		return
	}
	s.sendJSON(w, tpl, http.StatusOK)
}

func (s *Server) handleSubmitAudit(w http.ResponseWriter, r *http.Request, claims *tokenClaims) {
	var req api.SubmitAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssignmentID == "" || req.TemplateID == "" {
		s.sendError(w, "assignment_id and template_id are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	// Повторная отправка того же аудита — no-op, не конфликт
	s.audits[req.ID] = req
	s.mu.Unlock()

	s.logger.Info("audit submitted", "audit_id", req.ID, "assignment_id", req.AssignmentID, "user_id", claims.UserID)
	w.WriteHeader(http.StatusCreated)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *tokenClaims)

// withAuth проверяет bearer-токен; истёкший токен получает каноничный
// 401 с маркером истечения в WWW-Authenticate
func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.validate(bearerToken(r))
		if err != nil {
			s.rejectToken(w, err)
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) rejectToken(w http.ResponseWriter, err error) {
	if errTokenExpired(err) {
		w.Header().Set("WWW-Authenticate",
			`Bearer error="invalid_token", error_description="The access token expired"`)
		s.sendError(w, "token expired", http.StatusUnauthorized)
		return
	}
	s.sendError(w, "invalid token", http.StatusUnauthorized)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, msg string, status int) {
	s.sendJSON(w, api.ErrorResponse{Error: msg}, status)
}

func (s *Server) issueToken(w http.ResponseWriter, username string, u user) {
	token, expiresIn, err := s.tokens.issue(u.id, username)
	if err != nil {
		s.sendError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, api.TokenResponse{
		AccessToken:    token,
		ExpiresIn:      expiresIn,
		UserID:         u.id,
		OrganisationID: u.orgID,
	}, http.StatusOK)
}
