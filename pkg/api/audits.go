package api

import "encoding/json"

// AssignmentResponse представляет задание в ответе GET /Assignments
type AssignmentResponse struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id"`
	SiteName    string `json:"site_name"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assigned_to"`
	DueDate     string `json:"due_date"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// TemplateResponse представляет шаблон аудита в ответе GET /Templates/{id}
type TemplateResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Version  int             `json:"version"`
	Sections json.RawMessage `json:"sections"`
}

// SubmitAuditRequest представляет тело POST /Audits
type SubmitAuditRequest struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignment_id"`
	TemplateID   string          `json:"template_id"`
	Answers      json.RawMessage `json:"answers"`
	CompletedAt  string          `json:"completed_at"`
}

// UpdateStatusRequest представляет тело PATCH /Assignments/{id}/status
type UpdateStatusRequest struct {
	Status string `json:"status"`
}
