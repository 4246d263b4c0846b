package models

// Assignment представляет аудит-задание, выданное полевому сотруднику.
type Assignment struct {
	ID          string `json:"id"`           // ID уникальный идентификатор задания
	TemplateID  string `json:"template_id"`  // TemplateID идентификатор шаблона аудита
	SiteName    string `json:"site_name"`    // SiteName название объекта (магазин, склад и т.д.)
	Address     string `json:"address"`      // Address адрес объекта
	Status      string `json:"status"`       // Status статус задания (pending, in_progress, completed)
	AssignedTo  string `json:"assigned_to"`  // AssignedTo ID сотрудника
	DueDateIso  string `json:"due_date"`     // DueDateIso срок выполнения (ISO 8601)
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// Assignment status values accepted by PATCH /Assignments/{id}/status.
const (
	AssignmentPending    = "pending"
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
)

// AuditTemplate представляет шаблон аудита: набор секций и вопросов.
// Структура вопросов прозрачна для движка синхронизации, поэтому
// секции хранятся как произвольный JSON.
type AuditTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Sections []byte `json:"sections"` // Sections непрозрачный JSON с вопросами
}

// Audit представляет заполненный аудит, готовый к отправке на сервер.
type Audit struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	TemplateID   string `json:"template_id"`
	Answers      []byte `json:"answers"` // Answers непрозрачный JSON с ответами
	SubmittedBy  string `json:"submitted_by"`
	CompletedIso string `json:"completed_at"`
}
