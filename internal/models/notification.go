package models

// NotificationMessage представляет входящее push-уведомление.
// После получения запись никогда не пересоздаётся с новой идентичностью:
// мутируются только IsRead и поля подтверждения доставки.
type NotificationMessage struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"` // Type вид уведомления (assignment, system и т.д.)
	Title                string `json:"title"`
	Message              string `json:"message"`
	TimestampIso         string `json:"timestamp"`
	IsRead               bool   `json:"is_read"`
	UserID               string `json:"user_id"`
	Data                 []byte `json:"data,omitempty"` // Data непрозрачный JSON с деталями
	DeliveryAcknowledged bool   `json:"delivery_acknowledged"`
	AcknowledgedAtMs     int64  `json:"acknowledged_at_ms,omitempty"`
}

// DeliveryAcknowledgment подтверждает серверу получение и сохранение
// уведомления. Отправляется ровно один раз на уведомление; сервер обязан
// трактовать дубликаты как no-op.
type DeliveryAcknowledgment struct {
	NotificationID   string `json:"notification_id"`
	AcknowledgedAtMs int64  `json:"acknowledged_at_ms"`
}
