package api

import "encoding/json"

// Типы кадров протокола канала уведомлений. Канал двунаправленный:
// клиент шлёт handshake, подписки, ping и подтверждения доставки,
// сервер — pong, heartbeat и уведомления.
const (
	FrameHandshake        = "handshake"
	FrameSubscribeUser    = "subscribe_user"
	FrameJoinOrganisation = "join_organisation"
	FramePing             = "ping"
	FramePong             = "pong"
	FrameHeartbeat        = "heartbeat"
	FrameNotification     = "notification"
	FrameDeliveryAck      = "delivery_ack"
)

// Frame представляет один кадр канала уведомлений в обе стороны.
// Незадействованные поля опускаются при сериализации.
type Frame struct {
	Type string `json:"type"`

	// handshake
	Token string `json:"token,omitempty"`

	// subscribe_user / join_organisation
	UserID         string `json:"user_id,omitempty"`
	OrganisationID string `json:"organisation_id,omitempty"`

	// notification (сервер -> клиент)
	Notification json.RawMessage `json:"notification,omitempty"`

	// delivery_ack (клиент -> сервер)
	NotificationID   string `json:"notification_id,omitempty"`
	AcknowledgedAtMs int64  `json:"acknowledged_at_ms,omitempty"`
}
