package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/models"
)

// Notifications — зеркало уведомлений с точечными операциями поверх
// снимка. Уведомление после получения не пересоздаётся: Upsert обновляет
// запись на месте, MarkRead и MarkAcknowledged мутируют только свои поля.
type Notifications struct {
	m *Mirror
}

// NewNotifications creates the notifications mirror
func NewNotifications(kv storage.KVStorage, logger *slog.Logger) *Notifications {
	return &Notifications{m: New(kv, EntityNotifications, logger)}
}

// All returns the stored notifications, newest last
func (n *Notifications) All(ctx context.Context) []models.NotificationMessage {
	list := []models.NotificationMessage{}
	n.m.Load(ctx, &list)
	return list
}

// Replace overwrites the whole snapshot
func (n *Notifications) Replace(ctx context.Context, list []models.NotificationMessage) error {
	return n.m.Replace(ctx, list)
}

// Upsert inserts the notification or updates the stored copy in place,
// preserving delivery bookkeeping already attached to it.
func (n *Notifications) Upsert(ctx context.Context, msg models.NotificationMessage) error {
	list := n.All(ctx)

	for i := range list {
		if list[i].ID == msg.ID {
			// Сохраняем локальные пометки при повторной доставке
			msg.IsRead = msg.IsRead || list[i].IsRead
			if list[i].DeliveryAcknowledged {
				msg.DeliveryAcknowledged = true
				msg.AcknowledgedAtMs = list[i].AcknowledgedAtMs
			}
			list[i] = msg
			return n.m.Replace(ctx, list)
		}
	}

	list = append(list, msg)
	return n.m.Replace(ctx, list)
}

// MarkRead flips IsRead on the stored notification
func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	list := n.All(ctx)

	for i := range list {
		if list[i].ID == id {
			if list[i].IsRead {
				return nil
			}
			list[i].IsRead = true
			return n.m.Replace(ctx, list)
		}
	}

	return fmt.Errorf("notification %s not found", id)
}

// MarkAcknowledged records delivery acknowledgment. Идемпотентна: повторный
// вызов для уже подтверждённого уведомления — no-op, не ошибка.
func (n *Notifications) MarkAcknowledged(ctx context.Context, id string, atMs int64) error {
	list := n.All(ctx)

	for i := range list {
		if list[i].ID == id {
			if list[i].DeliveryAcknowledged {
				return nil
			}
			list[i].DeliveryAcknowledged = true
			list[i].AcknowledgedAtMs = atMs
			return n.m.Replace(ctx, list)
		}
	}

	return fmt.Errorf("notification %s not found", id)
}

// Unacknowledged returns stored notifications whose delivery has not been
// acknowledged yet (ack send failed on a previous connection)
func (n *Notifications) Unacknowledged(ctx context.Context) []models.NotificationMessage {
	var pending []models.NotificationMessage
	for _, msg := range n.All(ctx) {
		if !msg.DeliveryAcknowledged {
			pending = append(pending, msg)
		}
	}
	return pending
}
