package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/auditflow/fieldsync/internal/models"
	"github.com/auditflow/fieldsync/pkg/api"
)

// hub обслуживает websocket-канал уведомлений: подписки, ping/pong,
// рассылка и дедупликация подтверждений доставки
type hub struct {
	tokens *tokenService
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*subscription
	acked map[string]int64 // notification id -> первый acknowledged_at_ms (дубликаты — no-op)
}

type subscription struct {
	userID string
	orgID  string
}

func newHub(tokens *tokenService, logger *slog.Logger) *hub {
	return &hub{
		tokens: tokens,
		logger: logger,
		conns:  make(map[*websocket.Conn]*subscription),
		acked:  make(map[string]int64),
	}
}

func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := h.tokens.validate(bearerToken(r)); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	sub := &subscription{}
	h.mu.Lock()
	h.conns[conn] = sub
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var f api.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		h.handleFrame(ctx, conn, sub, &f)
	}
}

func (h *hub) handleFrame(ctx context.Context, conn *websocket.Conn, sub *subscription, f *api.Frame) {
	switch f.Type {
	case api.FrameHandshake:
		// handshake идемпотентен, токен уже проверен при Accept

	case api.FrameSubscribeUser:
		h.mu.Lock()
		sub.userID = f.UserID
		h.mu.Unlock()

	case api.FrameJoinOrganisation:
		h.mu.Lock()
		sub.orgID = f.OrganisationID
		h.mu.Unlock()

	case api.FramePing:
		if err := wsjson.Write(ctx, conn, &api.Frame{Type: api.FramePong}); err != nil {
			h.logger.Warn("pong write failed", "error", err)
		}

	case api.FrameDeliveryAck:
		h.mu.Lock()
		_, duplicate := h.acked[f.NotificationID]
		if !duplicate {
			h.acked[f.NotificationID] = f.AcknowledgedAtMs
		}
		h.mu.Unlock()
		if duplicate {
			// Дубликат подтверждения — no-op по контракту, первая метка времени
			// остаётся в силе
			h.logger.Debug("duplicate delivery ack", "notification_id", f.NotificationID)
		}

	default:
		h.logger.Debug("unexpected client frame", "type", f.Type)
	}
}

// Acks возвращает принятые подтверждения доставки, по одному на
// уведомление, с меткой времени первого подтверждения
func (h *hub) Acks() []models.DeliveryAcknowledgment {
	h.mu.Lock()
	defer h.mu.Unlock()

	acks := make([]models.DeliveryAcknowledgment, 0, len(h.acked))
	for id, at := range h.acked {
		acks = append(acks, models.DeliveryAcknowledgment{
			NotificationID:   id,
			AcknowledgedAtMs: at,
		})
	}
	return acks
}

// Push рассылает уведомление всем подключениям, подписанным на
// пользователя или его организацию
func (h *hub) Push(ctx context.Context, userID, orgID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := &api.Frame{Type: api.FrameNotification, Notification: raw}

	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for conn, sub := range h.conns {
		if sub.userID == userID || (orgID != "" && sub.orgID == orgID) {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := wsjson.Write(writeCtx, conn, frame); err != nil {
			h.logger.Warn("notification push failed", "error", err)
		}
		cancel()
	}

	return nil
}
