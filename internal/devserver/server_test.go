package devserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	clientapi "github.com/auditflow/fieldsync/internal/client/api"
	"github.com/auditflow/fieldsync/internal/client/session"
	"github.com/auditflow/fieldsync/internal/models"
	"github.com/auditflow/fieldsync/pkg/api"
)

func startTestServer(t *testing.T, tokenTTL time.Duration) (*Server, *clientapi.Client, string) {
	s := New("test-secret", tokenTTL, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, clientapi.NewClient(srv.URL), srv.URL
}

func login(t *testing.T, client *clientapi.Client) *api.TokenResponse {
	resp, err := client.Login(context.Background(), api.LoginRequest{
		Username: "demo.auditor",
		Password: "demo-password",
	})
	require.NoError(t, err)
	return resp
}

func TestServer_LoginValidateAssignments(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)

	resp := login(t, client)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "org-1", resp.OrganisationID)

	require.NoError(t, client.ValidateToken(ctx, resp.AccessToken))

	assignments, err := client.Assignments(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "asg-1", assignments[0].ID)
	assert.Equal(t, "Store #12", assignments[0].SiteName)
}

func TestServer_LoginBadCredentials(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)

	_, err := client.Login(ctx, api.LoginRequest{Username: "demo.auditor", Password: "wrong"})
	require.Error(t, err)

	apiErr, ok := clientapi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.StatusCode)
	// Неверный пароль — не истечение сессии
	assert.False(t, session.ExpiredResponse(err))
}

func TestServer_ExpiredTokenCarriesMarker(t *testing.T) {
	ctx := context.Background()
	// Токены рождаются уже истёкшими
	_, client, _ := startTestServer(t, -time.Minute)

	resp := login(t, client)

	_, err := client.Assignments(ctx, resp.AccessToken)
	require.Error(t, err)

	apiErr, ok := clientapi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Contains(t, apiErr.Header.Get("WWW-Authenticate"), "invalid_token")

	// Клиентская классификация видит маркер истечения
	assert.True(t, session.ExpiredResponse(err))
}

func TestServer_GarbageTokenNoMarker(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)

	_, err := client.Assignments(ctx, "not-a-jwt")
	require.Error(t, err)

	apiErr, ok := clientapi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Empty(t, apiErr.Header.Get("WWW-Authenticate"))
	assert.False(t, session.ExpiredResponse(err))
}

func TestServer_RegisterConflict(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)

	_, err := client.Register(ctx, api.RegisterRequest{
		Username: "demo.auditor",
		Password: "another-password",
	})
	require.Error(t, err)

	apiErr, ok := clientapi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 409, apiErr.StatusCode)
	assert.True(t, apiErr.PermanentClientError())
}

func TestServer_UpdateStatusAndReplay(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)
	resp := login(t, client)

	// Тот же путь, что у drain-цикла: непрозрачный payload через Do
	err := client.Do(ctx, resp.AccessToken, "PATCH", "/Assignments/asg-1/status",
		[]byte(`{"status":"in_progress"}`))
	require.NoError(t, err)

	a, err := client.Assignment(ctx, resp.AccessToken, "asg-1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", a.Status)

	// Неизвестный статус — постоянная клиентская ошибка
	err = client.Do(ctx, resp.AccessToken, "PATCH", "/Assignments/asg-1/status",
		[]byte(`{"status":"bogus"}`))
	apiErr, ok := clientapi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.True(t, apiErr.PermanentClientError())
}

func TestServer_SubmitAuditIdempotent(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)
	resp := login(t, client)

	payload := []byte(`{"id":"audit-1","assignment_id":"asg-1","template_id":"tpl-retail-1","answers":{"q1":"yes"},"completed_at":"2026-08-23T10:00:00Z"}`)

	require.NoError(t, client.Do(ctx, resp.AccessToken, "POST", "/Audits", payload))
	// Повторная отправка того же аудита — no-op, не конфликт
	require.NoError(t, client.Do(ctx, resp.AccessToken, "POST", "/Audits", payload))
}

func TestServer_Template(t *testing.T) {
	ctx := context.Background()
	_, client, _ := startTestServer(t, time.Hour)
	resp := login(t, client)

	tpl, err := client.Template(ctx, resp.AccessToken, "tpl-retail-1")
	require.NoError(t, err)
	assert.Equal(t, "Retail store walkthrough", tpl.Name)
	assert.Equal(t, 3, tpl.Version)

	_, err = client.Template(ctx, resp.AccessToken, "ghost")
	apiErr, ok := clientapi.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestHub_PushAndAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, client, baseURL := startTestServer(t, time.Hour)
	resp := login(t, client)

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Bearer " + resp.AccessToken}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Подписываемся на свои уведомления
	require.NoError(t, wsjson.Write(ctx, conn, &api.Frame{Type: api.FrameHandshake, Token: resp.AccessToken}))
	require.NoError(t, wsjson.Write(ctx, conn, &api.Frame{Type: api.FrameSubscribeUser, UserID: resp.UserID}))

	// ping -> pong
	require.NoError(t, wsjson.Write(ctx, conn, &api.Frame{Type: api.FramePing}))
	var pong api.Frame
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, api.FramePong, pong.Type)

	// Push доходит до подписанного соединения
	require.NoError(t, s.Hub().Push(ctx, resp.UserID, "", models.NotificationMessage{
		ID:    "ntf-1",
		Type:  "assignment",
		Title: "New assignment",
	}))

	var frame api.Frame
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, api.FrameNotification, frame.Type)
	assert.Contains(t, string(frame.Notification), "ntf-1")

	// Подтверждение доставки и его дубликат с другой меткой времени
	firstAckAt := time.Now().UnixMilli()
	ack := api.Frame{Type: api.FrameDeliveryAck, NotificationID: "ntf-1", AcknowledgedAtMs: firstAckAt}
	require.NoError(t, wsjson.Write(ctx, conn, &ack))
	ack.AcknowledgedAtMs = firstAckAt + 1000
	require.NoError(t, wsjson.Write(ctx, conn, &ack))

	// Дубликат не рвёт соединение: ping после него всё ещё отвечается
	require.NoError(t, wsjson.Write(ctx, conn, &api.Frame{Type: api.FramePing}))
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, api.FramePong, pong.Type)

	// Записано ровно одно подтверждение, метка времени первого сохранена
	acks := s.Hub().Acks()
	require.Len(t, acks, 1)
	assert.Equal(t, models.DeliveryAcknowledgment{
		NotificationID:   "ntf-1",
		AcknowledgedAtMs: firstAckAt,
	}, acks[0])
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, baseURL := startTestServer(t, time.Hour)
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	_, _, err := websocket.Dial(ctx, wsURL, nil)
	assert.Error(t, err)
}
