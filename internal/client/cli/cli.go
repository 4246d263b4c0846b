// Package cli связывает подсистемы клиента в команды терминала.
// Каждая подсистема создаётся один раз на процесс и передаётся явно —
// никаких синглтонов уровня модуля.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditflow/fieldsync/internal/client/api"
	"github.com/auditflow/fieldsync/internal/client/cache"
	"github.com/auditflow/fieldsync/internal/client/iocli"
	"github.com/auditflow/fieldsync/internal/client/mirror"
	"github.com/auditflow/fieldsync/internal/client/notify"
	"github.com/auditflow/fieldsync/internal/client/queue"
	"github.com/auditflow/fieldsync/internal/client/session"
	"github.com/auditflow/fieldsync/internal/client/storage/boltdb"
	syncsvc "github.com/auditflow/fieldsync/internal/client/sync"
	"github.com/auditflow/fieldsync/internal/models"
)

// TTL кэшей по типам сущностей
const (
	assignmentsTTL = 15 * time.Minute
	templatesTTL   = 24 * time.Hour
)

// Cli держит по одному экземпляру каждой подсистемы
type Cli struct {
	io            iocli.IO
	store         *boltdb.Storage
	apiClient     *api.Client
	validator     *session.Validator
	queue         *queue.Queue
	syncer        *syncsvc.Service
	cache         *cache.Cache
	assignments   *mirror.Mirror
	templates     *mirror.Mirror
	audits        *mirror.Mirror
	notifications *mirror.Notifications
	wsURL         string
	logger        *slog.Logger
}

// New wires one instance of every subsystem
func New(serverURL, wsURL string, store *boltdb.Storage, io iocli.IO, logger *slog.Logger) *Cli {
	apiClient := api.NewClient(serverURL)

	c := &Cli{
		io:            io,
		store:         store,
		apiClient:     apiClient,
		validator:     session.NewValidator(apiClient, store, session.DefaultOptions(), logger),
		queue:         queue.New(store, nil, logger),
		cache:         cache.New(store, nil, logger),
		assignments:   mirror.New(store, mirror.EntityAssignments, logger),
		templates:     mirror.New(store, mirror.EntityTemplates, logger),
		audits:        mirror.New(store, mirror.EntityAudits, logger),
		notifications: mirror.NewNotifications(store, logger),
		wsURL:         wsURL,
		logger:        logger,
	}

	c.syncer = syncsvc.NewService(c.queue, store, c.processRequest, syncsvc.Options{
		Refresh: c.refreshMirrors,
	}, logger)

	return c
}

// processRequest воспроизводит отложенный запрос с текущим токеном.
// Регистрируется в оркестраторе как task processor: ядро очереди не
// знает доменных типов.
func (c *Cli) processRequest(ctx context.Context, req *models.OfflineRequest) error {
	auth, err := c.store.GetAuth(ctx)
	if err != nil {
		// Без учётных данных drain блокируется до повторного входа
		return fmt.Errorf("%w: no stored credential", session.ErrSessionExpired)
	}
	return c.apiClient.Do(ctx, auth.AccessToken, req.Method, req.Endpoint, req.Payload)
}

// refreshMirrors перечитывает списки с сервера после успешного drain:
// ответ сервера целиком замещает зеркала и кэши
func (c *Cli) refreshMirrors(ctx context.Context) error {
	auth, err := c.store.GetAuth(ctx)
	if err != nil {
		return err
	}

	assignments, err := c.apiClient.Assignments(ctx, auth.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to fetch assignments: %w", err)
	}

	return c.storeAssignments(ctx, assignments)
}

// storeAssignments записывает зеркало и кэш заданий одной атомарной
// транзакцией: наблюдатель никогда не видит обновлённое зеркало рядом
// с устаревшим кэшем
func (c *Cli) storeAssignments(ctx context.Context, assignments []models.Assignment) error {
	mk, mv, err := c.assignments.Snapshot(assignments)
	if err != nil {
		return err
	}
	ck, cv, err := c.cache.Entry("assignments", assignments, assignmentsTTL)
	if err != nil {
		return err
	}
	return c.store.PutBatch(ctx, map[string][]byte{mk: mv, ck: cv})
}

// storeTemplate обновляет шаблон в зеркале (upsert по id) и кэширует его,
// также одной транзакцией
func (c *Cli) storeTemplate(ctx context.Context, tpl models.AuditTemplate) error {
	var list []models.AuditTemplate
	c.templates.Load(ctx, &list)

	replaced := false
	for i := range list {
		if list[i].ID == tpl.ID {
			list[i] = tpl
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, tpl)
	}

	mk, mv, err := c.templates.Snapshot(list)
	if err != nil {
		return err
	}
	ck, cv, err := c.cache.Entry("template/"+tpl.ID, tpl, templatesTTL)
	if err != nil {
		return err
	}
	return c.store.PutBatch(ctx, map[string][]byte{mk: mv, ck: cv})
}

// notifyManager собирает менеджер соединения с боевым websocket-дайлером
func (c *Cli) notifyManager() *notify.Manager {
	return notify.NewManager(
		notify.WebsocketDialer(),
		c.validator,
		c.store,
		c.notifications,
		c.wsURL,
		notify.DefaultOptions(),
		c.logger,
	)
}

// PrintUsage выводит справку по командам
func PrintUsage(io iocli.IO) {
	io.Println("fieldsync - offline-first field audit client")
	io.Println("")
	io.Println("Usage: fieldsync [flags] <command> [args]")
	io.Println("")
	io.Println("Commands:")
	io.Println("  register                 Register a new account")
	io.Println("  login                    Log in and validate the session")
	io.Println("  logout                   Log out and clear the stored credential")
	io.Println("  status                   Show auth and sync status")
	io.Println("  assignments              List assignments (cache, mirror or network)")
	io.Println("  template <id>            Show an audit template (cache, mirror or network)")
	io.Println("  mark <id> <status>       Queue an assignment status change")
	io.Println("  submit <assignment> <template> <answers.json>")
	io.Println("                           Queue an audit submission")
	io.Println("  sync                     Drain the offline queue now")
	io.Println("  listen                   Stream notifications until interrupted")
	io.Println("")
	io.Println("Flags:")
	io.Println("  -server URL   Backend URL (default http://localhost:8080)")
	io.Println("  -ws URL       Notification channel URL (default ws://localhost:8080/ws)")
	io.Println("  -db PATH      Path to local database (default fieldsync.db)")
}
