package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/auditflow/fieldsync/internal/client/notify"
	"github.com/auditflow/fieldsync/internal/client/session"
	syncsvc "github.com/auditflow/fieldsync/internal/client/sync"
	"github.com/auditflow/fieldsync/internal/models"
	"github.com/auditflow/fieldsync/pkg/api"
)

// RunAssignments выводит задания: кэш, затем сеть, затем офлайн-зеркало
func (c *Cli) RunAssignments(ctx context.Context) error {
	var assignments []models.Assignment

	if c.cache.Get(ctx, "assignments", &assignments) {
		c.printAssignments(assignments, "cache")
		return nil
	}

	auth, err := c.store.GetAuth(ctx)
	if err == nil {
		fetched, fetchErr := c.apiClient.Assignments(ctx, auth.AccessToken)
		if fetchErr == nil {
			if err := c.storeAssignments(ctx, fetched); err != nil {
				c.logger.Warn("failed to store assignments locally", "error", err)
			}
			c.printAssignments(fetched, "network")
			return nil
		}
		c.logger.Warn("assignments fetch failed, falling back to mirror", "error", fetchErr)
	}

	// Офлайн: последний снимок зеркала — источник истины
	c.assignments.Load(ctx, &assignments)
	c.printAssignments(assignments, "offline mirror")
	return nil
}

// RunMark ставит смену статуса задания в очередь офлайн-запросов
func (c *Cli) RunMark(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mark <assignment-id> <pending|in_progress|completed>")
	}
	id, status := args[0], args[1]

	// Завершение задания необратимо для сотрудника, поэтому переспрашиваем
	if status == models.AssignmentCompleted {
		ok, err := c.io.Confirm(fmt.Sprintf("Mark assignment %s as completed?", id))
		if err != nil {
			return err
		}
		if !ok {
			c.io.Println("Cancelled")
			return nil
		}
	}

	payload, err := json.Marshal(api.UpdateStatusRequest{Status: status})
	if err != nil {
		return fmt.Errorf("failed to encode status payload: %w", err)
	}

	req, err := c.queue.Enqueue(ctx, models.KindUpdate, "PATCH", "/Assignments/"+id+"/status", payload, 0)
	if err != nil {
		return err
	}

	c.io.Printf("Status change queued (%s)\n", req.ID)
	return c.trySyncNow(ctx)
}

// RunSubmit ставит отправку аудита в очередь офлайн-запросов
func (c *Cli) RunSubmit(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: submit <assignment-id> <template-id> <answers.json>")
	}
	assignmentID, templateID, answersPath := args[0], args[1], args[2]

	answers, err := os.ReadFile(answersPath)
	if err != nil {
		return fmt.Errorf("failed to read answers file: %w", err)
	}
	if !json.Valid(answers) {
		return fmt.Errorf("answers file is not valid JSON")
	}

	ok, err := c.io.Confirm(fmt.Sprintf("Submit audit for assignment %s?", assignmentID))
	if err != nil {
		return err
	}
	if !ok {
		c.io.Println("Cancelled")
		return nil
	}

	audit := models.Audit{
		ID:           uuid.New().String(),
		AssignmentID: assignmentID,
		TemplateID:   templateID,
		Answers:      answers,
		CompletedIso: time.Now().Format(time.RFC3339),
	}
	if auth, authErr := c.store.GetAuth(ctx); authErr == nil {
		audit.SubmittedBy = auth.UserID
	}

	payload, err := json.Marshal(api.SubmitAuditRequest{
		ID:           audit.ID,
		AssignmentID: audit.AssignmentID,
		TemplateID:   audit.TemplateID,
		Answers:      audit.Answers,
		CompletedAt:  audit.CompletedIso,
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}

	req, err := c.queue.Enqueue(ctx, models.KindSubmit, "POST", "/Audits", payload, 0)
	if err != nil {
		return err
	}

	// Локальная копия отправленного аудита: видна в офлайне до и после drain
	if err := c.appendAudit(ctx, audit); err != nil {
		c.logger.Warn("failed to mirror submitted audit", "error", err)
	}

	c.io.Printf("Audit queued (%s)\n", req.ID)
	return c.trySyncNow(ctx)
}

// RunTemplate выводит шаблон аудита: кэш, затем сеть, затем офлайн-зеркало
func (c *Cli) RunTemplate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: template <template-id>")
	}
	id := args[0]

	var tpl models.AuditTemplate
	if c.cache.Get(ctx, "template/"+id, &tpl) {
		c.printTemplate(tpl, "cache")
		return nil
	}

	auth, err := c.store.GetAuth(ctx)
	if err == nil {
		fetched, fetchErr := c.apiClient.Template(ctx, auth.AccessToken, id)
		if fetchErr == nil {
			if err := c.storeTemplate(ctx, *fetched); err != nil {
				c.logger.Warn("failed to store template locally", "error", err)
			}
			c.printTemplate(*fetched, "network")
			return nil
		}
		c.logger.Warn("template fetch failed, falling back to mirror", "error", fetchErr)
	}

	var list []models.AuditTemplate
	c.templates.Load(ctx, &list)
	for _, t := range list {
		if t.ID == id {
			c.printTemplate(t, "offline mirror")
			return nil
		}
	}
	return fmt.Errorf("template %s is not available offline", id)
}

// appendAudit дописывает аудит в офлайн-зеркало отправленных аудитов
func (c *Cli) appendAudit(ctx context.Context, audit models.Audit) error {
	var list []models.Audit
	c.audits.Load(ctx, &list)
	return c.audits.Replace(ctx, append(list, audit))
}

// RunSync выполняет drain немедленно
func (c *Cli) RunSync(ctx context.Context) error {
	c.syncer.SetOnline(true)

	result, err := c.syncer.Sync(ctx)
	if err != nil {
		switch {
		case errors.Is(err, syncsvc.ErrBlocked):
			return fmt.Errorf("session expired, please log in again")
		case errors.Is(err, syncsvc.ErrOffline):
			return fmt.Errorf("offline, will sync later")
		default:
			return err
		}
	}

	c.io.Printf("Sync complete: %d sent, %d retried, %d dead-lettered\n",
		result.Processed, result.Retried, result.DeadLettered)
	return nil
}

// RunListen держит канал уведомлений открытым до отмены ctx
func (c *Cli) RunListen(ctx context.Context) error {
	manager := c.notifyManager()

	handle, err := manager.Listen(func(msg models.NotificationMessage) {
		c.io.Printf("[%s] %s: %s\n", msg.Type, msg.Title, msg.Message)
	})
	if err != nil {
		return err
	}
	defer handle.Close()

	// События сессии: истечение во время прослушивания — явное сообщение
	sub := c.validator.Subscribe()
	defer sub.Close()
	go func() {
		for ev := range sub.C {
			if ev.State == session.StateExpired {
				c.io.Println("Session expired, please log in again")
			}
		}
	}()

	c.io.Println("Listening for notifications (Ctrl+C to stop)...")

	err = manager.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, notify.ErrConnectionLost) {
		return fmt.Errorf("notification service unreachable, giving up: %w", err)
	}
	return err
}

// trySyncNow пытается сразу выгрузить очередь; офлайн — не ошибка
func (c *Cli) trySyncNow(ctx context.Context) error {
	c.syncer.SetOnline(true)
	_, err := c.syncer.Sync(ctx)
	switch {
	case err == nil:
		c.io.Println("Queue drained")
	case errors.Is(err, syncsvc.ErrOffline), errors.Is(err, syncsvc.ErrSyncInProgress):
		c.io.Println("Offline, will sync later")
	case errors.Is(err, syncsvc.ErrBlocked):
		c.io.Println("Session expired, request kept in queue; log in to resume")
	default:
		c.logger.Warn("immediate sync failed", "error", err)
		c.io.Println("Temporary error, request kept in queue")
	}
	return nil
}

func (c *Cli) printTemplate(tpl models.AuditTemplate, source string) {
	c.io.Printf("Template %s (%s):\n", tpl.ID, source)
	c.io.Printf("  %s, version %d\n", tpl.Name, tpl.Version)
	c.io.Printf("  %s\n", string(tpl.Sections))
}

func (c *Cli) printAssignments(assignments []models.Assignment, source string) {
	c.io.Printf("Assignments (%s):\n", source)
	if len(assignments) == 0 {
		c.io.Println("  none")
		return
	}
	for _, a := range assignments {
		c.io.Printf("  %-8s %-12s %s — %s (due %s)\n",
			a.ID, a.Status, a.SiteName, a.Address, a.DueDateIso)
	}
}
