package storage

import (
	"context"

	"github.com/auditflow/fieldsync/internal/models"
)

// QueueStorage defines the persistent FIFO queue of offline requests plus
// the dead-letter set for requests retried to exhaustion.
// Ordering: List returns requests strictly in enqueue order; the order is
// the store's natural append order and survives interleaved Update calls.
type QueueStorage interface {
	// Append adds the request to the tail of the queue
	Append(ctx context.Context, req *models.OfflineRequest) error

	// List returns all queued requests in FIFO order without mutating the queue
	List(ctx context.Context) ([]*models.OfflineRequest, error)

	// Update persists changed retry bookkeeping for the request.
	// Returns ErrRequestNotFound if the request is not queued.
	Update(ctx context.Context, req *models.OfflineRequest) error

	// Remove deletes the request on terminal success.
	// Returns ErrRequestNotFound if the request is not queued.
	Remove(ctx context.Context, id string) error

	// MoveToDeadLetter atomically removes the request from the active queue
	// and records it in the dead-letter set.
	MoveToDeadLetter(ctx context.Context, id string) error

	// ListDeadLetter returns all dead-lettered requests
	ListDeadLetter(ctx context.Context) ([]*models.OfflineRequest, error)

	// Len returns the number of requests in the active queue
	Len(ctx context.Context) (int, error)
}
