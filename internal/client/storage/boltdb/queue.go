package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/auditflow/fieldsync/internal/client/storage"
	"github.com/auditflow/fieldsync/internal/models"
)

// Очередь хранится под 8-байтовыми big-endian ключами из NextSequence:
// лексикографический порядок ключей совпадает с порядком постановки,
// что даёт строгий FIFO без отдельного индекса. Update перезаписывает
// значение под тем же ключом и порядок не меняет.

// Append adds the request to the tail of the queue
func (s *Storage) Append(ctx context.Context, req *models.OfflineRequest) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		if err := bucket.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to append request: %w", err)
		}

		return nil
	})
}

// List returns all queued requests in FIFO order without mutating the queue
func (s *Storage) List(ctx context.Context) ([]*models.OfflineRequest, error) {
	var requests []*models.OfflineRequest

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		return bucket.ForEach(func(k, v []byte) error {
			req := &models.OfflineRequest{}
			if err := json.Unmarshal(v, req); err != nil {
				return fmt.Errorf("failed to unmarshal request: %w", err)
			}
			requests = append(requests, req)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return requests, nil
}

// Update persists changed retry bookkeeping for the request
func (s *Storage) Update(ctx context.Context, req *models.OfflineRequest) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		key, err := findRequestKey(bucket, req.ID)
		if err != nil {
			return err
		}

		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}

		return nil
	})
}

// Remove deletes the request on terminal success
func (s *Storage) Remove(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		key, err := findRequestKey(bucket, id)
		if err != nil {
			return err
		}

		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to remove request: %w", err)
		}

		return nil
	})
}

// MoveToDeadLetter atomically removes the request from the active queue
// and records it in the dead-letter set
func (s *Storage) MoveToDeadLetter(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}
		dead := tx.Bucket(bucketDeadLetter)
		if dead == nil {
			return fmt.Errorf("deadletter bucket not found")
		}

		key, err := findRequestKey(bucket, id)
		if err != nil {
			return err
		}

		data := bucket.Get(key)
		if err := dead.Put([]byte(id), append([]byte(nil), data...)); err != nil {
			return fmt.Errorf("failed to dead-letter request: %w", err)
		}

		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to remove request from queue: %w", err)
		}

		return nil
	})
}

// ListDeadLetter returns all dead-lettered requests
func (s *Storage) ListDeadLetter(ctx context.Context) ([]*models.OfflineRequest, error) {
	var requests []*models.OfflineRequest

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDeadLetter)
		if bucket == nil {
			return fmt.Errorf("deadletter bucket not found")
		}

		return bucket.ForEach(func(k, v []byte) error {
			req := &models.OfflineRequest{}
			if err := json.Unmarshal(v, req); err != nil {
				return fmt.Errorf("failed to unmarshal request: %w", err)
			}
			requests = append(requests, req)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return requests, nil
}

// Len returns the number of requests in the active queue
func (s *Storage) Len(ctx context.Context) (int, error) {
	var n int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}
		n = bucket.Stats().KeyN
		return nil
	})

	if err != nil {
		return 0, err
	}

	return n, nil
}

// seqKey кодирует sequence number в big-endian ключ
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// findRequestKey ищет ключ записи по ID запроса.
// Очереди короткие (десятки записей), линейный проход достаточен.
func findRequestKey(bucket *bbolt.Bucket, id string) ([]byte, error) {
	var found []byte

	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(v, &probe); err != nil {
			continue
		}
		if probe.ID == id {
			found = append([]byte(nil), k...)
			break
		}
	}

	if found == nil {
		return nil, storage.ErrRequestNotFound
	}

	return found, nil
}
