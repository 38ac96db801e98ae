package idempotency

import (
	"context"
	"time"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record is the mutual-exclusion token for one logical side-effecting
// operation. Owner identifies the attempt currently holding the key;
// Response is only set once the operation completed.
type Record struct {
	Key         string    `json:"key"`
	Status      Status    `json:"status"`
	Owner       string    `json:"owner,omitempty"`
	Response    []byte    `json:"response,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Store is the fast, authoritative decision point for deduplication.
// Create must be a single atomic create-if-absent at the storage layer;
// two concurrent callers must never both observe created=true for the
// same key. Reclaim and UpdateOwned must be atomic compare-and-swap
// operations for the same reason.
type Store interface {
	Create(ctx context.Context, rec Record, ttl time.Duration) (created bool, err error)
	Get(ctx context.Context, key string) (*Record, bool, error)
	// Reclaim replaces the record only when its current status is FAILED.
	// Exactly one of any concurrent callers observes claimed=true.
	Reclaim(ctx context.Context, rec Record) (claimed bool, err error)
	// UpdateOwned replaces the record only when the stored owner token
	// matches rec.Owner. A false return means the key expired or was
	// reclaimed by a newer attempt.
	UpdateOwned(ctx context.Context, rec Record) (bool, error)
	Delete(ctx context.Context, key string) error
}

// DurableStore mirrors records for crash recovery. Writes are best-effort:
// a failure is logged and never blocks the request, so the mirror may lag
// the fast store.
type DurableStore interface {
	Upsert(ctx context.Context, rec Record) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
