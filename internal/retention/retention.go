// Package retention runs the background lifecycle job: releasing expired
// cart reservations, sweeping stale sessions and idempotency keys,
// pruning search logs, archiving cold orders, and anonymizing orders past
// the legal retention window.
package retention

import (
	"context"
	"time"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
)

// Policy carries the externally configured windows. Day counts are
// explicit configuration because legal requirements vary by jurisdiction.
type Policy struct {
	Interval       time.Duration
	StartupDelay   time.Duration
	HotStorageDays int
	AnonymizeDays  int
	SearchLogDays  int
	ArchiveBatch   int
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = 24 * time.Hour
	}
	if p.StartupDelay <= 0 {
		p.StartupDelay = time.Minute
	}
	if p.HotStorageDays <= 0 {
		p.HotStorageDays = 730
	}
	if p.AnonymizeDays <= 0 {
		p.AnonymizeDays = 2555
	}
	if p.SearchLogDays <= 0 {
		p.SearchLogDays = 90
	}
	if p.ArchiveBatch <= 0 {
		p.ArchiveBatch = 100
	}
	return p
}

// Store is the retention job's storage surface. ArchiveOrder must run in
// its own transaction: write the blob to cold storage, null the PII
// fields on the hot row, and mark archive_status=archived, so one order's
// failure never blocks the batch.
type Store interface {
	ReleaseExpiredReservations(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteSearchLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// ArchiveCandidates returns terminal-status, not-yet-archived orders
	// created before cutoff.
	ArchiveCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	ArchiveOrder(ctx context.Context, orderID string, blob []byte) error
	AnonymizeOrdersOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Sealer encrypts archive blobs at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
}

// KeySweeper deletes expired idempotency records from the durable mirror.
type KeySweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type StepFailure struct {
	Step    string `json:"step"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error"`
}

// Summary is the per-run report. Failures are collected, not retried
// within the run; the next run picks the same work up again.
type Summary struct {
	StartedAt            time.Time     `json:"startedAt"`
	Duration             time.Duration `json:"duration"`
	ReleasedReservations int64         `json:"releasedReservations"`
	DeletedSessions      int64         `json:"deletedSessions"`
	DeletedIdempotency   int64         `json:"deletedIdempotencyKeys"`
	DeletedSearchLogs    int64         `json:"deletedSearchLogs"`
	ArchivedOrders       int64         `json:"archivedOrders"`
	AnonymizedOrders     int64         `json:"anonymizedOrders"`
	Failures             []StepFailure `json:"failures,omitempty"`
}
