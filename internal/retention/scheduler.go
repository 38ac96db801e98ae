package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
)

// Scheduler runs the retention steps on a fixed interval, plus one run
// shortly after process start. Steps are fault-isolated: a failing step
// is recorded and the loop moves on.
type Scheduler struct {
	store   Store
	sweeper KeySweeper
	sealer  Sealer
	auditor *audit.Logger
	policy  Policy
	log     *slog.Logger
	now     func() time.Time

	// onSummary, when set, receives every run's summary (metrics hook).
	onSummary func(Summary)
}

func NewScheduler(store Store, sweeper KeySweeper, sealer Sealer, auditor *audit.Logger,
	policy Policy, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		sweeper: sweeper,
		sealer:  sealer,
		auditor: auditor,
		policy:  policy.withDefaults(),
		log:     log,
		now:     time.Now,
	}
}

func (s *Scheduler) OnSummary(fn func(Summary)) { s.onSummary = fn }

// Run blocks until ctx is done. It is meant to be launched as a goroutine
// from the composition root.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-time.After(s.policy.StartupDelay):
	case <-ctx.Done():
		return
	}
	s.runAndReport(ctx)

	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("retention scheduler stopped")
			return
		case <-ticker.C:
			s.runAndReport(ctx)
		}
	}
}

func (s *Scheduler) runAndReport(ctx context.Context) {
	sum := s.RunOnce(ctx)
	attrs := []any{
		"released_reservations", sum.ReleasedReservations,
		"deleted_sessions", sum.DeletedSessions,
		"deleted_idempotency_keys", sum.DeletedIdempotency,
		"deleted_search_logs", sum.DeletedSearchLogs,
		"archived_orders", sum.ArchivedOrders,
		"anonymized_orders", sum.AnonymizedOrders,
		"failures", len(sum.Failures),
		"dur_ms", sum.Duration.Milliseconds(),
	}
	if len(sum.Failures) > 0 {
		s.log.Warn("retention run finished with failures", attrs...)
	} else {
		s.log.Info("retention run finished", attrs...)
	}
	if s.onSummary != nil {
		s.onSummary(sum)
	}
}

// RunOnce executes all retention steps once and returns the summary.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	started := s.now()
	sum := Summary{StartedAt: started}

	if n, err := s.store.ReleaseExpiredReservations(ctx, started); err != nil {
		sum.fail("release_reservations", "", err)
	} else {
		sum.ReleasedReservations = n
	}

	if n, err := s.store.DeleteExpiredSessions(ctx, started); err != nil {
		sum.fail("delete_sessions", "", err)
	} else {
		sum.DeletedSessions = n
	}

	if s.sweeper != nil {
		if n, err := s.sweeper.Sweep(ctx); err != nil {
			sum.fail("sweep_idempotency", "", err)
		} else {
			sum.DeletedIdempotency = n
		}
	}

	if n, err := s.store.DeleteSearchLogsOlderThan(ctx, started.AddDate(0, 0, -s.policy.SearchLogDays)); err != nil {
		sum.fail("delete_search_logs", "", err)
	} else {
		sum.DeletedSearchLogs = n
	}

	s.archiveOrders(ctx, &sum)

	if ids, err := s.store.AnonymizeOrdersOlderThan(ctx, started.AddDate(0, 0, -s.policy.AnonymizeDays)); err != nil {
		sum.fail("anonymize_orders", "", err)
	} else {
		sum.AnonymizedOrders = int64(len(ids))
		for _, id := range ids {
			s.auditor.OrderAnonymized(ctx, id)
		}
	}

	sum.Duration = s.now().Sub(started)
	return sum
}

// archiveOrders snapshots each candidate order with its items, seals the
// blob, and archives it in a per-order transaction. Rerunning on an
// already-archived order is a no-op: candidates are selected by
// archive_status.
func (s *Scheduler) archiveOrders(ctx context.Context, sum *Summary) {
	cutoff := sum.StartedAt.AddDate(0, 0, -s.policy.HotStorageDays)
	candidates, err := s.store.ArchiveCandidates(ctx, cutoff, s.policy.ArchiveBatch)
	if err != nil {
		sum.fail("archive_candidates", "", err)
		return
	}

	for _, o := range candidates {
		if err := s.archiveOne(ctx, o); err != nil {
			sum.fail("archive_order", o.ID, err)
			continue
		}
		sum.ArchivedOrders++
		s.auditor.OrderArchived(ctx, o.ID)
	}
}

func (s *Scheduler) archiveOne(ctx context.Context, o domain.Order) error {
	items, err := s.store.OrderItems(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	blob, err := json.Marshal(struct {
		Order domain.Order       `json:"order"`
		Items []domain.OrderItem `json:"items"`
	}{Order: o, Items: items})
	if err != nil {
		return fmt.Errorf("encode archive blob: %w", err)
	}
	if s.sealer != nil {
		if blob, err = s.sealer.Seal(blob); err != nil {
			return fmt.Errorf("seal archive blob: %w", err)
		}
	}
	if err := s.store.ArchiveOrder(ctx, o.ID, blob); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func (sum *Summary) fail(step, orderID string, err error) {
	sum.Failures = append(sum.Failures, StepFailure{Step: step, OrderID: orderID, Error: err.Error()})
}
