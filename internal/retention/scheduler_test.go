package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evgenyvinnik/checkout-api/internal/audit"
	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu sync.Mutex

	orders map[string]*domain.Order
	items  map[string][]domain.OrderItem
	blobs  map[string][]byte

	released     int64
	sessions     int64
	searchLogs   int64
	failArchive  map[string]error
	failReleases error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:      make(map[string]*domain.Order),
		items:       make(map[string][]domain.OrderItem),
		blobs:       make(map[string][]byte),
		failArchive: make(map[string]error),
	}
}

func (s *fakeStore) ReleaseExpiredReservations(context.Context, time.Time) (int64, error) {
	if s.failReleases != nil {
		return 0, s.failReleases
	}
	return s.released, nil
}

func (s *fakeStore) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return s.sessions, nil
}

func (s *fakeStore) DeleteSearchLogsOlderThan(context.Context, time.Time) (int64, error) {
	return s.searchLogs, nil
}

func (s *fakeStore) ArchiveCandidates(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if !o.Status.Terminal() || o.ArchiveStatus != domain.ArchiveActive {
			continue
		}
		if o.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, *o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) OrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[orderID], nil
}

func (s *fakeStore) ArchiveOrder(_ context.Context, orderID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failArchive[orderID]; err != nil {
		return err
	}
	o := s.orders[orderID]
	s.blobs[orderID] = blob
	o.ShippingAddress = domain.Address{}
	o.BillingAddress = domain.Address{}
	o.Notes = ""
	o.ArchiveStatus = domain.ArchiveArchived
	return nil
}

func (s *fakeStore) AnonymizeOrdersOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, o := range s.orders {
		if o.ArchiveStatus == domain.ArchiveArchived && o.CreatedAt.Before(cutoff) {
			o.ArchiveStatus = domain.ArchiveAnonymized
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeSweeper struct {
	n   int64
	err error
}

func (s *fakeSweeper) Sweep(context.Context) (int64, error) { return s.n, s.err }

type plainSealer struct{}

func (plainSealer) Seal(b []byte) ([]byte, error) { return append([]byte("sealed:"), b...), nil }

func seedOrder(s *fakeStore, id string, status domain.OrderStatus, ageDays int) {
	s.orders[id] = &domain.Order{
		ID:              id,
		UserID:          "u-1",
		Status:          status,
		ArchiveStatus:   domain.ArchiveActive,
		ShippingAddress: domain.Address{Street: "1 Main St", City: "Springfield"},
		Notes:           "leave at door",
		CreatedAt:       time.Now().AddDate(0, 0, -ageDays),
	}
	s.items[id] = []domain.OrderItem{{ID: id + "-i1", OrderID: id, ProductID: "p-1", Title: "Widget", PriceCents: 1000, Quantity: 2}}
}

func newTestScheduler(store *fakeStore, sweeper KeySweeper) *Scheduler {
	auditor := audit.NewLogger(nopAuditRepo{}, slog.Default())
	return NewScheduler(store, sweeper, plainSealer{}, auditor, Policy{
		HotStorageDays: 730,
		AnonymizeDays:  2555,
		SearchLogDays:  90,
	}, slog.Default())
}

type nopAuditRepo struct{}

func (nopAuditRepo) Insert(context.Context, *audit.Entry) error { return nil }
func (nopAuditRepo) Select(context.Context, audit.Filters) ([]audit.Entry, int64, error) {
	return nil, 0, nil
}
func (nopAuditRepo) SelectTrail(context.Context, string, string) ([]audit.Entry, error) {
	return nil, nil
}

func TestRunOnceArchivesOldTerminalOrders(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedOrder(store, "old-delivered", domain.OrderDelivered, 800)
	seedOrder(store, "fresh-delivered", domain.OrderDelivered, 100)
	seedOrder(store, "old-pending", domain.OrderPending, 800)

	sum := newTestScheduler(store, nil).RunOnce(context.Background())

	assert.Equal(t, int64(1), sum.ArchivedOrders)
	assert.Empty(t, sum.Failures)

	archived := store.orders["old-delivered"]
	assert.Equal(t, domain.ArchiveArchived, archived.ArchiveStatus)
	assert.True(t, archived.ShippingAddress.Empty(), "PII nulled")
	assert.Empty(t, archived.Notes)
	require.Contains(t, store.blobs, "old-delivered")
	assert.Contains(t, string(store.blobs["old-delivered"]), "sealed:", "blob passes through the sealer")

	assert.Equal(t, domain.ArchiveActive, store.orders["fresh-delivered"].ArchiveStatus, "newer order untouched")
	assert.Equal(t, domain.ArchiveActive, store.orders["old-pending"].ArchiveStatus, "non-terminal order untouched")
}

func TestRunOnceIsIdempotentPerOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedOrder(store, "old-delivered", domain.OrderDelivered, 800)

	sched := newTestScheduler(store, nil)
	first := sched.RunOnce(context.Background())
	second := sched.RunOnce(context.Background())

	assert.Equal(t, int64(1), first.ArchivedOrders)
	assert.Equal(t, int64(0), second.ArchivedOrders, "already-archived order is not a candidate")
}

func TestOneOrderFailureDoesNotBlockBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedOrder(store, "ok-1", domain.OrderCancelled, 800)
	seedOrder(store, "broken", domain.OrderDelivered, 800)
	seedOrder(store, "ok-2", domain.OrderRefunded, 800)
	store.failArchive["broken"] = errors.New("cold storage refused")

	sum := newTestScheduler(store, nil).RunOnce(context.Background())

	assert.Equal(t, int64(2), sum.ArchivedOrders)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "archive_order", sum.Failures[0].Step)
	assert.Equal(t, "broken", sum.Failures[0].OrderID)
}

func TestStepFailureDoesNotBlockLaterSteps(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failReleases = errors.New("lock timeout")
	seedOrder(store, "old-delivered", domain.OrderDelivered, 800)

	sum := newTestScheduler(store, &fakeSweeper{n: 4}).RunOnce(context.Background())

	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "release_reservations", sum.Failures[0].Step)
	assert.Equal(t, int64(4), sum.DeletedIdempotency, "later steps still ran")
	assert.Equal(t, int64(1), sum.ArchivedOrders)
}

func TestAnonymizePastLegalWindow(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedOrder(store, "ancient", domain.OrderDelivered, 2600)
	store.orders["ancient"].ArchiveStatus = domain.ArchiveArchived

	sum := newTestScheduler(store, nil).RunOnce(context.Background())

	assert.Equal(t, int64(1), sum.AnonymizedOrders)
	assert.Equal(t, domain.ArchiveAnonymized, store.orders["ancient"].ArchiveStatus)
}

func TestSummaryHookReceivesRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.released = 3
	sched := newTestScheduler(store, nil)

	var got Summary
	sched.OnSummary(func(s Summary) { got = s })
	sched.runAndReport(context.Background())

	assert.Equal(t, int64(3), got.ReleasedReservations)
}
