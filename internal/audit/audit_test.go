package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (r *memRepo) Insert(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("storage down")
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memRepo) Select(_ context.Context, f Filters) ([]Entry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) SelectTrail(_ context.Context, resourceType, resourceID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Resource.Type == resourceType && e.Resource.ID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecordReturnsID(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := NewLogger(repo, slog.Default())

	id := l.Record(context.Background(), Entry{
		Action:   ActionOrderCreated,
		Actor:    Actor{Type: ActorUser, ID: "u-1"},
		Resource: Resource{Type: "order", ID: "o-1"},
	})

	require.NotEmpty(t, id)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, SeverityInfo, repo.entries[0].Severity)
	assert.False(t, repo.entries[0].CreatedAt.IsZero())
}

func TestRecordNeverFails(t *testing.T) {
	t.Parallel()

	repo := &memRepo{fail: true}
	l := NewLogger(repo, slog.Default())

	id := l.Record(context.Background(), Entry{
		Action:   ActionPaymentFailed,
		Resource: Resource{Type: "order", ID: "o-1"},
	})

	assert.Empty(t, id, "storage failure yields empty id, not an error")
}

func TestTrailIsScopedToResource(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := NewLogger(repo, slog.Default())

	order := &domain.Order{ID: "o-1", Status: domain.OrderPending}
	l.OrderCreated(context.Background(), Actor{Type: ActorUser, ID: "u-1"}, order, RequestContext{IP: "10.0.0.1"})
	l.PaymentCompleted(context.Background(), "o-1", 2759)
	l.PaymentCompleted(context.Background(), "o-2", 100)

	trail, err := l.Trail(context.Background(), "order", "o-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ActionOrderCreated, trail[0].Action)
	assert.Equal(t, ActionPaymentCompleted, trail[1].Action)
}

func TestQueryAppliesDefaultLimit(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := NewLogger(repo, slog.Default())
	l.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	page, err := l.Query(context.Background(), Filters{Action: ActionOrderCreated})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
}
