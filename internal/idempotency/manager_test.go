package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore behaves like the redis adapter: atomic create-if-absent under
// a single mutex.
type memStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newMemStore() *memStore { return &memStore{recs: make(map[string]Record)} }

func (s *memStore) Create(_ context.Context, rec Record, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Key]; ok {
		return false, nil
	}
	s.recs[rec.Key] = rec
	return true, nil
}

func (s *memStore) Get(_ context.Context, key string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, false, nil
	}
	cp := rec
	return &cp, true, nil
}

func (s *memStore) Reclaim(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[rec.Key]
	if !ok || cur.Status != StatusFailed {
		return false, nil
	}
	s.recs[rec.Key] = rec
	return true, nil
}

func (s *memStore) UpdateOwned(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[rec.Key]
	if !ok || cur.Owner != rec.Owner {
		return false, nil
	}
	s.recs[rec.Key] = rec
	return true, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}

type flakyDurable struct {
	mu      sync.Mutex
	fail    bool
	upserts int
	deleted int64
}

func (d *flakyDurable) Upsert(context.Context, Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upserts++
	if d.fail {
		return errors.New("mysql down")
	}
	return nil
}

func (d *flakyDurable) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleted, nil
}

func newTestManager(durable DurableStore) (*Manager, *memStore) {
	store := newMemStore()
	m := NewManager(store, durable, time.Hour, slog.Default())
	return m, store
}

func TestBeginFirstCallerWins(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(nil)

	res, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	rec, ok, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, rec.Status)
}

func TestBeginWhileProcessingReturnsConflict(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(nil)

	_, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)

	res, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Processing)
	assert.Nil(t, res.CachedResponse)
}

func TestBeginAfterCompleteReplaysResponse(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(nil)

	first, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	require.NoError(t, m.Complete(context.Background(), "abc", first.Owner, []byte(`{"orderId":"o-1"}`)))

	res, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Processing)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(res.CachedResponse))
}

func TestBeginAfterFailAllowsFreshAttempt(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(nil)

	first, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	require.NoError(t, m.Fail(context.Background(), "abc", first.Owner))

	res, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "failed keys are retryable")
	assert.NotEqual(t, first.Owner, res.Owner, "reclaim issues a fresh owner token")

	rec, _, _ := store.Get(context.Background(), "abc")
	assert.Equal(t, StatusProcessing, rec.Status)
}

func TestConcurrentBeginSingleWinner(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(nil)

	const n = 32
	var wg sync.WaitGroup
	winners := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Begin(context.Background(), "same-key")
			require.NoError(t, err)
			if !res.Duplicate {
				winners <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one caller may own the side effect")
}

// rendezvousStore holds every Get until all expected readers have seen
// the record, forcing concurrent reclaim attempts to race at the
// compare-and-swap rather than serialize at the lookup.
type rendezvousStore struct {
	*memStore
	gets *sync.WaitGroup
}

func (s *rendezvousStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	rec, ok, err := s.memStore.Get(ctx, key)
	s.gets.Done()
	s.gets.Wait()
	return rec, ok, err
}

func TestConcurrentReclaimOfFailedKeySingleWinner(t *testing.T) {
	t.Parallel()

	const n = 2
	var gets sync.WaitGroup
	gets.Add(n)
	store := &rendezvousStore{memStore: newMemStore(), gets: &gets}
	store.recs["k"] = Record{Key: "k", Status: StatusFailed, Owner: "stale"}
	m := NewManager(store, nil, time.Hour, slog.Default())

	var wg sync.WaitGroup
	owners := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Begin(context.Background(), "k")
			require.NoError(t, err)
			if !res.Duplicate {
				owners <- res.Owner
			} else {
				assert.True(t, res.Processing, "the losing retry must see the key as in flight")
			}
		}()
	}
	wg.Wait()
	close(owners)

	count := 0
	for range owners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one retry may reclaim a failed key")
}

func TestStaleFailCannotClobberReclaimedKey(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(nil)

	first, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	require.NoError(t, m.Fail(context.Background(), "abc", first.Owner))

	second, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, second.Duplicate)
	require.NoError(t, m.Complete(context.Background(), "abc", second.Owner, []byte(`{"orderId":"o-2"}`)))

	// The first attempt's late fail-mark no longer owns the key and must
	// leave the winner's completed record untouched.
	err = m.Fail(context.Background(), "abc", first.Owner)
	require.Error(t, err)

	rec, ok, _ := store.Get(context.Background(), "abc")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)

	replay, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.JSONEq(t, `{"orderId":"o-2"}`, string(replay.CachedResponse))
}

func TestDurableMirrorFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	durable := &flakyDurable{fail: true}
	m, _ := newTestManager(durable)

	res, err := m.Begin(context.Background(), "abc")
	require.NoError(t, err, "fast store owns the lock; mirror failure must not surface")
	assert.False(t, res.Duplicate)

	require.NoError(t, m.Complete(context.Background(), "abc", res.Owner, []byte("{}")))
	assert.Equal(t, 2, durable.upserts)
}

func TestSynthesizedKeysAreUnique(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(nil)

	k1 := m.SynthesizeKey("u-1")
	k2 := m.SynthesizeKey("u-1")
	assert.NotEqual(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "synth:u-1:"))
}

func TestSweepDelegatesToDurableStore(t *testing.T) {
	t.Parallel()

	durable := &flakyDurable{deleted: 7}
	m, _ := newTestManager(durable)

	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
