// Package idempotency deduplicates inbound mutating requests. The fast
// store (redis) owns the lock for the request lifetime; the durable store
// (mysql) is a best-effort mirror swept past its TTL by the retention job.
//
// Known gap, kept deliberately: a crash between the fast-store write and
// the durable mirror write loses the durability copy. Flipping to
// durable-first is a product decision, not a bug fix.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 24 * time.Hour

type Manager struct {
	fast    Store
	durable DurableStore
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewManager(fast Store, durable DurableStore, ttl time.Duration, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{fast: fast, durable: durable, ttl: ttl, log: log, now: time.Now}
}

// BeginResult tells the caller whether it owns the key's side effect.
type BeginResult struct {
	// Duplicate is true when another request already used this key.
	Duplicate bool
	// Processing is true when that other request is still in flight;
	// the caller should answer retry-later, not block.
	Processing bool
	// CachedResponse holds the first request's response when it
	// completed; the replay path returns it without re-executing.
	CachedResponse []byte
	// Owner proves ownership of the key. Complete and Fail only apply
	// while the store still carries this token.
	Owner string
}

// Begin claims key. Exactly one concurrent caller per key observes
// Duplicate=false and proceeds to execute the side effect.
func (m *Manager) Begin(ctx context.Context, key string) (BeginResult, error) {
	rec := Record{Key: key, Status: StatusProcessing, Owner: uuid.NewString(), CreatedAt: m.now()}

	created, err := m.fast.Create(ctx, rec, m.ttl)
	if err != nil {
		return BeginResult{}, fmt.Errorf("idempotency begin: %w", err)
	}
	if created {
		m.mirror(ctx, rec)
		return BeginResult{Owner: rec.Owner}, nil
	}

	existing, ok, err := m.fast.Get(ctx, key)
	if err != nil {
		return BeginResult{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !ok {
		// The record expired between Create and Get; claim it again.
		created, err = m.fast.Create(ctx, rec, m.ttl)
		if err != nil {
			return BeginResult{}, fmt.Errorf("idempotency re-begin: %w", err)
		}
		if created {
			m.mirror(ctx, rec)
			return BeginResult{Owner: rec.Owner}, nil
		}
		return BeginResult{Duplicate: true, Processing: true}, nil
	}

	switch existing.Status {
	case StatusCompleted:
		return BeginResult{Duplicate: true, CachedResponse: existing.Response}, nil
	case StatusFailed:
		// Failed operations are safe to retry under the same key, but
		// only one concurrent retry may reclaim it. The compare-and-swap
		// at the store decides; the plain Get above is just the fast
		// path that tells us a reclaim is worth attempting.
		rec.CreatedAt = m.now()
		claimed, err := m.fast.Reclaim(ctx, rec)
		if err != nil {
			return BeginResult{}, fmt.Errorf("idempotency reclaim: %w", err)
		}
		if !claimed {
			return BeginResult{Duplicate: true, Processing: true}, nil
		}
		m.mirror(ctx, rec)
		return BeginResult{Owner: rec.Owner}, nil
	default:
		return BeginResult{Duplicate: true, Processing: true}, nil
	}
}

// Complete stores the response for replays. Owner must be the token
// returned by the Begin that won the key; a stale owner cannot clobber
// a newer attempt's record.
func (m *Manager) Complete(ctx context.Context, key, owner string, response []byte) error {
	rec := Record{
		Key:         key,
		Status:      StatusCompleted,
		Owner:       owner,
		Response:    response,
		CompletedAt: m.now(),
	}
	applied, err := m.fast.UpdateOwned(ctx, rec)
	if err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	if !applied {
		return fmt.Errorf("idempotency complete: key %q no longer owned", key)
	}
	m.mirror(ctx, rec)
	return nil
}

// Fail releases the key for a future retry while keeping the record as a
// tombstone of the attempt. Like Complete it is owner-guarded, so a slow
// failing attempt cannot overwrite a record reclaimed by a newer one.
func (m *Manager) Fail(ctx context.Context, key, owner string) error {
	rec := Record{Key: key, Status: StatusFailed, Owner: owner, CompletedAt: m.now()}
	applied, err := m.fast.UpdateOwned(ctx, rec)
	if err != nil {
		return fmt.Errorf("idempotency fail: %w", err)
	}
	if !applied {
		return fmt.Errorf("idempotency fail: key %q no longer owned", key)
	}
	m.mirror(ctx, rec)
	return nil
}

// SynthesizeKey builds a fallback key when the client omitted the header.
// It scopes retries of the same in-process call but offers no double-click
// protection; callers must flag the response as degraded.
func (m *Manager) SynthesizeKey(userID string) string {
	return fmt.Sprintf("synth:%s:%d:%s", userID, m.now().UnixNano(), uuid.NewString())
}

// Sweep deletes durable mirror entries past TTL. The fast store expires
// its own entries.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	if m.durable == nil {
		return 0, nil
	}
	n, err := m.durable.DeleteOlderThan(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, fmt.Errorf("idempotency sweep: %w", err)
	}
	return n, nil
}

// mirror writes the durable copy best-effort. The fast store already holds
// the authoritative lock, so a mirror failure is logged and swallowed.
func (m *Manager) mirror(ctx context.Context, rec Record) {
	if m.durable == nil {
		return
	}
	if err := m.durable.Upsert(ctx, rec); err != nil && m.log != nil {
		m.log.Warn("idempotency durable mirror write failed",
			"key", rec.Key, "status", string(rec.Status), "error", err)
	}
}
