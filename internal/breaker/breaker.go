// Package breaker implements a per-dependency circuit breaker with a
// bucketed rolling failure window. Breakers are owned by an explicit
// Registry built at startup and passed to the components that need them;
// there is no package-level state.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned to callers without a fallback while the circuit is
// open or a half-open trial slot is taken.
var ErrOpen = errors.New("circuit breaker is open")

// Observer receives state transitions. Implementations must be fast and
// non-blocking; they run on the caller's goroutine.
type Observer interface {
	OnStateChange(name string, from, to State)
}

type Settings struct {
	Name              string
	Timeout           time.Duration
	ErrorThresholdPct float64
	ResetTimeout      time.Duration
	VolumeThreshold   int
	Window            time.Duration
	Buckets           int
}

func (s Settings) withDefaults() Settings {
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.ErrorThresholdPct <= 0 {
		s.ErrorThresholdPct = 50
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.VolumeThreshold <= 0 {
		s.VolumeThreshold = 5
	}
	if s.Window <= 0 {
		s.Window = 10 * time.Second
	}
	if s.Buckets <= 0 {
		s.Buckets = 10
	}
	return s
}

// PaymentSettings is the conservative profile for the payment dependency:
// it trips after only 3 requests at a 30% failure rate and stays open for
// a full minute before probing.
func PaymentSettings() Settings {
	return Settings{
		Name:              "payment",
		Timeout:           30 * time.Second,
		ErrorThresholdPct: 30,
		ResetTimeout:      60 * time.Second,
		VolumeThreshold:   3,
		Window:            60 * time.Second,
		Buckets:           6,
	}
}

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

type Breaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	buckets    []bucket
	openedAt   time.Time
	trialInFly bool
	observers  []Observer
	now        func() time.Time
}

func New(settings Settings, observers ...Observer) *Breaker {
	s := settings.withDefaults()
	return &Breaker{
		settings:  s,
		state:     Closed,
		buckets:   make([]bucket, s.Buckets),
		observers: observers,
		now:       time.Now,
	}
}

func (b *Breaker) Name() string { return b.settings.Name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do executes fn through the breaker br. While open, fn is not called and
// fallback (if non-nil) produces the result instead; its error never
// affects breaker state. A call exceeding the configured timeout counts
// as a failure.
func Do[T any](ctx context.Context, br *Breaker, fn func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error)) (T, error) {

	var zero T
	if !br.allow() {
		if fallback != nil {
			return fallback(ctx, ErrOpen)
		}
		return zero, ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, br.settings.Timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil {
		br.record(false)
		return zero, err
	}
	br.record(true)
	return v, nil
}

// allow reports whether a call may proceed, moving the breaker to
// half-open when the reset timeout has elapsed. In half-open only one
// trial call is admitted at a time.
func (b *Breaker) allow() bool {
	b.mu.Lock()

	switch b.state {
	case Closed:
		b.mu.Unlock()
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.settings.ResetTimeout {
			b.mu.Unlock()
			return false
		}
		b.transition(HalfOpen)
		b.trialInFly = true
		b.mu.Unlock()
		return true
	case HalfOpen:
		if b.trialInFly {
			b.mu.Unlock()
			return false
		}
		b.trialInFly = true
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()
	return false
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()

	switch b.state {
	case HalfOpen:
		b.trialInFly = false
		if success {
			b.resetWindow()
			b.transition(Closed)
		} else {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case Closed:
		bk := b.currentBucket()
		if success {
			bk.successes++
		} else {
			bk.failures++
		}
		if !success && b.shouldTrip() {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case Open:
		// A straggler finishing after the trip; nothing to update.
	}
	b.mu.Unlock()
}

// currentBucket rotates the ring so that each bucket covers
// Window/Buckets of wall time. Stale buckets are zeroed lazily.
func (b *Breaker) currentBucket() *bucket {
	span := b.settings.Window / time.Duration(b.settings.Buckets)
	now := b.now()
	slot := int(now.UnixNano()/int64(span)) % b.settings.Buckets
	bk := &b.buckets[slot]
	start := now.Truncate(span)
	if !bk.start.Equal(start) {
		*bk = bucket{start: start}
	}
	return bk
}

func (b *Breaker) shouldTrip() bool {
	now := b.now()
	var successes, failures int
	for i := range b.buckets {
		bk := &b.buckets[i]
		if bk.start.IsZero() || now.Sub(bk.start) > b.settings.Window {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	total := successes + failures
	if total < b.settings.VolumeThreshold {
		return false
	}
	pct := float64(failures) / float64(total) * 100
	return pct >= b.settings.ErrorThresholdPct
}

func (b *Breaker) resetWindow() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}

// transition is called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	for _, o := range b.observers {
		o.OnStateChange(b.settings.Name, from, to)
	}
}
