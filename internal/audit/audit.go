// Package audit appends immutable lifecycle events to durable storage.
// Recording is best-effort observability: a storage failure is logged and
// swallowed so audit can never abort the operation it documents.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionOrderCreated       Action = "order.created"
	ActionOrderCancelled     Action = "order.cancelled"
	ActionOrderStatusChanged Action = "order.status_changed"
	ActionOrderRefunded      Action = "order.refunded"
	ActionOrderArchived      Action = "order.archived"
	ActionOrderAnonymized    Action = "order.anonymized"
	ActionPaymentCompleted   Action = "payment.completed"
	ActionPaymentFailed      Action = "payment.failed"
	ActionPaymentQueued      Action = "payment.queued"
	ActionInventoryReserved  Action = "inventory.reserved"
	ActionInventoryReleased  Action = "inventory.released"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAdmin  ActorType = "ADMIN"
	ActorSystem ActorType = "SYSTEM"
)

type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// SystemActor is the actor for background jobs and event consumers.
var SystemActor = Actor{Type: ActorSystem}

type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RequestContext carries the origin of the change for dispute resolution.
type RequestContext struct {
	IP            string `json:"ip,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Entry is append-only; normal flow never updates or deletes one.
type Entry struct {
	ID        string
	Action    Action
	Actor     Actor
	Resource  Resource
	OldValue  json.RawMessage
	NewValue  json.RawMessage
	Context   RequestContext
	Severity  Severity
	CreatedAt time.Time
}

type Filters struct {
	Action       Action
	ActorID      string
	ResourceType string
	ResourceID   string
	Severity     Severity
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

type Page struct {
	Entries []Entry
	Total   int64
	Limit   int
	Offset  int
}

type Repo interface {
	Insert(ctx context.Context, e *Entry) error
	Select(ctx context.Context, f Filters) ([]Entry, int64, error)
	SelectTrail(ctx context.Context, resourceType, resourceID string) ([]Entry, error)
}

type Logger struct {
	repo Repo
	log  *slog.Logger
	now  func() time.Time
}

func NewLogger(repo Repo, log *slog.Logger) *Logger {
	return &Logger{repo: repo, log: log, now: time.Now}
}

// Record appends e and returns its id, or "" when the append failed.
// It never returns an error.
func (l *Logger) Record(ctx context.Context, e Entry) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	if err := l.repo.Insert(ctx, &e); err != nil {
		if l.log != nil {
			l.log.Error("audit append failed",
				"action", string(e.Action),
				"resource_type", e.Resource.Type,
				"resource_id", e.Resource.ID,
				"error", err)
		}
		return ""
	}
	return e.ID
}

func (l *Logger) Query(ctx context.Context, f Filters) (Page, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	entries, total, err := l.repo.Select(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Trail returns every entry for one resource in chronological order.
func (l *Logger) Trail(ctx context.Context, resourceType, resourceID string) ([]Entry, error) {
	return l.repo.SelectTrail(ctx, resourceType, resourceID)
}
