package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/evgenyvinnik/checkout-api/internal/audit"
)

type MySQLAuditRepo struct{ db *sql.DB }

func NewMySQLAuditRepo(db *sql.DB) *MySQLAuditRepo { return &MySQLAuditRepo{db: db} }

var _ audit.Repo = (*MySQLAuditRepo)(nil)

func (r *MySQLAuditRepo) Insert(ctx context.Context, e *audit.Entry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_log
  (id, action, actor_type, actor_id, resource_type, resource_id,
   old_value, new_value, ip, correlation_id, severity, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Action, e.Actor.Type, e.Actor.ID, e.Resource.Type, e.Resource.ID,
		nullBytes(e.OldValue), nullBytes(e.NewValue),
		e.Context.IP, e.Context.CorrelationID, e.Severity, e.CreatedAt)
	return classify("insert audit entry", err)
}

func (r *MySQLAuditRepo) Select(ctx context.Context, f audit.Filters) ([]audit.Entry, int64, error) {
	where, args := auditWhere(f)

	var total int64
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...)
	if err := row.Scan(&total); err != nil {
		return nil, 0, classify("count audit entries", err)
	}

	q := auditSelect + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	entries, err := r.queryEntries(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *MySQLAuditRepo) SelectTrail(ctx context.Context, resourceType, resourceID string) ([]audit.Entry, error) {
	return r.queryEntries(ctx,
		auditSelect+` WHERE resource_type = ? AND resource_id = ? ORDER BY created_at ASC`,
		resourceType, resourceID)
}

const auditSelect = `
SELECT id, action, actor_type, actor_id, resource_type, resource_id,
       old_value, new_value, ip, correlation_id, severity, created_at
FROM audit_log`

func auditWhere(f audit.Filters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.ResourceType != "" {
		conds = append(conds, "resource_type = ?")
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		conds = append(conds, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *MySQLAuditRepo) queryEntries(ctx context.Context, q string, args ...any) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("query audit entries", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			oldV, newV []byte
			ip, corr   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor.Type, &e.Actor.ID,
			&e.Resource.Type, &e.Resource.ID, &oldV, &newV, &ip, &corr,
			&e.Severity, &e.CreatedAt); err != nil {
			return nil, classify("scan audit entry", err)
		}
		e.OldValue = oldV
		e.NewValue = newV
		e.Context.IP = ip.String
		e.Context.CorrelationID = corr.String
		entries = append(entries, e)
	}
	return entries, classify("iterate audit entries", rows.Err())
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
