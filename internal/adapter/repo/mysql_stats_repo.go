package repo

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/evgenyvinnik/checkout-api/internal/entity"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

type MySQLStatsRepo struct{ db *sql.DB }

func NewMySQLStatsRepo(db *sql.DB) *MySQLStatsRepo { return &MySQLStatsRepo{db: db} }

var _ usecase.StatsRepo = (*MySQLStatsRepo)(nil)

func (r *MySQLStatsRepo) RetentionStats(ctx context.Context) (*usecase.RetentionStats, error) {
	var st usecase.RetentionStats

	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&st.ActiveOrders, `SELECT COUNT(*) FROM orders WHERE archive_status = ?`, []any{domain.ArchiveActive}},
		{&st.ArchivedOrders, `SELECT COUNT(*) FROM orders WHERE archive_status = ?`, []any{domain.ArchiveArchived}},
		{&st.AnonymizedOrders, `SELECT COUNT(*) FROM orders WHERE archive_status = ?`, []any{domain.ArchiveAnonymized}},
		{&st.ExpiredCartItems, `SELECT COUNT(*) FROM cart_items WHERE reserved_until < ?`, []any{time.Now().UTC()}},
		{&st.AuditLogEntries, `SELECT COUNT(*) FROM audit_log`, nil},
	}
	for _, c := range counts {
		row := r.db.QueryRowContext(ctx, c.query, c.args...)
		if err := row.Scan(c.dst); err != nil {
			return nil, classify("retention stats", err)
		}
	}
	return &st, nil
}
