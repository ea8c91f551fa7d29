package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"fixflow/internal/auth"
)

// AuditRepository is the append-only auth_audit_log table. There is no
// update or delete path on purpose.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *auth.AuditEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO trust.auth_audit_log
		 (id, user_id, username, success, method, failure_reason, ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.Username, entry.Success, entry.Method,
		entry.FailureReason, entry.IP, entry.UserAgent, entry.CreatedAt,
	)
	return err
}

func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]auth.AuditEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, username, success, method, failure_reason, ip, user_agent, created_at
		 FROM trust.auth_audit_log
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.AuditEntry
	for rows.Next() {
		var e auth.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Success, &e.Method,
			&e.FailureReason, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
