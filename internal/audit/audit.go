// Package audit implements the append-only audit log:
// written by the state machine harness on every transition and by explicit
// admin actions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the repository needs, matching the
// pkg/database.DB embedding pattern.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Repository persists audit log rows in Postgres.
type Repository struct {
	db DB
}

// NewRepository creates an audit Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// Record appends one audit row. Never mutated, never deleted.
func (r *Repository) Record(ctx context.Context, entry *domain.AuditLog) error {
	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal audit changes: %w", err)
	}
	metaJSON, err := json.Marshal(entry.RequestMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal audit request metadata: %w", err)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, actor_role,
		                        changes, request_metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.ActorID, entry.ActorRole,
		string(changesJSON), string(metaJSON), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Query retrieves audit rows matching the given filter ("by
// entity, by actor, by action, by date range").
func (r *Repository) Query(ctx context.Context, q domain.AuditQuery) ([]domain.AuditLog, error) {
	query := `
		SELECT id, entity_type, entity_id, action, actor_id, actor_role,
		       changes, request_metadata, timestamp
		FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2::uuid IS NULL OR entity_id = $2)
		  AND ($3::uuid IS NULL OR actor_id = $3)
		  AND ($4 = '' OR action = $4)
		  AND ($5::timestamptz IS NULL OR timestamp >= $5)
		  AND ($6::timestamptz IS NULL OR timestamp <= $6)
		  AND ($7 = '' OR actor_role = $7)
		ORDER BY timestamp DESC
		LIMIT $8
	`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query,
		q.EntityType, q.EntityID, q.ActorID, q.Action, q.From, q.To, q.ActorRole, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		var changesJSON, metaJSON string
		if err := rows.Scan(&entry.ID, &entry.EntityType, &entry.EntityID, &entry.Action,
			&entry.ActorID, &entry.ActorRole, &changesJSON, &metaJSON, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		_ = json.Unmarshal([]byte(changesJSON), &entry.Changes)
		_ = json.Unmarshal([]byte(metaJSON), &entry.RequestMeta)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecentAdminActions returns the most recent admin-actor rows, feeding the
// admin dashboard's activity feed.
func (r *Repository) RecentAdminActions(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return r.Query(ctx, domain.AuditQuery{ActorRole: "ADMIN", Limit: limit})
}
