package orchestrator

import (
	"context"
	"database/sql"
	"log/slog"
)

// Journal is an append-only audit trail of lifecycle operations. It is
// never read back for decisions, so losing a write cannot affect
// correctness; a failed insert is logged and the operation proceeds.
//
// A nil *Journal (or nil db) is a no-op, which keeps the orchestrator free
// of persistence when no database is configured.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// NewJournal wraps db. db may be nil.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{
		db:  db,
		log: slog.Default().With("component", "journal"),
	}
}

// Record appends one operation outcome.
func (j *Journal) Record(ctx context.Context, operation, tenantID, appUUID, status, detail string) {
	if j == nil || j.db == nil {
		return
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO fleet_operations (operation, tenant_id, app_uuid, status, detail, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NOW())`,
		operation, tenantID, appUUID, status, detail,
	)
	if err != nil {
		j.log.Warn("journal write failed", "operation", operation, "tenant", tenantID, "err", err)
	}
}
