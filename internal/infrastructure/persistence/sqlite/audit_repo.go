package sqlite

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// AuditRepository implements port.AuditRepository over audit_log.
// Triggers in the schema reject UPDATE and DELETE.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append inserts an entry and assigns its ID
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	result, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, entity, entity_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullInt64(entry.ActorID), entry.Action, entry.Entity, entry.EntityID, entry.Details, entry.Timestamp.UTC())
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("entity", string(entry.Entity)),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err))
		return workflow.Storage("append audit entry", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return workflow.Storage("read audit id", err)
	}
	entry.ID = id
	return nil
}

// ListByEntity returns the entity's entries oldest first
func (r *AuditRepository) ListByEntity(ctx context.Context, kind entity.AuditEntity, entityID int64) ([]*entity.AuditEntry, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, `
		SELECT id, actor_id, action, entity, entity_id, details, timestamp
		FROM audit_log
		WHERE entity = ? AND entity_id = ?
		ORDER BY id
	`, kind, entityID)
	if err != nil {
		r.logger.Error("Failed to list audit entries",
			zap.String("entity", string(kind)),
			zap.Int64("entity_id", entityID),
			zap.Error(err))
		return nil, workflow.Storage("list audit entries", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var (
			e     entity.AuditEntry
			actor sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.Entity, &e.EntityID, &e.Details, &e.Timestamp); err != nil {
			return nil, workflow.Storage("scan audit entry", err)
		}
		e.ActorID = int64Ptr(actor)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage("list audit entries", err)
	}
	return entries, nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
