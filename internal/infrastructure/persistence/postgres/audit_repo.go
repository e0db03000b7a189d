package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// AuditRepository implements port.AuditRepository over audit_log
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
	err := r.db.querier(ctx).QueryRow(ctx, `
		INSERT INTO audit_log (actor_id, action, entity, entity_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, entry.ActorID, string(entry.Action), string(entry.Entity), entry.EntityID, entry.Details, entry.Timestamp).Scan(&entry.ID)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("action", string(entry.Action)),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err))
		return workflow.Storage("append audit entry", err)
	}
	return nil
}

// ListByEntity returns the entity's entries oldest first
func (r *AuditRepository) ListByEntity(ctx context.Context, kind entity.AuditEntity, entityID int64) ([]*entity.AuditEntry, error) {
	rows, err := r.db.querier(ctx).Query(ctx, `
		SELECT id, actor_id, action, entity, entity_id, details, timestamp
		FROM audit_log
		WHERE entity = $1 AND entity_id = $2
		ORDER BY id
	`, string(kind), entityID)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Int64("entity_id", entityID), zap.Error(err))
		return nil, workflow.Storage("list audit entries", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var (
			e               entity.AuditEntry
			action, entKind string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &entKind, &e.EntityID, &e.Details, &e.Timestamp); err != nil {
			return nil, workflow.Storage("scan audit entry", err)
		}
		e.Action = entity.AuditAction(action)
		e.Entity = entity.AuditEntity(entKind)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage("list audit entries", err)
	}
	return entries, nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
