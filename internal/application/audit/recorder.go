package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Recorder appends audit entries inside the caller's transaction
type Recorder struct {
	repo port.AuditRepository
	now  func() time.Time
}

// Option configures a Recorder
type Option func(*Recorder)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder over repo
func NewRecorder(repo port.AuditRepository, opts ...Option) *Recorder {
	r := &Recorder{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append writes entry, stamping Timestamp when unset. Storage failures are
// returned to the caller so the enclosing transaction rolls back.
func (r *Recorder) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID <= 0 {
		return fmt.Errorf("%w: audit entry needs action, entity and entity id", workflow.ErrInvalidInput)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	return r.repo.Append(ctx, entry)
}

// Record is Append for the common case
func (r *Recorder) Record(ctx context.Context, actorID *int64, action entity.AuditAction, kind entity.AuditEntity, entityID int64, details string) error {
	return r.Append(ctx, &entity.AuditEntry{
		ActorID:  actorID,
		Action:   action,
		Entity:   kind,
		EntityID: entityID,
		Details:  details,
	})
}

// History returns the entries for one entity, oldest first
func (r *Recorder) History(ctx context.Context, kind entity.AuditEntity, entityID int64) ([]*entity.AuditEntry, error) {
	return r.repo.ListByEntity(ctx, kind, entityID)
}
