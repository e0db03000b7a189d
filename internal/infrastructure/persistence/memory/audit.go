package memory

import (
	"context"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

func (s *Store) Append(ctx context.Context, entry *entity.AuditEntry) error {
	return s.write(ctx, func(st *state) error {
		entry.ID = st.nextID()
		cp := *entry
		st.audit = append(st.audit, &cp)
		return nil
	})
}

func (s *Store) ListByEntity(ctx context.Context, kind entity.AuditEntity, entityID int64) ([]*entity.AuditEntry, error) {
	var out []*entity.AuditEntry
	err := s.read(ctx, func(st *state) error {
		for _, e := range st.audit {
			if e.Entity == kind && e.EntityID == entityID {
				cp := *e
				out = append(out, &cp)
			}
		}
		return nil
	})
	return out, err
}

var _ port.AuditRepository = (*Store)(nil)
