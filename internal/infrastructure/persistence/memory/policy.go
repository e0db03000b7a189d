package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

func (s *Store) ListRules(ctx context.Context, companyID int64) ([]*entity.ApprovalRule, error) {
	var out []*entity.ApprovalRule
	err := s.read(ctx, func(st *state) error {
		for _, r := range st.rules {
			if r.CompanyID == companyID {
				cp := *r
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *Store) ListSequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error) {
	var out []*entity.ApprovalSequenceEntry
	err := s.read(ctx, func(st *state) error {
		for _, e := range st.sequences[companyID] {
			cp := *e
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func (s *Store) SaveCompany(ctx context.Context, company *entity.Company) error {
	if company.ID <= 0 {
		return fmt.Errorf("%w: company id must be positive", workflow.ErrInvalidInput)
	}
	return s.write(ctx, func(st *state) error {
		cp := *company
		st.companies[company.ID] = &cp
		return nil
	})
}

func (s *Store) SaveUser(ctx context.Context, user *entity.User) error {
	if user.ID <= 0 {
		return fmt.Errorf("%w: user id must be positive", workflow.ErrInvalidInput)
	}
	return s.write(ctx, func(st *state) error {
		cp := *user
		st.users[user.ID] = &cp
		return nil
	})
}

func (s *Store) CreateRule(ctx context.Context, rule *entity.ApprovalRule) error {
	return s.write(ctx, func(st *state) error {
		rule.ID = st.nextID()
		cp := *rule
		st.rules[rule.ID] = &cp
		return nil
	})
}

func (s *Store) ReplaceSequence(ctx context.Context, companyID int64, entries []*entity.ApprovalSequenceEntry) error {
	return s.write(ctx, func(st *state) error {
		seq := make([]*entity.ApprovalSequenceEntry, len(entries))
		for i, e := range entries {
			cp := *e
			cp.CompanyID = companyID
			if cp.ID == 0 {
				cp.ID = st.nextID()
			}
			e.ID = cp.ID
			seq[i] = &cp
		}
		sort.SliceStable(seq, func(i, j int) bool { return seq[i].SequenceOrder < seq[j].SequenceOrder })
		st.sequences[companyID] = seq
		return nil
	})
}

// GetManager returns the submitter's manager when both exist and the
// manager is active
func (s *Store) GetManager(ctx context.Context, userID int64) (*int64, error) {
	var out *int64
	err := s.read(ctx, func(st *state) error {
		u, ok := st.users[userID]
		if !ok || u.ManagerID == nil {
			return nil
		}
		m, ok := st.users[*u.ManagerID]
		if !ok || !m.IsActive {
			return nil
		}
		id := m.ID
		out = &id
		return nil
	})
	return out, err
}

var (
	_ port.PolicyStore      = (*Store)(nil)
	_ port.PolicyWriter     = (*Store)(nil)
	_ port.ManagerDirectory = (*Store)(nil)
)
