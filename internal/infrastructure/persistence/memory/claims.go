package memory

import (
	"context"
	"sort"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

func (s *Store) Create(ctx context.Context, claim *entity.ExpenseClaim) error {
	return s.write(ctx, func(st *state) error {
		claim.ID = st.nextID()
		st.claims[claim.ID] = claim.Clone()
		return nil
	})
}

func (s *Store) GetByID(ctx context.Context, id int64) (*entity.ExpenseClaim, error) {
	var out *entity.ExpenseClaim
	err := s.read(ctx, func(st *state) error {
		c, ok := st.claims[id]
		if !ok {
			return notFound("claim", id)
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate needs no row lock here: transactions never overlap
func (s *Store) GetForUpdate(ctx context.Context, id int64) (*entity.ExpenseClaim, error) {
	return s.GetByID(ctx, id)
}

func (s *Store) UpdateStatus(ctx context.Context, claim *entity.ExpenseClaim) error {
	return s.write(ctx, func(st *state) error {
		cur, ok := st.claims[claim.ID]
		if !ok {
			return notFound("claim", claim.ID)
		}
		next := cur.Clone()
		next.Status = claim.Status
		next.RejectionReason = claim.RejectionReason
		next.DecidedAt = claim.Clone().DecidedAt
		next.UpdatedAt = claim.UpdatedAt
		st.claims[claim.ID] = next
		return nil
	})
}

func (s *Store) CreateSteps(ctx context.Context, steps []*entity.ApprovalStep) error {
	return s.write(ctx, func(st *state) error {
		for _, step := range steps {
			if _, ok := st.claims[step.ClaimID]; !ok {
				return notFound("claim", step.ClaimID)
			}
			step.ID = st.nextID()
			st.steps[step.ID] = step.Clone()
		}
		return nil
	})
}

func (s *Store) GetSteps(ctx context.Context, claimID int64) ([]*entity.ApprovalStep, error) {
	var out []*entity.ApprovalStep
	err := s.read(ctx, func(st *state) error {
		for _, step := range st.steps {
			if step.ClaimID == claimID {
				out = append(out, step.Clone())
			}
		}
		return nil
	})
	sortSteps(out)
	return out, err
}

func (s *Store) UpdateStep(ctx context.Context, step *entity.ApprovalStep) error {
	return s.write(ctx, func(st *state) error {
		cur, ok := st.steps[step.ID]
		if !ok {
			return notFound("approval step", step.ID)
		}
		next := cur.Clone()
		next.Status = step.Status
		next.Comments = step.Comments
		next.DecidedAt = step.Clone().DecidedAt
		st.steps[step.ID] = next
		return nil
	})
}

func (s *Store) ListPendingByApprover(ctx context.Context, approverID int64) ([]*entity.ApprovalStep, error) {
	var out []*entity.ApprovalStep
	err := s.read(ctx, func(st *state) error {
		for _, step := range st.steps {
			if step.ApproverID != approverID || step.Status != entity.StepPending {
				continue
			}
			if c, ok := st.claims[step.ClaimID]; ok && c.Status == entity.ClaimPending {
				out = append(out, step.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClaimID != out[j].ClaimID {
			return out[i].ClaimID < out[j].ClaimID
		}
		return out[i].SequenceOrder < out[j].SequenceOrder
	})
	return out, err
}

func sortSteps(steps []*entity.ApprovalStep) {
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].SequenceOrder != steps[j].SequenceOrder {
			return steps[i].SequenceOrder < steps[j].SequenceOrder
		}
		return steps[i].ID < steps[j].ID
	})
}

var _ port.ClaimRepository = (*Store)(nil)
