package workflow

import (
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

var hundred = decimal.NewFromInt(100)

// tally counts step outcomes for one claim
type tally struct {
	total              int
	approved           int
	sequential         int
	sequentialApproved int
}

func count(steps []*entity.ApprovalStep) tally {
	var t tally
	for _, s := range steps {
		t.total++
		if s.Sequential {
			t.sequential++
		}
		if s.Status == entity.StepApproved {
			t.approved++
			if s.Sequential {
				t.sequentialApproved++
			}
		}
	}
	return t
}

// percentageMet reports approved/total*100 >= threshold without dividing
func (t tally) percentageMet(threshold decimal.Decimal) bool {
	if t.total == 0 {
		return false
	}
	lhs := decimal.NewFromInt(int64(t.approved)).Mul(hundred)
	rhs := threshold.Mul(decimal.NewFromInt(int64(t.total)))
	return lhs.GreaterThanOrEqual(rhs)
}

// approvalComplete evaluates the claim's snapshotted mode against its steps
func approvalComplete(claim *entity.ExpenseClaim, steps []*entity.ApprovalStep) bool {
	t := count(steps)
	switch claim.Mode {
	case entity.ModeSequential:
		return t.total > 0 && t.approved == t.total
	case entity.ModePercentage:
		return t.percentageMet(claim.PercentageThreshold)
	case entity.ModeHybrid:
		prefixDone := t.sequential > 0 && t.sequentialApproved == t.sequential
		return prefixDone || t.percentageMet(claim.PercentageThreshold)
	default:
		return false
	}
}

// blockedBy returns the first lower-ordered sequential step of the same claim
// that is not yet APPROVED, or nil when step may be decided now
func blockedBy(step *entity.ApprovalStep, steps []*entity.ApprovalStep) *entity.ApprovalStep {
	if !step.Sequential {
		return nil
	}
	for _, s := range steps {
		if s.ID == step.ID || !s.Sequential {
			continue
		}
		if s.SequenceOrder < step.SequenceOrder && s.Status != entity.StepApproved {
			return s
		}
	}
	return nil
}
