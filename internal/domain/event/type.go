package event

import "github.com/garyjia/expense-approval/internal/domain/entity"

// Type identifies the type of domain event
type Type string

const (
	TypeClaimSubmitted    Type = "claim.submitted"
	TypeClaimAutoApproved Type = "claim.auto_approved"
	TypeClaimApproved     Type = "claim.approved"
	TypeClaimRejected     Type = "claim.rejected"
	TypeStepApproved      Type = "step.approved"
	TypeStepRejected      Type = "step.rejected"
	TypeStepSkipped       Type = "step.skipped"
)

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeClaimSubmitted,
		TypeClaimAutoApproved,
		TypeClaimApproved,
		TypeClaimRejected,
		TypeStepApproved,
		TypeStepRejected,
		TypeStepSkipped:
		return true
	default:
		return false
	}
}

// ForClaim picks the event type for a claim entering status to.
// fromNew distinguishes creation events from later transitions.
func ForClaim(fromNew bool, to entity.ClaimStatus) Type {
	switch to {
	case entity.ClaimPending:
		return TypeClaimSubmitted
	case entity.ClaimApproved:
		if fromNew {
			return TypeClaimAutoApproved
		}
		return TypeClaimApproved
	case entity.ClaimRejected:
		return TypeClaimRejected
	default:
		return ""
	}
}

// ForStep picks the event type for a step entering status to
func ForStep(to entity.StepStatus) Type {
	switch to {
	case entity.StepApproved:
		return TypeStepApproved
	case entity.StepRejected:
		return TypeStepRejected
	case entity.StepSkipped:
		return TypeStepSkipped
	default:
		return ""
	}
}
