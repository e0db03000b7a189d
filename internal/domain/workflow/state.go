package workflow

import "github.com/garyjia/expense-approval/internal/domain/entity"

// State is a node in a claim or step lifecycle
type State string

const (
	StateNew      State = "NEW"
	StatePending  State = "PENDING"
	StateApproved State = "APPROVED"
	StateRejected State = "REJECTED"
	StateSkipped  State = "SKIPPED"
)

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StateNew, StatePending, StateApproved, StateRejected, StateSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	switch s {
	case StateApproved, StateRejected, StateSkipped:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}

// ClaimState maps a persisted claim status onto the lifecycle
func ClaimState(s entity.ClaimStatus) State {
	return State(s)
}

// StepState maps a persisted step status onto the lifecycle
func StepState(s entity.StepStatus) State {
	return State(s)
}
