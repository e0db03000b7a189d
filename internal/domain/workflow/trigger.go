package workflow

import "github.com/garyjia/expense-approval/internal/domain/entity"

// Trigger is an event that can move a lifecycle to another state
type Trigger string

const (
	TriggerSubmit      Trigger = "SUBMIT"
	TriggerAutoApprove Trigger = "AUTO_APPROVE"
	TriggerApprove     Trigger = "APPROVE"
	TriggerReject      Trigger = "REJECT"
	TriggerSkip        Trigger = "SKIP"
)

func (t Trigger) String() string {
	return string(t)
}

// TriggerFor maps an approver decision to the trigger it fires
func TriggerFor(d entity.Decision) (Trigger, bool) {
	switch d {
	case entity.DecisionApprove:
		return TriggerApprove, true
	case entity.DecisionReject:
		return TriggerReject, true
	default:
		return "", false
	}
}
