package workflow

import (
	"context"
	"sync"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

var (
	claimOnce    sync.Once
	claimBuilder domainwf.StateMachineBuilder
	stepOnce     sync.Once
	stepBuilder  domainwf.StateMachineBuilder
)

// BuildClaimStateMachine creates a claim lifecycle machine.
// NEW is the pre-insert state; a claim leaves it on submission.
func BuildClaimStateMachine(initial domainwf.State) domainwf.StateMachine {
	claimOnce.Do(func() {
		b := domainwf.NewBuilder()

		b.Configure(domainwf.StateNew).
			Permit(domainwf.TriggerSubmit, domainwf.StatePending).
			Permit(domainwf.TriggerAutoApprove, domainwf.StateApproved)

		b.Configure(domainwf.StatePending).
			Permit(domainwf.TriggerApprove, domainwf.StateApproved).
			Permit(domainwf.TriggerReject, domainwf.StateRejected)

		claimBuilder = b
	})
	return claimBuilder.Build(initial)
}

// BuildStepStateMachine creates an approval step lifecycle machine
func BuildStepStateMachine(initial domainwf.State) domainwf.StateMachine {
	stepOnce.Do(func() {
		b := domainwf.NewBuilder()

		b.Configure(domainwf.StatePending).
			Permit(domainwf.TriggerApprove, domainwf.StateApproved).
			Permit(domainwf.TriggerReject, domainwf.StateRejected).
			Permit(domainwf.TriggerSkip, domainwf.StateSkipped)

		stepBuilder = b
	})
	return stepBuilder.Build(initial)
}

func advanceClaim(ctx context.Context, from domainwf.State, trigger domainwf.Trigger) (entity.ClaimStatus, error) {
	m := BuildClaimStateMachine(from)
	if err := m.Fire(ctx, trigger); err != nil {
		return "", err
	}
	return entity.ClaimStatus(m.State()), nil
}

func advanceStep(ctx context.Context, from entity.StepStatus, trigger domainwf.Trigger) (entity.StepStatus, error) {
	m := BuildStepStateMachine(domainwf.StepState(from))
	if err := m.Fire(ctx, trigger); err != nil {
		return "", err
	}
	return entity.StepStatus(m.State()), nil
}
