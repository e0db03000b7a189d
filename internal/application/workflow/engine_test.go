package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/audit"
	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/policy"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/resolver"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
)

const (
	companyID   int64 = 1
	submitterID int64 = 100
)

// recordingDispatcher captures events synchronously
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(event.Type, dispatcher.Handler) {}
func (d *recordingDispatcher) SubscribeNamed(event.Type, string, dispatcher.Handler) {}
func (d *recordingDispatcher) Unsubscribe(event.Type, string) {}
func (d *recordingDispatcher) Dispatch(context.Context, *event.Event) error { return nil }
func (d *recordingDispatcher) ListHandlers(event.Type) []dispatcher.HandlerInfo { return nil }
func (d *recordingDispatcher) Close() error { return nil }
func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

type policySetup struct {
	mode        entity.RuleMode
	levels      int
	threshold   int64
	autoApprove *int64
	receipt     bool
	approvers   []int64
}

type fixture struct {
	store  *memory.Store
	engine Engine
	events *recordingDispatcher
}

func newFixture(t *testing.T, p policySetup) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveCompany(ctx, &entity.Company{ID: companyID, Name: "Acme", BaseCurrency: "USD"}))
	require.NoError(t, store.SaveUser(ctx, &entity.User{ID: submitterID, CompanyID: companyID, IsActive: true}))

	rule := &entity.ApprovalRule{
		CompanyID:           companyID,
		Name:                "all claims",
		Mode:                p.mode,
		ApprovalLevels:      p.levels,
		PercentageThreshold: decimal.NewFromInt(p.threshold),
		RequiresReceipt:     p.receipt,
		IsActive:            true,
	}
	if p.autoApprove != nil {
		d := decimal.NewFromInt(*p.autoApprove)
		rule.AutoApproveThreshold = &d
	}
	require.NoError(t, store.CreateRule(ctx, rule))

	entries := make([]*entity.ApprovalSequenceEntry, len(p.approvers))
	for i, id := range p.approvers {
		uid := id
		require.NoError(t, store.SaveUser(ctx, &entity.User{ID: uid, CompanyID: companyID, IsActive: true}))
		entries[i] = &entity.ApprovalSequenceEntry{UserID: &uid, SequenceOrder: i + 1, IsRequired: true}
	}
	require.NoError(t, store.ReplaceSequence(ctx, companyID, entries))

	events := &recordingDispatcher{}
	engine := NewEngine(
		store,
		policy.NewRepository(store, nopLogger{}),
		resolver.New(store),
		audit.NewRecorder(store),
		store,
		WithDispatcher(events),
	)
	return &fixture{store: store, engine: engine, events: events}
}

func (f *fixture) submit(t *testing.T, amount int64) *SubmitResult {
	t.Helper()
	res, err := f.engine.Submit(context.Background(), SubmitRequest{
		CompanyID:       companyID,
		SubmitterID:     submitterID,
		Category:        "travel",
		Title:           "Client visit",
		Amount:          decimal.NewFromInt(amount),
		Currency:        "usd",
		ConvertedAmount: decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) decide(claimID, approverID int64, d entity.Decision, comments string) (*DecisionResult, error) {
	return f.engine.Decide(context.Background(), DecisionRequest{
		ClaimID: claimID, ApproverID: approverID, Decision: d, Comments: comments,
	})
}

func (f *fixture) view(t *testing.T, claimID int64) *ClaimView {
	t.Helper()
	v, err := f.engine.GetClaim(context.Background(), claimID)
	require.NoError(t, err)
	return v
}

func (f *fixture) trail(t *testing.T, claimID int64) []entity.AuditAction {
	t.Helper()
	entries, err := f.engine.AuditTrail(context.Background(), claimID)
	require.NoError(t, err)
	out := make([]entity.AuditAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func stepStatuses(steps []*entity.ApprovalStep) []entity.StepStatus {
	out := make([]entity.StepStatus, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

// assertSettled checks that a terminal claim has no PENDING step left
func assertSettled(t *testing.T, v *ClaimView) {
	t.Helper()
	require.True(t, v.Claim.Status.IsTerminal())
	terminal := 0
	for _, s := range v.Steps {
		if s.Status.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, len(v.Steps), terminal)
}

func ptr(v int64) *int64 { return &v }

func TestSubmit_AutoApproveAtThreshold(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 2, threshold: 100, autoApprove: ptr(100), approvers: []int64{11, 12}})

	res := f.submit(t, 100)

	assert.Equal(t, entity.ClaimApproved, res.Status)
	assert.Empty(t, res.Steps)

	v := f.view(t, res.ClaimID)
	assert.Empty(t, v.Steps)
	assert.NotNil(t, v.Claim.DecidedAt)
	assert.Equal(t, "USD", v.Claim.Currency)

	entries, err := f.engine.AuditTrail(context.Background(), res.ClaimID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.ActionAutoApproved, entries[0].Action)
	assert.Nil(t, entries[0].ActorID)

	assert.Equal(t, []event.Type{event.TypeClaimAutoApproved}, f.events.types())
}

func TestSubmit_AboveAutoApproveThreshold(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100, autoApprove: ptr(100), approvers: []int64{11}})

	res := f.submit(t, 101)

	assert.Equal(t, entity.ClaimPending, res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, int64(11), res.Steps[0].ApproverID)
}

func TestSubmit_CreatesPendingSteps(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 2, threshold: 100, receipt: true, approvers: []int64{11, 12, 13}})

	res := f.submit(t, 500)

	assert.Equal(t, entity.ClaimPending, res.Status)
	assert.True(t, res.ReceiptRequired)
	require.Len(t, res.Steps, 2)
	for i, s := range res.Steps {
		assert.Equal(t, entity.StepPending, s.Status)
		assert.Equal(t, i+1, s.SequenceOrder)
		assert.True(t, s.Sequential)
		assert.NotZero(t, s.ID)
	}

	entries, err := f.engine.AuditTrail(context.Background(), res.ClaimID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.ActionSubmitted, entries[0].Action)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, submitterID, *entries[0].ActorID)

	v := f.view(t, res.ClaimID)
	assert.Equal(t, entity.ModeSequential, v.Claim.Mode)
	assert.Equal(t, 2, v.Claim.ApprovalLevels)
}

func TestSubmit_Errors(t *testing.T) {
	ctx := context.Background()
	valid := SubmitRequest{
		CompanyID: companyID, SubmitterID: submitterID, Category: "travel",
		Amount: decimal.NewFromInt(10), Currency: "USD", ConvertedAmount: decimal.NewFromInt(10),
	}

	t.Run("no approvers configured", func(t *testing.T) {
		f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100})

		_, err := f.engine.Submit(ctx, valid)

		assert.ErrorIs(t, err, domainwf.ErrConfiguration)
		assert.Empty(t, f.events.types())
	})

	t.Run("only approver is the submitter", func(t *testing.T) {
		f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100, approvers: []int64{submitterID}})

		_, err := f.engine.Submit(ctx, valid)

		assert.ErrorIs(t, err, domainwf.ErrConfiguration)
	})

	t.Run("percentage threshold above 100", func(t *testing.T) {
		f := newFixture(t, policySetup{mode: entity.ModePercentage, levels: 1, threshold: 150, approvers: []int64{11, 12}})

		_, err := f.engine.Submit(ctx, valid)

		assert.ErrorIs(t, err, domainwf.ErrConfiguration)
		assert.Empty(t, f.events.types())
		pending, err := f.engine.PendingForApprover(ctx, 11)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	bad := map[string]func(r *SubmitRequest){
		"negative amount":  func(r *SubmitRequest) { r.ConvertedAmount = decimal.NewFromInt(-1) },
		"missing category": func(r *SubmitRequest) { r.Category = " " },
		"missing company":  func(r *SubmitRequest) { r.CompanyID = 0 },
		"missing currency": func(r *SubmitRequest) { r.Currency = "" },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100, approvers: []int64{11}})
			req := valid
			mutate(&req)

			_, err := f.engine.Submit(ctx, req)

			assert.ErrorIs(t, err, domainwf.ErrInvalidInput)
		})
	}
}

func TestDecide_SequentialTwoLevels(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 2, threshold: 100, approvers: []int64{11, 12}})
	claim := f.submit(t, 500).ClaimID

	_, err := f.decide(claim, 12, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrOutOfOrder)
	assert.Equal(t, []entity.AuditAction{entity.ActionSubmitted}, f.trail(t, claim), "refused decision writes nothing")

	res, err := f.decide(claim, 11, entity.DecisionApprove, "fine")
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimPending, res.Status)
	require.Len(t, res.ChangedSteps, 1)
	assert.Equal(t, entity.StepApproved, res.ChangedSteps[0].Status)
	assert.NotNil(t, res.ChangedSteps[0].DecidedAt)

	res, err = f.decide(claim, 12, entity.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimApproved, res.Status)

	v := f.view(t, claim)
	assertSettled(t, v)
	assert.Equal(t, []entity.StepStatus{entity.StepApproved, entity.StepApproved}, stepStatuses(v.Steps))
	assert.Equal(t, []entity.AuditAction{
		entity.ActionSubmitted, entity.ActionApproved, entity.ActionApproved, entity.ActionClaimApproved,
	}, f.trail(t, claim))
}

func TestDecide_RejectionVetoes(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 2, threshold: 100, approvers: []int64{11, 12}})
	claim := f.submit(t, 500).ClaimID
	f.events.reset()

	res, err := f.decide(claim, 11, entity.DecisionReject, "missing itinerary")

	require.NoError(t, err)
	assert.Equal(t, entity.ClaimRejected, res.Status)
	require.Len(t, res.ChangedSteps, 2)
	assert.Equal(t, []entity.StepStatus{entity.StepRejected, entity.StepSkipped}, stepStatuses(res.ChangedSteps))

	v := f.view(t, claim)
	assertSettled(t, v)
	assert.Equal(t, "missing itinerary", v.Claim.RejectionReason)
	assert.Equal(t, []entity.AuditAction{
		entity.ActionSubmitted, entity.ActionRejected, entity.ActionStepSkipped, entity.ActionClaimRejected,
	}, f.trail(t, claim))

	assert.Equal(t, []event.Type{event.TypeStepRejected, event.TypeStepSkipped, event.TypeClaimRejected}, f.events.types())
	corr := f.events.events[0].CorrelationID
	for _, e := range f.events.events {
		assert.Equal(t, corr, e.CorrelationID)
	}
}

func TestDecide_PercentageSixtyOfThree(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModePercentage, levels: 1, threshold: 60, approvers: []int64{11, 12, 13}})
	claim := f.submit(t, 500).ClaimID

	res, err := f.decide(claim, 13, entity.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimPending, res.Status, "1 of 3 is below the threshold")

	res, err = f.decide(claim, 11, entity.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimApproved, res.Status)
	require.Len(t, res.ChangedSteps, 2)
	assert.Equal(t, int64(12), res.ChangedSteps[1].ApproverID)
	assert.Equal(t, entity.StepSkipped, res.ChangedSteps[1].Status)

	assertSettled(t, f.view(t, claim))

	_, err = f.decide(claim, 12, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)
}

func TestDecide_HybridEitherPath(t *testing.T) {
	setup := policySetup{mode: entity.ModeHybrid, levels: 2, threshold: 50, approvers: []int64{11, 12, 13, 14}}

	t.Run("sequential prefix completes first", func(t *testing.T) {
		f := newFixture(t, setup)
		claim := f.submit(t, 500).ClaimID

		res, err := f.decide(claim, 11, entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, entity.ClaimPending, res.Status)

		res, err = f.decide(claim, 12, entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, entity.ClaimApproved, res.Status)

		v := f.view(t, claim)
		assertSettled(t, v)
		assert.Equal(t, []entity.StepStatus{
			entity.StepApproved, entity.StepApproved, entity.StepSkipped, entity.StepSkipped,
		}, stepStatuses(v.Steps))
	})

	t.Run("percentage pool completes first", func(t *testing.T) {
		f := newFixture(t, setup)
		claim := f.submit(t, 500).ClaimID

		res, err := f.decide(claim, 14, entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, entity.ClaimPending, res.Status)

		res, err = f.decide(claim, 13, entity.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, entity.ClaimApproved, res.Status)

		v := f.view(t, claim)
		assertSettled(t, v)
		assert.Equal(t, []entity.StepStatus{
			entity.StepSkipped, entity.StepSkipped, entity.StepApproved, entity.StepApproved,
		}, stepStatuses(v.Steps))
	})

	t.Run("prefix still ordered", func(t *testing.T) {
		f := newFixture(t, setup)
		claim := f.submit(t, 500).ClaimID

		_, err := f.decide(claim, 12, entity.DecisionApprove, "")
		assert.ErrorIs(t, err, domainwf.ErrOutOfOrder)
	})
}

func TestDecide_RepeatDecisionRefused(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModePercentage, levels: 1, threshold: 100, approvers: []int64{11, 12}})
	claim := f.submit(t, 500).ClaimID

	_, err := f.decide(claim, 11, entity.DecisionApprove, "")
	require.NoError(t, err)
	before := f.trail(t, claim)
	stepsBefore := f.view(t, claim).Steps

	_, err = f.decide(claim, 11, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)

	_, err = f.decide(claim, 11, entity.DecisionReject, "changed my mind")
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)

	assert.Equal(t, before, f.trail(t, claim))
	assert.Equal(t, stepsBefore, f.view(t, claim).Steps)
}

func TestDecide_LookupErrors(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100, approvers: []int64{11, 12}})
	claim := f.submit(t, 500).ClaimID

	_, err := f.decide(claim+1000, 11, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = f.decide(claim, 12, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound, "approver 12 is beyond the level cap")

	_, err = f.decide(claim, 11, entity.Decision("ESCALATE"), "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidInput)

	_, err = f.decide(claim, 11, entity.DecisionApprove, "")
	require.NoError(t, err)

	_, err = f.decide(claim, 11, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidState, "claim is already approved")

	_, err = f.decide(claim, 99, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound, "unknown approver on a closed claim")
	assert.NotErrorIs(t, err, domainwf.ErrInvalidState)
}

func TestDecide_ManagerFirst(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 2, threshold: 100, approvers: []int64{12}})
	ctx := context.Background()
	mgr := int64(50)
	require.NoError(t, f.store.SaveUser(ctx, &entity.User{ID: mgr, CompanyID: companyID, IsActive: true}))
	require.NoError(t, f.store.SaveUser(ctx, &entity.User{ID: submitterID, CompanyID: companyID, ManagerID: &mgr, IsActive: true}))
	twelve := int64(12)
	require.NoError(t, f.store.ReplaceSequence(ctx, companyID, []*entity.ApprovalSequenceEntry{
		{SequenceOrder: 1, IsManagerApprover: true, IsRequired: true},
		{SequenceOrder: 2, UserID: &twelve, IsRequired: true},
	}))

	res := f.submit(t, 500)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, mgr, res.Steps[0].ApproverID)
	assert.Equal(t, int64(12), res.Steps[1].ApproverID)
}

func TestPendingForApprover(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 2, threshold: 100, approvers: []int64{11, 12}})
	claim := f.submit(t, 500).ClaimID
	ctx := context.Background()

	waiting, err := f.engine.PendingForApprover(ctx, 12)
	require.NoError(t, err)
	assert.Empty(t, waiting, "step 2 is blocked by step 1")

	first, err := f.engine.PendingForApprover(ctx, 11)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, claim, first[0].ClaimID)

	_, err = f.decide(claim, 11, entity.DecisionApprove, "")
	require.NoError(t, err)

	waiting, err = f.engine.PendingForApprover(ctx, 12)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)
}

type failingAudit struct {
	port.AuditRepository
	failOn entity.AuditAction
}

func (f *failingAudit) Append(ctx context.Context, e *entity.AuditEntry) error {
	if e.Action == f.failOn {
		return domainwf.Storage("insert audit entry", errors.New("disk full"))
	}
	return f.AuditRepository.Append(ctx, e)
}

func TestDecide_AuditFailureRollsBack(t *testing.T) {
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100, approvers: []int64{11}})
	claim := f.submit(t, 500).ClaimID

	broken := NewEngine(
		f.store,
		policy.NewRepository(f.store, nopLogger{}),
		resolver.New(f.store),
		audit.NewRecorder(&failingAudit{AuditRepository: f.store, failOn: entity.ActionClaimApproved}),
		f.store,
	)

	_, err := broken.Decide(context.Background(), DecisionRequest{ClaimID: claim, ApproverID: 11, Decision: entity.DecisionApprove})

	assert.ErrorIs(t, err, domainwf.ErrStorage)
	assert.True(t, domainwf.IsRetryable(err))
	v := f.view(t, claim)
	assert.Equal(t, entity.ClaimPending, v.Claim.Status)
	assert.Equal(t, []entity.StepStatus{entity.StepPending}, stepStatuses(v.Steps))
	assert.Equal(t, []entity.AuditAction{entity.ActionSubmitted}, f.trail(t, claim))

	res, err := f.decide(claim, 11, entity.DecisionApprove, "")
	require.NoError(t, err, "retry after the failure succeeds")
	assert.Equal(t, entity.ClaimApproved, res.Status)
}

func TestEngine_UsesClock(t *testing.T) {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, policySetup{mode: entity.ModeSequential, levels: 1, threshold: 100, approvers: []int64{11}})
	f.engine = NewEngine(
		f.store,
		policy.NewRepository(f.store, nopLogger{}),
		resolver.New(f.store),
		audit.NewRecorder(f.store),
		f.store,
		WithClock(func() time.Time { return at }),
	)
	claim := f.submit(t, 10).ClaimID

	res, err := f.decide(claim, 11, entity.DecisionApprove, "")

	require.NoError(t, err)
	assert.Equal(t, at, *res.ChangedSteps[0].DecidedAt)
	assert.Equal(t, at, *f.view(t, claim).Claim.DecidedAt)
}
