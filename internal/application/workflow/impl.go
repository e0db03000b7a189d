package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/pkg/utils"
)

type engineImpl struct {
	claims     port.ClaimRepository
	policy     PolicyRepository
	resolver   ApproverResolver
	audit      AuditRecorder
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	metrics    Metrics
	logger     Logger
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher transition events are published to
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithMetrics sets the submission metrics sink
func WithMetrics(m Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides the time source for decidedAt and event timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	claims port.ClaimRepository,
	policy PolicyRepository,
	resolver ApproverResolver,
	audit AuditRecorder,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		claims:    claims,
		policy:    policy,
		resolver:  resolver,
		audit:     audit,
		txManager: txManager,
		logger:    nopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *engineImpl) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	var (
		result *SubmitResult
		events []*event.Event
	)
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rule, err := e.policy.FindRule(txCtx, req.CompanyID, req.Category, req.ConvertedAmount)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		claim := &entity.ExpenseClaim{
			SubmitterID:         req.SubmitterID,
			CompanyID:           req.CompanyID,
			Category:            req.Category,
			Title:               req.Title,
			Description:         req.Description,
			Amount:              req.Amount,
			Currency:            strings.ToUpper(strings.TrimSpace(req.Currency)),
			ConvertedAmount:     req.ConvertedAmount,
			HasReceipt:          req.HasReceipt,
			RuleID:              rule.ID,
			Mode:                rule.Mode,
			ApprovalLevels:      rule.ApprovalLevels,
			PercentageThreshold: rule.PercentageThreshold,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		var sequence []*entity.ApprovalSequenceEntry
		if !rule.AutoApproves(req.ConvertedAmount) {
			if sequence, err = e.policy.Sequence(txCtx, req.CompanyID); err != nil {
				return err
			}
		}
		approvers, err := e.resolver.Resolve(txCtx, rule, sequence, claim)
		if err != nil {
			return err
		}

		trigger := domainwf.TriggerSubmit
		if len(approvers) == 0 {
			trigger = domainwf.TriggerAutoApprove
		}
		if claim.Status, err = advanceClaim(txCtx, domainwf.StateNew, trigger); err != nil {
			return err
		}
		if claim.Status.IsTerminal() {
			claim.DecidedAt = &now
		}

		if err := e.claims.Create(txCtx, claim); err != nil {
			return err
		}

		steps := make([]*entity.ApprovalStep, len(approvers))
		for i, a := range approvers {
			steps[i] = &entity.ApprovalStep{
				ClaimID:       claim.ID,
				ApproverID:    a.ApproverID,
				SequenceOrder: a.SequenceOrder,
				Sequential:    a.Sequential,
				Status:        entity.StepPending,
				CreatedAt:     now,
			}
		}
		if len(steps) > 0 {
			if err := e.claims.CreateSteps(txCtx, steps); err != nil {
				return err
			}
		}

		details := fmt.Sprintf("rule=%d mode=%s steps=%d amount=%s %s converted=%s",
			rule.ID, rule.Mode, len(steps), claim.Amount.String(), claim.Currency, claim.ConvertedAmount.String())
		if claim.Status == entity.ClaimApproved {
			err = e.audit.Record(txCtx, nil, entity.ActionAutoApproved, entity.EntityExpenseClaim, claim.ID, details)
			events = append(events, event.NewClaimEvent(claim.ID, "", claim.Status, nil, now))
		} else {
			submitter := claim.SubmitterID
			err = e.audit.Record(txCtx, &submitter, entity.ActionSubmitted, entity.EntityExpenseClaim, claim.ID, details)
			events = append(events, event.NewClaimEvent(claim.ID, "", claim.Status, &submitter, now))
		}
		if err != nil {
			return err
		}

		result = &SubmitResult{
			ClaimID:         claim.ID,
			Status:          claim.Status,
			Steps:           cloneSteps(steps),
			ReceiptRequired: rule.RequiresReceipt && !req.HasReceipt,
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Claim submission failed",
			"company_id", req.CompanyID, "submitter_id", req.SubmitterID, "kind", domainwf.KindOf(err), "error", err)
		if e.metrics != nil {
			e.metrics.ClaimSubmitted(domainwf.KindOf(err))
		}
		return nil, err
	}

	e.logger.Info("Claim submitted",
		"claim_id", result.ClaimID, "status", result.Status, "steps", len(result.Steps))
	if e.metrics != nil {
		e.metrics.ClaimSubmitted(strings.ToLower(string(result.Status)))
	}
	e.publish(ctx, events)
	return result, nil
}

func (e *engineImpl) Decide(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	if req.ClaimID <= 0 || req.ApproverID <= 0 {
		return nil, fmt.Errorf("%w: claim and approver ids must be positive", domainwf.ErrInvalidInput)
	}
	trigger, ok := domainwf.TriggerFor(req.Decision)
	if !ok {
		return nil, fmt.Errorf("%w: unknown decision %q", domainwf.ErrInvalidInput, req.Decision)
	}
	req.Comments = utils.SanitizeString(req.Comments)

	var (
		result *DecisionResult
		events []*event.Event
	)
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claim, err := e.claims.GetForUpdate(txCtx, req.ClaimID)
		if err != nil {
			return err
		}
		steps, err := e.claims.GetSteps(txCtx, claim.ID)
		if err != nil {
			return err
		}
		step := stepFor(steps, req.ApproverID)
		if step == nil {
			return fmt.Errorf("%w: no approval step for approver %d on claim %d", domainwf.ErrNotFound, req.ApproverID, claim.ID)
		}
		if claim.Status.IsTerminal() {
			return fmt.Errorf("%w: claim %d is already %s", domainwf.ErrInvalidState, claim.ID, claim.Status)
		}
		if step.Status != entity.StepPending {
			return fmt.Errorf("%w: step %d is already %s", domainwf.ErrInvalidState, step.ID, step.Status)
		}
		if blocker := blockedBy(step, steps); blocker != nil {
			return fmt.Errorf("%w: step %d waits for step %d (order %d)",
				domainwf.ErrOutOfOrder, step.ID, blocker.ID, blocker.SequenceOrder)
		}

		now := e.now().UTC()
		approver := req.ApproverID
		var changed []*entity.ApprovalStep

		if step.Status, err = advanceStep(txCtx, step.Status, trigger); err != nil {
			return err
		}
		step.Comments = req.Comments
		step.DecidedAt = &now
		if err := e.claims.UpdateStep(txCtx, step); err != nil {
			return err
		}
		action := entity.ActionApproved
		if trigger == domainwf.TriggerReject {
			action = entity.ActionRejected
		}
		if err := e.audit.Record(txCtx, &approver, action, entity.EntityApprovalStep, step.ID, req.Comments); err != nil {
			return err
		}
		changed = append(changed, step)
		events = append(events, event.NewStepEvent(step, entity.StepPending, &approver, now))

		from := claim.Status
		rejected := trigger == domainwf.TriggerReject
		if rejected {
			claim.RejectionReason = req.Comments
		}

		if rejected || approvalComplete(claim, steps) {
			if claim.Status, err = advanceClaim(txCtx, domainwf.ClaimState(from), trigger); err != nil {
				return err
			}
			claim.DecidedAt = &now

			skipped, skipEvents, err := e.skipRemaining(txCtx, steps, now)
			if err != nil {
				return err
			}
			changed = append(changed, skipped...)
			events = append(events, skipEvents...)

			claimAction := entity.ActionClaimApproved
			if claim.Status == entity.ClaimRejected {
				claimAction = entity.ActionClaimRejected
			}
			details := fmt.Sprintf("decided_by_step=%d skipped=%d", step.ID, len(skipped))
			if err := e.audit.Record(txCtx, &approver, claimAction, entity.EntityExpenseClaim, claim.ID, details); err != nil {
				return err
			}
			events = append(events, event.NewClaimEvent(claim.ID, from, claim.Status, &approver, now))
		}

		claim.UpdatedAt = now
		if err := e.claims.UpdateStatus(txCtx, claim); err != nil {
			return err
		}

		result = &DecisionResult{Status: claim.Status, ChangedSteps: cloneSteps(changed)}
		return nil
	})
	if err != nil {
		e.logger.Info("Decision refused",
			"claim_id", req.ClaimID, "approver_id", req.ApproverID, "decision", req.Decision,
			"kind", domainwf.KindOf(err), "error", err)
		return nil, err
	}

	e.logger.Info("Decision applied",
		"claim_id", req.ClaimID, "approver_id", req.ApproverID, "decision", req.Decision,
		"status", result.Status, "changed_steps", len(result.ChangedSteps))
	e.publish(ctx, events)
	return result, nil
}

// skipRemaining moves every PENDING step to SKIPPED and audits each one
func (e *engineImpl) skipRemaining(ctx context.Context, steps []*entity.ApprovalStep, now time.Time) ([]*entity.ApprovalStep, []*event.Event, error) {
	var (
		skipped []*entity.ApprovalStep
		events  []*event.Event
	)
	for _, s := range steps {
		if s.Status != entity.StepPending {
			continue
		}
		status, err := advanceStep(ctx, s.Status, domainwf.TriggerSkip)
		if err != nil {
			return nil, nil, err
		}
		s.Status = status
		s.DecidedAt = &now
		if err := e.claims.UpdateStep(ctx, s); err != nil {
			return nil, nil, err
		}
		if err := e.audit.Record(ctx, nil, entity.ActionStepSkipped, entity.EntityApprovalStep, s.ID, "claim reached a final status"); err != nil {
			return nil, nil, err
		}
		skipped = append(skipped, s)
		events = append(events, event.NewStepEvent(s, entity.StepPending, nil, now))
	}
	return skipped, events, nil
}

func (e *engineImpl) GetClaim(ctx context.Context, claimID int64) (*ClaimView, error) {
	claim, err := e.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	steps, err := e.claims.GetSteps(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return &ClaimView{Claim: claim, Steps: steps}, nil
}

func (e *engineImpl) PendingForApprover(ctx context.Context, approverID int64) ([]*entity.ApprovalStep, error) {
	pending, err := e.claims.ListPendingByApprover(ctx, approverID)
	if err != nil {
		return nil, err
	}

	siblings := make(map[int64][]*entity.ApprovalStep)
	out := make([]*entity.ApprovalStep, 0, len(pending))
	for _, step := range pending {
		if step.Sequential {
			all, ok := siblings[step.ClaimID]
			if !ok {
				if all, err = e.claims.GetSteps(ctx, step.ClaimID); err != nil {
					return nil, err
				}
				siblings[step.ClaimID] = all
			}
			if blockedBy(step, all) != nil {
				continue
			}
		}
		out = append(out, step)
	}
	return out, nil
}

func (e *engineImpl) AuditTrail(ctx context.Context, claimID int64) ([]*entity.AuditEntry, error) {
	trail, err := e.audit.History(ctx, entity.EntityExpenseClaim, claimID)
	if err != nil {
		return nil, err
	}
	steps, err := e.claims.GetSteps(ctx, claimID)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		entries, err := e.audit.History(ctx, entity.EntityApprovalStep, s.ID)
		if err != nil {
			return nil, err
		}
		trail = append(trail, entries...)
	}
	sort.SliceStable(trail, func(i, j int) bool { return trail[i].ID < trail[j].ID })
	return trail, nil
}

// publish hands committed transitions to the dispatcher
func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range event.Correlate(events) {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

func validateSubmit(req SubmitRequest) error {
	switch {
	case req.CompanyID <= 0 || req.SubmitterID <= 0:
		return fmt.Errorf("%w: company and submitter ids must be positive", domainwf.ErrInvalidInput)
	case strings.TrimSpace(req.Category) == "":
		return fmt.Errorf("%w: category is required", domainwf.ErrInvalidInput)
	case strings.TrimSpace(req.Currency) == "":
		return fmt.Errorf("%w: currency is required", domainwf.ErrInvalidInput)
	case utils.ValidateCurrency(req.Currency) != nil:
		return fmt.Errorf("%w: %q is not a currency code", domainwf.ErrInvalidInput, req.Currency)
	case req.Amount.IsNegative() || req.ConvertedAmount.IsNegative():
		return fmt.Errorf("%w: amounts must not be negative", domainwf.ErrInvalidInput)
	}
	return nil
}

func stepFor(steps []*entity.ApprovalStep, approverID int64) *entity.ApprovalStep {
	for _, s := range steps {
		if s.ApproverID == approverID {
			return s
		}
	}
	return nil
}

func cloneSteps(steps []*entity.ApprovalStep) []*entity.ApprovalStep {
	out := make([]*entity.ApprovalStep, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

var _ Engine = (*engineImpl)(nil)
