package workflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/resolver"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Engine drives expense claims from submission to a terminal status
type Engine interface {
	// Submit creates a claim and its approval steps in one transaction
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	// Decide applies one approver's decision in one transaction. Callers that
	// may race on the same claim go through the decision gateway.
	Decide(ctx context.Context, req DecisionRequest) (*DecisionResult, error)

	// GetClaim returns the claim with its steps
	GetClaim(ctx context.Context, claimID int64) (*ClaimView, error)

	// PendingForApprover lists the steps approverID can decide right now
	PendingForApprover(ctx context.Context, approverID int64) ([]*entity.ApprovalStep, error)

	// AuditTrail returns claim and step audit entries in write order
	AuditTrail(ctx context.Context, claimID int64) ([]*entity.AuditEntry, error)
}

// SubmitRequest carries the structured claim fields. ConvertedAmount is in
// the company base currency and is used for rule matching and auto-approval.
type SubmitRequest struct {
	CompanyID       int64
	SubmitterID     int64
	Category        string
	Title           string
	Description     string
	Amount          decimal.Decimal
	Currency        string
	ConvertedAmount decimal.Decimal
	HasReceipt      bool
}

// SubmitResult is the outcome of a submission
type SubmitResult struct {
	ClaimID int64
	Status  entity.ClaimStatus
	Steps   []*entity.ApprovalStep

	// ReceiptRequired is set when the matched rule wants a receipt the
	// claim does not have. Enforcement is up to the caller.
	ReceiptRequired bool
}

// DecisionRequest is one approver's verdict on one claim
type DecisionRequest struct {
	ClaimID    int64
	ApproverID int64
	Decision   entity.Decision
	Comments   string
}

// DecisionResult is the claim status after a decision and every step whose
// status changed during it
type DecisionResult struct {
	Status       entity.ClaimStatus
	ChangedSteps []*entity.ApprovalStep
}

// ClaimView is a claim with its steps in sequence order
type ClaimView struct {
	Claim *entity.ExpenseClaim
	Steps []*entity.ApprovalStep
}

// PolicyRepository looks up company policy
type PolicyRepository interface {
	FindRule(ctx context.Context, companyID int64, category string, amount decimal.Decimal) (*entity.ApprovalRule, error)
	Sequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error)
}

// ApproverResolver computes the approvers for a claim
type ApproverResolver interface {
	Resolve(ctx context.Context, rule *entity.ApprovalRule, sequence []*entity.ApprovalSequenceEntry, claim *entity.ExpenseClaim) ([]resolver.ResolvedApprover, error)
}

// AuditRecorder appends audit entries in the caller's transaction
type AuditRecorder interface {
	Record(ctx context.Context, actorID *int64, action entity.AuditAction, kind entity.AuditEntity, entityID int64, details string) error
	History(ctx context.Context, kind entity.AuditEntity, entityID int64) ([]*entity.AuditEntry, error)
}

// Metrics receives submission outcomes
type Metrics interface {
	ClaimSubmitted(outcome string)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
