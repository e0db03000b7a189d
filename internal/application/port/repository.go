package port

import (
	"context"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ClaimRepository persists claims and the approval steps they own.
// Lookups of missing rows return an error wrapping workflow.ErrNotFound.
type ClaimRepository interface {
	// Create inserts the claim and assigns claim.ID
	Create(ctx context.Context, claim *entity.ExpenseClaim) error

	GetByID(ctx context.Context, id int64) (*entity.ExpenseClaim, error)

	// GetForUpdate reads the claim and holds its row lock until the
	// surrounding transaction ends
	GetForUpdate(ctx context.Context, id int64) (*entity.ExpenseClaim, error)

	// UpdateStatus writes status, rejection reason, decided_at and updated_at
	UpdateStatus(ctx context.Context, claim *entity.ExpenseClaim) error

	// CreateSteps inserts the batch and assigns each step's ID
	CreateSteps(ctx context.Context, steps []*entity.ApprovalStep) error

	// GetSteps returns the claim's steps ordered by sequence order
	GetSteps(ctx context.Context, claimID int64) ([]*entity.ApprovalStep, error)

	// UpdateStep writes status, comments and decided_at
	UpdateStep(ctx context.Context, step *entity.ApprovalStep) error

	// ListPendingByApprover returns PENDING steps assigned to approverID on
	// PENDING claims
	ListPendingByApprover(ctx context.Context, approverID int64) ([]*entity.ApprovalStep, error)
}

// PolicyStore is the read side of company approval policy
type PolicyStore interface {
	// ListRules returns every rule of the company, active or not
	ListRules(ctx context.Context, companyID int64) ([]*entity.ApprovalRule, error)

	// ListSequence returns the company's sequence ordered by sequence order
	ListSequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error)
}

// PolicyWriter seeds companies, users and policy. It is used at startup only.
type PolicyWriter interface {
	SaveCompany(ctx context.Context, company *entity.Company) error
	SaveUser(ctx context.Context, user *entity.User) error

	// CreateRule inserts the rule and assigns rule.ID
	CreateRule(ctx context.Context, rule *entity.ApprovalRule) error

	// ReplaceSequence swaps the company's whole approver sequence
	ReplaceSequence(ctx context.Context, companyID int64, entries []*entity.ApprovalSequenceEntry) error
}

// AuditRepository is the append-only audit log
type AuditRepository interface {
	// Append inserts the entry and assigns entry.ID
	Append(ctx context.Context, entry *entity.AuditEntry) error

	// ListByEntity returns entries for one entity, oldest first
	ListByEntity(ctx context.Context, kind entity.AuditEntity, entityID int64) ([]*entity.AuditEntry, error)
}

// TransactionManager handles database transactions.
// Nested calls join the transaction already carried by ctx.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
