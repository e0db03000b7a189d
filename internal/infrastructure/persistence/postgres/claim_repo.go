package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

const selectClaim = `
	SELECT id, submitter_id, company_id, category, title, description,
	       amount::text, currency, converted_amount::text, has_receipt,
	       rule_id, mode, approval_levels, percentage_threshold::text,
	       status, rejection_reason, created_at, updated_at, decided_at
	FROM expense_claims
	WHERE id = $1
`

const selectSteps = `
	SELECT s.id, s.claim_id, s.approver_id, s.sequence_order, s.sequential,
	       s.status, s.comments, s.decided_at, s.created_at
	FROM approval_steps s
`

// ClaimRepository implements port.ClaimRepository
type ClaimRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *DB, logger *zap.Logger) *ClaimRepository {
	return &ClaimRepository{db: db, logger: logger}
}

// Create inserts a claim and assigns its ID
func (r *ClaimRepository) Create(ctx context.Context, claim *entity.ExpenseClaim) error {
	query := `
		INSERT INTO expense_claims (
			submitter_id, company_id, category, title, description,
			amount, currency, converted_amount, has_receipt,
			rule_id, mode, approval_levels, percentage_threshold,
			status, rejection_reason, created_at, updated_at, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`
	err := r.db.querier(ctx).QueryRow(ctx, query,
		claim.SubmitterID,
		claim.CompanyID,
		claim.Category,
		claim.Title,
		claim.Description,
		claim.Amount.String(),
		claim.Currency,
		claim.ConvertedAmount.String(),
		claim.HasReceipt,
		claim.RuleID,
		string(claim.Mode),
		claim.ApprovalLevels,
		claim.PercentageThreshold.String(),
		string(claim.Status),
		claim.RejectionReason,
		claim.CreatedAt,
		claim.UpdatedAt,
		claim.DecidedAt,
	).Scan(&claim.ID)
	if err != nil {
		r.logger.Error("Failed to create expense claim",
			zap.Int64("submitter_id", claim.SubmitterID),
			zap.Int64("company_id", claim.CompanyID),
			zap.Error(err))
		return workflow.Storage("create expense claim", err)
	}
	return nil
}

// GetByID retrieves a claim by its ID
func (r *ClaimRepository) GetByID(ctx context.Context, id int64) (*entity.ExpenseClaim, error) {
	return r.get(ctx, selectClaim, id)
}

// GetForUpdate reads the claim and locks its row until the transaction ends
func (r *ClaimRepository) GetForUpdate(ctx context.Context, id int64) (*entity.ExpenseClaim, error) {
	return r.get(ctx, selectClaim+" FOR UPDATE", id)
}

func (r *ClaimRepository) get(ctx context.Context, query string, id int64) (*entity.ExpenseClaim, error) {
	var (
		c                            entity.ExpenseClaim
		amount, converted, threshold string
		mode, status                 string
	)
	err := r.db.querier(ctx).QueryRow(ctx, query, id).Scan(
		&c.ID, &c.SubmitterID, &c.CompanyID, &c.Category, &c.Title, &c.Description,
		&amount, &c.Currency, &converted, &c.HasReceipt,
		&c.RuleID, &mode, &c.ApprovalLevels, &threshold,
		&status, &c.RejectionReason, &c.CreatedAt, &c.UpdatedAt, &c.DecidedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("claim", id)
	}
	if err != nil {
		r.logger.Error("Failed to get expense claim", zap.Int64("id", id), zap.Error(err))
		return nil, workflow.Storage("get expense claim", err)
	}

	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, workflow.Storage("parse claim amount", err)
	}
	if c.ConvertedAmount, err = decimal.NewFromString(converted); err != nil {
		return nil, workflow.Storage("parse converted amount", err)
	}
	if c.PercentageThreshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, workflow.Storage("parse percentage threshold", err)
	}
	c.Mode = entity.RuleMode(mode)
	c.Status = entity.ClaimStatus(status)
	return &c, nil
}

// UpdateStatus writes the claim's decision fields
func (r *ClaimRepository) UpdateStatus(ctx context.Context, claim *entity.ExpenseClaim) error {
	tag, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE expense_claims
		SET status = $1, rejection_reason = $2, decided_at = $3, updated_at = $4
		WHERE id = $5
	`, string(claim.Status), claim.RejectionReason, claim.DecidedAt, claim.UpdatedAt, claim.ID)
	if err != nil {
		r.logger.Error("Failed to update claim status",
			zap.Int64("id", claim.ID),
			zap.String("status", string(claim.Status)),
			zap.Error(err))
		return workflow.Storage("update claim status", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("claim", claim.ID)
	}
	return nil
}

// CreateSteps inserts the batch and assigns IDs
func (r *ClaimRepository) CreateSteps(ctx context.Context, steps []*entity.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (
			claim_id, approver_id, sequence_order, sequential,
			status, comments, decided_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	q := r.db.querier(ctx)
	for _, step := range steps {
		err := q.QueryRow(ctx, query,
			step.ClaimID,
			step.ApproverID,
			step.SequenceOrder,
			step.Sequential,
			string(step.Status),
			step.Comments,
			step.DecidedAt,
			step.CreatedAt,
		).Scan(&step.ID)
		if err != nil {
			r.logger.Error("Failed to create approval step",
				zap.Int64("claim_id", step.ClaimID),
				zap.Int64("approver_id", step.ApproverID),
				zap.Error(err))
			return workflow.Storage("create approval step", err)
		}
	}
	return nil
}

// GetSteps returns a claim's steps in sequence order
func (r *ClaimRepository) GetSteps(ctx context.Context, claimID int64) ([]*entity.ApprovalStep, error) {
	return r.querySteps(ctx, "get approval steps",
		selectSteps+`WHERE s.claim_id = $1 ORDER BY s.sequence_order, s.id`, claimID)
}

// UpdateStep writes a step's decision fields
func (r *ClaimRepository) UpdateStep(ctx context.Context, step *entity.ApprovalStep) error {
	tag, err := r.db.querier(ctx).Exec(ctx,
		`UPDATE approval_steps SET status = $1, comments = $2, decided_at = $3 WHERE id = $4`,
		string(step.Status), step.Comments, step.DecidedAt, step.ID)
	if err != nil {
		r.logger.Error("Failed to update approval step",
			zap.Int64("id", step.ID),
			zap.String("status", string(step.Status)),
			zap.Error(err))
		return workflow.Storage("update approval step", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("approval step", step.ID)
	}
	return nil
}

// ListPendingByApprover returns the approver's pending steps on pending claims
func (r *ClaimRepository) ListPendingByApprover(ctx context.Context, approverID int64) ([]*entity.ApprovalStep, error) {
	return r.querySteps(ctx, "list pending steps", selectSteps+`
		JOIN expense_claims c ON c.id = s.claim_id
		WHERE s.approver_id = $1 AND s.status = $2 AND c.status = $3
		ORDER BY s.claim_id, s.sequence_order`,
		approverID, string(entity.StepPending), string(entity.ClaimPending))
}

func (r *ClaimRepository) querySteps(ctx context.Context, op, query string, args ...any) ([]*entity.ApprovalStep, error) {
	rows, err := r.db.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query approval steps", zap.String("op", op), zap.Error(err))
		return nil, workflow.Storage(op, err)
	}
	defer rows.Close()

	var steps []*entity.ApprovalStep
	for rows.Next() {
		var (
			s      entity.ApprovalStep
			status string
		)
		if err := rows.Scan(&s.ID, &s.ClaimID, &s.ApproverID, &s.SequenceOrder, &s.Sequential,
			&status, &s.Comments, &s.DecidedAt, &s.CreatedAt); err != nil {
			return nil, workflow.Storage(op, err)
		}
		s.Status = entity.StepStatus(status)
		steps = append(steps, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage(op, err)
	}
	return steps, nil
}

var _ port.ClaimRepository = (*ClaimRepository)(nil)
