package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

const claimColumns = `id, submitter_id, company_id, category, title, description,
	amount, currency, converted_amount, has_receipt,
	rule_id, mode, approval_levels, percentage_threshold,
	status, rejection_reason, created_at, updated_at, decided_at`

const stepColumns = `id, claim_id, approver_id, sequence_order, sequential,
	status, comments, decided_at, created_at`

// joinedStepColumns is stepColumns qualified for queries joining expense_claims
const joinedStepColumns = `s.id, s.claim_id, s.approver_id, s.sequence_order, s.sequential,
	s.status, s.comments, s.decided_at, s.created_at`

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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.executor(ctx).ExecContext(ctx, query,
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
		claim.Mode,
		claim.ApprovalLevels,
		claim.PercentageThreshold.String(),
		claim.Status,
		claim.RejectionReason,
		claim.CreatedAt.UTC(),
		claim.UpdatedAt.UTC(),
		nullTime(claim.DecidedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create expense claim",
			zap.Int64("submitter_id", claim.SubmitterID),
			zap.Int64("company_id", claim.CompanyID),
			zap.Error(err))
		return workflow.Storage("create expense claim", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return workflow.Storage("read claim id", err)
	}
	claim.ID = id
	return nil
}

// GetByID retrieves a claim by its ID
func (r *ClaimRepository) GetByID(ctx context.Context, id int64) (*entity.ExpenseClaim, error) {
	row := r.db.executor(ctx).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM expense_claims WHERE id = ?`, id)

	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("claim", id)
	}
	if err != nil {
		r.logger.Error("Failed to get expense claim", zap.Int64("id", id), zap.Error(err))
		return nil, workflow.Storage("get expense claim", err)
	}
	return claim, nil
}

// GetForUpdate reads the claim inside the caller's transaction. SQLite has
// no row locks; the IMMEDIATE transaction already excludes other writers.
func (r *ClaimRepository) GetForUpdate(ctx context.Context, id int64) (*entity.ExpenseClaim, error) {
	return r.GetByID(ctx, id)
}

// UpdateStatus writes the claim's decision fields
func (r *ClaimRepository) UpdateStatus(ctx context.Context, claim *entity.ExpenseClaim) error {
	query := `
		UPDATE expense_claims
		SET status = ?, rejection_reason = ?, decided_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		claim.Status,
		claim.RejectionReason,
		nullTime(claim.DecidedAt),
		claim.UpdatedAt.UTC(),
		claim.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update claim status",
			zap.Int64("id", claim.ID),
			zap.String("status", string(claim.Status)),
			zap.Error(err))
		return workflow.Storage("update claim status", err)
	}
	return requireRow(result, "claim", claim.ID)
}

// CreateSteps inserts the batch and assigns IDs
func (r *ClaimRepository) CreateSteps(ctx context.Context, steps []*entity.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (
			claim_id, approver_id, sequence_order, sequential,
			status, comments, decided_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	exec := r.db.executor(ctx)
	for _, step := range steps {
		result, err := exec.ExecContext(ctx, query,
			step.ClaimID,
			step.ApproverID,
			step.SequenceOrder,
			step.Sequential,
			step.Status,
			step.Comments,
			nullTime(step.DecidedAt),
			step.CreatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create approval step",
				zap.Int64("claim_id", step.ClaimID),
				zap.Int64("approver_id", step.ApproverID),
				zap.Error(err))
			return workflow.Storage("create approval step", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return workflow.Storage("read step id", err)
		}
		step.ID = id
	}
	return nil
}

// GetSteps returns a claim's steps in sequence order
func (r *ClaimRepository) GetSteps(ctx context.Context, claimID int64) ([]*entity.ApprovalStep, error) {
	return r.querySteps(ctx, "get approval steps",
		`SELECT `+stepColumns+` FROM approval_steps
		WHERE claim_id = ?
		ORDER BY sequence_order, id`, claimID)
}

// UpdateStep writes a step's decision fields
func (r *ClaimRepository) UpdateStep(ctx context.Context, step *entity.ApprovalStep) error {
	result, err := r.db.executor(ctx).ExecContext(ctx,
		`UPDATE approval_steps SET status = ?, comments = ?, decided_at = ? WHERE id = ?`,
		step.Status,
		step.Comments,
		nullTime(step.DecidedAt),
		step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval step",
			zap.Int64("id", step.ID),
			zap.String("status", string(step.Status)),
			zap.Error(err))
		return workflow.Storage("update approval step", err)
	}
	return requireRow(result, "approval step", step.ID)
}

// ListPendingByApprover returns the approver's pending steps on pending claims
func (r *ClaimRepository) ListPendingByApprover(ctx context.Context, approverID int64) ([]*entity.ApprovalStep, error) {
	return r.querySteps(ctx, "list pending steps",
		`SELECT `+joinedStepColumns+` FROM approval_steps s
		JOIN expense_claims c ON c.id = s.claim_id
		WHERE s.approver_id = ? AND s.status = ? AND c.status = ?
		ORDER BY s.claim_id, s.sequence_order`,
		approverID, entity.StepPending, entity.ClaimPending)
}

func (r *ClaimRepository) querySteps(ctx context.Context, op, query string, args ...interface{}) ([]*entity.ApprovalStep, error) {
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query approval steps", zap.String("op", op), zap.Error(err))
		return nil, workflow.Storage(op, err)
	}
	defer rows.Close()

	var steps []*entity.ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, workflow.Storage(op, err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage(op, err)
	}
	return steps, nil
}

func scanClaim(row rowScanner) (*entity.ExpenseClaim, error) {
	var (
		c         entity.ExpenseClaim
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.SubmitterID, &c.CompanyID, &c.Category, &c.Title, &c.Description,
		&c.Amount, &c.Currency, &c.ConvertedAmount, &c.HasReceipt,
		&c.RuleID, &c.Mode, &c.ApprovalLevels, &c.PercentageThreshold,
		&c.Status, &c.RejectionReason, &c.CreatedAt, &c.UpdatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DecidedAt = timePtr(decidedAt)
	return &c, nil
}

func scanStep(row rowScanner) (*entity.ApprovalStep, error) {
	var (
		s         entity.ApprovalStep
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.ClaimID, &s.ApproverID, &s.SequenceOrder, &s.Sequential,
		&s.Status, &s.Comments, &decidedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.DecidedAt = timePtr(decidedAt)
	return &s, nil
}

func requireRow(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return workflow.Storage("rows affected", err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

var _ port.ClaimRepository = (*ClaimRepository)(nil)
