package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// PolicyRepository implements port.PolicyStore, port.PolicyWriter and
// port.ManagerDirectory
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{db: db, logger: logger}
}

// ListRules returns every rule of the company
func (r *PolicyRepository) ListRules(ctx context.Context, companyID int64) ([]*entity.ApprovalRule, error) {
	rows, err := r.db.querier(ctx).Query(ctx, `
		SELECT id, company_id, name, category, min_amount::text, max_amount::text,
		       requires_receipt, mode, approval_levels, percentage_threshold::text,
		       auto_approve_threshold::text, is_active, created_at
		FROM approval_rules
		WHERE company_id = $1
		ORDER BY id
	`, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval rules", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, workflow.Storage("list approval rules", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		var (
			rule                   entity.ApprovalRule
			minAmt, maxAmt, autoAt *string
			mode, threshold        string
		)
		if err := rows.Scan(
			&rule.ID, &rule.CompanyID, &rule.Name, &rule.Category, &minAmt, &maxAmt,
			&rule.RequiresReceipt, &mode, &rule.ApprovalLevels, &threshold,
			&autoAt, &rule.IsActive, &rule.CreatedAt,
		); err != nil {
			return nil, workflow.Storage("scan approval rule", err)
		}
		rule.Mode = entity.RuleMode(mode)
		if rule.PercentageThreshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, workflow.Storage("parse percentage threshold", err)
		}
		if rule.MinAmount, err = parseDecimal(minAmt); err != nil {
			return nil, workflow.Storage("parse min amount", err)
		}
		if rule.MaxAmount, err = parseDecimal(maxAmt); err != nil {
			return nil, workflow.Storage("parse max amount", err)
		}
		if rule.AutoApproveThreshold, err = parseDecimal(autoAt); err != nil {
			return nil, workflow.Storage("parse auto-approve threshold", err)
		}
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage("list approval rules", err)
	}
	return rules, nil
}

// ListSequence returns the company's approver sequence in order
func (r *PolicyRepository) ListSequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error) {
	rows, err := r.db.querier(ctx).Query(ctx, `
		SELECT id, company_id, user_id, sequence_order, is_manager_approver, is_required, created_at
		FROM approval_sequence
		WHERE company_id = $1
		ORDER BY sequence_order, id
	`, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval sequence", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, workflow.Storage("list approval sequence", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalSequenceEntry
	for rows.Next() {
		var e entity.ApprovalSequenceEntry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.UserID, &e.SequenceOrder,
			&e.IsManagerApprover, &e.IsRequired, &e.CreatedAt); err != nil {
			return nil, workflow.Storage("scan approval sequence", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage("list approval sequence", err)
	}
	return entries, nil
}

// SaveCompany inserts or updates a company by ID
func (r *PolicyRepository) SaveCompany(ctx context.Context, company *entity.Company) error {
	if company.ID <= 0 {
		return fmt.Errorf("%w: company id must be positive", workflow.ErrInvalidInput)
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO companies (id, name, base_currency, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_currency = EXCLUDED.base_currency
	`, company.ID, company.Name, company.BaseCurrency, company.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to save company", zap.Int64("id", company.ID), zap.Error(err))
		return workflow.Storage("save company", err)
	}
	return nil
}

// SaveUser inserts or updates a directory user by ID
func (r *PolicyRepository) SaveUser(ctx context.Context, user *entity.User) error {
	if user.ID <= 0 {
		return fmt.Errorf("%w: user id must be positive", workflow.ErrInvalidInput)
	}
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO users (id, company_id, name, manager_id, is_active) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			manager_id = EXCLUDED.manager_id,
			is_active = EXCLUDED.is_active
	`, user.ID, user.CompanyID, user.Name, user.ManagerID, user.IsActive)
	if err != nil {
		r.logger.Error("Failed to save user", zap.Int64("id", user.ID), zap.Error(err))
		return workflow.Storage("save user", err)
	}
	return nil
}

// CreateRule inserts a rule and assigns its ID
func (r *PolicyRepository) CreateRule(ctx context.Context, rule *entity.ApprovalRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	err := r.db.querier(ctx).QueryRow(ctx, `
		INSERT INTO approval_rules (
			company_id, name, category, min_amount, max_amount,
			requires_receipt, mode, approval_levels, percentage_threshold,
			auto_approve_threshold, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		rule.CompanyID, rule.Name, rule.Category,
		decimalArg(rule.MinAmount), decimalArg(rule.MaxAmount),
		rule.RequiresReceipt, string(rule.Mode), rule.ApprovalLevels, rule.PercentageThreshold.String(),
		decimalArg(rule.AutoApproveThreshold), rule.IsActive, rule.CreatedAt,
	).Scan(&rule.ID)
	if err != nil {
		r.logger.Error("Failed to create approval rule",
			zap.Int64("company_id", rule.CompanyID),
			zap.String("name", rule.Name),
			zap.Error(err))
		return workflow.Storage("create approval rule", err)
	}
	return nil
}

// ReplaceSequence swaps the company's sequence for entries
func (r *PolicyRepository) ReplaceSequence(ctx context.Context, companyID int64, entries []*entity.ApprovalSequenceEntry) error {
	ordered := make([]*entity.ApprovalSequenceEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SequenceOrder < ordered[j].SequenceOrder })

	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		q := r.db.querier(txCtx)
		if _, err := q.Exec(txCtx, `DELETE FROM approval_sequence WHERE company_id = $1`, companyID); err != nil {
			r.logger.Error("Failed to clear approval sequence", zap.Int64("company_id", companyID), zap.Error(err))
			return workflow.Storage("clear approval sequence", err)
		}
		now := time.Now().UTC()
		for _, e := range ordered {
			e.CompanyID = companyID
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			err := q.QueryRow(txCtx, `
				INSERT INTO approval_sequence (
					company_id, user_id, sequence_order, is_manager_approver, is_required, created_at
				) VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, companyID, e.UserID, e.SequenceOrder, e.IsManagerApprover, e.IsRequired, e.CreatedAt).Scan(&e.ID)
			if err != nil {
				r.logger.Error("Failed to insert approval sequence entry",
					zap.Int64("company_id", companyID),
					zap.Int("sequence_order", e.SequenceOrder),
					zap.Error(err))
				return workflow.Storage("insert approval sequence entry", err)
			}
		}
		return nil
	})
}

// GetManager returns the user's manager if both exist and the manager is active
func (r *PolicyRepository) GetManager(ctx context.Context, userID int64) (*int64, error) {
	var managerID int64
	err := r.db.querier(ctx).QueryRow(ctx, `
		SELECT m.id FROM users u
		JOIN users m ON m.id = u.manager_id
		WHERE u.id = $1 AND m.is_active
	`, userID).Scan(&managerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up manager", zap.Int64("user_id", userID), zap.Error(err))
		return nil, workflow.Storage("get manager", err)
	}
	return &managerID, nil
}

var (
	_ port.PolicyStore      = (*PolicyRepository)(nil)
	_ port.PolicyWriter     = (*PolicyRepository)(nil)
	_ port.ManagerDirectory = (*PolicyRepository)(nil)
)
