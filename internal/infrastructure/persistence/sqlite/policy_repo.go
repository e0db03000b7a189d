package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// PolicyRepository stores companies, users, rules and approver sequences.
// It implements port.PolicyStore, port.PolicyWriter and port.ManagerDirectory.
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
	query := `
		SELECT id, company_id, name, category, min_amount, max_amount,
			requires_receipt, mode, approval_levels, percentage_threshold,
			auto_approve_threshold, is_active, created_at
		FROM approval_rules
		WHERE company_id = ?
		ORDER BY id
	`
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval rules", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, workflow.Storage("list approval rules", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		var (
			rule                   entity.ApprovalRule
			category               sql.NullString
			minAmt, maxAmt, autoAt decimal.NullDecimal
		)
		if err := rows.Scan(
			&rule.ID, &rule.CompanyID, &rule.Name, &category, &minAmt, &maxAmt,
			&rule.RequiresReceipt, &rule.Mode, &rule.ApprovalLevels, &rule.PercentageThreshold,
			&autoAt, &rule.IsActive, &rule.CreatedAt,
		); err != nil {
			return nil, workflow.Storage("scan approval rule", err)
		}
		if category.Valid {
			rule.Category = &category.String
		}
		rule.MinAmount = decimalPtr(minAmt)
		rule.MaxAmount = decimalPtr(maxAmt)
		rule.AutoApproveThreshold = decimalPtr(autoAt)
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, workflow.Storage("list approval rules", err)
	}
	return rules, nil
}

// ListSequence returns the company's approver sequence in order
func (r *PolicyRepository) ListSequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error) {
	query := `
		SELECT id, company_id, user_id, sequence_order, is_manager_approver, is_required, created_at
		FROM approval_sequence
		WHERE company_id = ?
		ORDER BY sequence_order, id
	`
	rows, err := r.db.executor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval sequence", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, workflow.Storage("list approval sequence", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalSequenceEntry
	for rows.Next() {
		var (
			e      entity.ApprovalSequenceEntry
			userID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.CompanyID, &userID, &e.SequenceOrder,
			&e.IsManagerApprover, &e.IsRequired, &e.CreatedAt); err != nil {
			return nil, workflow.Storage("scan approval sequence", err)
		}
		e.UserID = int64Ptr(userID)
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
		return errInvalidID("company")
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO companies (id, name, base_currency, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, base_currency = excluded.base_currency
	`, company.ID, company.Name, company.BaseCurrency, company.CreatedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to save company", zap.Int64("id", company.ID), zap.Error(err))
		return workflow.Storage("save company", err)
	}
	return nil
}

// SaveUser inserts or updates a directory user by ID
func (r *PolicyRepository) SaveUser(ctx context.Context, user *entity.User) error {
	if user.ID <= 0 {
		return errInvalidID("user")
	}
	_, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO users (id, company_id, name, manager_id, is_active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			manager_id = excluded.manager_id,
			is_active = excluded.is_active
	`, user.ID, user.CompanyID, user.Name, nullInt64(user.ManagerID), user.IsActive)
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
	var category sql.NullString
	if rule.Category != nil {
		category = sql.NullString{String: *rule.Category, Valid: true}
	}
	result, err := r.db.executor(ctx).ExecContext(ctx, `
		INSERT INTO approval_rules (
			company_id, name, category, min_amount, max_amount,
			requires_receipt, mode, approval_levels, percentage_threshold,
			auto_approve_threshold, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.CompanyID, rule.Name, category,
		nullDecimal(rule.MinAmount), nullDecimal(rule.MaxAmount),
		rule.RequiresReceipt, rule.Mode, rule.ApprovalLevels, rule.PercentageThreshold.String(),
		nullDecimal(rule.AutoApproveThreshold), rule.IsActive, rule.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create approval rule",
			zap.Int64("company_id", rule.CompanyID),
			zap.String("name", rule.Name),
			zap.Error(err))
		return workflow.Storage("create approval rule", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return workflow.Storage("read rule id", err)
	}
	rule.ID = id
	return nil
}

// ReplaceSequence swaps the company's sequence for entries
func (r *PolicyRepository) ReplaceSequence(ctx context.Context, companyID int64, entries []*entity.ApprovalSequenceEntry) error {
	ordered := make([]*entity.ApprovalSequenceEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SequenceOrder < ordered[j].SequenceOrder })

	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.executor(txCtx)
		if _, err := exec.ExecContext(txCtx, `DELETE FROM approval_sequence WHERE company_id = ?`, companyID); err != nil {
			r.logger.Error("Failed to clear approval sequence", zap.Int64("company_id", companyID), zap.Error(err))
			return workflow.Storage("clear approval sequence", err)
		}
		now := time.Now().UTC()
		for _, e := range ordered {
			e.CompanyID = companyID
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			result, err := exec.ExecContext(txCtx, `
				INSERT INTO approval_sequence (
					company_id, user_id, sequence_order, is_manager_approver, is_required, created_at
				) VALUES (?, ?, ?, ?, ?, ?)
			`, companyID, nullInt64(e.UserID), e.SequenceOrder, e.IsManagerApprover, e.IsRequired, e.CreatedAt)
			if err != nil {
				r.logger.Error("Failed to insert approval sequence entry",
					zap.Int64("company_id", companyID),
					zap.Int("sequence_order", e.SequenceOrder),
					zap.Error(err))
				return workflow.Storage("insert approval sequence entry", err)
			}
			if e.ID, err = result.LastInsertId(); err != nil {
				return workflow.Storage("read sequence entry id", err)
			}
		}
		return nil
	})
}

// GetManager returns the user's manager if both exist and the manager is active
func (r *PolicyRepository) GetManager(ctx context.Context, userID int64) (*int64, error) {
	var managerID int64
	err := r.db.executor(ctx).QueryRowContext(ctx, `
		SELECT m.id FROM users u
		JOIN users m ON m.id = u.manager_id
		WHERE u.id = ? AND m.is_active = 1
	`, userID).Scan(&managerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up manager", zap.Int64("user_id", userID), zap.Error(err))
		return nil, workflow.Storage("get manager", err)
	}
	return &managerID, nil
}

func decimalPtr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

func nullDecimal(v *decimal.Decimal) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

var (
	_ port.PolicyStore      = (*PolicyRepository)(nil)
	_ port.PolicyWriter     = (*PolicyRepository)(nil)
	_ port.ManagerDirectory = (*PolicyRepository)(nil)
)
