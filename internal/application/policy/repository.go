package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Logger is the logging surface the repository needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Repository answers "which rule and which approvers" for a company
type Repository struct {
	store  port.PolicyStore
	logger Logger
}

// NewRepository wraps a PolicyStore
func NewRepository(store port.PolicyStore, logger Logger) *Repository {
	return &Repository{store: store, logger: logger}
}

// FindRule returns the applicable rule, or the company default when no rule
// matches. A missing match is not an error.
func (r *Repository) FindRule(ctx context.Context, companyID int64, category string, amount decimal.Decimal) (*entity.ApprovalRule, error) {
	rules, err := r.store.ListRules(ctx, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval rules", "company_id", companyID, "error", err)
		return nil, err
	}

	if rule := SelectRule(rules, category, amount); rule != nil {
		return rule, nil
	}

	r.logger.Info("No approval rule matched, using company default",
		"company_id", companyID, "category", category, "amount", amount.String())
	return entity.DefaultRule(companyID), nil
}

// Sequence returns the company's approver sequence in sequence order.
// Duplicate sequence orders are reported as a configuration error.
func (r *Repository) Sequence(ctx context.Context, companyID int64) ([]*entity.ApprovalSequenceEntry, error) {
	entries, err := r.store.ListSequence(ctx, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval sequence", "company_id", companyID, "error", err)
		return nil, err
	}

	sorted := append([]*entity.ApprovalSequenceEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceOrder < sorted[j].SequenceOrder
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].SequenceOrder == sorted[i-1].SequenceOrder {
			return nil, fmt.Errorf("%w: company %d has duplicate sequence order %d",
				workflow.ErrConfiguration, companyID, sorted[i].SequenceOrder)
		}
	}
	return sorted, nil
}
