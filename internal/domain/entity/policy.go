package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Company owns a base currency and the approval policy its claims are routed by
type Company struct {
	ID           int64     `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	BaseCurrency string    `json:"base_currency" yaml:"base_currency"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

// User is the slice of a directory record the engine needs for manager lookup
type User struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	ManagerID *int64 `json:"manager_id,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// ApprovalRule is the policy for a (company, category, amount-range) triple.
// A nil Category matches every category; nil bounds are unbounded.
type ApprovalRule struct {
	ID                   int64            `json:"id"`
	CompanyID            int64            `json:"company_id"`
	Name                 string           `json:"name"`
	Category             *string          `json:"category,omitempty"`
	MinAmount            *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount            *decimal.Decimal `json:"max_amount,omitempty"`
	RequiresReceipt      bool             `json:"requires_receipt"`
	Mode                 RuleMode         `json:"mode"`
	ApprovalLevels       int              `json:"approval_levels"`
	PercentageThreshold  decimal.Decimal  `json:"percentage_threshold"`
	AutoApproveThreshold *decimal.Decimal `json:"auto_approve_threshold,omitempty"`
	IsActive             bool             `json:"is_active"`
	CreatedAt            time.Time        `json:"created_at"`
}

// DefaultRule is the company fallback applied when no rule matches:
// one sequential approver, no auto-approval.
func DefaultRule(companyID int64) *ApprovalRule {
	return &ApprovalRule{
		CompanyID:           companyID,
		Name:                "default",
		Mode:                ModeSequential,
		ApprovalLevels:      1,
		PercentageThreshold: decimal.NewFromInt(100),
		IsActive:            true,
	}
}

// IsDefault reports whether the rule is the synthesized company fallback
func (r *ApprovalRule) IsDefault() bool {
	return r.ID == 0
}

// Contains reports whether amount lies within the rule's inclusive range
func (r *ApprovalRule) Contains(amount decimal.Decimal) bool {
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return true
}

// AutoApproves reports whether a claim of the given base-currency amount
// bypasses approval under this rule
func (r *ApprovalRule) AutoApproves(convertedAmount decimal.Decimal) bool {
	return r.AutoApproveThreshold != nil && convertedAmount.LessThanOrEqual(*r.AutoApproveThreshold)
}

// Bounded reports whether both ends of the amount range are set
func (r *ApprovalRule) Bounded() bool {
	return r.MinAmount != nil && r.MaxAmount != nil
}

// ApprovalSequenceEntry is one position in a company's ordered approver list.
// Entries flagged IsManagerApprover resolve to the submitter's manager and
// carry no fixed UserID.
type ApprovalSequenceEntry struct {
	ID                int64     `json:"id"`
	CompanyID         int64     `json:"company_id"`
	UserID            *int64    `json:"user_id,omitempty"`
	SequenceOrder     int       `json:"sequence_order"`
	IsManagerApprover bool      `json:"is_manager_approver"`
	IsRequired        bool      `json:"is_required"`
	CreatedAt         time.Time `json:"created_at"`
}
