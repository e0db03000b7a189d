package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseClaim is the subject of the approval workflow.
// Mode, ApprovalLevels and PercentageThreshold are copied from the rule
// resolved at submission so later policy edits never alter an in-flight claim.
type ExpenseClaim struct {
	ID                  int64           `json:"id"`
	SubmitterID         int64           `json:"submitter_id"`
	CompanyID           int64           `json:"company_id"`
	Category            string          `json:"category"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	ConvertedAmount     decimal.Decimal `json:"converted_amount"`
	HasReceipt          bool            `json:"has_receipt"`
	RuleID              int64           `json:"rule_id"`
	Mode                RuleMode        `json:"mode"`
	ApprovalLevels      int             `json:"approval_levels"`
	PercentageThreshold decimal.Decimal `json:"percentage_threshold"`
	Status              ClaimStatus     `json:"status"`
	RejectionReason     string          `json:"rejection_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	DecidedAt           *time.Time      `json:"decided_at,omitempty"`
}

// ApprovalStep is one approver's required decision on one claim.
// Sequential marks steps in the ordered prefix; they may only be decided
// after every lower-ordered sequential step has been approved.
type ApprovalStep struct {
	ID            int64      `json:"id"`
	ClaimID       int64      `json:"claim_id"`
	ApproverID    int64      `json:"approver_id"`
	SequenceOrder int        `json:"sequence_order"`
	Sequential    bool       `json:"sequential"`
	Status        StepStatus `json:"status"`
	Comments      string     `json:"comments,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Clone returns a copy safe to hand to callers outside the critical section
func (s *ApprovalStep) Clone() *ApprovalStep {
	c := *s
	if s.DecidedAt != nil {
		t := *s.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// Clone returns a copy safe to hand to callers outside the critical section
func (c *ExpenseClaim) Clone() *ExpenseClaim {
	cp := *c
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
