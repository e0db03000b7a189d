package policy

import (
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// SelectRule picks the best-matching active rule for (category, amount), or
// nil when none matches. Preference order: exact category over wildcard,
// then the narrowest amount span, then the lowest rule id.
func SelectRule(rules []*entity.ApprovalRule, category string, amount decimal.Decimal) *entity.ApprovalRule {
	var best *entity.ApprovalRule
	for _, r := range rules {
		if !matches(r, category, amount) {
			continue
		}
		if best == nil || better(r, best, category) {
			best = r
		}
	}
	return best
}

func matches(r *entity.ApprovalRule, category string, amount decimal.Decimal) bool {
	if !r.IsActive {
		return false
	}
	if r.Category != nil && *r.Category != category {
		return false
	}
	return r.Contains(amount)
}

// better reports whether a outranks b
func better(a, b *entity.ApprovalRule, category string) bool {
	ae, be := exact(a, category), exact(b, category)
	if ae != be {
		return ae
	}
	switch compareSpan(a, b) {
	case -1:
		return true
	case 1:
		return false
	}
	return a.ID < b.ID
}

func exact(r *entity.ApprovalRule, category string) bool {
	return r.Category != nil && *r.Category == category
}

// compareSpan orders rules by max-min. Any unbounded side counts as the
// largest possible span, so all unbounded rules tie with each other.
func compareSpan(a, b *entity.ApprovalRule) int {
	ab, bb := a.Bounded(), b.Bounded()
	switch {
	case !ab && !bb:
		return 0
	case !ab:
		return 1
	case !bb:
		return -1
	}
	return a.MaxAmount.Sub(*a.MinAmount).Cmp(b.MaxAmount.Sub(*b.MinAmount))
}
