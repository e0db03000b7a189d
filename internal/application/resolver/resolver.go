// Package resolver turns a company's approval rule and sequence into the
// concrete approver list for one claim.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

var hundred = decimal.NewFromInt(100)

// ResolvedApprover is one approval step to materialize
type ResolvedApprover struct {
	ApproverID    int64
	SequenceOrder int
	Sequential    bool
}

// Resolver resolves manager entries through the directory
type Resolver struct {
	directory port.ManagerDirectory
}

// New creates a Resolver
func New(directory port.ManagerDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the ordered approvers for claim. An empty result with a nil
// error means the claim auto-approves.
//
// Entries are resolved in sequence order. Entries resolving to the submitter
// or to an approver already taken are dropped, and SEQUENTIAL mode keeps
// reading until approvalLevels approvers are collected. HYBRID takes every
// entry and marks the first approvalLevels as the sequential prefix.
func (r *Resolver) Resolve(ctx context.Context, rule *entity.ApprovalRule, sequence []*entity.ApprovalSequenceEntry, claim *entity.ExpenseClaim) ([]ResolvedApprover, error) {
	if rule.AutoApproves(claim.ConvertedAmount) {
		return nil, nil
	}
	if !rule.Mode.IsValid() {
		return nil, fmt.Errorf("%w: rule %d has unknown mode %q", workflow.ErrConfiguration, rule.ID, rule.Mode)
	}
	if rule.Mode != entity.ModeSequential &&
		(rule.PercentageThreshold.IsNegative() || rule.PercentageThreshold.GreaterThan(hundred)) {
		return nil, fmt.Errorf("%w: rule %d percentage threshold %s is outside [0,100]",
			workflow.ErrConfiguration, rule.ID, rule.PercentageThreshold)
	}
	if len(sequence) == 0 {
		return nil, fmt.Errorf("%w: company %d has no approval sequence", workflow.ErrConfiguration, claim.CompanyID)
	}

	levels := rule.ApprovalLevels
	if levels < 1 {
		levels = 1
	}

	ordered := append([]*entity.ApprovalSequenceEntry(nil), sequence...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceOrder < ordered[j].SequenceOrder
	})

	out := make([]ResolvedApprover, 0, len(ordered))
	seen := make(map[int64]bool, len(ordered))
	for _, e := range ordered {
		if rule.Mode == entity.ModeSequential && len(out) == levels {
			break
		}

		approverID, ok, err := r.approverFor(ctx, e, claim)
		if err != nil {
			return nil, err
		}
		if !ok || approverID == claim.SubmitterID || seen[approverID] {
			continue
		}
		seen[approverID] = true

		out = append(out, ResolvedApprover{
			ApproverID:    approverID,
			SequenceOrder: e.SequenceOrder,
			Sequential:    sequential(rule.Mode, len(out), levels),
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no eligible approver for claim by user %d in company %d",
			workflow.ErrConfiguration, claim.SubmitterID, claim.CompanyID)
	}
	return out, nil
}

// approverFor maps one entry to a user id. ok is false when an optional
// manager entry has nobody to resolve to.
func (r *Resolver) approverFor(ctx context.Context, e *entity.ApprovalSequenceEntry, claim *entity.ExpenseClaim) (int64, bool, error) {
	if !e.IsManagerApprover {
		if e.UserID == nil {
			return 0, false, fmt.Errorf("%w: sequence entry %d has no user", workflow.ErrConfiguration, e.SequenceOrder)
		}
		return *e.UserID, true, nil
	}

	manager, err := r.directory.GetManager(ctx, claim.SubmitterID)
	if err != nil {
		return 0, false, err
	}
	if manager == nil {
		if e.IsRequired {
			return 0, false, fmt.Errorf("%w: user %d has no manager for required sequence entry %d",
				workflow.ErrConfiguration, claim.SubmitterID, e.SequenceOrder)
		}
		return 0, false, nil
	}
	return *manager, true, nil
}

func sequential(mode entity.RuleMode, position, levels int) bool {
	switch mode {
	case entity.ModeSequential:
		return true
	case entity.ModeHybrid:
		return position < levels
	default:
		return false
	}
}
