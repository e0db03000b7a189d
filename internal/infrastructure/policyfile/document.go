// Package policyfile loads companies, directory users and approval policy
// from a YAML document and seeds them into a store.
package policyfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Document is the root of a policy file
type Document struct {
	Companies []CompanyDoc `yaml:"companies"`
}

// CompanyDoc is one company with its directory and policy
type CompanyDoc struct {
	entity.Company `yaml:",inline"`
	Users          []UserDoc `yaml:"users"`
	Rules          []RuleDoc `yaml:"rules"`
	Sequence       []StepDoc `yaml:"sequence"`
}

// UserDoc is a directory user; users are active unless stated otherwise
type UserDoc struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	ManagerID *int64 `yaml:"manager_id"`
	Active    *bool  `yaml:"active"`
}

// RuleDoc carries amounts as strings so they parse exactly
type RuleDoc struct {
	Name                 string  `yaml:"name"`
	Category             *string `yaml:"category"`
	MinAmount            *string `yaml:"min_amount"`
	MaxAmount            *string `yaml:"max_amount"`
	RequiresReceipt      bool    `yaml:"requires_receipt"`
	Mode                 string  `yaml:"mode"`
	ApprovalLevels       int     `yaml:"approval_levels"`
	PercentageThreshold  string  `yaml:"percentage_threshold"`
	AutoApproveThreshold *string `yaml:"auto_approve_threshold"`
	Active               *bool   `yaml:"active"`
}

// StepDoc is one approver sequence entry
type StepDoc struct {
	Order    int    `yaml:"order"`
	UserID   *int64 `yaml:"user_id"`
	Manager  bool   `yaml:"manager"`
	Required *bool  `yaml:"required"`
}

// Load reads and validates a policy file
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a policy document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse policy file: %v", workflow.ErrConfiguration, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks ids, modes, thresholds and sequence orders
func (d *Document) Validate() error {
	companies := make(map[int64]bool)
	users := make(map[int64]bool)
	for ci, c := range d.Companies {
		if c.ID <= 0 {
			return invalid("companies[%d]: id must be positive", ci)
		}
		if companies[c.ID] {
			return invalid("companies[%d]: duplicate id %d", ci, c.ID)
		}
		companies[c.ID] = true

		for ui, u := range c.Users {
			if u.ID <= 0 {
				return invalid("company %d users[%d]: id must be positive", c.ID, ui)
			}
			if users[u.ID] {
				return invalid("company %d users[%d]: duplicate id %d", c.ID, ui, u.ID)
			}
			users[u.ID] = true
		}
		for ri := range c.Rules {
			if _, err := c.Rules[ri].toEntity(c.ID); err != nil {
				return invalid("company %d rules[%d]: %v", c.ID, ri, err)
			}
		}
		orders := make(map[int]bool)
		for si, s := range c.Sequence {
			switch {
			case s.Order < 1:
				return invalid("company %d sequence[%d]: order must be at least 1", c.ID, si)
			case orders[s.Order]:
				return invalid("company %d sequence[%d]: duplicate order %d", c.ID, si, s.Order)
			case s.Manager == (s.UserID != nil):
				return invalid("company %d sequence[%d]: set exactly one of user_id and manager", c.ID, si)
			}
			orders[s.Order] = true
		}
	}
	return nil
}

func (r RuleDoc) toEntity(companyID int64) (*entity.ApprovalRule, error) {
	mode := entity.RuleMode(strings.ToUpper(r.Mode))
	if !mode.IsValid() {
		return nil, fmt.Errorf("unknown mode %q", r.Mode)
	}
	levels := r.ApprovalLevels
	if levels == 0 {
		levels = 1
	}
	if levels < 1 {
		return nil, fmt.Errorf("approval_levels must be at least 1")
	}

	threshold := decimal.NewFromInt(100)
	if r.PercentageThreshold != "" {
		var err error
		if threshold, err = decimal.NewFromString(r.PercentageThreshold); err != nil {
			return nil, fmt.Errorf("percentage_threshold: %w", err)
		}
	}
	if threshold.LessThanOrEqual(decimal.Zero) || threshold.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("percentage_threshold must be in (0, 100]")
	}

	minAmt, err := optionalDecimal(r.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("min_amount: %w", err)
	}
	maxAmt, err := optionalDecimal(r.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("max_amount: %w", err)
	}
	if minAmt != nil && maxAmt != nil && minAmt.GreaterThan(*maxAmt) {
		return nil, fmt.Errorf("min_amount exceeds max_amount")
	}
	auto, err := optionalDecimal(r.AutoApproveThreshold)
	if err != nil {
		return nil, fmt.Errorf("auto_approve_threshold: %w", err)
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &entity.ApprovalRule{
		CompanyID:            companyID,
		Name:                 r.Name,
		Category:             r.Category,
		MinAmount:            minAmt,
		MaxAmount:            maxAmt,
		RequiresReceipt:      r.RequiresReceipt,
		Mode:                 mode,
		ApprovalLevels:       levels,
		PercentageThreshold:  threshold,
		AutoApproveThreshold: auto,
		IsActive:             active,
	}, nil
}

func (u UserDoc) toEntity(companyID int64) *entity.User {
	active := true
	if u.Active != nil {
		active = *u.Active
	}
	return &entity.User{
		ID:        u.ID,
		CompanyID: companyID,
		Name:      u.Name,
		ManagerID: u.ManagerID,
		IsActive:  active,
	}
}

func (s StepDoc) toEntity() *entity.ApprovalSequenceEntry {
	required := true
	if s.Required != nil {
		required = *s.Required
	}
	return &entity.ApprovalSequenceEntry{
		UserID:            s.UserID,
		SequenceOrder:     s.Order,
		IsManagerApprover: s.Manager,
		IsRequired:        required,
	}
}

func optionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", workflow.ErrConfiguration, fmt.Sprintf(format, args...))
}
