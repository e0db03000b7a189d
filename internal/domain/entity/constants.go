package entity

// ClaimStatus is the lifecycle status of an ExpenseClaim
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "PENDING"
	ClaimApproved ClaimStatus = "APPROVED"
	ClaimRejected ClaimStatus = "REJECTED"
)

// IsValid reports whether s is one of the defined claim statuses
func (s ClaimStatus) IsValid() bool {
	switch s {
	case ClaimPending, ClaimApproved, ClaimRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed
func (s ClaimStatus) IsTerminal() bool {
	switch s {
	case ClaimApproved, ClaimRejected:
		return true
	default:
		return false
	}
}

func (s ClaimStatus) String() string { return string(s) }

// StepStatus is the lifecycle status of an ApprovalStep
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
	StepSkipped  StepStatus = "SKIPPED"
)

// IsValid reports whether s is one of the defined step statuses
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepApproved, StepRejected, StepSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the step has been decided or skipped
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepApproved, StepRejected, StepSkipped:
		return true
	default:
		return false
	}
}

func (s StepStatus) String() string { return string(s) }

// RuleMode selects how approval steps aggregate into a claim outcome
type RuleMode string

const (
	ModeSequential RuleMode = "SEQUENTIAL"
	ModePercentage RuleMode = "PERCENTAGE"
	ModeHybrid     RuleMode = "HYBRID"
)

// IsValid reports whether m is one of the defined modes
func (m RuleMode) IsValid() bool {
	switch m {
	case ModeSequential, ModePercentage, ModeHybrid:
		return true
	default:
		return false
	}
}

func (m RuleMode) String() string { return string(m) }

// Decision is an approver's verdict on a single step
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// IsValid reports whether d is APPROVE or REJECT
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

func (d Decision) String() string { return string(d) }

// AuditAction names what an AuditEntry records
type AuditAction string

const (
	ActionSubmitted     AuditAction = "SUBMITTED"
	ActionAutoApproved  AuditAction = "AUTO_APPROVED"
	ActionApproved      AuditAction = "APPROVED"
	ActionRejected      AuditAction = "REJECTED"
	ActionStepSkipped   AuditAction = "STEP_SKIPPED"
	ActionClaimApproved AuditAction = "CLAIM_APPROVED"
	ActionClaimRejected AuditAction = "CLAIM_REJECTED"
)

// AuditEntity names the kind of record an AuditEntry refers to
type AuditEntity string

const (
	EntityExpenseClaim AuditEntity = "EXPENSE_CLAIM"
	EntityApprovalStep AuditEntity = "APPROVAL_STEP"
)
