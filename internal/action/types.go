// Package action defines the domain model for governance actions:
// planned interventions, their persisted records, override decisions,
// and the transient outcome/state inputs consumed by the feedback loop.
package action

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors shared by the services operating on actions.
var (
	ErrActionNotFound = errors.New("Action not found")
	ErrTenantMismatch = errors.New("action belongs to a different tenant")
	ErrEmptyTenantID  = errors.New("tenant ID cannot be empty")
)

// Mode selects how the executor treats a batch of planned actions.
type Mode string

const (
	// ModeAdvisory records actions without applying them.
	ModeAdvisory Mode = "advisory"

	// ModeEnforced applies actions, subject to the kernel constraint checker.
	ModeEnforced Mode = "enforced"
)

// Type identifies the kind of intervention. The space is open-ended:
// unknown values are handled by a fallback path, never rejected outright.
type Type string

const (
	TypeAlert           Type = "alert"
	TypeAdjustThreshold Type = "adjust_threshold"
	TypeBanAgent        Type = "ban_agent"
	TypeRestrictAgent   Type = "restrict_agent"
	TypeQuarantineAgent Type = "quarantine_agent"
	TypeUnbanAgent      Type = "unban_agent"
)

// Irreversible reports whether the action type applies a punitive effect
// that demands a justification and supports an override revert.
func (t Type) Irreversible() bool {
	switch t {
	case TypeBanAgent, TypeRestrictAgent, TypeQuarantineAgent:
		return true
	}
	return false
}

// Status is the lifecycle state of a persisted action.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusApproved   Status = "approved"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusOverridden Status = "overridden"
)

// Severity grades an intervention. Used for alert-level mapping.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PlannedAction is one proposed intervention from the external planning
// process. It carries no identity or tenant; those are assigned when the
// executor persists it.
type PlannedAction struct {
	Type     Type           `json:"type"`
	Target   string         `json:"target"`
	Reason   string         `json:"reason"`
	Severity Severity       `json:"severity,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Action is the persisted record of one proposed intervention within a
// cycle. Created by the executor at intent time; mutated by the executor
// (result/status) and the override service (status, override annotations).
// Never physically deleted.
type Action struct {
	ID         string         `json:"id"`
	CycleID    string         `json:"cycle_id"`
	TenantID   string         `json:"tenant_id"`
	Type       Type           `json:"type"`
	Target     string         `json:"target"`
	Reason     string         `json:"reason"`
	Severity   Severity       `json:"severity,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Status     Status         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	ApprovedBy string         `json:"approved_by,omitempty"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewAction persists-shape constructor for an action created from a plan.
func NewAction(tenantID, cycleID string, planned PlannedAction, status Status) *Action {
	return &Action{
		ID:        uuid.New().String(),
		CycleID:   cycleID,
		TenantID:  tenantID,
		Type:      planned.Type,
		Target:    planned.Target,
		Reason:    planned.Reason,
		Severity:  planned.Severity,
		Params:    planned.Params,
		Status:    status,
		Result:    map[string]any{},
		CreatedAt: time.Now(),
	}
}

// Decision is the verdict of a human review event.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// OverrideDecision is one human review event against an action.
// Immutable once created; the append-only audit trail is kept separate
// from the action record itself.
type OverrideDecision struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason"`
	Emergency bool      `json:"emergency"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the transient observation of how one executed action turned
// out. It is not persisted as its own entity; the feedback engine folds it
// into the action's result and into a feedback memory.
type Outcome struct {
	ActionID  string             `json:"action_id"`
	Success   bool               `json:"success"`
	Impact    float64            `json:"impact"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// EmergenceLevel is an ordered label for system excitation. Lower rank
// means a calmer system.
type EmergenceLevel string

const (
	EmergenceLinear   EmergenceLevel = "LINEAR"
	EmergenceWeak     EmergenceLevel = "WEAK_EMERGENCE"
	EmergenceHighWeak EmergenceLevel = "HIGH_WEAK_EMERGENCE"
)

// Rank returns the position of the level in the total order
// LINEAR < WEAK_EMERGENCE < HIGH_WEAK_EMERGENCE. Unknown levels rank as
// LINEAR so a malformed snapshot never produces a spurious delta credit.
func (l EmergenceLevel) Rank() int {
	switch l {
	case EmergenceWeak:
		return 1
	case EmergenceHighWeak:
		return 2
	default:
		return 0
	}
}

// SystemState is a point-in-time snapshot of the signals impact
// measurement compares. Two snapshots (pre/post) are its sole inputs;
// the snapshot itself is never persisted.
type SystemState struct {
	AvgTrust       float64        `json:"avg_trust"`
	EmergenceLevel EmergenceLevel `json:"emergence_level"`
}
