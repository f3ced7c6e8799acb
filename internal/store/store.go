// Package store provides tenant-scoped persistence for governance actions,
// override decisions, and memory rows.
//
// The Store interface is the document-store port the services consume; two
// implementations ship with braind: an in-memory store (tests, ephemeral
// deployments) and a SQLite store (pure-Go driver, WAL mode). Both also
// satisfy memory.Backend so a single handle backs the whole pipeline.
//
// Every query is tenant-filtered; there is no cross-tenant read path.
package store

import (
	"context"
	"strings"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/memory"
)

// ActionFilter narrows action listings. TenantID is mandatory.
type ActionFilter struct {
	TenantID string

	// Statuses restricts to any of the given statuses (empty = all).
	Statuses []action.Status

	// Types restricts to any of the given action types (empty = all).
	Types []action.Type

	// CycleID restricts to one planning cycle.
	CycleID string

	// Search matches case-insensitively against target and reason.
	Search string

	// Limit/Offset page through results (zero limit = no cap).
	Limit  int
	Offset int
}

// matches reports whether a stored action satisfies the filter.
// Tenant scoping is checked by the caller.
func (f ActionFilter) matches(a *action.Action) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, a.Type) {
		return false
	}
	if f.CycleID != "" && a.CycleID != f.CycleID {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Target), needle) &&
			!strings.Contains(strings.ToLower(a.Reason), needle) {
			return false
		}
	}
	return true
}

// DecisionFilter narrows override-decision listings. TenantID is mandatory;
// decisions are resolved through their owning action's tenant.
type DecisionFilter struct {
	TenantID  string
	Decisions []action.Decision
	Limit     int
	Offset    int
}

// ActionStore persists governance action records.
type ActionStore interface {
	// CreateAction persists a new action record.
	CreateAction(ctx context.Context, a *action.Action) error

	// GetAction returns the action by ID regardless of tenant; callers own
	// the tenant-isolation check so a mismatch can surface as a distinct
	// security error rather than a generic not-found.
	GetAction(ctx context.Context, id string) (*action.Action, error)

	// UpdateAction replaces the stored record for a.ID.
	UpdateAction(ctx context.Context, a *action.Action) error

	// ListActions returns matching actions, newest first.
	ListActions(ctx context.Context, f ActionFilter) ([]*action.Action, error)

	// CountActions counts matching actions.
	CountActions(ctx context.Context, f ActionFilter) (int, error)
}

// DecisionStore persists the append-only override decision trail.
type DecisionStore interface {
	// CreateDecision appends one decision row. Decisions are immutable.
	CreateDecision(ctx context.Context, d *action.OverrideDecision) error

	// ListDecisions returns matching decisions, newest first.
	ListDecisions(ctx context.Context, f DecisionFilter) ([]*action.OverrideDecision, error)
}

// SettingStore persists small tenant-scoped key/value settings, such as
// the monitoring threshold the adjust_threshold handler moves.
type SettingStore interface {
	// GetSetting returns the value and whether it was present.
	GetSetting(ctx context.Context, tenantID, key string) (string, bool, error)

	// SetSetting creates or replaces the value.
	SetSetting(ctx context.Context, tenantID, key, value string) error
}

// Store is the combined persistence handle the daemon wires once and
// shares across services.
type Store interface {
	ActionStore
	DecisionStore
	SettingStore
	memory.Backend

	Close() error
}

func containsStatus(set []action.Status, s action.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(set []action.Type, t action.Type) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}
