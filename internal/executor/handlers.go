package executor

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/alert"
)

// dispatch routes an allowed action to its type handler. Panics are
// converted into ordinary errors so a misbehaving handler never takes
// down the batch.
func (s *service) dispatch(ctx context.Context, a *action.Action) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch a.Type {
	case action.TypeAlert:
		return s.handleAlert(ctx, a)
	case action.TypeAdjustThreshold:
		return s.handleAdjustThreshold(ctx, a)
	case action.TypeBanAgent:
		return s.handleBanAgent(ctx, a)
	case action.TypeRestrictAgent:
		return s.handleRestrictAgent(ctx, a)
	case action.TypeQuarantineAgent:
		return s.handleQuarantineAgent(ctx, a)
	case action.TypeUnbanAgent:
		return s.handleUnbanAgent(ctx, a)
	default:
		return s.handleUnknown(ctx, a)
	}
}

// handleAlert raises a human-facing alert. Informational only: no target
// entity state changes.
func (s *service) handleAlert(ctx context.Context, a *action.Action) (map[string]any, error) {
	s.emitAlert(ctx, a, alert.Alert{
		Type:        "brain_alert",
		Title:       fmt.Sprintf("Governance alert: %s", a.Target),
		Description: a.Reason,
		Severity:    alertLevel(a.Severity),
		Details:     map[string]any{"action_id": a.ID, "cycle_id": a.CycleID},
		AgentID:     a.Target,
	})

	return map[string]any{"alerted": true}, nil
}

// handleAdjustThreshold lowers the tenant's monitoring threshold by the
// configured step, keeping the previous value in the result so an
// override can restore it exactly.
func (s *service) handleAdjustThreshold(ctx context.Context, a *action.Action) (map[string]any, error) {
	current, err := s.currentThreshold(ctx, a.TenantID)
	if err != nil {
		return nil, err
	}

	next := current - s.config.ThresholdStep
	if err := s.store.SetSetting(ctx, a.TenantID, ThresholdSettingKey, strconv.FormatFloat(next, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("store threshold: %w", err)
	}

	return map[string]any{
		"previous_value": current,
		"new_value":      next,
	}, nil
}

// handleBanAgent bans the target and raises an alert.
func (s *service) handleBanAgent(ctx context.Context, a *action.Action) (map[string]any, error) {
	if _, err := s.agents.FindByID(ctx, a.Target); err != nil {
		return nil, fmt.Errorf("lookup agent %s: %w", a.Target, err)
	}

	res, err := s.agents.Ban(ctx, a.Target, "brain", a.Reason, a.Severity, nil)
	if err != nil {
		return nil, fmt.Errorf("ban agent %s: %w", a.Target, err)
	}

	s.emitAlert(ctx, a, alert.Alert{
		Type:        "agent_banned",
		Title:       fmt.Sprintf("Agent %s banned", a.Target),
		Description: a.Reason,
		Severity:    alertLevel(a.Severity),
		Details:     map[string]any{"action_id": a.ID, "sessions_cleared": res.SessionsCleared},
		AgentID:     a.Target,
	})

	return map[string]any{
		"banned":           true,
		"sessions_cleared": res.SessionsCleared,
	}, nil
}

// handleRestrictAgent disables the features named in the plan's params.
func (s *service) handleRestrictAgent(ctx context.Context, a *action.Action) (map[string]any, error) {
	// The planner may name specific features; default to the broad one.
	features := stringSlice(a.Params["features"])
	if len(features) == 0 {
		features = []string{"external_actions"}
	}

	if err := s.agents.Restrict(ctx, a.Target, features, a.Reason); err != nil {
		return nil, fmt.Errorf("restrict agent %s: %w", a.Target, err)
	}

	return map[string]any{
		"restricted": true,
		"features":   features,
	}, nil
}

// handleQuarantineAgent isolates the target and raises a high-priority
// alert.
func (s *service) handleQuarantineAgent(ctx context.Context, a *action.Action) (map[string]any, error) {
	if err := s.agents.Quarantine(ctx, a.Target, a.Reason); err != nil {
		return nil, fmt.Errorf("quarantine agent %s: %w", a.Target, err)
	}

	s.emitAlert(ctx, a, alert.Alert{
		Type:        "agent_quarantined",
		Title:       fmt.Sprintf("Agent %s quarantined", a.Target),
		Description: a.Reason,
		Severity:    alertLevel(a.Severity),
		Details:     map[string]any{"action_id": a.ID},
		AgentID:     a.Target,
	})

	return map[string]any{"quarantined": true}, nil
}

// handleUnbanAgent restores the target to active.
func (s *service) handleUnbanAgent(ctx context.Context, a *action.Action) (map[string]any, error) {
	if err := s.agents.Unban(ctx, a.Target); err != nil {
		return nil, fmt.Errorf("unban agent %s: %w", a.Target, err)
	}

	return map[string]any{"unbanned": true}, nil
}

// handleUnknown is the fallback for unrecognized action types: a defined
// terminal outcome, recorded and skipped, never an error.
func (s *service) handleUnknown(ctx context.Context, a *action.Action) (map[string]any, error) {
	s.logger.Warn("no handler for action type",
		zap.String("type", string(a.Type)),
	)

	return map[string]any{
		"skipped": true,
		"message": fmt.Sprintf("no handler for action type %q", a.Type),
	}, nil
}

// stringSlice coerces a params value into []string. Params round-trip
// through JSON, so slices usually arrive as []any.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
