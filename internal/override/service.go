package override

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/agent"
	"github.com/yseeku/braind/internal/audit"
	"github.com/yseeku/braind/internal/executor"
	"github.com/yseeku/braind/internal/store"
)

const instrumentationName = "github.com/yseeku/braind/internal/override"

// ErrJustificationRequired is returned when an irreversible action is
// reviewed without an adequate justification. No mutation has happened
// when this error is returned.
var ErrJustificationRequired = errors.New("justification is required for irreversible actions")

// Request is one review event against a single action.
type Request struct {
	ActionID  string          `json:"action_id"`
	Decision  action.Decision `json:"decision"`
	Reason    string          `json:"reason"`
	UserID    string          `json:"user_id"`
	Emergency bool            `json:"emergency,omitempty"`
}

// Result summarizes what one processed override did.
type Result struct {
	ActionID string          `json:"action_id"`
	Decision action.Decision `json:"decision"`
	Reverted bool            `json:"reverted"`
	Details  map[string]any  `json:"details,omitempty"`
}

// BulkRequest applies one decision to many actions independently.
type BulkRequest struct {
	ActionIDs []string        `json:"action_ids"`
	Decision  action.Decision `json:"decision"`
	Reason    string          `json:"reason"`
	UserID    string          `json:"user_id"`
}

// BulkError records one action's failure inside a bulk run.
type BulkError struct {
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

// BulkResult is the outcome of a bulk run. Partial failure is the normal
// case, not an error.
type BulkResult struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Results   []Result    `json:"results"`
	Errors    []BulkError `json:"errors"`
}

// QueueFilter narrows the review queue projection.
type QueueFilter struct {
	Statuses []action.Status
	Search   string
	Limit    int
	Offset   int
}

// HistoryFilter narrows the decision history projection.
type HistoryFilter struct {
	Decisions []action.Decision
	Limit     int
	Offset    int
}

// Stats aggregates decision and queue counts for a tenant.
type Stats struct {
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	Total        int     `json:"total"`
	ApprovalRate float64 `json:"approval_rate"`
}

// Service is the override workflow surface.
type Service interface {
	// Queue lists actions awaiting review, newest first.
	Queue(ctx context.Context, tenantID string, f QueueFilter) ([]*action.Action, error)

	// History lists past decisions, newest first.
	History(ctx context.Context, tenantID string, f HistoryFilter) ([]*action.OverrideDecision, error)

	// ProcessOverride applies one review decision, reverting the action's
	// effect on approval.
	ProcessOverride(ctx context.Context, tenantID string, req Request) (*Result, error)

	// ProcessBulkOverrides applies one decision to each listed action
	// independently. One action's failure never aborts the rest.
	ProcessBulkOverrides(ctx context.Context, tenantID string, req BulkRequest) (*BulkResult, error)

	// Stats aggregates decision counts and the approval rate.
	Stats(ctx context.Context, tenantID string) (*Stats, error)
}

// Config holds the review policy knobs.
type Config struct {
	// MinJustificationLength applies to reviews of irreversible actions.
	MinJustificationLength int
}

// DefaultServiceConfig returns the stock policy.
func DefaultServiceConfig() *Config {
	return &Config{
		MinJustificationLength: 10,
	}
}

// service implements the Service interface.
type service struct {
	config  *Config
	store   store.Store
	agents  agent.Service
	auditor audit.Sink
	logger  *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	overrideCounter metric.Int64Counter
}

// NewService creates an override service.
func NewService(cfg *Config, st store.Store, agents agent.Service, auditor audit.Sink, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.MinJustificationLength <= 0 {
		cfg.MinJustificationLength = 10
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if agents == nil {
		return nil, errors.New("agent service is required")
	}
	if auditor == nil {
		auditor = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:  cfg,
		store:   st,
		agents:  agents,
		auditor: auditor,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.overrideCounter, err = s.meter.Int64Counter(
		"braind.override.decisions_total",
		metric.WithDescription("Total number of override decisions processed"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		s.logger.Warn("failed to create override counter", zap.Error(err))
	}
}

// Queue lists actions awaiting review, newest first. Without an explicit
// status filter it shows applied actions, the ones a revert can still
// affect.
func (s *service) Queue(ctx context.Context, tenantID string, f QueueFilter) ([]*action.Action, error) {
	ctx, span := s.tracer.Start(ctx, "override.queue")
	defer span.End()

	span.SetAttributes(attribute.String("tenant_id", tenantID))

	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []action.Status{action.StatusExecuted}
	}

	return s.store.ListActions(ctx, store.ActionFilter{
		TenantID: tenantID,
		Statuses: statuses,
		Search:   f.Search,
		Limit:    f.Limit,
		Offset:   f.Offset,
	})
}

// History lists past decisions, newest first.
func (s *service) History(ctx context.Context, tenantID string, f HistoryFilter) ([]*action.OverrideDecision, error) {
	ctx, span := s.tracer.Start(ctx, "override.history")
	defer span.End()

	span.SetAttributes(attribute.String("tenant_id", tenantID))

	return s.store.ListDecisions(ctx, store.DecisionFilter{
		TenantID:  tenantID,
		Decisions: f.Decisions,
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
}

// ProcessOverride applies one review decision.
func (s *service) ProcessOverride(ctx context.Context, tenantID string, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "override.process")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("action_id", req.ActionID),
		attribute.String("decision", string(req.Decision)),
	)

	if tenantID == "" {
		return nil, action.ErrEmptyTenantID
	}
	if req.Decision != action.DecisionApprove && req.Decision != action.DecisionReject {
		return nil, fmt.Errorf("unknown decision %q", req.Decision)
	}

	a, err := s.store.GetAction(ctx, req.ActionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if a.TenantID != tenantID {
		return nil, action.ErrTenantMismatch
	}

	// Validation happens before any mutation.
	if a.Type.Irreversible() && len(strings.TrimSpace(req.Reason)) < s.config.MinJustificationLength {
		return nil, fmt.Errorf("%w: at least %d characters", ErrJustificationRequired, s.config.MinJustificationLength)
	}

	res := &Result{
		ActionID: a.ID,
		Decision: req.Decision,
		Details:  map[string]any{},
	}

	if req.Decision == action.DecisionApprove {
		if err := s.revert(ctx, a, res); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	now := time.Now()
	a.Status = action.StatusOverridden
	if req.Decision == action.DecisionApprove {
		a.ApprovedBy = req.UserID
	}
	a.Result["overridden"] = true
	a.Result["override_decision"] = string(req.Decision)
	a.Result["override_reason"] = req.Reason
	a.Result["override_user"] = req.UserID
	a.Result["reverted"] = res.Reverted
	a.Result["overridden_at"] = now.Format(time.RFC3339Nano)

	if err := s.store.UpdateAction(ctx, a); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update action: %w", err)
	}

	d := &action.OverrideDecision{
		ID:        uuid.New().String(),
		ActionID:  a.ID,
		Decision:  req.Decision,
		Reason:    req.Reason,
		Emergency: req.Emergency,
		UserID:    req.UserID,
		CreatedAt: now,
	}
	if err := s.store.CreateDecision(ctx, d); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("record decision: %w", err)
	}

	s.auditor.LogAudit(ctx, audit.Entry{
		Action:       "brain_override",
		ResourceType: "brain_action",
		ResourceID:   a.ID,
		TenantID:     a.TenantID,
		UserID:       req.UserID,
		Severity:     string(a.Severity),
		Outcome:      string(req.Decision),
		Details:      map[string]any{"reverted": res.Reverted, "reason": req.Reason},
	})

	if s.overrideCounter != nil {
		s.overrideCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", string(req.Decision)),
			attribute.Bool("reverted", res.Reverted),
		))
	}

	s.logger.Info("override processed",
		zap.String("action_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("decision", string(req.Decision)),
		zap.Bool("reverted", res.Reverted),
		zap.String("user_id", req.UserID),
	)

	return res, nil
}

// revert undoes an applied action's effect according to its type.
func (s *service) revert(ctx context.Context, a *action.Action, res *Result) error {
	switch a.Type {
	case action.TypeBanAgent, action.TypeRestrictAgent, action.TypeQuarantineAgent:
		if err := s.agents.Unban(ctx, a.Target); err != nil {
			return fmt.Errorf("restore agent %s: %w", a.Target, err)
		}
		res.Reverted = true
		res.Details["restored"] = a.Target

	case action.TypeAdjustThreshold:
		if prev, ok := toFloat(a.Result["previous_value"]); ok {
			if err := s.store.SetSetting(ctx, a.TenantID, executor.ThresholdSettingKey, strconv.FormatFloat(prev, 'f', -1, 64)); err != nil {
				return fmt.Errorf("restore threshold: %w", err)
			}
			res.Details["restored_value"] = prev
		}
		res.Reverted = true

	case action.TypeAlert:
		// Informational only. Nothing to undo.
		res.Reverted = true

	default:
		res.Reverted = false
		res.Details["message"] = "Unknown action type"
	}
	return nil
}

// ProcessBulkOverrides applies one decision per listed action. Failures
// are captured per item and never abort the loop.
func (s *service) ProcessBulkOverrides(ctx context.Context, tenantID string, req BulkRequest) (*BulkResult, error) {
	ctx, span := s.tracer.Start(ctx, "override.process_bulk")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int("action_count", len(req.ActionIDs)),
	)

	out := &BulkResult{
		Results: make([]Result, 0, len(req.ActionIDs)),
		Errors:  make([]BulkError, 0),
	}

	for _, id := range req.ActionIDs {
		res, err := s.ProcessOverride(ctx, tenantID, Request{
			ActionID: id,
			Decision: req.Decision,
			Reason:   req.Reason,
			UserID:   req.UserID,
		})
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, BulkError{ActionID: id, Error: err.Error()})
			continue
		}
		out.Processed++
		out.Results = append(out.Results, *res)
	}

	span.SetAttributes(
		attribute.Int("processed", out.Processed),
		attribute.Int("failed", out.Failed),
	)
	return out, nil
}

// Stats aggregates decision counts and the approval rate.
func (s *service) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "override.stats")
	defer span.End()

	span.SetAttributes(attribute.String("tenant_id", tenantID))

	decisions, err := s.store.ListDecisions(ctx, store.DecisionFilter{TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}

	st := &Stats{}
	for _, d := range decisions {
		switch d.Decision {
		case action.DecisionApprove:
			st.Approved++
		case action.DecisionReject:
			st.Rejected++
		}
	}
	st.Total = st.Approved + st.Rejected
	if st.Total > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(st.Total) * 100
	}

	pending, err := s.store.CountActions(ctx, store.ActionFilter{
		TenantID: tenantID,
		Statuses: []action.Status{action.StatusExecuted},
	})
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	st.Pending = pending

	return st, nil
}

// toFloat coerces a result value that round-tripped through JSON.
func toFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
