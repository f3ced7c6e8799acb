package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/agent"
	"github.com/yseeku/braind/internal/alert"
	"github.com/yseeku/braind/internal/audit"
	"github.com/yseeku/braind/internal/kernel"
	"github.com/yseeku/braind/internal/memory"
	"github.com/yseeku/braind/internal/store"
)

const instrumentationName = "github.com/yseeku/braind/internal/executor"

// ThresholdSettingKey is the tenant setting the adjust_threshold handler
// reads and moves. The override service restores it on revert.
const ThresholdSettingKey = "monitoring_threshold"

// ConstraintChecker is the kernel veto gate as consumed here.
type ConstraintChecker interface {
	Check(tenantID string, mode action.Mode, a *action.Action) kernel.Decision
}

// ExecutionResult is the per-action summary returned to the caller,
// one per input action, in input order.
type ExecutionResult struct {
	ActionID string         `json:"action_id"`
	Type     action.Type    `json:"type"`
	Status   action.Status  `json:"status"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Service executes planned action batches.
type Service interface {
	// ExecuteActions processes one cycle's batch sequentially, in input
	// order, and returns one result per input action.
	ExecuteActions(ctx context.Context, tenantID, cycleID string, planned []action.PlannedAction, mode action.Mode) ([]ExecutionResult, error)
}

// Config centralizes the policy constants the handlers apply.
type Config struct {
	// DefaultThreshold is assumed when a tenant has no stored threshold.
	DefaultThreshold float64

	// ThresholdStep is how far one adjust_threshold action moves the value.
	ThresholdStep float64

	// DefaultBanSeverity applies when a ban or restriction arrives without
	// a severity.
	DefaultBanSeverity action.Severity
}

// DefaultServiceConfig returns the stock policy.
func DefaultServiceConfig() *Config {
	return &Config{
		DefaultThreshold:   75,
		ThresholdStep:      5,
		DefaultBanSeverity: action.SeverityMedium,
	}
}

// service implements the Service interface.
type service struct {
	config   *Config
	store    store.Store
	checker  ConstraintChecker
	agents   agent.Service
	memories memory.Service
	auditor  audit.Sink
	alerts   alert.Sink
	logger   *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	executedCounter metric.Int64Counter
	failedCounter   metric.Int64Counter
	refusedCounter  metric.Int64Counter

	// cycleMu guards per-tenant cycle serialization: two batches for the
	// same tenant must not interleave because later actions may read state
	// mutated by earlier ones (threshold adjustments in particular).
	cycleMu sync.Mutex
	cycles  map[string]*sync.Mutex
}

// NewService creates an action executor.
func NewService(cfg *Config, st store.Store, checker ConstraintChecker, agents agent.Service, memories memory.Service, auditor audit.Sink, alerts alert.Sink, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if checker == nil {
		return nil, errors.New("constraint checker is required")
	}
	if agents == nil {
		return nil, errors.New("agent service is required")
	}
	if memories == nil {
		return nil, errors.New("memory service is required")
	}
	if auditor == nil {
		auditor = audit.NopSink{}
	}
	if alerts == nil {
		alerts = alert.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:   cfg,
		store:    st,
		checker:  checker,
		agents:   agents,
		memories: memories,
		auditor:  auditor,
		alerts:   alerts,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		cycles:   make(map[string]*sync.Mutex),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.executedCounter, err = s.meter.Int64Counter(
		"braind.executor.actions_executed_total",
		metric.WithDescription("Total number of actions executed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		s.logger.Warn("failed to create executed counter", zap.Error(err))
	}

	s.failedCounter, err = s.meter.Int64Counter(
		"braind.executor.actions_failed_total",
		metric.WithDescription("Total number of actions that failed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		s.logger.Warn("failed to create failed counter", zap.Error(err))
	}

	s.refusedCounter, err = s.meter.Int64Counter(
		"braind.executor.actions_refused_total",
		metric.WithDescription("Total number of actions refused by the kernel"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		s.logger.Warn("failed to create refused counter", zap.Error(err))
	}
}

// tenantLock returns the serialization mutex for one tenant's cycles.
func (s *service) tenantLock(tenantID string) *sync.Mutex {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	mu, ok := s.cycles[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		s.cycles[tenantID] = mu
	}
	return mu
}

// ExecuteActions processes one cycle's batch.
func (s *service) ExecuteActions(ctx context.Context, tenantID, cycleID string, planned []action.PlannedAction, mode action.Mode) ([]ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "executor.execute_actions")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("cycle_id", cycleID),
		attribute.String("mode", string(mode)),
		attribute.Int("action_count", len(planned)),
	)

	if tenantID == "" {
		return nil, action.ErrEmptyTenantID
	}
	if mode != action.ModeAdvisory && mode != action.ModeEnforced {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	results := make([]ExecutionResult, 0, len(planned))
	for _, p := range planned {
		results = append(results, s.executeOne(ctx, tenantID, cycleID, p, mode))
	}

	span.SetAttributes(attribute.Int("result_count", len(results)))
	return results, nil
}

// executeOne runs the full pipeline for a single action. Every failure
// path converts into a terminal result for this action alone.
func (s *service) executeOne(ctx context.Context, tenantID, cycleID string, p action.PlannedAction, mode action.Mode) ExecutionResult {
	ctx, span := s.tracer.Start(ctx, "executor.execute_one")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("action_type", string(p.Type)),
	)

	p = s.applyDefaults(p)

	// Intent record first: advisory stays planned forever, enforced starts
	// executed optimistically and is demoted on refusal or handler failure.
	status := action.StatusPlanned
	if mode == action.ModeEnforced {
		status = action.StatusExecuted
	}
	a := action.NewAction(tenantID, cycleID, p, status)

	if err := s.store.CreateAction(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to persist action intent",
			zap.String("tenant_id", tenantID),
			zap.String("type", string(p.Type)),
			zap.Error(err),
		)
		return ExecutionResult{Type: p.Type, Status: action.StatusFailed, Error: err.Error()}
	}

	if mode == action.ModeAdvisory {
		return ExecutionResult{ActionID: a.ID, Type: a.Type, Status: action.StatusPlanned, Result: a.Result}
	}

	if d := s.checker.Check(tenantID, mode, a); !d.OK {
		return s.recordRefusal(ctx, a, d)
	}

	result, err := s.dispatch(ctx, a)
	if err != nil {
		return s.recordFailure(ctx, a, err)
	}

	return s.recordSuccess(ctx, a, result)
}

// applyDefaults fills the policy defaults into a plan.
func (s *service) applyDefaults(p action.PlannedAction) action.PlannedAction {
	if p.Severity == "" {
		switch p.Type {
		case action.TypeBanAgent, action.TypeRestrictAgent:
			p.Severity = s.config.DefaultBanSeverity
		}
	}
	return p
}

// recordRefusal marks a kernel veto: failed status, structured refusal
// result, refusal memory, audit entry, alert, and metric. Terminal.
func (s *service) recordRefusal(ctx context.Context, a *action.Action, d kernel.Decision) ExecutionResult {
	a.Status = action.StatusFailed
	a.Result = map[string]any{
		"refused": true,
		"rule":    d.Rule,
		"reason":  d.Reason,
	}
	if len(d.Details) > 0 {
		a.Result["details"] = d.Details
	}

	if err := s.store.UpdateAction(ctx, a); err != nil {
		s.logger.Error("failed to record refusal", zap.String("action_id", a.ID), zap.Error(err))
	}

	s.writeMemory(ctx, a.TenantID, "refusal:kernel", map[string]any{
		"action_id": a.ID,
		"type":      string(a.Type),
		"target":    a.Target,
		"rule":      d.Rule,
		"reason":    d.Reason,
	}, []string{"refusal", "kernel", string(a.Type)})

	s.auditor.LogAudit(ctx, audit.Entry{
		Action:       "kernel_refusal",
		ResourceType: "brain_action",
		ResourceID:   a.ID,
		TenantID:     a.TenantID,
		Severity:     string(a.Severity),
		Outcome:      "refused",
		Details:      map[string]any{"rule": d.Rule, "reason": d.Reason},
	})

	s.emitAlert(ctx, a, alert.Alert{
		Type:        "kernel_refusal",
		Title:       fmt.Sprintf("Kernel refused %s", a.Type),
		Description: d.Reason,
		Severity:    alert.LevelWarning,
		Details:     map[string]any{"rule": d.Rule, "action_id": a.ID},
		AgentID:     a.Target,
	})

	if s.refusedCounter != nil {
		s.refusedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(a.Type)),
			attribute.String("rule", d.Rule),
		))
	}

	s.logger.Warn("action refused by kernel",
		zap.String("action_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("rule", d.Rule),
		zap.String("reason", d.Reason),
	)

	return ExecutionResult{ActionID: a.ID, Type: a.Type, Status: a.Status, Result: a.Result}
}

// recordFailure marks a handler error. Terminal for this action only.
func (s *service) recordFailure(ctx context.Context, a *action.Action, handlerErr error) ExecutionResult {
	a.Status = action.StatusFailed
	a.Result = map[string]any{"error": handlerErr.Error()}

	if err := s.store.UpdateAction(ctx, a); err != nil {
		s.logger.Error("failed to record failure", zap.String("action_id", a.ID), zap.Error(err))
	}

	if s.failedCounter != nil {
		s.failedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(a.Type)),
		))
	}

	s.logger.Error("action handler failed",
		zap.String("action_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("target", a.Target),
		zap.Error(handlerErr),
	)

	return ExecutionResult{ActionID: a.ID, Type: a.Type, Status: a.Status, Result: a.Result, Error: handlerErr.Error()}
}

// recordSuccess finalizes an applied action: merge the handler summary,
// stamp execution time, write audit and memory trails.
func (s *service) recordSuccess(ctx context.Context, a *action.Action, result map[string]any) ExecutionResult {
	for k, v := range result {
		a.Result[k] = v
	}
	if skipped, ok := result["skipped"].(bool); ok && skipped {
		a.Status = action.StatusSkipped
	} else {
		now := time.Now()
		a.ExecutedAt = &now
	}

	if err := s.store.UpdateAction(ctx, a); err != nil {
		s.logger.Error("failed to record result", zap.String("action_id", a.ID), zap.Error(err))
	}

	s.auditor.LogAudit(ctx, audit.Entry{
		Action:       "brain_action_" + string(a.Type),
		ResourceType: "brain_action",
		ResourceID:   a.ID,
		TenantID:     a.TenantID,
		Severity:     string(a.Severity),
		Outcome:      string(a.Status),
		Details:      a.Result,
	})

	s.writeMemory(ctx, a.TenantID, "action:"+string(a.Type), map[string]any{
		"action_id": a.ID,
		"cycle_id":  a.CycleID,
		"target":    a.Target,
		"reason":    a.Reason,
		"result":    a.Result,
	}, []string{"action", string(a.Type)})

	if s.executedCounter != nil {
		s.executedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(a.Type)),
			attribute.String("status", string(a.Status)),
		))
	}

	s.logger.Info("action applied",
		zap.String("action_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("target", a.Target),
		zap.String("status", string(a.Status)),
	)

	return ExecutionResult{ActionID: a.ID, Type: a.Type, Status: a.Status, Result: a.Result}
}

// writeMemory is best-effort: a memory write failure never fails the action.
func (s *service) writeMemory(ctx context.Context, tenantID, kind string, payload map[string]any, tags []string) {
	if _, err := s.memories.Remember(ctx, tenantID, kind, payload, tags, memory.Options{}); err != nil {
		s.logger.Warn("failed to write memory",
			zap.String("tenant_id", tenantID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

// emitAlert is fire-and-forget.
func (s *service) emitAlert(ctx context.Context, a *action.Action, al alert.Alert) {
	if err := s.alerts.Create(ctx, al, a.TenantID); err != nil {
		s.logger.Warn("failed to emit alert",
			zap.String("action_id", a.ID),
			zap.Error(err),
		)
	}
}

// alertLevel maps action severity to alert level.
func alertLevel(sev action.Severity) alert.Level {
	switch sev {
	case action.SeverityCritical:
		return alert.LevelCritical
	case action.SeverityHigh:
		return alert.LevelError
	default:
		return alert.LevelWarning
	}
}

// currentThreshold reads the tenant's stored threshold, falling back to
// the configured default.
func (s *service) currentThreshold(ctx context.Context, tenantID string) (float64, error) {
	raw, ok, err := s.store.GetSetting(ctx, tenantID, ThresholdSettingKey)
	if err != nil {
		return 0, fmt.Errorf("read threshold: %w", err)
	}
	if !ok {
		return s.config.DefaultThreshold, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse threshold %q: %w", raw, err)
	}
	return v, nil
}
