package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/memory"
	"github.com/yseeku/braind/internal/store"
)

const instrumentationName = "github.com/yseeku/braind/internal/feedback"

// OutcomeMemoryKind is where recorded outcomes land in the memory store.
const OutcomeMemoryKind = "feedback:action_outcome"

// RecommendationsMemoryKind is where the latest recommendation set lands.
const RecommendationsMemoryKind = "feedback:recommendations"

// Effectiveness is the per-type score computed over recorded outcomes.
type Effectiveness struct {
	ActionType  action.Type `json:"action_type"`
	SuccessRate float64     `json:"success_rate"`
	AvgImpact   float64     `json:"avg_impact"`
	SampleSize  int         `json:"sample_size"`
}

// Adjustment is a recommended change to an action type's usage.
type Adjustment string

const (
	AdjustIncrease Adjustment = "increase"
	AdjustDecrease Adjustment = "decrease"
	AdjustMaintain Adjustment = "maintain"
)

// Recommendation is one per-type planning hint.
type Recommendation struct {
	ActionType action.Type `json:"action_type"`
	Adjustment Adjustment  `json:"adjustment"`
	Reason     string      `json:"reason"`
}

// Service is the feedback loop surface.
type Service interface {
	// RecordActionOutcome folds an observed outcome into the action's
	// result and the memory store. A missing action is a logged no-op.
	RecordActionOutcome(ctx context.Context, tenantID string, outcome action.Outcome) error

	// CalculateEffectiveness scores one action type over its recorded
	// outcomes, with a neutral default when nothing has been recorded.
	CalculateEffectiveness(ctx context.Context, tenantID string, actionType action.Type) (*Effectiveness, error)

	// MeasureActionImpact derives an outcome from before/after system
	// snapshots and persists it.
	MeasureActionImpact(ctx context.Context, tenantID, actionID string, pre, post action.SystemState) (*action.Outcome, error)

	// GetActionRecommendations emits one adjustment per known action type.
	GetActionRecommendations(ctx context.Context, tenantID string) ([]Recommendation, error)

	// GetRecentOutcomes returns the most recent recorded outcome payloads.
	GetRecentOutcomes(ctx context.Context, tenantID string, limit int) ([]map[string]any, error)
}

// Config holds the scoring policy knobs.
type Config struct {
	// MinSampleSize gates recommendations; below it the engine maintains.
	MinSampleSize int

	// IncreaseSuccessRate and IncreaseAvgImpact are the floor for an
	// increase recommendation.
	IncreaseSuccessRate float64
	IncreaseAvgImpact   float64

	// DecreaseSuccessRate is the ceiling for a decrease recommendation,
	// paired with a negative average impact.
	DecreaseSuccessRate float64
}

// DefaultServiceConfig returns the stock policy.
func DefaultServiceConfig() *Config {
	return &Config{
		MinSampleSize:       5,
		IncreaseSuccessRate: 0.7,
		IncreaseAvgImpact:   0.3,
		DecreaseSuccessRate: 0.4,
	}
}

// knownTypes is the recommendation universe. Open-ended action types
// outside this list are still recorded; they just get no standing hint.
var knownTypes = []action.Type{
	action.TypeAlert,
	action.TypeAdjustThreshold,
	action.TypeBanAgent,
	action.TypeRestrictAgent,
	action.TypeQuarantineAgent,
	action.TypeUnbanAgent,
}

// service implements the Service interface.
type service struct {
	config   *Config
	store    store.Store
	memories memory.Service
	logger   *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	outcomeCounter metric.Int64Counter
}

// NewService creates a feedback engine.
func NewService(cfg *Config, st store.Store, memories memory.Service, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if memories == nil {
		return nil, errors.New("memory service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:   cfg,
		store:    st,
		memories: memories,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.outcomeCounter, err = s.meter.Int64Counter(
		"braind.feedback.outcomes_recorded_total",
		metric.WithDescription("Total number of action outcomes recorded"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		s.logger.Warn("failed to create outcome counter", zap.Error(err))
	}
}

// RecordActionOutcome folds an observed outcome into the action record and
// the memory store. A missing action is logged and swallowed: the
// observation process must never fail because the record aged out.
func (s *service) RecordActionOutcome(ctx context.Context, tenantID string, outcome action.Outcome) error {
	ctx, span := s.tracer.Start(ctx, "feedback.record_outcome")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("action_id", outcome.ActionID),
		attribute.Bool("success", outcome.Success),
	)

	if tenantID == "" {
		return action.ErrEmptyTenantID
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}

	a, err := s.store.GetAction(ctx, outcome.ActionID)
	if errors.Is(err, action.ErrActionNotFound) {
		s.logger.Warn("outcome references missing action",
			zap.String("tenant_id", tenantID),
			zap.String("action_id", outcome.ActionID),
		)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load action: %w", err)
	}
	if a.TenantID != tenantID {
		return action.ErrTenantMismatch
	}

	if a.Result == nil {
		a.Result = map[string]any{}
	}
	a.Result["outcome"] = map[string]any{
		"success":   outcome.Success,
		"impact":    outcome.Impact,
		"metrics":   outcome.Metrics,
		"timestamp": outcome.Timestamp.Format(time.RFC3339Nano),
	}

	if err := s.store.UpdateAction(ctx, a); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update action: %w", err)
	}

	if _, err := s.memories.Remember(ctx, tenantID, OutcomeMemoryKind, map[string]any{
		"action_id":   a.ID,
		"action_type": string(a.Type),
		"success":     outcome.Success,
		"impact":      outcome.Impact,
		"metrics":     outcome.Metrics,
	}, []string{"feedback", "outcome", string(a.Type)}, memory.Options{}); err != nil {
		s.logger.Warn("failed to write outcome memory",
			zap.String("action_id", a.ID),
			zap.Error(err),
		)
	}

	if s.outcomeCounter != nil {
		s.outcomeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(a.Type)),
			attribute.Bool("success", outcome.Success),
		))
	}

	return nil
}

// CalculateEffectiveness scores one action type over recorded outcomes.
// With no samples it returns the neutral default rather than an error.
func (s *service) CalculateEffectiveness(ctx context.Context, tenantID string, actionType action.Type) (*Effectiveness, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.calculate_effectiveness")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("action_type", string(actionType)),
	)

	if tenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	actions, err := s.store.ListActions(ctx, store.ActionFilter{
		TenantID: tenantID,
		Types:    []action.Type{actionType},
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list actions: %w", err)
	}

	var total, successes int
	var impactSum float64
	for _, a := range actions {
		outcome, ok := a.Result["outcome"].(map[string]any)
		if !ok {
			continue
		}
		total++
		if success, _ := outcome["success"].(bool); success {
			successes++
		}
		if impact, ok := asFloat(outcome["impact"]); ok {
			impactSum += impact
		}
	}

	eff := &Effectiveness{ActionType: actionType}
	if total == 0 {
		// Neutral prior until real outcomes arrive.
		eff.SuccessRate = 0.5
	} else {
		eff.SuccessRate = float64(successes) / float64(total)
		eff.AvgImpact = impactSum / float64(total)
		eff.SampleSize = total
	}

	if _, err := s.memories.Remember(ctx, tenantID, "effectiveness:"+string(actionType), map[string]any{
		"action_type":  string(actionType),
		"success_rate": eff.SuccessRate,
		"avg_impact":   eff.AvgImpact,
		"sample_size":  eff.SampleSize,
	}, []string{"effectiveness", string(actionType)}, memory.Options{}); err != nil {
		s.logger.Warn("failed to write effectiveness memory",
			zap.String("action_type", string(actionType)),
			zap.Error(err),
		)
	}

	span.SetAttributes(
		attribute.Float64("success_rate", eff.SuccessRate),
		attribute.Int("sample_size", eff.SampleSize),
	)
	return eff, nil
}

// MeasureActionImpact derives an outcome from before/after snapshots and
// persists it through the outcome path.
func (s *service) MeasureActionImpact(ctx context.Context, tenantID, actionID string, pre, post action.SystemState) (*action.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.measure_impact")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("action_id", actionID),
	)

	if tenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	a, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if a.TenantID != tenantID {
		return nil, action.ErrTenantMismatch
	}

	trustDelta := post.AvgTrust - pre.AvgTrust
	emergenceDelta := pre.EmergenceLevel.Rank() - post.EmergenceLevel.Rank()

	outcome := &action.Outcome{
		ActionID:  actionID,
		Timestamp: time.Now(),
		Metrics: map[string]float64{
			"trust_delta":     trustDelta,
			"emergence_delta": float64(emergenceDelta),
		},
	}

	switch a.Type {
	case action.TypeAlert:
		// Informational. State deltas say nothing about whether the alert
		// was worth raising.
		outcome.Success = true
		outcome.Impact = 0.1

	case action.TypeBanAgent, action.TypeRestrictAgent, action.TypeQuarantineAgent:
		outcome.Success = trustDelta >= 0 || emergenceDelta > 0
		outcome.Impact = clamp(trustDelta * 2)
		if emergenceDelta > 0 {
			outcome.Impact = clamp(outcome.Impact + 0.2*float64(emergenceDelta))
		}

	case action.TypeUnbanAgent:
		outcome.Success = trustDelta >= 0
		outcome.Impact = clamp(trustDelta * 2)

	default:
		outcome.Success = trustDelta >= 0
		outcome.Impact = clamp(trustDelta * 2)
	}

	if err := s.RecordActionOutcome(ctx, tenantID, *outcome); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("record outcome: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("success", outcome.Success),
		attribute.Float64("impact", outcome.Impact),
	)
	return outcome, nil
}

// GetActionRecommendations scores every known type and emits one
// adjustment each, persisting the full set for the planning process.
func (s *service) GetActionRecommendations(ctx context.Context, tenantID string) ([]Recommendation, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.recommendations")
	defer span.End()

	span.SetAttributes(attribute.String("tenant_id", tenantID))

	if tenantID == "" {
		return nil, action.ErrEmptyTenantID
	}

	recs := make([]Recommendation, 0, len(knownTypes))
	for _, t := range knownTypes {
		eff, err := s.latestEffectiveness(ctx, tenantID, t)
		if err != nil {
			return nil, err
		}
		recs = append(recs, s.recommend(eff))
	}

	payload := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		payload = append(payload, map[string]any{
			"action_type": string(r.ActionType),
			"adjustment":  string(r.Adjustment),
			"reason":      r.Reason,
		})
	}
	if _, err := s.memories.Remember(ctx, tenantID, RecommendationsMemoryKind, map[string]any{
		"recommendations": payload,
		"generated_at":    time.Now().Format(time.RFC3339Nano),
	}, []string{"feedback", "recommendations"}, memory.Options{}); err != nil {
		s.logger.Warn("failed to write recommendations memory", zap.Error(err))
	}

	return recs, nil
}

// latestEffectiveness reads the stored score for a type, computing fresh
// when none has been stored yet.
func (s *service) latestEffectiveness(ctx context.Context, tenantID string, t action.Type) (*Effectiveness, error) {
	row, err := s.memories.Recall(ctx, tenantID, "effectiveness:"+string(t))
	if err != nil {
		return nil, fmt.Errorf("recall effectiveness: %w", err)
	}
	if row == nil {
		return s.CalculateEffectiveness(ctx, tenantID, t)
	}

	eff := &Effectiveness{ActionType: t}
	if v, ok := asFloat(row.Payload["success_rate"]); ok {
		eff.SuccessRate = v
	}
	if v, ok := asFloat(row.Payload["avg_impact"]); ok {
		eff.AvgImpact = v
	}
	if v, ok := asFloat(row.Payload["sample_size"]); ok {
		eff.SampleSize = int(v)
	}
	return eff, nil
}

// recommend applies the adjustment thresholds to one score.
func (s *service) recommend(eff *Effectiveness) Recommendation {
	r := Recommendation{ActionType: eff.ActionType}

	switch {
	case eff.SampleSize < s.config.MinSampleSize:
		r.Adjustment = AdjustMaintain
		r.Reason = fmt.Sprintf("insufficient data: %d of %d outcomes recorded", eff.SampleSize, s.config.MinSampleSize)

	case eff.SuccessRate >= s.config.IncreaseSuccessRate && eff.AvgImpact >= s.config.IncreaseAvgImpact:
		r.Adjustment = AdjustIncrease
		r.Reason = fmt.Sprintf("high effectiveness: %.0f%% success rate, %.2f average impact", eff.SuccessRate*100, eff.AvgImpact)

	case eff.SuccessRate <= s.config.DecreaseSuccessRate && eff.AvgImpact < 0:
		r.Adjustment = AdjustDecrease
		r.Reason = fmt.Sprintf("low effectiveness: %.0f%% success rate, %.2f average impact", eff.SuccessRate*100, eff.AvgImpact)

	default:
		r.Adjustment = AdjustMaintain
		r.Reason = fmt.Sprintf("effectiveness within normal range: %.0f%% success rate", eff.SuccessRate*100)
	}

	return r
}

// GetRecentOutcomes returns the most recent recorded outcome payloads.
func (s *service) GetRecentOutcomes(ctx context.Context, tenantID string, limit int) ([]map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.recent_outcomes")
	defer span.End()

	span.SetAttributes(attribute.String("tenant_id", tenantID))

	rows, err := s.memories.RecallMany(ctx, tenantID, OutcomeMemoryKind, limit)
	if err != nil {
		return nil, fmt.Errorf("recall outcomes: %w", err)
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Payload)
	}
	return out, nil
}

// clamp bounds an impact score to [-1, 1].
func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// asFloat coerces a payload value that round-tripped through JSON.
func asFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	default:
		return 0, false
	}
}
