// Package audit defines the audit sink port and a zap-backed sink.
//
// Audit emission is best-effort by contract: a sink failure is logged and
// swallowed, never surfaced to the operation that produced the entry.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Entry is one audit record. Kept transport-agnostic so stores and sinks
// can fan out.
type Entry struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	UserID       string         `json:"user_id,omitempty"`
	TenantID     string         `json:"tenant_id"`
	Severity     string         `json:"severity,omitempty"`
	Outcome      string         `json:"outcome"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Sink receives audit entries. Implementations must never propagate their
// own failures to the caller.
type Sink interface {
	LogAudit(ctx context.Context, e Entry)
}

// ZapSink writes audit entries as structured log records on a dedicated
// named logger, so log pipelines can route them separately.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates an audit sink on the given logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

var _ Sink = (*ZapSink)(nil)

// LogAudit writes the entry. Best-effort: there is nothing to fail here,
// and a downstream encoder error stays inside zap.
func (s *ZapSink) LogAudit(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.logger.Info("audit",
		zap.String("action", e.Action),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", e.ResourceID),
		zap.String("user_id", e.UserID),
		zap.String("tenant_id", e.TenantID),
		zap.String("severity", e.Severity),
		zap.String("outcome", e.Outcome),
		zap.Any("details", e.Details),
		zap.Time("at", e.Timestamp),
	)
}

// NopSink discards entries.
type NopSink struct{}

// LogAudit discards the entry.
func (NopSink) LogAudit(ctx context.Context, e Entry) {}
