// Package alert defines the human-facing alert sink port with a NATS
// publisher and a no-op fallback. Alerts are fire-and-forget from the
// pipeline's perspective: publish failures are logged and never fail the
// action that raised them.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Level grades an alert for notification routing.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Alert is one human-facing notification.
type Alert struct {
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Level          `json:"severity"`
	Details     map[string]any `json:"details,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink delivers alerts to the notification transport.
type Sink interface {
	Create(ctx context.Context, a Alert, tenantID string) error
}

// NATSSink publishes alerts to brain.alerts.<tenant>.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink creates a sink on an established NATS connection.
// subjectPrefix defaults to "brain.alerts".
func NewNATSSink(nc *nats.Conn, subjectPrefix string, logger *zap.Logger) *NATSSink {
	if subjectPrefix == "" {
		subjectPrefix = "brain.alerts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{nc: nc, subject: subjectPrefix, logger: logger}
}

var _ Sink = (*NATSSink)(nil)

// Create publishes the alert. The pipeline treats failures as
// fire-and-forget; the error return is for callers that want to log it.
func (s *NATSSink) Create(ctx context.Context, a Alert, tenantID string) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	subject := s.subject + "." + tenantID
	if err := s.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	s.logger.Debug("alert published",
		zap.String("subject", subject),
		zap.String("type", a.Type),
		zap.String("severity", string(a.Severity)),
	)
	return nil
}

// NopSink discards alerts. Used when no NATS transport is configured.
type NopSink struct{}

// Create discards the alert.
func (NopSink) Create(ctx context.Context, a Alert, tenantID string) error { return nil }
