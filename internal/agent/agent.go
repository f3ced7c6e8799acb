// Package agent defines the target-entity port consumed by the executor
// and override service, plus an in-memory registry used as the default
// wiring and in tests. Production deployments implement Service against
// the platform's real agent store; cascading concerns inside a capability
// call (session archival, notification fan-out) belong to that
// implementation, not to the governance core.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
)

// ErrAgentNotFound is returned when the target entity does not exist.
var ErrAgentNotFound = errors.New("agent not found")

// Status is the entity's governance state.
type Status string

const (
	StatusActive      Status = "active"
	StatusBanned      Status = "banned"
	StatusRestricted  Status = "restricted"
	StatusQuarantined Status = "quarantined"
)

// Agent is the governed entity as seen by this core.
type Agent struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	Status             Status          `json:"status"`
	BannedBy           string          `json:"banned_by,omitempty"`
	BanReason          string          `json:"ban_reason,omitempty"`
	BanSeverity        action.Severity `json:"ban_severity,omitempty"`
	BanExpiresAt       *time.Time      `json:"ban_expires_at,omitempty"`
	RestrictedFeatures []string        `json:"restricted_features,omitempty"`
	OpenSessions       int             `json:"open_sessions"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// BanResult summarizes what a ban changed.
type BanResult struct {
	SessionsCleared int `json:"sessions_cleared"`
}

// Service is the capability surface of the external agent store.
type Service interface {
	// FindByID returns the agent or ErrAgentNotFound.
	FindByID(ctx context.Context, id string) (*Agent, error)

	// Ban marks the agent banned and archives its open sessions.
	Ban(ctx context.Context, id, by, reason string, severity action.Severity, expiresAt *time.Time) (*BanResult, error)

	// Unban restores the agent to active and clears any restriction or
	// quarantine state.
	Unban(ctx context.Context, id string) error

	// Restrict disables the given features.
	Restrict(ctx context.Context, id string, features []string, reason string) error

	// Quarantine isolates the agent entirely.
	Quarantine(ctx context.Context, id, reason string) error
}

// Registry is the in-memory Service implementation.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]*Agent),
		logger: logger,
	}
}

var _ Service = (*Registry)(nil)

// Add registers an agent. Used by the daemon's seed path and by tests.
func (r *Registry) Add(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status == "" {
		a.Status = StatusActive
	}
	a.UpdatedAt = time.Now()
	clone := *a
	r.agents[a.ID] = &clone
}

// FindByID returns the agent or ErrAgentNotFound.
func (r *Registry) FindByID(ctx context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	clone := *a
	clone.RestrictedFeatures = append([]string(nil), a.RestrictedFeatures...)
	return &clone, nil
}

// Ban marks the agent banned and archives its open sessions.
func (r *Registry) Ban(ctx context.Context, id, by, reason string, severity action.Severity, expiresAt *time.Time) (*BanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}

	cleared := a.OpenSessions
	a.Status = StatusBanned
	a.BannedBy = by
	a.BanReason = reason
	a.BanSeverity = severity
	a.BanExpiresAt = expiresAt
	a.OpenSessions = 0
	a.UpdatedAt = time.Now()

	r.logger.Info("agent banned",
		zap.String("agent_id", id),
		zap.String("banned_by", by),
		zap.Int("sessions_cleared", cleared),
	)

	return &BanResult{SessionsCleared: cleared}, nil
}

// Unban restores the agent to active.
func (r *Registry) Unban(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}

	a.Status = StatusActive
	a.BannedBy = ""
	a.BanReason = ""
	a.BanSeverity = ""
	a.BanExpiresAt = nil
	a.RestrictedFeatures = nil
	a.UpdatedAt = time.Now()

	r.logger.Info("agent restored", zap.String("agent_id", id))
	return nil
}

// Restrict disables the given features.
func (r *Registry) Restrict(ctx context.Context, id string, features []string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}

	a.Status = StatusRestricted
	a.RestrictedFeatures = append([]string(nil), features...)
	a.BanReason = reason
	a.UpdatedAt = time.Now()

	r.logger.Info("agent restricted",
		zap.String("agent_id", id),
		zap.Strings("features", features),
	)
	return nil
}

// Quarantine isolates the agent entirely.
func (r *Registry) Quarantine(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}

	a.Status = StatusQuarantined
	a.BanReason = reason
	a.UpdatedAt = time.Now()

	r.logger.Warn("agent quarantined",
		zap.String("agent_id", id),
		zap.String("reason", reason),
	)
	return nil
}
