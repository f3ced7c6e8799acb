// Package kernel implements the constraint checker: a deterministic,
// side-effect-free veto gate evaluated before any enforced action.
//
// The checker walks an ordered list of hard rules and returns the first
// violation; absence of violation means allow. Rule identifiers are stable
// strings usable as metric labels. There is no partial allow; a refused
// action is terminal for the executor.
package kernel

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yseeku/braind/internal/action"
)

// Stable rule identifiers.
const (
	RuleProtectedIdentity = "protected_identity"
	RuleReasonRequired    = "reason_required"
	RuleBanRateLimit      = "ban_rate_limit"
	RuleSeverityRequired  = "severity_required_for_critical"
)

// Decision is the checker's verdict for one proposed action.
type Decision struct {
	OK      bool           `json:"ok"`
	Rule    string         `json:"rule,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Allow is the verdict when no rule is violated.
func Allow() Decision { return Decision{OK: true} }

// Refuse builds a refusal verdict for the given rule.
func Refuse(rule, reason string, details map[string]any) Decision {
	return Decision{OK: false, Rule: rule, Reason: reason, Details: details}
}

// Config holds the constraint policy.
type Config struct {
	// ProtectedIdentities are targets that punitive actions may never touch.
	ProtectedIdentities []string

	// MinReasonLength is the justification floor for irreversible actions.
	MinReasonLength int

	// BanRatePerHour bounds repeated bans of the same target per tenant.
	BanRatePerHour int
}

// DefaultConfig returns the stock constraint policy.
func DefaultConfig() *Config {
	return &Config{
		ProtectedIdentities: []string{"system", "kernel", "overseer"},
		MinReasonLength:     10,
		BanRatePerHour:      3,
	}
}

// Checker evaluates the hard-rule list. It performs no I/O; the only state
// it keeps is the in-process token bucket behind the ban rate-limit rule.
type Checker struct {
	config    *Config
	protected map[string]struct{}

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewChecker creates a checker with the given policy. A nil config uses
// the defaults.
func NewChecker(cfg *Config) *Checker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MinReasonLength <= 0 {
		cfg.MinReasonLength = 10
	}
	if cfg.BanRatePerHour <= 0 {
		cfg.BanRatePerHour = 3
	}

	protected := make(map[string]struct{}, len(cfg.ProtectedIdentities))
	for _, id := range cfg.ProtectedIdentities {
		protected[id] = struct{}{}
	}

	return &Checker{
		config:    cfg,
		protected: protected,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Check evaluates the ordered rule list against one proposed action and
// returns the first violated rule. Advisory-mode actions are never applied,
// so they are always allowed through.
func (c *Checker) Check(tenantID string, mode action.Mode, a *action.Action) Decision {
	if mode != action.ModeEnforced {
		return Allow()
	}

	if d := c.checkProtectedIdentity(a); !d.OK {
		return d
	}
	if d := c.checkReasonRequired(a); !d.OK {
		return d
	}
	if d := c.checkBanRateLimit(tenantID, a); !d.OK {
		return d
	}
	if d := c.checkSeverityRequired(a); !d.OK {
		return d
	}
	return Allow()
}

func (c *Checker) checkProtectedIdentity(a *action.Action) Decision {
	if !a.Type.Irreversible() {
		return Allow()
	}
	if _, hit := c.protected[a.Target]; hit {
		return Refuse(RuleProtectedIdentity,
			fmt.Sprintf("%s against protected system identity %q is never permitted", a.Type, a.Target),
			map[string]any{"target": a.Target})
	}
	return Allow()
}

func (c *Checker) checkReasonRequired(a *action.Action) Decision {
	if !a.Type.Irreversible() {
		return Allow()
	}
	if len(a.Reason) < c.config.MinReasonLength {
		return Refuse(RuleReasonRequired,
			fmt.Sprintf("irreversible action %s requires a justification of at least %d characters", a.Type, c.config.MinReasonLength),
			map[string]any{"reason_length": len(a.Reason), "minimum": c.config.MinReasonLength})
	}
	return Allow()
}

func (c *Checker) checkBanRateLimit(tenantID string, a *action.Action) Decision {
	if a.Type != action.TypeBanAgent {
		return Allow()
	}

	key := tenantID + "/" + a.Target

	c.mu.Lock()
	lim, ok := c.limiters[key]
	if !ok {
		per := time.Hour / time.Duration(c.config.BanRatePerHour)
		lim = rate.NewLimiter(rate.Every(per), c.config.BanRatePerHour)
		c.limiters[key] = lim
	}
	c.mu.Unlock()

	if !lim.Allow() {
		return Refuse(RuleBanRateLimit,
			fmt.Sprintf("target %q was already banned %d times within the last hour", a.Target, c.config.BanRatePerHour),
			map[string]any{"target": a.Target, "limit_per_hour": c.config.BanRatePerHour})
	}
	return Allow()
}

func (c *Checker) checkSeverityRequired(a *action.Action) Decision {
	if a.Type != action.TypeQuarantineAgent {
		return Allow()
	}
	if a.Severity != action.SeverityHigh && a.Severity != action.SeverityCritical {
		return Refuse(RuleSeverityRequired,
			"quarantine requires severity high or critical",
			map[string]any{"severity": string(a.Severity)})
	}
	return Allow()
}
