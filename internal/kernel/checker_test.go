package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yseeku/braind/internal/action"
)

func planned(typ action.Type, target, reason string, sev action.Severity) *action.Action {
	return action.NewAction("acme", "c1", action.PlannedAction{
		Type:     typ,
		Target:   target,
		Reason:   reason,
		Severity: sev,
	}, action.StatusExecuted)
}

func TestAdvisoryModeAlwaysAllowed(t *testing.T) {
	c := NewChecker(nil)

	// Would violate every rule under enforcement.
	a := planned(action.TypeBanAgent, "system", "no", "")
	d := c.Check("acme", action.ModeAdvisory, a)
	assert.True(t, d.OK)
}

func TestProtectedIdentity(t *testing.T) {
	c := NewChecker(nil)

	for _, target := range []string{"system", "kernel", "overseer"} {
		a := planned(action.TypeBanAgent, target, "sustained hostile behavior", action.SeverityHigh)
		d := c.Check("acme", action.ModeEnforced, a)
		assert.False(t, d.OK, "target %s", target)
		assert.Equal(t, RuleProtectedIdentity, d.Rule)
	}

	// Non-punitive actions may name protected targets.
	a := planned(action.TypeAlert, "system", "trust collapse detected", action.SeverityHigh)
	assert.True(t, c.Check("acme", action.ModeEnforced, a).OK)
}

func TestReasonRequired(t *testing.T) {
	c := NewChecker(nil)

	a := planned(action.TypeQuarantineAgent, "agent-1", "too short", action.SeverityHigh)
	d := c.Check("acme", action.ModeEnforced, a)
	assert.False(t, d.OK)
	assert.Equal(t, RuleReasonRequired, d.Rule)

	a = planned(action.TypeQuarantineAgent, "agent-1", "exactly 10", action.SeverityHigh)
	assert.True(t, c.Check("acme", action.ModeEnforced, a).OK)

	// Reversible actions carry no justification floor.
	a = planned(action.TypeAlert, "agent-1", "x", "")
	assert.True(t, c.Check("acme", action.ModeEnforced, a).OK)
}

func TestBanRateLimit(t *testing.T) {
	c := NewChecker(&Config{BanRatePerHour: 2})

	ban := func(tenant, target string) Decision {
		return c.Check(tenant, action.ModeEnforced, planned(action.TypeBanAgent, target, "sustained hostile behavior", action.SeverityHigh))
	}

	assert.True(t, ban("acme", "agent-1").OK)
	assert.True(t, ban("acme", "agent-1").OK)

	d := ban("acme", "agent-1")
	assert.False(t, d.OK)
	assert.Equal(t, RuleBanRateLimit, d.Rule)

	// Scoped per tenant and target.
	assert.True(t, ban("acme", "agent-2").OK)
	assert.True(t, ban("globex", "agent-1").OK)
}

func TestSeverityRequiredForQuarantine(t *testing.T) {
	c := NewChecker(nil)

	for _, sev := range []action.Severity{action.SeverityLow, action.SeverityMedium, ""} {
		a := planned(action.TypeQuarantineAgent, "agent-1", "active exfiltration attempt", sev)
		d := c.Check("acme", action.ModeEnforced, a)
		assert.False(t, d.OK, "severity %q", sev)
		assert.Equal(t, RuleSeverityRequired, d.Rule)
	}

	for _, sev := range []action.Severity{action.SeverityHigh, action.SeverityCritical} {
		a := planned(action.TypeQuarantineAgent, "agent-1", "active exfiltration attempt", sev)
		assert.True(t, c.Check("acme", action.ModeEnforced, a).OK, "severity %q", sev)
	}

	// Ban has no severity rule.
	a := planned(action.TypeBanAgent, "agent-1", "sustained hostile behavior", action.SeverityLow)
	assert.True(t, c.Check("acme", action.ModeEnforced, a).OK)
}

func TestRuleOrderReturnsFirstViolation(t *testing.T) {
	c := NewChecker(nil)

	// Violates both the protected-identity and reason rules; identity wins.
	a := planned(action.TypeBanAgent, "system", "no", "")
	d := c.Check("acme", action.ModeEnforced, a)
	assert.Equal(t, RuleProtectedIdentity, d.Rule)
}
