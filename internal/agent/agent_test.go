package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yseeku/braind/internal/action"
)

func seedRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry(nil)
	r.Add(&Agent{ID: "agent-1", TenantID: "acme", OpenSessions: 2})
	return r
}

func TestFindByIDClones(t *testing.T) {
	r := seedRegistry(t)

	a, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)

	// Mutating the returned copy must not leak into the registry.
	a.Status = StatusBanned
	a.RestrictedFeatures = append(a.RestrictedFeatures, "shell")

	again, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
	assert.Empty(t, again.RestrictedFeatures)

	_, err = r.FindByID(t.Context(), "no-such-agent")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestBanClearsSessions(t *testing.T) {
	r := seedRegistry(t)

	expires := time.Now().Add(24 * time.Hour)
	res, err := r.Ban(t.Context(), "agent-1", "brain", "repeated violations", action.SeverityHigh, &expires)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SessionsCleared)

	a, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBanned, a.Status)
	assert.Equal(t, "brain", a.BannedBy)
	assert.Equal(t, action.SeverityHigh, a.BanSeverity)
	assert.Zero(t, a.OpenSessions)
	require.NotNil(t, a.BanExpiresAt)

	_, err = r.Ban(t.Context(), "no-such-agent", "brain", "x", action.SeverityLow, nil)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestUnbanClearsAllPunitiveState(t *testing.T) {
	r := seedRegistry(t)

	_, err := r.Ban(t.Context(), "agent-1", "brain", "repeated violations", action.SeverityHigh, nil)
	require.NoError(t, err)
	require.NoError(t, r.Restrict(t.Context(), "agent-1", []string{"shell"}, "lockdown"))

	require.NoError(t, r.Unban(t.Context(), "agent-1"))

	a, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)
	assert.Empty(t, a.BannedBy)
	assert.Empty(t, a.BanReason)
	assert.Empty(t, a.RestrictedFeatures)
	assert.Nil(t, a.BanExpiresAt)
}

func TestUnbanActiveAgentIsNoOp(t *testing.T) {
	r := seedRegistry(t)

	require.NoError(t, r.Unban(t.Context(), "agent-1"))

	a, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)
}

func TestRestrictCopiesFeatures(t *testing.T) {
	r := seedRegistry(t)

	features := []string{"external_actions"}
	require.NoError(t, r.Restrict(t.Context(), "agent-1", features, "probation"))
	features[0] = "mutated"

	a, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRestricted, a.Status)
	assert.Equal(t, []string{"external_actions"}, a.RestrictedFeatures)
}

func TestQuarantine(t *testing.T) {
	r := seedRegistry(t)

	require.NoError(t, r.Quarantine(t.Context(), "agent-1", "anomalous behavior"))

	a, err := r.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, a.Status)
	assert.Equal(t, "anomalous behavior", a.BanReason)

	assert.ErrorIs(t, r.Quarantine(t.Context(), "no-such-agent", "x"), ErrAgentNotFound)
}

func TestAddDefaultsStatusAndClones(t *testing.T) {
	r := NewRegistry(nil)

	src := &Agent{ID: "agent-9", TenantID: "acme"}
	r.Add(src)
	src.OpenSessions = 99

	a, err := r.FindByID(t.Context(), "agent-9")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)
	assert.Zero(t, a.OpenSessions)
	assert.False(t, a.UpdatedAt.IsZero())
}
