package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIrreversible(t *testing.T) {
	assert.True(t, TypeBanAgent.Irreversible())
	assert.True(t, TypeRestrictAgent.Irreversible())
	assert.True(t, TypeQuarantineAgent.Irreversible())

	assert.False(t, TypeAlert.Irreversible())
	assert.False(t, TypeAdjustThreshold.Irreversible())
	assert.False(t, TypeUnbanAgent.Irreversible())
	assert.False(t, Type("reboot_cluster").Irreversible())
}

func TestEmergenceRank(t *testing.T) {
	assert.Equal(t, 0, EmergenceLinear.Rank())
	assert.Equal(t, 1, EmergenceWeak.Rank())
	assert.Equal(t, 2, EmergenceHighWeak.Rank())

	// Malformed snapshots rank as the calmest level.
	assert.Equal(t, 0, EmergenceLevel("UNKNOWN").Rank())
	assert.Equal(t, 0, EmergenceLevel("").Rank())
}

func TestNewAction(t *testing.T) {
	planned := PlannedAction{
		Type:     TypeBanAgent,
		Target:   "agent-1",
		Reason:   "repeated violations",
		Severity: SeverityHigh,
		Params:   map[string]any{"duration_hours": 24.0},
	}

	a := NewAction("acme", "cycle-7", planned, StatusPlanned)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "acme", a.TenantID)
	assert.Equal(t, "cycle-7", a.CycleID)
	assert.Equal(t, TypeBanAgent, a.Type)
	assert.Equal(t, "agent-1", a.Target)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, StatusPlanned, a.Status)
	assert.NotNil(t, a.Result)
	assert.Empty(t, a.Result)
	assert.False(t, a.CreatedAt.IsZero())

	b := NewAction("acme", "cycle-7", planned, StatusPlanned)
	assert.NotEqual(t, a.ID, b.ID)
}
