package override

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/agent"
	"github.com/yseeku/braind/internal/audit"
	"github.com/yseeku/braind/internal/executor"
	"github.com/yseeku/braind/internal/store"
)

type testReview struct {
	svc    Service
	store  *store.MemStore
	agents *agent.Registry
}

func newTestReview(t *testing.T) *testReview {
	t.Helper()

	logger := zap.NewNop()
	st := store.NewMemStore()
	agents := agent.NewRegistry(logger)
	agents.Add(&agent.Agent{ID: "agent-1", TenantID: "acme", Status: agent.StatusBanned, BannedBy: "brain"})

	svc, err := NewService(nil, st, agents, audit.NopSink{}, logger)
	require.NoError(t, err)

	return &testReview{svc: svc, store: st, agents: agents}
}

// seedAction persists an executed action the review can act on.
func (r *testReview) seedAction(t *testing.T, typ action.Type, target string, result map[string]any) *action.Action {
	t.Helper()

	a := action.NewAction("acme", "c1", action.PlannedAction{
		Type:     typ,
		Target:   target,
		Reason:   "sustained hostile behavior",
		Severity: action.SeverityHigh,
	}, action.StatusExecuted)
	for k, v := range result {
		a.Result[k] = v
	}
	require.NoError(t, r.store.CreateAction(t.Context(), a))
	return a
}

func TestProcessOverrideValidation(t *testing.T) {
	r := newTestReview(t)

	t.Run("empty tenant", func(t *testing.T) {
		_, err := r.svc.ProcessOverride(t.Context(), "", Request{ActionID: "x", Decision: action.DecisionApprove})
		assert.ErrorIs(t, err, action.ErrEmptyTenantID)
	})

	t.Run("unknown decision", func(t *testing.T) {
		_, err := r.svc.ProcessOverride(t.Context(), "acme", Request{ActionID: "x", Decision: action.Decision("defer")})
		assert.Error(t, err)
	})

	t.Run("missing action", func(t *testing.T) {
		_, err := r.svc.ProcessOverride(t.Context(), "acme", Request{ActionID: "no-such-action", Decision: action.DecisionApprove})
		assert.ErrorIs(t, err, action.ErrActionNotFound)
		assert.EqualError(t, err, "Action not found")
	})

	t.Run("tenant mismatch", func(t *testing.T) {
		a := r.seedAction(t, action.TypeAlert, "system", nil)
		_, err := r.svc.ProcessOverride(t.Context(), "globex", Request{ActionID: a.ID, Decision: action.DecisionApprove})
		assert.ErrorIs(t, err, action.ErrTenantMismatch)
	})
}

func TestJustificationRequiredBeforeMutation(t *testing.T) {
	r := newTestReview(t)
	a := r.seedAction(t, action.TypeBanAgent, "agent-1", map[string]any{"banned": true})

	for _, decision := range []action.Decision{action.DecisionApprove, action.DecisionReject} {
		_, err := r.svc.ProcessOverride(t.Context(), "acme", Request{
			ActionID: a.ID,
			Decision: decision,
			Reason:   "   short  ",
			UserID:   "operator-1",
		})
		assert.ErrorIs(t, err, ErrJustificationRequired, "decision %s", decision)
	}

	// Nothing mutated.
	stored, err := r.store.GetAction(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusExecuted, stored.Status)
	assert.NotContains(t, stored.Result, "overridden")

	ag, err := r.agents.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusBanned, ag.Status)
}

func TestApproveBanReverts(t *testing.T) {
	r := newTestReview(t)
	a := r.seedAction(t, action.TypeBanAgent, "agent-1", map[string]any{"banned": true})

	res, err := r.svc.ProcessOverride(t.Context(), "acme", Request{
		ActionID: a.ID,
		Decision: action.DecisionApprove,
		Reason:   "banned on a false positive",
		UserID:   "operator-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Reverted)
	assert.Equal(t, "agent-1", res.Details["restored"])

	ag, err := r.agents.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusActive, ag.Status)
	assert.Empty(t, ag.BannedBy)

	stored, err := r.store.GetAction(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusOverridden, stored.Status)
	assert.Equal(t, "operator-1", stored.ApprovedBy)
	assert.Equal(t, true, stored.Result["overridden"])
	assert.Equal(t, "approve", stored.Result["override_decision"])
	assert.Equal(t, true, stored.Result["reverted"])

	// Decision trail appended.
	decisions, err := r.svc.History(t.Context(), "acme", HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, a.ID, decisions[0].ActionID)
	assert.Equal(t, action.DecisionApprove, decisions[0].Decision)
}

func TestRejectAnnotatesWithoutReverting(t *testing.T) {
	r := newTestReview(t)
	a := r.seedAction(t, action.TypeBanAgent, "agent-1", map[string]any{"banned": true})

	res, err := r.svc.ProcessOverride(t.Context(), "acme", Request{
		ActionID: a.ID,
		Decision: action.DecisionReject,
		Reason:   "the ban was warranted",
		UserID:   "operator-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Reverted)

	// Ban stands.
	ag, err := r.agents.FindByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusBanned, ag.Status)

	stored, err := r.store.GetAction(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusOverridden, stored.Status)
	assert.Empty(t, stored.ApprovedBy)
	assert.Equal(t, "reject", stored.Result["override_decision"])
}

func TestApproveThresholdRestoresPreviousValue(t *testing.T) {
	r := newTestReview(t)
	require.NoError(t, r.store.SetSetting(t.Context(), "acme", executor.ThresholdSettingKey, "70"))

	a := r.seedAction(t, action.TypeAdjustThreshold, "monitoring", map[string]any{
		"previous_value": 75.0,
		"new_value":      70.0,
	})

	res, err := r.svc.ProcessOverride(t.Context(), "acme", Request{
		ActionID: a.ID,
		Decision: action.DecisionApprove,
		Reason:   "adjustment was premature",
		UserID:   "operator-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Reverted)
	assert.Equal(t, 75.0, res.Details["restored_value"])

	raw, ok, err := r.store.GetSetting(t.Context(), "acme", executor.ThresholdSettingKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "75", raw)
}

func TestApproveUnknownTypeIsBookkeepingOnly(t *testing.T) {
	r := newTestReview(t)
	a := r.seedAction(t, action.TypeUnbanAgent, "agent-1", map[string]any{"unbanned": true})

	res, err := r.svc.ProcessOverride(t.Context(), "acme", Request{
		ActionID: a.ID,
		Decision: action.DecisionApprove,
		Reason:   "no reversal defined for unban",
		UserID:   "operator-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Reverted)
	assert.Equal(t, "Unknown action type", res.Details["message"])

	stored, err := r.store.GetAction(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusOverridden, stored.Status)
}

func TestProcessBulkOverridesIsolatesFailures(t *testing.T) {
	r := newTestReview(t)
	a := r.seedAction(t, action.TypeAlert, "system", map[string]any{"alerted": true})

	res, err := r.svc.ProcessBulkOverrides(t.Context(), "acme", BulkRequest{
		ActionIDs: []string{a.ID, "no-such-action"},
		Decision:  action.DecisionApprove,
		Reason:    "cycle-wide rollback after incident review",
		UserID:    "operator-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 1)
	assert.Equal(t, a.ID, res.Results[0].ActionID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "no-such-action", res.Errors[0].ActionID)
	assert.Equal(t, "Action not found", res.Errors[0].Error)
}

func TestQueueDefaultsToExecuted(t *testing.T) {
	r := newTestReview(t)
	executed := r.seedAction(t, action.TypeAlert, "system", nil)

	planned := action.NewAction("acme", "c1", action.PlannedAction{
		Type: action.TypeAlert, Target: "system", Reason: "advisory only entry",
	}, action.StatusPlanned)
	require.NoError(t, r.store.CreateAction(t.Context(), planned))

	queue, err := r.svc.Queue(t.Context(), "acme", QueueFilter{})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, executed.ID, queue[0].ID)

	// An explicit status filter widens the view.
	queue, err = r.svc.Queue(t.Context(), "acme", QueueFilter{
		Statuses: []action.Status{action.StatusPlanned, action.StatusExecuted},
	})
	require.NoError(t, err)
	assert.Len(t, queue, 2)
}

func TestStats(t *testing.T) {
	r := newTestReview(t)

	t.Run("zero denominator", func(t *testing.T) {
		st, err := r.svc.Stats(t.Context(), "acme")
		require.NoError(t, err)
		assert.Zero(t, st.Total)
		assert.Zero(t, st.ApprovalRate)
	})

	t.Run("counts and rate", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			a := r.seedAction(t, action.TypeAlert, "system", nil)
			decision := action.DecisionApprove
			if i == 2 {
				decision = action.DecisionReject
			}
			_, err := r.svc.ProcessOverride(t.Context(), "acme", Request{
				ActionID: a.ID,
				Decision: decision,
				Reason:   "reviewed during incident retro",
				UserID:   "operator-1",
			})
			require.NoError(t, err)
		}
		pending := r.seedAction(t, action.TypeAlert, "system", nil)
		_ = pending

		st, err := r.svc.Stats(t.Context(), "acme")
		require.NoError(t, err)
		assert.Equal(t, 2, st.Approved)
		assert.Equal(t, 1, st.Rejected)
		assert.Equal(t, 3, st.Total)
		assert.InDelta(t, 66.67, st.ApprovalRate, 0.01)
		assert.Equal(t, 1, st.Pending)
	})
}
