package feedback

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/memory"
	"github.com/yseeku/braind/internal/store"
)

type testFeedback struct {
	svc      Service
	store    *store.MemStore
	memories memory.Service
}

func newTestFeedback(t *testing.T) *testFeedback {
	t.Helper()

	logger := zap.NewNop()
	st := store.NewMemStore()
	memories, err := memory.NewService(nil, st, logger)
	require.NoError(t, err)

	svc, err := NewService(nil, st, memories, logger)
	require.NoError(t, err)

	return &testFeedback{svc: svc, store: st, memories: memories}
}

func (f *testFeedback) seedAction(t *testing.T, typ action.Type) *action.Action {
	t.Helper()

	a := action.NewAction("acme", "c1", action.PlannedAction{
		Type:     typ,
		Target:   "agent-1",
		Reason:   "sustained hostile behavior",
		Severity: action.SeverityHigh,
	}, action.StatusExecuted)
	require.NoError(t, f.store.CreateAction(t.Context(), a))
	return a
}

func TestRecordActionOutcome(t *testing.T) {
	t.Run("missing action is a logged no-op", func(t *testing.T) {
		f := newTestFeedback(t)
		err := f.svc.RecordActionOutcome(t.Context(), "acme", action.Outcome{
			ActionID: "no-such-action",
			Success:  true,
		})
		assert.NoError(t, err)
	})

	t.Run("tenant mismatch", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeBanAgent)

		err := f.svc.RecordActionOutcome(t.Context(), "globex", action.Outcome{ActionID: a.ID})
		assert.ErrorIs(t, err, action.ErrTenantMismatch)
	})

	t.Run("folds outcome into action and memory", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeBanAgent)

		err := f.svc.RecordActionOutcome(t.Context(), "acme", action.Outcome{
			ActionID:  a.ID,
			Success:   true,
			Impact:    0.4,
			Metrics:   map[string]float64{"trust_delta": 0.2},
			Timestamp: time.Now(),
		})
		require.NoError(t, err)

		stored, err := f.store.GetAction(t.Context(), a.ID)
		require.NoError(t, err)
		outcome, ok := stored.Result["outcome"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, outcome["success"])
		assert.Equal(t, 0.4, outcome["impact"])

		row, err := f.memories.Recall(t.Context(), "acme", OutcomeMemoryKind)
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, a.ID, row.Payload["action_id"])
		assert.True(t, row.HasAllTags([]string{"feedback", "outcome", "ban_agent"}))
	})
}

func TestCalculateEffectiveness(t *testing.T) {
	t.Run("cold start returns neutral prior", func(t *testing.T) {
		f := newTestFeedback(t)

		eff, err := f.svc.CalculateEffectiveness(t.Context(), "acme", action.TypeBanAgent)
		require.NoError(t, err)
		assert.Equal(t, 0.5, eff.SuccessRate)
		assert.Zero(t, eff.AvgImpact)
		assert.Zero(t, eff.SampleSize)
	})

	t.Run("actions without outcomes do not count", func(t *testing.T) {
		f := newTestFeedback(t)
		f.seedAction(t, action.TypeBanAgent)

		eff, err := f.svc.CalculateEffectiveness(t.Context(), "acme", action.TypeBanAgent)
		require.NoError(t, err)
		assert.Zero(t, eff.SampleSize)
		assert.Equal(t, 0.5, eff.SuccessRate)
	})

	t.Run("aggregates recorded outcomes", func(t *testing.T) {
		f := newTestFeedback(t)

		impacts := []float64{0.6, 0.2, -0.4, 0.4}
		successes := []bool{true, true, false, true}
		for i := range impacts {
			a := f.seedAction(t, action.TypeBanAgent)
			require.NoError(t, f.svc.RecordActionOutcome(t.Context(), "acme", action.Outcome{
				ActionID: a.ID,
				Success:  successes[i],
				Impact:   impacts[i],
			}))
		}

		eff, err := f.svc.CalculateEffectiveness(t.Context(), "acme", action.TypeBanAgent)
		require.NoError(t, err)
		assert.Equal(t, 4, eff.SampleSize)
		assert.Equal(t, 0.75, eff.SuccessRate)
		assert.InDelta(t, 0.2, eff.AvgImpact, 1e-9)

		// Score persisted as a memory.
		row, err := f.memories.Recall(t.Context(), "acme", "effectiveness:ban_agent")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, 0.75, row.Payload["success_rate"])
	})
}

func TestMeasureActionImpact(t *testing.T) {
	t.Run("missing action", func(t *testing.T) {
		f := newTestFeedback(t)
		_, err := f.svc.MeasureActionImpact(t.Context(), "acme", "no-such-action",
			action.SystemState{}, action.SystemState{})
		assert.ErrorIs(t, err, action.ErrActionNotFound)
	})

	t.Run("alert impact is fixed", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeAlert)

		outcome, err := f.svc.MeasureActionImpact(t.Context(), "acme", a.ID,
			action.SystemState{AvgTrust: 0.8, EmergenceLevel: action.EmergenceHighWeak},
			action.SystemState{AvgTrust: 0.2, EmergenceLevel: action.EmergenceHighWeak})
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, 0.1, outcome.Impact)
	})

	t.Run("punitive success on trust gain", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeBanAgent)

		outcome, err := f.svc.MeasureActionImpact(t.Context(), "acme", a.ID,
			action.SystemState{AvgTrust: 0.5, EmergenceLevel: action.EmergenceLinear},
			action.SystemState{AvgTrust: 0.7, EmergenceLevel: action.EmergenceLinear})
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.InDelta(t, 0.4, outcome.Impact, 1e-9)
		assert.InDelta(t, 0.2, outcome.Metrics["trust_delta"], 1e-9)
		assert.Zero(t, outcome.Metrics["emergence_delta"])
	})

	t.Run("punitive success on emergence improvement despite flat trust", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeQuarantineAgent)

		outcome, err := f.svc.MeasureActionImpact(t.Context(), "acme", a.ID,
			action.SystemState{AvgTrust: 0.5, EmergenceLevel: action.EmergenceHighWeak},
			action.SystemState{AvgTrust: 0.5, EmergenceLevel: action.EmergenceLinear})
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.InDelta(t, 0.4, outcome.Impact, 1e-9)
		assert.Equal(t, 2.0, outcome.Metrics["emergence_delta"])
	})

	t.Run("punitive failure on trust drop and worse emergence", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeBanAgent)

		outcome, err := f.svc.MeasureActionImpact(t.Context(), "acme", a.ID,
			action.SystemState{AvgTrust: 0.7, EmergenceLevel: action.EmergenceLinear},
			action.SystemState{AvgTrust: 0.4, EmergenceLevel: action.EmergenceWeak})
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.InDelta(t, -0.6, outcome.Impact, 1e-9)
	})

	t.Run("impact is clamped", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeUnbanAgent)

		outcome, err := f.svc.MeasureActionImpact(t.Context(), "acme", a.ID,
			action.SystemState{AvgTrust: 0.0, EmergenceLevel: action.EmergenceLinear},
			action.SystemState{AvgTrust: 0.9, EmergenceLevel: action.EmergenceLinear})
		require.NoError(t, err)
		assert.Equal(t, 1.0, outcome.Impact)
	})

	t.Run("outcome is persisted", func(t *testing.T) {
		f := newTestFeedback(t)
		a := f.seedAction(t, action.TypeBanAgent)

		_, err := f.svc.MeasureActionImpact(t.Context(), "acme", a.ID,
			action.SystemState{AvgTrust: 0.5}, action.SystemState{AvgTrust: 0.6})
		require.NoError(t, err)

		stored, err := f.store.GetAction(t.Context(), a.ID)
		require.NoError(t, err)
		assert.Contains(t, stored.Result, "outcome")
	})
}

func TestGetActionRecommendations(t *testing.T) {
	t.Run("cold start maintains everything", func(t *testing.T) {
		f := newTestFeedback(t)

		recs, err := f.svc.GetActionRecommendations(t.Context(), "acme")
		require.NoError(t, err)
		require.Len(t, recs, 6)
		for _, r := range recs {
			assert.Equal(t, AdjustMaintain, r.Adjustment)
			assert.Contains(t, r.Reason, "insufficient data")
		}

		// The set is persisted for the planner.
		row, err := f.memories.Recall(t.Context(), "acme", RecommendationsMemoryKind)
		require.NoError(t, err)
		require.NotNil(t, row)
	})

	t.Run("increase on high effectiveness", func(t *testing.T) {
		f := newTestFeedback(t)

		for i := 0; i < 5; i++ {
			a := f.seedAction(t, action.TypeAlert)
			require.NoError(t, f.svc.RecordActionOutcome(t.Context(), "acme", action.Outcome{
				ActionID: a.ID,
				Success:  true,
				Impact:   0.5,
			}))
		}
		_, err := f.svc.CalculateEffectiveness(t.Context(), "acme", action.TypeAlert)
		require.NoError(t, err)

		recs, err := f.svc.GetActionRecommendations(t.Context(), "acme")
		require.NoError(t, err)

		byType := map[action.Type]Recommendation{}
		for _, r := range recs {
			byType[r.ActionType] = r
		}
		assert.Equal(t, AdjustIncrease, byType[action.TypeAlert].Adjustment)
		assert.Equal(t, AdjustMaintain, byType[action.TypeBanAgent].Adjustment)
	})

	t.Run("decrease on low effectiveness", func(t *testing.T) {
		f := newTestFeedback(t)

		for i := 0; i < 5; i++ {
			a := f.seedAction(t, action.TypeBanAgent)
			require.NoError(t, f.svc.RecordActionOutcome(t.Context(), "acme", action.Outcome{
				ActionID: a.ID,
				Success:  i == 0,
				Impact:   -0.3,
			}))
		}
		_, err := f.svc.CalculateEffectiveness(t.Context(), "acme", action.TypeBanAgent)
		require.NoError(t, err)

		recs, err := f.svc.GetActionRecommendations(t.Context(), "acme")
		require.NoError(t, err)

		for _, r := range recs {
			if r.ActionType == action.TypeBanAgent {
				assert.Equal(t, AdjustDecrease, r.Adjustment)
				assert.Contains(t, r.Reason, "low effectiveness")
			}
		}
	})
}

func TestGetRecentOutcomes(t *testing.T) {
	f := newTestFeedback(t)

	for i := 0; i < 3; i++ {
		a := f.seedAction(t, action.TypeAlert)
		require.NoError(t, f.svc.RecordActionOutcome(t.Context(), "acme", action.Outcome{
			ActionID: a.ID,
			Success:  true,
			Impact:   float64(i) / 10,
		}))
	}

	outcomes, err := f.svc.GetRecentOutcomes(t.Context(), "acme", 2)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	outcomes, err = f.svc.GetRecentOutcomes(t.Context(), "acme", 0)
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
}

func TestRecommendThresholds(t *testing.T) {
	f := newTestFeedback(t)
	svc := f.svc.(*service)

	cases := []struct {
		rate, impact float64
		samples      int
		want         Adjustment
	}{
		{0.9, 0.5, 2, AdjustMaintain},
		{0.7, 0.3, 5, AdjustIncrease},
		{0.69, 0.5, 5, AdjustMaintain},
		{0.4, -0.1, 5, AdjustDecrease},
		{0.4, 0.0, 5, AdjustMaintain},
		{0.5, 0.1, 5, AdjustMaintain},
	}
	for i, c := range cases {
		r := svc.recommend(&Effectiveness{
			ActionType:  action.TypeAlert,
			SuccessRate: c.rate,
			AvgImpact:   c.impact,
			SampleSize:  c.samples,
		})
		assert.Equal(t, c.want, r.Adjustment, fmt.Sprintf("case %d", i))
	}
}
