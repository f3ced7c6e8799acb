package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/memory"
)

// runOnBothBackends runs one test body against the in-memory and the
// SQLite implementation so both stay behaviorally identical.
func runOnBothBackends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memstore", func(t *testing.T) {
		s := NewMemStore()
		defer s.Close()
		fn(t, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(t.TempDir())
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func sampleAction(tenantID string, typ action.Type, status action.Status) *action.Action {
	a := action.NewAction(tenantID, "c1", action.PlannedAction{
		Type:     typ,
		Target:   "agent-1",
		Reason:   "sustained hostile behavior",
		Severity: action.SeverityHigh,
		Params:   map[string]any{"features": []any{"shell"}},
	}, status)
	return a
}

func TestActionRoundTrip(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, s Store) {
		a := sampleAction("acme", action.TypeBanAgent, action.StatusExecuted)
		a.Result["banned"] = true
		require.NoError(t, s.CreateAction(t.Context(), a))

		got, err := s.GetAction(t.Context(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "acme", got.TenantID)
		assert.Equal(t, action.TypeBanAgent, got.Type)
		assert.Equal(t, action.StatusExecuted, got.Status)
		assert.Equal(t, true, got.Result["banned"])
		assert.Contains(t, got.Params, "features")
	})
}

func TestGetActionNotFound(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, s Store) {
		_, err := s.GetAction(t.Context(), "no-such-action")
		assert.ErrorIs(t, err, action.ErrActionNotFound)
		assert.EqualError(t, err, "Action not found")
	})
}

func TestUpdateAction(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, s Store) {
		a := sampleAction("acme", action.TypeBanAgent, action.StatusExecuted)
		require.NoError(t, s.CreateAction(t.Context(), a))

		now := time.Now()
		a.Status = action.StatusOverridden
		a.ApprovedBy = "operator-1"
		a.ExecutedAt = &now
		a.Result["reverted"] = true
		require.NoError(t, s.UpdateAction(t.Context(), a))

		got, err := s.GetAction(t.Context(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, action.StatusOverridden, got.Status)
		assert.Equal(t, "operator-1", got.ApprovedBy)
		assert.NotNil(t, got.ExecutedAt)
		assert.Equal(t, true, got.Result["reverted"])

		missing := sampleAction("acme", action.TypeAlert, action.StatusPlanned)
		assert.ErrorIs(t, s.UpdateAction(t.Context(), missing), action.ErrActionNotFound)
	})
}

func TestListActionsFiltering(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, s Store) {
		base := time.Now()
		seed := func(tenant string, typ action.Type, status action.Status, target string, age time.Duration) *action.Action {
			a := sampleAction(tenant, typ, status)
			a.Target = target
			a.CreatedAt = base.Add(-age)
			require.NoError(t, s.CreateAction(t.Context(), a))
			return a
		}

		newest := seed("acme", action.TypeBanAgent, action.StatusExecuted, "agent-1", 0)
		seed("acme", action.TypeAlert, action.StatusExecuted, "system", time.Minute)
		seed("acme", action.TypeBanAgent, action.StatusFailed, "agent-2", 2*time.Minute)
		seed("globex", action.TypeBanAgent, action.StatusExecuted, "agent-1", 0)

		t.Run("tenant isolation", func(t *testing.T) {
			got, err := s.ListActions(t.Context(), ActionFilter{TenantID: "acme"})
			require.NoError(t, err)
			assert.Len(t, got, 3)
		})

		t.Run("newest first", func(t *testing.T) {
			got, err := s.ListActions(t.Context(), ActionFilter{TenantID: "acme"})
			require.NoError(t, err)
			assert.Equal(t, newest.ID, got[0].ID)
		})

		t.Run("status filter", func(t *testing.T) {
			got, err := s.ListActions(t.Context(), ActionFilter{
				TenantID: "acme",
				Statuses: []action.Status{action.StatusFailed},
			})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, action.StatusFailed, got[0].Status)
		})

		t.Run("type filter", func(t *testing.T) {
			got, err := s.ListActions(t.Context(), ActionFilter{
				TenantID: "acme",
				Types:    []action.Type{action.TypeAlert},
			})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})

		t.Run("search matches target", func(t *testing.T) {
			got, err := s.ListActions(t.Context(), ActionFilter{TenantID: "acme", Search: "AGENT-2"})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})

		t.Run("paging", func(t *testing.T) {
			got, err := s.ListActions(t.Context(), ActionFilter{TenantID: "acme", Limit: 2})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			got, err = s.ListActions(t.Context(), ActionFilter{TenantID: "acme", Offset: 2})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})

		t.Run("count", func(t *testing.T) {
			n, err := s.CountActions(t.Context(), ActionFilter{
				TenantID: "acme",
				Statuses: []action.Status{action.StatusExecuted},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})

		t.Run("empty tenant rejected", func(t *testing.T) {
			_, err := s.ListActions(t.Context(), ActionFilter{})
			assert.ErrorIs(t, err, action.ErrEmptyTenantID)
		})
	})
}

func TestDecisionsScopedByOwningAction(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, s Store) {
		acme := sampleAction("acme", action.TypeBanAgent, action.StatusOverridden)
		globex := sampleAction("globex", action.TypeBanAgent, action.StatusOverridden)
		require.NoError(t, s.CreateAction(t.Context(), acme))
		require.NoError(t, s.CreateAction(t.Context(), globex))

		mkDecision := func(actionID string, d action.Decision, age time.Duration) {
			require.NoError(t, s.CreateDecision(t.Context(), &action.OverrideDecision{
				ID:        uuid.New().String(),
				ActionID:  actionID,
				Decision:  d,
				Reason:    "reviewed during incident retro",
				UserID:    "operator-1",
				CreatedAt: time.Now().Add(-age),
			}))
		}
		mkDecision(acme.ID, action.DecisionApprove, time.Minute)
		mkDecision(acme.ID, action.DecisionReject, 0)
		mkDecision(globex.ID, action.DecisionApprove, 0)

		got, err := s.ListDecisions(t.Context(), DecisionFilter{TenantID: "acme"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, action.DecisionReject, got[0].Decision)

		got, err = s.ListDecisions(t.Context(), DecisionFilter{
			TenantID:  "acme",
			Decisions: []action.Decision{action.DecisionApprove},
		})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestSettings(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, s Store) {
		_, ok, err := s.GetSetting(t.Context(), "acme", "monitoring_threshold")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetSetting(t.Context(), "acme", "monitoring_threshold", "75"))
		require.NoError(t, s.SetSetting(t.Context(), "acme", "monitoring_threshold", "70"))

		v, ok, err := s.GetSetting(t.Context(), "acme", "monitoring_threshold")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "70", v)

		// Tenant scoped.
		_, ok, err = s.GetSetting(t.Context(), "globex", "monitoring_threshold")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryBackend(t *testing.T) {
	runOnBothBackends(t, func(t *testing.T, st Store) {
		backend := st.(memory.Backend)

		mkRow := func(tenant, kind string, tags []string, age time.Duration) *memory.Row {
			row := &memory.Row{
				ID:        uuid.New().String(),
				TenantID:  tenant,
				Kind:      kind,
				Payload:   map[string]any{"n": fmt.Sprint(age)},
				Tags:      tags,
				CreatedAt: time.Now().Add(-age),
			}
			require.NoError(t, backend.InsertMemory(t.Context(), row))
			return row
		}

		newest := mkRow("acme", "action:ban_agent", []string{"action", "ban_agent"}, 0)
		oldest := mkRow("acme", "action:ban_agent", []string{"action", "ban_agent"}, time.Minute)
		mkRow("acme", "refusal:kernel", []string{"refusal"}, 0)
		mkRow("globex", "action:ban_agent", []string{"action"}, 0)

		t.Run("list by kind newest first", func(t *testing.T) {
			rows, err := backend.ListMemories(t.Context(), "acme", "action:ban_agent")
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, newest.ID, rows[0].ID)
		})

		t.Run("list all kinds", func(t *testing.T) {
			rows, err := backend.ListMemories(t.Context(), "acme", "")
			require.NoError(t, err)
			assert.Len(t, rows, 3)
		})

		t.Run("count", func(t *testing.T) {
			n, err := backend.CountMemories(t.Context(), "acme", "action:ban_agent")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = backend.CountMemories(t.Context(), "acme", "")
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})

		t.Run("delete is tenant scoped", func(t *testing.T) {
			n, err := backend.DeleteMemories(t.Context(), "globex", []string{oldest.ID})
			require.NoError(t, err)
			assert.Zero(t, n)

			n, err = backend.DeleteMemories(t.Context(), "acme", []string{oldest.ID})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			rows, err := backend.ListMemories(t.Context(), "acme", "action:ban_agent")
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	})
}

func TestMemStoreCopyOnWrite(t *testing.T) {
	s := NewMemStore()
	a := sampleAction("acme", action.TypeBanAgent, action.StatusExecuted)
	require.NoError(t, s.CreateAction(t.Context(), a))

	// Mutating the caller's copy must not leak into the store.
	a.Result["banned"] = true
	got, err := s.GetAction(t.Context(), a.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Result, "banned")

	// Mutating a returned copy must not leak either.
	got.Result["x"] = 1
	again, err := s.GetAction(t.Context(), a.ID)
	require.NoError(t, err)
	assert.NotContains(t, again.Result, "x")
}
