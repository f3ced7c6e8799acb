package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/yseeku/braind/internal/action"
	"github.com/yseeku/braind/internal/executor"
	"github.com/yseeku/braind/internal/override"
)

// ErrorResponse is the body for all error replies.
type ErrorResponse struct {
	Error string `json:"error"`
}

// httpError maps domain errors onto status codes. Anything unrecognized
// is an internal error.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, action.ErrActionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, action.ErrTenantMismatch):
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, override.ErrJustificationRequired),
		errors.Is(err, action.ErrEmptyTenantID):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// ExecuteActionsRequest is the body for POST /cycles/:cycle/actions.
type ExecuteActionsRequest struct {
	Mode    action.Mode            `json:"mode"`
	Actions []action.PlannedAction `json:"actions"`
}

// ExecuteActionsResponse returns one result per submitted action.
type ExecuteActionsResponse struct {
	CycleID string                     `json:"cycle_id"`
	Mode    action.Mode                `json:"mode"`
	Results []executor.ExecutionResult `json:"results"`
}

func (s *Server) handleExecuteActions(c echo.Context) error {
	tenantID := c.Param("tenant")
	cycleID := c.Param("cycle")

	var req ExecuteActionsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	switch req.Mode {
	case action.ModeAdvisory, action.ModeEnforced:
	case "":
		req.Mode = action.ModeAdvisory
	default:
		return badRequest(c, "mode must be advisory or enforced")
	}

	results, err := s.executor.ExecuteActions(c.Request().Context(), tenantID, cycleID, req.Actions, req.Mode)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(http.StatusOK, ExecuteActionsResponse{
		CycleID: cycleID,
		Mode:    req.Mode,
		Results: results,
	})
}

func (s *Server) handleOverrideQueue(c echo.Context) error {
	tenantID := c.Param("tenant")

	f := override.QueueFilter{
		Search: c.QueryParam("search"),
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, action.Status(strings.TrimSpace(st)))
		}
	}

	actions, err := s.overrides.Queue(c.Request().Context(), tenantID, f)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

func (s *Server) handleOverrideHistory(c echo.Context) error {
	tenantID := c.Param("tenant")

	f := override.HistoryFilter{
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.QueryParam("decision"); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			f.Decisions = append(f.Decisions, action.Decision(strings.TrimSpace(d)))
		}
	}

	decisions, err := s.overrides.History(c.Request().Context(), tenantID, f)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (s *Server) handleOverrideStats(c echo.Context) error {
	stats, err := s.overrides.Stats(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleProcessOverride(c echo.Context) error {
	tenantID := c.Param("tenant")

	var req override.Request
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.ActionID == "" {
		return badRequest(c, "action_id is required")
	}

	result, err := s.overrides.ProcessOverride(c.Request().Context(), tenantID, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleProcessBulkOverrides(c echo.Context) error {
	tenantID := c.Param("tenant")

	var req override.BulkRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if len(req.ActionIDs) == 0 {
		return badRequest(c, "action_ids is required")
	}

	result, err := s.overrides.ProcessBulkOverrides(c.Request().Context(), tenantID, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRecordOutcome(c echo.Context) error {
	tenantID := c.Param("tenant")

	var outcome action.Outcome
	if err := c.Bind(&outcome); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if outcome.ActionID == "" {
		return badRequest(c, "action_id is required")
	}

	if err := s.feedback.RecordActionOutcome(c.Request().Context(), tenantID, outcome); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleRecentOutcomes(c echo.Context) error {
	tenantID := c.Param("tenant")

	outcomes, err := s.feedback.GetRecentOutcomes(c.Request().Context(), tenantID, queryInt(c, "limit", 10))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

func (s *Server) handleEffectiveness(c echo.Context) error {
	tenantID := c.Param("tenant")
	actionType := action.Type(c.Param("type"))

	eff, err := s.feedback.CalculateEffectiveness(c.Request().Context(), tenantID, actionType)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, eff)
}

// MeasureImpactRequest carries the before/after snapshots for impact
// measurement.
type MeasureImpactRequest struct {
	Pre  action.SystemState `json:"pre"`
	Post action.SystemState `json:"post"`
}

func (s *Server) handleMeasureImpact(c echo.Context) error {
	tenantID := c.Param("tenant")
	actionID := c.Param("action")

	var req MeasureImpactRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	outcome, err := s.feedback.MeasureActionImpact(c.Request().Context(), tenantID, actionID, req.Pre, req.Post)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleRecommendations(c echo.Context) error {
	recs, err := s.feedback.GetActionRecommendations(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"recommendations": recs,
		"count":           len(recs),
	})
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
