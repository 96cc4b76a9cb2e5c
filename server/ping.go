package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/agentcore-runtime-go/health"
)

type pingResponse struct {
	Status           health.Status `json:"status"`
	TimeOfLastUpdate string        `json:"time_of_last_update"`
}

func (a *App) ping() pingResponse {
	return pingResponse{
		Status:           a.registry.Status(),
		TimeOfLastUpdate: a.registry.LastStatusUpdate().UTC().Format(time.RFC3339),
	}
}

func (a *App) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ping())
}

const debugActionField = "_agent_core_app_action"

// Debug actions accepted in the _agent_core_app_action payload field.
const (
	ActionPingStatus        = "ping_status"
	ActionJobStatus         = "job_status"
	ActionForceHealthy      = "force_healthy"
	ActionForceBusy         = "force_busy"
	ActionClearForcedStatus = "clear_forced_status"
)

type forcedStatusResponse struct {
	ForcedStatus *health.Status `json:"forced_status"`
}

// debugAction extracts the debug action name of an object payload.
func debugAction(payload json.RawMessage) (string, bool) {
	if len(payload) == 0 || payload[0] != '{' {
		return "", false
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", false
	}
	raw, ok := body[debugActionField]
	if !ok {
		return "", false
	}
	var action string
	if err := json.Unmarshal(raw, &action); err != nil {
		return "", false
	}
	return action, true
}

func (a *App) handleDebugAction(ctx context.Context, w http.ResponseWriter, action string) {
	switch action {
	case ActionPingStatus:
		writeJSON(w, http.StatusOK, a.ping())
	case ActionJobStatus:
		writeJSON(w, http.StatusOK, a.registry.Info())
	case ActionForceHealthy, ActionForceBusy:
		s := health.Healthy
		if action == ActionForceBusy {
			s = health.HealthyBusy
		}
		if err := a.registry.ForceStatus(s); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.log.InfoContext(ctx, "health.forced", slog.String("status", string(s)))
		writeJSON(w, http.StatusOK, forcedStatusResponse{ForcedStatus: &s})
	case ActionClearForcedStatus:
		a.registry.ClearForcedStatus()
		a.log.InfoContext(ctx, "health.forced.clear")
		writeJSON(w, http.StatusOK, forcedStatusResponse{})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown debug action: %q", action))
	}
}
