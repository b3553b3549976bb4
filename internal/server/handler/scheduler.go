package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/velikanghost/riskon/internal/domain"
	"github.com/velikanghost/riskon/internal/scheduler"
)

// SchedulerControl is the lifecycle surface the admin endpoints drive. It is
// declared locally so the handler package does not depend on the concrete
// scheduler beyond its types.
type SchedulerControl interface {
	Start()
	Stop()
	UpdateConfig(patch scheduler.ConfigPatch) scheduler.Config
	Status() scheduler.Status
	ManualResolveCheck(ctx context.Context) domain.ResolvePassResult
	ManualNewRoundCheck(ctx context.Context) domain.LaunchPassResult
}

// SchedulerHandler serves the scheduler admin endpoints. broadcaster may be
// nil; when set, lifecycle changes push a scheduler:status event.
type SchedulerHandler struct {
	ctl         SchedulerControl
	broadcaster domain.Broadcaster
	logger      *slog.Logger
}

// NewSchedulerHandler creates a SchedulerHandler.
func NewSchedulerHandler(ctl SchedulerControl, broadcaster domain.Broadcaster, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		ctl:         ctl,
		broadcaster: broadcaster,
		logger:      logHandler(logger, "scheduler"),
	}
}

// notifyStatus pushes the current scheduler status to realtime subscribers.
func (h *SchedulerHandler) notifyStatus() {
	if h.broadcaster != nil {
		h.broadcaster.Broadcast("scheduler:status", h.ctl.Status())
	}
}

// GetStatus reports the scheduler's lifecycle state.
// GET /api/scheduler
func (h *SchedulerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// adminRequest is the POST body for scheduler control actions.
type adminRequest struct {
	Action string       `json:"action"`
	Config *configPatch `json:"config,omitempty"`
}

// configPatch is the JSON shape of a partial config update. Intervals are
// given in milliseconds; absent fields keep their current values.
type configPatch struct {
	ResolveIntervalMs   *int64 `json:"resolveIntervalMs,omitempty"`
	NewRoundIntervalMs  *int64 `json:"newRoundIntervalMs,omitempty"`
	NewRoundWarmupMs    *int64 `json:"newRoundWarmupMs,omitempty"`
	EnableAutoResolve   *bool  `json:"enableAutoResolve,omitempty"`
	EnableAutoNewRounds *bool  `json:"enableAutoNewRounds,omitempty"`
}

func (p *configPatch) toDomain() scheduler.ConfigPatch {
	var patch scheduler.ConfigPatch
	if p == nil {
		return patch
	}
	if p.ResolveIntervalMs != nil {
		d := time.Duration(*p.ResolveIntervalMs) * time.Millisecond
		patch.ResolveInterval = &d
	}
	if p.NewRoundIntervalMs != nil {
		d := time.Duration(*p.NewRoundIntervalMs) * time.Millisecond
		patch.NewRoundInterval = &d
	}
	if p.NewRoundWarmupMs != nil {
		d := time.Duration(*p.NewRoundWarmupMs) * time.Millisecond
		patch.NewRoundWarmup = &d
	}
	patch.EnableAutoResolve = p.EnableAutoResolve
	patch.EnableAutoNewRounds = p.EnableAutoNewRounds
	return patch
}

// Control dispatches a scheduler admin action.
// POST /api/scheduler
//
// Body: {"action": "start" | "stop" | "restart" | "status" | "update-config" |
// "manual-resolve" | "manual-new-rounds", "config": {...}}
func (h *SchedulerHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "start":
		h.ctl.Start()
		h.notifyStatus()
		writeJSON(w, http.StatusOK, h.ctl.Status())

	case "stop":
		h.ctl.Stop()
		h.notifyStatus()
		writeJSON(w, http.StatusOK, h.ctl.Status())

	case "restart":
		h.ctl.Stop()
		// A restart may carry a config; it lands between stop and start so
		// the fresh loops pick it up.
		if req.Config != nil {
			h.ctl.UpdateConfig(req.Config.toDomain())
		}
		h.ctl.Start()
		h.notifyStatus()
		writeJSON(w, http.StatusOK, h.ctl.Status())

	case "status":
		writeJSON(w, http.StatusOK, h.ctl.Status())

	case "update-config":
		if req.Config == nil {
			writeError(w, http.StatusBadRequest, "update-config requires a config object")
			return
		}
		cfg := h.ctl.UpdateConfig(req.Config.toDomain())
		h.notifyStatus()
		h.logger.InfoContext(r.Context(), "scheduler config updated")
		writeJSON(w, http.StatusOK, map[string]any{
			"config": cfg,
			"status": h.ctl.Status(),
		})

	case "manual-resolve":
		result := h.ctl.ManualResolveCheck(r.Context())
		writeJSON(w, http.StatusOK, result)

	case "manual-new-rounds":
		result := h.ctl.ManualNewRoundCheck(r.Context())
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusBadRequest, "unknown action "+req.Action)
	}
}

// CronResolve runs one resolve pass for external cron services that can only
// issue GET requests.
// GET /api/cron/resolve
func (h *SchedulerHandler) CronResolve(w http.ResponseWriter, r *http.Request) {
	result := h.ctl.ManualResolveCheck(r.Context())
	writeJSON(w, http.StatusOK, result)
}
