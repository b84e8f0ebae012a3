package orchestrator

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"signals-backend/internal/budget"
	"signals-backend/internal/shared/server/respond"
)

// Handler exposes pipeline controls and budget settings over HTTP.
type Handler struct {
	Orc    *Orchestrator
	Budget *budget.Service
}

// NewHandler constructs a Handler.
func NewHandler(orc *Orchestrator, budgetSvc *budget.Service) *Handler {
	return &Handler{Orc: orc, Budget: budgetSvc}
}

// RegisterRoutes attaches pipeline and budget routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/pipeline/status", h.status)
	rg.POST("/pipeline/trigger", h.trigger)
	rg.POST("/pipeline/pause", h.pause)
	rg.POST("/pipeline/resume", h.resume)

	rg.GET("/budget/status", h.budgetStatus)
	rg.PUT("/budget/settings", h.updateBudgetSettings)
	rg.POST("/budget/emergency-stop", h.setEmergencyStop)
}

func (h *Handler) status(c *gin.Context) {
	status, err := h.Orc.Status(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read pipeline status", nil)
		return
	}
	respond.OK(c, status)
}

func (h *Handler) trigger(c *gin.Context) {
	ctx := WithRequestID(c.Request.Context(), c.GetString("requestId"))
	stats, err := h.Orc.RunCycle(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ErrCycleInProgress):
			respond.Error(c, http.StatusConflict, "cycle_in_progress", "a dispatch cycle is already running", nil)
		case errors.Is(err, ErrPaused):
			respond.Error(c, http.StatusConflict, "paused", "the orchestrator is paused", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "dispatch cycle failed", nil)
		}
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) pause(c *gin.Context) {
	h.Orc.Pause()
	respond.OK(c, gin.H{"paused": true})
}

func (h *Handler) resume(c *gin.Context) {
	h.Orc.Resume()
	respond.OK(c, gin.H{"paused": false})
}

func (h *Handler) budgetStatus(c *gin.Context) {
	status, err := h.Budget.Status(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read budget status", nil)
		return
	}
	respond.OK(c, status)
}

type budgetSettingsRequest struct {
	DailyBudgetUSD float64 `json:"dailyBudgetUsd"`
	PerAnalysisUSD float64 `json:"perAnalysisUsd"`
	StopFraction   float64 `json:"stopFraction"`
}

func (h *Handler) updateBudgetSettings(c *gin.Context) {
	var req budgetSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid budget settings payload", nil)
		return
	}
	if req.DailyBudgetUSD < 0 || req.PerAnalysisUSD < 0 || req.StopFraction < 0 || req.StopFraction > 1 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "budget settings out of range", nil)
		return
	}
	settings := h.Budget.UpdateSettings(budget.Settings{
		DailyBudgetUSD: req.DailyBudgetUSD,
		PerAnalysisUSD: req.PerAnalysisUSD,
		StopFraction:   req.StopFraction,
	})
	respond.OK(c, settings)
}

type emergencyStopRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) setEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "enabled flag is required", nil)
		return
	}
	ledger, err := h.Budget.SetEmergencyStop(c.Request.Context(), *req.Enabled)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update emergency stop", nil)
		return
	}
	respond.OK(c, ledger)
}
