// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/telemetry"
	"github.com/AleutianAI/AleutianRF/services/rfplan/trial"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// SubmitRequest is the body of POST /v1/trials.
type SubmitRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// SubmitResponse acknowledges a submitted trial.
type SubmitResponse struct {
	ID     string             `json:"id"`
	Status rfplan.TrialStatus `json:"status"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	ActiveTrials int    `json:"active_trials"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// ROUTER
// =============================================================================

// Handlers serves the trial API.
type Handlers struct {
	svc     *Service
	version string
	logger  *slog.Logger
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc *Service, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, version: version, logger: logger}
}

// RegisterRoutes mounts the trial routes on a /v1 group.
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers) {
	v1.GET("/health", h.HandleHealth)
	trials := v1.Group("/trials")
	{
		trials.POST("", h.HandleSubmit)
		trials.GET("/:id", h.HandleStatus)
		trials.GET("/:id/attempts", h.HandleAttempts)
		trials.GET("/:id/plan", h.HandlePlan)
	}
}

// NewRouter builds the full engine: recovery, tracing, /v1 and /metrics.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	RegisterRoutes(router.Group("/v1"), h)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}

// =============================================================================
// HANDLERS
// =============================================================================

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		ActiveTrials: h.svc.Active(),
	})
}

// HandleSubmit starts a trial and returns 202 with its id.
func (h *Handlers) HandleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid trial request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "prompt is required", Code: "INVALID_REQUEST"})
		return
	}
	meta, err := h.svc.Submit(req.Prompt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Location", "/v1/trials/"+meta.ID)
	c.JSON(http.StatusAccepted, SubmitResponse{ID: meta.ID, Status: meta.Status})
}

// HandleStatus returns the trial summary.
func (h *Handlers) HandleStatus(c *gin.Context) {
	meta, err := h.svc.Status(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// HandleAttempts returns the records of ?phase=planner|executor.
func (h *Handlers) HandleAttempts(c *gin.Context) {
	phase := rfplan.Phase(c.DefaultQuery("phase", string(rfplan.PhaseExecutor)))
	if phase != rfplan.PhasePlanner && phase != rfplan.PhaseExecutor {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "phase must be planner or executor", Code: "INVALID_PHASE"})
		return
	}
	recs, err := h.svc.Attempts(c.Param("id"), phase)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if recs == nil {
		recs = []rfplan.AttemptRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"phase": phase, "attempts": recs})
}

// HandlePlan returns the final plan snapshot.
func (h *Handlers) HandlePlan(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rfplan.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
	case errors.Is(err, trial.ErrInvalidTrialID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_ID"})
	case errors.Is(err, trial.ErrTrialNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, ErrBusy):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: "BUSY"})
	case errors.Is(err, ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SHUTTING_DOWN"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}
