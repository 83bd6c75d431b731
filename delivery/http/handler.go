// Package http exposes the detection and response API over HTTP.
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
	"github.com/vigilsec/sentinel/domain/service"
	"github.com/vigilsec/sentinel/usecase"
)

// Handler serves the REST API
type Handler struct {
	logger   *zap.Logger
	pipeline *usecase.DetectionPipeline

	correlator *service.Correlator
	intel      *service.ThreatIntelEngine
	incidents  *service.IncidentDetector
	soar       *service.SOAREngine

	events repository.CorrelatedEventRepository
	runs   repository.PlaybookRunRepository
}

// NewHandler creates the API handler
func NewHandler(
	logger *zap.Logger,
	pipeline *usecase.DetectionPipeline,
	correlator *service.Correlator,
	intel *service.ThreatIntelEngine,
	incidents *service.IncidentDetector,
	soar *service.SOAREngine,
	events repository.CorrelatedEventRepository,
	runs repository.PlaybookRunRepository,
) *Handler {
	return &Handler{
		logger:     logger.With(zap.String("component", "http-handler")),
		pipeline:   pipeline,
		correlator: correlator,
		intel:      intel,
		incidents:  incidents,
		soar:       soar,
		events:     events,
		runs:       runs,
	}
}

// --- Signals ---

type signalRequest struct {
	Type      entity.SignalType `json:"type" binding:"required"`
	SourceIP  string            `json:"source_ip"`
	User      string            `json:"user"`
	Hostname  string            `json:"hostname"`
	Bytes     int64             `json:"bytes"`
	Timestamp time.Time         `json:"timestamp"`
}

// ingestSignal accepts a raw security signal
func (h *Handler) ingestSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	signal := &entity.SecuritySignal{
		Type:      req.Type,
		SourceIP:  req.SourceIP,
		User:      req.User,
		Hostname:  req.Hostname,
		Bytes:     req.Bytes,
		Timestamp: req.Timestamp,
	}

	if err := h.pipeline.HandleSignal(c.Request.Context(), signal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// --- Correlated events ---

func (h *Handler) listEvents(c *gin.Context) {
	filter := repository.EventFilter{
		Rule:     entity.CorrelationRule(c.Query("rule")),
		SourceIP: c.Query("source_ip"),
		Limit:    intQuery(c, "limit", 100),
	}

	events, err := h.events.List(c.Request.Context(), filter)
	if err != nil {
		h.serverError(c, "failed to list events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *Handler) getEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event ID"})
		return
	}

	event, err := h.events.GetByID(c.Request.Context(), id)
	if errors.Is(err, entity.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.serverError(c, "failed to get event", err)
		return
	}

	c.JSON(http.StatusOK, event)
}

func (h *Handler) listAttackChains(c *gin.Context) {
	chains, err := h.correlator.AnalyzeAttackChains(c.Request.Context())
	if err != nil {
		h.serverError(c, "failed to analyze attack chains", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chains": chains, "count": len(chains)})
}

// --- Threat intelligence ---

type observableRequest struct {
	Type  entity.IndicatorType `json:"type" binding:"required"`
	Value string               `json:"value" binding:"required"`
}

func (h *Handler) checkObservable(c *gin.Context) {
	var req observableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := h.pipeline.CheckObservable(c.Request.Context(), req.Type, req.Value)
	if err != nil {
		h.serverError(c, "failed to check observable", err)
		return
	}
	if match == nil {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matched": true, "match": match})
}

func (h *Handler) getActorProfile(c *gin.Context) {
	profile, err := h.intel.ActorProfile(c.Param("name"))
	if errors.Is(err, entity.ErrActorNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.serverError(c, "failed to build actor profile", err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// --- Incidents ---

func (h *Handler) listIncidents(c *gin.Context) {
	incidents, err := h.incidents.ListIncidents(c.Request.Context(), repository.IncidentFilter{
		Status:   entity.IncidentStatus(c.Query("status")),
		Severity: entity.Severity(c.Query("severity")),
		Limit:    intQuery(c, "limit", 100),
	})
	if err != nil {
		h.serverError(c, "failed to list incidents", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (h *Handler) getIncident(c *gin.Context) {
	id, ok := h.incidentID(c)
	if !ok {
		return
	}

	incident, err := h.incidents.GetIncident(c.Request.Context(), id)
	if err != nil {
		h.incidentError(c, err)
		return
	}

	c.JSON(http.StatusOK, incident)
}

type transitionRequest struct {
	User string `json:"user"`
	Note string `json:"note"`
}

func (h *Handler) acknowledgeIncident(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, req transitionRequest) (*entity.SecurityIncident, error) {
		return h.incidents.Acknowledge(c.Request.Context(), id, req.User)
	})
}

func (h *Handler) investigateIncident(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, req transitionRequest) (*entity.SecurityIncident, error) {
		return h.incidents.StartInvestigation(c.Request.Context(), id, req.User)
	})
}

func (h *Handler) containIncident(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, req transitionRequest) (*entity.SecurityIncident, error) {
		return h.incidents.Contain(c.Request.Context(), id, req.Note)
	})
}

func (h *Handler) resolveIncident(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, req transitionRequest) (*entity.SecurityIncident, error) {
		return h.incidents.Resolve(c.Request.Context(), id, req.Note)
	})
}

func (h *Handler) closeIncident(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, _ transitionRequest) (*entity.SecurityIncident, error) {
		return h.incidents.Close(c.Request.Context(), id)
	})
}

func (h *Handler) escalateIncident(c *gin.Context) {
	h.transition(c, func(id uuid.UUID, req transitionRequest) (*entity.SecurityIncident, error) {
		return h.incidents.Escalate(c.Request.Context(), id, req.Note)
	})
}

func (h *Handler) transition(c *gin.Context, apply func(uuid.UUID, transitionRequest) (*entity.SecurityIncident, error)) {
	id, ok := h.incidentID(c)
	if !ok {
		return
	}

	var req transitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	incident, err := apply(id, req)
	if err != nil {
		h.incidentError(c, err)
		return
	}

	c.JSON(http.StatusOK, incident)
}

// --- Playbooks ---

func (h *Handler) listPlaybooks(c *gin.Context) {
	playbooks := h.soar.ListPlaybooks()
	c.JSON(http.StatusOK, gin.H{"playbooks": playbooks, "count": len(playbooks)})
}

func (h *Handler) registerPlaybook(c *gin.Context) {
	var playbook entity.Playbook
	if err := c.ShouldBindJSON(&playbook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.soar.RegisterPlaybook(&playbook); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, entity.ErrPlaybookExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, playbook)
}

type executeRequest struct {
	Context    map[string]string `json:"context"`
	IncidentID *uuid.UUID        `json:"incident_id"`
}

func (h *Handler) executePlaybook(c *gin.Context) {
	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	run, err := h.soar.ExecutePlaybook(c.Request.Context(), c.Param("name"), req.Context, req.IncidentID)
	if errors.Is(err, entity.ErrPlaybookNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.serverError(c, "failed to execute playbook", err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) listPlaybookRuns(c *gin.Context) {
	runs, err := h.runs.ListByPlaybook(c.Request.Context(), c.Param("name"), intQuery(c, "limit", 50))
	if err != nil {
		h.serverError(c, "failed to list playbook runs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// --- Helpers ---

func (h *Handler) incidentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) incidentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entity.ErrIncidentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrInvalidTransition), errors.Is(err, entity.ErrIncidentTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.serverError(c, "incident operation failed", err)
	}
}

func (h *Handler) serverError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
