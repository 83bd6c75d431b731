package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
	"github.com/vigilsec/sentinel/internal/metrics"
)

// AlertRoute binds a notification channel to a recipient
type AlertRoute struct {
	Channel   entity.AlertChannel `json:"channel"`
	Recipient string              `json:"recipient"`
}

// AlertDispatcher delivers a single incident alert over one channel
type AlertDispatcher interface {
	Dispatch(ctx context.Context, incident *entity.SecurityIncident, route AlertRoute) (*entity.IncidentAlert, error)
}

// IncidentDetectorConfig defines configuration for the incident detector
type IncidentDetectorConfig struct {
	// SLA resolution windows per severity
	SLACritical time.Duration `json:"sla_critical"`
	SLAHigh     time.Duration `json:"sla_high"`
	SLAMedium   time.Duration `json:"sla_medium"`
	SLALow      time.Duration `json:"sla_low"`

	SLACheckInterval time.Duration `json:"sla_check_interval"`

	// AlertRoutes maps severity to the channels alerted on creation
	// and escalation.
	AlertRoutes map[entity.Severity][]AlertRoute `json:"alert_routes"`
}

// IncidentDetector owns the incident lifecycle state machine, the SLA
// clock, and alert fan-out.
type IncidentDetector struct {
	logger     *zap.Logger
	config     *IncidentDetectorConfig
	incidents  repository.IncidentRepository
	dispatcher AlertDispatcher
	metrics    *metrics.Collector

	ctx       context.Context
	cancel    context.CancelFunc
	slaTicker *time.Ticker
}

// CreateIncidentInput carries the fields needed to open an incident
type CreateIncidentInput struct {
	Title         string
	Description   string
	Severity      entity.Severity
	DetectedAt    time.Time
	AffectedHosts []string
	AffectedUsers []string
	SourceIPs     []string
	EventIDs      []uuid.UUID
}

// NewIncidentDetector creates a new incident detector. The SLA breach
// scan runs on its own ticker until Stop is called.
func NewIncidentDetector(logger *zap.Logger, config *IncidentDetectorConfig, incidents repository.IncidentRepository, dispatcher AlertDispatcher, collector *metrics.Collector) (*IncidentDetector, error) {
	if config == nil {
		config = &IncidentDetectorConfig{}
	}
	if incidents == nil {
		return nil, fmt.Errorf("incident repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("alert dispatcher is required")
	}

	// Set defaults
	if config.SLACritical == 0 {
		config.SLACritical = 15 * time.Minute
	}
	if config.SLAHigh == 0 {
		config.SLAHigh = 60 * time.Minute
	}
	if config.SLAMedium == 0 {
		config.SLAMedium = 240 * time.Minute
	}
	if config.SLALow == 0 {
		config.SLALow = 1440 * time.Minute
	}
	if config.SLACheckInterval == 0 {
		config.SLACheckInterval = time.Minute
	}
	if config.AlertRoutes == nil {
		config.AlertRoutes = defaultAlertRoutes()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &IncidentDetector{
		logger:     logger.With(zap.String("component", "incident-detector")),
		config:     config,
		incidents:  incidents,
		dispatcher: dispatcher,
		metrics:    collector,
		ctx:        ctx,
		cancel:     cancel,
	}

	d.slaTicker = time.NewTicker(config.SLACheckInterval)
	go d.runSLAChecks()

	logger.Info("Incident detector initialized",
		zap.Duration("sla_critical", config.SLACritical),
		zap.Duration("sla_check_interval", config.SLACheckInterval),
	)

	return d, nil
}

func defaultAlertRoutes() map[entity.Severity][]AlertRoute {
	return map[entity.Severity][]AlertRoute{
		entity.SeverityCritical: {
			{Channel: entity.ChannelPagerDuty, Recipient: "soc-oncall"},
			{Channel: entity.ChannelSlack, Recipient: "#soc-critical"},
			{Channel: entity.ChannelEmail, Recipient: "soc@vigilsec.io"},
		},
		entity.SeverityHigh: {
			{Channel: entity.ChannelSlack, Recipient: "#soc-alerts"},
			{Channel: entity.ChannelEmail, Recipient: "soc@vigilsec.io"},
		},
		entity.SeverityMedium: {
			{Channel: entity.ChannelEmail, Recipient: "soc@vigilsec.io"},
		},
		entity.SeverityLow: {
			{Channel: entity.ChannelEmail, Recipient: "soc-digest@vigilsec.io"},
		},
	}
}

// slaWindow returns the resolution window for a severity
func (d *IncidentDetector) slaWindow(severity entity.Severity) time.Duration {
	switch severity {
	case entity.SeverityCritical:
		return d.config.SLACritical
	case entity.SeverityHigh:
		return d.config.SLAHigh
	case entity.SeverityMedium:
		return d.config.SLAMedium
	default:
		return d.config.SLALow
	}
}

// CreateIncident opens a new incident, computes its SLA deadline and
// fans alerts out to the severity's channel routes.
func (d *IncidentDetector) CreateIncident(ctx context.Context, input CreateIncidentInput) (*entity.SecurityIncident, error) {
	detectedAt := input.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	incident := &entity.SecurityIncident{
		ID:            uuid.New(),
		Title:         input.Title,
		Description:   input.Description,
		Severity:      input.Severity,
		Status:        entity.IncidentStatusNew,
		DetectedAt:    detectedAt,
		AffectedHosts: input.AffectedHosts,
		AffectedUsers: input.AffectedUsers,
		SourceIPs:     input.SourceIPs,
		SLADeadline:   detectedAt.Add(d.slaWindow(input.Severity)),
		EventIDs:      input.EventIDs,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
		Version:       1,
	}

	if err := incident.Validate(); err != nil {
		return nil, fmt.Errorf("invalid incident: %w", err)
	}
	if err := d.incidents.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	if d.metrics != nil {
		d.metrics.RecordIncidentCreated(string(incident.Severity))
	}

	d.logger.Info("Incident created",
		zap.String("incident_id", incident.ID.String()),
		zap.String("severity", string(incident.Severity)),
		zap.Time("sla_deadline", incident.SLADeadline),
	)

	d.sendAlerts(ctx, incident)

	return incident, nil
}

// Acknowledge assigns the incident and moves it to acknowledged.
// Terminal incidents are rejected.
func (d *IncidentDetector) Acknowledge(ctx context.Context, id uuid.UUID, user string) (*entity.SecurityIncident, error) {
	return d.transition(ctx, id, entity.IncidentStatusAcknowledged, func(incident *entity.SecurityIncident) {
		now := time.Now().UTC()
		incident.AcknowledgedAt = &now
		incident.AssignedTo = user
	})
}

// StartInvestigation moves an acknowledged incident to investigating
func (d *IncidentDetector) StartInvestigation(ctx context.Context, id uuid.UUID, user string) (*entity.SecurityIncident, error) {
	return d.transition(ctx, id, entity.IncidentStatusInvestigating, func(incident *entity.SecurityIncident) {
		if user != "" {
			incident.AssignedTo = user
		}
	})
}

// Contain marks the incident contained
func (d *IncidentDetector) Contain(ctx context.Context, id uuid.UUID, note string) (*entity.SecurityIncident, error) {
	return d.transition(ctx, id, entity.IncidentStatusContained, func(incident *entity.SecurityIncident) {
		if note != "" {
			incident.AddNote("system", note)
		}
	})
}

// Resolve closes out the response and records whether the SLA held
func (d *IncidentDetector) Resolve(ctx context.Context, id uuid.UUID, notes string) (*entity.SecurityIncident, error) {
	incident, err := d.transition(ctx, id, entity.IncidentStatusResolved, func(incident *entity.SecurityIncident) {
		now := time.Now().UTC()
		incident.ResolvedAt = &now
		incident.SLABreached = now.After(incident.SLADeadline)
		if notes != "" {
			incident.AddNote("system", notes)
		}
	})
	if err != nil {
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.RecordIncidentResolved(incident.SLABreached)
	}
	return incident, nil
}

// Close archives a resolved incident
func (d *IncidentDetector) Close(ctx context.Context, id uuid.UUID) (*entity.SecurityIncident, error) {
	return d.transition(ctx, id, entity.IncidentStatusClosed, func(incident *entity.SecurityIncident) {
		now := time.Now().UTC()
		incident.ClosedAt = &now
	})
}

// Escalate steps the severity up one level, recomputes the SLA
// deadline from the original detection time and re-sends alerts.
// Critical incidents cannot escalate further; the call is a no-op.
// Resolved and closed incidents cannot be escalated.
func (d *IncidentDetector) Escalate(ctx context.Context, id uuid.UUID, reason string) (*entity.SecurityIncident, error) {
	incident, err := d.incidents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if incident.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", entity.ErrIncidentTerminal, incident.Status)
	}

	if incident.Severity == entity.SeverityCritical {
		d.logger.Debug("Escalation requested for critical incident, ignoring",
			zap.String("incident_id", id.String()))
		return incident, nil
	}

	previous := incident.Severity
	incident.Severity = incident.Severity.Escalated()
	incident.SLADeadline = incident.DetectedAt.Add(d.slaWindow(incident.Severity))
	incident.AddNote("system", fmt.Sprintf("escalated from %s to %s: %s", previous, incident.Severity, reason))

	if err := d.incidents.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	d.logger.Warn("Incident escalated",
		zap.String("incident_id", id.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(incident.Severity)),
		zap.String("reason", reason),
	)

	d.sendAlerts(ctx, incident)

	return incident, nil
}

// GetIncident retrieves a single incident
func (d *IncidentDetector) GetIncident(ctx context.Context, id uuid.UUID) (*entity.SecurityIncident, error) {
	return d.incidents.GetByID(ctx, id)
}

// ListIncidents returns incidents matching the filter
func (d *IncidentDetector) ListIncidents(ctx context.Context, filter repository.IncidentFilter) ([]*entity.SecurityIncident, error) {
	return d.incidents.List(ctx, filter)
}

// CheckSLABreaches scans open incidents and flags those past their
// deadline. Returns the number of newly flagged incidents.
func (d *IncidentDetector) CheckSLABreaches(ctx context.Context) (int, error) {
	open, err := d.incidents.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open incidents: %w", err)
	}

	now := time.Now().UTC()
	breached := 0
	for _, incident := range open {
		if incident.SLABreached || now.Before(incident.SLADeadline) {
			continue
		}
		incident.SLABreached = true
		incident.AddNote("system", "SLA deadline missed")
		if err := d.incidents.Update(ctx, incident); err != nil {
			d.logger.Error("Failed to flag SLA breach",
				zap.String("incident_id", incident.ID.String()),
				zap.Error(err))
			continue
		}
		breached++
		if d.metrics != nil {
			d.metrics.RecordSLABreach()
		}
		d.logger.Warn("SLA breached",
			zap.String("incident_id", incident.ID.String()),
			zap.String("severity", string(incident.Severity)),
			zap.Time("deadline", incident.SLADeadline),
		)
	}

	return breached, nil
}

// transition loads, mutates and persists an incident atomically with
// respect to the state machine.
func (d *IncidentDetector) transition(ctx context.Context, id uuid.UUID, next entity.IncidentStatus, mutate func(*entity.SecurityIncident)) (*entity.SecurityIncident, error) {
	incident, err := d.incidents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := incident.Transition(next); err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(incident)
	}

	if err := d.incidents.Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	d.logger.Info("Incident status changed",
		zap.String("incident_id", id.String()),
		zap.String("status", string(next)),
	)

	return incident, nil
}

// sendAlerts fans out to every route configured for the incident's
// severity. Delivery failures are logged, never fatal to the caller.
func (d *IncidentDetector) sendAlerts(ctx context.Context, incident *entity.SecurityIncident) {
	routes := d.config.AlertRoutes[incident.Severity]
	if len(routes) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, route := range routes {
		route := route
		g.Go(func() error {
			alert, err := d.dispatcher.Dispatch(gctx, incident, route)
			delivered := err == nil && alert != nil && alert.Delivered
			if d.metrics != nil {
				d.metrics.RecordAlertSent(string(route.Channel), delivered)
			}
			if err != nil {
				d.logger.Error("Alert dispatch failed",
					zap.String("incident_id", incident.ID.String()),
					zap.String("channel", string(route.Channel)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// runSLAChecks runs the background SLA breach scan
func (d *IncidentDetector) runSLAChecks() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.slaTicker.C:
			ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
			if _, err := d.CheckSLABreaches(ctx); err != nil {
				d.logger.Error("SLA breach scan failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Stop stops the background SLA scanner
func (d *IncidentDetector) Stop() {
	d.cancel()
	d.slaTicker.Stop()
	d.logger.Info("Incident detector stopped")
}
