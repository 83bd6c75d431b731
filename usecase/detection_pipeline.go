package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/service"
	"github.com/vigilsec/sentinel/internal/metrics"
)

// EventPublisher announces correlated events to downstream consumers
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *entity.CorrelatedEvent) error
}

// DetectionPipeline routes raw security signals through correlation,
// opens incidents for emitted detections, and triggers any playbook
// bound to the detection's rule.
type DetectionPipeline struct {
	logger     *zap.Logger
	correlator *service.Correlator
	intel      *service.ThreatIntelEngine
	incidents  *service.IncidentDetector
	soar       *service.SOAREngine
	publisher  EventPublisher
	metrics    *metrics.Collector
}

// NewDetectionPipeline wires the pipeline stages together
func NewDetectionPipeline(logger *zap.Logger, correlator *service.Correlator, intel *service.ThreatIntelEngine, incidents *service.IncidentDetector, soar *service.SOAREngine, collector *metrics.Collector) (*DetectionPipeline, error) {
	if correlator == nil || incidents == nil || soar == nil {
		return nil, fmt.Errorf("correlator, incident detector and soar engine are required")
	}

	return &DetectionPipeline{
		logger:     logger.With(zap.String("component", "detection-pipeline")),
		correlator: correlator,
		intel:      intel,
		incidents:  incidents,
		soar:       soar,
		metrics:    collector,
	}, nil
}

// SetEventPublisher attaches an optional downstream publisher for
// emitted detections. Publish failures never block the pipeline.
func (p *DetectionPipeline) SetEventPublisher(publisher EventPublisher) {
	p.publisher = publisher
}

// HandleSignal ingests one raw signal. A signal that completes an
// attack pattern opens an incident and, when a playbook is bound to
// the rule, kicks off automated response.
func (p *DetectionPipeline) HandleSignal(ctx context.Context, signal *entity.SecuritySignal) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("rejecting signal: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordSignalConsumed(string(signal.Type))
	}

	var (
		event *entity.CorrelatedEvent
		err   error
	)
	switch signal.Type {
	case entity.SignalLoginFailure:
		event, err = p.correlator.RecordLoginFailure(ctx, signal.SourceIP, signal.User, signal.Timestamp)
	case entity.SignalHostAccess:
		event, err = p.correlator.RecordHostAccess(ctx, signal.User, signal.Hostname, signal.Timestamp)
	case entity.SignalDataTransfer:
		event, err = p.correlator.RecordDataTransfer(ctx, signal.SourceIP, signal.Bytes, signal.Timestamp)
	}
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	if p.publisher != nil {
		if err := p.publisher.PublishEvent(ctx, event); err != nil {
			p.logger.Warn("Failed to publish correlated event",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
		}
	}

	return p.respondToEvent(ctx, event)
}

// CheckObservable matches an observable against threat intelligence
// and opens an incident when it hits a known indicator.
func (p *DetectionPipeline) CheckObservable(ctx context.Context, indicatorType entity.IndicatorType, value string) (*entity.IndicatorMatch, error) {
	if p.intel == nil {
		return nil, nil
	}

	var (
		match *entity.IndicatorMatch
		err   error
	)
	switch indicatorType {
	case entity.IndicatorTypeIP:
		match, err = p.intel.CheckIP(ctx, value)
	case entity.IndicatorTypeDomain:
		match, err = p.intel.CheckDomain(ctx, value)
	case entity.IndicatorTypeFileHash:
		match, err = p.intel.CheckFileHash(ctx, value)
	default:
		return nil, fmt.Errorf("unsupported indicator type: %s", indicatorType)
	}
	if err != nil || match == nil {
		return nil, err
	}

	// A live hit on known infrastructure gets the tightest SLA
	// regardless of the indicator's own severity.
	input := service.CreateIncidentInput{
		Title:       fmt.Sprintf("Known %s indicator observed: %s", match.ThreatType, value),
		Description: fmt.Sprintf("observable %q matched threat intelligence (actor: %s)", value, orUnattributed(match.Actor)),
		Severity:    entity.SeverityCritical,
		DetectedAt:  match.ObservedAt,
	}
	if indicatorType == entity.IndicatorTypeIP {
		input.SourceIPs = []string{value}
	}

	if _, err := p.incidents.CreateIncident(ctx, input); err != nil {
		return match, fmt.Errorf("failed to open incident for indicator match: %w", err)
	}

	return match, nil
}

// respondToEvent opens an incident for a detection and executes the
// playbook bound to its rule, if any.
func (p *DetectionPipeline) respondToEvent(ctx context.Context, event *entity.CorrelatedEvent) error {
	incident, err := p.incidents.CreateIncident(ctx, service.CreateIncidentInput{
		Title:         incidentTitle(event),
		Description:   strings.Join(event.Indicators, "; "),
		Severity:      event.Severity,
		DetectedAt:    event.LastSeen,
		AffectedHosts: event.Hostnames,
		AffectedUsers: event.Users,
		SourceIPs:     event.SourceIPs,
		EventIDs:      []uuid.UUID{event.ID},
	})
	if err != nil {
		return fmt.Errorf("failed to open incident for event %s: %w", event.ID, err)
	}

	playbook := p.soar.PlaybookForRule(event.Rule)
	if playbook == nil {
		return nil
	}

	run, err := p.soar.ExecutePlaybook(ctx, playbook.Name, executionContext(event), &incident.ID)
	if err != nil {
		return fmt.Errorf("failed to execute playbook %q: %w", playbook.Name, err)
	}

	p.logger.Info("Automated response completed",
		zap.String("incident_id", incident.ID.String()),
		zap.String("playbook", playbook.Name),
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
	)

	return nil
}

// executionContext derives the playbook template context from a
// correlated event.
func executionContext(event *entity.CorrelatedEvent) map[string]string {
	execContext := make(map[string]string)
	if ip := event.PrimarySourceIP(); ip != "" {
		execContext["source_ip"] = ip
	}
	if len(event.Users) > 0 {
		execContext["user"] = event.Users[0]
	}
	if len(event.Hostnames) > 0 {
		execContext["hostname"] = event.Hostnames[0]
	}
	return execContext
}

func incidentTitle(event *entity.CorrelatedEvent) string {
	switch event.Rule {
	case entity.RuleBruteForce:
		return fmt.Sprintf("Brute force attack from %s", event.PrimarySourceIP())
	case entity.RuleLateralMovement:
		return fmt.Sprintf("Lateral movement by %s", firstOr(event.Users, "unknown user"))
	case entity.RuleDataExfiltration:
		return fmt.Sprintf("Data exfiltration from %s", event.PrimarySourceIP())
	default:
		return fmt.Sprintf("Correlated detection: %s", event.Rule)
	}
}

func firstOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return values[0]
}

func orUnattributed(actor string) string {
	if actor == "" {
		return "unattributed"
	}
	return actor
}
