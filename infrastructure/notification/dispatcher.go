// Package notification delivers incident alerts over the configured
// channels.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/service"
)

// LogDispatcher records alerts to the service log without contacting
// any external system. It stands in for real channel integrations in
// demo and test deployments.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a log-only dispatcher
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With(zap.String("component", "alert-dispatcher"))}
}

// Dispatch logs the alert and reports it delivered
func (d *LogDispatcher) Dispatch(_ context.Context, incident *entity.SecurityIncident, route service.AlertRoute) (*entity.IncidentAlert, error) {
	alert := buildAlert(incident, route)
	alert.Delivered = true

	d.logger.Info("Incident alert",
		zap.String("incident_id", incident.ID.String()),
		zap.String("channel", string(route.Channel)),
		zap.String("recipient", route.Recipient),
		zap.String("message", alert.Message),
	)

	return alert, nil
}

// WebhookDispatcherConfig maps channels to webhook endpoints
type WebhookDispatcherConfig struct {
	// Endpoints maps a channel to the webhook URL alerts are posted
	// to. Channels without an endpoint fall back to log-only delivery.
	Endpoints map[entity.AlertChannel]string `json:"endpoints"`
	Timeout   time.Duration                  `json:"timeout"`
}

// WebhookDispatcher posts alert payloads to per-channel webhooks
type WebhookDispatcher struct {
	logger   *zap.Logger
	config   *WebhookDispatcherConfig
	client   *http.Client
	fallback *LogDispatcher
}

// NewWebhookDispatcher creates a webhook-backed dispatcher
func NewWebhookDispatcher(logger *zap.Logger, config *WebhookDispatcherConfig) *WebhookDispatcher {
	if config == nil {
		config = &WebhookDispatcherConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &WebhookDispatcher{
		logger:   logger.With(zap.String("component", "webhook-dispatcher")),
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		fallback: NewLogDispatcher(logger),
	}
}

// alertPayload is the JSON body posted to channel webhooks
type alertPayload struct {
	IncidentID string `json:"incident_id"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Recipient  string `json:"recipient"`
	Message    string `json:"message"`
	SentAt     string `json:"sent_at"`
}

// Dispatch posts the alert to the channel's webhook, falling back to
// the log dispatcher when the channel has no endpoint configured.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, incident *entity.SecurityIncident, route service.AlertRoute) (*entity.IncidentAlert, error) {
	endpoint, ok := d.config.Endpoints[route.Channel]
	if !ok || endpoint == "" {
		return d.fallback.Dispatch(ctx, incident, route)
	}

	alert := buildAlert(incident, route)

	payload, err := json.Marshal(alertPayload{
		IncidentID: incident.ID.String(),
		Severity:   string(incident.Severity),
		Title:      incident.Title,
		Recipient:  route.Recipient,
		Message:    alert.Message,
		SentAt:     alert.SentAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		alert.Error = err.Error()
		return alert, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		alert.Error = fmt.Sprintf("webhook returned %d", resp.StatusCode)
		return alert, fmt.Errorf("webhook %s returned %d", route.Channel, resp.StatusCode)
	}

	alert.Delivered = true
	return alert, nil
}

func buildAlert(incident *entity.SecurityIncident, route service.AlertRoute) *entity.IncidentAlert {
	return &entity.IncidentAlert{
		ID:         uuid.New(),
		IncidentID: incident.ID,
		Channel:    route.Channel,
		Recipient:  route.Recipient,
		Message: fmt.Sprintf("[%s] %s (SLA %s)",
			incident.Severity, incident.Title, incident.SLADeadline.Format(time.RFC3339)),
		SentAt: time.Now().UTC(),
	}
}
