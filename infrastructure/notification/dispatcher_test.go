package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/service"
)

func testIncident() *entity.SecurityIncident {
	return &entity.SecurityIncident{
		ID:          uuid.New(),
		Title:       "brute force from 203.0.113.7",
		Severity:    entity.SeverityCritical,
		Status:      entity.IncidentStatusNew,
		DetectedAt:  time.Now().UTC(),
		SLADeadline: time.Now().UTC().Add(15 * time.Minute),
	}
}

func TestLogDispatcherDelivers(t *testing.T) {
	dispatcher := NewLogDispatcher(zap.NewNop())
	incident := testIncident()

	alert, err := dispatcher.Dispatch(context.Background(), incident, service.AlertRoute{
		Channel:   entity.ChannelSlack,
		Recipient: "#soc-critical",
	})
	require.NoError(t, err)

	assert.True(t, alert.Delivered)
	assert.Equal(t, incident.ID, alert.IncidentID)
	assert.Equal(t, entity.ChannelSlack, alert.Channel)
	assert.Contains(t, alert.Message, "critical")
	assert.Contains(t, alert.Message, incident.Title)
}

func TestWebhookDispatcherPostsPayload(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	dispatcher := NewWebhookDispatcher(zap.NewNop(), &WebhookDispatcherConfig{
		Endpoints: map[entity.AlertChannel]string{entity.ChannelSlack: server.URL},
	})

	incident := testIncident()
	alert, err := dispatcher.Dispatch(context.Background(), incident, service.AlertRoute{
		Channel:   entity.ChannelSlack,
		Recipient: "#soc-critical",
	})
	require.NoError(t, err)

	assert.True(t, alert.Delivered)
	assert.Equal(t, incident.ID.String(), payload["incident_id"])
	assert.Equal(t, "critical", payload["severity"])
	assert.Equal(t, "#soc-critical", payload["recipient"])
}

func TestWebhookDispatcherFailedDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	dispatcher := NewWebhookDispatcher(zap.NewNop(), &WebhookDispatcherConfig{
		Endpoints: map[entity.AlertChannel]string{entity.ChannelPagerDuty: server.URL},
	})

	alert, err := dispatcher.Dispatch(context.Background(), testIncident(), service.AlertRoute{
		Channel:   entity.ChannelPagerDuty,
		Recipient: "soc-oncall",
	})
	require.Error(t, err)
	require.NotNil(t, alert)
	assert.False(t, alert.Delivered)
	assert.NotEmpty(t, alert.Error)
}

func TestWebhookDispatcherFallsBackWithoutEndpoint(t *testing.T) {
	dispatcher := NewWebhookDispatcher(zap.NewNop(), nil)

	alert, err := dispatcher.Dispatch(context.Background(), testIncident(), service.AlertRoute{
		Channel:   entity.ChannelEmail,
		Recipient: "soc@vigilsec.io",
	})
	require.NoError(t, err)
	assert.True(t, alert.Delivered)
}
