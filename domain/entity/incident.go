package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the lifecycle state of a security incident
type IncidentStatus string

const (
	IncidentStatusNew           IncidentStatus = "new"
	IncidentStatusAcknowledged  IncidentStatus = "acknowledged"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusContained     IncidentStatus = "contained"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

// IsTerminal reports whether the status ends the incident lifecycle
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusClosed
}

// validTransitions encodes the allowed incident state machine
var validTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusNew:           {IncidentStatusAcknowledged, IncidentStatusResolved},
	IncidentStatusAcknowledged:  {IncidentStatusInvestigating, IncidentStatusResolved},
	IncidentStatusInvestigating: {IncidentStatusContained, IncidentStatusResolved},
	IncidentStatusContained:     {IncidentStatusResolved},
	IncidentStatusResolved:      {IncidentStatusClosed},
	IncidentStatusClosed:        {},
}

// CanTransitionTo reports whether the state machine allows moving to next
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IncidentNote is a free-text annotation on an incident
type IncidentNote struct {
	Author    string    `json:"author" bson:"author"`
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// SecurityIncident is a tracked response unit with an SLA clock
type SecurityIncident struct {
	ID          uuid.UUID      `json:"id" bson:"_id"`
	Title       string         `json:"title" bson:"title"`
	Description string         `json:"description" bson:"description"`
	Severity    Severity       `json:"severity" bson:"severity"`
	Status      IncidentStatus `json:"status" bson:"status"`

	DetectedAt     time.Time  `json:"detected_at" bson:"detected_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" bson:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`

	AffectedHosts []string `json:"affected_hosts,omitempty" bson:"affected_hosts,omitempty"`
	AffectedUsers []string `json:"affected_users,omitempty" bson:"affected_users,omitempty"`
	SourceIPs     []string `json:"source_ips,omitempty" bson:"source_ips,omitempty"`

	SLADeadline time.Time `json:"sla_deadline" bson:"sla_deadline"`
	SLABreached bool      `json:"sla_breached" bson:"sla_breached"`

	Notes    []IncidentNote `json:"notes,omitempty" bson:"notes,omitempty"`
	EventIDs []uuid.UUID    `json:"event_ids,omitempty" bson:"event_ids,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	Version   int       `json:"version" bson:"version"`
}

// Validate validates the incident entity
func (i *SecurityIncident) Validate() error {
	if i.ID == uuid.Nil {
		return fmt.Errorf("incident ID is required")
	}
	if i.Title == "" {
		return ErrMissingIncidentTitle
	}
	if !i.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	if i.DetectedAt.IsZero() {
		return fmt.Errorf("detection time is required")
	}
	return nil
}

// Transition moves the incident to the next status, enforcing the
// state machine. Terminal incidents reject any further transition.
func (i *SecurityIncident) Transition(next IncidentStatus) error {
	if i.Status.IsTerminal() && next != IncidentStatusClosed {
		return fmt.Errorf("%w: %s", ErrIncidentTerminal, i.Status)
	}
	if !i.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, next)
	}
	i.Status = next
	i.touch()
	return nil
}

// AddNote appends a note to the incident
func (i *SecurityIncident) AddNote(author, text string) {
	i.Notes = append(i.Notes, IncidentNote{
		Author:    author,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	i.touch()
}

// IsOpen reports whether the incident still counts against its SLA
func (i *SecurityIncident) IsOpen() bool {
	return !i.Status.IsTerminal()
}

func (i *SecurityIncident) touch() {
	i.UpdatedAt = time.Now().UTC()
	i.Version++
}

// AlertChannel identifies a notification delivery channel
type AlertChannel string

const (
	ChannelEmail     AlertChannel = "email"
	ChannelSlack     AlertChannel = "slack"
	ChannelPagerDuty AlertChannel = "pagerduty"
	ChannelSMS       AlertChannel = "sms"
	ChannelWebhook   AlertChannel = "webhook"
)

// IncidentAlert is a notification sent for an incident
type IncidentAlert struct {
	ID         uuid.UUID    `json:"id" bson:"_id"`
	IncidentID uuid.UUID    `json:"incident_id" bson:"incident_id"`
	Channel    AlertChannel `json:"channel" bson:"channel"`
	Recipient  string       `json:"recipient" bson:"recipient"`
	Message    string       `json:"message" bson:"message"`
	SentAt     time.Time    `json:"sent_at" bson:"sent_at"`
	Delivered  bool         `json:"delivered" bson:"delivered"`
	Error      string       `json:"error,omitempty" bson:"error,omitempty"`
}
