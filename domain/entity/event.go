package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of a detection or incident
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Level returns the ordinal value of the severity on a 1-4 scale
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 1
	}
}

// SeverityFromLevel converts an ordinal 1-4 value back to a severity
func SeverityFromLevel(level int) Severity {
	switch {
	case level >= 4:
		return SeverityCritical
	case level == 3:
		return SeverityHigh
	case level == 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Escalated returns the severity one step above the current one.
// Critical has no higher step and is returned unchanged.
func (s Severity) Escalated() Severity {
	if s == SeverityCritical {
		return SeverityCritical
	}
	return SeverityFromLevel(s.Level() + 1)
}

// IsValid reports whether the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// CorrelationRule identifies the attack pattern a correlated event matched
type CorrelationRule string

const (
	RuleBruteForce       CorrelationRule = "brute_force"
	RuleLateralMovement  CorrelationRule = "lateral_movement"
	RuleDataExfiltration CorrelationRule = "data_exfiltration"
)

// SignalType represents the kind of raw security signal fed to the correlator
type SignalType string

const (
	SignalLoginFailure SignalType = "login_failure"
	SignalHostAccess   SignalType = "host_access"
	SignalDataTransfer SignalType = "data_transfer"
)

// SecuritySignal is a single raw observation streamed into the pipeline
type SecuritySignal struct {
	Type      SignalType `json:"type"`
	SourceIP  string     `json:"source_ip,omitempty"`
	User      string     `json:"user,omitempty"`
	Hostname  string     `json:"hostname,omitempty"`
	Bytes     int64      `json:"bytes,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Validate validates a raw signal before it enters the correlator
func (s *SecuritySignal) Validate() error {
	switch s.Type {
	case SignalLoginFailure:
		if s.SourceIP == "" {
			return ErrMissingSourceIP
		}
	case SignalHostAccess:
		if s.User == "" || s.Hostname == "" {
			return ErrMissingHostAccessFields
		}
	case SignalDataTransfer:
		if s.SourceIP == "" {
			return ErrMissingSourceIP
		}
		if s.Bytes < 0 {
			return ErrNegativeByteCount
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignalType, s.Type)
	}
	if s.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// CorrelatedEvent represents a detected multi-signal attack pattern
type CorrelatedEvent struct {
	ID         uuid.UUID       `json:"id" bson:"_id"`
	Rule       CorrelationRule `json:"rule" bson:"rule"`
	Confidence float64         `json:"confidence" bson:"confidence"`
	Severity   Severity        `json:"severity" bson:"severity"`

	SourceIPs []string `json:"source_ips,omitempty" bson:"source_ips,omitempty"`
	Hostnames []string `json:"hostnames,omitempty" bson:"hostnames,omitempty"`
	Users     []string `json:"users,omitempty" bson:"users,omitempty"`

	FirstSeen  time.Time `json:"first_seen" bson:"first_seen"`
	LastSeen   time.Time `json:"last_seen" bson:"last_seen"`
	EventCount int       `json:"event_count" bson:"event_count"`

	// Free-text indicators describing what was observed
	Indicators []string `json:"indicators,omitempty" bson:"indicators,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Validate validates the correlated event
func (e *CorrelatedEvent) Validate() error {
	if e.ID == uuid.Nil {
		return ErrMissingEventID
	}
	if e.Rule == "" {
		return ErrMissingCorrelationRule
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if !e.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	if e.EventCount <= 0 {
		return ErrInvalidEventCount
	}
	return nil
}

// PrimarySourceIP returns the first recorded source IP, if any
func (e *CorrelatedEvent) PrimarySourceIP() string {
	if len(e.SourceIPs) == 0 {
		return ""
	}
	return e.SourceIPs[0]
}

// AttackChain represents a sequence of correlated events sharing a source IP
type AttackChain struct {
	SourceIP   string            `json:"source_ip"`
	Rules      []CorrelationRule `json:"rules"`
	EventIDs   []uuid.UUID       `json:"event_ids"`
	Confidence float64           `json:"confidence"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
}

// Length returns the number of events in the chain
func (c *AttackChain) Length() int {
	return len(c.EventIDs)
}
