package entity

import (
	"time"

	"github.com/google/uuid"
)

// IndicatorType represents the observable kind an indicator describes
type IndicatorType string

const (
	IndicatorTypeIP       IndicatorType = "ip_address"
	IndicatorTypeDomain   IndicatorType = "domain"
	IndicatorTypeFileHash IndicatorType = "file_hash"
	IndicatorTypeURL      IndicatorType = "url"
)

// ThreatType categorizes the malicious activity an indicator is tied to
type ThreatType string

const (
	ThreatTypeMalware        ThreatType = "malware"
	ThreatTypeCommandControl ThreatType = "command_control"
	ThreatTypePhishing       ThreatType = "phishing"
	ThreatTypeBotnet         ThreatType = "botnet"
	ThreatTypeRansomware     ThreatType = "ransomware"
	ThreatTypeScanning       ThreatType = "scanning"
)

// ThreatIndicator is a single indicator of compromise with attribution.
// Indicators are seeded at engine construction and immutable afterward.
type ThreatIndicator struct {
	ID         uuid.UUID     `json:"id" bson:"_id"`
	Type       IndicatorType `json:"type" bson:"type"`
	Value      string        `json:"value" bson:"value"`
	ThreatType ThreatType    `json:"threat_type" bson:"threat_type"`
	Severity   Severity      `json:"severity" bson:"severity"`
	Confidence float64       `json:"confidence" bson:"confidence"`

	// Attribution
	Actor    string   `json:"actor,omitempty" bson:"actor,omitempty"`
	Campaign string   `json:"campaign,omitempty" bson:"campaign,omitempty"`
	TTPs     []string `json:"ttps,omitempty" bson:"ttps,omitempty"`

	Source    string    `json:"source" bson:"source"`
	FirstSeen time.Time `json:"first_seen" bson:"first_seen"`
	LastSeen  time.Time `json:"last_seen" bson:"last_seen"`
}

// Validate validates the indicator
func (i *ThreatIndicator) Validate() error {
	if i.Type == "" || i.Value == "" {
		return ErrInvalidIndicator
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if !i.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	return nil
}

// IndicatorMatch records an observed value matching a known indicator
type IndicatorMatch struct {
	ID           uuid.UUID     `json:"id" bson:"_id"`
	IndicatorID  uuid.UUID     `json:"indicator_id" bson:"indicator_id"`
	Type         IndicatorType `json:"type" bson:"type"`
	MatchedValue string        `json:"matched_value" bson:"matched_value"`
	ThreatType   ThreatType    `json:"threat_type" bson:"threat_type"`
	Severity     Severity      `json:"severity" bson:"severity"`
	Actor        string        `json:"actor,omitempty" bson:"actor,omitempty"`
	ObservedAt   time.Time     `json:"observed_at" bson:"observed_at"`
}

// ActorProfile aggregates everything known about a threat actor
// across the indicators attributed to it.
type ActorProfile struct {
	Name           string                `json:"name"`
	IndicatorCount int                   `json:"indicator_count"`
	Campaigns      []string              `json:"campaigns"`
	TTPs           []string              `json:"ttps"`
	Severity       Severity              `json:"severity"`
	IndicatorTypes map[IndicatorType]int `json:"indicator_types"`
}
