package entity

import "errors"

// Signal and correlation errors
var (
	ErrUnknownSignalType       = errors.New("unknown signal type")
	ErrMissingSourceIP         = errors.New("source IP is required")
	ErrMissingHostAccessFields = errors.New("user and hostname are required")
	ErrMissingTimestamp        = errors.New("signal timestamp is required")
	ErrNegativeByteCount       = errors.New("byte count must not be negative")
	ErrMissingEventID          = errors.New("event ID is required")
	ErrMissingCorrelationRule  = errors.New("correlation rule is required")
	ErrInvalidConfidence       = errors.New("confidence must be between 0 and 1")
	ErrInvalidSeverity         = errors.New("invalid severity")
	ErrInvalidEventCount       = errors.New("event count must be positive")
	ErrEventNotFound           = errors.New("correlated event not found")
)

// Incident errors
var (
	ErrIncidentNotFound     = errors.New("incident not found")
	ErrInvalidTransition    = errors.New("invalid incident status transition")
	ErrIncidentTerminal     = errors.New("incident is in a terminal state")
	ErrMissingIncidentTitle = errors.New("incident title is required")
)

// Threat intelligence errors
var (
	ErrIndicatorNotFound = errors.New("indicator not found")
	ErrActorNotFound     = errors.New("threat actor not found")
	ErrInvalidIndicator  = errors.New("invalid threat indicator")
)

// Playbook errors
var (
	ErrPlaybookNotFound      = errors.New("playbook not found")
	ErrPlaybookExists        = errors.New("playbook already registered")
	ErrPlaybookNoSteps       = errors.New("playbook must define at least one step")
	ErrUnknownPlaybookAction = errors.New("unknown playbook action")
	ErrPlaybookRunNotFound   = errors.New("playbook run not found")
)
