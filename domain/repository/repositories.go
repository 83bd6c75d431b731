package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/sentinel/domain/entity"
)

// EventFilter narrows correlated event queries
type EventFilter struct {
	Rule     entity.CorrelationRule
	SourceIP string
	Since    time.Time
	Limit    int
}

// CorrelatedEventRepository is the append-only store for detections
type CorrelatedEventRepository interface {
	Store(ctx context.Context, event *entity.CorrelatedEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.CorrelatedEvent, error)
	List(ctx context.Context, filter EventFilter) ([]*entity.CorrelatedEvent, error)

	// DeleteOlderThan enforces the retention policy and returns the
	// number of events removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IncidentFilter narrows incident queries
type IncidentFilter struct {
	Status   entity.IncidentStatus
	Severity entity.Severity
	Limit    int
}

// IncidentRepository persists security incidents
type IncidentRepository interface {
	Create(ctx context.Context, incident *entity.SecurityIncident) error
	Update(ctx context.Context, incident *entity.SecurityIncident) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.SecurityIncident, error)
	List(ctx context.Context, filter IncidentFilter) ([]*entity.SecurityIncident, error)

	// ListOpen returns incidents that still count against their SLA
	ListOpen(ctx context.Context) ([]*entity.SecurityIncident, error)
}

// IndicatorMatchRepository persists threat intelligence match history
type IndicatorMatchRepository interface {
	Store(ctx context.Context, match *entity.IndicatorMatch) error
	List(ctx context.Context, indicatorType entity.IndicatorType, limit int) ([]*entity.IndicatorMatch, error)
}

// PlaybookRunRepository persists playbook execution records
type PlaybookRunRepository interface {
	Save(ctx context.Context, run *entity.PlaybookRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.PlaybookRun, error)
	ListByPlaybook(ctx context.Context, playbookName string, limit int) ([]*entity.PlaybookRun, error)
}
