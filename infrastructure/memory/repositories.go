// Package memory provides in-process repository implementations used
// for tests and single-node deployments without external storage.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
)

// EventRepository is an in-memory CorrelatedEventRepository
type EventRepository struct {
	mu     sync.RWMutex
	events []*entity.CorrelatedEvent
	byID   map[uuid.UUID]*entity.CorrelatedEvent
}

// NewEventRepository creates an empty in-memory event store
func NewEventRepository() *EventRepository {
	return &EventRepository{byID: make(map[uuid.UUID]*entity.CorrelatedEvent)}
}

func (r *EventRepository) Store(_ context.Context, event *entity.CorrelatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *event
	r.events = append(r.events, &stored)
	r.byID[event.ID] = &stored
	return nil
}

func (r *EventRepository) GetByID(_ context.Context, id uuid.UUID) (*entity.CorrelatedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.byID[id]
	if !ok {
		return nil, entity.ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *EventRepository) List(_ context.Context, filter repository.EventFilter) ([]*entity.CorrelatedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.CorrelatedEvent
	for _, event := range r.events {
		if filter.Rule != "" && event.Rule != filter.Rule {
			continue
		}
		if filter.SourceIP != "" && !containsString(event.SourceIPs, filter.SourceIP) {
			continue
		}
		if !filter.Since.IsZero() && event.LastSeen.Before(filter.Since) {
			continue
		}
		copied := *event
		out = append(out, &copied)
	}

	// Newest first, matching the MongoDB repository's sort order.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *EventRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0:0]
	var removed int64
	for _, event := range r.events {
		if event.CreatedAt.Before(cutoff) {
			delete(r.byID, event.ID)
			removed++
			continue
		}
		kept = append(kept, event)
	}
	r.events = kept
	return removed, nil
}

// IncidentRepository is an in-memory IncidentRepository
type IncidentRepository struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]*entity.SecurityIncident
	order     []uuid.UUID
}

// NewIncidentRepository creates an empty in-memory incident store
func NewIncidentRepository() *IncidentRepository {
	return &IncidentRepository{incidents: make(map[uuid.UUID]*entity.SecurityIncident)}
}

func (r *IncidentRepository) Create(_ context.Context, incident *entity.SecurityIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.incidents[incident.ID]; exists {
		return fmt.Errorf("incident already exists: %s", incident.ID)
	}
	stored := *incident
	r.incidents[incident.ID] = &stored
	r.order = append(r.order, incident.ID)
	return nil
}

func (r *IncidentRepository) Update(_ context.Context, incident *entity.SecurityIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.incidents[incident.ID]; !exists {
		return entity.ErrIncidentNotFound
	}
	stored := *incident
	r.incidents[incident.ID] = &stored
	return nil
}

func (r *IncidentRepository) GetByID(_ context.Context, id uuid.UUID) (*entity.SecurityIncident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	incident, ok := r.incidents[id]
	if !ok {
		return nil, entity.ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

func (r *IncidentRepository) List(_ context.Context, filter repository.IncidentFilter) ([]*entity.SecurityIncident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.SecurityIncident
	for _, id := range r.order {
		incident := r.incidents[id]
		if filter.Status != "" && incident.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && incident.Severity != filter.Severity {
			continue
		}
		copied := *incident
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *IncidentRepository) ListOpen(_ context.Context) ([]*entity.SecurityIncident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.SecurityIncident
	for _, id := range r.order {
		incident := r.incidents[id]
		if !incident.IsOpen() {
			continue
		}
		copied := *incident
		out = append(out, &copied)
	}
	return out, nil
}

// MatchRepository is an in-memory IndicatorMatchRepository
type MatchRepository struct {
	mu      sync.RWMutex
	matches []*entity.IndicatorMatch
}

// NewMatchRepository creates an empty in-memory match store
func NewMatchRepository() *MatchRepository {
	return &MatchRepository{}
}

func (r *MatchRepository) Store(_ context.Context, match *entity.IndicatorMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *match
	r.matches = append(r.matches, &stored)
	return nil
}

func (r *MatchRepository) List(_ context.Context, indicatorType entity.IndicatorType, limit int) ([]*entity.IndicatorMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.IndicatorMatch
	for _, match := range r.matches {
		if indicatorType != "" && match.Type != indicatorType {
			continue
		}
		copied := *match
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RunRepository is an in-memory PlaybookRunRepository
type RunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*entity.PlaybookRun
}

// NewRunRepository creates an empty in-memory run store
func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[uuid.UUID]*entity.PlaybookRun)}
}

func (r *RunRepository) Save(_ context.Context, run *entity.PlaybookRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *run
	stored.Steps = append([]entity.StepResult(nil), run.Steps...)
	r.runs[run.ID] = &stored
	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id uuid.UUID) (*entity.PlaybookRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, entity.ErrPlaybookRunNotFound
	}
	copied := *run
	copied.Steps = append([]entity.StepResult(nil), run.Steps...)
	return &copied, nil
}

func (r *RunRepository) ListByPlaybook(_ context.Context, playbookName string, limit int) ([]*entity.PlaybookRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.PlaybookRun
	for _, run := range r.runs {
		if playbookName != "" && run.PlaybookName != playbookName {
			continue
		}
		copied := *run
		copied.Steps = append([]entity.StepResult(nil), run.Steps...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
