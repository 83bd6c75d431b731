package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
	"github.com/vigilsec/sentinel/internal/metrics"
)

// LookupCache caches indicator lookups in front of the in-memory
// index. Implementations must treat a miss as (nil, false, nil).
type LookupCache interface {
	Get(ctx context.Context, key string) (*entity.ThreatIndicator, bool, error)
	Set(ctx context.Context, key string, indicator *entity.ThreatIndicator) error
}

// ThreatIntelConfig defines configuration for the intelligence engine
type ThreatIntelConfig struct {
	// Severity thresholds on the 1-4 ordinal scale used when
	// aggregating actor profiles.
	CriticalThreshold float64 `json:"critical_threshold"`
	HighThreshold     float64 `json:"high_threshold"`
	MediumThreshold   float64 `json:"medium_threshold"`
}

// ThreatIntelEngine matches observables against a known-indicator
// table seeded at construction. The table is immutable after seeding;
// lookups are indexed by type and value.
type ThreatIntelEngine struct {
	logger  *zap.Logger
	config  *ThreatIntelConfig
	matches repository.IndicatorMatchRepository
	cache   LookupCache
	metrics *metrics.Collector

	byValue map[entity.IndicatorType]map[string]*entity.ThreatIndicator
	byActor map[string][]*entity.ThreatIndicator
}

// NewThreatIntelEngine creates an engine seeded with the given
// indicators. The cache is optional and may be nil.
func NewThreatIntelEngine(logger *zap.Logger, config *ThreatIntelConfig, indicators []*entity.ThreatIndicator, matches repository.IndicatorMatchRepository, cache LookupCache, collector *metrics.Collector) (*ThreatIntelEngine, error) {
	if config == nil {
		config = &ThreatIntelConfig{}
	}
	if matches == nil {
		return nil, fmt.Errorf("indicator match repository is required")
	}

	// Set defaults
	if config.CriticalThreshold == 0 {
		config.CriticalThreshold = 3.5
	}
	if config.HighThreshold == 0 {
		config.HighThreshold = 2.5
	}
	if config.MediumThreshold == 0 {
		config.MediumThreshold = 1.5
	}

	engine := &ThreatIntelEngine{
		logger:  logger.With(zap.String("component", "threat-intel")),
		config:  config,
		matches: matches,
		cache:   cache,
		metrics: collector,
		byValue: make(map[entity.IndicatorType]map[string]*entity.ThreatIndicator),
		byActor: make(map[string][]*entity.ThreatIndicator),
	}

	for _, indicator := range indicators {
		if err := indicator.Validate(); err != nil {
			return nil, fmt.Errorf("invalid seed indicator %q: %w", indicator.Value, err)
		}
		values, ok := engine.byValue[indicator.Type]
		if !ok {
			values = make(map[string]*entity.ThreatIndicator)
			engine.byValue[indicator.Type] = values
		}
		values[strings.ToLower(indicator.Value)] = indicator

		if indicator.Actor != "" {
			key := strings.ToLower(indicator.Actor)
			engine.byActor[key] = append(engine.byActor[key], indicator)
		}
	}

	logger.Info("Threat intelligence engine initialized",
		zap.Int("indicators", len(indicators)),
		zap.Int("actors", len(engine.byActor)),
	)

	return engine, nil
}

// CheckIP checks an IP address against the indicator table.
// A nil match with a nil error means the value is unknown.
func (e *ThreatIntelEngine) CheckIP(ctx context.Context, ip string) (*entity.IndicatorMatch, error) {
	return e.check(ctx, entity.IndicatorTypeIP, ip)
}

// CheckDomain checks a domain name against the indicator table
func (e *ThreatIntelEngine) CheckDomain(ctx context.Context, domain string) (*entity.IndicatorMatch, error) {
	return e.check(ctx, entity.IndicatorTypeDomain, domain)
}

// CheckFileHash checks a file hash against the indicator table
func (e *ThreatIntelEngine) CheckFileHash(ctx context.Context, hash string) (*entity.IndicatorMatch, error) {
	return e.check(ctx, entity.IndicatorTypeFileHash, hash)
}

func (e *ThreatIntelEngine) check(ctx context.Context, indicatorType entity.IndicatorType, value string) (*entity.IndicatorMatch, error) {
	if value == "" {
		return nil, nil
	}
	key := strings.ToLower(value)

	indicator := e.lookupCached(ctx, indicatorType, key)
	if indicator == nil {
		indicator = e.byValue[indicatorType][key]
		if indicator == nil {
			return nil, nil
		}
		e.fillCache(ctx, indicatorType, key, indicator)
	}

	match := &entity.IndicatorMatch{
		ID:           uuid.New(),
		IndicatorID:  indicator.ID,
		Type:         indicator.Type,
		MatchedValue: value,
		ThreatType:   indicator.ThreatType,
		Severity:     indicator.Severity,
		Actor:        indicator.Actor,
		ObservedAt:   time.Now().UTC(),
	}

	if err := e.matches.Store(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to store indicator match: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordIndicatorMatch(string(indicator.Type))
	}

	e.logger.Warn("Known indicator observed",
		zap.String("type", string(indicator.Type)),
		zap.String("value", value),
		zap.String("threat_type", string(indicator.ThreatType)),
		zap.String("actor", indicator.Actor),
	)

	return match, nil
}

func (e *ThreatIntelEngine) lookupCached(ctx context.Context, indicatorType entity.IndicatorType, key string) *entity.ThreatIndicator {
	if e.cache == nil {
		return nil
	}
	indicator, found, err := e.cache.Get(ctx, cacheKey(indicatorType, key))
	if err != nil {
		e.logger.Warn("Indicator cache lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return indicator
}

func (e *ThreatIntelEngine) fillCache(ctx context.Context, indicatorType entity.IndicatorType, key string, indicator *entity.ThreatIndicator) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey(indicatorType, key), indicator); err != nil {
		e.logger.Warn("Indicator cache fill failed", zap.Error(err))
	}
}

func cacheKey(indicatorType entity.IndicatorType, value string) string {
	return fmt.Sprintf("%s:%s", indicatorType, value)
}

// ActorProfile aggregates TTPs, campaigns and severity across every
// indicator attributed to the named actor. Unknown actors return
// ErrActorNotFound rather than an empty profile.
func (e *ThreatIntelEngine) ActorProfile(name string) (*entity.ActorProfile, error) {
	indicators := e.byActor[strings.ToLower(name)]
	if len(indicators) == 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrActorNotFound, name)
	}

	profile := &entity.ActorProfile{
		Name:           indicators[0].Actor,
		IndicatorCount: len(indicators),
		IndicatorTypes: make(map[entity.IndicatorType]int),
	}

	campaigns := make(map[string]bool)
	ttps := make(map[string]bool)
	var severitySum float64
	for _, indicator := range indicators {
		profile.IndicatorTypes[indicator.Type]++
		severitySum += float64(indicator.Severity.Level())
		if indicator.Campaign != "" && !campaigns[indicator.Campaign] {
			campaigns[indicator.Campaign] = true
			profile.Campaigns = append(profile.Campaigns, indicator.Campaign)
		}
		for _, ttp := range indicator.TTPs {
			if !ttps[ttp] {
				ttps[ttp] = true
				profile.TTPs = append(profile.TTPs, ttp)
			}
		}
	}
	sort.Strings(profile.Campaigns)
	sort.Strings(profile.TTPs)

	mean := severitySum / float64(len(indicators))
	switch {
	case mean >= e.config.CriticalThreshold:
		profile.Severity = entity.SeverityCritical
	case mean >= e.config.HighThreshold:
		profile.Severity = entity.SeverityHigh
	case mean >= e.config.MediumThreshold:
		profile.Severity = entity.SeverityMedium
	default:
		profile.Severity = entity.SeverityLow
	}

	return profile, nil
}

// IndicatorCount returns the number of seeded indicators of a type
func (e *ThreatIntelEngine) IndicatorCount(indicatorType entity.IndicatorType) int {
	return len(e.byValue[indicatorType])
}
