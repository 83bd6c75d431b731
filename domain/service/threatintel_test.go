package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/infrastructure/memory"
)

func newTestIntelEngine(t *testing.T) (*ThreatIntelEngine, *memory.MatchRepository) {
	t.Helper()

	repo := memory.NewMatchRepository()
	engine, err := NewThreatIntelEngine(zap.NewNop(), nil, DefaultIndicators(), repo, nil, nil)
	require.NoError(t, err)

	return engine, repo
}

func TestCheckIPKnownIndicator(t *testing.T) {
	engine, repo := newTestIntelEngine(t)
	ctx := context.Background()

	match, err := engine.CheckIP(ctx, "185.220.101.45")
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, entity.IndicatorTypeIP, match.Type)
	assert.Equal(t, entity.ThreatTypeCommandControl, match.ThreatType)
	assert.Equal(t, entity.SeverityCritical, match.Severity)
	assert.Equal(t, "APT-Karakurt", match.Actor)
	assert.Equal(t, "185.220.101.45", match.MatchedValue)

	stored, err := repo.List(ctx, entity.IndicatorTypeIP, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCheckIPUnknownIndicator(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	match, err := engine.CheckIP(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCheckDomainCaseInsensitive(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	match, err := engine.CheckDomain(context.Background(), "Update-Checker.XYZ")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, entity.ThreatTypeCommandControl, match.ThreatType)
}

func TestCheckFileHash(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	tests := []struct {
		name    string
		hash    string
		matched bool
	}{
		{"known ransomware dropper", "e3b7a1f2c4d5869b0aa14be6dd0e92f14c8a2d7b9e360f14ab52c6d98e01f374", true},
		{"unknown hash", "0000000000000000000000000000000000000000000000000000000000000000", false},
		{"empty value", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := engine.CheckFileHash(context.Background(), tt.hash)
			require.NoError(t, err)
			assert.Equal(t, tt.matched, match != nil)
		})
	}
}

// stubCache records cache traffic for assertions
type stubCache struct {
	mu      sync.Mutex
	entries map[string]*entity.ThreatIndicator
	hits    int
	fills   int
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]*entity.ThreatIndicator)}
}

func (c *stubCache) Get(_ context.Context, key string) (*entity.ThreatIndicator, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	indicator, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return indicator, ok, nil
}

func (c *stubCache) Set(_ context.Context, key string, indicator *entity.ThreatIndicator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = indicator
	c.fills++
	return nil
}

func TestCheckFillsAndHitsCache(t *testing.T) {
	cache := newStubCache()
	engine, err := NewThreatIntelEngine(zap.NewNop(), nil, DefaultIndicators(), memory.NewMatchRepository(), cache, nil)
	require.NoError(t, err)

	ctx := context.Background()

	match, err := engine.CheckIP(ctx, "194.26.29.156")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 1, cache.fills)
	assert.Equal(t, 0, cache.hits)

	match, err = engine.CheckIP(ctx, "194.26.29.156")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 1, cache.fills)
	assert.Equal(t, 1, cache.hits)
}

func TestActorProfile(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	profile, err := engine.ActorProfile("APT-Karakurt")
	require.NoError(t, err)

	assert.Equal(t, "APT-Karakurt", profile.Name)
	assert.Equal(t, 4, profile.IndicatorCount)
	assert.Equal(t, []string{"OP-HollowAnchor"}, profile.Campaigns)
	assert.Contains(t, profile.TTPs, "T1071.001")
	assert.Equal(t, 2, profile.IndicatorTypes[entity.IndicatorTypeIP])

	// Severity levels critical(4), high(3), high(3), high(3): mean 3.25
	// lands in the high band.
	assert.Equal(t, entity.SeverityHigh, profile.Severity)
}

func TestActorProfileCaseInsensitive(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	profile, err := engine.ActorProfile("goldvein")
	require.NoError(t, err)
	assert.Equal(t, "GoldVein", profile.Name)
	assert.Equal(t, 3, profile.IndicatorCount)
}

func TestActorProfileUnknownActor(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	_, err := engine.ActorProfile("NoSuchActor")
	assert.ErrorIs(t, err, entity.ErrActorNotFound)
}

func TestActorProfileSeverityBands(t *testing.T) {
	indicator := func(severity entity.Severity) *entity.ThreatIndicator {
		seed := DefaultIndicators()[0]
		copied := *seed
		copied.Severity = severity
		copied.Actor = "BandedActor"
		return &copied
	}

	tests := []struct {
		name       string
		severities []entity.Severity
		expected   entity.Severity
	}{
		{"all critical", []entity.Severity{entity.SeverityCritical, entity.SeverityCritical}, entity.SeverityCritical},
		{"mixed high", []entity.Severity{entity.SeverityCritical, entity.SeverityMedium}, entity.SeverityHigh},
		{"mostly low", []entity.Severity{entity.SeverityLow, entity.SeverityMedium}, entity.SeverityMedium},
		{"all low", []entity.Severity{entity.SeverityLow, entity.SeverityLow}, entity.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			indicators := make([]*entity.ThreatIndicator, 0, len(tt.severities))
			for _, severity := range tt.severities {
				indicators = append(indicators, indicator(severity))
			}

			engine, err := NewThreatIntelEngine(zap.NewNop(), nil, indicators, memory.NewMatchRepository(), nil, nil)
			require.NoError(t, err)

			profile, err := engine.ActorProfile("BandedActor")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, profile.Severity)
		})
	}
}

func TestIndicatorCount(t *testing.T) {
	engine, _ := newTestIntelEngine(t)

	assert.Equal(t, 4, engine.IndicatorCount(entity.IndicatorTypeIP))
	assert.Equal(t, 3, engine.IndicatorCount(entity.IndicatorTypeDomain))
	assert.Equal(t, 2, engine.IndicatorCount(entity.IndicatorTypeFileHash))
}
