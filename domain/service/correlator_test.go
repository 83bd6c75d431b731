package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/infrastructure/memory"
)

func newTestCorrelator(t *testing.T) *Correlator {
	t.Helper()

	correlator, err := NewCorrelator(zap.NewNop(), &CorrelatorConfig{}, memory.NewEventRepository(), nil)
	require.NoError(t, err)
	t.Cleanup(correlator.Stop)

	return correlator
}

func TestRecordLoginFailureBelowThreshold(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		event, err := correlator.RecordLoginFailure(ctx, "10.0.0.1", "alice", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Nil(t, event)
	}
}

func TestRecordLoginFailureEmitsAtAndPastThreshold(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	var emitted []*entity.CorrelatedEvent
	for i := 0; i < 6; i++ {
		event, err := correlator.RecordLoginFailure(ctx, "203.0.113.7", "svc-backup", base.Add(time.Duration(i*10)*time.Second))
		require.NoError(t, err)
		if event != nil {
			emitted = append(emitted, event)
		}
	}

	// The 5th and 6th failures each emit, with the then-current count.
	require.Len(t, emitted, 2)
	assert.Equal(t, 5, emitted[0].EventCount)
	assert.Equal(t, 6, emitted[1].EventCount)

	for _, event := range emitted {
		assert.Equal(t, entity.RuleBruteForce, event.Rule)
		assert.Equal(t, entity.SeverityHigh, event.Severity)
		assert.InDelta(t, 0.9, event.Confidence, 1e-9)
		assert.Equal(t, []string{"203.0.113.7"}, event.SourceIPs)
	}
}

func TestRecordLoginFailureWindowExpiry(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		_, err := correlator.RecordLoginFailure(ctx, "10.0.0.9", "bob", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	// The 5th failure lands after the window slid past the first four.
	event, err := correlator.RecordLoginFailure(ctx, "10.0.0.9", "bob", base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestRecordLoginFailureKeepsSampleExactlyWindowOld(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		_, err := correlator.RecordLoginFailure(ctx, "10.0.0.9", "bob", base)
		require.NoError(t, err)
	}

	// A failure landing exactly one window later still counts the
	// first four; only strictly older entries are pruned.
	event, err := correlator.RecordLoginFailure(ctx, "10.0.0.9", "bob", base.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 5, event.EventCount)
}

func TestRecordLoginFailureTracksPerSourceIP(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		_, err := correlator.RecordLoginFailure(ctx, "10.0.0.1", "alice", base)
		require.NoError(t, err)
	}

	// A different IP starts its own count.
	event, err := correlator.RecordLoginFailure(ctx, "10.0.0.2", "alice", base)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestRecordLoginFailureRequiresSourceIP(t *testing.T) {
	correlator := newTestCorrelator(t)

	_, err := correlator.RecordLoginFailure(context.Background(), "", "alice", time.Now())
	assert.ErrorIs(t, err, entity.ErrMissingSourceIP)
}

func TestRecordHostAccessEmitsAtThirdDistinctHost(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	event, err := correlator.RecordHostAccess(ctx, "mallory", "db-01", now)
	require.NoError(t, err)
	assert.Nil(t, event)

	// Repeat access to a known host does not advance the count.
	event, err = correlator.RecordHostAccess(ctx, "mallory", "db-01", now)
	require.NoError(t, err)
	assert.Nil(t, event)

	event, err = correlator.RecordHostAccess(ctx, "mallory", "app-01", now)
	require.NoError(t, err)
	assert.Nil(t, event)

	event, err = correlator.RecordHostAccess(ctx, "mallory", "web-01", now)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, entity.RuleLateralMovement, event.Rule)
	assert.Equal(t, entity.SeverityHigh, event.Severity)
	assert.Equal(t, 3, event.EventCount)
	assert.Equal(t, []string{"app-01", "db-01", "web-01"}, event.Hostnames)
	assert.Equal(t, []string{"mallory"}, event.Users)
}

func TestRecordHostAccessKeepsEmittingPastThreshold(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	hosts := []string{"h1", "h2", "h3", "h4"}
	var emitted int
	for _, host := range hosts {
		event, err := correlator.RecordHostAccess(ctx, "mallory", host, now)
		require.NoError(t, err)
		if event != nil {
			emitted++
		}
	}

	assert.Equal(t, 2, emitted)
}

func TestRecordHostAccessRequiresUserAndHost(t *testing.T) {
	correlator := newTestCorrelator(t)

	_, err := correlator.RecordHostAccess(context.Background(), "", "db-01", time.Now())
	assert.ErrorIs(t, err, entity.ErrMissingHostAccessFields)

	_, err = correlator.RecordHostAccess(context.Background(), "mallory", "", time.Now())
	assert.ErrorIs(t, err, entity.ErrMissingHostAccessFields)
}

func TestRecordDataTransferThresholdBoundary(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Exactly at the threshold: no detection.
	event, err := correlator.RecordDataTransfer(ctx, "10.1.1.1", 100_000_000, now)
	require.NoError(t, err)
	assert.Nil(t, event)

	// One more byte pushes the window sum strictly over.
	event, err = correlator.RecordDataTransfer(ctx, "10.1.1.1", 1, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, entity.RuleDataExfiltration, event.Rule)
	assert.Equal(t, entity.SeverityCritical, event.Severity)
	assert.Equal(t, 2, event.EventCount)
}

func TestRecordDataTransferSingleLargeTransfer(t *testing.T) {
	correlator := newTestCorrelator(t)

	event, err := correlator.RecordDataTransfer(context.Background(), "10.1.1.2", 100_000_001, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 1, event.EventCount)
}

func TestRecordDataTransferRejectsNegativeBytes(t *testing.T) {
	correlator := newTestCorrelator(t)

	_, err := correlator.RecordDataTransfer(context.Background(), "10.1.1.3", -1, time.Now())
	assert.ErrorIs(t, err, entity.ErrNegativeByteCount)
}

func TestRecordDataTransferWindowExpiry(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	event, err := correlator.RecordDataTransfer(ctx, "10.1.1.4", 90_000_000, base)
	require.NoError(t, err)
	assert.Nil(t, event)

	// The earlier sample has aged out, so the sum stays under.
	event, err = correlator.RecordDataTransfer(ctx, "10.1.1.4", 90_000_000, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestRecordDataTransferKeepsSampleExactlyWindowOld(t *testing.T) {
	correlator := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Now().UTC()

	event, err := correlator.RecordDataTransfer(ctx, "10.1.1.5", 60_000_000, base)
	require.NoError(t, err)
	assert.Nil(t, event)

	// A transfer exactly one window later still sums with the first
	// sample; only strictly older samples are pruned.
	event, err = correlator.RecordDataTransfer(ctx, "10.1.1.5", 50_000_000, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 2, event.EventCount)
}

func TestAnalyzeAttackChains(t *testing.T) {
	repo := memory.NewEventRepository()
	correlator, err := NewCorrelator(zap.NewNop(), &CorrelatorConfig{}, repo, nil)
	require.NoError(t, err)
	t.Cleanup(correlator.Stop)

	ctx := context.Background()
	base := time.Now().UTC()

	// Brute force then exfiltration from the same IP.
	for i := 0; i < 5; i++ {
		_, err := correlator.RecordLoginFailure(ctx, "198.51.100.4", "root", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err = correlator.RecordDataTransfer(ctx, "198.51.100.4", 200_000_000, base.Add(time.Minute))
	require.NoError(t, err)

	// A single detection from another IP does not chain.
	_, err = correlator.RecordDataTransfer(ctx, "198.51.100.9", 200_000_000, base)
	require.NoError(t, err)

	chains, err := correlator.AnalyzeAttackChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 1)

	chain := chains[0]
	assert.Equal(t, "198.51.100.4", chain.SourceIP)
	assert.Equal(t, []entity.CorrelationRule{entity.RuleBruteForce, entity.RuleDataExfiltration}, chain.Rules)
	assert.InDelta(t, (0.9+0.8)/2, chain.Confidence, 1e-9)
	assert.Len(t, chain.EventIDs, 2)
}

func TestAnalyzeAttackChainsEmpty(t *testing.T) {
	correlator := newTestCorrelator(t)

	chains, err := correlator.AnalyzeAttackChains(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestCorrelatorPersistsEmittedEvents(t *testing.T) {
	repo := memory.NewEventRepository()
	correlator, err := NewCorrelator(zap.NewNop(), &CorrelatorConfig{}, repo, nil)
	require.NoError(t, err)
	t.Cleanup(correlator.Stop)

	ctx := context.Background()
	event, err := correlator.RecordDataTransfer(ctx, "10.2.2.2", 150_000_000, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, event)

	stored, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.Rule, stored.Rule)
	assert.Equal(t, event.EventCount, stored.EventCount)
}

func TestNewCorrelatorRequiresConfigAndRepository(t *testing.T) {
	_, err := NewCorrelator(zap.NewNop(), nil, memory.NewEventRepository(), nil)
	assert.Error(t, err)

	_, err = NewCorrelator(zap.NewNop(), &CorrelatorConfig{}, nil, nil)
	assert.Error(t, err)
}
