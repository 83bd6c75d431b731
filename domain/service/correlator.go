package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
	"github.com/vigilsec/sentinel/internal/metrics"
)

// CorrelatorConfig defines configuration for the event correlator
type CorrelatorConfig struct {
	Window                    time.Duration `json:"window"`
	BruteForceThreshold       int           `json:"brute_force_threshold"`
	BruteForceConfidence      float64       `json:"brute_force_confidence"`
	LateralMovementThreshold  int           `json:"lateral_movement_threshold"`
	LateralMovementConfidence float64       `json:"lateral_movement_confidence"`
	ExfiltrationByteThreshold int64         `json:"exfiltration_byte_threshold"`
	ExfiltrationConfidence    float64       `json:"exfiltration_confidence"`
	MinChainLength            int           `json:"min_chain_length"`
	EventRetention            time.Duration `json:"event_retention"`
	CleanupInterval           time.Duration `json:"cleanup_interval"`
}

type transferSample struct {
	bytes int64
	at    time.Time
}

// Correlator detects fixed attack patterns from streamed discrete
// signals within a sliding time window. Detections past the threshold
// keep emitting on every further signal; suppression is the incident
// layer's concern, not the correlator's.
type Correlator struct {
	logger  *zap.Logger
	config  *CorrelatorConfig
	events  repository.CorrelatedEventRepository
	metrics *metrics.Collector

	// Tracking state, guarded by mu
	failedLogins  map[string][]time.Time
	hostAccess    map[string]map[string]bool
	dataTransfers map[string][]transferSample
	mu            sync.Mutex

	ctx           context.Context
	cancel        context.CancelFunc
	cleanupTicker *time.Ticker
}

// NewCorrelator creates a new event correlator
func NewCorrelator(logger *zap.Logger, config *CorrelatorConfig, events repository.CorrelatedEventRepository, collector *metrics.Collector) (*Correlator, error) {
	if config == nil {
		return nil, fmt.Errorf("correlator configuration is required")
	}
	if events == nil {
		return nil, fmt.Errorf("correlated event repository is required")
	}

	// Set defaults
	if config.Window == 0 {
		config.Window = 300 * time.Second
	}
	if config.BruteForceThreshold == 0 {
		config.BruteForceThreshold = 5
	}
	if config.BruteForceConfidence == 0 {
		config.BruteForceConfidence = 0.9
	}
	if config.LateralMovementThreshold == 0 {
		config.LateralMovementThreshold = 3
	}
	if config.LateralMovementConfidence == 0 {
		config.LateralMovementConfidence = 0.75
	}
	if config.ExfiltrationByteThreshold == 0 {
		config.ExfiltrationByteThreshold = 100_000_000
	}
	if config.ExfiltrationConfidence == 0 {
		config.ExfiltrationConfidence = 0.8
	}
	if config.MinChainLength == 0 {
		config.MinChainLength = 2
	}
	if config.EventRetention == 0 {
		config.EventRetention = 24 * time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Correlator{
		logger:        logger.With(zap.String("component", "correlator")),
		config:        config,
		events:        events,
		metrics:       collector,
		failedLogins:  make(map[string][]time.Time),
		hostAccess:    make(map[string]map[string]bool),
		dataTransfers: make(map[string][]transferSample),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.cleanupTicker = time.NewTicker(config.CleanupInterval)
	go c.runCleanup()

	logger.Info("Event correlator initialized",
		zap.Duration("window", config.Window),
		zap.Int("brute_force_threshold", config.BruteForceThreshold),
		zap.Int("lateral_movement_threshold", config.LateralMovementThreshold),
		zap.Int64("exfiltration_byte_threshold", config.ExfiltrationByteThreshold),
	)

	return c, nil
}

// RecordLoginFailure ingests one failed login and emits a brute force
// detection when the per-IP count within the window reaches the
// threshold. Every call at or past the threshold emits again, with
// EventCount equal to the then-current window length.
func (c *Correlator) RecordLoginFailure(ctx context.Context, sourceIP, user string, ts time.Time) (*entity.CorrelatedEvent, error) {
	if sourceIP == "" {
		return nil, entity.ErrMissingSourceIP
	}

	c.mu.Lock()
	cutoff := ts.Add(-c.config.Window)
	window := pruneTimes(c.failedLogins[sourceIP], cutoff)
	window = append(window, ts)
	c.failedLogins[sourceIP] = window
	count := len(window)
	first := window[0]
	c.mu.Unlock()

	if count < c.config.BruteForceThreshold {
		return nil, nil
	}

	event := &entity.CorrelatedEvent{
		ID:         uuid.New(),
		Rule:       entity.RuleBruteForce,
		Confidence: c.config.BruteForceConfidence,
		Severity:   entity.SeverityHigh,
		SourceIPs:  []string{sourceIP},
		Users:      []string{user},
		FirstSeen:  first,
		LastSeen:   ts,
		EventCount: count,
		Indicators: []string{
			fmt.Sprintf("%d failed logins from %s within %s", count, sourceIP, c.config.Window),
		},
		CreatedAt: time.Now().UTC(),
	}

	return c.emit(ctx, event)
}

// RecordHostAccess ingests one host access and emits a lateral
// movement detection once a user has touched the threshold number of
// distinct hosts. The host set is never pruned by time, so every
// access after the threshold emits again.
func (c *Correlator) RecordHostAccess(ctx context.Context, user, targetHost string, ts time.Time) (*entity.CorrelatedEvent, error) {
	if user == "" || targetHost == "" {
		return nil, entity.ErrMissingHostAccessFields
	}

	c.mu.Lock()
	hosts, ok := c.hostAccess[user]
	if !ok {
		hosts = make(map[string]bool)
		c.hostAccess[user] = hosts
	}
	hosts[targetHost] = true
	hostCount := len(hosts)
	hostNames := make([]string, 0, hostCount)
	for h := range hosts {
		hostNames = append(hostNames, h)
	}
	c.mu.Unlock()

	if hostCount < c.config.LateralMovementThreshold {
		return nil, nil
	}
	sort.Strings(hostNames)

	event := &entity.CorrelatedEvent{
		ID:         uuid.New(),
		Rule:       entity.RuleLateralMovement,
		Confidence: c.config.LateralMovementConfidence,
		Severity:   entity.SeverityHigh,
		Hostnames:  hostNames,
		Users:      []string{user},
		FirstSeen:  ts,
		LastSeen:   ts,
		EventCount: hostCount,
		Indicators: []string{
			fmt.Sprintf("user %s accessed %d distinct hosts", user, hostCount),
		},
		CreatedAt: time.Now().UTC(),
	}

	return c.emit(ctx, event)
}

// RecordDataTransfer ingests one outbound transfer and emits an
// exfiltration detection when the per-IP byte sum within the window
// strictly exceeds the configured threshold.
func (c *Correlator) RecordDataTransfer(ctx context.Context, sourceIP string, bytes int64, ts time.Time) (*entity.CorrelatedEvent, error) {
	if sourceIP == "" {
		return nil, entity.ErrMissingSourceIP
	}
	if bytes < 0 {
		return nil, entity.ErrNegativeByteCount
	}

	c.mu.Lock()
	cutoff := ts.Add(-c.config.Window)
	samples := c.dataTransfers[sourceIP][:0:0]
	for _, s := range c.dataTransfers[sourceIP] {
		if !s.at.Before(cutoff) {
			samples = append(samples, s)
		}
	}
	samples = append(samples, transferSample{bytes: bytes, at: ts})
	c.dataTransfers[sourceIP] = samples

	var total int64
	first := samples[0].at
	for _, s := range samples {
		total += s.bytes
	}
	count := len(samples)
	c.mu.Unlock()

	if total <= c.config.ExfiltrationByteThreshold {
		return nil, nil
	}

	event := &entity.CorrelatedEvent{
		ID:         uuid.New(),
		Rule:       entity.RuleDataExfiltration,
		Confidence: c.config.ExfiltrationConfidence,
		Severity:   entity.SeverityCritical,
		SourceIPs:  []string{sourceIP},
		FirstSeen:  first,
		LastSeen:   ts,
		EventCount: count,
		Indicators: []string{
			fmt.Sprintf("%d bytes transferred from %s within %s", total, sourceIP, c.config.Window),
		},
		CreatedAt: time.Now().UTC(),
	}

	return c.emit(ctx, event)
}

// AnalyzeAttackChains groups stored detections by shared source IP and
// reports the rule sequence, ordered by first-seen, for every IP with
// at least MinChainLength events. Chain confidence is the arithmetic
// mean of the member events' confidences.
func (c *Correlator) AnalyzeAttackChains(ctx context.Context) ([]*entity.AttackChain, error) {
	events, err := c.events.List(ctx, repository.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list correlated events: %w", err)
	}

	byIP := make(map[string][]*entity.CorrelatedEvent)
	for _, event := range events {
		for _, ip := range event.SourceIPs {
			byIP[ip] = append(byIP[ip], event)
		}
	}

	ips := make([]string, 0, len(byIP))
	for ip := range byIP {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var chains []*entity.AttackChain
	for _, ip := range ips {
		group := byIP[ip]
		if len(group) < c.config.MinChainLength {
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			return group[i].FirstSeen.Before(group[j].FirstSeen)
		})

		chain := &entity.AttackChain{
			SourceIP:  ip,
			FirstSeen: group[0].FirstSeen,
			LastSeen:  group[len(group)-1].LastSeen,
		}
		var confidenceSum float64
		for _, event := range group {
			chain.Rules = append(chain.Rules, event.Rule)
			chain.EventIDs = append(chain.EventIDs, event.ID)
			confidenceSum += event.Confidence
		}
		chain.Confidence = confidenceSum / float64(len(group))
		chains = append(chains, chain)

		c.logger.Info("Attack chain detected",
			zap.String("source_ip", ip),
			zap.Int("chain_length", len(group)),
			zap.Float64("confidence", chain.Confidence),
		)
	}

	return chains, nil
}

// emit persists the detection and records metrics
func (c *Correlator) emit(ctx context.Context, event *entity.CorrelatedEvent) (*entity.CorrelatedEvent, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correlated event: %w", err)
	}
	if err := c.events.Store(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to store correlated event: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordEventCorrelated(string(event.Rule), string(event.Severity))
	}

	c.logger.Info("Correlated event emitted",
		zap.String("event_id", event.ID.String()),
		zap.String("rule", string(event.Rule)),
		zap.String("severity", string(event.Severity)),
		zap.Float64("confidence", event.Confidence),
		zap.Int("event_count", event.EventCount),
	)

	return event, nil
}

// runCleanup prunes stale tracker entries and enforces event retention
func (c *Correlator) runCleanup() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.cleanupTicker.C:
			c.cleanup()
		}
	}
}

func (c *Correlator) cleanup() {
	now := time.Now()
	cutoff := now.Add(-c.config.Window)

	c.mu.Lock()
	for ip, window := range c.failedLogins {
		pruned := pruneTimes(window, cutoff)
		if len(pruned) == 0 {
			delete(c.failedLogins, ip)
		} else {
			c.failedLogins[ip] = pruned
		}
	}
	for ip, samples := range c.dataTransfers {
		kept := samples[:0:0]
		for _, s := range samples {
			if !s.at.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.dataTransfers, ip)
		} else {
			c.dataTransfers[ip] = kept
		}
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	removed, err := c.events.DeleteOlderThan(ctx, now.Add(-c.config.EventRetention))
	if err != nil {
		c.logger.Warn("Event retention sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		c.logger.Debug("Event retention sweep completed", zap.Int64("removed", removed))
	}
}

// Stop stops the correlator's background cleanup
func (c *Correlator) Stop() {
	c.cancel()
	c.cleanupTicker.Stop()
	c.logger.Info("Event correlator stopped")
}

func pruneTimes(window []time.Time, cutoff time.Time) []time.Time {
	kept := window[:0:0]
	for _, t := range window {
		// Keep entries exactly window old; only strictly older are pruned.
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
