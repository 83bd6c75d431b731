package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus instruments for the detection pipeline
type Collector struct {
	registry *prometheus.Registry

	signalsConsumed   *prometheus.CounterVec
	eventsCorrelated  *prometheus.CounterVec
	incidentsCreated  *prometheus.CounterVec
	incidentsResolved *prometheus.CounterVec
	slaBreaches       prometheus.Counter
	alertsSent        *prometheus.CounterVec
	indicatorMatches  *prometheus.CounterVec
	playbookRuns      *prometheus.CounterVec
	playbookDuration  *prometheus.HistogramVec
	actionExecutions  *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		signalsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_consumed_total",
			Help:      "Raw security signals consumed by type",
		}, []string{"type"}),
		eventsCorrelated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_correlated_total",
			Help:      "Correlated events emitted by rule and severity",
		}, []string{"rule", "severity"}),
		incidentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Security incidents created by severity",
		}, []string{"severity"}),
		incidentsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_resolved_total",
			Help:      "Security incidents resolved, split by SLA outcome",
		}, []string{"sla_breached"}),
		slaBreaches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_breaches_total",
			Help:      "Open incidents detected past their SLA deadline",
		}),
		alertsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Incident alerts sent by channel and outcome",
		}, []string{"channel", "outcome"}),
		indicatorMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicator_matches_total",
			Help:      "Threat intelligence matches by indicator type",
		}, []string{"type"}),
		playbookRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbook_runs_total",
			Help:      "Playbook executions by playbook and status",
		}, []string{"playbook", "status"}),
		playbookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playbook_duration_seconds",
			Help:      "Wall-clock duration of playbook runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"playbook"}),
		actionExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_executions_total",
			Help:      "Response action executions by action and outcome",
		}, []string{"action", "outcome"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordSignalConsumed(signalType string) {
	c.signalsConsumed.WithLabelValues(signalType).Inc()
}

func (c *Collector) RecordEventCorrelated(rule, severity string) {
	c.eventsCorrelated.WithLabelValues(rule, severity).Inc()
}

func (c *Collector) RecordIncidentCreated(severity string) {
	c.incidentsCreated.WithLabelValues(severity).Inc()
}

func (c *Collector) RecordIncidentResolved(slaBreached bool) {
	label := "false"
	if slaBreached {
		label = "true"
	}
	c.incidentsResolved.WithLabelValues(label).Inc()
}

func (c *Collector) RecordSLABreach() {
	c.slaBreaches.Inc()
}

func (c *Collector) RecordAlertSent(channel string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	c.alertsSent.WithLabelValues(channel, outcome).Inc()
}

func (c *Collector) RecordIndicatorMatch(indicatorType string) {
	c.indicatorMatches.WithLabelValues(indicatorType).Inc()
}

func (c *Collector) RecordPlaybookRun(playbook, status string, duration time.Duration) {
	c.playbookRuns.WithLabelValues(playbook, status).Inc()
	c.playbookDuration.WithLabelValues(playbook).Observe(duration.Seconds())
}

func (c *Collector) RecordActionExecution(action string, succeeded bool) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	c.actionExecutions.WithLabelValues(action, outcome).Inc()
}
