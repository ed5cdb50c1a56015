package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/tollgate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the entry point for recording gate metrics. A disabled
// collector accepts every call and records nothing.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	gate  *GateMetrics
	audit *AuditMetrics
}

// NewCollector creates a metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "tollgate",
//		Subsystem: "gate",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := cfg
	if c.Namespace == "" || c.Subsystem == "" || len(c.DurationBuckets) == 0 {
		copied := *cfg
		if copied.Namespace == "" {
			copied.Namespace = config.DefaultMetricsNamespace
		}
		if copied.Subsystem == "" {
			copied.Subsystem = config.DefaultMetricsSubsystem
		}
		if len(copied.DurationBuckets) == 0 {
			copied.DurationBuckets = prometheus.DefBuckets
		}
		c = &copied
	}

	return &Collector{
		config:   c,
		registry: registry,
		gate:     NewGateMetrics(c, registry),
		audit:    NewAuditMetrics(c, registry),
	}
}

// RecordEvaluation records a completed evaluation.
//
// Parameters:
//   - result: "PASS" or "FAIL"
//   - duration: Total evaluation duration
//   - at: Evaluation time
func (c *Collector) RecordEvaluation(result string, duration time.Duration, at time.Time) {
	if !c.config.Enabled {
		return
	}

	c.gate.evaluationsTotal.WithLabelValues(result).Inc()
	c.gate.evaluationDuration.Observe(duration.Seconds())
	c.gate.lastEvaluation.Set(float64(at.Unix()))
	if result == "PASS" {
		c.gate.lastResult.Set(1)
	} else {
		c.gate.lastResult.Set(0)
	}
}

// RecordRuleOutcome records how a rule evaluated.
//
// Parameters:
//   - ruleID: Rule identifier
//   - family: Rule family
//   - outcome: "pass", "fail", "waived" or "warn"
//   - blocking: true if the outcome fails the gate
func (c *Collector) RecordRuleOutcome(ruleID, family, outcome string, blocking bool) {
	if !c.config.Enabled {
		return
	}

	c.gate.ruleOutcomes.WithLabelValues(ruleID, family, outcome).Inc()
	if blocking {
		c.gate.rulePassing.WithLabelValues(ruleID, family).Set(0)
	} else {
		c.gate.rulePassing.WithLabelValues(ruleID, family).Set(1)
	}
}

// SetMetric records the last value of a compliance metric. An unavailable
// metric keeps its previous value and is flagged unavailable.
func (c *Collector) SetMetric(name, unit string, value float64, available bool) {
	if !c.config.Enabled {
		return
	}

	if available {
		c.gate.metricValue.WithLabelValues(name, unit).Set(value)
		c.gate.metricAvailable.WithLabelValues(name).Set(1)
	} else {
		c.gate.metricAvailable.WithLabelValues(name).Set(0)
	}
}

// sourceStatuses are the load statuses exported per source.
var sourceStatuses = []string{"loaded", "absent", "corrupt", "unreadable"}

// SetSourceStatus marks status as the current status of an evidence source.
func (c *Collector) SetSourceStatus(source, status string) {
	if !c.config.Enabled {
		return
	}

	for _, s := range sourceStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.gate.sourceStatus.WithLabelValues(source, s).Set(v)
	}
}

// SetWaivers records exception counts by effective state.
func (c *Collector) SetWaivers(counts map[string]int) {
	if !c.config.Enabled {
		return
	}

	for state, n := range counts {
		c.gate.waivers.WithLabelValues(state).Set(float64(n))
	}
}

// RecordAuditAppend records an audit trail append.
func (c *Collector) RecordAuditAppend(err error) {
	if !c.config.Enabled {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.audit.appendsTotal.WithLabelValues(status).Inc()
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, for the node_exporter textfile collector. The file is
// replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Enabled reports whether the collector records metrics.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}
