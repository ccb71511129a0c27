package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ignite/lead-consolidator/internal/pkg/httpretry"
	"github.com/ignite/lead-consolidator/internal/runlog"
)

// Metrics holds the gauges describing the last consolidation run. A batch
// job exits after one run, so values are pushed rather than scraped.
type Metrics struct {
	Records          *prometheus.GaugeVec
	Customers        prometheus.Gauge
	IdentityVerified prometheus.Gauge
	Duration         prometheus.Gauge
	LastSuccess      prometheus.Gauge
	RunStatus        *prometheus.GaugeVec

	registry *prometheus.Registry
	client   httpretry.Doer
}

// New builds the collectors on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		Records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Records per source and outcome in the last run.",
		}, []string{"source", "outcome"}),
		Customers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "customers",
			Help:      "Rows in the last consolidated customer table.",
		}),
		IdentityVerified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identity_bridge_verified",
			Help:      "1 when the last run joined through a verified identity bridge.",
		}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
		RunStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_status",
			Help:      "1 for the outcome of the last run, 0 otherwise.",
		}, []string{"status"}),
		registry: prometheus.NewRegistry(),
		client:   httpretry.New(nil, httpretry.Options{MaxRetries: 2, BaseDelay: 500 * time.Millisecond}),
	}

	m.registry.MustRegister(
		m.Records,
		m.Customers,
		m.IdentityVerified,
		m.Duration,
		m.LastSuccess,
		m.RunStatus,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetClient replaces the HTTP client used by Push.
func (m *Metrics) SetClient(c httpretry.Doer) { m.client = c }

// Observe loads a run summary into the gauges.
func (m *Metrics) Observe(s runlog.Summary) {
	for src, c := range s.CountsBySource() {
		m.Records.WithLabelValues(src, "read").Set(float64(c.Read))
		m.Records.WithLabelValues(src, "accepted").Set(float64(c.Accepted))
		m.Records.WithLabelValues(src, "rejected").Set(float64(c.Rejected))
		m.Records.WithLabelValues(src, "parse_skipped").Set(float64(c.ParseSkipped))
		m.Records.WithLabelValues(src, "deduplicated").Set(float64(c.Deduplicated))
	}
	m.Customers.Set(float64(s.Customers))
	if s.IdentityVerified {
		m.IdentityVerified.Set(1)
	} else {
		m.IdentityVerified.Set(0)
	}
	m.Duration.Set(s.Duration().Seconds())

	for _, status := range []string{runlog.StatusSucceeded, runlog.StatusFailed} {
		v := 0.0
		if status == s.Status {
			v = 1
		}
		m.RunStatus.WithLabelValues(status).Set(v)
	}
	if s.Status == runlog.StatusSucceeded {
		m.LastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}

// Push sends the gauges to a Pushgateway, replacing the job's previous
// group. Transient gateway errors are retried. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := push.New(url, job).Gatherer(m.registry).Client(m.client).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
