package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the collectors.
const (
	OutcomeCommitted = "committed"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
	OutcomeMigrated  = "migrated"
	OutcomeSkipped   = "skipped"
)

// Collector captures events emitted by document stores and the migration
// engine.
//
// Hooks run inline with commits and migrations, so implementations should be
// cheap to call.
type Collector interface {
	IncCommit(document, outcome string)
	IncMigration(outcome string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncCommit(string, string) {}
func (noopCollector) IncMigration(string)      {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	commits    *prometheus.CounterVec
	migrations *prometheus.CounterVec
}

var (
	commitCounter        *prometheus.CounterVec
	commitCounterLock    sync.Mutex
	migrationCounter     *prometheus.CounterVec
	migrationCounterLock sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	commitCounterLock.Lock()
	if commitCounter == nil {
		counter, err := registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netprefs_document_commits_total",
			Help: "Number of document commit attempts per document and outcome.",
		}, []string{"document", "outcome"}))
		if err != nil {
			commitCounterLock.Unlock()
			return nil, err
		}
		commitCounter = counter
	}
	commitCounterLock.Unlock()

	migrationCounterLock.Lock()
	if migrationCounter == nil {
		counter, err := registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netprefs_service_migrations_total",
			Help: "Number of service migrations per outcome.",
		}, []string{"outcome"}))
		if err != nil {
			migrationCounterLock.Unlock()
			return nil, err
		}
		migrationCounter = counter
	}
	migrationCounterLock.Unlock()

	return &PrometheusCollector{
		commits:    commitCounter,
		migrations: migrationCounter,
	}, nil
}

func registerCounter(reg prometheus.Registerer, counter *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

// IncCommit counts one commit attempt.
func (p *PrometheusCollector) IncCommit(document, outcome string) {
	if p == nil || p.commits == nil {
		return
	}
	p.commits.WithLabelValues(document, outcome).Inc()
}

// IncMigration counts one service migration.
func (p *PrometheusCollector) IncMigration(outcome string) {
	if p == nil || p.migrations == nil {
		return
	}
	p.migrations.WithLabelValues(outcome).Inc()
}
