package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetCounters() {
	commitCounterLock.Lock()
	commitCounter = nil
	commitCounterLock.Unlock()
	migrationCounterLock.Lock()
	migrationCounter = nil
	migrationCounterLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncCommit("preferences.yaml", OutcomeCommitted)
	collector.IncMigration(OutcomeMigrated)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetCounters()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncCommit("preferences.yaml", OutcomeStale)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metrics, 1)

	metric := metrics[0]
	require.Equal(t, "netprefs_document_commits_total", metric.GetName())
	requireCounterValue(t, metric, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.commits, again.commits)

	again.IncCommit("preferences.yaml", OutcomeStale)

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, metrics[0], 2)
}

func TestPrometheusCollectorReusesAlreadyRegisteredCounter(t *testing.T) {
	resetCounters()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	resetCounters()
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.migrations, second.migrations)

	second.IncMigration(OutcomeFailed)
	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, "netprefs_service_migrations_total", metrics[0].GetName())
	requireCounterValue(t, metrics[0], 1)
}

func TestNilPrometheusCollectorIsSafe(t *testing.T) {
	var collector *PrometheusCollector
	collector.IncCommit("x", OutcomeCommitted)
	collector.IncMigration(OutcomeSkipped)
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
