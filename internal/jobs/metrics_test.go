package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:integrity").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:integrity", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger:integrity", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger:integrity")))
}

func TestAddAnomaliesIgnoresEmptyCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddAnomalies("cost without quantity", 0)
	m.AddAnomalies("cost without quantity", 2)
	m.AddAnomalies("", 1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.anomalies.WithLabelValues("cost without quantity")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues("unknown")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("noop").End(nil))
	m.AddAnomalies("negative quantity", 3)
}
