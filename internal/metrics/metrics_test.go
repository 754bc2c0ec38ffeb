package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/quill/internal/ladder"
)

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.TaskAdmitted()
	m.StrategyAttempt("title", "direct", ladder.Rejected, 20*time.Millisecond)
	m.StrategyAttempt("title", "char-by-char", ladder.Accepted, time.Second)
	m.TaskSettled("success")
	m.TaskDropped("busy")
	m.TaskDropped("busy")
	m.Handshake(false)
	m.Delivery(DeliveryResult, true)
	m.Delivery(DeliveryResume, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategyAttempts.WithLabelValues("title", "direct", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategyAttempts.WithLabelValues("title", "char-by-char", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tasksActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("result", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("resume", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.strategyDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskAdmitted()
		m.TaskSettled("failed")
		m.TaskDropped("platform")
		m.Handshake(true)
		m.Delivery(DeliveryReady, true)
		m.StrategyAttempt("content", "chunked", ladder.Errored, 0)
	})
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewMetrics(reg)
	assert.Panics(t, func() { MustNewMetrics(reg) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	m.TaskDropped("origin")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quill_tasks_dropped_total{reason="origin"} 1`)
}
