package service

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()
	m.ObserveAPICall("GET", "/my-tasks", "ok", 20*time.Millisecond)
	m.ObserveAPICall("PUT", "/tasks/{id}/complete", "API_ERROR", 40*time.Millisecond)
	m.RecordRollback()
	m.RecordSuperseded()
	m.ObserveHTTPRequest("GET", "/api/tasks", 200, 5*time.Millisecond)
	m.ObserveStoreOperation("save", nil, time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.APICallsTotal)
	assert.Equal(t, uint64(1), snap.APIFailuresTotal)
	assert.InDelta(t, 30.0, snap.AverageAPICallMs, 0.001)
	assert.Equal(t, uint64(1), snap.ToggleRollbacks)
	assert.Equal(t, uint64(1), snap.SupersededRefreshes)
	assert.Equal(t, uint64(1), snap.RequestsTotal)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiTotal.WithLabelValues("GET", "/my-tasks", "ok")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "robotask_api_calls_total")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveAPICall("GET", "/x", "ok", time.Millisecond)
	m.RecordRollback()
	m.RecordSuperseded()
	m.ObserveStoreOperation("load", nil, time.Millisecond)
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 503, rec.Code)
}
