package api

import (
	"encoding/json"
	"testing"
	"time"

	"DataProcessor/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	requests, errors, active float64
}

func (f fakeReader) TotalRequests() float64     { return f.requests }
func (f fakeReader) TotalErrors() float64       { return f.errors }
func (f fakeReader) ActiveConnections() float64 { return f.active }

type fakeCounter int64

func (f fakeCounter) Processed() int64 { return int64(f) }

func TestReporter_Snapshot(t *testing.T) {
	info := ServiceInfo{Name: "ai-data-processor", Version: "1.0.0", Environment: "production", Debug: true}
	r := NewReporter(info, fakeReader{requests: 10, errors: 2, active: 1}, fakeCounter(7), nil)

	s := r.Snapshot()
	assert.Equal(t, "ai-data-processor", s.Service)
	assert.Equal(t, "1.0.0", s.Version)
	assert.Equal(t, "production", s.Environment)
	assert.True(t, s.Debug)
	assert.Equal(t, int64(7), s.RequestsProcessed)
	assert.Equal(t, StatusMetrics{TotalRequests: 10, TotalErrors: 2, ActiveConnections: 1}, s.Metrics)
	assert.GreaterOrEqual(t, s.UptimeSeconds, 0.0)
	assert.Nil(t, s.LastRun)
}

func TestReporter_UptimeGrows(t *testing.T) {
	r := NewReporter(ServiceInfo{}, nil, nil, nil)
	first := r.Uptime()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, r.Uptime(), first)
}

func TestReporter_NilSources(t *testing.T) {
	r := NewReporter(ServiceInfo{Name: "svc"}, nil, nil, nil)

	s := r.Snapshot()
	assert.Equal(t, int64(0), s.RequestsProcessed)
	assert.Equal(t, StatusMetrics{}, s.Metrics)
}

func TestReporter_JSON(t *testing.T) {
	run := &state.RunInfo{Boots: 3, StartedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	r := NewReporter(ServiceInfo{Name: "svc", Version: "2"}, fakeReader{requests: 4}, fakeCounter(1), run)

	raw, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	for _, key := range []string{"service", "version", "uptime_seconds", "requests_processed", "metrics", "environment", "debug", "last_run"} {
		assert.Contains(t, out, key)
	}
	m := out["metrics"].(map[string]any)
	assert.Equal(t, 4.0, m["total_requests"])
	assert.Contains(t, m, "total_errors")
	assert.Contains(t, m, "active_connections")
}

func TestReporter_ShutdownSnapshot(t *testing.T) {
	r := NewReporter(ServiceInfo{}, fakeReader{requests: 5, errors: 1}, fakeCounter(3), nil)

	snap := r.ShutdownSnapshot()
	assert.Equal(t, 5.0, snap.TotalRequests)
	assert.Equal(t, 1.0, snap.TotalErrors)
	assert.Equal(t, int64(3), snap.RequestsProcessed)
	assert.WithinDuration(t, time.Now(), snap.At, time.Second)
}
