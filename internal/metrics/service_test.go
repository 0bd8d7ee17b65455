package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceMetrics_RequestAccounting(t *testing.T) {
	m, err := NewServiceMetrics(NewRegistry())
	require.NoError(t, err)

	require.NoError(t, m.ConnectionOpened())
	assert.Equal(t, 1.0, m.ActiveConnections())
	require.NoError(t, m.ObserveRequest("GET", "/health", 200, 3*time.Millisecond))
	require.NoError(t, m.ConnectionClosed())
	assert.Equal(t, 0.0, m.ActiveConnections())

	require.NoError(t, m.ObserveRequest("POST", "/api/v1/process", 400, time.Millisecond))
	require.NoError(t, m.IncError("invalid_request"))

	assert.Equal(t, 1.0, m.Requests.Value("GET", "/health", "200"))
	assert.Equal(t, 2.0, m.TotalRequests())
	assert.Equal(t, 1.0, m.TotalErrors())
	assert.Equal(t, uint64(1), m.Latency.Count("/health"))
}

func TestServiceMetrics_StartTimer(t *testing.T) {
	m, err := NewServiceMetrics(NewRegistry())
	require.NoError(t, err)

	stop := m.StartTimer("single")
	stop()
	assert.Equal(t, uint64(1), m.Processing.Count("single"))
	assert.Equal(t, uint64(0), m.Processing.Count("batch"))
}

func TestServiceMetrics_RegisterTwice(t *testing.T) {
	r := NewRegistry()
	first, err := NewServiceMetrics(r)
	require.NoError(t, err)

	// Повторная регистрация тех же имен допустима и отдает те же серии
	second, err := NewServiceMetrics(r)
	require.NoError(t, err)
	assert.Same(t, first.Requests, second.Requests)
}

func TestServiceMetrics_Render(t *testing.T) {
	m, err := NewServiceMetrics(NewRegistry())
	require.NoError(t, err)
	require.NoError(t, m.ObserveRequest("GET", "/health", 200, time.Millisecond))

	out, err := m.Render()
	require.NoError(t, err)
	assert.Contains(t, string(out), `http_requests_total{endpoint="/health",method="GET",status="200"} 1`)
	assert.Contains(t, string(out), "active_connections 0")
}

func TestServiceMetrics_RenderAtStartup(t *testing.T) {
	m, err := NewServiceMetrics(NewRegistry())
	require.NoError(t, err)

	out, err := m.Render()
	require.NoError(t, err)
	text := string(out)

	names := []string{RequestsTotalName, RequestDurationName, ErrorsTotalName, ActiveConnectionsName, ProcessingDurationName}
	last := -1
	for _, name := range names {
		idx := strings.Index(text, "# HELP "+name+" ")
		require.GreaterOrEqual(t, idx, 0, "missing HELP for %s:\n%s", name, text)
		assert.Greater(t, idx, last, name)
		assert.Contains(t, text, "# TYPE "+name+" ")
		last = idx
	}
}
