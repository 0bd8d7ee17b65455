package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"DataProcessor/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockMetricsCollector для проверки вызовов метрик
type MockMetricsCollector struct {
	mu      sync.Mutex
	timers  map[string]int
	stopped map[string]int
	errors  map[string]int
}

func NewMockMetricsCollector() *MockMetricsCollector {
	return &MockMetricsCollector{
		timers:  make(map[string]int),
		stopped: make(map[string]int),
		errors:  make(map[string]int),
	}
}

func (m *MockMetricsCollector) StartTimer(operation string) func() {
	m.mu.Lock()
	m.timers[operation]++
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.stopped[operation]++
		m.mu.Unlock()
	}
}

func (m *MockMetricsCollector) IncError(kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
	return nil
}

// Guard с ручным управлением
type mockGuard struct {
	allow     bool
	successes int
	failures  int
}

func (g *mockGuard) Allow() bool    { return g.allow }
func (g *mockGuard) ReportSuccess() { g.successes++ }
func (g *mockGuard) ReportFailure() { g.failures++ }

func echoTransform(_ context.Context, record map[string]any) (map[string]any, error) {
	return deepClone(record).(map[string]any), nil
}

// failOn возвращает ошибку для записей с fail=true
func failOn(_ context.Context, record map[string]any) (map[string]any, error) {
	if record["fail"] == true {
		return nil, fmt.Errorf("transform failed for id %v", record["id"])
	}
	return record, nil
}

func TestProcessOne_Success(t *testing.T) {
	mc := NewMockMetricsCollector()
	p := New(Config{}, echoTransform, mc, nil)

	input := map[string]any{"input": "x", "value": 1.0, "nested": map[string]any{"a": []any{1.0, "b"}}}
	res, err := p.ProcessOne(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.GreaterOrEqual(t, res.ProcessingTimeMs, 0.0)
	assert.Equal(t, int64(1), res.ProcessorCount)
	assert.Greater(t, res.ProcessedAt, 0.0)

	encoded, _ := json.Marshal(input)
	assert.Equal(t, len(encoded), res.DataLength)

	fields := res.Fields()
	assert.Equal(t, "x", fields["input"])
	assert.Equal(t, 1.0, fields["value"])
	assert.Equal(t, input["nested"], fields["nested"])

	assert.Equal(t, 1, mc.timers["single"])
	assert.Equal(t, 1, mc.stopped["single"])
	assert.Empty(t, mc.errors)
}

func TestProcessOne_ReservedFieldsWin(t *testing.T) {
	p := New(Config{}, echoTransform, nil, nil)

	res, err := p.ProcessOne(context.Background(), map[string]any{
		"status":          "hacked",
		"processor_count": 999,
		"keep":            true,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, 1.0, out["processor_count"])
	assert.Equal(t, true, out["keep"])
	assert.Contains(t, out, "processing_time_ms")
	assert.Contains(t, out, "processed_at")
	assert.Contains(t, out, "data_length")
}

func TestProcessOne_Failure(t *testing.T) {
	mc := NewMockMetricsCollector()
	p := New(Config{}, failOn, mc, nil)

	_, err := p.ProcessOne(context.Background(), map[string]any{"id": 7, "fail": true})
	require.Error(t, err)

	var procErr *ProcessingError
	require.True(t, errors.As(err, &procErr))
	assert.Contains(t, err.Error(), "transform failed for id 7")

	assert.Equal(t, 1, mc.errors["processing_error"])
	// Таймер фиксируется и на пути ошибки
	assert.Equal(t, 1, mc.stopped["single"])
	assert.Equal(t, int64(0), p.Processed())
}

func TestProcessOne_SequenceIncreasing(t *testing.T) {
	p := New(Config{}, failOn, nil, nil)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		res, err := p.ProcessOne(ctx, map[string]any{"id": i})
		require.NoError(t, err)
		assert.Greater(t, res.ProcessorCount, last)
		last = res.ProcessorCount
	}

	// Пакет продолжает ту же последовательность, ошибки ее не сдвигают
	batch := p.ProcessBatch(ctx, []any{
		map[string]any{"id": 10},
		map[string]any{"id": 11, "fail": true},
		map[string]any{"id": 12},
	}, 0)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, int64(6), batch.Results[0].ProcessorCount)
	assert.Equal(t, int64(7), batch.Results[1].ProcessorCount)

	res, err := p.ProcessOne(ctx, map[string]any{"id": 13})
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.ProcessorCount)
	assert.Equal(t, int64(8), p.Processed())
}

func TestProcessOne_Concurrent(t *testing.T) {
	p := New(Config{}, echoTransform, nil, nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.ProcessOne(context.Background(), map[string]any{"id": i})
			assert.NoError(t, err)
			mu.Lock()
			seen[res.ProcessorCount] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	assert.Equal(t, int64(50), p.Processed())
}

func TestProcessBatch(t *testing.T) {
	tests := []struct {
		name          string
		items         []any
		maxItems      int
		wantTotal     int
		wantProcessed int
		wantFailed    int
	}{
		{
			name:          "all succeed",
			items:         []any{map[string]any{"id": 1}, map[string]any{"id": 2}, map[string]any{"id": 3}},
			wantTotal:     3,
			wantProcessed: 3,
		},
		{
			name: "partial failure",
			items: []any{
				map[string]any{"id": 1},
				map[string]any{"id": 2, "fail": true},
				map[string]any{"id": 3},
				map[string]any{"id": 4, "fail": true},
			},
			wantTotal:     4,
			wantProcessed: 2,
			wantFailed:    2,
		},
		{
			name:          "non object items fail",
			items:         []any{"text", 42.0, nil, map[string]any{"id": 1}},
			wantTotal:     4,
			wantProcessed: 1,
			wantFailed:    3,
		},
		{
			name:          "truncated to max items, total keeps input length",
			items:         []any{map[string]any{"id": 1}, map[string]any{"id": 2, "fail": true}, map[string]any{"id": 3}, map[string]any{"id": 4}},
			maxItems:      2,
			wantTotal:     4,
			wantProcessed: 1,
			wantFailed:    1,
		},
		{
			name:      "empty",
			items:     []any{},
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := NewMockMetricsCollector()
			p := New(Config{}, failOn, mc, nil)

			res := p.ProcessBatch(context.Background(), tt.items, tt.maxItems)

			assert.Equal(t, tt.wantTotal, res.Total)
			assert.Equal(t, tt.wantProcessed, res.Processed)
			assert.Equal(t, tt.wantFailed, res.Failed)
			assert.Len(t, res.Results, tt.wantProcessed)
			assert.GreaterOrEqual(t, res.DurationSeconds, 0.0)
			assert.Equal(t, 1, mc.timers["batch"])
			assert.Equal(t, 1, mc.stopped["batch"])
			assert.Equal(t, tt.wantFailed, mc.errors["processing_error"])
		})
	}
}

func TestProcessBatch_DefaultLimit(t *testing.T) {
	p := New(Config{MaxBatchItems: 3}, echoTransform, nil, nil)
	assert.Equal(t, 3, p.MaxBatchItems())

	items := make([]any, 10)
	for i := range items {
		items[i] = map[string]any{"id": i}
	}
	res := p.ProcessBatch(context.Background(), items, 0)
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Failed)

	assert.Equal(t, DefaultMaxBatchItems, New(Config{}, echoTransform, nil, nil).MaxBatchItems())
}

func TestProcessBatch_ResultsJSON(t *testing.T) {
	p := New(Config{}, echoTransform, nil, nil)
	res := p.ProcessBatch(context.Background(), []any{map[string]any{"id": 1.0}}, 0)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var out struct {
		Processed int              `json:"processed"`
		Failed    int              `json:"failed"`
		Total     int              `json:"total"`
		Results   []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out.Processed)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 1.0, out.Results[0]["id"])
	assert.Equal(t, "success", out.Results[0]["status"])
}

func TestProcessor_Guard(t *testing.T) {
	guard := &mockGuard{allow: true}
	p := New(Config{}, failOn, nil, guard)
	ctx := context.Background()

	_, err := p.ProcessOne(ctx, map[string]any{"id": 1})
	require.NoError(t, err)
	_, err = p.ProcessOne(ctx, map[string]any{"id": 2, "fail": true})
	require.Error(t, err)
	assert.Equal(t, 1, guard.successes)
	assert.Equal(t, 1, guard.failures)

	guard.allow = false
	_, err = p.ProcessOne(ctx, map[string]any{"id": 3})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	batch := p.ProcessBatch(ctx, []any{map[string]any{"id": 4}, map[string]any{"id": 5}}, 0)
	assert.Equal(t, 2, batch.Failed)
	assert.Equal(t, 0, batch.Processed)
}

func TestSimulatedTransform(t *testing.T) {
	tr := SimulatedTransform(20 * time.Millisecond)
	input := map[string]any{"list": []any{"a"}}

	start := time.Now()
	out, err := tr(context.Background(), input)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, input, out)

	// Результат не ссылается на вход
	out["list"].([]any)[0] = "changed"
	assert.Equal(t, "a", input["list"].([]any)[0])

}

func TestProcessBatch_CanceledContextStillCompletes(t *testing.T) {
	mc := NewMockMetricsCollector()
	p := New(Config{}, SimulatedTransform(time.Millisecond), mc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.ProcessBatch(ctx, []any{map[string]any{"id": 1}, map[string]any{"id": 2}}, 0)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, mc.errors)
}

func TestProcessor_WithServiceMetrics(t *testing.T) {
	m, err := metrics.NewServiceMetrics(metrics.NewRegistry())
	require.NoError(t, err)

	p := New(Config{}, failOn, m, nil)
	p.ProcessBatch(context.Background(), []any{map[string]any{"id": 1}, map[string]any{"fail": true}}, 0)

	assert.Equal(t, uint64(1), m.Processing.Count("batch"))
	assert.Equal(t, uint64(2), m.Processing.Count("single"))
	assert.Equal(t, 1.0, m.Errors.Value("processing_error"))
}

func TestProcessOne_NumbersKeepExactText(t *testing.T) {
	p := New(Config{}, SimulatedTransform(0), nil, nil)

	input := map[string]any{
		"n":      json.Number("9007199254740993"),
		"nested": map[string]any{"ids": []any{json.Number("12345678901234567890")}},
	}
	res, err := p.ProcessOne(context.Background(), input)
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"n":9007199254740993`)
	assert.Contains(t, string(raw), `"nested":{"ids":[12345678901234567890]}`)
	assert.Equal(t, len(`{"n":9007199254740993,"nested":{"ids":[12345678901234567890]}}`), res.DataLength)
}
