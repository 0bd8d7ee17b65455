package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"DataProcessor/internal/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Источник состояния circuit breaker. Формат совпадает с CBManager.GetCircuitBreakerStats
type BreakerStats func() map[string]any

// Exporter периодически обновляет метрики runtime и circuit breaker
type Exporter struct {
	registry *Registry
	breakers BreakerStats

	goroutines *Gauge
	memAlloc   *Gauge
	memSys     *Gauge
	gcCycles   *Gauge
	cbState    *Gauge
	cbFailures *Gauge

	m          runtime.MemStats
	cancelFunc context.CancelFunc // Для остановки фонового сбора
	mu         sync.Mutex
}

// NewExporter регистрирует метрики runtime в реестре. breakers может быть nil
func NewExporter(r *Registry, breakers BreakerStats) (*Exporter, error) {
	var (
		e   = &Exporter{registry: r, breakers: breakers}
		err error
	)
	if e.goroutines, err = r.RegisterGauge("goroutines", "Current number of goroutines", nil); err != nil {
		return nil, err
	}
	if e.memAlloc, err = r.RegisterGauge("memory_alloc_bytes", "Bytes allocated and still in use", nil); err != nil {
		return nil, err
	}
	if e.memSys, err = r.RegisterGauge("memory_sys_bytes", "Total bytes obtained from system", nil); err != nil {
		return nil, err
	}
	if e.gcCycles, err = r.RegisterGauge("gc_cycles", "Completed garbage collection cycles", nil); err != nil {
		return nil, err
	}
	if e.cbState, err = r.RegisterGauge("circuit_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half-open)", []string{"name"}); err != nil {
		return nil, err
	}
	if e.cbFailures, err = r.RegisterGauge("circuit_breaker_failures", "Current number of failures in circuit breaker", []string{"name"}); err != nil {
		return nil, err
	}
	return e, nil
}

// Start запускает сбор метрик
func (e *Exporter) Start(updateInterval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFunc != nil {
		// Уже запущен
		logger.Global.Debug("Exporter already started")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelFunc = cancel
	go e.collectMetrics(ctx, updateInterval)
}

// Stop останавливает сбор метрик
func (e *Exporter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFunc != nil {
		e.cancelFunc()
		e.cancelFunc = nil
		logger.Global.Debug("Exporter stopped")
	}
}

// Handler отдает реестр через promhttp с поддержкой OpenMetrics
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry.reg, promhttp.HandlerOpts{
		Registry:          e.registry.reg,
		EnableOpenMetrics: true,
		Timeout:           10 * time.Second,
	})
}

// collectMetrics периодически собирает метрики
func (e *Exporter) collectMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.updateMetrics()
	for {
		select {
		case <-ticker.C:
			e.updateMetrics()
		case <-ctx.Done():
			logger.Global.Info("Metrics collection stopped")
			return
		}
	}
}

// updateMetrics обновляет все метрики
func (e *Exporter) updateMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.goroutines.Set(float64(runtime.NumGoroutine()))

	runtime.ReadMemStats(&e.m)
	e.memAlloc.Set(float64(e.m.Alloc))
	e.memSys.Set(float64(e.m.Sys))
	e.gcCycles.Set(float64(e.m.NumGC))

	e.updateCircuitBreakerMetrics()
}

func (e *Exporter) updateCircuitBreakerMetrics() {
	if e.breakers == nil {
		return
	}
	stats := e.breakers()
	if stats == nil {
		return
	}

	for name, data := range stats {
		statsMap, ok := data.(map[string]any)
		if !ok {
			continue
		}

		if state, ok := statsMap["state"].(string); ok {
			e.cbState.Set(breakerStateValue(state), name)
		} else {
			logger.Global.Warningf("Unknown circuit breaker state type: %T", statsMap["state"])
		}

		// Счетчик ошибок пишем как gauge: breaker сбрасывает его сам
		if failures, ok := statsMap["failure_count"].(int); ok {
			e.cbFailures.Set(float64(failures), name)
		} else {
			e.cbFailures.Set(0, name)
		}
	}
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	case "half-open":
		return 2
	case "not configured":
		return 3
	case "disabled":
		return 4
	default:
		return -1
	}
}
