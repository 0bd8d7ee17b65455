package api

import (
	"math"
	"time"

	"DataProcessor/internal/state"
)

// ServiceInfo описание сервиса для статуса
type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
	Debug       bool
}

// ProcessedCounter источник числа обработанных записей
type ProcessedCounter interface {
	Processed() int64
}

// Reporter собирает снимок состояния сервиса.
// Значения метрик читаются без остановки реестра и могут отставать от конкурентных запросов
type Reporter struct {
	info     ServiceInfo
	start    time.Time
	metrics  MetricsReader
	pipeline ProcessedCounter
	run      *state.RunInfo
}

// Status снимок состояния
type Status struct {
	Service           string         `json:"service"`
	Version           string         `json:"version"`
	UptimeSeconds     float64        `json:"uptime_seconds"`
	RequestsProcessed int64          `json:"requests_processed"`
	Metrics           StatusMetrics  `json:"metrics"`
	Environment       string         `json:"environment"`
	Debug             bool           `json:"debug"`
	LastRun           *state.RunInfo `json:"last_run,omitempty"`
}

type StatusMetrics struct {
	TotalRequests     float64 `json:"total_requests"`
	TotalErrors       float64 `json:"total_errors"`
	ActiveConnections float64 `json:"active_connections"`
}

// NewReporter фиксирует время старта. run может быть nil если история запусков не ведется
func NewReporter(info ServiceInfo, metrics MetricsReader, pipeline ProcessedCounter, run *state.RunInfo) *Reporter {
	return &Reporter{
		info:     info,
		start:    time.Now(),
		metrics:  metrics,
		pipeline: pipeline,
		run:      run,
	}
}

func (r *Reporter) Info() ServiceInfo {
	return r.info
}

// Uptime время с момента старта
func (r *Reporter) Uptime() time.Duration {
	return time.Since(r.start)
}

// Snapshot текущее состояние сервиса
func (r *Reporter) Snapshot() Status {
	s := Status{
		Service:       r.info.Name,
		Version:       r.info.Version,
		UptimeSeconds: math.Round(r.Uptime().Seconds()*100) / 100,
		Environment:   r.info.Environment,
		Debug:         r.info.Debug,
		LastRun:       r.run,
	}
	if r.pipeline != nil {
		s.RequestsProcessed = r.pipeline.Processed()
	}
	if r.metrics != nil {
		s.Metrics = StatusMetrics{
			TotalRequests:     r.metrics.TotalRequests(),
			TotalErrors:       r.metrics.TotalErrors(),
			ActiveConnections: r.metrics.ActiveConnections(),
		}
	}
	return s
}

// ShutdownSnapshot итоговые счетчики для сохранения при остановке
func (r *Reporter) ShutdownSnapshot() state.Snapshot {
	s := r.Snapshot()
	return state.Snapshot{
		At:                time.Now(),
		UptimeSeconds:     s.UptimeSeconds,
		TotalRequests:     s.Metrics.TotalRequests,
		TotalErrors:       s.Metrics.TotalErrors,
		RequestsProcessed: s.RequestsProcessed,
	}
}
