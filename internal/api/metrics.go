package api

import (
	"context"
	"time"

	"DataProcessor/internal/processor"
)

// MetricsCollector метрики, которые пишет HTTP слой
type MetricsCollector interface {
	ConnectionOpened() error
	ConnectionClosed() error
	ObserveRequest(method, endpoint string, status int, duration time.Duration) error
	IncError(kind string) error
	Render() ([]byte, error)
}

// MetricsReader текущие значения метрик для отчета о статусе
type MetricsReader interface {
	TotalRequests() float64
	TotalErrors() float64
	ActiveConnections() float64
}

// Pipeline обработка записей
type Pipeline interface {
	ProcessOne(ctx context.Context, record map[string]any) (processor.Result, error)
	ProcessBatch(ctx context.Context, items []any, maxItems int) processor.BatchResult
	Processed() int64
}

var _ Pipeline = (*processor.Processor)(nil)
