package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"DataProcessor/internal/logger"
)

// Максимальное число записей в пакете по умолчанию
const DefaultMaxBatchItems = 100

var (
	ErrNotObject   = errors.New("record must be a JSON object")
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ProcessingError ошибка обработки одной записи
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string { return e.Err.Error() }

func (e *ProcessingError) Unwrap() error { return e.Err }

// MetricsCollector метрики, которые пишет процессор
type MetricsCollector interface {
	StartTimer(operation string) func()
	IncError(kind string) error
}

// Структура для конфигурации обработки
type Config struct {
	Delay         time.Duration `yaml:"delay"`
	MaxBatchItems int           `yaml:"max_batch_items"`
}

// Processor обрабатывает одиночные записи и пакеты через внешний Transform
type Processor struct {
	transform Transform
	metrics   MetricsCollector
	guard     Guard
	maxItems  int

	// Число успешно обработанных записей за время жизни процесса
	processed atomic.Int64
}

// New создает процессор. Если transform nil, используется имитация с cfg.Delay.
// metrics и guard могут быть nil
func New(cfg Config, transform Transform, metrics MetricsCollector, guard Guard) *Processor {
	if transform == nil {
		transform = SimulatedTransform(cfg.Delay)
	}
	maxItems := cfg.MaxBatchItems
	if maxItems <= 0 {
		maxItems = DefaultMaxBatchItems
	}
	return &Processor{
		transform: transform,
		metrics:   metrics,
		guard:     guard,
		maxItems:  maxItems,
	}
}

// Processed число успешно обработанных записей
func (p *Processor) Processed() int64 {
	return p.processed.Load()
}

// MaxBatchItems лимит записей в пакете
func (p *Processor) MaxBatchItems() int {
	return p.maxItems
}

// ProcessOne обрабатывает одну запись. Ошибка обработчика учитывается в метриках
// и возвращается как *ProcessingError
func (p *Processor) ProcessOne(ctx context.Context, record map[string]any) (Result, error) {
	o := p.process(ctx, record)
	return o.Result, o.Err
}

func (p *Processor) process(ctx context.Context, record any) Outcome {
	start := time.Now()
	if p.metrics != nil {
		stop := p.metrics.StartTimer("single")
		defer stop()
	}
	reqID := logger.RequestID(ctx)

	result, err := p.run(ctx, record, start)
	if err != nil {
		if p.metrics != nil {
			if mErr := p.metrics.IncError("processing_error"); mErr != nil {
				logger.Global.Warningf("[%s] Metrics error: %v", reqID, mErr)
			}
		}
		logger.Global.Errorf("[%s] event=processing_error error=%q", reqID, err.Error())
		return Outcome{Err: &ProcessingError{Err: err}}
	}

	logger.Global.Infof("[%s] event=data_processed processing_time_ms=%.2f data_length=%d",
		reqID, result.ProcessingTimeMs, result.DataLength)
	return Outcome{Result: result}
}

func (p *Processor) run(ctx context.Context, record any, start time.Time) (Result, error) {
	data, ok := record.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("%w, got %T", ErrNotObject, record)
	}

	// Размер входных данных считаем до обработки
	encoded, err := json.Marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("encode record: %w", err)
	}

	if p.guard != nil && !p.guard.Allow() {
		return Result{}, ErrCircuitOpen
	}

	out, err := p.transform(ctx, data)
	if err != nil {
		if p.guard != nil {
			p.guard.ReportFailure()
		}
		return Result{}, err
	}
	if p.guard != nil {
		p.guard.ReportSuccess()
	}
	if out == nil {
		out = map[string]any{}
	}

	if dropped := collidingFields(out); len(dropped) > 0 {
		logger.Global.Debugf("[%s] Record fields %v overridden by result metadata", logger.RequestID(ctx), dropped)
	}

	count := p.processed.Add(1)
	now := time.Now()

	return Result{
		Status:           StatusSuccess,
		ProcessedAt:      float64(now.UnixNano()) / 1e9,
		ProcessingTimeMs: round2(float64(now.Sub(start)) / float64(time.Millisecond)),
		DataLength:       len(encoded),
		ProcessorCount:   count,
		Payload:          out,
	}, nil
}

// ProcessBatch обрабатывает не более maxItems первых записей. maxItems <= 0 означает лимит процессора.
// Ошибка одной записи не прерывает пакет, она только учитывается в Failed.
// Total всегда равен исходной длине items
func (p *Processor) ProcessBatch(ctx context.Context, items []any, maxItems int) BatchResult {
	start := time.Now()
	if p.metrics != nil {
		stop := p.metrics.StartTimer("batch")
		defer stop()
	}
	reqID := logger.RequestID(ctx)

	if maxItems <= 0 {
		maxItems = p.maxItems
	}
	limit := min(len(items), maxItems)

	batch := BatchResult{
		Total:   len(items),
		Results: make([]Result, 0, limit),
	}

	for i, item := range items[:limit] {
		o := p.process(ctx, item)
		if !o.OK() {
			logger.Global.Warningf("[%s] event=batch_item_failed index=%d error=%q", reqID, i, o.Err.Error())
			batch.Failed++
			continue
		}
		batch.Results = append(batch.Results, o.Result)
	}

	batch.Processed = len(batch.Results)
	batch.DurationSeconds = round2(time.Since(start).Seconds())

	logger.Global.Infof("[%s] event=batch_processed total_items=%d processed=%d failed=%d duration_seconds=%.2f",
		reqID, batch.Total, batch.Processed, batch.Failed, batch.DurationSeconds)
	return batch
}
