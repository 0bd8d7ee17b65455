package metrics

import (
	"errors"
	"strconv"
	"time"

	"DataProcessor/internal/logger"
)

const (
	RequestsTotalName      = "http_requests_total"
	RequestDurationName    = "http_request_duration_seconds"
	ErrorsTotalName        = "http_errors_total"
	ActiveConnectionsName  = "active_connections"
	ProcessingDurationName = "data_processing_duration_seconds"
)

// ServiceMetrics набор инструментов сервиса обработки данных
type ServiceMetrics struct {
	registry *Registry

	Requests   *Counter   // method, endpoint, status
	Latency    *Histogram // endpoint
	Errors     *Counter   // type
	Active     *Gauge
	Processing *Histogram // operation
}

// NewServiceMetrics регистрирует метрики сервиса в реестре.
// Ошибка здесь означает конфликт имен и должна останавливать запуск
func NewServiceMetrics(r *Registry) (*ServiceMetrics, error) {
	var (
		m   = &ServiceMetrics{registry: r}
		err error
	)

	if m.Requests, err = r.RegisterCounter(RequestsTotalName, "Total HTTP requests", []string{"method", "endpoint", "status"}); err != nil {
		return nil, err
	}
	if m.Latency, err = r.RegisterHistogram(RequestDurationName, "HTTP request duration in seconds", []string{"endpoint"}, nil); err != nil {
		return nil, err
	}
	if m.Errors, err = r.RegisterCounter(ErrorsTotalName, "Total HTTP errors", []string{"type"}); err != nil {
		return nil, err
	}
	if m.Active, err = r.RegisterGauge(ActiveConnectionsName, "Number of active connections", nil); err != nil {
		return nil, err
	}
	if m.Processing, err = r.RegisterHistogram(ProcessingDurationName, "Data processing duration in seconds", []string{"operation"}, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// ConnectionOpened увеличивает gauge активных соединений
func (m *ServiceMetrics) ConnectionOpened() error {
	return m.Active.Inc()
}

// ConnectionClosed уменьшает gauge активных соединений
func (m *ServiceMetrics) ConnectionClosed() error {
	return m.Active.Dec()
}

// ObserveRequest записывает длительность и итоговый статус запроса
func (m *ServiceMetrics) ObserveRequest(method, endpoint string, status int, duration time.Duration) error {
	// Ошибка одной метрики не должна отменять запись второй
	return errors.Join(
		m.Latency.Observe(duration.Seconds(), endpoint),
		m.Requests.Inc(method, endpoint, strconv.Itoa(status)),
	)
}

// IncError увеличивает счетчик ошибок по типу
func (m *ServiceMetrics) IncError(kind string) error {
	return m.Errors.Inc(kind)
}

// StartTimer запускает таймер операции обработки. Возвращаемая функция фиксирует время,
// ее нужно вызывать через defer
func (m *ServiceMetrics) StartTimer(operation string) func() {
	t, err := m.Processing.Time(operation)
	if err != nil {
		logger.Global.Warningf("Processing timer for %q: %v", operation, err)
	}
	return func() { t.ObserveDuration() }
}

func (m *ServiceMetrics) TotalRequests() float64 {
	return m.Requests.Total()
}

func (m *ServiceMetrics) TotalErrors() float64 {
	return m.Errors.Total()
}

func (m *ServiceMetrics) ActiveConnections() float64 {
	return m.Active.Value()
}

// Render отдает все метрики реестра
func (m *ServiceMetrics) Render() ([]byte, error) {
	return m.registry.Render()
}
