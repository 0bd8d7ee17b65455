package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Counter монотонно растущий счетчик с фиксированным набором меток
type Counter struct {
	name   string
	labels []string
	vec    *prometheus.CounterVec
}

// Histogram гистограмма с фиксированными границами бакетов
type Histogram struct {
	name   string
	labels []string
	vec    *prometheus.HistogramVec
}

// Gauge значение, которое может расти и уменьшаться
type Gauge struct {
	name   string
	labels []string
	vec    *prometheus.GaugeVec
}

func checkCardinality(name string, labels, values []string) error {
	if len(labels) != len(values) {
		return &LabelCardinalityError{Name: name, Expected: len(labels), Got: len(values)}
	}
	return nil
}

func (c *Counter) Name() string { return c.name }

// Inc увеличивает серию на 1
func (c *Counter) Inc(labelValues ...string) error {
	return c.Add(1, labelValues...)
}

// Add увеличивает серию на delta. Отрицательные значения запрещены
func (c *Counter) Add(delta float64, labelValues ...string) error {
	if delta < 0 {
		return ErrNegativeDelta
	}
	if err := checkCardinality(c.name, c.labels, labelValues); err != nil {
		return err
	}
	m, err := c.vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return err
	}
	m.Add(delta)
	return nil
}

// Value текущее значение серии. Отсутствующая серия равна 0
func (c *Counter) Value(labelValues ...string) float64 {
	return seriesValue(c.vec, c.labels, labelValues)
}

// Total сумма по всем сериям
func (c *Counter) Total() float64 {
	return sumSeries(c.vec)
}

func (h *Histogram) Name() string { return h.name }

// Observe записывает значение в серию
func (h *Histogram) Observe(value float64, labelValues ...string) error {
	if err := checkCardinality(h.name, h.labels, labelValues); err != nil {
		return err
	}
	o, err := h.vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return err
	}
	o.Observe(value)
	return nil
}

// Time запускает таймер для серии. Таймер всегда не nil: при ошибке меток он только
// считает время, ничего не записывая
func (h *Histogram) Time(labelValues ...string) (*Timer, error) {
	if err := checkCardinality(h.name, h.labels, labelValues); err != nil {
		return &Timer{start: time.Now()}, err
	}
	o, err := h.vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return &Timer{start: time.Now()}, err
	}
	return &Timer{timer: prometheus.NewTimer(o), start: time.Now()}, nil
}

// Count число наблюдений в серии
func (h *Histogram) Count(labelValues ...string) uint64 {
	var count uint64
	for _, s := range readSeries(h.vec) {
		if s.match(h.labels, labelValues) && s.metric.Histogram != nil {
			count += s.metric.Histogram.GetSampleCount()
		}
	}
	return count
}

// Sum сумма наблюдений в серии
func (h *Histogram) Sum(labelValues ...string) float64 {
	var sum float64
	for _, s := range readSeries(h.vec) {
		if s.match(h.labels, labelValues) && s.metric.Histogram != nil {
			sum += s.metric.Histogram.GetSampleSum()
		}
	}
	return sum
}

func (g *Gauge) Name() string { return g.name }

func (g *Gauge) child(labelValues []string) (prometheus.Gauge, error) {
	if err := checkCardinality(g.name, g.labels, labelValues); err != nil {
		return nil, err
	}
	return g.vec.GetMetricWithLabelValues(labelValues...)
}

func (g *Gauge) Inc(labelValues ...string) error {
	m, err := g.child(labelValues)
	if err != nil {
		return err
	}
	m.Inc()
	return nil
}

func (g *Gauge) Dec(labelValues ...string) error {
	m, err := g.child(labelValues)
	if err != nil {
		return err
	}
	m.Dec()
	return nil
}

func (g *Gauge) Set(value float64, labelValues ...string) error {
	m, err := g.child(labelValues)
	if err != nil {
		return err
	}
	m.Set(value)
	return nil
}

// Value текущее значение серии
func (g *Gauge) Value(labelValues ...string) float64 {
	return seriesValue(g.vec, g.labels, labelValues)
}

// Снимок одной серии
type series struct {
	labels map[string]string
	metric *dto.Metric
}

func (s series) match(names, values []string) bool {
	if len(names) != len(values) {
		return false
	}
	for i, name := range names {
		if s.labels[name] != values[i] {
			return false
		}
	}
	return true
}

// readSeries читает текущее состояние всех серий коллектора.
// Чтение не блокирует запись, значения могут устареть к моменту возврата
func readSeries(c prometheus.Collector) []series {
	ch := make(chan prometheus.Metric, 32)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var out []series
	for m := range ch {
		pb := &dto.Metric{}
		if err := m.Write(pb); err != nil {
			continue
		}
		labels := make(map[string]string, len(pb.GetLabel()))
		for _, lp := range pb.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		out = append(out, series{labels: labels, metric: pb})
	}
	return out
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func seriesValue(c prometheus.Collector, names, values []string) float64 {
	for _, s := range readSeries(c) {
		if s.match(names, values) {
			return value(s.metric)
		}
	}
	return 0
}

func sumSeries(c prometheus.Collector) float64 {
	var total float64
	for _, s := range readSeries(c) {
		total += value(s.metric)
	}
	return total
}
