package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Тип метрики
type Kind string

const (
	KindCounter   Kind = "counter"
	KindHistogram Kind = "histogram"
	KindGauge     Kind = "gauge"
)

var (
	ErrDuplicateMetric  = errors.New("metric already registered with different labels")
	ErrLabelCardinality = errors.New("inconsistent label cardinality")
	ErrNegativeDelta    = errors.New("counter cannot decrease")
)

// DuplicateMetricError возвращается при повторной регистрации имени с другим набором меток или типом
type DuplicateMetricError struct {
	Name     string
	Kind     Kind
	Labels   []string
	Existing Kind
	Current  []string
}

func (e *DuplicateMetricError) Error() string {
	return fmt.Sprintf("metric %q: registered as %s%v, requested %s%v", e.Name, e.Existing, e.Current, e.Kind, e.Labels)
}

func (e *DuplicateMetricError) Unwrap() error { return ErrDuplicateMetric }

// LabelCardinalityError возвращается если число значений меток не совпадает с числом имен
type LabelCardinalityError struct {
	Name     string
	Expected int
	Got      int
}

func (e *LabelCardinalityError) Error() string {
	return fmt.Sprintf("metric %q: expected %d label values, got %d", e.Name, e.Expected, e.Got)
}

func (e *LabelCardinalityError) Unwrap() error { return ErrLabelCardinality }

// Зарегистрированная метрика
type entry struct {
	name   string
	help   string
	kind   Kind
	labels []string
	handle any
}

// Registry владеет всеми инструментами процесса и отдает их в текстовом формате Prometheus.
// Создается один раз при старте и передается в компоненты явно.
type Registry struct {
	mu      sync.RWMutex
	reg     *prometheus.Registry
	entries map[string]*entry
	// Порядок регистрации, в нем же метрики выводятся в Render
	order []string
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		reg:     prometheus.NewRegistry(),
		entries: make(map[string]*entry),
	}
}

// RegisterRuntimeCollectors регистрирует стандартные метрики Go и процесса
func (r *Registry) RegisterRuntimeCollectors() error {
	if err := r.reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return r.reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// lookup возвращает существующую запись или ошибку при конфликте
func (r *Registry) lookup(name string, kind Kind, labels []string) (*entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, nil
	}
	if e.kind != kind || !slices.Equal(e.labels, labels) {
		return nil, &DuplicateMetricError{
			Name:     name,
			Kind:     kind,
			Labels:   labels,
			Existing: e.kind,
			Current:  e.labels,
		}
	}
	return e, nil
}

func (r *Registry) register(name, help string, kind Kind, labels []string, build func() (prometheus.Collector, any)) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, err := r.lookup(name, kind, labels); err != nil {
		return nil, err
	} else if e != nil {
		return e.handle, nil
	}

	collector, handle := build()
	if err := r.reg.Register(collector); err != nil {
		// Конфликт с коллекторами, зарегистрированными в обход реестра (runtime)
		return nil, fmt.Errorf("%w: %s: %v", ErrDuplicateMetric, name, err)
	}

	r.entries[name] = &entry{
		name:   name,
		help:   help,
		kind:   kind,
		labels: slices.Clone(labels),
		handle: handle,
	}
	r.order = append(r.order, name)
	return handle, nil
}

// RegisterCounter регистрирует счетчик. Повторная регистрация с теми же метками возвращает тот же счетчик
func (r *Registry) RegisterCounter(name, help string, labelNames []string) (*Counter, error) {
	h, err := r.register(name, help, KindCounter, labelNames, func() (prometheus.Collector, any) {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
		c := &Counter{name: name, labels: slices.Clone(labelNames), vec: vec}
		if len(labelNames) == 0 {
			vec.WithLabelValues()
		}
		return vec, c
	})
	if err != nil {
		return nil, err
	}
	return h.(*Counter), nil
}

// RegisterHistogram регистрирует гистограмму. Пустой buckets означает prometheus.DefBuckets
func (r *Registry) RegisterHistogram(name, help string, labelNames []string, buckets []float64) (*Histogram, error) {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	h, err := r.register(name, help, KindHistogram, labelNames, func() (prometheus.Collector, any) {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labelNames)
		hist := &Histogram{name: name, labels: slices.Clone(labelNames), vec: vec}
		if len(labelNames) == 0 {
			vec.WithLabelValues()
		}
		return vec, hist
	})
	if err != nil {
		return nil, err
	}
	return h.(*Histogram), nil
}

// RegisterGauge регистрирует gauge
func (r *Registry) RegisterGauge(name, help string, labelNames []string) (*Gauge, error) {
	h, err := r.register(name, help, KindGauge, labelNames, func() (prometheus.Collector, any) {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
		g := &Gauge{name: name, labels: slices.Clone(labelNames), vec: vec}
		if len(labelNames) == 0 {
			vec.WithLabelValues()
		}
		return vec, g
	})
	if err != nil {
		return nil, err
	}
	return h.(*Gauge), nil
}

// MustRegisterCounter паникует при ошибке регистрации. Для использования при старте
func (r *Registry) MustRegisterCounter(name, help string, labelNames []string) *Counter {
	c, err := r.RegisterCounter(name, help, labelNames)
	if err != nil {
		panic(err)
	}
	return c
}

func (r *Registry) MustRegisterHistogram(name, help string, labelNames []string, buckets []float64) *Histogram {
	h, err := r.RegisterHistogram(name, help, labelNames, buckets)
	if err != nil {
		panic(err)
	}
	return h
}

func (r *Registry) MustRegisterGauge(name, help string, labelNames []string) *Gauge {
	g, err := r.RegisterGauge(name, help, labelNames)
	if err != nil {
		panic(err)
	}
	return g
}

// Names возвращает имена метрик в порядке регистрации
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Render выводит все метрики в текстовом формате Prometheus.
// Свои метрики идут в порядке регистрации, затем runtime коллекторы.
// Метрика с метками без единой серии выводится только строками HELP и TYPE.
// Каждая серия читается атомарно, строки не рвутся при конкурентной записи
func (r *Registry) Render() ([]byte, error) {
	families, gatherErr := r.reg.Gather()

	r.mu.RLock()
	registered := make([]entry, 0, len(r.order))
	for _, name := range r.order {
		registered = append(registered, *r.entries[name])
	}
	r.mu.RUnlock()

	gathered := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		gathered[mf.GetName()] = mf
	}

	var buf bytes.Buffer
	for _, e := range registered {
		mf, ok := gathered[e.name]
		if !ok {
			writeHeader(&buf, e.name, e.help, e.kind)
			continue
		}
		delete(gathered, e.name)
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return buf.Bytes(), fmt.Errorf("render %s: %w", e.name, err)
		}
	}

	// Коллекторы, зарегистрированные в обход реестра, в порядке Gather
	for _, mf := range families {
		if _, ok := gathered[mf.GetName()]; !ok {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return buf.Bytes(), fmt.Errorf("render %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), gatherErr
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// writeHeader пишет HELP и TYPE для семейства без серий. expfmt такие семейства не принимает
func writeHeader(buf *bytes.Buffer, name, help string, kind Kind) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, helpEscaper.Replace(help))
	fmt.Fprintf(buf, "# TYPE %s %s\n", name, kind)
}

// Timer записывает прошедшее время в гистограмму ровно один раз
type Timer struct {
	once  sync.Once
	timer *prometheus.Timer
	start time.Time
}

// ObserveDuration фиксирует время. Повторные вызовы ничего не записывают.
// Безопасен для nil, что позволяет всегда делать defer t.ObserveDuration()
func (t *Timer) ObserveDuration() time.Duration {
	if t == nil {
		return 0
	}
	var d time.Duration
	t.once.Do(func() {
		if t.timer != nil {
			d = t.timer.ObserveDuration()
			return
		}
		d = time.Since(t.start)
	})
	return d
}
