package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"DataProcessor/internal/logger"
)

const (
	PathIndex   = "/"
	PathHealth  = "/health"
	PathProcess = "/api/v1/process"
	PathBatch   = "/api/v1/batch"
	PathStatus  = "/api/v1/status"

	DefaultMetricPath  = "/metrics"
	DefaultMaxBodySize = 15 * 1024 * 1024
)

var (
	ErrValidation   = errors.New("validation error")
	ErrBodyTooLarge = errors.New("request body too large")
)

// Options параметры HTTP слоя
type Options struct {
	MetricPath  string
	MaxBodySize int64
	// Дополнительный endpoint с promhttp (OpenMetrics), пустой путь отключает
	OpenMetricsPath string
	OpenMetrics     http.Handler
}

// Handler маршрутизирует запросы API
type Handler struct {
	pipeline Pipeline
	metrics  MetricsCollector
	reporter *Reporter
	opts     Options
}

func NewHandler(pipeline Pipeline, metrics MetricsCollector, reporter *Reporter, opts Options) *Handler {
	if opts.MetricPath == "" {
		opts.MetricPath = DefaultMetricPath
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	return &Handler{
		pipeline: pipeline,
		metrics:  metrics,
		reporter: reporter,
		opts:     opts,
	}
}

// Routes возвращает обработчик со слоем метрик
func (h *Handler) Routes() http.Handler {
	return Instrument(h.metrics, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case PathIndex:
		h.only(w, r, http.MethodGet, h.index)
	case PathHealth:
		h.only(w, r, http.MethodGet, h.health)
	case PathProcess:
		h.only(w, r, http.MethodPost, h.process)
	case PathBatch:
		h.only(w, r, http.MethodPost, h.batch)
	case PathStatus:
		h.only(w, r, http.MethodGet, h.status)
	case h.opts.MetricPath:
		h.only(w, r, http.MethodGet, h.metricsText)
	default:
		if h.opts.OpenMetricsPath != "" && h.opts.OpenMetrics != nil && r.URL.Path == h.opts.OpenMetricsPath {
			h.opts.OpenMetrics.ServeHTTP(w, r)
			return
		}
		h.notFound(w, r)
	}
}

func (h *Handler) only(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed",
			fmt.Sprintf("The method %s is not allowed for the requested URL", r.Method))
		return
	}
	next(w, r)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	info := h.reporter.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"service": info.Name,
		"version": info.Version,
		"status":  "operational",
		"endpoints": map[string]string{
			"health":  PathHealth,
			"process": PathProcess,
			"batch":   PathBatch,
			"status":  PathStatus,
			"metrics": h.opts.MetricPath,
		},
	})
}

// health всегда отвечает 200, состояние обработчика не проверяется
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
		"checks": map[string]string{
			"api":       "ok",
			"processor": "ok",
			"memory":    "ok",
		},
	})
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	reqID := logger.RequestID(r.Context())
	defer h.recoverAs(w, reqID, PathProcess, "server_error", "Internal server error")

	data, err := h.readJSON(w, r)
	if err != nil {
		h.rejectBody(w, reqID, "invalid_request", err)
		return
	}

	record, ok := data.(map[string]any)
	if !ok || len(record) == 0 {
		h.incError(reqID, "invalid_request")
		writeError(w, http.StatusBadRequest, "No data provided", "Request body must contain JSON data")
		return
	}

	result, err := h.pipeline.ProcessOne(r.Context(), record)
	if err != nil {
		h.incError(reqID, "server_error")
		logger.Global.Errorf("[%s] event=api_error endpoint=%s error=%q", reqID, PathProcess, err.Error())
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	reqID := logger.RequestID(r.Context())
	defer h.recoverAs(w, reqID, PathBatch, "batch_error", "Batch processing failed")

	data, err := h.readJSON(w, r)
	if err != nil {
		h.rejectBody(w, reqID, "invalid_batch", err)
		return
	}

	body, _ := data.(map[string]any)
	items, ok := body["items"].([]any)
	if !ok {
		h.incError(reqID, "invalid_batch")
		writeError(w, http.StatusBadRequest, "Invalid batch format", "Request body must contain 'items' array")
		return
	}

	result := h.pipeline.ProcessBatch(r.Context(), items, 0)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reporter.Snapshot())
}

func (h *Handler) metricsText(w http.ResponseWriter, r *http.Request) {
	out, err := h.metrics.Render()
	if err != nil {
		logger.Global.Errorf("[%s] Metrics render error: %v", logger.RequestID(r.Context()), err)
		if len(out) == 0 {
			writeError(w, http.StatusInternalServerError, "Internal server error", "Metrics are unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		logger.Global.Errorf("[%s] Error writing metrics: %v", logger.RequestID(r.Context()), err)
	}
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
	writeError(w, http.StatusNotFound, "Not found", fmt.Sprintf("The requested URL %s was not found", url))
}

// readJSON читает тело с ограничением размера. Пустое тело дает nil без ошибки
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request) (any, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, maxErr.Limit)
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrValidation, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	// Числа остаются json.Number, что бы большие целые вернулись без потери точности
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: invalid JSON: unexpected data after top-level value", ErrValidation)
	}
	return data, nil
}

func (h *Handler) rejectBody(w http.ResponseWriter, reqID, kind string, err error) {
	h.incError(reqID, kind)
	logger.Global.Warningf("[%s] Rejected request body: %v", reqID, err)
	if errors.Is(err, ErrBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request entity too large", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
}

// recoverAs превращает панику обработчика в ответ 500 с учетом ошибки по типу
func (h *Handler) recoverAs(w http.ResponseWriter, reqID, endpoint, kind, title string) {
	rec := recover()
	if rec == nil {
		return
	}
	h.incError(reqID, kind)
	logger.Global.Errorf("[%s] event=api_error endpoint=%s error=%v", reqID, endpoint, rec)
	writeError(w, http.StatusInternalServerError, title, fmt.Sprint(rec))
}

func (h *Handler) incError(reqID, kind string) {
	safeRecord(reqID, "error_"+kind, func() error { return h.metrics.IncError(kind) })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Global.Errorf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, map[string]string{
		"error":   title,
		"message": message,
	})
}
