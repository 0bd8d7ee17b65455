package api

import (
	"net/http"
	"time"

	"DataProcessor/internal/logger"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// statusWriter запоминает код ответа
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Instrument оборачивает обработчик метриками запроса: gauge активных соединений,
// длительность по endpoint и счетчик по method/endpoint/status.
// Учет выполняется на любом выходе из обработчика, включая панику.
// Ошибки метрик, включая nil коллектор, пишутся в лог и не влияют на ответ клиенту
func Instrument(mc MetricsCollector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, reqID)
		r = r.WithContext(logger.WithRequestID(r.Context(), reqID))

		logger.Global.Debugf("[%s] Incoming request: %s %s", reqID, r.Method, r.URL.Path)

		safeRecord(reqID, "connection_opened", func() error { return mc.ConnectionOpened() })

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				logger.Global.Errorf("[%s] event=panic method=%s endpoint=%s error=%v", reqID, r.Method, r.URL.Path, rec)
				safeRecord(reqID, "internal_error", func() error { return mc.IncError("internal_server_error") })
				if !sw.wrote {
					writeError(sw, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred")
				} else {
					sw.status = http.StatusInternalServerError
				}
			}

			duration := time.Since(start)
			safeRecord(reqID, "connection_closed", func() error { return mc.ConnectionClosed() })
			safeRecord(reqID, "request", func() error {
				return mc.ObserveRequest(r.Method, r.URL.Path, sw.status, duration)
			})
			logger.Global.Debugf("[%s] Completed %s %s with status %d in %v", reqID, r.Method, r.URL.Path, sw.status, duration)
		}()

		next.ServeHTTP(sw, r)
	})
}

// safeRecord выполняет запись метрики, ошибки и паники только логируются
func safeRecord(reqID, name string, record func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Global.Warningf("[%s] Instrumentation %s panicked: %v", reqID, name, rec)
		}
	}()
	if err := record(); err != nil {
		logger.Global.Warningf("[%s] Instrumentation %s failed: %v", reqID, name, err)
	}
}
