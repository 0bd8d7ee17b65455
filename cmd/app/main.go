package main

import (
	"DataProcessor/internal/api"
	"DataProcessor/internal/config"
	"DataProcessor/internal/logger"
	"DataProcessor/internal/metrics"
	"DataProcessor/internal/processor"
	"DataProcessor/internal/state"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

const serviceName = "ai-data-processor"

var (
	conf       config.Config
	confPath   string
	httpServer *http.Server
	store      *state.Store
	reporter   *api.Reporter
	version    = "1.0.0"
)

func init() {
	flag.StringVar(&confPath, "c", "config.yaml", "Path to Conf file")
	v := flag.Bool("v", false, "Print version and exit")
	flag.Parse()
	if *v {
		fmt.Println("Version: ", version)
		os.Exit(0)
	}
}

func main() {
	fmt.Println("Starting AI data processor version ", version)

	// Загружаем конфиг
	var err error
	if conf, err = config.Load(confPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логер
	logger.InitLogger(conf.Logging)

	// Реестр метрик. Ошибка регистрации на старте фатальна
	registry := metrics.NewRegistry()
	serviceMetrics, err := metrics.NewServiceMetrics(registry)
	if err != nil {
		logger.Global.Fatalf("Failed to register service metrics: %v", err)
	}
	if conf.Global.RuntimeMetrics {
		if err := registry.RegisterRuntimeCollectors(); err != nil {
			logger.Global.Fatalf("Failed to register runtime collectors: %v", err)
		}
	}

	// Circuit breaker для обработчика
	var guard processor.Guard
	var breakerStats metrics.BreakerStats
	if conf.CircuitBreaker.Enabled {
		bg := processor.NewBreakerGuard(conf.CircuitBreaker)
		guard = bg
		breakerStats = bg.Stats
		logger.Global.Infof("Circuit breaker enabled: failure_threshold=%d recovery_timeout=%v",
			conf.CircuitBreaker.FailureThreshold, conf.CircuitBreaker.RecoveryTimeout)
	}

	pipeline := processor.New(conf.Processing, nil, serviceMetrics, guard)

	// История запусков
	var run *state.RunInfo
	if conf.State.DBPath != "" {
		if store, err = state.Open(conf.State); err != nil {
			logger.Global.Errorf("Failed to open state db %s: %v", conf.State.DBPath, err)
		} else if info, err := store.RecordBoot(time.Now()); err != nil {
			logger.Global.Errorf("Failed to record boot: %v", err)
		} else {
			run = &info
			logger.Global.Infof("Boot #%d recorded in %s", info.Boots, conf.State.DBPath)
		}
	}

	// Периодический сбор runtime метрик
	exporter, err := metrics.NewExporter(registry, breakerStats)
	if err != nil {
		logger.Global.Fatalf("Failed to init metrics exporter: %v", err)
	}
	exporter.Start(config.Seconds(conf.Global.ExporterPeriod))
	defer exporter.Stop()

	reporter = api.NewReporter(api.ServiceInfo{
		Name:        serviceName,
		Version:     version,
		Environment: conf.Global.Environment,
		Debug:       conf.Global.Debug,
	}, serviceMetrics, pipeline, run)

	//Запуск мониторинга в логе
	if conf.Global.MonitoringInLog {
		stopMonitoring := startMonitoring(config.Seconds(conf.Global.MonitoringInterval), pipeline)
		defer stopMonitoring()
	}

	handler := api.NewHandler(pipeline, serviceMetrics, reporter, api.Options{
		MetricPath:      conf.Global.MetricPath,
		MaxBodySize:     config.Bytes(conf.Global.MaxBodySize),
		OpenMetricsPath: conf.Global.OpenMetricsPath,
		OpenMetrics:     exporter.Handler(),
	})

	// Канал для graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	// Настройка HTTP сервера
	httpServer = &http.Server{
		Addr:         conf.Global.ListenAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  config.Seconds(conf.Global.ReadTimeout),
		WriteTimeout: config.Seconds(conf.Global.WriteTimeout),
		IdleTimeout:  config.Seconds(conf.Global.IdleTimeout),
	}

	// Запуск сервера в отдельной горутине
	serverErr := make(chan error, 1)
	go func() {
		logger.Global.Infof("event=service_starting host=%s environment=%s debug=%t version=%s",
			conf.Global.ListenAddr, conf.Global.Environment, conf.Global.Debug, version)
		logger.Global.Infof("Metrics available at http://%s%s", conf.Global.ListenAddr, conf.Global.MetricPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Обработка сигналов
	for {
		select {
		case sig := <-stop:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				logger.Global.Info("Received shutdown signal")
				gracefulShutdown()
				return

			case syscall.SIGHUP:
				logger.Global.Info("Received SIGHUP, reloading configuration")
				reloadConfiguration()
			}

		case err := <-serverErr:
			logger.Global.Errorf("HTTP server error: %v", err)
			gracefulShutdown()
			return
		}
	}
}

func gracefulShutdown() {
	fmt.Println("Stopping AI data processor gracefully...")

	// Graceful shutdown HTTP сервера
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), config.Seconds(conf.Global.ShutdownTimeout))
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Global.Errorf("HTTP server shutdown error: %v", err)
		}
	}

	// Сохраняем итоговые счетчики после остановки приема запросов
	if store != nil {
		snap := reporter.ShutdownSnapshot()
		if err := store.RecordShutdown(snap); err != nil {
			logger.Global.Errorf("Failed to save shutdown snapshot: %v", err)
		}
		logger.Global.Infof("event=service_stopped uptime_seconds=%.2f total_requests=%.0f total_errors=%.0f requests_processed=%d",
			snap.UptimeSeconds, snap.TotalRequests, snap.TotalErrors, snap.RequestsProcessed)
		if err := store.Close(); err != nil {
			logger.Global.Errorf("Failed to close state db: %v", err)
		}
	}

	logger.Global.Info("Server stopped gracefully")
}

// reloadConfiguration применяет логирование и таймауты сервера.
// Остальные параметры требуют перезапуска
func reloadConfiguration() {
	newConf, err := config.Load(confPath)
	if err != nil {
		logger.Global.Errorf("Failed to reload configuration: %v", err)
		return
	}

	// Переинициализируем логер
	logger.InitLogger(newConf.Logging)

	//Устанавливаем таймауты httpServer
	httpServer.ReadTimeout = config.Seconds(newConf.Global.ReadTimeout)
	httpServer.WriteTimeout = config.Seconds(newConf.Global.WriteTimeout)
	httpServer.IdleTimeout = config.Seconds(newConf.Global.IdleTimeout)

	conf.Logging = newConf.Logging
	conf.Global.ReadTimeout = newConf.Global.ReadTimeout
	conf.Global.WriteTimeout = newConf.Global.WriteTimeout
	conf.Global.IdleTimeout = newConf.Global.IdleTimeout
	conf.Global.ShutdownTimeout = newConf.Global.ShutdownTimeout

	logger.Global.Info("Configuration reloaded successfully")
}

func startMonitoring(interval time.Duration, pipeline *processor.Processor) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// Мониторинг горутин
				goroutineCount := runtime.NumGoroutine()
				logger.Global.Infof("Goroutines: %d", goroutineCount)

				// Мониторинг памяти
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				logger.Global.Infof("Memory: Alloc=%.1fMB, TotalAlloc=%.1fMB, Sys=%.1fMB, NumGC=%d",
					bToMb(m.Alloc), bToMb(m.TotalAlloc), bToMb(m.Sys), m.NumGC)

				s := reporter.Snapshot()
				logger.Global.Infof("Processing: processed=%d requests=%.0f errors=%.0f active=%.0f",
					pipeline.Processed(), s.Metrics.TotalRequests, s.Metrics.TotalErrors, s.Metrics.ActiveConnections)

				// Предупреждение при большом количестве горутин
				if goroutineCount > 1000 {
					logger.Global.Warningf("HIGH GOROUTINE COUNT: %d - possible leak detected!", goroutineCount)
				}

			case <-ctx.Done():
				logger.Global.Info("Monitoring stopped")
				return
			}
		}
	}()

	return cancel
}

func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
