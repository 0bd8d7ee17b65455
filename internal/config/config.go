package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"DataProcessor/internal/logger"
	"DataProcessor/internal/processor"
	"DataProcessor/internal/state"

	"github.com/a3ak/suffix"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr  = ":8080"
	DefaultEnvironment = "production"
	DefaultMetricPath  = "/metrics"
)

// Глобальные параметры сервиса
type Global struct {
	ListenAddr string `yaml:"listen_addr"`

	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	IdleTimeout     string `yaml:"idle_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	MaxBodySize string `yaml:"max_body_size"`

	MetricPath      string `yaml:"metric_path"`
	OpenMetricsPath string `yaml:"openmetrics_path"`
	RuntimeMetrics  bool   `yaml:"runtime_metrics"`
	ExporterPeriod  string `yaml:"exporter_period"`

	MonitoringInLog    bool   `yaml:"monitoring_in_log"`
	MonitoringInterval string `yaml:"monitoring_interval"`

	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

// Config полная конфигурация процесса
type Config struct {
	Global         Global           `yaml:"global"`
	Processing     processor.Config `yaml:"processing"`
	Logging        logger.Logging   `yaml:"logging"`
	CircuitBreaker processor.CBConf `yaml:"circuit_breaker"`
	State          state.Conf       `yaml:"state"`
}

// Load читает YAML файл, затем .env и переменные окружения, затем подставляет значения по умолчанию.
// Отсутствие файла не ошибка
func Load(path string) (Config, error) {
	var cfg Config

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		logger.Global.Warningf("Config file %s not found, using defaults", path)
	default:
		return cfg, fmt.Errorf("open %s: %w", path, err)
	}

	// .env не обязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Global.Warningf("Failed to load .env: %v", err)
	}
	applyEnv(&cfg)

	setDefaults(&cfg)
	return cfg, nil
}

// applyEnv переменные окружения имеют приоритет над файлом
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		host := ""
		if i := strings.LastIndex(cfg.Global.ListenAddr, ":"); i > 0 {
			host = cfg.Global.ListenAddr[:i]
		}
		cfg.Global.ListenAddr = host + ":" + port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.ConsoleLevel = strings.ToLower(level)
	}
	if env := firstEnv("FLASK_ENV", "ENVIRONMENT"); env != "" {
		cfg.Global.Environment = env
	}
	if debug := firstEnv("FLASK_DEBUG", "DEBUG"); debug != "" {
		cfg.Global.Debug = strings.EqualFold(debug, "true") || debug == "1"
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func setDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenAddr == "" {
		g.ListenAddr = DefaultListenAddr
	}
	if g.MetricPath == "" {
		g.MetricPath = DefaultMetricPath
	}
	if g.Environment == "" {
		g.Environment = DefaultEnvironment
	}

	g.ReadTimeout = secondsOr("read_timeout", g.ReadTimeout, "10")
	g.WriteTimeout = secondsOr("write_timeout", g.WriteTimeout, "30")
	g.IdleTimeout = secondsOr("idle_timeout", g.IdleTimeout, "60")
	g.ShutdownTimeout = secondsOr("shutdown_timeout", g.ShutdownTimeout, "30")
	g.ExporterPeriod = secondsOr("exporter_period", g.ExporterPeriod, "15")
	g.MonitoringInterval = secondsOr("monitoring_interval", g.MonitoringInterval, "30")

	if r, err := suffix.ToB(g.MaxBodySize); err != nil || r == 0 {
		if g.MaxBodySize != "" {
			logger.Global.Errorf("convert error 'max_body_size' to bytes: %s", err)
		}
		g.MaxBodySize = "15MB"
	}

	if cfg.Processing.Delay < 0 {
		logger.Global.Errorf("negative 'processing.delay' %v, using default", cfg.Processing.Delay)
		cfg.Processing.Delay = 0
	}
	if cfg.Processing.Delay == 0 {
		cfg.Processing.Delay = processor.DefaultDelay
	}
	if cfg.Processing.MaxBatchItems <= 0 {
		cfg.Processing.MaxBatchItems = processor.DefaultMaxBatchItems
	}

	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "./DataProcessor.log"
	}
	if r, err := suffix.ToMB(cfg.Logging.MaxSize); err != nil || r == 0 {
		if cfg.Logging.MaxSize != "" {
			logger.Global.Errorf("convert error 'max_size' to MB: %s", err)
		}
		cfg.Logging.MaxSize = "5MB"
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.FileLevel == "" {
		cfg.Logging.FileLevel = "info"
	}

	cb := &cfg.CircuitBreaker
	if cb.FailureThreshold <= 0 {
		cb.FailureThreshold = 5
	}
	if cb.SuccessThreshold <= 0 {
		cb.SuccessThreshold = 3
	}
	if cb.RecoveryTimeout <= 0 {
		cb.RecoveryTimeout = 30 * time.Second
	}

	if cfg.State.DBPath == "" {
		cfg.State.DBPath = "./DataProcessor.db"
	}
}

func secondsOr(name, value, def string) string {
	if r, err := suffix.ToSeconds(value); err != nil || r == 0 {
		if value != "" {
			logger.Global.Errorf("convert error '%s' to seconds: %s", name, err)
		}
		return def
	}
	return value
}

// Seconds длительность из строки с суффиксом. Значение должно быть уже проверено setDefaults
func Seconds(value string) time.Duration {
	return time.Duration(suffix.UnsafeToSeconds(value)) * time.Second
}

// Bytes размер из строки с суффиксом
func Bytes(value string) int64 {
	return int64(suffix.UnsafeToB(value))
}
