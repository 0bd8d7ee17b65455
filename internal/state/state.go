package state

import (
	"encoding/json"
	"errors"
	"time"

	"DataProcessor/internal/logger"

	"go.etcd.io/bbolt"
)

const (
	bucketName = "DataProcessor"
	runKey     = "run"
)

var ErrClosed = errors.New("state store is closed")

// Структура для конфигурации хранилища состояния
type Conf struct {
	DBPath string `yaml:"db_path"`
}

// Snapshot итоговые счетчики процесса на момент остановки
type Snapshot struct {
	At                time.Time `json:"at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	TotalRequests     float64   `json:"total_requests"`
	TotalErrors       float64   `json:"total_errors"`
	RequestsProcessed int64     `json:"requests_processed"`
}

// RunInfo история запусков сервиса
type RunInfo struct {
	Boots        int       `json:"boots"`
	StartedAt    time.Time `json:"started_at"`
	LastShutdown *Snapshot `json:"last_shutdown,omitempty"`
}

// Store хранит историю запусков в BoltDB.
// Результаты обработки сюда не пишутся, только счетчики процесса
type Store struct {
	db *bbolt.DB
}

// Open открывает или создает файл БД
func Open(cfg Conf) (*Store, error) {
	db, err := bbolt.Open(cfg.DBPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Load читает сохраненную историю. Пустая БД дает нулевой RunInfo
func (s *Store) Load() (RunInfo, error) {
	var info RunInfo
	if s.db == nil {
		return info, ErrClosed
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(runKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &info)
	})
	return info, err
}

func (s *Store) save(info RunInfo) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return b.Put([]byte(runKey), data)
	})
}

// RecordBoot увеличивает счетчик запусков. Возвращает историю, где LastShutdown
// относится к предыдущему запуску
func (s *Store) RecordBoot(now time.Time) (RunInfo, error) {
	info, err := s.Load()
	if err != nil {
		return RunInfo{}, err
	}
	info.Boots++
	info.StartedAt = now
	if err := s.save(info); err != nil {
		return RunInfo{}, err
	}
	logger.Global.Infof("Boot #%d recorded", info.Boots)
	return info, nil
}

// RecordShutdown сохраняет итоговые счетчики текущего запуска
func (s *Store) RecordShutdown(snap Snapshot) error {
	info, err := s.Load()
	if err != nil {
		return err
	}
	info.LastShutdown = &snap
	return s.save(info)
}

// Close закрывает БД
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
