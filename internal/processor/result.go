package processor

import (
	"encoding/json"
	"math"
)

const StatusSuccess = "success"

// Зарезервированные поля результата. Значения из входных данных с этими именами отбрасываются
var reservedFields = []string{"status", "processed_at", "processing_time_ms", "data_length", "processor_count"}

// Result результат обработки одной записи
type Result struct {
	Status           string
	ProcessedAt      float64 // unix время в секундах
	ProcessingTimeMs float64
	DataLength       int
	ProcessorCount   int64
	// Преобразованные данные записи
	Payload map[string]any
}

// Fields собирает плоское представление результата: данные записи плюс метаданные.
// Метаданные всегда перекрывают одноименные поля записи
func (r Result) Fields() map[string]any {
	out := make(map[string]any, len(r.Payload)+len(reservedFields))
	for k, v := range r.Payload {
		out[k] = v
	}
	out["status"] = r.Status
	out["processed_at"] = r.ProcessedAt
	out["processing_time_ms"] = r.ProcessingTimeMs
	out["data_length"] = r.DataLength
	out["processor_count"] = r.ProcessorCount
	return out
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}

// Outcome результат попытки обработки: либо Result, либо ошибка
type Outcome struct {
	Result Result
	Err    error
}

func (o Outcome) OK() bool { return o.Err == nil }

// BatchResult итог обработки пакета
type BatchResult struct {
	Processed       int      `json:"processed"`
	Failed          int      `json:"failed"`
	Total           int      `json:"total"`
	DurationSeconds float64  `json:"duration_seconds"`
	Results         []Result `json:"results"`
}

// collidingFields возвращает поля записи, которые будут перекрыты метаданными
func collidingFields(payload map[string]any) []string {
	var out []string
	for _, name := range reservedFields {
		if _, ok := payload[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
