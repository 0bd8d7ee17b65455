package processor

import (
	"context"
	"time"
)

// DefaultDelay искусственная задержка имитации обработки
const DefaultDelay = 50 * time.Millisecond

// Transform внешний обработчик записи. Может блокироваться сколько угодно,
// общие блокировки на время вызова не удерживаются
type Transform func(ctx context.Context, record map[string]any) (map[string]any, error)

// SimulatedTransform имитирует обработку: ждет delay и возвращает копию записи.
// Отмена контекста не прерывает ожидание, начатый пакет всегда обрабатывается до конца
func SimulatedTransform(delay time.Duration) Transform {
	return func(_ context.Context, record map[string]any) (map[string]any, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return deepClone(record).(map[string]any), nil
	}
}

// Глубокое клонирование JSON структур, что бы результат не ссылался на данные запроса
func deepClone(src any) any {
	switch v := src.(type) {
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		dst := make(map[string]any, len(v))
		for key, value := range v {
			dst[key] = deepClone(value)
		}
		return dst

	case []any:
		if len(v) == 0 {
			return []any{}
		}
		dst := make([]any, len(v))
		for i, val := range v {
			dst[i] = deepClone(val)
		}
		return dst
	default:
		return v
	}
}
