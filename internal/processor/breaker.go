package processor

import (
	"github.com/a3ak/circuitbreaker"
)

// Имя breaker для внешнего обработчика
const TransformBreakerName = "transform"

// Структура для конфигурации Circuit Breaker
type CBConf struct {
	Enabled                          bool `yaml:"enabled"`
	circuitbreaker.CircuitBreakerConf `yaml:",inline"`
}

// Guard защищает вызовы внешнего обработчика
type Guard interface {
	Allow() bool
	ReportSuccess()
	ReportFailure()
}

// BreakerGuard Guard поверх CBManager
type BreakerGuard struct {
	cb   *circuitbreaker.CBManager
	name string
}

// NewBreakerGuard инициализирует circuit breaker для обработчика
func NewBreakerGuard(conf CBConf) *BreakerGuard {
	cb := circuitbreaker.NewCBManager()
	cb.InitCircuitBreakers([]string{TransformBreakerName}, conf.CircuitBreakerConf)
	return &BreakerGuard{cb: cb, name: TransformBreakerName}
}

func (g *BreakerGuard) Allow() bool {
	ok, _ := g.cb.AllowRequest(g.name)
	return ok
}

func (g *BreakerGuard) ReportSuccess() {
	g.cb.ReportSuccess(g.name)
}

func (g *BreakerGuard) ReportFailure() {
	g.cb.ReportFailure(g.name)
}

// Stats состояние breaker в формате CBManager
func (g *BreakerGuard) Stats() map[string]any {
	return g.cb.GetCircuitBreakerStats()
}
