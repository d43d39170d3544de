package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"riskguard/internal/models"
)

// ============================================================
// Prometheus метрики риск-движка
// ============================================================

// ============ Монитор ============

// RiskScoreGauge - последний risk score портфеля
var RiskScoreGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "risk_score",
		Help:      "Latest composite risk score (0-100)",
	},
	[]string{"address"},
)

// RiskLevelGauge - последний уровень риска (0=low ... 3=critical)
var RiskLevelGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "risk_level",
		Help:      "Latest risk level rank (0=low, 3=critical)",
	},
	[]string{"address"},
)

// PortfolioValueGauge - стоимость портфеля в USD
var PortfolioValueGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "portfolio_value_usd",
		Help:      "Latest portfolio value in USD",
	},
	[]string{"address"},
)

// RiskChecksTotal - количество проверок по результату
var RiskChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "checks_total",
		Help:      "Risk checks by result",
	},
	[]string{"result"}, // ok, halt, fetch_error, panic
)

// AnomaliesDetected - аномалии по типу и severity
var AnomaliesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "anomalies_total",
		Help:      "Detected portfolio anomalies",
	},
	[]string{"type", "severity"},
)

// TradeValidations - результаты validateTrade
var TradeValidations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "trade_validations_total",
		Help:      "Trade validations by outcome",
	},
	[]string{"outcome"}, // approved, adjusted, rejected
)

// ============ Лимитер ============

// LimitRejections - отказы canOpenPosition по причине
var LimitRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "limiter",
		Name:      "rejections_total",
		Help:      "Position limit rejections by reason",
	},
	[]string{"reason"},
)

// ============ Slippage ============

// SlippageObserved - фактический slippage исполнений
var SlippageObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskguard",
		Subsystem: "slippage",
		Name:      "observed_ratio",
		Help:      "Observed execution slippage as a fraction",
		Buckets:   []float64{0, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
	},
	[]string{"pair"},
)

// ============ Breaker ============

// EmergencyActive - 1 если аварийная остановка активна
var EmergencyActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "breaker",
		Name:      "emergency_active",
		Help:      "1 when the emergency stop is active",
	},
)

// EmergencyActivations - активации по типу
var EmergencyActivations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "breaker",
		Name:      "activations_total",
		Help:      "Emergency stop activations by type",
	},
	[]string{"type"},
)

// LiquidationSteps - шаги ликвидации по методу и результату
var LiquidationSteps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "breaker",
		Name:      "liquidation_steps_total",
		Help:      "Emergency liquidation steps by method and result",
	},
	[]string{"method", "result"},
)

// LiquidatedValue - суммарная ликвидированная стоимость
var LiquidatedValue = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "breaker",
		Name:      "liquidated_usd_total",
		Help:      "Total estimated USD value liquidated",
	},
)

// ============ Буферы ============

// BufferOverflows - события, отброшенные из-за заполненного канала
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "system",
		Name:      "buffer_overflows_total",
		Help:      "Events dropped because a channel buffer was full",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordCheck записывает результат проверки риска
func RecordCheck(address string, res *models.RiskCheckResult, outcome string) {
	RiskChecksTotal.WithLabelValues(outcome).Inc()
	RiskLevelGauge.WithLabelValues(address).Set(float64(res.RiskLevel.Rank()))
	if res.Snapshot != nil {
		RiskScoreGauge.WithLabelValues(address).Set(res.Snapshot.RiskMetrics.RiskScore)
		PortfolioValueGauge.WithLabelValues(address).Set(res.Snapshot.TotalValue)
	}
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(buffer string) {
	BufferOverflows.WithLabelValues(buffer).Inc()
}

// SetEmergencyActive обновляет gauge состояния breaker
func SetEmergencyActive(active bool) {
	if active {
		EmergencyActive.Set(1)
	} else {
		EmergencyActive.Set(0)
	}
}
