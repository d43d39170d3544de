package models

import "time"

// RiskLevel - итоговый уровень риска портфеля
type RiskLevel string

// Уровни риска (упорядочены по возрастанию)
const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Rank возвращает порядковый номер уровня для сравнения (low=0 ... critical=3)
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelLow:
		return 0
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return 3 // неизвестный уровень трактуем как критический
	}
}

// HoldingKind - дискриминант типа позиции
type HoldingKind string

// Типы позиций
const (
	HoldingWallet    HoldingKind = "wallet_balance"     // обычный баланс токена на кошельке
	HoldingLiquidity HoldingKind = "liquidity_position" // позиция ликвидности в пуле DEX
)

// PositionSnapshot - экспозиция по одному токену (или одной LP-позиции) в момент снапшота
//
// Неизменяем после попадания в историю.
type PositionSnapshot struct {
	Token              string        `json:"token"`
	Kind               HoldingKind   `json:"kind"`
	Amount             float64       `json:"amount"`               // количество в единицах токена
	ValueUSD           float64       `json:"value_usd"`            // оценка в USD
	PercentOfPortfolio float64       `json:"percent_of_portfolio"` // доля портфеля [0, 1]
	Age                time.Duration `json:"age"`                  // время с первого наблюдения

	// Только для HoldingLiquidity
	PositionID string  `json:"position_id,omitempty"`
	Liquidity  float64 `json:"liquidity,omitempty"`
}

// PortfolioSnapshot - состояние всего портфеля в момент времени
type PortfolioSnapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	Address     string             `json:"address"`
	TotalValue  float64            `json:"total_value"`
	Positions   []PositionSnapshot `json:"positions"`
	DailyPnL    float64            `json:"daily_pnl"`    // относительно стоимости на начало дня
	TotalPnL    float64            `json:"total_pnl"`    // относительно baseline мониторинга
	DailyVolume float64            `json:"daily_volume"` // торговый объем за текущие сутки (USD)
	RiskMetrics RiskMetrics        `json:"risk_metrics"`
}

// Position возвращает агрегированную стоимость токена в снапшоте
func (s *PortfolioSnapshot) Position(token string) (valueUSD float64, found bool) {
	for _, p := range s.Positions {
		if p.Token == token {
			valueUSD += p.ValueUSD
			found = true
		}
	}
	return valueUSD, found
}

// RiskMetrics - производные метрики снапшота
//
// Вычисляются один раз и больше не изменяются.
type RiskMetrics struct {
	TotalExposure    float64 `json:"total_exposure"`    // сумма стоимостей позиций (USD)
	MaxConcentration float64 `json:"max_concentration"` // максимальная доля одного токена [0, 1]
	VolatilityScore  float64 `json:"volatility_score"`  // stddev доходностей, %
	LiquidityScore   float64 `json:"liquidity_score"`   // 0..100, 100 - полностью диверсифицирован
	Drawdown         float64 `json:"drawdown"`          // просадка от пика [0, 1]
	SharpeRatio      float64 `json:"sharpe_ratio"`
	RiskScore        float64 `json:"risk_score"` // 0..100
}

// RiskAlert - сигнал, поднятый одной из проверок монитора
type RiskAlert struct {
	ID        string    `json:"id"`
	Check     string    `json:"check"` // daily_loss, total_loss, concentration, position_age, daily_volume, anomaly, system
	Severity  RiskLevel `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AnomalyType - тип аномалии
type AnomalyType string

// Типы аномалий
const (
	AnomalyVolatilitySpike AnomalyType = "volatility_spike"
	AnomalyLiquidityDrop   AnomalyType = "liquidity_drop"
	AnomalyPriceSpike      AnomalyType = "price_spike"
)

// Anomaly - аномалия, обнаруженная на скользящем окне снапшотов
type Anomaly struct {
	ID          string      `json:"id"`
	Type        AnomalyType `json:"type"`
	Severity    RiskLevel   `json:"severity"`
	Description string      `json:"description"`
	Value       float64     `json:"value"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// Экстренные действия, запрашиваемые проверками монитора
const (
	ActionStopTrading        = "STOP_TRADING"
	ActionEmergencyLiquidate = "EMERGENCY_LIQUIDATE"
	ActionReduceExposure     = "REDUCE_EXPOSURE"
	ActionHaltNewTrades      = "HALT_NEW_TRADES"
)

// RiskCheckResult - результат performRiskCheck
type RiskCheckResult struct {
	RiskLevel             RiskLevel          `json:"risk_level"`
	ShouldContinueTrading bool               `json:"should_continue_trading"`
	Alerts                []RiskAlert        `json:"alerts"`
	EmergencyActions      []string           `json:"emergency_actions"`
	Anomalies             []Anomaly          `json:"anomalies,omitempty"`
	Snapshot              *PortfolioSnapshot `json:"snapshot,omitempty"`
	CheckedAt             time.Time          `json:"checked_at"`
}

// MarketConditions - рыночный контекст сделки или пула
type MarketConditions struct {
	Volatility    float64 `json:"volatility"`     // дневная волатильность, доля (0.05 = 5%)
	Liquidity     float64 `json:"liquidity"`      // ликвидность пула, USD
	Volume        float64 `json:"volume"`         // объем торгов за 24ч, USD
	Spread        float64 `json:"spread"`         // спред, доля
	PoolLiquidity float64 `json:"pool_liquidity"` // ликвидность конкретного пула для дробления сделки, USD
}

// TradeParams - параметры предлагаемой сделки для validateTrade
//
// AmountIn выражен в USD (нотионал сделки).
type TradeParams struct {
	Address          string             `json:"address,omitempty"`
	TokenIn          string             `json:"token_in"`
	TokenOut         string             `json:"token_out"`
	AmountIn         float64            `json:"amount_in"`
	CurrentPortfolio *PortfolioSnapshot `json:"current_portfolio,omitempty"`
	MarketConditions *MarketConditions  `json:"market_conditions,omitempty"`
}

// TradeValidation - результат validateTrade
type TradeValidation struct {
	Approved       bool      `json:"approved"`
	Reason         string    `json:"reason,omitempty"`
	RiskLevel      RiskLevel `json:"risk_level"`
	AdjustedAmount *float64  `json:"adjusted_amount,omitempty"`
}
