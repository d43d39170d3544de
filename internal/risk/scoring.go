package risk

import (
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Параметры композитного risk score
const (
	concentrationWeight = 40.0
	volatilityCap       = 30.0
	drawdownWeight      = 30.0

	// volatilityLookback - сколько последних значений стоимости участвует в расчёте доходностей
	volatilityLookback = 10
)

// ComputeRiskMetrics вычисляет метрики снапшота
//
// Чистая функция: recent - окно предыдущих снапшотов (старые первыми),
// текущая стоимость totalValue добавляется к окну. Пустой портфель даёт
// нулевые доли и LiquidityScore = 100.
func ComputeRiskMetrics(positions []models.PositionSnapshot, totalValue float64, recent []models.PortfolioSnapshot) models.RiskMetrics {
	var m models.RiskMetrics

	weights := make([]float64, 0, len(positions))
	for _, p := range positions {
		m.TotalExposure += p.ValueUSD
		w := utils.Clamp(utils.SafeDiv(p.ValueUSD, totalValue), 0, 1)
		weights = append(weights, w)
		if w > m.MaxConcentration {
			m.MaxConcentration = w
		}
	}

	m.LiquidityScore = 100
	if totalValue > 0 && len(weights) > 0 {
		m.LiquidityScore = utils.Clamp(100*(1-utils.HerfindahlIndex(weights)), 0, 100)
	}

	values := make([]float64, 0, len(recent)+1)
	for _, s := range recent {
		values = append(values, s.TotalValue)
	}
	values = append(values, totalValue)

	peak := totalValue
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	if peak > 0 {
		m.Drawdown = utils.Clamp((peak-totalValue)/peak, 0, 1)
	}

	returns := utils.PercentReturns(utils.LastN(values, volatilityLookback))
	m.VolatilityScore = utils.StdDev(returns)
	m.SharpeRatio = utils.SafeDiv(utils.Mean(returns), m.VolatilityScore)

	m.RiskScore = RiskScore(m.MaxConcentration, m.VolatilityScore, m.Drawdown)
	return m
}

// RiskScore - композитная оценка риска в диапазоне [0, 100]
//
//	score = 40·concentration + min(30, volatility) + 30·drawdown
func RiskScore(maxConcentration, volatilityScore, drawdown float64) float64 {
	score := concentrationWeight*maxConcentration +
		utils.Min(volatilityCap, volatilityScore) +
		drawdownWeight*drawdown
	return utils.Clamp(score, 0, 100)
}
