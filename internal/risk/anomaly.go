package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"riskguard/internal/models"
)

// Пороги детекторов аномалий
const (
	volatilityMultipleThreshold = 3.0 // волатильность относительно нормальной
	concentrationAnomaly        = 0.50
	drawdownAnomaly             = 0.15
	liquidityScoreAnomaly       = 30.0
)

// anomalyParams - параметры детекторов, берутся из RiskConfig
type anomalyParams struct {
	normalVolatility   float64
	rapidChangeWindow  time.Duration
	rapidChangePercent float64
}

// detectAnomalies прогоняет детекторы по текущему снапшоту и окну
//
// window - снапшоты до текущего (старые первыми).
func detectAnomalies(current models.PortfolioSnapshot, window []models.PortfolioSnapshot, p anomalyParams) []models.Anomaly {
	var out []models.Anomaly
	now := current.Timestamp
	m := current.RiskMetrics

	add := func(t models.AnomalyType, sev models.RiskLevel, value float64, format string, args ...interface{}) {
		out = append(out, models.Anomaly{
			ID:          uuid.NewString(),
			Type:        t,
			Severity:    sev,
			Description: fmt.Sprintf(format, args...),
			Value:       value,
			DetectedAt:  now,
		})
	}

	// Резкое изменение стоимости в коротком окне
	if ref, ok := rapidChangeReference(window, now, p.rapidChangeWindow); ok && ref > 0 {
		change := (current.TotalValue - ref) / ref
		if change < 0 {
			change = -change
		}
		if change > p.rapidChangePercent {
			add(models.AnomalyVolatilitySpike, scaleSeverity(change, 0.15, 0.20), change,
				"portfolio value moved %.1f%% within %s", change*100, p.rapidChangeWindow)
		}
	}

	// Волатильность относительно нормальной
	if p.normalVolatility > 0 {
		multiple := m.VolatilityScore / p.normalVolatility
		if multiple > volatilityMultipleThreshold {
			add(models.AnomalyVolatilitySpike, scaleSeverity(multiple, 5, 8), m.VolatilityScore,
				"volatility %.2f%% is %.1fx the normal level", m.VolatilityScore, multiple)
		}
	}

	if m.MaxConcentration > concentrationAnomaly {
		add(models.AnomalyLiquidityDrop, scaleSeverity(m.MaxConcentration, 0.65, 0.80), m.MaxConcentration,
			"single position holds %.1f%% of portfolio", m.MaxConcentration*100)
	}

	if m.Drawdown > drawdownAnomaly {
		add(models.AnomalyPriceSpike, scaleSeverity(m.Drawdown, 0.20, 0.30), m.Drawdown,
			"drawdown %.1f%% from peak", m.Drawdown*100)
	}

	if m.LiquidityScore < liquidityScoreAnomaly {
		sev := models.RiskLevelMedium
		switch {
		case m.LiquidityScore <= 10:
			sev = models.RiskLevelCritical
		case m.LiquidityScore <= 20:
			sev = models.RiskLevelHigh
		}
		add(models.AnomalyLiquidityDrop, sev, m.LiquidityScore,
			"liquidity score %.1f below %.0f", m.LiquidityScore, liquidityScoreAnomaly)
	}

	return out
}

// rapidChangeReference возвращает стоимость самого старого снапшота в окне [now-d, now)
func rapidChangeReference(window []models.PortfolioSnapshot, now time.Time, d time.Duration) (float64, bool) {
	cutoff := now.Add(-d)
	for _, s := range window {
		if !s.Timestamp.Before(cutoff) && s.Timestamp.Before(now) {
			return s.TotalValue, true
		}
	}
	return 0, false
}

// scaleSeverity: >= critical -> critical, >= high -> high, иначе medium
func scaleSeverity(v, high, critical float64) models.RiskLevel {
	switch {
	case v >= critical:
		return models.RiskLevelCritical
	case v >= high:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelMedium
	}
}
