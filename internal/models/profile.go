package models

import "time"

// TradingMode - активный режим торговли, определяющий профиль риска
type TradingMode string

// Поддерживаемые режимы
const (
	ModeConservative TradingMode = "conservative"
	ModeModerate     TradingMode = "moderate"
	ModeAggressive   TradingMode = "aggressive"
)

// ValidTradingMode проверяет, что режим из поддерживаемых
func ValidTradingMode(m TradingMode) bool {
	switch m {
	case ModeConservative, ModeModerate, ModeAggressive:
		return true
	}
	return false
}

// Имена проверок монитора (используются в RiskProfile.IgnoreChecks)
const (
	CheckDailyLoss     = "daily_loss"
	CheckTotalLoss     = "total_loss"
	CheckConcentration = "concentration"
	CheckPositionAge   = "position_age"
	CheckDailyVolume   = "daily_volume"
	CheckAnomaly       = "anomaly"

	CheckSystem = "system" // сбой загрузки данных или вычисления, не отключается
)

// RiskThresholds - пороги risk score для уровней риска
type RiskThresholds struct {
	Low      float64 `json:"low"`
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// Level переводит risk score в уровень риска
func (t RiskThresholds) Level(score float64) RiskLevel {
	switch {
	case score >= t.Critical:
		return RiskLevelCritical
	case score >= t.High:
		return RiskLevelHigh
	case score >= t.Medium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskProfile - пороги, специфичные для режима торговли
type RiskProfile struct {
	Mode             TradingMode    `json:"mode"`
	MaxConcentration float64        `json:"max_concentration"`
	RiskThresholds   RiskThresholds `json:"risk_thresholds"`
	IgnoreChecks     []string       `json:"ignore_checks,omitempty"`
}

// Ignores возвращает true если проверка отключена в профиле
func (p RiskProfile) Ignores(check string) bool {
	for _, c := range p.IgnoreChecks {
		if c == check {
			return true
		}
	}
	return false
}

// DefaultRiskProfiles возвращает фиксированный набор профилей
func DefaultRiskProfiles() map[TradingMode]RiskProfile {
	return map[TradingMode]RiskProfile{
		ModeConservative: {
			Mode:             ModeConservative,
			MaxConcentration: 0.25,
			RiskThresholds:   RiskThresholds{Low: 20, Medium: 40, High: 60, Critical: 80},
		},
		ModeModerate: {
			Mode:             ModeModerate,
			MaxConcentration: 0.40,
			RiskThresholds:   RiskThresholds{Low: 25, Medium: 50, High: 70, Critical: 85},
		},
		ModeAggressive: {
			Mode:             ModeAggressive,
			MaxConcentration: 0.60,
			RiskThresholds:   RiskThresholds{Low: 30, Medium: 55, High: 75, Critical: 90},
			IgnoreChecks:     []string{CheckPositionAge},
		},
	}
}

// RiskConfig - конфигурация монитора рисков
type RiskConfig struct {
	Mode     TradingMode                 `json:"mode"`
	Profiles map[TradingMode]RiskProfile `json:"profiles"`

	MaxDailyLossPercent  float64       `json:"max_daily_loss_percent"` // доля от стоимости на начало дня
	MaxTotalLossPercent  float64       `json:"max_total_loss_percent"` // доля от baseline
	MaxPositionAge       time.Duration `json:"max_position_age"`
	MaxDailyVolume       float64       `json:"max_daily_volume"`       // USD по всему портфелю
	MaxPositionSizeUSD   float64       `json:"max_position_size_usd"`  // лимит размера одной сделки
	AdjustedSizeFraction float64       `json:"adjusted_size_fraction"` // доля лимита при уменьшении сделки
	NormalVolatility     float64       `json:"normal_volatility"`      // базовая волатильность, %
	CheckInterval        time.Duration `json:"check_interval"`
	HistoryRetention     time.Duration `json:"history_retention"`
	RapidChangeWindow    time.Duration `json:"rapid_change_window"`
	RapidChangePercent   float64       `json:"rapid_change_percent"`
	AutoLiquidate        bool          `json:"auto_liquidate"`
}

// DefaultRiskConfig возвращает конфигурацию по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Mode:                 ModeModerate,
		Profiles:             DefaultRiskProfiles(),
		MaxDailyLossPercent:  0.05,
		MaxTotalLossPercent:  0.15,
		MaxPositionAge:       72 * time.Hour,
		MaxDailyVolume:       100000,
		MaxPositionSizeUSD:   10000,
		AdjustedSizeFraction: 0.5,
		NormalVolatility:     2.0,
		CheckInterval:        30 * time.Second,
		HistoryRetention:     24 * time.Hour,
		RapidChangeWindow:    5 * time.Minute,
		RapidChangePercent:   0.10,
		AutoLiquidate:        false,
	}
}
