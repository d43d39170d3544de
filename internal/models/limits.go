package models

// PositionLimitsConfig - лимиты позиций и экспозиции
//
// Все денежные значения в USD.
type PositionLimitsConfig struct {
	MaxPositionSize  float64 `json:"max_position_size"`  // на один токен
	MaxPositionCount int     `json:"max_position_count"` // число различных токенов выше dust
	MaxConcentration float64 `json:"max_concentration"`  // доля портфеля в одном токене
	MaxTotalExposure float64 `json:"max_total_exposure"` // суммарная экспозиция
	MaxDailyVolume   float64 `json:"max_daily_volume"`   // дневной объем по токену
	DustThreshold    float64 `json:"dust_threshold"`     // позиции дешевле не считаются
}

// DefaultPositionLimits возвращает лимиты по умолчанию
func DefaultPositionLimits() PositionLimitsConfig {
	return PositionLimitsConfig{
		MaxPositionSize:  1000,
		MaxPositionCount: 10,
		MaxConcentration: 0.30,
		MaxTotalExposure: 10000,
		MaxDailyVolume:   10000,
		DustThreshold:    1,
	}
}

// LimitsUpdate - частичное обновление лимитов
//
// nil поле означает "не менять".
type LimitsUpdate struct {
	MaxPositionSize  *float64 `json:"max_position_size,omitempty"`
	MaxPositionCount *int     `json:"max_position_count,omitempty"`
	MaxConcentration *float64 `json:"max_concentration,omitempty"`
	MaxTotalExposure *float64 `json:"max_total_exposure,omitempty"`
	MaxDailyVolume   *float64 `json:"max_daily_volume,omitempty"`
	DustThreshold    *float64 `json:"dust_threshold,omitempty"`
}

// Apply возвращает копию лимитов с применённым обновлением (без валидации)
func (u LimitsUpdate) Apply(base PositionLimitsConfig) PositionLimitsConfig {
	if u.MaxPositionSize != nil {
		base.MaxPositionSize = *u.MaxPositionSize
	}
	if u.MaxPositionCount != nil {
		base.MaxPositionCount = *u.MaxPositionCount
	}
	if u.MaxConcentration != nil {
		base.MaxConcentration = *u.MaxConcentration
	}
	if u.MaxTotalExposure != nil {
		base.MaxTotalExposure = *u.MaxTotalExposure
	}
	if u.MaxDailyVolume != nil {
		base.MaxDailyVolume = *u.MaxDailyVolume
	}
	if u.DustThreshold != nil {
		base.DustThreshold = *u.DustThreshold
	}
	return base
}

// PositionExposure - экспозиция по токену с точки зрения лимитера
type PositionExposure struct {
	Token              string  `json:"token"`
	TotalAmount        float64 `json:"total_amount"`
	ValueUSD           float64 `json:"value_usd"`
	PositionCount      int     `json:"position_count"`
	PercentOfPortfolio float64 `json:"percent_of_portfolio"`
	IsWithinLimits     bool    `json:"is_within_limits"`
}

// LimitCheck - результат canOpenPosition
type LimitCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// SizeAdjustment - результат autoAdjustPositionSize
type SizeAdjustment struct {
	Amount      float64 `json:"amount"`
	MaxSafe     float64 `json:"max_safe"`
	WasAdjusted bool    `json:"was_adjusted"`
	Reason      string  `json:"reason,omitempty"`
}

// Типы нарушений лимитов
const (
	ViolationPositionSize  = "position_size"
	ViolationConcentration = "concentration"
	ViolationPositionCount = "position_count"
	ViolationTotalExposure = "total_exposure"

	ViolationDataUnavailable = "data_unavailable" // gateway недоступен, оценить нарушения нельзя
)

// Серьёзность нарушения
const (
	ViolationWarning  = "warning"
	ViolationCritical = "critical"
)

// LimitViolation - нарушение лимита (для отчетов, не блокирует торговлю)
type LimitViolation struct {
	Type     string  `json:"type"`
	Token    string  `json:"token,omitempty"`
	Current  float64 `json:"current"`
	Limit    float64 `json:"limit"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
}
