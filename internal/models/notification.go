package models

import "time"

// Notification представляет уведомление о событии риска
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // EMERGENCY, RECOVERY, RISK_ALERT, ANOMALY, SLIPPAGE, LIMIT, LIQUIDATION, ERROR
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error, critical
	Address   string                 `json:"address,omitempty" db:"address"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeEmergency   = "EMERGENCY"   // активация аварийной остановки
	NotificationTypeRecovery    = "RECOVERY"    // деактивация, переход в recovery
	NotificationTypeRiskAlert   = "RISK_ALERT"  // алерт проверки монитора
	NotificationTypeAnomaly     = "ANOMALY"     // аномалия в окне снапшотов
	NotificationTypeSlippage    = "SLIPPAGE"    // аномальный средний slippage
	NotificationTypeLimit       = "LIMIT"       // нарушение лимитов
	NotificationTypeLiquidation = "LIQUIDATION" // итог аварийной ликвидации
	NotificationTypeError       = "ERROR"       // ошибка gateway/вычислений
)

// Уровни важности
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// SeverityForLevel переводит уровень риска в severity уведомления
func SeverityForLevel(l RiskLevel) string {
	switch l {
	case RiskLevelCritical:
		return SeverityCritical
	case RiskLevelHigh:
		return SeverityError
	case RiskLevelMedium:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}
