package models

import "time"

// RiskSettings представляет сохраняемые runtime-настройки риска
//
// Одна строка в БД (id=1), применяется к движку при старте.
type RiskSettings struct {
	ID          int                  `json:"id" db:"id"`
	TradingMode TradingMode          `json:"trading_mode" db:"trading_mode"`
	Limits      PositionLimitsConfig `json:"limits" db:"limits"`     // JSON в БД
	Triggers    EmergencyTriggers    `json:"triggers" db:"triggers"` // JSON в БД
	UpdatedAt   time.Time            `json:"updated_at" db:"updated_at"`
}
