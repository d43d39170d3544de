package models

import "time"

// SlippageConfig - настройки Slippage Guard
type SlippageConfig struct {
	DefaultTolerance   float64 `json:"default_tolerance"`
	EmergencyTolerance float64 `json:"emergency_tolerance"` // действует при включенных аварийных лимитах
	MaxTolerance       float64 `json:"max_tolerance"`       // потолок динамического допуска
	AlertMultiple      float64 `json:"alert_multiple"`      // средний slippage / допуск для алерта
	AlertWindow        int     `json:"alert_window"`        // число последних исполнений для среднего
	HistorySize        int     `json:"history_size"`        // записей на пару
}

// DefaultSlippageConfig возвращает настройки по умолчанию
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		DefaultTolerance:   0.005,
		EmergencyTolerance: 0.01,
		MaxTolerance:       0.05,
		AlertMultiple:      1.5,
		AlertWindow:        10,
		HistorySize:        100,
	}
}

// SlippageValidation - результат validateSlippage
type SlippageValidation struct {
	Valid          bool    `json:"valid"`
	ActualSlippage float64 `json:"actual_slippage"`
	Reason         string  `json:"reason,omitempty"`
}

// DynamicSlippage - результат calculateDynamicSlippage
type DynamicSlippage struct {
	BaseTolerance     float64  `json:"base_tolerance"`
	AdjustedTolerance float64  `json:"adjusted_tolerance"`
	Reasons           []string `json:"reasons"`
}

// SplitRecommendation - результат recommendTradeSplitting
type SplitRecommendation struct {
	ShouldSplit bool    `json:"should_split"`
	Chunks      int     `json:"chunks"`
	ChunkSize   float64 `json:"chunk_size"`
	PriceImpact float64 `json:"price_impact"`
	Reason      string  `json:"reason"`
}

// SlippageRecord - одно исполнение в истории пары
type SlippageRecord struct {
	Pair      string    `json:"pair"`
	Tolerance float64   `json:"tolerance"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Slippage  float64   `json:"slippage"`
	Timestamp time.Time `json:"timestamp"`
}

// SlippageAlert - аномальный средний slippage по паре
type SlippageAlert struct {
	Pair            string    `json:"pair"`
	AverageSlippage float64   `json:"average_slippage"`
	Tolerance       float64   `json:"tolerance"`
	Samples         int       `json:"samples"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}
