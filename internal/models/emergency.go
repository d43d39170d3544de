package models

import "time"

// EmergencyType - причина срабатывания аварийной остановки
type EmergencyType string

// Типы аварийных событий
const (
	EmergencyPortfolioLoss EmergencyType = "PORTFOLIO_LOSS"
	EmergencyDailyLoss     EmergencyType = "DAILY_LOSS"
	EmergencyVolatility    EmergencyType = "VOLATILITY"
	EmergencyLiquidity     EmergencyType = "LIQUIDITY"
	EmergencyPriceDrop     EmergencyType = "PRICE_DROP"
	EmergencySystemError   EmergencyType = "SYSTEM_ERROR"
	EmergencyAPIFailure    EmergencyType = "API_FAILURE"
	EmergencyManual        EmergencyType = "MANUAL"
)

// ValidEmergencyType проверяет что тип известен
func ValidEmergencyType(t EmergencyType) bool {
	switch t {
	case EmergencyPortfolioLoss, EmergencyDailyLoss, EmergencyVolatility, EmergencyLiquidity,
		EmergencyPriceDrop, EmergencySystemError, EmergencyAPIFailure, EmergencyManual:
		return true
	}
	return false
}

// EmergencyPhase - фаза автомата аварийной остановки
type EmergencyPhase string

// Фазы: INACTIVE -> ACTIVE -> RECOVERY -> INACTIVE
const (
	PhaseInactive EmergencyPhase = "INACTIVE"
	PhaseActive   EmergencyPhase = "ACTIVE"
	PhaseRecovery EmergencyPhase = "RECOVERY"
)

// EmergencyActionType - шаг аварийной процедуры
type EmergencyActionType string

// Шаги выполняются строго в этом порядке
const (
	ActionTypeStopTrading        EmergencyActionType = "STOP_TRADING"
	ActionTypeAlertAdmin         EmergencyActionType = "ALERT_ADMIN"
	ActionTypeLiquidatePositions EmergencyActionType = "LIQUIDATE_POSITIONS"
	ActionTypeSafeMode           EmergencyActionType = "SAFE_MODE"
)

// EmergencyAction - результат одного шага аварийной процедуры
type EmergencyAction struct {
	ID        string              `json:"id"`
	Type      EmergencyActionType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Success   bool                `json:"success"`
	Error     string              `json:"error,omitempty"`
}

// EmergencyState - состояние circuit breaker
//
// В системе существует ровно один экземпляр.
type EmergencyState struct {
	IsEmergencyActive        bool              `json:"is_emergency_active"`
	Phase                    EmergencyPhase    `json:"phase"`
	EmergencyType            EmergencyType     `json:"emergency_type,omitempty"`
	TriggerTime              *time.Time        `json:"trigger_time,omitempty"`
	TriggerReason            string            `json:"trigger_reason,omitempty"`
	ActionsExecuted          []EmergencyAction `json:"actions_executed"`
	TotalPositionsLiquidated int               `json:"total_positions_liquidated"`
	TotalValueLiquidated     float64           `json:"total_value_liquidated"`
	RecoveryMode             bool              `json:"recovery_mode"`
	RecoveryStartedAt        *time.Time        `json:"recovery_started_at,omitempty"`
	SafeMode                 bool              `json:"safe_mode"`
}

// Clone возвращает глубокую копию состояния
func (s EmergencyState) Clone() EmergencyState {
	c := s
	c.ActionsExecuted = append([]EmergencyAction(nil), s.ActionsExecuted...)
	if s.TriggerTime != nil {
		t := *s.TriggerTime
		c.TriggerTime = &t
	}
	if s.RecoveryStartedAt != nil {
		t := *s.RecoveryStartedAt
		c.RecoveryStartedAt = &t
	}
	return c
}

// EmergencyTriggers - пороги срабатывания circuit breaker
type EmergencyTriggers struct {
	PortfolioLossPercent float64 `json:"portfolio_loss_percent"` // доля от baseline
	DailyLossPercent     float64 `json:"daily_loss_percent"`     // доля от стоимости на начало дня
	VolatilityThreshold  float64 `json:"volatility_threshold"`   // volatility score, %
	LiquidityThreshold   float64 `json:"liquidity_threshold"`    // liquidity score 0..100
	PriceDropThreshold   float64 `json:"price_drop_threshold"`   // падение от пика, доля
	SystemErrorCount     int     `json:"system_error_count"`
	APIFailureCount      int     `json:"api_failure_count"`
}

// DefaultEmergencyTriggers возвращает пороги по умолчанию
func DefaultEmergencyTriggers() EmergencyTriggers {
	return EmergencyTriggers{
		PortfolioLossPercent: 0.20,
		DailyLossPercent:     0.10,
		VolatilityThreshold:  50,
		LiquidityThreshold:   20,
		PriceDropThreshold:   0.15,
		SystemErrorCount:     5,
		APIFailureCount:      10,
	}
}

// TriggersUpdate - частичное обновление порогов (nil - не менять)
type TriggersUpdate struct {
	PortfolioLossPercent *float64 `json:"portfolio_loss_percent,omitempty"`
	DailyLossPercent     *float64 `json:"daily_loss_percent,omitempty"`
	VolatilityThreshold  *float64 `json:"volatility_threshold,omitempty"`
	LiquidityThreshold   *float64 `json:"liquidity_threshold,omitempty"`
	PriceDropThreshold   *float64 `json:"price_drop_threshold,omitempty"`
	SystemErrorCount     *int     `json:"system_error_count,omitempty"`
	APIFailureCount      *int     `json:"api_failure_count,omitempty"`
}

// Apply возвращает копию порогов с применённым обновлением (без валидации)
func (u TriggersUpdate) Apply(base EmergencyTriggers) EmergencyTriggers {
	if u.PortfolioLossPercent != nil {
		base.PortfolioLossPercent = *u.PortfolioLossPercent
	}
	if u.DailyLossPercent != nil {
		base.DailyLossPercent = *u.DailyLossPercent
	}
	if u.VolatilityThreshold != nil {
		base.VolatilityThreshold = *u.VolatilityThreshold
	}
	if u.LiquidityThreshold != nil {
		base.LiquidityThreshold = *u.LiquidityThreshold
	}
	if u.PriceDropThreshold != nil {
		base.PriceDropThreshold = *u.PriceDropThreshold
	}
	if u.SystemErrorCount != nil {
		base.SystemErrorCount = *u.SystemErrorCount
	}
	if u.APIFailureCount != nil {
		base.APIFailureCount = *u.APIFailureCount
	}
	return base
}

// PortfolioData - входные данные checkEmergencyConditions
type PortfolioData struct {
	BaselineValue   float64 `json:"baseline_value"`
	TotalValue      float64 `json:"total_value"`
	TotalPnL        float64 `json:"total_pnl"`
	DailyStartValue float64 `json:"daily_start_value"`
	DailyPnL        float64 `json:"daily_pnl"`
	VolatilityScore float64 `json:"volatility_score"`
	LiquidityScore  float64 `json:"liquidity_score"`
	PriceDrop       float64 `json:"price_drop"` // падение от пика, доля
	PositionCount   int     `json:"position_count"`
}

// EmergencyCheck - результат checkEmergencyConditions
type EmergencyCheck struct {
	ShouldTrigger bool          `json:"should_trigger"`
	EmergencyType EmergencyType `json:"emergency_type,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Severity      RiskLevel     `json:"severity"`
}

// ActivationResult - результат activateEmergencyStop
type ActivationResult struct {
	Activated     bool               `json:"activated"`
	AlreadyActive bool               `json:"already_active"`
	State         EmergencyState     `json:"state"`
	Liquidation   *LiquidationResult `json:"liquidation,omitempty"`
}

// DeactivationResult - результат deactivateEmergencyStop
type DeactivationResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	State   EmergencyState `json:"state"`
}

// LiquidationMethod - способ выхода из позиции
type LiquidationMethod string

// Методы ликвидации
const (
	MethodRemoveLiquidity LiquidationMethod = "REMOVE_LIQUIDITY"
	MethodMarketSell      LiquidationMethod = "MARKET_SELL"
	MethodEmergencySwap   LiquidationMethod = "EMERGENCY_SWAP"
)

// LiquidationPlan - один шаг плана ликвидации
type LiquidationPlan struct {
	Priority       int               `json:"priority"` // меньше = срочнее
	Token          string            `json:"token"`
	Kind           HoldingKind       `json:"kind"`
	PositionID     string            `json:"position_id,omitempty"`
	Amount         float64           `json:"amount"`
	EstimatedValue float64           `json:"estimated_value"`
	Method         LiquidationMethod `json:"liquidation_method"`
	MaxSlippage    float64           `json:"max_slippage"`
}

// LiquidationStep - итог исполнения одного плана
type LiquidationStep struct {
	Plan    LiquidationPlan   `json:"plan"`
	Method  LiquidationMethod `json:"method"` // фактически использованный метод
	Success bool              `json:"success"`
	TxID    string            `json:"tx_id,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// LiquidationResult - результат emergencyLiquidateAllPositions
type LiquidationResult struct {
	Success         bool              `json:"success"`
	LiquidatedCount int               `json:"liquidated_count"`
	LiquidatedValue float64           `json:"liquidated_value"`
	Steps           []LiquidationStep `json:"steps"`
	Errors          []string          `json:"errors,omitempty"`
}

// EmergencyCounters - счетчики ошибок breaker
type EmergencyCounters struct {
	SystemErrors        int `json:"system_errors"`
	APIFailures         int `json:"api_failures"`
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// EmergencyStatus - снимок для getEmergencyStatus
type EmergencyStatus struct {
	Enabled        bool              `json:"enabled"`
	ManualOverride bool              `json:"manual_override"`
	OverrideReason string            `json:"override_reason,omitempty"`
	State          EmergencyState    `json:"state"`
	Triggers       EmergencyTriggers `json:"triggers"`
	Counters       EmergencyCounters `json:"counters"`
}

// Действия в журнале аварийных событий
const (
	HistoryActivated      = "ACTIVATED"
	HistoryDeactivated    = "DEACTIVATED"
	HistoryRecoveryExited = "RECOVERY_EXITED"
	HistoryOverrideSet    = "OVERRIDE_SET"
	HistoryOverrideClear  = "OVERRIDE_CLEARED"
	HistoryLiquidation    = "LIQUIDATION"
)

// EmergencyHistoryEntry - запись журнала аудита (append-only)
type EmergencyHistoryEntry struct {
	ID        string        `json:"id" db:"id"`
	Timestamp time.Time     `json:"timestamp" db:"timestamp"`
	Action    string        `json:"action" db:"action"`
	Type      EmergencyType `json:"type,omitempty" db:"type"`
	Reason    string        `json:"reason" db:"reason"`
	Success   bool          `json:"success" db:"success"`
}
