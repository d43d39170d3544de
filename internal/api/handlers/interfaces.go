package handlers

import (
	"context"

	"riskguard/internal/models"
)

// MonitoringEngine - управление фоновой проверкой портфеля
type MonitoringEngine interface {
	StartMonitoring(ctx context.Context, address string) error
	StopMonitoring()
	IsMonitoring() bool
	MonitoredAddress() string
}

// RiskEngine - проверки риска и лимитов перед сделкой
type RiskEngine interface {
	PerformRiskCheck(ctx context.Context, address string) *models.RiskCheckResult
	ValidateTrade(ctx context.Context, params models.TradeParams) models.TradeValidation
	CanOpenPosition(ctx context.Context, token string, amountUSD float64, address string) models.LimitCheck
	AdjustPositionSize(ctx context.Context, token string, requested float64, address string) models.SizeAdjustment
	CalculateExposures(ctx context.Context, address string) []models.PositionExposure
	GetViolations(ctx context.Context, address string) []models.LimitViolation
	RecordTrade(ctx context.Context, token string, amountUSD float64) error
}

// SlippageEngine - Slippage Guard
type SlippageEngine interface {
	ValidateSlippage(tolerance, expectedOut, actualOut float64) models.SlippageValidation
	RecordExecution(tokenIn, tokenOut string, tolerance, expectedOut, actualOut float64) float64
	CalculateDynamicSlippage(base float64, mc models.MarketConditions) models.DynamicSlippage
	RecommendTradeSplitting(amount float64, mc models.MarketConditions) models.SplitRecommendation
	GetSlippageAlerts() []models.SlippageAlert
}

// EmergencyEngine - аварийный breaker
type EmergencyEngine interface {
	GetEmergencyStatus() models.EmergencyStatus
	ActivateEmergencyStop(ctx context.Context, t models.EmergencyType, reason string, autoLiquidate bool) models.ActivationResult
	DeactivateEmergencyStop(reason string) models.DeactivationResult
	SetManualOverride(enabled bool, reason string) error
	ExitRecovery() error
	GetEmergencyHistory(limit int) []models.EmergencyHistoryEntry
}

// NotificationServiceInterface - журнал уведомлений
type NotificationServiceInterface interface {
	GetNotifications(types []string, limit int) ([]*models.Notification, error)
	ClearNotifications() error
	GetNotificationCount() (int, error)
}

// EmergencyHistoryStore - сохранённый журнал аудита breaker
type EmergencyHistoryStore interface {
	GetEmergencyHistory(limit int) ([]models.EmergencyHistoryEntry, error)
}

// SettingsServiceInterface - runtime-настройки риска
type SettingsServiceInterface interface {
	GetSettings() models.RiskSettings
	UpdateLimits(update models.LimitsUpdate) (models.PositionLimitsConfig, error)
	UpdateTriggers(update models.TriggersUpdate) (models.EmergencyTriggers, error)
	SetTradingMode(mode models.TradingMode) error
}

// StatusBroadcaster рассылает состояние breaker после ручных действий
type StatusBroadcaster interface {
	BroadcastEmergencyStatus(status models.EmergencyStatus)
}
