package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"riskguard/internal/models"
	"riskguard/internal/risk"
	"riskguard/internal/service"
)

// ============ MockEngine ============

// MockEngine реализует интерфейсы движка для handlers
type MockEngine struct {
	mu sync.Mutex

	address  string
	startErr error

	checkResult *models.RiskCheckResult
	validation  models.TradeValidation
	limitCheck  models.LimitCheck
	adjustment  models.SizeAdjustment
	exposures   []models.PositionExposure
	violations  []models.LimitViolation
	recordErr   error

	lastAddress string
	lastParams  models.TradeParams
	lastToken   string
	lastAmount  float64
	trades      int

	executions int
	alerts     []models.SlippageAlert

	status      models.EmergencyStatus
	activations int
	lastType    models.EmergencyType
	lastAutoLiq bool
	overrideErr error
	recoveryErr error
	history     []models.EmergencyHistoryEntry
}

// NewMockEngine создает мок с неактивным breaker
func NewMockEngine() *MockEngine {
	return &MockEngine{
		status: models.EmergencyStatus{},
	}
}

func (m *MockEngine) StartMonitoring(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	if m.address == "" {
		m.address = address
	}
	return nil
}

func (m *MockEngine) StopMonitoring() {
	m.mu.Lock()
	m.address = ""
	m.mu.Unlock()
}

func (m *MockEngine) IsMonitoring() bool { return m.MonitoredAddress() != "" }

func (m *MockEngine) MonitoredAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

func (m *MockEngine) PerformRiskCheck(_ context.Context, address string) *models.RiskCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAddress = address
	if m.checkResult != nil {
		return m.checkResult
	}
	return &models.RiskCheckResult{RiskLevel: models.RiskLevelLow, ShouldContinueTrading: true, CheckedAt: time.Now()}
}

func (m *MockEngine) ValidateTrade(_ context.Context, params models.TradeParams) models.TradeValidation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastParams = params
	return m.validation
}

func (m *MockEngine) CanOpenPosition(_ context.Context, token string, amountUSD float64, address string) models.LimitCheck {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastToken, m.lastAmount, m.lastAddress = token, amountUSD, address
	return m.limitCheck
}

func (m *MockEngine) AdjustPositionSize(_ context.Context, token string, requested float64, address string) models.SizeAdjustment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastToken, m.lastAmount, m.lastAddress = token, requested, address
	return m.adjustment
}

func (m *MockEngine) CalculateExposures(_ context.Context, address string) []models.PositionExposure {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAddress = address
	return m.exposures
}

func (m *MockEngine) GetViolations(_ context.Context, address string) []models.LimitViolation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAddress = address
	return m.violations
}

func (m *MockEngine) RecordTrade(_ context.Context, token string, amountUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.trades++
	m.lastToken, m.lastAmount = token, amountUSD
	return nil
}

func (m *MockEngine) ValidateSlippage(tolerance, expectedOut, actualOut float64) models.SlippageValidation {
	s := (expectedOut - actualOut) / expectedOut
	return models.SlippageValidation{Valid: s <= tolerance, ActualSlippage: s}
}

func (m *MockEngine) RecordExecution(_, _ string, _, expectedOut, actualOut float64) float64 {
	m.mu.Lock()
	m.executions++
	m.mu.Unlock()
	return (expectedOut - actualOut) / expectedOut
}

func (m *MockEngine) CalculateDynamicSlippage(base float64, mc models.MarketConditions) models.DynamicSlippage {
	return models.DynamicSlippage{BaseTolerance: base, AdjustedTolerance: base * (1 + mc.Volatility), Reasons: []string{}}
}

func (m *MockEngine) RecommendTradeSplitting(amount float64, mc models.MarketConditions) models.SplitRecommendation {
	if mc.PoolLiquidity == 0 {
		return models.SplitRecommendation{Chunks: 1, ChunkSize: amount, Reason: "pool liquidity unknown"}
	}
	return models.SplitRecommendation{ShouldSplit: true, Chunks: 2, ChunkSize: amount / 2, PriceImpact: amount / mc.PoolLiquidity}
}

func (m *MockEngine) GetSlippageAlerts() []models.SlippageAlert { return m.alerts }

func (m *MockEngine) GetEmergencyStatus() models.EmergencyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockEngine) ActivateEmergencyStop(_ context.Context, t models.EmergencyType, reason string, autoLiquidate bool) models.ActivationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastType, m.lastAutoLiq = t, autoLiquidate
	if m.status.Enabled {
		return models.ActivationResult{AlreadyActive: true, State: m.status.State}
	}
	m.activations++
	m.status.Enabled = true
	m.status.State = models.EmergencyState{IsEmergencyActive: true, EmergencyType: t, TriggerReason: reason, Phase: models.PhaseActive}
	return models.ActivationResult{Activated: true, State: m.status.State}
}

func (m *MockEngine) DeactivateEmergencyStop(reason string) models.DeactivationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.Enabled {
		return models.DeactivationResult{Success: false, Error: risk.ErrNotActive.Error(), State: m.status.State}
	}
	m.status.Enabled = false
	m.status.State.IsEmergencyActive = false
	m.status.State.Phase = models.PhaseRecovery
	return models.DeactivationResult{Success: true, State: m.status.State}
}

func (m *MockEngine) SetManualOverride(enabled bool, reason string) error {
	if m.overrideErr != nil {
		return m.overrideErr
	}
	if enabled && reason == "" {
		return risk.ErrReasonRequired
	}
	m.mu.Lock()
	m.status.Enabled = enabled
	m.mu.Unlock()
	return nil
}

func (m *MockEngine) ExitRecovery() error {
	if m.recoveryErr != nil {
		return m.recoveryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State.Phase != models.PhaseRecovery {
		return risk.ErrNotInRecovery
	}
	m.status.State.Phase = models.PhaseInactive
	return nil
}

func (m *MockEngine) GetEmergencyHistory(limit int) []models.EmergencyHistoryEntry {
	if limit < len(m.history) {
		return m.history[:limit]
	}
	return m.history
}

// ============ MockHistoryStore ============

type MockHistoryStore struct {
	entries []models.EmergencyHistoryEntry
	err     error
	limit   int
}

func (m *MockHistoryStore) GetEmergencyHistory(limit int) ([]models.EmergencyHistoryEntry, error) {
	m.limit = limit
	return m.entries, m.err
}

// ============ MockBroadcaster ============

type MockBroadcaster struct {
	mu       sync.Mutex
	statuses []models.EmergencyStatus
}

func (m *MockBroadcaster) BroadcastEmergencyStatus(status models.EmergencyStatus) {
	m.mu.Lock()
	m.statuses = append(m.statuses, status)
	m.mu.Unlock()
}

func (m *MockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statuses)
}

// ============ MockNotificationService ============

// MockNotificationService реализует NotificationServiceInterface в памяти
type MockNotificationService struct {
	mu            sync.RWMutex
	notifications []*models.Notification
	nextID        int

	getErr    error
	clearErr  error
	lastTypes []string
	lastLimit int
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{nextID: 1}
}

func (m *MockNotificationService) AddNotification(notifType, severity, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, &models.Notification{
		ID:        m.nextID,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  severity,
		Message:   message,
	})
	m.nextID++
}

func (m *MockNotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes, m.lastLimit = types, limit
	if m.getErr != nil {
		return nil, m.getErr
	}

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	result := make([]*models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if len(allowed) > 0 && !allowed[n.Type] {
			continue
		}
		result = append(result, n)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MockNotificationService) ClearNotifications() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationService) GetNotificationCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.notifications), nil
}

// ============ MockSettingsService ============

// MockSettingsService применяет обновления с валидацией risk
type MockSettingsService struct {
	mu         sync.Mutex
	settings   models.RiskSettings
	persistErr error
}

func NewMockSettingsService() *MockSettingsService {
	return &MockSettingsService{settings: models.RiskSettings{
		ID:          1,
		TradingMode: models.ModeModerate,
		Limits:      models.DefaultPositionLimits(),
		Triggers:    models.DefaultEmergencyTriggers(),
	}}
}

func (m *MockSettingsService) GetSettings() models.RiskSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *MockSettingsService) persisted() error {
	if m.persistErr != nil {
		return errors.Join(service.ErrSettingsNotPersisted, m.persistErr)
	}
	return nil
}

func (m *MockSettingsService) UpdateLimits(update models.LimitsUpdate) (models.PositionLimitsConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := update.Apply(m.settings.Limits)
	if err := risk.ValidateLimits(next); err != nil {
		return m.settings.Limits, err
	}
	m.settings.Limits = next
	return next, m.persisted()
}

func (m *MockSettingsService) UpdateTriggers(update models.TriggersUpdate) (models.EmergencyTriggers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := update.Apply(m.settings.Triggers)
	if err := risk.ValidateTriggers(next); err != nil {
		return m.settings.Triggers, err
	}
	m.settings.Triggers = next
	return next, m.persisted()
}

func (m *MockSettingsService) SetTradingMode(mode models.TradingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.TradingMode = mode
	return m.persisted()
}
