package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

const (
	defaultRecoveryPeriod = time.Hour
	maxHistoryEntries     = 1000
)

// ErrNotInRecovery - ExitRecovery вызван вне фазы RECOVERY
var ErrNotInRecovery = errors.New("emergency breaker is not in recovery")

// BreakerOptions - зависимости breaker
type BreakerOptions struct {
	Triggers         models.EmergencyTriggers
	RecoveryPeriod   time.Duration
	Liquidator       *Liquidator
	NotificationChan chan<- *models.Notification
	HistoryChan      chan<- models.EmergencyHistoryEntry
	// AddressFn возвращает адрес портфеля для ликвидации
	AddressFn func() string
	// OnStateChange получает актуальный флаг остановки после каждого изменения.
	// Вызовы не пересекаются; последний вызов видит последнее состояние.
	OnStateChange func(halted bool)
	Logger        *zap.Logger
}

// Breaker - Emergency Circuit Breaker
//
// Состояние, триггеры, счётчики, override и журнал защищены одним мьютексом.
// Проверка "уже активна" и установка флага выполняются под ним атомарно,
// поэтому из конкурентных активаций побеждает первая зафиксированная.
type Breaker struct {
	logger           *zap.Logger
	liquidator       *Liquidator
	notificationChan chan<- *models.Notification
	historyChan      chan<- models.EmergencyHistoryEntry
	addressFn        func() string
	onStateChange    func(halted bool)
	recoveryPeriod   time.Duration
	now              func() time.Time

	mu             sync.Mutex
	state          models.EmergencyState
	triggers       models.EmergencyTriggers
	counters       models.EmergencyCounters
	override       bool
	overrideReason string
	history        []models.EmergencyHistoryEntry
	epoch          uint64 // номер активации, отсекает запоздавшие действия

	// доставка OnStateChange: один доставщик, остальные только ставят pending
	notifyMu      sync.Mutex
	notifying     bool
	notifyPending bool
}

// NewBreaker создаёт breaker в состоянии INACTIVE
func NewBreaker(opts BreakerOptions) *Breaker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	period := opts.RecoveryPeriod
	if period <= 0 {
		period = defaultRecoveryPeriod
	}
	return &Breaker{
		logger:           logger.Named("breaker"),
		liquidator:       opts.Liquidator,
		notificationChan: opts.NotificationChan,
		historyChan:      opts.HistoryChan,
		addressFn:        opts.AddressFn,
		onStateChange:    opts.OnStateChange,
		recoveryPeriod:   period,
		now:              time.Now,
		state: models.EmergencyState{
			Phase:           models.PhaseInactive,
			ActionsExecuted: []models.EmergencyAction{},
		},
		triggers: opts.Triggers,
	}
}

// IsEmergencyStopEnabled - true при активной остановке или ручном override
func (b *Breaker) IsEmergencyStopEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExitRecoveryLocked()
	return b.override || b.state.IsEmergencyActive
}

// State возвращает копию состояния
func (b *Breaker) State() models.EmergencyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExitRecoveryLocked()
	return b.state.Clone()
}

// ============================================================
// Активация
// ============================================================

// ActivateEmergencyStop останавливает торговлю
//
// Если остановка уже активна, состояние не меняется и возвращается
// AlreadyActive. Иначе по порядку выполняются STOP_TRADING, ALERT_ADMIN,
// LIQUIDATE_POSITIONS (при autoLiquidate) и SAFE_MODE. Сбой шага
// записывается в действие и не отменяет остановку.
func (b *Breaker) ActivateEmergencyStop(ctx context.Context, emergencyType models.EmergencyType, reason string, autoLiquidate bool) models.ActivationResult {
	if reason == "" {
		reason = string(emergencyType)
	}

	b.mu.Lock()
	if b.state.IsEmergencyActive {
		current := b.state.Clone()
		b.mu.Unlock()
		b.logger.Info("emergency stop already active, ignoring activation",
			zap.String("requested_type", string(emergencyType)),
			zap.String("active_type", string(current.EmergencyType)))
		return models.ActivationResult{AlreadyActive: true, State: current}
	}

	now := b.now()
	b.epoch++
	epoch := b.epoch
	b.state = models.EmergencyState{
		IsEmergencyActive: true,
		Phase:             models.PhaseActive,
		EmergencyType:     emergencyType,
		TriggerTime:       &now,
		TriggerReason:     reason,
		ActionsExecuted: []models.EmergencyAction{{
			ID:        uuid.NewString(),
			Type:      models.ActionTypeStopTrading,
			Timestamp: now,
			Success:   true,
		}},
	}
	entry := b.appendHistoryLocked(models.HistoryActivated, emergencyType, reason, true)
	b.mu.Unlock()

	SetEmergencyActive(true)
	EmergencyActivations.WithLabelValues(string(emergencyType)).Inc()
	tryEnqueueHistory(b.historyChan, entry)
	b.logger.Error("EMERGENCY STOP ACTIVATED",
		utils.EmergencyType(string(emergencyType)),
		utils.Severity(models.SeverityCritical),
		zap.String("reason", reason),
		zap.Bool("auto_liquidate", autoLiquidate))

	b.notifyStateChange()

	// ALERT_ADMIN
	alertAction := models.EmergencyAction{ID: uuid.NewString(), Type: models.ActionTypeAlertAdmin, Timestamp: b.now()}
	if tryEnqueueNotification(b.notificationChan, &models.Notification{
		Timestamp: now,
		Type:      models.NotificationTypeEmergency,
		Severity:  models.SeverityCritical,
		Message:   fmt.Sprintf("Emergency stop activated (%s): %s", emergencyType, reason),
		Meta: map[string]interface{}{
			"emergency_type": string(emergencyType),
			"auto_liquidate": autoLiquidate,
		},
	}) {
		alertAction.Success = true
	} else {
		alertAction.Error = "admin alert could not be queued"
	}
	b.recordAction(epoch, alertAction)

	// LIQUIDATE_POSITIONS
	var liquidation *models.LiquidationResult
	if autoLiquidate {
		liquidation = b.EmergencyLiquidateAllPositions(ctx)
		action := models.EmergencyAction{
			ID:        uuid.NewString(),
			Type:      models.ActionTypeLiquidatePositions,
			Timestamp: b.now(),
			Success:   liquidation.Success,
		}
		if !liquidation.Success {
			action.Error = "no positions liquidated"
			if len(liquidation.Errors) > 0 {
				action.Error = liquidation.Errors[0]
			}
		}
		b.recordAction(epoch, action)
	}

	// SAFE_MODE
	b.mu.Lock()
	if b.epoch == epoch && b.state.IsEmergencyActive {
		b.state.SafeMode = true
	}
	b.mu.Unlock()
	b.recordAction(epoch, models.EmergencyAction{
		ID:        uuid.NewString(),
		Type:      models.ActionTypeSafeMode,
		Timestamp: b.now(),
		Success:   true,
	})

	return models.ActivationResult{Activated: true, State: b.State(), Liquidation: liquidation}
}

// recordAction добавляет действие, если активация epoch ещё текущая
func (b *Breaker) recordAction(epoch uint64, action models.EmergencyAction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.epoch != epoch {
		return
	}
	b.state.ActionsExecuted = append(b.state.ActionsExecuted, action)
	if !action.Success {
		b.logger.Warn("emergency action failed", zap.String("action", string(action.Type)), zap.String("error", action.Error))
	}
}

// EmergencyLiquidateAllPositions ликвидирует все позиции отслеживаемого портфеля
func (b *Breaker) EmergencyLiquidateAllPositions(ctx context.Context) *models.LiquidationResult {
	address := ""
	if b.addressFn != nil {
		address = b.addressFn()
	}
	if address == "" || b.liquidator == nil {
		return &models.LiquidationResult{
			Steps:  []models.LiquidationStep{},
			Errors: []string{"no portfolio address to liquidate"},
		}
	}

	res := b.liquidator.LiquidateAll(ctx, address)

	b.mu.Lock()
	if b.state.IsEmergencyActive {
		b.state.TotalPositionsLiquidated += res.LiquidatedCount
		b.state.TotalValueLiquidated += res.LiquidatedValue
	}
	entry := b.appendHistoryLocked(models.HistoryLiquidation, b.state.EmergencyType,
		fmt.Sprintf("liquidated %d positions, %.2f USD, %d errors", res.LiquidatedCount, res.LiquidatedValue, len(res.Errors)),
		res.Success)
	b.mu.Unlock()

	tryEnqueueHistory(b.historyChan, entry)
	severity := models.SeverityWarn
	if !res.Success {
		severity = models.SeverityCritical
	}
	tryEnqueueNotification(b.notificationChan, &models.Notification{
		Timestamp: b.now(),
		Type:      models.NotificationTypeLiquidation,
		Severity:  severity,
		Address:   address,
		Message:   entry.Reason,
		Meta: map[string]interface{}{
			"liquidated_count": res.LiquidatedCount,
			"liquidated_value": res.LiquidatedValue,
			"errors":           res.Errors,
		},
	})
	return res
}

// ============================================================
// Условия срабатывания
// ============================================================

// CheckEmergencyConditions проверяет триггеры по порядку; срабатывает первый
func (b *Breaker) CheckEmergencyConditions(data models.PortfolioData) models.EmergencyCheck {
	b.mu.Lock()
	t := b.triggers
	c := b.counters
	b.mu.Unlock()

	trigger := func(kind models.EmergencyType, sev models.RiskLevel, format string, args ...interface{}) models.EmergencyCheck {
		return models.EmergencyCheck{
			ShouldTrigger: true,
			EmergencyType: kind,
			Reason:        fmt.Sprintf(format, args...),
			Severity:      sev,
		}
	}

	if data.BaselineValue > 0 && t.PortfolioLossPercent > 0 {
		loss := -data.TotalPnL / data.BaselineValue
		if loss >= t.PortfolioLossPercent {
			return trigger(models.EmergencyPortfolioLoss, models.RiskLevelCritical,
				"portfolio loss %.2f%% reached threshold %.2f%%", loss*100, t.PortfolioLossPercent*100)
		}
	}

	if data.DailyStartValue > 0 && t.DailyLossPercent > 0 {
		loss := -data.DailyPnL / data.DailyStartValue
		if loss >= t.DailyLossPercent {
			return trigger(models.EmergencyDailyLoss, models.RiskLevelCritical,
				"daily loss %.2f%% reached threshold %.2f%%", loss*100, t.DailyLossPercent*100)
		}
	}

	if t.VolatilityThreshold > 0 && data.VolatilityScore >= t.VolatilityThreshold {
		return trigger(models.EmergencyVolatility, models.RiskLevelHigh,
			"volatility score %.2f reached threshold %.2f", data.VolatilityScore, t.VolatilityThreshold)
	}

	if t.SystemErrorCount > 0 && c.SystemErrors >= t.SystemErrorCount {
		return trigger(models.EmergencySystemError, models.RiskLevelHigh,
			"%d system errors reached threshold %d", c.SystemErrors, t.SystemErrorCount)
	}

	if t.APIFailureCount > 0 && c.APIFailures >= t.APIFailureCount {
		return trigger(models.EmergencyAPIFailure, models.RiskLevelHigh,
			"%d API failures reached threshold %d", c.APIFailures, t.APIFailureCount)
	}

	if t.PriceDropThreshold > 0 && data.PriceDrop >= t.PriceDropThreshold {
		return trigger(models.EmergencyPriceDrop, models.RiskLevelHigh,
			"price drop %.2f%% reached threshold %.2f%%", data.PriceDrop*100, t.PriceDropThreshold*100)
	}

	// Для одной позиции liquidity score всегда 0, триггер имеет смысл от двух
	// позиций с ненулевой стоимостью
	if data.PositionCount >= 2 && data.LiquidityScore <= t.LiquidityThreshold {
		return trigger(models.EmergencyLiquidity, models.RiskLevelHigh,
			"liquidity score %.1f at or below threshold %.1f", data.LiquidityScore, t.LiquidityThreshold)
	}

	return models.EmergencyCheck{ShouldTrigger: false, Severity: models.RiskLevelLow}
}

// ============================================================
// Счётчики ошибок
// ============================================================

// RecordSystemError учитывает внутреннюю ошибку; при достижении порога активирует остановку
func (b *Breaker) RecordSystemError(ctx context.Context, err error) {
	b.recordFailure(ctx, err, models.EmergencySystemError)
}

// RecordApiFailure учитывает сбой внешнего API; при достижении порога активирует остановку
func (b *Breaker) RecordApiFailure(ctx context.Context, err error) {
	b.recordFailure(ctx, err, models.EmergencyAPIFailure)
}

func (b *Breaker) recordFailure(ctx context.Context, err error, kind models.EmergencyType) {
	b.mu.Lock()
	var count, threshold int
	switch kind {
	case models.EmergencySystemError:
		b.counters.SystemErrors++
		count, threshold = b.counters.SystemErrors, b.triggers.SystemErrorCount
	default:
		b.counters.APIFailures++
		count, threshold = b.counters.APIFailures, b.triggers.APIFailureCount
	}
	b.counters.ConsecutiveFailures++
	trip := threshold > 0 && count >= threshold && !b.state.IsEmergencyActive
	b.mu.Unlock()

	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	b.logger.Warn("failure recorded",
		zap.String("kind", string(kind)),
		zap.Int("count", count),
		zap.Int("threshold", threshold),
		zap.String("error", msg))

	if trip {
		b.ActivateEmergencyStop(ctx, kind,
			fmt.Sprintf("%d failures reached threshold %d, last: %s", count, threshold, msg), false)
	}
}

// RecordSuccess сбрасывает счётчик последовательных сбоев
//
// Накопленные счётчики сбрасываются только при деактивации.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.counters.ConsecutiveFailures = 0
	b.mu.Unlock()
}

// Counters возвращает текущие счётчики
func (b *Breaker) Counters() models.EmergencyCounters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// ============================================================
// Деактивация и восстановление
// ============================================================

// DeactivateEmergencyStop снимает остановку и переводит breaker в RECOVERY
//
// Только ручной вызов. Сбрасывает счётчики ошибок и ручной override.
func (b *Breaker) DeactivateEmergencyStop(reason string) models.DeactivationResult {
	if reason == "" {
		return models.DeactivationResult{Success: false, Error: ErrReasonRequired.Error(), State: b.State()}
	}

	b.mu.Lock()
	if !b.state.IsEmergencyActive && !b.override {
		state := b.state.Clone()
		b.mu.Unlock()
		return models.DeactivationResult{Success: false, Error: ErrNotActive.Error(), State: state}
	}

	now := b.now()
	if b.state.IsEmergencyActive && CanTransition(b.state.Phase, models.PhaseRecovery) {
		b.state.IsEmergencyActive = false
		b.state.Phase = models.PhaseRecovery
		b.state.RecoveryMode = true
		b.state.RecoveryStartedAt = &now
		b.state.SafeMode = false
	}
	b.counters = models.EmergencyCounters{}
	b.override = false
	b.overrideReason = ""
	entry := b.appendHistoryLocked(models.HistoryDeactivated, b.state.EmergencyType, reason, true)
	state := b.state.Clone()
	b.mu.Unlock()

	SetEmergencyActive(false)
	tryEnqueueHistory(b.historyChan, entry)
	tryEnqueueNotification(b.notificationChan, &models.Notification{
		Timestamp: now,
		Type:      models.NotificationTypeRecovery,
		Severity:  models.SeverityInfo,
		Message:   fmt.Sprintf("Emergency stop deactivated: %s", reason),
		Meta:      map[string]interface{}{"phase": string(state.Phase)},
	})
	b.logger.Warn("emergency stop deactivated", zap.String("reason", reason), utils.State(string(state.Phase)))

	b.notifyStateChange()
	return models.DeactivationResult{Success: true, State: state}
}

// notifyStateChange передаёт в OnStateChange текущий флаг остановки
//
// Флаг читается заново на каждой итерации, поэтому изменение, случившееся
// пока колбэк выполнялся, доставляется тем же доставщиком, а не теряется.
// Вызывающий не ждёт чужой колбэк.
func (b *Breaker) notifyStateChange() {
	if b.onStateChange == nil {
		return
	}
	b.notifyMu.Lock()
	b.notifyPending = true
	if b.notifying {
		b.notifyMu.Unlock()
		return
	}
	b.notifying = true
	for b.notifyPending {
		b.notifyPending = false
		b.notifyMu.Unlock()
		b.onStateChange(b.IsEmergencyStopEnabled())
		b.notifyMu.Lock()
	}
	b.notifying = false
	b.notifyMu.Unlock()
}

// ExitRecovery досрочно завершает фазу RECOVERY
func (b *Breaker) ExitRecovery() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Phase != models.PhaseRecovery {
		return ErrNotInRecovery
	}
	b.exitRecoveryLocked()
	return nil
}

func (b *Breaker) maybeExitRecoveryLocked() {
	if b.state.Phase != models.PhaseRecovery || b.state.RecoveryStartedAt == nil {
		return
	}
	if b.now().Sub(*b.state.RecoveryStartedAt) >= b.recoveryPeriod {
		b.exitRecoveryLocked()
	}
}

func (b *Breaker) exitRecoveryLocked() {
	if !CanTransition(b.state.Phase, models.PhaseInactive) {
		return
	}
	b.state.Phase = models.PhaseInactive
	b.state.RecoveryMode = false
	entry := b.appendHistoryLocked(models.HistoryRecoveryExited, b.state.EmergencyType, "recovery period finished", true)
	tryEnqueueHistory(b.historyChan, entry)
}

// ============================================================
// Ручное управление
// ============================================================

// SetManualOverride включает или снимает ручную остановку торговли
func (b *Breaker) SetManualOverride(enabled bool, reason string) error {
	if enabled && reason == "" {
		return ErrReasonRequired
	}

	b.mu.Lock()
	if b.override == enabled {
		b.mu.Unlock()
		return nil
	}
	b.override = enabled
	action := models.HistoryOverrideClear
	if enabled {
		b.overrideReason = reason
		action = models.HistoryOverrideSet
	} else {
		b.overrideReason = ""
	}
	entry := b.appendHistoryLocked(action, models.EmergencyManual, reason, true)
	b.mu.Unlock()

	tryEnqueueHistory(b.historyChan, entry)
	if enabled {
		tryEnqueueNotification(b.notificationChan, &models.Notification{
			Timestamp: b.now(),
			Type:      models.NotificationTypeEmergency,
			Severity:  models.SeverityWarn,
			Message:   fmt.Sprintf("Manual trading override enabled: %s", reason),
		})
	}
	b.logger.Warn("manual override changed", zap.Bool("enabled", enabled), zap.String("reason", reason))

	b.notifyStateChange()
	return nil
}

// UpdateTriggers применяет частичное обновление триггеров
//
// Итоговые триггеры валидируются целиком; при ошибке ничего не меняется.
func (b *Breaker) UpdateTriggers(update models.TriggersUpdate) (models.EmergencyTriggers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := update.Apply(b.triggers)
	if err := ValidateTriggers(next); err != nil {
		return b.triggers, err
	}
	b.triggers = next
	b.logger.Info("emergency triggers updated", zap.Any("triggers", next))
	return next, nil
}

// Triggers возвращает текущие триггеры
func (b *Breaker) Triggers() models.EmergencyTriggers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggers
}

// GetEmergencyStatus возвращает полное состояние breaker
func (b *Breaker) GetEmergencyStatus() models.EmergencyStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExitRecoveryLocked()
	return models.EmergencyStatus{
		Enabled:        b.override || b.state.IsEmergencyActive,
		ManualOverride: b.override,
		OverrideReason: b.overrideReason,
		State:          b.state.Clone(),
		Triggers:       b.triggers,
		Counters:       b.counters,
	}
}

// ============================================================
// Журнал
// ============================================================

func (b *Breaker) appendHistoryLocked(action string, kind models.EmergencyType, reason string, success bool) models.EmergencyHistoryEntry {
	entry := models.EmergencyHistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: b.now(),
		Action:    action,
		Type:      kind,
		Reason:    reason,
		Success:   success,
	}
	b.history = append(b.history, entry)
	if over := len(b.history) - maxHistoryEntries; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	return entry
}

// GetHistory возвращает последние limit записей журнала, новые первыми
func (b *Breaker) GetHistory(limit int) []models.EmergencyHistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.EmergencyHistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, b.history[i])
	}
	return out
}
