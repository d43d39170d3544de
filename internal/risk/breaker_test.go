package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"riskguard/internal/models"
)

type breakerFixture struct {
	breaker *Breaker
	notifs  chan *models.Notification
	history chan models.EmergencyHistoryEntry
	clock   *fakeClock
	halted  []bool
	mu      sync.Mutex
}

func newBreakerFixture(t *testing.T) *breakerFixture {
	t.Helper()
	f := &breakerFixture{
		notifs:  make(chan *models.Notification, 64),
		history: make(chan models.EmergencyHistoryEntry, 64),
		clock:   newFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)),
	}
	f.breaker = NewBreaker(BreakerOptions{
		Triggers:         models.DefaultEmergencyTriggers(),
		NotificationChan: f.notifs,
		HistoryChan:      f.history,
		OnStateChange: func(halted bool) {
			f.mu.Lock()
			f.halted = append(f.halted, halted)
			f.mu.Unlock()
		},
	})
	f.breaker.now = f.clock.Now
	return f
}

// ============================================================
// Активация
// ============================================================

func TestActivateEmergencyStop(t *testing.T) {
	f := newBreakerFixture(t)

	res := f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "operator request", false)
	if !res.Activated || res.AlreadyActive {
		t.Fatalf("ожидалась активация, получено %+v", res)
	}
	if !f.breaker.IsEmergencyStopEnabled() {
		t.Error("остановка должна быть активна")
	}

	state := res.State
	if state.Phase != models.PhaseActive || state.EmergencyType != models.EmergencyManual || state.TriggerReason != "operator request" {
		t.Errorf("неверное состояние: %+v", state)
	}
	if !state.SafeMode {
		t.Error("SAFE_MODE должен быть включён")
	}

	wantActions := []models.EmergencyActionType{
		models.ActionTypeStopTrading,
		models.ActionTypeAlertAdmin,
		models.ActionTypeSafeMode,
	}
	if len(state.ActionsExecuted) != len(wantActions) {
		t.Fatalf("действий %d, ожидалось %d: %+v", len(state.ActionsExecuted), len(wantActions), state.ActionsExecuted)
	}
	for i, a := range state.ActionsExecuted {
		if a.Type != wantActions[i] || !a.Success {
			t.Errorf("действие %d: %s success=%v, ожидалось %s", i, a.Type, a.Success, wantActions[i])
		}
	}

	notifs := drain(f.notifs)
	if len(notifs) != 1 || notifs[0].Type != models.NotificationTypeEmergency {
		t.Errorf("ожидалось одно уведомление EMERGENCY, получено %d", len(notifs))
	}
	if len(f.history) != 1 {
		t.Errorf("ожидалась одна запись журнала, получено %d", len(f.history))
	}
	if len(f.halted) != 1 || !f.halted[0] {
		t.Errorf("OnStateChange(true) должен быть вызван один раз: %v", f.halted)
	}
}

func TestActivateEmergencyStop_AlertFailureDoesNotUnwind(t *testing.T) {
	f := newBreakerFixture(t)
	full := make(chan *models.Notification) // без буфера: постановка не пройдёт
	f.breaker.notificationChan = full

	res := f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "test", false)
	if !res.Activated || !res.State.IsEmergencyActive {
		t.Fatal("сбой уведомления не должен отменять остановку")
	}
	alert := res.State.ActionsExecuted[1]
	if alert.Type != models.ActionTypeAlertAdmin || alert.Success || alert.Error == "" {
		t.Errorf("ALERT_ADMIN должен быть записан как неуспешный: %+v", alert)
	}
	if last := res.State.ActionsExecuted[len(res.State.ActionsExecuted)-1]; last.Type != models.ActionTypeSafeMode {
		t.Errorf("SAFE_MODE должен выполниться после сбоя уведомления, последнее действие %s", last.Type)
	}
}

func TestActivateEmergencyStop_FirstWins(t *testing.T) {
	f := newBreakerFixture(t)
	ctx := context.Background()

	first := f.breaker.ActivateEmergencyStop(ctx, models.EmergencyVolatility, "first", false)
	second := f.breaker.ActivateEmergencyStop(ctx, models.EmergencyDailyLoss, "second", false)

	if !first.Activated {
		t.Fatal("первая активация должна пройти")
	}
	if second.Activated || !second.AlreadyActive {
		t.Errorf("повторная активация должна быть no-op: %+v", second)
	}
	state := f.breaker.State()
	if state.EmergencyType != models.EmergencyVolatility || state.TriggerReason != "first" {
		t.Errorf("должны сохраниться тип и причина первой активации: %s %q", state.EmergencyType, state.TriggerReason)
	}
}

// Деактивация, пришедшая пока колбэк активации ещё выполняется,
// не должна оставлять аварийный допуск slippage включенным.
func TestStateChange_DeactivateDuringActivationCallback(t *testing.T) {
	guard := NewSlippageGuard(models.DefaultSlippageConfig(), nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls []bool
		once  sync.Once
	)
	b := NewBreaker(BreakerOptions{
		Triggers: models.DefaultEmergencyTriggers(),
		OnStateChange: func(halted bool) {
			if halted {
				once.Do(func() {
					close(entered)
					<-release
				})
			}
			guard.SetEmergencyLimits(halted)
			mu.Lock()
			calls = append(calls, halted)
			mu.Unlock()
		},
	})

	activated := make(chan models.ActivationResult, 1)
	go func() {
		activated <- b.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "operator", false)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("колбэк активации не вызван")
	}

	deactivated := make(chan models.DeactivationResult, 1)
	go func() { deactivated <- b.DeactivateEmergencyStop("operator") }()
	select {
	case res := <-deactivated:
		if !res.Success {
			t.Fatalf("деактивация: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("деактивация не должна ждать чужой колбэк")
	}

	close(release)
	select {
	case <-activated:
	case <-time.After(2 * time.Second):
		t.Fatal("активация не завершилась")
	}

	if b.IsEmergencyStopEnabled() {
		t.Fatal("breaker должен быть неактивен")
	}
	if guard.EmergencyLimitsActive() {
		t.Error("аварийный допуск slippage остался включенным при неактивном breaker")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 || calls[len(calls)-1] {
		t.Errorf("последний вызов OnStateChange должен быть false: %v", calls)
	}
}

// TestActivateEmergencyStop_Concurrent - из N конкурентных активаций побеждает ровно одна
func TestActivateEmergencyStop_Concurrent(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newBreakerFixture(t)
		types := []models.EmergencyType{
			models.EmergencyPortfolioLoss, models.EmergencyDailyLoss, models.EmergencyVolatility,
			models.EmergencySystemError, models.EmergencyAPIFailure, models.EmergencyManual,
		}

		var wg sync.WaitGroup
		results := make([]models.ActivationResult, len(types))
		start := make(chan struct{})
		for i, typ := range types {
			wg.Add(1)
			go func(i int, typ models.EmergencyType) {
				defer wg.Done()
				<-start
				results[i] = f.breaker.ActivateEmergencyStop(context.Background(), typ, fmt.Sprintf("reason-%d", i), false)
			}(i, typ)
		}
		close(start)
		wg.Wait()

		winners := 0
		var winner models.EmergencyType
		var winnerReason string
		for i, r := range results {
			if r.Activated {
				winners++
				winner = types[i]
				winnerReason = fmt.Sprintf("reason-%d", i)
			}
		}
		if winners != 1 {
			t.Fatalf("раунд %d: победителей %d, ожидался 1", round, winners)
		}
		state := f.breaker.State()
		if state.EmergencyType != winner || state.TriggerReason != winnerReason {
			t.Fatalf("раунд %d: активное состояние %s/%q не совпадает с победителем %s/%q",
				round, state.EmergencyType, state.TriggerReason, winner, winnerReason)
		}
		activations := 0
		for _, e := range f.breaker.GetHistory(0) {
			if e.Action == models.HistoryActivated {
				activations++
			}
		}
		if activations != 1 {
			t.Fatalf("раунд %d: записей ACTIVATED %d, ожидалась 1", round, activations)
		}
	}
}

func TestActivateEmergencyStop_AutoLiquidate(t *testing.T) {
	f := newBreakerFixture(t)
	market := newFakeMarket()
	balances, prices := diversified()
	market.set(balances, prices)
	exec := newFakeExec()
	f.breaker.liquidator = NewLiquidator(market, exec, "USDC", time.Second, nil)
	f.breaker.addressFn = func() string { return testAddress }

	res := f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyPortfolioLoss, "loss", true)
	if res.Liquidation == nil || !res.Liquidation.Success {
		t.Fatalf("ожидалась успешная ликвидация: %+v", res.Liquidation)
	}
	if res.State.TotalPositionsLiquidated != 4 {
		t.Errorf("ликвидировано %d позиций, ожидалось 4 (USDC не продаётся)", res.State.TotalPositionsLiquidated)
	}
	if !approx(res.State.TotalValueLiquidated, 800) {
		t.Errorf("TotalValueLiquidated = %v, ожидалось 800", res.State.TotalValueLiquidated)
	}

	var sawLiquidation bool
	for _, a := range res.State.ActionsExecuted {
		if a.Type == models.ActionTypeLiquidatePositions {
			sawLiquidation = a.Success
		}
	}
	if !sawLiquidation {
		t.Error("ожидалось успешное действие LIQUIDATE_POSITIONS")
	}
}

func TestActivateEmergencyStop_LiquidationWithoutAddress(t *testing.T) {
	f := newBreakerFixture(t)

	res := f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "x", true)
	if !res.State.IsEmergencyActive {
		t.Fatal("остановка должна быть активна при сбое ликвидации")
	}
	for _, a := range res.State.ActionsExecuted {
		if a.Type == models.ActionTypeLiquidatePositions && a.Success {
			t.Error("ликвидация без адреса не может быть успешной")
		}
	}
}

// ============================================================
// Условия срабатывания
// ============================================================

func TestCheckEmergencyConditions_PortfolioLoss(t *testing.T) {
	f := newBreakerFixture(t)
	trig := f.breaker.Triggers()
	trig.PortfolioLossPercent = 0.20
	f.breaker.triggers = trig

	check := f.breaker.CheckEmergencyConditions(models.PortfolioData{
		BaselineValue: 1000,
		TotalValue:    780,
		TotalPnL:      -220,
	})
	if !check.ShouldTrigger || check.EmergencyType != models.EmergencyPortfolioLoss || check.Severity != models.RiskLevelCritical {
		t.Errorf("ожидался PORTFOLIO_LOSS critical, получено %+v", check)
	}
}

func TestCheckEmergencyConditions_Order(t *testing.T) {
	tests := []struct {
		name     string
		data     models.PortfolioData
		counters models.EmergencyCounters
		want     models.EmergencyType
		severity models.RiskLevel
	}{
		{
			name: "потеря портфеля важнее дневной",
			data: models.PortfolioData{BaselineValue: 1000, TotalPnL: -300, DailyStartValue: 1000, DailyPnL: -300},
			want: models.EmergencyPortfolioLoss, severity: models.RiskLevelCritical,
		},
		{
			name: "дневной убыток",
			data: models.PortfolioData{BaselineValue: 1000, TotalPnL: -100, DailyStartValue: 900, DailyPnL: -100},
			want: models.EmergencyDailyLoss, severity: models.RiskLevelCritical,
		},
		{
			name: "волатильность",
			data: models.PortfolioData{VolatilityScore: 60},
			want: models.EmergencyVolatility, severity: models.RiskLevelHigh,
		},
		{
			name:     "системные ошибки",
			counters: models.EmergencyCounters{SystemErrors: 5},
			want:     models.EmergencySystemError, severity: models.RiskLevelHigh,
		},
		{
			name:     "сбои API",
			counters: models.EmergencyCounters{APIFailures: 10},
			want:     models.EmergencyAPIFailure, severity: models.RiskLevelHigh,
		},
		{
			name: "падение цены",
			data: models.PortfolioData{PriceDrop: 0.2},
			want: models.EmergencyPriceDrop, severity: models.RiskLevelHigh,
		},
		{
			name: "ликвидность",
			data: models.PortfolioData{LiquidityScore: 10, PositionCount: 3},
			want: models.EmergencyLiquidity, severity: models.RiskLevelHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBreakerFixture(t)
			f.breaker.counters = tt.counters
			check := f.breaker.CheckEmergencyConditions(tt.data)
			if !check.ShouldTrigger || check.EmergencyType != tt.want || check.Severity != tt.severity {
				t.Errorf("получено %+v, ожидалось %s/%s", check, tt.want, tt.severity)
			}
			if check.Reason == "" {
				t.Error("ожидалась причина")
			}
		})
	}
}

func TestCheckEmergencyConditions_NoTrigger(t *testing.T) {
	f := newBreakerFixture(t)
	check := f.breaker.CheckEmergencyConditions(models.PortfolioData{
		BaselineValue:   1000,
		TotalValue:      1010,
		TotalPnL:        10,
		DailyStartValue: 1000,
		DailyPnL:        10,
		VolatilityScore: 2,
		LiquidityScore:  80,
		PositionCount:   5,
	})
	if check.ShouldTrigger || check.Severity != models.RiskLevelLow {
		t.Errorf("здоровый портфель не должен вызывать срабатывание: %+v", check)
	}

	// одна позиция всегда даёт liquidity score 0
	check = f.breaker.CheckEmergencyConditions(models.PortfolioData{LiquidityScore: 0, PositionCount: 1})
	if check.ShouldTrigger {
		t.Errorf("триггер ликвидности не должен срабатывать для одной позиции: %+v", check)
	}
}

// ============================================================
// Счётчики, деактивация, override
// ============================================================

func TestRecordSystemError_TripsAtThreshold(t *testing.T) {
	f := newBreakerFixture(t)
	ctx := context.Background()
	threshold := models.DefaultEmergencyTriggers().SystemErrorCount

	for i := 0; i < threshold-1; i++ {
		f.breaker.RecordSystemError(ctx, errors.New("boom"))
	}
	if f.breaker.IsEmergencyStopEnabled() {
		t.Fatal("остановка не должна срабатывать до порога")
	}

	f.breaker.RecordSystemError(ctx, errors.New("boom"))
	state := f.breaker.State()
	if !state.IsEmergencyActive || state.EmergencyType != models.EmergencySystemError {
		t.Errorf("ожидалась активация SYSTEM_ERROR, состояние %+v", state)
	}

	// дальнейшие ошибки не создают новых активаций
	f.breaker.RecordSystemError(ctx, errors.New("boom"))
	f.breaker.RecordApiFailure(ctx, errors.New("timeout"))
	if got := f.breaker.State().TriggerReason; got != state.TriggerReason {
		t.Errorf("причина изменилась: %q", got)
	}
}

func TestRecordSuccess_ResetsOnlyConsecutive(t *testing.T) {
	f := newBreakerFixture(t)
	ctx := context.Background()

	f.breaker.RecordApiFailure(ctx, errors.New("a"))
	f.breaker.RecordApiFailure(ctx, errors.New("b"))
	f.breaker.RecordSuccess()

	c := f.breaker.Counters()
	if c.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, ожидалось 0", c.ConsecutiveFailures)
	}
	if c.APIFailures != 2 {
		t.Errorf("APIFailures = %d, накопленный счётчик не должен сбрасываться", c.APIFailures)
	}
}

// TestDeactivateThenReactivate - после деактивации порог нужно набрать заново
func TestDeactivateThenReactivate(t *testing.T) {
	f := newBreakerFixture(t)
	ctx := context.Background()
	threshold := models.DefaultEmergencyTriggers().SystemErrorCount

	for i := 0; i < threshold; i++ {
		f.breaker.RecordSystemError(ctx, errors.New("boom"))
	}
	if !f.breaker.IsEmergencyStopEnabled() {
		t.Fatal("ожидалась активация")
	}

	res := f.breaker.DeactivateEmergencyStop("fixed by operator")
	if !res.Success {
		t.Fatalf("деактивация не удалась: %s", res.Error)
	}
	if c := f.breaker.Counters(); c != (models.EmergencyCounters{}) {
		t.Errorf("счётчики должны быть сброшены: %+v", c)
	}
	if res.State.Phase != models.PhaseRecovery || !res.State.RecoveryMode {
		t.Errorf("ожидалась фаза RECOVERY: %+v", res.State)
	}
	if f.breaker.IsEmergencyStopEnabled() {
		t.Error("RECOVERY не блокирует торговлю")
	}

	for i := 0; i < threshold-1; i++ {
		f.breaker.RecordSystemError(ctx, errors.New("boom"))
	}
	if f.breaker.IsEmergencyStopEnabled() {
		t.Fatal("после сброса порог должен набираться заново")
	}
	f.breaker.RecordSystemError(ctx, errors.New("boom"))
	if !f.breaker.IsEmergencyStopEnabled() {
		t.Error("ожидалась повторная активация на пороге")
	}
}

func TestDeactivateEmergencyStop_Errors(t *testing.T) {
	f := newBreakerFixture(t)

	if res := f.breaker.DeactivateEmergencyStop("no-op"); res.Success || res.Error != ErrNotActive.Error() {
		t.Errorf("деактивация без активной остановки: %+v", res)
	}

	f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "x", false)
	if res := f.breaker.DeactivateEmergencyStop(""); res.Success || res.Error != ErrReasonRequired.Error() {
		t.Errorf("деактивация без причины должна быть отклонена: %+v", res)
	}
	if !f.breaker.IsEmergencyStopEnabled() {
		t.Error("отклонённая деактивация не должна снимать остановку")
	}
}

func TestDeactivate_SendsRecoveryNotification(t *testing.T) {
	f := newBreakerFixture(t)
	f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "x", false)
	drain(f.notifs)

	f.breaker.DeactivateEmergencyStop("resolved")
	notifs := drain(f.notifs)
	if len(notifs) != 1 || notifs[0].Type != models.NotificationTypeRecovery {
		t.Errorf("ожидалось уведомление RECOVERY, получено %d", len(notifs))
	}
	if last := f.halted[len(f.halted)-1]; last {
		t.Error("последний OnStateChange должен быть false")
	}
}

func TestRecoveryExpires(t *testing.T) {
	f := newBreakerFixture(t)
	f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "x", false)
	f.breaker.DeactivateEmergencyStop("ok")

	f.clock.Advance(defaultRecoveryPeriod - time.Minute)
	if f.breaker.State().Phase != models.PhaseRecovery {
		t.Fatal("до конца периода фаза RECOVERY")
	}
	f.clock.Advance(2 * time.Minute)
	state := f.breaker.State()
	if state.Phase != models.PhaseInactive || state.RecoveryMode {
		t.Errorf("после периода наблюдения ожидалась фаза INACTIVE: %+v", state)
	}
}

func TestExitRecovery(t *testing.T) {
	f := newBreakerFixture(t)
	if err := f.breaker.ExitRecovery(); !errors.Is(err, ErrNotInRecovery) {
		t.Errorf("ожидалась ErrNotInRecovery, получено %v", err)
	}

	f.breaker.ActivateEmergencyStop(context.Background(), models.EmergencyManual, "x", false)
	f.breaker.DeactivateEmergencyStop("ok")
	if err := f.breaker.ExitRecovery(); err != nil {
		t.Fatalf("ExitRecovery: %v", err)
	}
	if f.breaker.State().Phase != models.PhaseInactive {
		t.Error("ожидалась фаза INACTIVE")
	}
}

func TestManualOverride(t *testing.T) {
	f := newBreakerFixture(t)

	if err := f.breaker.SetManualOverride(true, ""); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("override без причины: %v", err)
	}
	if err := f.breaker.SetManualOverride(true, "maintenance"); err != nil {
		t.Fatal(err)
	}
	if !f.breaker.IsEmergencyStopEnabled() {
		t.Error("override должен останавливать торговлю")
	}
	status := f.breaker.GetEmergencyStatus()
	if !status.Enabled || !status.ManualOverride || status.OverrideReason != "maintenance" {
		t.Errorf("неверный статус: %+v", status)
	}
	if status.State.IsEmergencyActive {
		t.Error("override не активирует аварийное состояние")
	}

	res := f.breaker.DeactivateEmergencyStop("done")
	if !res.Success {
		t.Fatalf("деактивация должна снимать override: %s", res.Error)
	}
	if f.breaker.IsEmergencyStopEnabled() {
		t.Error("override должен быть снят")
	}
}

func TestUpdateTriggers(t *testing.T) {
	f := newBreakerFixture(t)

	loss := 0.3
	got, err := f.breaker.UpdateTriggers(models.TriggersUpdate{PortfolioLossPercent: &loss})
	if err != nil {
		t.Fatal(err)
	}
	if got.PortfolioLossPercent != 0.3 || got.DailyLossPercent != models.DefaultEmergencyTriggers().DailyLossPercent {
		t.Errorf("неверные триггеры: %+v", got)
	}

	bad := -1
	before := f.breaker.Triggers()
	if _, err := f.breaker.UpdateTriggers(models.TriggersUpdate{PortfolioLossPercent: &loss, SystemErrorCount: &bad}); !errors.Is(err, ErrInvalidTriggers) {
		t.Errorf("ожидалась ErrInvalidTriggers, получено %v", err)
	}
	if f.breaker.Triggers() != before {
		t.Error("неверное обновление не должно применяться частично")
	}
}

func TestGetHistory(t *testing.T) {
	f := newBreakerFixture(t)
	ctx := context.Background()

	f.breaker.ActivateEmergencyStop(ctx, models.EmergencyManual, "one", false)
	f.clock.Advance(time.Second)
	f.breaker.DeactivateEmergencyStop("two")

	all := f.breaker.GetHistory(0)
	if len(all) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(all))
	}
	if all[0].Action != models.HistoryDeactivated || all[1].Action != models.HistoryActivated {
		t.Errorf("новые записи должны идти первыми: %s, %s", all[0].Action, all[1].Action)
	}
	if got := f.breaker.GetHistory(1); len(got) != 1 || got[0].Reason != "two" {
		t.Errorf("limit=1: %+v", got)
	}
}
