package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// dailyLossWarningRatio - доля лимита дневного убытка, с которой выдаётся предупреждение
const dailyLossWarningRatio = 0.8

// concentrationCriticalRatio - превышение лимита концентрации, требующее REDUCE_EXPOSURE
const concentrationCriticalRatio = 1.5

// MonitorHooks - обратные вызовы монитора
//
// Все поля опциональны. Через них Engine связывает монитор с breaker
// и лимитером без взаимных ссылок между компонентами.
type MonitorHooks struct {
	OnFetchError   func(ctx context.Context, err error)
	OnFetchSuccess func()
	OnPanic        func(ctx context.Context, err error)
	IsHalted       func() bool
	DailyVolume    func(ctx context.Context) float64
	// OnCheck вызывается после каждой фоновой проверки
	OnCheck func(ctx context.Context, res *models.RiskCheckResult, data *models.PortfolioData)
}

// portfolioState - состояние одного отслеживаемого портфеля
type portfolioState struct {
	history    *snapshotHistory
	baseline   float64
	dailyStart float64
	dailyDate  string
	firstSeen  map[string]time.Time
}

// Monitor - Portfolio Risk Monitor
type Monitor struct {
	market           gateway.MarketState
	logger           *zap.Logger
	notificationChan chan<- *models.Notification
	hooks            MonitorHooks
	now              func() time.Time

	cfgMu sync.RWMutex
	cfg   models.RiskConfig

	mu         sync.Mutex
	portfolios map[string]*portfolioState

	runMu  sync.Mutex // сериализует Start/Stop
	cancel context.CancelFunc
	done   chan struct{}

	addrMu  sync.RWMutex
	address string
}

// NewMonitor создаёт монитор. Конфигурация должна быть провалидирована.
func NewMonitor(market gateway.MarketState, cfg models.RiskConfig, notificationChan chan<- *models.Notification, hooks MonitorHooks, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		market:           market,
		logger:           logger.Named("monitor"),
		notificationChan: notificationChan,
		hooks:            hooks,
		now:              time.Now,
		cfg:              cfg,
		portfolios:       make(map[string]*portfolioState),
	}
}

// Config возвращает копию текущей конфигурации
func (m *Monitor) Config() models.RiskConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Profile возвращает активный профиль риска
func (m *Monitor) Profile() models.RiskProfile {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg.Profiles[m.cfg.Mode]
}

// SetTradingMode переключает активный профиль
func (m *Monitor) SetTradingMode(mode models.TradingMode) error {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	if _, ok := m.cfg.Profiles[mode]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	if m.cfg.Mode != mode {
		m.logger.Info("trading mode changed", zap.String("from", string(m.cfg.Mode)), zap.String("to", string(mode)))
	}
	m.cfg.Mode = mode
	return nil
}

// ============================================================
// Фоновый мониторинг
// ============================================================

// StartMonitoring запускает периодическую проверку портфеля address
//
// Повторный запуск - no-op с предупреждением. Начальный снапшот задаёт
// baseline и стоимость на начало дня; ошибка его получения возвращается.
// Цикл не зависит от отмены ctx вызывающего, останавливается через StopMonitoring.
func (m *Monitor) StartMonitoring(ctx context.Context, address string) error {
	if address == "" {
		return ErrNoAddress
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		m.logger.Warn("monitoring already started", zap.String("address", m.Address()))
		return nil
	}

	m.resetPortfolio(address)
	if _, _, _, err := m.takeSnapshot(ctx, address); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.setAddress(address)
	m.cancel = cancel
	m.done = done

	go m.run(loopCtx, address, m.Config().CheckInterval, done)

	m.logger.Info("monitoring started", zap.String("address", address),
		zap.Duration("interval", m.Config().CheckInterval))
	return nil
}

// StopMonitoring останавливает цикл; безопасно вызывать без запуска
func (m *Monitor) StopMonitoring() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done

	m.logger.Info("monitoring stopped", zap.String("address", m.Address()))
	m.cancel = nil
	m.done = nil
	m.setAddress("")
}

// Address возвращает отслеживаемый адрес или пустую строку
func (m *Monitor) Address() string {
	m.addrMu.RLock()
	defer m.addrMu.RUnlock()
	return m.address
}

func (m *Monitor) setAddress(address string) {
	m.addrMu.Lock()
	m.address = address
	m.addrMu.Unlock()
}

// IsMonitoring сообщает, запущен ли цикл
func (m *Monitor) IsMonitoring() bool {
	return m.Address() != ""
}

func (m *Monitor) run(ctx context.Context, address string, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, data := m.check(ctx, address)
			if m.hooks.OnCheck != nil && ctx.Err() == nil {
				m.hooks.OnCheck(ctx, res, data)
			}
		}
	}
}

// ============================================================
// Снапшот
// ============================================================

func (m *Monitor) resetPortfolio(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[address] = &portfolioState{
		history:   newSnapshotHistory(m.Config().HistoryRetention),
		firstSeen: make(map[string]time.Time),
	}
}

func (m *Monitor) portfolioLocked(address string) *portfolioState {
	ps, ok := m.portfolios[address]
	if !ok {
		ps = &portfolioState{
			history:   newSnapshotHistory(m.Config().HistoryRetention),
			firstSeen: make(map[string]time.Time),
		}
		m.portfolios[address] = ps
	}
	return ps
}

// holdingValue - позиция до расчёта долей
type holdingValue struct {
	key  string
	snap models.PositionSnapshot
	born time.Time // время создания позиции из gateway, если известно
}

// takeSnapshot загружает состояние портфеля, считает метрики и добавляет снапшот в историю
//
// Возвращает снапшот, окно предыдущих снапшотов и данные для checkEmergencyConditions.
func (m *Monitor) takeSnapshot(ctx context.Context, address string) (models.PortfolioSnapshot, []models.PortfolioSnapshot, *models.PortfolioData, error) {
	var (
		balances  []gateway.WalletBalance
		positions []gateway.LiquidityPosition
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = m.market.GetBalances(gctx, address)
		if err != nil {
			return fmt.Errorf("get balances: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		positions, err = m.market.GetPositions(gctx, address)
		if err != nil {
			return fmt.Errorf("get positions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.PortfolioSnapshot{}, nil, nil, err
	}

	holdings := gateway.Holdings(balances, positions)
	prices := map[string]float64{}
	if tokens := gateway.Tokens(holdings); len(tokens) > 0 {
		var err error
		prices, err = m.market.GetPrices(ctx, tokens)
		if err != nil {
			return models.PortfolioSnapshot{}, nil, nil, fmt.Errorf("get prices: %w", err)
		}
	}

	values := make([]holdingValue, 0, len(holdings))
	var total float64
	for _, h := range holdings {
		switch v := h.(type) {
		case gateway.WalletBalance:
			if v.Amount <= 0 {
				continue
			}
			value := v.Amount * prices[v.Token]
			values = append(values, holdingValue{
				key: "wallet:" + v.Token,
				snap: models.PositionSnapshot{
					Token:    v.Token,
					Kind:     models.HoldingWallet,
					Amount:   v.Amount,
					ValueUSD: value,
				},
			})
			total += value
		case gateway.LiquidityPosition:
			if v.Amount0 <= 0 && v.Amount1 <= 0 {
				continue
			}
			value := v.ValueUSD(prices)
			values = append(values, holdingValue{
				key: "lp:" + v.ID,
				snap: models.PositionSnapshot{
					Token:      v.Label(),
					Kind:       models.HoldingLiquidity,
					Amount:     v.Liquidity,
					ValueUSD:   value,
					PositionID: v.ID,
					Liquidity:  v.Liquidity,
				},
				born: v.CreatedAt,
			})
			total += value
		}
	}

	var volume float64
	if m.hooks.DailyVolume != nil {
		volume = m.hooks.DailyVolume(ctx)
	}

	now := m.now()
	cfg := m.Config()

	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.portfolioLocked(address)

	seen := make(map[string]struct{}, len(values))
	snaps := make([]models.PositionSnapshot, 0, len(values))
	for _, hv := range values {
		seen[hv.key] = struct{}{}
		first, ok := ps.firstSeen[hv.key]
		if !ok {
			first = now
			if !hv.born.IsZero() && hv.born.Before(now) {
				first = hv.born
			}
			ps.firstSeen[hv.key] = first
		}
		s := hv.snap
		s.Age = now.Sub(first)
		s.PercentOfPortfolio = utils.Clamp(utils.SafeDiv(s.ValueUSD, total), 0, 1)
		snaps = append(snaps, s)
	}
	for key := range ps.firstSeen {
		if _, ok := seen[key]; !ok {
			delete(ps.firstSeen, key)
		}
	}

	if ps.baseline <= 0 {
		ps.baseline = total
	}
	date := utils.DateKey(now)
	if ps.dailyDate != date {
		ps.dailyDate = date
		ps.dailyStart = total
	}

	window := ps.history.window()
	metrics := ComputeRiskMetrics(snaps, total, window)

	snap := models.PortfolioSnapshot{
		Timestamp:   now,
		Address:     address,
		TotalValue:  total,
		Positions:   snaps,
		DailyPnL:    total - ps.dailyStart,
		TotalPnL:    total - ps.baseline,
		DailyVolume: volume,
		RiskMetrics: metrics,
	}
	ps.history.retention = cfg.HistoryRetention
	ps.history.append(snap, now)

	valued := 0
	for _, s := range snaps {
		if s.ValueUSD > 0 {
			valued++
		}
	}

	data := &models.PortfolioData{
		BaselineValue:   ps.baseline,
		TotalValue:      total,
		TotalPnL:        snap.TotalPnL,
		DailyStartValue: ps.dailyStart,
		DailyPnL:        snap.DailyPnL,
		VolatilityScore: metrics.VolatilityScore,
		LiquidityScore:  metrics.LiquidityScore,
		PriceDrop:       metrics.Drawdown,
		PositionCount:   valued,
	}
	return snap, window, data, nil
}

// Snapshots возвращает копию окна снапшотов адреса
func (m *Monitor) Snapshots(address string) []models.PortfolioSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.portfolios[address]
	if !ok {
		return []models.PortfolioSnapshot{}
	}
	return ps.history.window()
}

// ============================================================
// Проверка риска
// ============================================================

// PerformRiskCheck делает свежий снапшот и оценивает риск портфеля
//
// Никогда не возвращает ошибку: сбой загрузки данных или паника при
// вычислении дают critical и ShouldContinueTrading=false.
func (m *Monitor) PerformRiskCheck(ctx context.Context, address string) *models.RiskCheckResult {
	res, _ := m.check(ctx, address)
	return res
}

func (m *Monitor) check(ctx context.Context, address string) (res *models.RiskCheckResult, data *models.PortfolioData) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("risk check panic: %v", r)
			m.logger.Error("risk check failed", zap.String("address", address), zap.Error(err))
			if m.hooks.OnPanic != nil {
				m.hooks.OnPanic(ctx, err)
			}
			res = m.failClosed(address, "risk computation failed", err)
			data = nil
			RecordCheck(address, res, "panic")
		}
	}()

	if address == "" {
		res = m.failClosed(address, "no portfolio address", ErrNoAddress)
		RecordCheck(address, res, "fetch_error")
		return res, nil
	}

	snap, window, data, err := m.takeSnapshot(ctx, address)
	if err != nil {
		m.logger.Warn("portfolio snapshot failed", zap.String("address", address), zap.Error(err))
		if m.hooks.OnFetchError != nil {
			m.hooks.OnFetchError(ctx, err)
		}
		res = m.failClosed(address, "portfolio data unavailable", err)
		RecordCheck(address, res, "fetch_error")
		return res, nil
	}
	if m.hooks.OnFetchSuccess != nil {
		m.hooks.OnFetchSuccess()
	}

	res = m.evaluate(snap, window, data)
	m.logger.Debug("risk check completed", utils.Address(address),
		utils.RiskLevel(string(res.RiskLevel)), utils.RiskScore(snap.RiskMetrics.RiskScore))

	outcome := "ok"
	if !res.ShouldContinueTrading {
		outcome = "halt"
	}
	RecordCheck(address, res, outcome)
	m.notifyResult(address, res)
	return res, data
}

// failClosed - результат при внутреннем сбое
func (m *Monitor) failClosed(address, message string, err error) *models.RiskCheckResult {
	now := m.now()
	m.notify(&models.Notification{
		Timestamp: now,
		Type:      models.NotificationTypeError,
		Severity:  models.SeverityCritical,
		Address:   address,
		Message:   fmt.Sprintf("Risk check failed closed: %s", message),
		Meta:      map[string]interface{}{"error": err.Error()},
	})
	return &models.RiskCheckResult{
		RiskLevel:             models.RiskLevelCritical,
		ShouldContinueTrading: false,
		Alerts: []models.RiskAlert{{
			ID:        uuid.NewString(),
			Check:     models.CheckSystem,
			Severity:  models.RiskLevelCritical,
			Message:   message + ": trading halted until risk can be assessed",
			Timestamp: now,
		}},
		EmergencyActions: []string{models.ActionStopTrading},
		CheckedAt:        now,
	}
}

// evaluate прогоняет проверки и детекторы аномалий по снапшоту
func (m *Monitor) evaluate(snap models.PortfolioSnapshot, window []models.PortfolioSnapshot, data *models.PortfolioData) *models.RiskCheckResult {
	cfg := m.Config()
	profile := cfg.Profiles[cfg.Mode]
	now := snap.Timestamp

	res := &models.RiskCheckResult{
		Alerts:           []models.RiskAlert{},
		EmergencyActions: []string{},
		CheckedAt:        now,
	}
	actions := make(map[string]struct{})
	addAction := func(a string) {
		if _, ok := actions[a]; !ok {
			actions[a] = struct{}{}
			res.EmergencyActions = append(res.EmergencyActions, a)
		}
	}
	alert := func(check string, sev models.RiskLevel, value, threshold float64, format string, args ...interface{}) {
		res.Alerts = append(res.Alerts, models.RiskAlert{
			ID:        uuid.NewString(),
			Check:     check,
			Severity:  sev,
			Message:   fmt.Sprintf(format, args...),
			Value:     value,
			Threshold: threshold,
			Timestamp: now,
		})
	}
	enabled := func(check string) bool { return !profile.Ignores(check) }

	// 1. Дневной убыток
	if enabled(models.CheckDailyLoss) && data.DailyStartValue > 0 {
		loss := -data.DailyPnL / data.DailyStartValue
		switch {
		case loss >= cfg.MaxDailyLossPercent:
			alert(models.CheckDailyLoss, models.RiskLevelCritical, loss, cfg.MaxDailyLossPercent,
				"daily loss %.2f%% reached limit %.2f%%", loss*100, cfg.MaxDailyLossPercent*100)
			addAction(models.ActionStopTrading)
		case loss >= cfg.MaxDailyLossPercent*dailyLossWarningRatio:
			alert(models.CheckDailyLoss, models.RiskLevelMedium, loss, cfg.MaxDailyLossPercent,
				"daily loss %.2f%% approaching limit %.2f%%", loss*100, cfg.MaxDailyLossPercent*100)
		}
	}

	// 2. Общий убыток от baseline
	if enabled(models.CheckTotalLoss) && data.BaselineValue > 0 {
		loss := -data.TotalPnL / data.BaselineValue
		if loss >= cfg.MaxTotalLossPercent {
			alert(models.CheckTotalLoss, models.RiskLevelCritical, loss, cfg.MaxTotalLossPercent,
				"total loss %.2f%% reached limit %.2f%%", loss*100, cfg.MaxTotalLossPercent*100)
			addAction(models.ActionEmergencyLiquidate)
		}
	}

	// 3. Концентрация
	if enabled(models.CheckConcentration) {
		conc := snap.RiskMetrics.MaxConcentration
		if conc > profile.MaxConcentration {
			sev := models.RiskLevelHigh
			if conc > profile.MaxConcentration*concentrationCriticalRatio {
				sev = models.RiskLevelCritical
				addAction(models.ActionReduceExposure)
			}
			alert(models.CheckConcentration, sev, conc, profile.MaxConcentration,
				"concentration %.1f%% exceeds %s limit %.1f%%", conc*100, profile.Mode, profile.MaxConcentration*100)
		}
	}

	// 4. Возраст позиций
	if enabled(models.CheckPositionAge) && cfg.MaxPositionAge > 0 {
		var stale []string
		var oldest time.Duration
		for _, p := range snap.Positions {
			if p.Age > cfg.MaxPositionAge {
				stale = append(stale, p.Token)
				if p.Age > oldest {
					oldest = p.Age
				}
			}
		}
		if len(stale) > 0 {
			alert(models.CheckPositionAge, models.RiskLevelMedium, oldest.Hours(), cfg.MaxPositionAge.Hours(),
				"positions older than %s: %s", utils.FormatDuration(cfg.MaxPositionAge), strings.Join(stale, ", "))
		}
	}

	// 5. Дневной объём
	if enabled(models.CheckDailyVolume) && cfg.MaxDailyVolume > 0 && snap.DailyVolume > cfg.MaxDailyVolume {
		alert(models.CheckDailyVolume, models.RiskLevelHigh, snap.DailyVolume, cfg.MaxDailyVolume,
			"daily volume %.2f exceeds limit %.2f", snap.DailyVolume, cfg.MaxDailyVolume)
		addAction(models.ActionHaltNewTrades)
	}

	// Аномалии
	if enabled(models.CheckAnomaly) {
		res.Anomalies = detectAnomalies(snap, window, anomalyParams{
			normalVolatility:   cfg.NormalVolatility,
			rapidChangeWindow:  cfg.RapidChangeWindow,
			rapidChangePercent: cfg.RapidChangePercent,
		})
		for _, a := range res.Anomalies {
			AnomaliesDetected.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
			if a.Severity == models.RiskLevelCritical {
				addAction(models.ActionReduceExposure)
			}
		}
	}

	res.RiskLevel = profile.RiskThresholds.Level(snap.RiskMetrics.RiskScore)
	res.ShouldContinueTrading = len(res.EmergencyActions) == 0 && res.RiskLevel != models.RiskLevelCritical
	res.Snapshot = &snap
	return res
}

// ============================================================
// Валидация сделки
// ============================================================

// ValidateTrade проверяет сделку перед исполнением
//
// AmountIn - номинал сделки в USD. Проверка использует свежий снапшот;
// CurrentPortfolio вызывающего применяется, только если снапшот недоступен.
func (m *Monitor) ValidateTrade(ctx context.Context, params models.TradeParams) models.TradeValidation {
	reject := func(level models.RiskLevel, format string, args ...interface{}) models.TradeValidation {
		TradeValidations.WithLabelValues("rejected").Inc()
		reason := fmt.Sprintf(format, args...)
		m.logger.Info("trade rejected", zap.String("token_in", params.TokenIn),
			zap.String("token_out", params.TokenOut), utils.Amount(params.AmountIn),
			utils.RiskLevel(string(level)), zap.String("reason", reason))
		return models.TradeValidation{Approved: false, Reason: reason, RiskLevel: level}
	}

	address := params.Address
	if address == "" {
		address = m.Address()
	}
	if address == "" {
		return reject(models.RiskLevelCritical, "no portfolio address to validate against")
	}

	if m.hooks.IsHalted != nil && m.hooks.IsHalted() {
		return reject(models.RiskLevelCritical, "trading halted: emergency stop is active")
	}

	if params.AmountIn <= 0 {
		return reject(models.RiskLevelLow, "invalid trade amount: must be positive")
	}

	check := m.PerformRiskCheck(ctx, address)
	if !check.ShouldContinueTrading {
		reason := "risk level " + string(check.RiskLevel)
		if len(check.Alerts) > 0 {
			reason = check.Alerts[0].Message
		}
		return reject(check.RiskLevel, "trading halted by risk check: %s", reason)
	}

	portfolio := check.Snapshot
	if portfolio == nil {
		portfolio = params.CurrentPortfolio
	}
	if portfolio == nil || portfolio.TotalValue <= 0 {
		return reject(models.RiskLevelHigh, "portfolio value unavailable")
	}

	cfg := m.Config()
	profile := cfg.Profiles[cfg.Mode]

	amount := params.AmountIn
	var adjusted *float64
	if cfg.MaxPositionSizeUSD > 0 && amount > cfg.MaxPositionSizeUSD {
		a := cfg.MaxPositionSizeUSD * cfg.AdjustedSizeFraction
		adjusted = &a
		amount = a
	}

	current, _ := portfolio.Position(params.TokenOut)
	post := (current + amount) / portfolio.TotalValue
	if post > profile.MaxConcentration {
		return reject(check.RiskLevel, "post-trade concentration %.1f%% in %s exceeds limit %.1f%%",
			post*100, params.TokenOut, profile.MaxConcentration*100)
	}

	out := models.TradeValidation{Approved: true, RiskLevel: check.RiskLevel, AdjustedAmount: adjusted}
	if adjusted != nil {
		out.Reason = fmt.Sprintf("trade size %.2f exceeds limit %.2f, reduced to %.2f",
			params.AmountIn, cfg.MaxPositionSizeUSD, *adjusted)
		TradeValidations.WithLabelValues("adjusted").Inc()
	} else {
		TradeValidations.WithLabelValues("approved").Inc()
	}
	return out
}

// ============================================================
// Уведомления
// ============================================================

func (m *Monitor) notifyResult(address string, res *models.RiskCheckResult) {
	for _, a := range res.Alerts {
		if a.Severity.Rank() < models.RiskLevelHigh.Rank() {
			continue
		}
		m.notify(&models.Notification{
			Timestamp: a.Timestamp,
			Type:      models.NotificationTypeRiskAlert,
			Severity:  models.SeverityForLevel(a.Severity),
			Address:   address,
			Message:   a.Message,
			Meta: map[string]interface{}{
				"check":     a.Check,
				"value":     a.Value,
				"threshold": a.Threshold,
			},
		})
	}
	for _, an := range res.Anomalies {
		if an.Severity.Rank() < models.RiskLevelHigh.Rank() {
			continue
		}
		m.notify(&models.Notification{
			Timestamp: an.DetectedAt,
			Type:      models.NotificationTypeAnomaly,
			Severity:  models.SeverityForLevel(an.Severity),
			Address:   address,
			Message:   an.Description,
			Meta: map[string]interface{}{
				"anomaly": string(an.Type),
				"value":   an.Value,
			},
		})
	}
}

func (m *Monitor) notify(n *models.Notification) {
	if !tryEnqueueNotification(m.notificationChan, n) && m.notificationChan != nil {
		m.logger.Warn("notification dropped", zap.String("type", n.Type), utils.Severity(n.Severity))
	}
}

// PositionAges возвращает возраст известных позиций адреса
//
// Ключи: "wallet:<token>" и "lp:<position id>".
func (m *Monitor) PositionAges(address string) map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Duration)
	ps, ok := m.portfolios[address]
	if !ok {
		return out
	}
	now := m.now()
	for key, first := range ps.firstSeen {
		out[key] = now.Sub(first)
	}
	return out
}
