package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
)

const defaultNotificationBuffer = 256

// Config - полная конфигурация риск-движка
type Config struct {
	Risk     models.RiskConfig
	Limits   models.PositionLimitsConfig
	Triggers models.EmergencyTriggers
	Slippage models.SlippageConfig

	// QuoteAsset - стабильный актив, в который продаются позиции при ликвидации
	QuoteAsset             string
	RecoveryPeriod         time.Duration
	LiquidationStepTimeout time.Duration
	NotificationBuffer     int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Risk:                   models.DefaultRiskConfig(),
		Limits:                 models.DefaultPositionLimits(),
		Triggers:               models.DefaultEmergencyTriggers(),
		Slippage:               models.DefaultSlippageConfig(),
		QuoteAsset:             "USDC",
		RecoveryPeriod:         defaultRecoveryPeriod,
		LiquidationStepTimeout: defaultStepTimeout,
		NotificationBuffer:     defaultNotificationBuffer,
	}
}

// Validate проверяет всю конфигурацию
func (c Config) Validate() error {
	if err := ValidateRiskConfig(c.Risk); err != nil {
		return err
	}
	if err := ValidateLimits(c.Limits); err != nil {
		return err
	}
	if err := ValidateTriggers(c.Triggers); err != nil {
		return err
	}
	if err := ValidateSlippageConfig(c.Slippage); err != nil {
		return err
	}
	if c.QuoteAsset == "" {
		return fmt.Errorf("%w: quote asset is required", ErrInvalidConfig)
	}
	return nil
}

// Option настраивает Engine
type Option func(*engineOptions)

type engineOptions struct {
	logger   *zap.Logger
	volume   VolumeTracker
	now      func() time.Time
	observer func(address string, res *models.RiskCheckResult)
}

// WithLogger задаёт логгер
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithVolumeTracker задаёт хранилище дневного объёма (по умолчанию в памяти)
func WithVolumeTracker(v VolumeTracker) Option {
	return func(o *engineOptions) { o.volume = v }
}

// WithCheckObserver получает результат каждой фоновой проверки
//
// Вызывается из горутины монитора и не должен блокироваться.
func WithCheckObserver(fn func(address string, res *models.RiskCheckResult)) Option {
	return func(o *engineOptions) { o.observer = fn }
}

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// Engine - риск-движок: монитор, лимитер, slippage guard и breaker
//
// Создаётся один раз при старте и передаётся вызывающим явно.
// Уведомления и записи журнала отдаются через каналы Notifications и History.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	monitor    *Monitor
	limiter    *Limiter
	slippage   *SlippageGuard
	breaker    *Breaker
	liquidator *Liquidator

	notificationChan chan *models.Notification
	historyChan      chan models.EmergencyHistoryEntry

	observer func(address string, res *models.RiskCheckResult)
}

// NewEngine собирает движок. Ошибка возвращается только при неверной конфигурации.
func NewEngine(cfg Config, market gateway.MarketState, exec gateway.Execution, opts ...Option) (*Engine, error) {
	if market == nil || exec == nil {
		return nil, ErrMissingGateway
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = defaultNotificationBuffer
	}

	e := &Engine{
		cfg:              cfg,
		logger:           o.logger,
		notificationChan: make(chan *models.Notification, cfg.NotificationBuffer),
		historyChan:      make(chan models.EmergencyHistoryEntry, cfg.NotificationBuffer),
		observer:         o.observer,
	}

	e.limiter = NewLimiter(market, cfg.Limits, o.volume, o.logger)
	e.limiter.now = o.now

	e.slippage = NewSlippageGuard(cfg.Slippage, e.notificationChan, o.logger)
	e.slippage.now = o.now

	e.liquidator = NewLiquidator(market, exec, cfg.QuoteAsset, cfg.LiquidationStepTimeout, o.logger)
	e.liquidator.now = o.now

	e.breaker = NewBreaker(BreakerOptions{
		Triggers:         cfg.Triggers,
		RecoveryPeriod:   cfg.RecoveryPeriod,
		Liquidator:       e.liquidator,
		NotificationChan: e.notificationChan,
		HistoryChan:      e.historyChan,
		AddressFn:        func() string { return e.monitor.Address() },
		OnStateChange:    e.slippage.SetEmergencyLimits,
		Logger:           o.logger,
	})
	e.breaker.now = o.now

	e.monitor = NewMonitor(market, cfg.Risk, e.notificationChan, MonitorHooks{
		OnFetchError:   e.breaker.RecordApiFailure,
		OnFetchSuccess: e.breaker.RecordSuccess,
		OnPanic:        e.breaker.RecordSystemError,
		IsHalted:       e.breaker.IsEmergencyStopEnabled,
		DailyVolume:    e.dailyVolume,
		OnCheck:        e.afterCheck,
	}, o.logger)
	e.monitor.now = o.now
	e.liquidator.ageFn = e.monitor.PositionAges

	return e, nil
}

// Notifications - канал уведомлений для сервиса доставки
func (e *Engine) Notifications() <-chan *models.Notification { return e.notificationChan }

// History - канал записей журнала breaker для сохранения
func (e *Engine) History() <-chan models.EmergencyHistoryEntry { return e.historyChan }

// Monitor, Limiter, Slippage и Breaker отдают компоненты напрямую
func (e *Engine) Monitor() *Monitor        { return e.monitor }
func (e *Engine) Limiter() *Limiter        { return e.limiter }
func (e *Engine) Slippage() *SlippageGuard { return e.slippage }
func (e *Engine) Breaker() *Breaker        { return e.breaker }
func (e *Engine) QuoteAsset() string       { return e.cfg.QuoteAsset }

func (e *Engine) dailyVolume(ctx context.Context) float64 {
	v, err := e.limiter.DailyVolume(ctx)
	if err != nil {
		e.logger.Warn("daily volume unavailable", zap.Error(err))
		return 0
	}
	return v
}

// afterCheck связывает фоновую проверку с breaker
func (e *Engine) afterCheck(ctx context.Context, res *models.RiskCheckResult, data *models.PortfolioData) {
	if e.observer != nil && res != nil {
		e.observer(e.monitor.Address(), res)
	}
	if data == nil {
		return
	}

	check := e.breaker.CheckEmergencyConditions(*data)
	if check.ShouldTrigger {
		autoLiquidate := e.monitor.Config().AutoLiquidate
		e.breaker.ActivateEmergencyStop(ctx, check.EmergencyType, check.Reason, autoLiquidate)
		return
	}

	for _, a := range res.EmergencyActions {
		if a == models.ActionEmergencyLiquidate {
			e.breaker.ActivateEmergencyStop(ctx, models.EmergencyPortfolioLoss,
				"risk monitor requested emergency liquidation", e.monitor.Config().AutoLiquidate)
			return
		}
	}
}

// ============================================================
// Монитор
// ============================================================

// StartMonitoring запускает фоновую проверку портфеля
func (e *Engine) StartMonitoring(ctx context.Context, address string) error {
	return e.monitor.StartMonitoring(ctx, address)
}

// StopMonitoring останавливает фоновую проверку
func (e *Engine) StopMonitoring() { e.monitor.StopMonitoring() }

// IsMonitoring сообщает, запущен ли фоновый цикл
func (e *Engine) IsMonitoring() bool { return e.monitor.IsMonitoring() }

// MonitoredAddress возвращает адрес текущего портфеля
func (e *Engine) MonitoredAddress() string { return e.monitor.Address() }

// PerformRiskCheck - свежая проверка риска
func (e *Engine) PerformRiskCheck(ctx context.Context, address string) *models.RiskCheckResult {
	if address == "" {
		address = e.monitor.Address()
	}
	return e.monitor.PerformRiskCheck(ctx, address)
}

// ValidateTrade проверяет сделку монитором
func (e *Engine) ValidateTrade(ctx context.Context, params models.TradeParams) models.TradeValidation {
	return e.monitor.ValidateTrade(ctx, params)
}

// SetTradingMode переключает профиль риска
func (e *Engine) SetTradingMode(mode models.TradingMode) error {
	return e.monitor.SetTradingMode(mode)
}

// ============================================================
// Лимиты
// ============================================================

// CanOpenPosition проверяет лимиты; при активной остановке всегда запрещает
func (e *Engine) CanOpenPosition(ctx context.Context, token string, amountUSD float64, address string) models.LimitCheck {
	if e.breaker.IsEmergencyStopEnabled() {
		LimitRejections.WithLabelValues("emergency_stop").Inc()
		return models.LimitCheck{Allowed: false, Reason: "trading halted: emergency stop is active"}
	}
	if address == "" {
		address = e.monitor.Address()
	}
	return e.limiter.CanOpenPosition(ctx, token, amountUSD, address)
}

// CalculateExposures возвращает экспозиции портфеля
func (e *Engine) CalculateExposures(ctx context.Context, address string) []models.PositionExposure {
	if address == "" {
		address = e.monitor.Address()
	}
	return e.limiter.CalculateExposures(ctx, address)
}

// GetViolations возвращает нарушения лимитов
func (e *Engine) GetViolations(ctx context.Context, address string) []models.LimitViolation {
	if address == "" {
		address = e.monitor.Address()
	}
	return e.limiter.GetViolations(ctx, address)
}

// UpdateLimits применяет частичное обновление лимитов
func (e *Engine) UpdateLimits(update models.LimitsUpdate) (models.PositionLimitsConfig, error) {
	return e.limiter.UpdateLimits(update)
}

// AdjustPositionSize урезает запрошенную добавку к позиции до безопасного размера
//
// Если экспозиции не загрузились, безопасный размер считается нулевым.
func (e *Engine) AdjustPositionSize(ctx context.Context, token string, requested float64, address string) models.SizeAdjustment {
	if address == "" {
		address = e.monitor.Address()
	}
	exposures, total, err := e.limiter.exposureSnapshot(ctx, address)
	if err != nil {
		e.logger.Warn("failed to load exposures for size adjustment", zap.String("address", address), zap.Error(err))
		return models.SizeAdjustment{
			Amount:      0,
			WasAdjusted: requested > 0,
			Reason:      "portfolio data unavailable",
		}
	}
	return e.limiter.AutoAdjustPositionSize(requested, token, exposures, total)
}

// RecordTrade учитывает исполненную сделку
func (e *Engine) RecordTrade(ctx context.Context, token string, amountUSD float64) error {
	return e.limiter.RecordTrade(ctx, token, amountUSD)
}

// ============================================================
// Slippage
// ============================================================

// ValidateSlippage проверяет фактический slippage
func (e *Engine) ValidateSlippage(tolerance, expectedOut, actualOut float64) models.SlippageValidation {
	return e.slippage.ValidateSlippage(tolerance, expectedOut, actualOut)
}

// CalculateDynamicSlippage возвращает скорректированный допуск
func (e *Engine) CalculateDynamicSlippage(base float64, mc models.MarketConditions) models.DynamicSlippage {
	return e.slippage.CalculateDynamicSlippage(base, mc)
}

// RecommendTradeSplitting советует дробление сделки
func (e *Engine) RecommendTradeSplitting(amount float64, mc models.MarketConditions) models.SplitRecommendation {
	return e.slippage.RecommendTradeSplitting(amount, mc)
}

// RecordExecution сохраняет исполнение в истории slippage
func (e *Engine) RecordExecution(tokenIn, tokenOut string, tolerance, expectedOut, actualOut float64) float64 {
	return e.slippage.RecordExecution(tokenIn, tokenOut, tolerance, expectedOut, actualOut)
}

// GetSlippageAlerts возвращает активные алерты slippage
func (e *Engine) GetSlippageAlerts() []models.SlippageAlert {
	return e.slippage.GetSlippageAlerts()
}

// ============================================================
// Аварийная остановка
// ============================================================

// IsEmergencyStopEnabled сообщает, остановлена ли торговля
func (e *Engine) IsEmergencyStopEnabled() bool { return e.breaker.IsEmergencyStopEnabled() }

// ActivateEmergencyStop активирует аварийную остановку
func (e *Engine) ActivateEmergencyStop(ctx context.Context, t models.EmergencyType, reason string, autoLiquidate bool) models.ActivationResult {
	return e.breaker.ActivateEmergencyStop(ctx, t, reason, autoLiquidate)
}

// DeactivateEmergencyStop снимает аварийную остановку
func (e *Engine) DeactivateEmergencyStop(reason string) models.DeactivationResult {
	return e.breaker.DeactivateEmergencyStop(reason)
}

// GetEmergencyStatus возвращает состояние breaker
func (e *Engine) GetEmergencyStatus() models.EmergencyStatus { return e.breaker.GetEmergencyStatus() }

// UpdateTriggers применяет частичное обновление триггеров
func (e *Engine) UpdateTriggers(update models.TriggersUpdate) (models.EmergencyTriggers, error) {
	return e.breaker.UpdateTriggers(update)
}

// CheckEmergencyConditions проверяет триггеры по данным портфеля
func (e *Engine) CheckEmergencyConditions(data models.PortfolioData) models.EmergencyCheck {
	return e.breaker.CheckEmergencyConditions(data)
}

// SetManualOverride включает или снимает ручную блокировку торговли
func (e *Engine) SetManualOverride(enabled bool, reason string) error {
	return e.breaker.SetManualOverride(enabled, reason)
}

// ExitRecovery досрочно завершает период наблюдения
func (e *Engine) ExitRecovery() error { return e.breaker.ExitRecovery() }

// GetEmergencyHistory возвращает последние записи журнала аудита
func (e *Engine) GetEmergencyHistory(limit int) []models.EmergencyHistoryEntry {
	return e.breaker.GetHistory(limit)
}

// Settings возвращает текущие runtime-настройки для сохранения
func (e *Engine) Settings() models.RiskSettings {
	return models.RiskSettings{
		TradingMode: e.monitor.Config().Mode,
		Limits:      e.limiter.Limits(),
		Triggers:    e.breaker.Triggers(),
	}
}

// Close останавливает мониторинг
func (e *Engine) Close() {
	e.monitor.StopMonitoring()
}
