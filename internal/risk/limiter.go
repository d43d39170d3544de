package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Множители, выше которых нарушение считается критическим
const (
	sizeCriticalMultiple          = 1.2
	countCriticalMultiple         = 1.2
	concentrationCriticalMultiple = 1.3
	totalCriticalMultiple         = 1.3

	// autoAdjustBuffer - доля безопасного максимума при уменьшении сделки
	autoAdjustBuffer = 0.9
)

// Limiter - Position & Exposure Limiter
//
// Проверяет размер позиции, число позиций, концентрацию, суммарную
// экспозицию и дневной объём до открытия сделки.
type Limiter struct {
	market gateway.MarketState
	volume VolumeTracker
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	limits models.PositionLimitsConfig
}

// NewLimiter создаёт лимитер; volume=nil -> MemoryVolumeTracker
func NewLimiter(market gateway.MarketState, limits models.PositionLimitsConfig, volume VolumeTracker, logger *zap.Logger) *Limiter {
	if volume == nil {
		volume = NewMemoryVolumeTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		market: market,
		volume: volume,
		logger: logger.Named("limiter"),
		now:    time.Now,
		limits: limits,
	}
}

// Limits возвращает текущие лимиты
func (l *Limiter) Limits() models.PositionLimitsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits
}

// UpdateLimits применяет частичное обновление
//
// Обновление валидируется целиком: при любой ошибке ничего не меняется.
func (l *Limiter) UpdateLimits(update models.LimitsUpdate) (models.PositionLimitsConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := update.Apply(l.limits)
	if err := ValidateLimits(next); err != nil {
		return l.limits, err
	}
	l.limits = next
	l.logger.Info("position limits updated", zap.Any("limits", next))
	return next, nil
}

// ============================================================
// Экспозиции
// ============================================================

// exposureSnapshot загружает балансы и цены и агрегирует их по токенам
func (l *Limiter) exposureSnapshot(ctx context.Context, address string) ([]models.PositionExposure, float64, error) {
	balances, err := l.market.GetBalances(ctx, address)
	if err != nil {
		return nil, 0, fmt.Errorf("get balances: %w", err)
	}

	tokens := make([]string, 0, len(balances))
	byToken := make(map[string]*models.PositionExposure)
	for _, b := range balances {
		if b.Amount <= 0 {
			continue
		}
		e, ok := byToken[b.Token]
		if !ok {
			e = &models.PositionExposure{Token: b.Token}
			byToken[b.Token] = e
			tokens = append(tokens, b.Token)
		}
		e.TotalAmount += b.Amount
		e.PositionCount++
	}

	if len(tokens) == 0 {
		return []models.PositionExposure{}, 0, nil
	}

	prices, err := l.market.GetPrices(ctx, tokens)
	if err != nil {
		return nil, 0, fmt.Errorf("get prices: %w", err)
	}

	var total float64
	for _, t := range tokens {
		e := byToken[t]
		e.ValueUSD = e.TotalAmount * prices[t]
		total += e.ValueUSD
	}

	limits := l.Limits()
	out := make([]models.PositionExposure, 0, len(tokens))
	for _, t := range tokens {
		e := byToken[t]
		e.PercentOfPortfolio = utils.Clamp(utils.SafeDiv(e.ValueUSD, total), 0, 1)
		e.IsWithinLimits = e.ValueUSD <= limits.MaxPositionSize && e.PercentOfPortfolio <= limits.MaxConcentration
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValueUSD > out[j].ValueUSD })
	return out, total, nil
}

// CalculateExposures возвращает экспозиции по токенам
//
// При ошибке gateway возвращается пустой список. Пустой список не означает
// отсутствие риска: CanOpenPosition при ошибке загрузки запрещает сделку.
func (l *Limiter) CalculateExposures(ctx context.Context, address string) []models.PositionExposure {
	exposures, _, err := l.exposureSnapshot(ctx, address)
	if err != nil {
		l.logger.Warn("failed to calculate exposures", zap.String("address", address), zap.Error(err))
		return []models.PositionExposure{}
	}
	return exposures
}

// ============================================================
// Проверка перед сделкой
// ============================================================

// CanOpenPosition проверяет, можно ли добавить amountUSD в позицию token
//
// Порядок проверок: дневной объём, размер позиции, число позиций,
// суммарная экспозиция. Первая сработавшая проверка определяет причину.
func (l *Limiter) CanOpenPosition(ctx context.Context, token string, amountUSD float64, address string) models.LimitCheck {
	deny := func(reason, label string) models.LimitCheck {
		LimitRejections.WithLabelValues(label).Inc()
		l.logger.Info("position rejected", utils.Token(token), utils.Amount(amountUSD), zap.String("reason", reason))
		return models.LimitCheck{Allowed: false, Reason: reason}
	}

	if amountUSD <= 0 {
		return deny("invalid amount: must be positive", "invalid")
	}

	limits := l.Limits()
	date := utils.DateKey(l.now())

	// 1. Дневной объём
	used, err := l.volume.Get(ctx, date, token)
	if err != nil {
		return deny(fmt.Sprintf("daily volume unavailable: %v", err), "volume_unavailable")
	}
	if used+amountUSD > limits.MaxDailyVolume {
		return deny(fmt.Sprintf("daily volume limit exceeded for %s: %.2f + %.2f > %.2f",
			token, used, amountUSD, limits.MaxDailyVolume), "daily_volume")
	}

	exposures, total, err := l.exposureSnapshot(ctx, address)
	if err != nil {
		return deny(fmt.Sprintf("exposure data unavailable: %v", err), "data_unavailable")
	}

	var current float64
	held := false
	count := 0
	for _, e := range exposures {
		if e.ValueUSD < limits.DustThreshold {
			continue
		}
		count++
		if e.Token == token {
			current = e.ValueUSD
			held = true
		}
	}

	// 2. Размер позиции
	if current+amountUSD > limits.MaxPositionSize {
		return deny(fmt.Sprintf("position size limit exceeded for %s: %.2f + %.2f > %.2f",
			token, current, amountUSD, limits.MaxPositionSize), "position_size")
	}

	// 3. Число позиций
	if !held && count+1 > limits.MaxPositionCount {
		return deny(fmt.Sprintf("position count limit reached: %d open, max %d",
			count, limits.MaxPositionCount), "position_count")
	}

	// 4. Суммарная экспозиция
	if total+amountUSD > limits.MaxTotalExposure {
		return deny(fmt.Sprintf("total exposure limit exceeded: %.2f + %.2f > %.2f",
			total, amountUSD, limits.MaxTotalExposure), "total_exposure")
	}

	return models.LimitCheck{Allowed: true}
}

// RecordTrade учитывает исполненную сделку в дневном объёме
func (l *Limiter) RecordTrade(ctx context.Context, token string, amountUSD float64) error {
	if amountUSD <= 0 {
		return fmt.Errorf("%w: trade amount must be positive", ErrInvalidLimits)
	}
	_, err := l.volume.Add(ctx, utils.DateKey(l.now()), token, amountUSD)
	return err
}

// DailyVolume возвращает суммарный объём за текущую дату
func (l *Limiter) DailyVolume(ctx context.Context) (float64, error) {
	return l.volume.Total(ctx, utils.DateKey(l.now()))
}

// ============================================================
// Безопасный размер
// ============================================================

// CalculateMaxSafePositionSize возвращает максимальную добавку к позиции token
//
// Минимум из трёх ёмкостей: концентрация, размер позиции и суммарная
// экспозиция. Никогда не отрицательна.
func (l *Limiter) CalculateMaxSafePositionSize(token string, exposures []models.PositionExposure, portfolioValue float64) float64 {
	limits := l.Limits()

	var current, totalExposure float64
	for _, e := range exposures {
		totalExposure += e.ValueUSD
		if e.Token == token {
			current += e.ValueUSD
		}
	}

	concentrationCapacity := limits.MaxConcentration*portfolioValue - current
	sizeCapacity := limits.MaxPositionSize - current
	totalCapacity := limits.MaxTotalExposure - totalExposure

	return utils.Max(0, utils.Min(concentrationCapacity, utils.Min(sizeCapacity, totalCapacity)))
}

// AutoAdjustPositionSize уменьшает запрошенный размер до 90% безопасного максимума
func (l *Limiter) AutoAdjustPositionSize(requested float64, token string, exposures []models.PositionExposure, portfolioValue float64) models.SizeAdjustment {
	maxSafe := l.CalculateMaxSafePositionSize(token, exposures, portfolioValue)
	if requested <= maxSafe {
		return models.SizeAdjustment{Amount: requested, MaxSafe: maxSafe}
	}

	adjusted := maxSafe * autoAdjustBuffer
	return models.SizeAdjustment{
		Amount:      adjusted,
		MaxSafe:     maxSafe,
		WasAdjusted: true,
		Reason: fmt.Sprintf("requested %.2f exceeds safe maximum %.2f for %s, reduced to %.2f",
			requested, maxSafe, token, adjusted),
	}
}

// ============================================================
// Нарушения
// ============================================================

// GetViolations возвращает текущие нарушения лимитов для отчётов
//
// Если данные недоступны, возвращается одно критическое нарушение data_unavailable.
func (l *Limiter) GetViolations(ctx context.Context, address string) []models.LimitViolation {
	exposures, total, err := l.exposureSnapshot(ctx, address)
	if err != nil {
		return []models.LimitViolation{{
			Type:     models.ViolationDataUnavailable,
			Severity: models.ViolationCritical,
			Message:  fmt.Sprintf("exposure data unavailable: %v", err),
		}}
	}

	limits := l.Limits()
	var out []models.LimitViolation

	count := 0
	for _, e := range exposures {
		if e.ValueUSD >= limits.DustThreshold {
			count++
		}
		if e.ValueUSD > limits.MaxPositionSize {
			out = append(out, models.LimitViolation{
				Type:     models.ViolationPositionSize,
				Token:    e.Token,
				Current:  e.ValueUSD,
				Limit:    limits.MaxPositionSize,
				Severity: violationSeverity(e.ValueUSD, limits.MaxPositionSize, sizeCriticalMultiple),
				Message:  fmt.Sprintf("%s position %.2f exceeds size limit %.2f", e.Token, e.ValueUSD, limits.MaxPositionSize),
			})
		}
		if e.PercentOfPortfolio > limits.MaxConcentration {
			out = append(out, models.LimitViolation{
				Type:     models.ViolationConcentration,
				Token:    e.Token,
				Current:  e.PercentOfPortfolio,
				Limit:    limits.MaxConcentration,
				Severity: violationSeverity(e.PercentOfPortfolio, limits.MaxConcentration, concentrationCriticalMultiple),
				Message: fmt.Sprintf("%s concentration %.1f%% exceeds limit %.1f%%",
					e.Token, e.PercentOfPortfolio*100, limits.MaxConcentration*100),
			})
		}
	}

	if count > limits.MaxPositionCount {
		out = append(out, models.LimitViolation{
			Type:     models.ViolationPositionCount,
			Current:  float64(count),
			Limit:    float64(limits.MaxPositionCount),
			Severity: violationSeverity(float64(count), float64(limits.MaxPositionCount), countCriticalMultiple),
			Message:  fmt.Sprintf("%d positions exceed limit %d", count, limits.MaxPositionCount),
		})
	}

	if total > limits.MaxTotalExposure {
		out = append(out, models.LimitViolation{
			Type:     models.ViolationTotalExposure,
			Current:  total,
			Limit:    limits.MaxTotalExposure,
			Severity: violationSeverity(total, limits.MaxTotalExposure, totalCriticalMultiple),
			Message:  fmt.Sprintf("total exposure %.2f exceeds limit %.2f", total, limits.MaxTotalExposure),
		})
	}

	return out
}

func violationSeverity(current, limit, criticalMultiple float64) string {
	if current > limit*criticalMultiple {
		return models.ViolationCritical
	}
	return models.ViolationWarning
}
