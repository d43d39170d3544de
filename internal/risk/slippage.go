package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Параметры динамического допуска и дробления сделок
const (
	baselineVolatility   = 0.02      // волатильность без надбавки
	maxVolatilityBoost   = 2.0       // максимальная надбавка за волатильность (x3 к базе)
	deepLiquidity        = 1_000_000 // ликвидность без надбавки, USD
	lowVolumeThreshold   = 100_000   // объём за 24ч, ниже которого допуск растёт
	lowVolumeFactor      = 1.2
	splitImpactThreshold = 0.01  // доля пула, выше которой сделку стоит дробить
	targetChunkImpact    = 0.005 // целевое влияние одного куска
	maxChunks            = 10
)

// SlippageGuard - проверка и адаптация допустимого slippage
type SlippageGuard struct {
	logger           *zap.Logger
	notificationChan chan<- *models.Notification
	now              func() time.Time

	mu        sync.RWMutex
	cfg       models.SlippageConfig
	emergency bool
	history   map[string][]models.SlippageRecord
	alerting  map[string]bool
}

// NewSlippageGuard создаёт guard. Конфигурация должна быть провалидирована.
func NewSlippageGuard(cfg models.SlippageConfig, notificationChan chan<- *models.Notification, logger *zap.Logger) *SlippageGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlippageGuard{
		logger:           logger.Named("slippage"),
		notificationChan: notificationChan,
		now:              time.Now,
		cfg:              cfg,
		history:          make(map[string][]models.SlippageRecord),
		alerting:         make(map[string]bool),
	}
}

// Config возвращает настройки
func (g *SlippageGuard) Config() models.SlippageConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// SetEmergencyLimits включает или выключает аварийный допуск
func (g *SlippageGuard) SetEmergencyLimits(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emergency != active {
		g.logger.Info("emergency slippage limits toggled", zap.Bool("active", active),
			zap.Float64("tolerance", g.cfg.EmergencyTolerance))
	}
	g.emergency = active
}

// EmergencyLimitsActive сообщает, действует ли аварийный допуск
func (g *SlippageGuard) EmergencyLimitsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.emergency
}

// ValidateSlippage сравнивает фактический slippage с допуском
//
// actualSlippage = (expected - actual) / expected. При активных аварийных
// лимитах действует также EmergencyTolerance.
func (g *SlippageGuard) ValidateSlippage(tolerance, expectedOut, actualOut float64) models.SlippageValidation {
	if expectedOut <= 0 {
		return models.SlippageValidation{Valid: false, Reason: "expected output must be positive"}
	}

	slippage := (expectedOut - actualOut) / expectedOut

	if slippage > tolerance {
		return models.SlippageValidation{
			Valid:          false,
			ActualSlippage: slippage,
			Reason:         fmt.Sprintf("slippage %.2f%% exceeds tolerance %.2f%%", slippage*100, tolerance*100),
		}
	}

	g.mu.RLock()
	emergency, emergencyTol := g.emergency, g.cfg.EmergencyTolerance
	g.mu.RUnlock()

	if emergency && slippage > emergencyTol {
		return models.SlippageValidation{
			Valid:          false,
			ActualSlippage: slippage,
			Reason: fmt.Sprintf("slippage %.2f%% exceeds emergency tolerance %.2f%%",
				slippage*100, emergencyTol*100),
		}
	}

	return models.SlippageValidation{Valid: true, ActualSlippage: slippage}
}

// CalculateDynamicSlippage поднимает допуск с ростом волатильности и падением ликвидности
//
// Нулевые поля MarketConditions считаются неизвестными и не влияют на допуск.
// Результат не превышает MaxTolerance.
func (g *SlippageGuard) CalculateDynamicSlippage(baseTolerance float64, mc models.MarketConditions) models.DynamicSlippage {
	cfg := g.Config()
	if baseTolerance <= 0 {
		baseTolerance = cfg.DefaultTolerance
	}

	tol := baseTolerance
	reasons := []string{}

	if mc.Volatility > baselineVolatility {
		factor := 1 + utils.Clamp((mc.Volatility-baselineVolatility)/baselineVolatility, 0, maxVolatilityBoost)
		tol *= factor
		reasons = append(reasons, fmt.Sprintf("high volatility %.2f%%: x%.2f", mc.Volatility*100, factor))
	}

	if mc.Liquidity > 0 && mc.Liquidity < deepLiquidity {
		factor := 1 + utils.Clamp((deepLiquidity-mc.Liquidity)/deepLiquidity, 0, 1)
		tol *= factor
		reasons = append(reasons, fmt.Sprintf("thin liquidity $%.0f: x%.2f", mc.Liquidity, factor))
	}

	if mc.Volume > 0 && mc.Volume < lowVolumeThreshold {
		tol *= lowVolumeFactor
		reasons = append(reasons, fmt.Sprintf("low volume $%.0f: x%.2f", mc.Volume, lowVolumeFactor))
	}

	if mc.Spread > 0 {
		tol += mc.Spread / 2
		reasons = append(reasons, fmt.Sprintf("spread %.2f%%: +%.2f%%", mc.Spread*100, mc.Spread*50))
	}

	if tol > cfg.MaxTolerance {
		tol = cfg.MaxTolerance
		reasons = append(reasons, fmt.Sprintf("capped at max tolerance %.2f%%", cfg.MaxTolerance*100))
	}

	return models.DynamicSlippage{
		BaseTolerance:     baseTolerance,
		AdjustedTolerance: tol,
		Reasons:           reasons,
	}
}

// RecommendTradeSplitting советует дробить сделку, если она велика относительно пула
func (g *SlippageGuard) RecommendTradeSplitting(amount float64, mc models.MarketConditions) models.SplitRecommendation {
	pool := mc.PoolLiquidity
	if pool <= 0 {
		pool = mc.Liquidity
	}
	if pool <= 0 {
		return models.SplitRecommendation{Chunks: 1, ChunkSize: amount, Reason: "pool liquidity unknown"}
	}
	if amount <= 0 {
		return models.SplitRecommendation{Chunks: 1, ChunkSize: 0, Reason: "nothing to split"}
	}

	impact := amount / pool
	if impact <= splitImpactThreshold {
		return models.SplitRecommendation{
			Chunks:      1,
			ChunkSize:   amount,
			PriceImpact: impact,
			Reason:      fmt.Sprintf("price impact %.2f%% within %.2f%%", impact*100, splitImpactThreshold*100),
		}
	}

	chunks := int(math.Ceil(impact / targetChunkImpact))
	if chunks < 2 {
		chunks = 2
	}
	if chunks > maxChunks {
		chunks = maxChunks
	}
	return models.SplitRecommendation{
		ShouldSplit: true,
		Chunks:      chunks,
		ChunkSize:   amount / float64(chunks),
		PriceImpact: impact,
		Reason: fmt.Sprintf("price impact %.2f%% of pool liquidity, split into %d chunks",
			impact*100, chunks),
	}
}

// ============================================================
// История и алерты
// ============================================================

func pairKey(tokenIn, tokenOut string) string {
	return tokenIn + "/" + tokenOut
}

// RecordExecution добавляет исполнение в историю пары и возвращает фактический slippage
//
// При первом превышении среднего порога отправляется уведомление SLIPPAGE.
func (g *SlippageGuard) RecordExecution(tokenIn, tokenOut string, tolerance, expectedOut, actualOut float64) float64 {
	if expectedOut <= 0 {
		return 0
	}
	pair := pairKey(tokenIn, tokenOut)
	slippage := (expectedOut - actualOut) / expectedOut
	SlippageObserved.WithLabelValues(pair).Observe(utils.Max(0, slippage))

	g.mu.Lock()
	recs := append(g.history[pair], models.SlippageRecord{
		Pair:      pair,
		Tolerance: tolerance,
		Expected:  expectedOut,
		Actual:    actualOut,
		Slippage:  slippage,
		Timestamp: g.now(),
	})
	if over := len(recs) - g.cfg.HistorySize; over > 0 {
		recs = append(recs[:0:0], recs[over:]...)
	}
	g.history[pair] = recs

	alert, firing := g.pairAlertLocked(pair, recs)
	wasFiring := g.alerting[pair]
	g.alerting[pair] = firing
	g.mu.Unlock()

	if firing && !wasFiring {
		g.logger.Warn("abnormal slippage", utils.Pair(pair),
			utils.Slippage(alert.AverageSlippage), zap.Float64("tolerance", alert.Tolerance))
		tryEnqueueNotification(g.notificationChan, &models.Notification{
			Timestamp: alert.Timestamp,
			Type:      models.NotificationTypeSlippage,
			Severity:  models.SeverityWarn,
			Message:   alert.Message,
			Meta: map[string]interface{}{
				"pair":             pair,
				"average_slippage": alert.AverageSlippage,
				"tolerance":        alert.Tolerance,
				"samples":          alert.Samples,
			},
		})
	}
	return slippage
}

// pairAlertLocked проверяет средний slippage последних AlertWindow исполнений
func (g *SlippageGuard) pairAlertLocked(pair string, recs []models.SlippageRecord) (models.SlippageAlert, bool) {
	n := g.cfg.AlertWindow
	if n <= 0 || len(recs) == 0 {
		return models.SlippageAlert{}, false
	}
	if len(recs) < n {
		n = len(recs)
	}
	recent := recs[len(recs)-n:]

	slips := make([]float64, 0, n)
	tols := make([]float64, 0, n)
	for _, r := range recent {
		slips = append(slips, r.Slippage)
		tols = append(tols, r.Tolerance)
	}
	avg := utils.Mean(slips)
	tol := utils.Mean(tols)
	if tol <= 0 || avg <= tol*g.cfg.AlertMultiple {
		return models.SlippageAlert{}, false
	}

	return models.SlippageAlert{
		Pair:            pair,
		AverageSlippage: avg,
		Tolerance:       tol,
		Samples:         n,
		Message: fmt.Sprintf("average slippage %.2f%% on %s over %d trades exceeds %.1fx tolerance %.2f%%",
			avg*100, pair, n, g.cfg.AlertMultiple, tol*100),
		Timestamp: recent[len(recent)-1].Timestamp,
	}, true
}

// GetSlippageAlerts возвращает пары с аномальным средним slippage
func (g *SlippageGuard) GetSlippageAlerts() []models.SlippageAlert {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := []models.SlippageAlert{}
	for pair, recs := range g.history {
		if a, ok := g.pairAlertLocked(pair, recs); ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// History возвращает копию истории исполнений пары
func (g *SlippageGuard) History(tokenIn, tokenOut string) []models.SlippageRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.SlippageRecord{}, g.history[pairKey(tokenIn, tokenOut)]...)
}
