package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Параметры аварийной ликвидации
const (
	basePriority          = 50
	emergencyMaxSlippage  = 0.10
	defaultStepTimeout    = 15 * time.Second
	agedPositionThreshold = 24 * time.Hour
)

// LiquidationPriority - приоритет плана, меньше = срочнее
//
// Большие и концентрированные позиции закрываются первыми, позиции
// старше суток откладываются. Результат не меньше 1.
func LiquidationPriority(percentOfPortfolio, valueUSD float64, age time.Duration) int {
	p := basePriority
	switch {
	case percentOfPortfolio > 0.5:
		p -= 20
	case percentOfPortfolio > 0.3:
		p -= 10
	}
	switch {
	case valueUSD > 1000:
		p -= 15
	case valueUSD > 500:
		p -= 5
	}
	if age > agedPositionThreshold {
		p += 10
	}
	if p < 1 {
		p = 1
	}
	return p
}

// LiquidationCandidate - позиция, подлежащая ликвидации
type LiquidationCandidate struct {
	Holding            gateway.Holding
	ValueUSD           float64
	PercentOfPortfolio float64
	Age                time.Duration
}

// BuildLiquidationPlans строит отсортированный по приоритету список планов
//
// Метод выбирается по типу позиции. Нулевые позиции и сам quote-актив пропускаются.
func BuildLiquidationPlans(candidates []LiquidationCandidate, quoteAsset string) []models.LiquidationPlan {
	plans := make([]models.LiquidationPlan, 0, len(candidates))
	for _, c := range candidates {
		plan := models.LiquidationPlan{
			Priority:       LiquidationPriority(c.PercentOfPortfolio, c.ValueUSD, c.Age),
			EstimatedValue: c.ValueUSD,
			MaxSlippage:    emergencyMaxSlippage,
		}
		switch h := c.Holding.(type) {
		case gateway.LiquidityPosition:
			if h.Liquidity <= 0 {
				continue
			}
			plan.Token = h.Label()
			plan.Kind = models.HoldingLiquidity
			plan.PositionID = h.ID
			plan.Amount = h.Liquidity
			plan.Method = models.MethodRemoveLiquidity
		case gateway.WalletBalance:
			if h.Amount <= 0 || h.Token == quoteAsset {
				continue
			}
			plan.Token = h.Token
			plan.Kind = models.HoldingWallet
			plan.Amount = h.Amount
			plan.Method = models.MethodMarketSell
		default:
			continue
		}
		plans = append(plans, plan)
	}

	sort.SliceStable(plans, func(i, j int) bool { return plans[i].Priority < plans[j].Priority })
	return plans
}

// Liquidator исполняет планы аварийной ликвидации через Execution gateway
type Liquidator struct {
	market      gateway.MarketState
	exec        gateway.Execution
	quoteAsset  string
	stepTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	// ageFn возвращает возраст позиции по ключу, если монитор его знает
	ageFn func(address string) map[string]time.Duration
}

// NewLiquidator создаёт исполнитель ликвидации
func NewLiquidator(market gateway.MarketState, exec gateway.Execution, quoteAsset string, stepTimeout time.Duration, logger *zap.Logger) *Liquidator {
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Liquidator{
		market:      market,
		exec:        exec,
		quoteAsset:  quoteAsset,
		stepTimeout: stepTimeout,
		logger:      logger.Named("liquidator"),
		now:         time.Now,
	}
}

// candidates загружает позиции и живые цены
func (l *Liquidator) candidates(ctx context.Context, address string) ([]LiquidationCandidate, error) {
	var (
		balances  []gateway.WalletBalance
		positions []gateway.LiquidityPosition
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = l.market.GetBalances(gctx, address)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = l.market.GetPositions(gctx, address)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	holdings := gateway.Holdings(balances, positions)
	prices := map[string]float64{}
	if tokens := gateway.Tokens(holdings); len(tokens) > 0 {
		var err error
		prices, err = l.market.GetPrices(ctx, tokens)
		if err != nil {
			return nil, fmt.Errorf("fetch prices: %w", err)
		}
	}

	var ages map[string]time.Duration
	if l.ageFn != nil {
		ages = l.ageFn(address)
	}

	out := make([]LiquidationCandidate, 0, len(holdings))
	var total float64
	for _, h := range holdings {
		c := LiquidationCandidate{Holding: h}
		switch v := h.(type) {
		case gateway.WalletBalance:
			c.ValueUSD = v.Amount * prices[v.Token]
			c.Age = ages["wallet:"+v.Token]
		case gateway.LiquidityPosition:
			c.ValueUSD = v.ValueUSD(prices)
			if !v.CreatedAt.IsZero() {
				c.Age = l.now().Sub(v.CreatedAt)
			} else {
				c.Age = ages["lp:"+v.ID]
			}
		}
		total += c.ValueUSD
		out = append(out, c)
	}
	for i := range out {
		out[i].PercentOfPortfolio = utils.Clamp(utils.SafeDiv(out[i].ValueUSD, total), 0, 1)
	}
	return out, nil
}

// LiquidateAll закрывает все позиции address в порядке приоритета
//
// Ошибка одного шага не прерывает остальные. Success = закрыта хотя бы одна позиция.
func (l *Liquidator) LiquidateAll(ctx context.Context, address string) *models.LiquidationResult {
	res := &models.LiquidationResult{Steps: []models.LiquidationStep{}}

	candidates, err := l.candidates(ctx, address)
	if err != nil {
		l.logger.Error("liquidation aborted: positions unavailable", zap.String("address", address), zap.Error(err))
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	plans := BuildLiquidationPlans(candidates, l.quoteAsset)
	l.logger.Warn("emergency liquidation started", zap.String("address", address), zap.Int("plans", len(plans)))

	liquidated := decimal.Zero
	for _, plan := range plans {
		step := l.execute(ctx, address, plan)
		res.Steps = append(res.Steps, step)

		result := "failed"
		if step.Success {
			result = "ok"
			l.logger.Info("position liquidated", utils.Token(plan.Token),
				zap.String("method", string(step.Method)), utils.ValueUSD(plan.EstimatedValue), utils.TxID(step.TxID))
			res.LiquidatedCount++
			liquidated = liquidated.Add(decimal.NewFromFloat(plan.EstimatedValue))
		} else {
			res.Errors = append(res.Errors, fmt.Sprintf("%s (%s): %s", plan.Token, step.Method, step.Error))
		}
		LiquidationSteps.WithLabelValues(string(step.Method), result).Inc()
	}

	res.LiquidatedValue = liquidated.InexactFloat64()
	res.Success = res.LiquidatedCount > 0
	LiquidatedValue.Add(res.LiquidatedValue)

	l.logger.Warn("emergency liquidation finished",
		zap.String("address", address),
		zap.Int("liquidated", res.LiquidatedCount),
		zap.Int("failed", len(res.Errors)),
		zap.Float64("value_usd", res.LiquidatedValue))
	return res
}

func (l *Liquidator) execute(ctx context.Context, address string, plan models.LiquidationPlan) models.LiquidationStep {
	switch plan.Method {
	case models.MethodRemoveLiquidity:
		return l.removeLiquidity(ctx, address, plan)
	case models.MethodMarketSell:
		step := l.swap(ctx, address, plan, models.MethodMarketSell, gateway.UrgencyHigh)
		if step.Success {
			return step
		}
		l.logger.Warn("market sell failed, falling back to emergency swap",
			zap.String("token", plan.Token), zap.String("error", step.Error))
		fallback := l.swap(ctx, address, plan, models.MethodEmergencySwap, gateway.UrgencyEmergency)
		if !fallback.Success {
			fallback.Error = fmt.Sprintf("market sell: %s; emergency swap: %s", step.Error, fallback.Error)
		}
		return fallback
	default:
		return l.swap(ctx, address, plan, models.MethodEmergencySwap, gateway.UrgencyEmergency)
	}
}

func (l *Liquidator) swap(ctx context.Context, address string, plan models.LiquidationPlan, method models.LiquidationMethod, urgency gateway.Urgency) models.LiquidationStep {
	step := models.LiquidationStep{Plan: plan, Method: method}

	stepCtx, cancel := context.WithTimeout(ctx, l.stepTimeout)
	defer cancel()

	resp, err := l.exec.ExecuteSwap(stepCtx, gateway.SwapRequest{
		TokenIn:           plan.Token,
		TokenOut:          l.quoteAsset,
		AmountIn:          plan.Amount,
		UserAddress:       address,
		SlippageTolerance: plan.MaxSlippage,
		Urgency:           urgency,
		Deadline:          l.now().Add(l.stepTimeout),
	})
	switch {
	case err != nil:
		step.Error = err.Error()
	case resp == nil || !resp.Success:
		step.Error = "swap rejected"
		if resp != nil && resp.Error != "" {
			step.Error = resp.Error
		}
	default:
		step.Success = true
		step.TxID = resp.TransactionID
	}
	return step
}

func (l *Liquidator) removeLiquidity(ctx context.Context, address string, plan models.LiquidationPlan) models.LiquidationStep {
	step := models.LiquidationStep{Plan: plan, Method: models.MethodRemoveLiquidity}

	stepCtx, cancel := context.WithTimeout(ctx, l.stepTimeout)
	defer cancel()

	resp, err := l.exec.RemoveLiquidity(stepCtx, gateway.RemoveLiquidityRequest{
		PositionID:  plan.PositionID,
		Liquidity:   plan.Amount,
		UserAddress: address,
		MaxSlippage: plan.MaxSlippage,
		Deadline:    l.now().Add(l.stepTimeout),
	})
	switch {
	case err != nil:
		step.Error = err.Error()
	case resp == nil || !resp.Success:
		step.Error = "remove liquidity rejected"
		if resp != nil && resp.Error != "" {
			step.Error = resp.Error
		}
	default:
		step.Success = true
	}
	return step
}
