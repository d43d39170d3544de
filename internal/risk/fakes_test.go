package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
)

// fakeMarket - MarketState с управляемыми данными
type fakeMarket struct {
	mu        sync.Mutex
	balances  []gateway.WalletBalance
	positions []gateway.LiquidityPosition
	prices    map[string]float64
	err       error
	calls     int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: map[string]float64{}}
}

func (f *fakeMarket) set(balances []gateway.WalletBalance, prices map[string]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = balances
	f.prices = prices
}

func (f *fakeMarket) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMarket) GetBalances(_ context.Context, _ string) ([]gateway.WalletBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]gateway.WalletBalance(nil), f.balances...), nil
}

func (f *fakeMarket) GetPrices(_ context.Context, tokens []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		out[t] = f.prices[t]
	}
	return out, nil
}

func (f *fakeMarket) GetPositions(_ context.Context, _ string) ([]gateway.LiquidityPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]gateway.LiquidityPosition(nil), f.positions...), nil
}

// fakeExec - Execution, записывающий порядок вызовов
type fakeExec struct {
	mu          sync.Mutex
	swaps       []gateway.SwapRequest
	removals    []gateway.RemoveLiquidityRequest
	failSwap    map[gateway.Urgency]bool
	failTokens  map[string]bool
	failRemoval bool
	delay       time.Duration
}

func newFakeExec() *fakeExec {
	return &fakeExec{failSwap: map[gateway.Urgency]bool{}, failTokens: map[string]bool{}}
}

func (f *fakeExec) ExecuteSwap(ctx context.Context, req gateway.SwapRequest) (*gateway.SwapResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps = append(f.swaps, req)
	if f.failTokens[req.TokenIn] {
		return nil, errors.New("swap reverted")
	}
	if f.failSwap[req.Urgency] {
		return &gateway.SwapResult{Success: false, Error: "insufficient liquidity"}, nil
	}
	return &gateway.SwapResult{Success: true, TransactionID: "tx-" + req.TokenIn, AmountOut: req.AmountIn}, nil
}

func (f *fakeExec) RemoveLiquidity(_ context.Context, req gateway.RemoveLiquidityRequest) (*gateway.RemoveLiquidityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, req)
	if f.failRemoval {
		return nil, errors.New("position locked")
	}
	return &gateway.RemoveLiquidityResult{Success: true, Amount0: 1, Amount1: 1}, nil
}

func (f *fakeExec) swapTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.swaps))
	for _, s := range f.swaps {
		out = append(out, s.TokenIn)
	}
	return out
}

// fakeClock - управляемое время
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// diversified - портфель из пяти равных позиций по 200 USD
func diversified() ([]gateway.WalletBalance, map[string]float64) {
	return []gateway.WalletBalance{
			{Token: "ETH", Amount: 0.1},
			{Token: "BTC", Amount: 0.005},
			{Token: "SOL", Amount: 2},
			{Token: "ARB", Amount: 200},
			{Token: "USDC", Amount: 200},
		}, map[string]float64{
			"ETH":  2000,
			"BTC":  40000,
			"SOL":  100,
			"ARB":  1,
			"USDC": 1,
		}
}

func drain(ch <-chan *models.Notification) []*models.Notification {
	var out []*models.Notification
	for {
		select {
		case n := <-ch:
			out = append(out, n)
		default:
			return out
		}
	}
}
