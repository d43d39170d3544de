package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"riskguard/internal/gateway"
	"riskguard/internal/models"
)

func TestLiquidationPriority(t *testing.T) {
	tests := []struct {
		name  string
		pct   float64
		value float64
		age   time.Duration
		want  int
	}{
		{"базовый", 0.1, 100, 0, 50},
		{"концентрация > 50%", 0.6, 100, 0, 30},
		{"концентрация > 30%", 0.4, 100, 0, 40},
		{"стоимость > 1000", 0.1, 2000, 0, 35},
		{"стоимость > 500", 0.1, 600, 0, 45},
		{"старше суток", 0.1, 100, 25 * time.Hour, 60},
		{"крупная концентрированная", 0.6, 2000, 0, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LiquidationPriority(tt.pct, tt.value, tt.age); got != tt.want {
				t.Errorf("LiquidationPriority = %d, ожидалось %d", got, tt.want)
			}
		})
	}
}

func TestLiquidationPriority_AtLeastOne(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("priority >= 1", prop.ForAll(
		func(pct, value float64, hours int) bool {
			return LiquidationPriority(pct, value, time.Duration(hours)*time.Hour) >= 1
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1e7),
		gen.IntRange(0, 1000),
	))
	properties.TestingRun(t)
}

func TestBuildLiquidationPlans_OrderAndMethod(t *testing.T) {
	candidates := []LiquidationCandidate{
		{Holding: gateway.WalletBalance{Token: "SMALL", Amount: 100}, ValueUSD: 100, PercentOfPortfolio: 0.1},
		{Holding: gateway.WalletBalance{Token: "USDC", Amount: 500}, ValueUSD: 500, PercentOfPortfolio: 0.2},
		{Holding: gateway.LiquidityPosition{ID: "42", Token0: "ETH", Token1: "USDC", Liquidity: 10}, ValueUSD: 800, PercentOfPortfolio: 0.3},
		{Holding: gateway.WalletBalance{Token: "BIG", Amount: 1}, ValueUSD: 2000, PercentOfPortfolio: 0.6},
		{Holding: gateway.WalletBalance{Token: "ZERO", Amount: 0}, ValueUSD: 0},
	}

	plans := BuildLiquidationPlans(candidates, "USDC")
	if len(plans) != 3 {
		t.Fatalf("ожидалось 3 плана (без quote-актива и нулевой позиции), получено %d", len(plans))
	}

	wantOrder := []string{"BIG", "ETH/USDC", "SMALL"}
	for i, p := range plans {
		if p.Token != wantOrder[i] {
			t.Errorf("план %d: %s, ожидался %s", i, p.Token, wantOrder[i])
		}
		if p.MaxSlippage != 0.10 {
			t.Errorf("план %s: maxSlippage %v, ожидалось 0.10", p.Token, p.MaxSlippage)
		}
		if i > 0 && plans[i-1].Priority > p.Priority {
			t.Error("планы должны идти по возрастанию приоритета")
		}
	}
	if plans[1].Method != models.MethodRemoveLiquidity || plans[1].PositionID != "42" {
		t.Errorf("позиция ликвидности: метод %s id %q", plans[1].Method, plans[1].PositionID)
	}
	if plans[0].Method != models.MethodMarketSell {
		t.Errorf("баланс кошелька: метод %s, ожидался MARKET_SELL", plans[0].Method)
	}
}

// TestLiquidateAll_Ordering - концентрированная крупная позиция ликвидируется первой
func TestLiquidateAll_Ordering(t *testing.T) {
	market := newFakeMarket()
	// SMALL: 100 USD (0.1 портфеля), BIG: 2000 USD (~0.6), остальное в USDC
	market.set([]gateway.WalletBalance{
		{Token: "SMALL", Amount: 100},
		{Token: "BIG", Amount: 2},
		{Token: "USDC", Amount: 1233},
	}, map[string]float64{"SMALL": 1, "BIG": 1000, "USDC": 1})
	exec := newFakeExec()

	l := NewLiquidator(market, exec, "USDC", time.Second, nil)
	res := l.LiquidateAll(context.Background(), testAddress)

	if !res.Success || res.LiquidatedCount != 2 {
		t.Fatalf("ожидалась ликвидация 2 позиций, получено %+v", res)
	}
	got := exec.swapTokens()
	if len(got) != 2 || got[0] != "BIG" || got[1] != "SMALL" {
		t.Errorf("порядок свопов %v, ожидался [BIG SMALL]", got)
	}
	if !approx(res.LiquidatedValue, 2100) {
		t.Errorf("LiquidatedValue = %v, ожидалось 2100", res.LiquidatedValue)
	}
	for _, s := range exec.swaps {
		if s.TokenOut != "USDC" || s.SlippageTolerance != 0.10 || s.UserAddress != testAddress {
			t.Errorf("неверный запрос свопа %+v", s)
		}
	}
}

func TestLiquidateAll_FallbackToEmergencySwap(t *testing.T) {
	market := newFakeMarket()
	market.set([]gateway.WalletBalance{{Token: "ETH", Amount: 1}}, map[string]float64{"ETH": 2000})
	exec := newFakeExec()
	exec.failSwap[gateway.UrgencyHigh] = true

	res := NewLiquidator(market, exec, "USDC", time.Second, nil).LiquidateAll(context.Background(), testAddress)

	if !res.Success || len(res.Steps) != 1 {
		t.Fatalf("ожидался один успешный шаг, получено %+v", res)
	}
	if res.Steps[0].Method != models.MethodEmergencySwap {
		t.Errorf("метод %s, ожидался EMERGENCY_SWAP", res.Steps[0].Method)
	}
	if len(exec.swaps) != 2 || exec.swaps[1].Urgency != gateway.UrgencyEmergency {
		t.Errorf("ожидались MARKET_SELL и EMERGENCY_SWAP, получено %+v", exec.swaps)
	}
}

func TestLiquidateAll_ContinuesPastFailures(t *testing.T) {
	market := newFakeMarket()
	market.set([]gateway.WalletBalance{
		{Token: "ETH", Amount: 1},
		{Token: "ARB", Amount: 100},
	}, map[string]float64{"ETH": 2000, "ARB": 1})
	market.positions = []gateway.LiquidityPosition{
		{ID: "7", Token0: "ETH", Token1: "USDC", Liquidity: 5, Amount0: 0.1, Amount1: 100},
	}
	exec := newFakeExec()
	exec.failTokens["ETH"] = true
	exec.failRemoval = true

	res := NewLiquidator(market, exec, "USDC", time.Second, nil).LiquidateAll(context.Background(), testAddress)

	if res.LiquidatedCount != 1 || !res.Success {
		t.Errorf("частичная ликвидация считается успехом: %+v", res)
	}
	if len(res.Errors) != 2 {
		t.Errorf("ожидалось 2 ошибки, получено %v", res.Errors)
	}
	if len(res.Steps) != 3 {
		t.Errorf("все планы должны быть исполнены, шагов %d", len(res.Steps))
	}
}

func TestLiquidateAll_FetchFailure(t *testing.T) {
	market := newFakeMarket()
	market.setErr(errors.New("rpc down"))

	res := NewLiquidator(market, newFakeExec(), "USDC", time.Second, nil).LiquidateAll(context.Background(), testAddress)
	if res.Success || len(res.Errors) != 1 {
		t.Errorf("ожидался неуспех с одной ошибкой, получено %+v", res)
	}
}
