// Package gateway описывает границу с внешними сервисами DEX: состояние рынка
// (балансы, цены, позиции ликвидности) и исполнение (свопы, вывод ликвидности).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskguard/internal/models"
)

// MarketState поставляет состояние портфеля и цены
type MarketState interface {
	// GetBalances возвращает балансы токенов кошелька
	GetBalances(ctx context.Context, address string) ([]WalletBalance, error)

	// GetPrices возвращает цены токенов в USD; отсутствующие токены не включаются
	GetPrices(ctx context.Context, tokens []string) (map[string]float64, error)

	// GetPositions возвращает открытые позиции ликвидности
	GetPositions(ctx context.Context, address string) ([]LiquidityPosition, error)
}

// Execution исполняет свопы и вывод ликвидности
//
// Операции не идемпотентны и не повторяются автоматически.
type Execution interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (*SwapResult, error)
	RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (*RemoveLiquidityResult, error)
}

// ============================================================
// Holding - закрытый вариантный тип позиции
// ============================================================

// Holding - позиция портфеля: WalletBalance или LiquidityPosition
//
// Интерфейс закрыт (неэкспортируемый метод), поэтому type switch по нему
// покрывает все варианты.
type Holding interface {
	Kind() models.HoldingKind
	isHolding()
}

// WalletBalance - баланс токена на кошельке
type WalletBalance struct {
	Token  string  `json:"token"`
	Amount float64 `json:"amount"`
}

func (WalletBalance) Kind() models.HoldingKind { return models.HoldingWallet }
func (WalletBalance) isHolding()               {}

// LiquidityPosition - позиция концентрированной ликвидности (Uniswap v3 и аналоги)
type LiquidityPosition struct {
	ID        string    `json:"id"`
	Token0    string    `json:"token0"`
	Token1    string    `json:"token1"`
	Liquidity float64   `json:"liquidity"`
	Fee       int       `json:"fee"` // в сотых долях bps (3000 = 0.3%)
	TickLower int       `json:"tick_lower"`
	TickUpper int       `json:"tick_upper"`
	Amount0   float64   `json:"amount0"`
	Amount1   float64   `json:"amount1"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (LiquidityPosition) Kind() models.HoldingKind { return models.HoldingLiquidity }
func (LiquidityPosition) isHolding()               {}

// Label возвращает имя пары позиции ("WETH/USDC")
func (p LiquidityPosition) Label() string {
	return p.Token0 + "/" + p.Token1
}

// ValueUSD оценивает позицию по ценам обоих токенов
func (p LiquidityPosition) ValueUSD(prices map[string]float64) float64 {
	return p.Amount0*prices[p.Token0] + p.Amount1*prices[p.Token1]
}

// Holdings объединяет балансы и позиции в один список
func Holdings(balances []WalletBalance, positions []LiquidityPosition) []Holding {
	out := make([]Holding, 0, len(balances)+len(positions))
	for _, b := range balances {
		out = append(out, b)
	}
	for _, p := range positions {
		out = append(out, p)
	}
	return out
}

// Tokens возвращает уникальные токены всех позиций (в порядке появления)
func Tokens(holdings []Holding) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, h := range holdings {
		switch v := h.(type) {
		case WalletBalance:
			add(v.Token)
		case LiquidityPosition:
			add(v.Token0)
			add(v.Token1)
		}
	}
	return out
}

// ============================================================
// Исполнение
// ============================================================

// Urgency - приоритет исполнения свопа
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// SwapRequest - запрос на своп
type SwapRequest struct {
	TokenIn           string    `json:"token_in"`
	TokenOut          string    `json:"token_out"`
	AmountIn          float64   `json:"amount_in"`
	UserAddress       string    `json:"user_address"`
	SlippageTolerance float64   `json:"slippage_tolerance"`
	Urgency           Urgency   `json:"urgency"`
	Deadline          time.Time `json:"deadline,omitempty"`
}

// SwapResult - результат свопа
type SwapResult struct {
	Success       bool    `json:"success"`
	TransactionID string  `json:"transaction_id,omitempty"`
	AmountOut     float64 `json:"amount_out,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// RemoveLiquidityRequest - запрос на вывод ликвидности
type RemoveLiquidityRequest struct {
	PositionID  string    `json:"position_id"`
	Liquidity   float64   `json:"liquidity"`
	UserAddress string    `json:"user_address"`
	MaxSlippage float64   `json:"max_slippage"`
	Deadline    time.Time `json:"deadline,omitempty"`
}

// RemoveLiquidityResult - результат вывода ликвидности
type RemoveLiquidityResult struct {
	Success bool    `json:"success"`
	Amount0 float64 `json:"amount0,omitempty"`
	Amount1 float64 `json:"amount1,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ============================================================
// Ошибки
// ============================================================

// ErrGateway - базовая ошибка gateway для errors.Is
var ErrGateway = errors.New("gateway error")

// GatewayError представляет ошибку внешнего сервиса
type GatewayError struct {
	Op         string // GetBalances, ExecuteSwap, ...
	StatusCode int    // 0 для сетевых ошибок
	Message    string
	Original   error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *GatewayError) Unwrap() error {
	return e.Original
}

// Is делает любой GatewayError совместимым с ErrGateway
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}
