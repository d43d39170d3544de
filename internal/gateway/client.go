package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"riskguard/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody - сколько байт тела ответа сохраняем в ошибке
const maxErrorBody = 512

// ClientConfig - настройки REST клиента DEX-агрегатора
type ClientConfig struct {
	BaseURL   string
	APIKey    string       // передаётся в X-API-Key
	RateLimit float64      // запросов в секунду (<=0 - без ограничения)
	Burst     int          // размер burst лимитера
	Retry     retry.Config // повторы только для чтения
	Transport TransportConfig
}

// Client реализует MarketState и Execution поверх REST API
//
//	GET  /v1/balances/{address}
//	POST /v1/prices
//	GET  /v1/positions/{address}
//	POST /v1/swap
//	POST /v1/liquidity/remove
//
// Суммы и цены приходят десятичными строками и разбираются через decimal.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   retry.Config
	logger  *zap.Logger
}

// NewClient создаёт клиент; logger может быть nil
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway: base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid base URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.GatewayReadConfig()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    NewHTTPClient(cfg.Transport),
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg.Retry,
		logger:  logger.Named("gateway"),
	}
	c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("gateway read failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return c, nil
}

// Close закрывает idle соединения
func (c *Client) Close() {
	CloseIdle(c.http)
}

// ============================================================
// Wire-типы
// ============================================================

type wireBalance struct {
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

type balancesResponse struct {
	Balances []wireBalance `json:"balances"`
}

type pricesRequest struct {
	Tokens []string `json:"tokens"`
}

type pricesResponse struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

type wirePosition struct {
	ID        string          `json:"id"`
	Token0    string          `json:"token0"`
	Token1    string          `json:"token1"`
	Liquidity decimal.Decimal `json:"liquidity"`
	Fee       int             `json:"fee"`
	TickLower int             `json:"tick_lower"`
	TickUpper int             `json:"tick_upper"`
	Amount0   decimal.Decimal `json:"amount0"`
	Amount1   decimal.Decimal `json:"amount1"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

type positionsResponse struct {
	Positions []wirePosition `json:"positions"`
}

type swapRequest struct {
	TokenIn           string  `json:"token_in"`
	TokenOut          string  `json:"token_out"`
	AmountIn          string  `json:"amount_in"`
	UserAddress       string  `json:"user_address"`
	SlippageTolerance string  `json:"slippage_tolerance"`
	Urgency           Urgency `json:"urgency"`
	Deadline          int64   `json:"deadline,omitempty"` // unix seconds
}

type swapResponse struct {
	Success       bool             `json:"success"`
	TransactionID string           `json:"transaction_id"`
	AmountOut     *decimal.Decimal `json:"amount_out"`
	Error         string           `json:"error"`
}

type removeLiquidityRequest struct {
	PositionID  string `json:"position_id"`
	Liquidity   string `json:"liquidity"`
	UserAddress string `json:"user_address"`
	MaxSlippage string `json:"max_slippage"`
	Deadline    int64  `json:"deadline,omitempty"`
}

type removeLiquidityResponse struct {
	Success bool             `json:"success"`
	Amount0 *decimal.Decimal `json:"amount0"`
	Amount1 *decimal.Decimal `json:"amount1"`
	Error   string           `json:"error"`
}

// ============================================================
// MarketState
// ============================================================

// GetBalances возвращает балансы кошелька; токены без символа пропускаются
func (c *Client) GetBalances(ctx context.Context, address string) ([]WalletBalance, error) {
	var resp balancesResponse
	err := retry.Do(ctx, func() error {
		return c.do(ctx, "GetBalances", http.MethodGet, "/v1/balances/"+url.PathEscape(address), nil, &resp)
	}, c.retry)
	if err != nil {
		return nil, err
	}

	out := make([]WalletBalance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		if b.Token == "" {
			continue
		}
		out = append(out, WalletBalance{Token: b.Token, Amount: b.Amount.InexactFloat64()})
	}
	return out, nil
}

// GetPrices возвращает цены токенов в USD, отрицательные цены отбрасываются
func (c *Client) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	if len(tokens) == 0 {
		return map[string]float64{}, nil
	}

	resp, err := retry.DoWithResult(ctx, func() (pricesResponse, error) {
		var resp pricesResponse
		err := c.do(ctx, "GetPrices", http.MethodPost, "/v1/prices", pricesRequest{Tokens: tokens}, &resp)
		return resp, err
	}, c.retry)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(resp.Prices))
	for token, p := range resp.Prices {
		if p.IsNegative() {
			c.logger.Warn("negative price ignored", zap.String("token", token), zap.String("price", p.String()))
			continue
		}
		out[token] = p.InexactFloat64()
	}
	return out, nil
}

// GetPositions возвращает открытые позиции ликвидности
func (c *Client) GetPositions(ctx context.Context, address string) ([]LiquidityPosition, error) {
	resp, err := retry.DoWithResult(ctx, func() (positionsResponse, error) {
		var resp positionsResponse
		err := c.do(ctx, "GetPositions", http.MethodGet, "/v1/positions/"+url.PathEscape(address), nil, &resp)
		return resp, err
	}, c.retry)
	if err != nil {
		return nil, err
	}

	out := make([]LiquidityPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		lp := LiquidityPosition{
			ID:        p.ID,
			Token0:    p.Token0,
			Token1:    p.Token1,
			Liquidity: p.Liquidity.InexactFloat64(),
			Fee:       p.Fee,
			TickLower: p.TickLower,
			TickUpper: p.TickUpper,
			Amount0:   p.Amount0.InexactFloat64(),
			Amount1:   p.Amount1.InexactFloat64(),
		}
		if p.CreatedAt != nil {
			lp.CreatedAt = *p.CreatedAt
		}
		out = append(out, lp)
	}
	return out, nil
}

// ============================================================
// Execution
// ============================================================

// ExecuteSwap отправляет своп без повторов
//
// Ответ с success=false не является ошибкой транспорта: возвращается SwapResult.
func (c *Client) ExecuteSwap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	body := swapRequest{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          decimal.NewFromFloat(req.AmountIn).String(),
		UserAddress:       req.UserAddress,
		SlippageTolerance: decimal.NewFromFloat(req.SlippageTolerance).String(),
		Urgency:           req.Urgency,
	}
	if !req.Deadline.IsZero() {
		body.Deadline = req.Deadline.Unix()
	}

	var resp swapResponse
	if err := c.do(ctx, "ExecuteSwap", http.MethodPost, "/v1/swap", body, &resp); err != nil {
		return nil, err
	}

	res := &SwapResult{Success: resp.Success, TransactionID: resp.TransactionID, Error: resp.Error}
	if resp.AmountOut != nil {
		res.AmountOut = resp.AmountOut.InexactFloat64()
	}
	return res, nil
}

// RemoveLiquidity выводит ликвидность позиции без повторов
func (c *Client) RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (*RemoveLiquidityResult, error) {
	body := removeLiquidityRequest{
		PositionID:  req.PositionID,
		Liquidity:   decimal.NewFromFloat(req.Liquidity).String(),
		UserAddress: req.UserAddress,
		MaxSlippage: decimal.NewFromFloat(req.MaxSlippage).String(),
	}
	if !req.Deadline.IsZero() {
		body.Deadline = req.Deadline.Unix()
	}

	var resp removeLiquidityResponse
	if err := c.do(ctx, "RemoveLiquidity", http.MethodPost, "/v1/liquidity/remove", body, &resp); err != nil {
		return nil, err
	}

	res := &RemoveLiquidityResult{Success: resp.Success, Error: resp.Error}
	if resp.Amount0 != nil {
		res.Amount0 = resp.Amount0.InexactFloat64()
	}
	if resp.Amount1 != nil {
		res.Amount1 = resp.Amount1.InexactFloat64()
	}
	return res, nil
}

// ============================================================
// Транспорт
// ============================================================

// do выполняет запрос и декодирует JSON ответ в out
//
// 4xx ошибки помечаются retry.Permanent.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &GatewayError{Op: op, Message: "rate limiter: " + err.Error(), Original: err}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return retry.Permanent(&GatewayError{Op: op, Message: "encode request", Original: err})
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return retry.Permanent(&GatewayError{Op: op, Message: "build request", Original: err})
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		requestErrors.WithLabelValues(op, "network").Inc()
		return &GatewayError{Op: op, Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		gerr := &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			requestErrors.WithLabelValues(op, "client").Inc()
			return retry.Permanent(gerr)
		}
		requestErrors.WithLabelValues(op, "server").Inc()
		return gerr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		requestErrors.WithLabelValues(op, "decode").Inc()
		return retry.Permanent(&GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Original: err})
	}
	return nil
}
