package handlers

import (
	"net/http"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// SlippageHandler отвечает за Slippage Guard
//
// Endpoints:
// - POST /api/v1/slippage/validate - проверка исполнения (с учетом в истории пары)
// - POST /api/v1/slippage/dynamic - допуск по рыночным условиям
// - POST /api/v1/slippage/split - рекомендация дробления сделки
// - GET /api/v1/slippage/alerts - пары с аномальным средним slippage
type SlippageHandler struct {
	engine SlippageEngine
}

// NewSlippageHandler создает SlippageHandler
func NewSlippageHandler(engine SlippageEngine) *SlippageHandler {
	return &SlippageHandler{engine: engine}
}

// ValidateSlippageRequest тело проверки исполнения
//
// Если указаны token_in и token_out, исполнение записывается в историю пары.
type ValidateSlippageRequest struct {
	Tolerance   float64 `json:"tolerance"`
	ExpectedOut float64 `json:"expected_out"`
	ActualOut   float64 `json:"actual_out"`
	TokenIn     string  `json:"token_in,omitempty"`
	TokenOut    string  `json:"token_out,omitempty"`
}

// ValidateSlippageResponse результат проверки
type ValidateSlippageResponse struct {
	models.SlippageValidation
	Recorded bool `json:"recorded"`
}

// DynamicSlippageRequest тело расчета динамического допуска
type DynamicSlippageRequest struct {
	BaseTolerance    float64                 `json:"base_tolerance"`
	MarketConditions models.MarketConditions `json:"market_conditions"`
}

// SplitRequest тело рекомендации дробления
type SplitRequest struct {
	Amount           float64                 `json:"amount"`
	MarketConditions models.MarketConditions `json:"market_conditions"`
}

// SlippageAlertsResponse ответ списка алертов
type SlippageAlertsResponse struct {
	Alerts []models.SlippageAlert `json:"alerts"`
	Total  int                    `json:"total"`
}

// ValidateSlippage проверяет фактический slippage исполнения
//
// POST /api/v1/slippage/validate
//
// Превышение допуска - это результат valid=false, а не HTTP ошибка.
func (h *SlippageHandler) ValidateSlippage(w http.ResponseWriter, r *http.Request) {
	var req ValidateSlippageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	var verr utils.ValidationErrors
	verr.AddError("tolerance", utils.ValidateFraction(req.Tolerance))
	verr.AddError("expected_out", utils.ValidatePositive(req.ExpectedOut))
	verr.AddError("actual_out", utils.ValidateNonNegative(req.ActualOut))
	record := req.TokenIn != "" || req.TokenOut != ""
	if record {
		req.TokenIn = utils.NormalizeToken(req.TokenIn)
		req.TokenOut = utils.NormalizeToken(req.TokenOut)
		verr.AddError("token_in", utils.ValidateToken(req.TokenIn))
		verr.AddError("token_out", utils.ValidateToken(req.TokenOut))
	}
	if verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	resp := ValidateSlippageResponse{
		SlippageValidation: h.engine.ValidateSlippage(req.Tolerance, req.ExpectedOut, req.ActualOut),
	}
	if record {
		h.engine.RecordExecution(req.TokenIn, req.TokenOut, req.Tolerance, req.ExpectedOut, req.ActualOut)
		resp.Recorded = true
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// CalculateDynamicSlippage рассчитывает допуск по рыночным условиям
//
// POST /api/v1/slippage/dynamic
func (h *SlippageHandler) CalculateDynamicSlippage(w http.ResponseWriter, r *http.Request) {
	var req DynamicSlippageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	var verr utils.ValidationErrors
	verr.AddError("base_tolerance", utils.ValidateFraction(req.BaseTolerance))
	verr.AddError("market_conditions", validateMarketConditions(req.MarketConditions))
	if verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	respondWithJSON(w, http.StatusOK, h.engine.CalculateDynamicSlippage(req.BaseTolerance, req.MarketConditions))
}

// RecommendTradeSplitting советует дробить крупную сделку
//
// POST /api/v1/slippage/split
func (h *SlippageHandler) RecommendTradeSplitting(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	var verr utils.ValidationErrors
	verr.AddError("amount", utils.ValidatePositive(req.Amount))
	verr.AddError("market_conditions", validateMarketConditions(req.MarketConditions))
	if verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	respondWithJSON(w, http.StatusOK, h.engine.RecommendTradeSplitting(req.Amount, req.MarketConditions))
}

// GetSlippageAlerts возвращает пары с аномальным slippage
//
// GET /api/v1/slippage/alerts
func (h *SlippageHandler) GetSlippageAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.engine.GetSlippageAlerts()
	if alerts == nil {
		alerts = []models.SlippageAlert{}
	}
	respondWithJSON(w, http.StatusOK, SlippageAlertsResponse{Alerts: alerts, Total: len(alerts)})
}

// validateMarketConditions запрещает отрицательные значения; нули означают "неизвестно"
func validateMarketConditions(mc models.MarketConditions) error {
	for _, v := range []float64{mc.Volatility, mc.Liquidity, mc.Volume, mc.Spread, mc.PoolLiquidity} {
		if err := utils.ValidateNonNegative(v); err != nil {
			return err
		}
	}
	return nil
}
