package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// RiskHandler отвечает за проверки риска и лимитов
//
// Endpoints:
// - GET /api/v1/risk/check?address= - свежая проверка портфеля
// - POST /api/v1/risk/validate-trade - проверка сделки монитором
// - POST /api/v1/risk/can-open - проверка лимитов перед добавкой к позиции
// - POST /api/v1/risk/adjust-size - безопасный размер добавки
// - GET /api/v1/risk/violations?address= - текущие нарушения лимитов
// - GET /api/v1/risk/exposures?address= - экспозиции по токенам
// - POST /api/v1/risk/trades - учет исполненной сделки в дневном объеме
//
// Без address используется адрес, который отслеживает монитор.
type RiskHandler struct {
	engine RiskEngine
	logger *zap.Logger
}

// NewRiskHandler создает RiskHandler
func NewRiskHandler(engine RiskEngine, logger *zap.Logger) *RiskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskHandler{engine: engine, logger: logger}
}

// PositionRequest тело запросов can-open, adjust-size и trades
type PositionRequest struct {
	Token     string  `json:"token"`
	AmountUSD float64 `json:"amount_usd"`
	Address   string  `json:"address,omitempty"`
}

func (req *PositionRequest) validate(requireAmount bool) utils.ValidationErrors {
	var verr utils.ValidationErrors
	req.Token = utils.NormalizeToken(req.Token)
	verr.AddError("token", utils.ValidateToken(req.Token))
	if requireAmount {
		verr.AddError("amount_usd", utils.ValidatePositive(req.AmountUSD))
	} else {
		verr.AddError("amount_usd", utils.ValidateNonNegative(req.AmountUSD))
	}
	if req.Address != "" {
		addr, err := utils.NormalizeAddress(req.Address)
		verr.AddError("address", err)
		req.Address = addr
	}
	return verr
}

// CheckRisk выполняет свежую проверку риска
//
// GET /api/v1/risk/check?address=0x...
//
// Ошибка загрузки данных не превращается в HTTP ошибку: движок возвращает
// критический результат с запретом торговли.
func (h *RiskHandler) CheckRisk(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r.URL.Query().Get("address"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, h.engine.PerformRiskCheck(r.Context(), address))
}

// ValidateTrade проверяет предлагаемую сделку
//
// POST /api/v1/risk/validate-trade
//
// Тело: models.TradeParams (amount_in в USD).
func (h *RiskHandler) ValidateTrade(w http.ResponseWriter, r *http.Request) {
	var params models.TradeParams
	if err := decodeJSON(r, &params, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	var verr utils.ValidationErrors
	params.TokenIn = utils.NormalizeToken(params.TokenIn)
	params.TokenOut = utils.NormalizeToken(params.TokenOut)
	verr.AddError("token_in", utils.ValidateToken(params.TokenIn))
	verr.AddError("token_out", utils.ValidateToken(params.TokenOut))
	verr.AddError("amount_in", utils.ValidatePositive(params.AmountIn))
	if params.Address != "" {
		addr, err := utils.NormalizeAddress(params.Address)
		verr.AddError("address", err)
		params.Address = addr
	}
	if verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	respondWithJSON(w, http.StatusOK, h.engine.ValidateTrade(r.Context(), params))
}

// CanOpenPosition проверяет лимиты перед сделкой
//
// POST /api/v1/risk/can-open
func (h *RiskHandler) CanOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if verr := req.validate(false); verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	respondWithJSON(w, http.StatusOK, h.engine.CanOpenPosition(r.Context(), req.Token, req.AmountUSD, req.Address))
}

// AdjustPositionSize возвращает безопасный размер добавки к позиции
//
// POST /api/v1/risk/adjust-size
func (h *RiskHandler) AdjustPositionSize(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if verr := req.validate(true); verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	respondWithJSON(w, http.StatusOK, h.engine.AdjustPositionSize(r.Context(), req.Token, req.AmountUSD, req.Address))
}

// ViolationsResponse ответ списка нарушений
type ViolationsResponse struct {
	Violations []models.LimitViolation `json:"violations"`
	Total      int                     `json:"total"`
}

// GetViolations возвращает нарушения лимитов
//
// GET /api/v1/risk/violations?address=0x...
func (h *RiskHandler) GetViolations(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r.URL.Query().Get("address"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	violations := h.engine.GetViolations(r.Context(), address)
	respondWithJSON(w, http.StatusOK, ViolationsResponse{Violations: violations, Total: len(violations)})
}

// ExposuresResponse ответ экспозиций
type ExposuresResponse struct {
	Exposures []models.PositionExposure `json:"exposures"`
	TotalUSD  float64                   `json:"total_usd"`
}

// GetExposures возвращает экспозиции по токенам
//
// GET /api/v1/risk/exposures?address=0x...
func (h *RiskHandler) GetExposures(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r.URL.Query().Get("address"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	exposures := h.engine.CalculateExposures(r.Context(), address)

	var total float64
	for _, e := range exposures {
		total += e.ValueUSD
	}
	respondWithJSON(w, http.StatusOK, ExposuresResponse{Exposures: exposures, TotalUSD: total})
}

// RecordTrade учитывает исполненную сделку
//
// POST /api/v1/risk/trades
//
// HTTP коды:
// - 201 Created: объем учтен
// - 400 Bad Request: невалидные параметры
// - 503 Service Unavailable: хранилище объемов недоступно
func (h *RiskHandler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if verr := req.validate(true); verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	if err := h.engine.RecordTrade(r.Context(), req.Token, req.AmountUSD); err != nil {
		h.logger.Error("failed to record trade", utils.Token(req.Token), utils.ValueUSD(req.AmountUSD), zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, CodeInternal, "Failed to record trade: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, SuccessResponse{Message: "Trade recorded"})
}
