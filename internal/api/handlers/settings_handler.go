package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/internal/risk"
	"riskguard/internal/service"
)

// SettingsHandler отвечает за runtime-настройки риска
//
// Endpoints:
// - GET /api/v1/settings - режим, лимиты и триггеры
// - PATCH /api/v1/risk/limits - частичное обновление лимитов
// - PUT /api/v1/risk/mode - смена режима торговли
// - PATCH /api/v1/emergency/triggers - частичное обновление триггеров
//
// Обновление валидируется целиком: при ошибке ничего не меняется.
// Изменения сохраняются в БД и применяются при следующем старте.
type SettingsHandler struct {
	settingsService SettingsServiceInterface
	logger          *zap.Logger
}

// NewSettingsHandler создает новый SettingsHandler
func NewSettingsHandler(settingsService SettingsServiceInterface, logger *zap.Logger) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{settingsService: settingsService, logger: logger}
}

// SettingsUpdateResponse результат обновления
//
// persisted=false означает, что значения действуют до перезапуска.
type SettingsUpdateResponse struct {
	Settings  models.RiskSettings `json:"settings"`
	Persisted bool                `json:"persisted"`
	Warning   string              `json:"warning,omitempty"`
}

// TradingModeRequest тело смены режима
type TradingModeRequest struct {
	Mode models.TradingMode `json:"mode"`
}

// GetSettings возвращает действующие настройки
//
// GET /api/v1/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.settingsService.GetSettings())
}

// UpdateLimits обновляет лимиты позиций
//
// PATCH /api/v1/risk/limits
//
// HTTP коды:
// - 200 OK: лимиты применены
// - 400 Bad Request: итоговые лимиты невалидны
func (h *SettingsHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var update models.LimitsUpdate
	if err := decodeJSON(r, &update, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	_, err := h.settingsService.UpdateLimits(update)
	h.respondUpdate(w, err)
}

// UpdateTriggers обновляет пороги аварийной остановки
//
// PATCH /api/v1/emergency/triggers
func (h *SettingsHandler) UpdateTriggers(w http.ResponseWriter, r *http.Request) {
	var update models.TriggersUpdate
	if err := decodeJSON(r, &update, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	_, err := h.settingsService.UpdateTriggers(update)
	h.respondUpdate(w, err)
}

// SetTradingMode переключает профиль риска
//
// PUT /api/v1/risk/mode
func (h *SettingsHandler) SetTradingMode(w http.ResponseWriter, r *http.Request) {
	var req TradingModeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if !models.ValidTradingMode(req.Mode) {
		respondWithError(w, http.StatusBadRequest, CodeValidation, risk.ErrUnknownMode.Error()+": "+string(req.Mode))
		return
	}
	h.respondUpdate(w, h.settingsService.SetTradingMode(req.Mode))
}

// respondUpdate переводит ошибку сервиса в HTTP ответ
func (h *SettingsHandler) respondUpdate(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, SettingsUpdateResponse{
			Settings:  h.settingsService.GetSettings(),
			Persisted: true,
		})
	case errors.Is(err, service.ErrSettingsNotPersisted):
		h.logger.Warn("settings applied without persistence", zap.Error(err))
		respondWithJSON(w, http.StatusOK, SettingsUpdateResponse{
			Settings:  h.settingsService.GetSettings(),
			Persisted: false,
			Warning:   err.Error(),
		})
	case errors.Is(err, risk.ErrInvalidLimits), errors.Is(err, risk.ErrInvalidTriggers), errors.Is(err, risk.ErrUnknownMode):
		respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
