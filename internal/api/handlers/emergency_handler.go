package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/internal/risk"
	"riskguard/pkg/utils"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// EmergencyHandler управляет аварийной остановкой
//
// Endpoints:
// - GET /api/v1/emergency - состояние breaker
// - POST /api/v1/emergency/activate - ручная активация
// - POST /api/v1/emergency/deactivate - снятие остановки (переход в RECOVERY)
// - POST /api/v1/emergency/override - ручная блокировка торговли
// - POST /api/v1/emergency/recovery/exit - досрочный выход из RECOVERY
// - GET /api/v1/emergency/history?limit= - журнал аудита
//
// После каждого ручного действия состояние рассылается по WebSocket.
type EmergencyHandler struct {
	engine  EmergencyEngine
	history EmergencyHistoryStore
	status  StatusBroadcaster
	logger  *zap.Logger
}

// NewEmergencyHandler создает EmergencyHandler
//
// history и status могут быть nil: журнал тогда читается из памяти breaker.
func NewEmergencyHandler(engine EmergencyEngine, history EmergencyHistoryStore, status StatusBroadcaster, logger *zap.Logger) *EmergencyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmergencyHandler{engine: engine, history: history, status: status, logger: logger}
}

// ActivateRequest тело ручной активации
type ActivateRequest struct {
	Type          models.EmergencyType `json:"type"`
	Reason        string               `json:"reason"`
	AutoLiquidate bool                 `json:"auto_liquidate"`
}

// ReasonRequest тело запросов с обязательной причиной
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// OverrideRequest тело ручной блокировки
type OverrideRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// HistoryResponse ответ журнала аудита
type HistoryResponse struct {
	Entries []models.EmergencyHistoryEntry `json:"entries"`
	Total   int                            `json:"total"`
	Source  string                         `json:"source"` // database или memory
}

// GetStatus возвращает состояние breaker
//
// GET /api/v1/emergency
func (h *EmergencyHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.GetEmergencyStatus())
}

// Activate включает аварийную остановку
//
// POST /api/v1/emergency/activate
//
// Тип по умолчанию MANUAL. Повторная активация возвращает already_active=true.
//
// HTTP коды:
// - 200 OK: остановка активна (новая или уже действовавшая)
// - 400 Bad Request: неизвестный тип или пустая причина
func (h *EmergencyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	req.Reason = strings.TrimSpace(req.Reason)
	if req.Type == "" {
		req.Type = models.EmergencyManual
	}

	var verr utils.ValidationErrors
	if !models.ValidEmergencyType(req.Type) {
		verr.Add("type", "unknown emergency type")
	}
	if req.Reason == "" {
		verr.Add("reason", risk.ErrReasonRequired.Error())
	}
	if verr.HasErrors() {
		respondWithValidation(w, verr)
		return
	}

	result := h.engine.ActivateEmergencyStop(r.Context(), req.Type, req.Reason, req.AutoLiquidate)
	h.logger.Warn("emergency stop requested by operator",
		utils.EmergencyType(string(req.Type)), zap.String("reason", req.Reason),
		zap.Bool("already_active", result.AlreadyActive))
	h.broadcastStatus()

	respondWithJSON(w, http.StatusOK, result)
}

// Deactivate снимает аварийную остановку
//
// POST /api/v1/emergency/deactivate
//
// HTTP коды:
// - 200 OK: breaker перешел в RECOVERY
// - 400 Bad Request: пустая причина
// - 409 Conflict: остановка не активна
func (h *EmergencyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		respondWithError(w, http.StatusBadRequest, CodeValidation, risk.ErrReasonRequired.Error())
		return
	}

	result := h.engine.DeactivateEmergencyStop(req.Reason)
	if !result.Success {
		respondWithJSON(w, http.StatusConflict, result)
		return
	}
	h.broadcastStatus()
	respondWithJSON(w, http.StatusOK, result)
}

// SetOverride включает или снимает ручную блокировку
//
// POST /api/v1/emergency/override
func (h *EmergencyHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	if err := h.engine.SetManualOverride(req.Enabled, strings.TrimSpace(req.Reason)); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	h.broadcastStatus()
	respondWithJSON(w, http.StatusOK, h.engine.GetEmergencyStatus())
}

// ExitRecovery досрочно завершает RECOVERY
//
// POST /api/v1/emergency/recovery/exit
func (h *EmergencyHandler) ExitRecovery(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ExitRecovery(); err != nil {
		if errors.Is(err, risk.ErrNotInRecovery) {
			respondWithError(w, http.StatusConflict, CodeConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	h.broadcastStatus()
	respondWithJSON(w, http.StatusOK, h.engine.GetEmergencyStatus())
}

// GetHistory возвращает журнал аудита breaker
//
// GET /api/v1/emergency/history?limit=100
//
// Сначала читается БД; при ее ошибке или отсутствии - история в памяти.
func (h *EmergencyHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)

	if h.history != nil {
		entries, err := h.history.GetEmergencyHistory(limit)
		if err == nil {
			if entries == nil {
				entries = []models.EmergencyHistoryEntry{}
			}
			respondWithJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Total: len(entries), Source: "database"})
			return
		}
		h.logger.Warn("failed to read emergency history from database, using memory", zap.Error(err))
	}

	entries := h.engine.GetEmergencyHistory(limit)
	if entries == nil {
		entries = []models.EmergencyHistoryEntry{}
	}
	respondWithJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Total: len(entries), Source: "memory"})
}

func (h *EmergencyHandler) broadcastStatus() {
	if h.status != nil {
		h.status.BroadcastEmergencyStatus(h.engine.GetEmergencyStatus())
	}
}
