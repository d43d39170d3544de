package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"riskguard/internal/risk"
	"riskguard/pkg/utils"
)

// MonitoringHandler управляет фоновой проверкой портфеля
//
// Endpoints:
// - POST /api/v1/monitoring/start - запуск для адреса кошелька
// - POST /api/v1/monitoring/stop - остановка
// - GET /api/v1/monitoring - текущее состояние
type MonitoringHandler struct {
	engine MonitoringEngine
	logger *zap.Logger
}

// NewMonitoringHandler создает MonitoringHandler
func NewMonitoringHandler(engine MonitoringEngine, logger *zap.Logger) *MonitoringHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringHandler{engine: engine, logger: logger}
}

// StartMonitoringRequest тело запроса запуска
type StartMonitoringRequest struct {
	Address string `json:"address"`
}

// MonitoringStatusResponse состояние монитора
type MonitoringStatusResponse struct {
	Monitoring bool   `json:"monitoring"`
	Address    string `json:"address,omitempty"`
}

// StartMonitoring запускает монитор
//
// POST /api/v1/monitoring/start
//
// Повторный запуск не меняет отслеживаемый адрес (возвращается текущее состояние).
//
// HTTP коды:
// - 200 OK: монитор запущен или уже работает
// - 400 Bad Request: невалидный адрес
// - 502 Bad Gateway: не удалось получить начальный снапшот
func (h *MonitoringHandler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req StartMonitoringRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	address, err := utils.NormalizeAddress(req.Address)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	if err := h.engine.StartMonitoring(r.Context(), address); err != nil {
		if errors.Is(err, risk.ErrNoAddress) {
			respondWithError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		h.logger.Warn("failed to start monitoring", utils.Address(address), zap.Error(err))
		respondWithError(w, http.StatusBadGateway, CodeInternal, "Failed to start monitoring: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, h.status())
}

// StopMonitoring останавливает монитор
//
// POST /api/v1/monitoring/stop
func (h *MonitoringHandler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	h.engine.StopMonitoring()
	respondWithJSON(w, http.StatusOK, h.status())
}

// GetStatus возвращает состояние монитора
//
// GET /api/v1/monitoring
func (h *MonitoringHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.status())
}

func (h *MonitoringHandler) status() MonitoringStatusResponse {
	return MonitoringStatusResponse{
		Monitoring: h.engine.IsMonitoring(),
		Address:    h.engine.MonitoredAddress(),
	}
}
