package handlers

import (
	"net/http"
	"strings"
	"time"

	"riskguard/internal/models"
)

const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления
// - GET /api/v1/notifications?types=emergency,limit - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - DELETE /api/v1/notifications - очистка журнала
type NotificationHandler struct {
	notificationService NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	ID        int                    `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Address   string                 `json:"address,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

func toNotificationDTO(n *models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Timestamp: n.Timestamp.Format(time.RFC3339),
		Type:      n.Type,
		Severity:  n.Severity,
		Address:   n.Address,
		Message:   n.Message,
		Meta:      n.Meta,
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): типы через запятую (emergency,recovery,risk_alert,anomaly,slippage,limit,liquidation,error)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// HTTP коды:
// - 200 OK: успешно, возвращает массив уведомлений
// - 500 Internal Server Error: ошибка БД
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}
	limit := parseLimit(r, defaultNotificationLimit, maxNotificationLimit)

	notifications, err := h.notificationService.GetNotifications(types, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "Failed to get notifications: "+err.Error())
		return
	}

	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, toNotificationDTO(n))
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: dtos,
		Total:         len(dtos),
	})
}

// ClearNotifications очищает журнал уведомлений
//
// DELETE /api/v1/notifications
//
// Журнал аудита breaker не затрагивается.
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.ClearNotifications(); err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "Failed to clear notifications: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Notifications cleared successfully"})
}

// CountResponse ответ счетчика уведомлений
type CountResponse struct {
	Count int `json:"count"`
}

// GetNotificationCount возвращает число уведомлений в журнале
//
// GET /api/v1/notifications/count
func (h *NotificationHandler) GetNotificationCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notificationService.GetNotificationCount()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "Failed to count notifications: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, CountResponse{Count: count})
}
