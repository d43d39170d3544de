package websocket

import (
	"time"

	"riskguard/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - новое уведомление движка риска
	MessageTypeNotification MessageType = "notification"

	// MessageTypeEmergency - запись журнала аудита breaker
	// (активация, деактивация, выход из recovery, ручная блокировка, ликвидация)
	MessageTypeEmergency MessageType = "emergency"

	// MessageTypeRiskUpdate - итог фоновой проверки портфеля
	// Отправляется на каждом тике монитора
	MessageTypeRiskUpdate MessageType = "riskUpdate"

	// MessageTypeEmergencyStatus - полное состояние breaker
	// Отправляется новому клиенту и после ручных действий оператора
	MessageTypeEmergencyStatus MessageType = "emergencyStatus"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// EmergencyMessage - сообщение о событии аварийной остановки
type EmergencyMessage struct {
	BaseMessage
	Data models.EmergencyHistoryEntry `json:"data"`
}

// RiskUpdateMessage - сообщение с итогом проверки риска
type RiskUpdateMessage struct {
	BaseMessage
	Data *RiskUpdateData `json:"data"`
}

// RiskUpdateData - сжатая выжимка RiskCheckResult для дашборда
type RiskUpdateData struct {
	Address               string           `json:"address"`
	RiskLevel             models.RiskLevel `json:"risk_level"`
	RiskScore             float64          `json:"risk_score"`
	TotalValue            float64          `json:"total_value"`
	ShouldContinueTrading bool             `json:"should_continue_trading"`
	AlertCount            int              `json:"alert_count"`
	EmergencyActions      []string         `json:"emergency_actions,omitempty"`
	CheckedAt             time.Time        `json:"checked_at"`
}

// EmergencyStatusMessage - сообщение с состоянием breaker
type EmergencyStatusMessage struct {
	BaseMessage
	Data models.EmergencyStatus `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{BaseMessage: newBase(MessageTypeNotification), Data: n}
}

// NewEmergencyMessage создает сообщение журнала аудита
func NewEmergencyMessage(entry models.EmergencyHistoryEntry) *EmergencyMessage {
	return &EmergencyMessage{BaseMessage: newBase(MessageTypeEmergency), Data: entry}
}

// NewRiskUpdateMessage создает сообщение итога проверки
func NewRiskUpdateMessage(address string, res *models.RiskCheckResult) *RiskUpdateMessage {
	data := &RiskUpdateData{
		Address:               address,
		RiskLevel:             res.RiskLevel,
		ShouldContinueTrading: res.ShouldContinueTrading,
		AlertCount:            len(res.Alerts),
		EmergencyActions:      res.EmergencyActions,
		CheckedAt:             res.CheckedAt,
	}
	if res.Snapshot != nil {
		data.RiskScore = res.Snapshot.RiskMetrics.RiskScore
		data.TotalValue = res.Snapshot.TotalValue
	}
	return &RiskUpdateMessage{BaseMessage: newBase(MessageTypeRiskUpdate), Data: data}
}

// NewEmergencyStatusMessage создает сообщение состояния breaker
func NewEmergencyStatusMessage(status models.EmergencyStatus) *EmergencyStatusMessage {
	return &EmergencyStatusMessage{BaseMessage: newBase(MessageTypeEmergencyStatus), Data: status}
}
