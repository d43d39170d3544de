package service

import (
	"context"

	"riskguard/internal/models"
)

// NotificationRepositoryInterface - хранилище журнала уведомлений
type NotificationRepositoryInterface interface {
	Create(n *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	DeleteAll() error
	Count() (int, error)
	CountByType(notifType string) (int, error)
	KeepRecent(keep int) (int64, error)
}

// EmergencyHistoryRepositoryInterface - хранилище журнала аудита breaker
type EmergencyHistoryRepositoryInterface interface {
	Insert(entry models.EmergencyHistoryEntry) error
	GetRecent(limit int) ([]models.EmergencyHistoryEntry, error)
}

// SettingsRepositoryInterface - хранилище runtime-настроек риска
type SettingsRepositoryInterface interface {
	Get() (*models.RiskSettings, error)
	Save(s *models.RiskSettings) error
}

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами.
type WebSocketBroadcaster interface {
	BroadcastNotification(n *models.Notification)
	BroadcastEmergency(entry models.EmergencyHistoryEntry)
}

// AlertPublisher - внешний канал доставки алертов (NATS)
type AlertPublisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// RiskSettingsApplier - часть движка риска, принимающая runtime-настройки
type RiskSettingsApplier interface {
	Settings() models.RiskSettings
	SetTradingMode(mode models.TradingMode) error
	UpdateLimits(update models.LimitsUpdate) (models.PositionLimitsConfig, error)
	UpdateTriggers(update models.TriggersUpdate) (models.EmergencyTriggers, error)
}
