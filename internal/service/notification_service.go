package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"riskguard/internal/models"
)

// Параметры журнала уведомлений
const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
	defaultKeepNotifications = 1000
	defaultCleanupInterval   = time.Hour
	publishTimeout           = 5 * time.Second
)

var validNotificationTypes = map[string]bool{
	models.NotificationTypeEmergency:   true,
	models.NotificationTypeRecovery:    true,
	models.NotificationTypeRiskAlert:   true,
	models.NotificationTypeAnomaly:     true,
	models.NotificationTypeSlippage:    true,
	models.NotificationTypeLimit:       true,
	models.NotificationTypeLiquidation: true,
	models.NotificationTypeError:       true,
}

// NotificationService - конвейер алертов движка риска
//
// Забирает уведомления и записи аудита из каналов движка, сохраняет их в БД,
// рассылает операторам через WebSocket и публикует в NATS. Ошибка любого
// приёмника логируется и не останавливает остальные.
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	historyRepo      EmergencyHistoryRepositoryInterface
	wsHub            WebSocketBroadcaster
	publisher        AlertPublisher
	logger           *zap.Logger

	keepCount       int
	cleanupInterval time.Duration
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(
	notificationRepo NotificationRepositoryInterface,
	historyRepo EmergencyHistoryRepositoryInterface,
	logger *zap.Logger,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		notificationRepo: notificationRepo,
		historyRepo:      historyRepo,
		logger:           logger.Named("alerts"),
		keepCount:        defaultKeepNotifications,
		cleanupInterval:  defaultCleanupInterval,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// SetPublisher подключает внешний канал алертов
func (s *NotificationService) SetPublisher(p AlertPublisher) {
	s.publisher = p
}

// SetRetention задает размер журнала и период его очистки
func (s *NotificationService) SetRetention(keep int, interval time.Duration) {
	if keep > 0 {
		s.keepCount = keep
	}
	if interval > 0 {
		s.cleanupInterval = interval
	}
}

// Run обрабатывает каналы движка до отмены ctx или их закрытия
//
// После отмены ctx уже буферизованные события дописываются в журнал.
func (s *NotificationService) Run(ctx context.Context, notifications <-chan *models.Notification, history <-chan models.EmergencyHistoryEntry) error {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for notifications != nil || history != nil {
		select {
		case <-ctx.Done():
			s.drain(ctx, notifications, history)
			return nil

		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			s.Dispatch(ctx, n)

		case entry, ok := <-history:
			if !ok {
				history = nil
				continue
			}
			s.DispatchHistory(entry)

		case <-ticker.C:
			if deleted, err := s.CleanupOld(s.keepCount); err != nil {
				s.logger.Warn("notification cleanup failed", zap.Error(err))
			} else if deleted > 0 {
				s.logger.Debug("old notifications removed", zap.Int64("deleted", deleted))
			}
		}
	}
	return nil
}

// drain дописывает буфер каналов; ctx уже отменён, поэтому публикация в NATS пропускается
func (s *NotificationService) drain(ctx context.Context, notifications <-chan *models.Notification, history <-chan models.EmergencyHistoryEntry) {
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			s.Dispatch(ctx, n)
		case entry, ok := <-history:
			if !ok {
				history = nil
				continue
			}
			s.DispatchHistory(entry)
		default:
			return
		}
	}
}

// Dispatch доставляет одно уведомление во все приёмники
func (s *NotificationService) Dispatch(ctx context.Context, n *models.Notification) {
	if n == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	if s.notificationRepo != nil {
		err := s.notificationRepo.Create(n)
		observeDispatch("db", err)
		if err != nil {
			s.logger.Error("failed to persist notification",
				zap.String("type", n.Type), zap.String("message", n.Message), zap.Error(err))
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
		observeDispatch("ws", nil)
	}

	if s.publisher != nil && ctx.Err() == nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.publisher.Publish(pubCtx, n)
		cancel()
		observeDispatch("nats", err)
		if err != nil {
			// не фатально: журнал остаётся в БД
			s.logger.Warn("alert publish failed", zap.String("type", n.Type), zap.Error(err))
		}
	}
}

// DispatchHistory сохраняет запись аудита и рассылает её операторам
func (s *NotificationService) DispatchHistory(entry models.EmergencyHistoryEntry) {
	if s.historyRepo != nil {
		err := s.historyRepo.Insert(entry)
		observeDispatch("db", err)
		if err != nil {
			s.logger.Error("failed to persist emergency history",
				zap.String("id", entry.ID), zap.String("action", entry.Action), zap.Error(err))
		}
	}
	if s.wsHub != nil {
		s.wsHub.BroadcastEmergency(entry)
		observeDispatch("ws", nil)
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// limit по умолчанию 100, не больше 500. Неизвестные типы отбрасываются,
// пустой список типов означает все типы. Новые сверху.
func (s *NotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if validNotificationTypes[t] {
			normalized = append(normalized, t)
		}
	}

	if len(normalized) > 0 {
		return s.notificationRepo.GetByTypes(normalized, limit)
	}
	return s.notificationRepo.GetRecent(limit)
}

// ClearNotifications очищает журнал уведомлений.
func (s *NotificationService) ClearNotifications() error {
	return s.notificationRepo.DeleteAll()
}

// GetNotificationCount возвращает общее количество уведомлений.
func (s *NotificationService) GetNotificationCount() (int, error) {
	return s.notificationRepo.Count()
}

// GetNotificationCountByType возвращает количество уведомлений определенного типа.
func (s *NotificationService) GetNotificationCountByType(notifType string) (int, error) {
	return s.notificationRepo.CountByType(strings.ToUpper(notifType))
}

// CleanupOld удаляет уведомления, оставляя только последние keepCount записей.
func (s *NotificationService) CleanupOld(keepCount int) (int64, error) {
	if keepCount <= 0 {
		keepCount = defaultKeepNotifications
	}
	return s.notificationRepo.KeepRecent(keepCount)
}

// GetEmergencyHistory возвращает сохранённый журнал аудита, новые первыми
func (s *NotificationService) GetEmergencyHistory(limit int) ([]models.EmergencyHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return s.historyRepo.GetRecent(limit)
}
