package risk

import "riskguard/internal/models"

// tryEnqueueNotification отправляет уведомление в канал без блокировки.
// Возвращает true, если уведомление поставлено в очередь.
func tryEnqueueNotification(ch chan<- *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		RecordBufferOverflow("notification")
		return false
	}
}

// tryEnqueueHistory отправляет запись журнала на сохранение без блокировки
func tryEnqueueHistory(ch chan<- models.EmergencyHistoryEntry, entry models.EmergencyHistoryEntry) bool {
	if ch == nil {
		return false
	}

	select {
	case ch <- entry:
		return true
	default:
		RecordBufferOverflow("emergency_history")
		return false
	}
}
