package risk

import (
	"time"

	"riskguard/internal/models"
)

// snapshotHistory - скользящее окно снапшотов одного портфеля
//
// Не потокобезопасна, защищается мьютексом монитора.
type snapshotHistory struct {
	retention time.Duration
	items     []models.PortfolioSnapshot // по возрастанию Timestamp
}

func newSnapshotHistory(retention time.Duration) *snapshotHistory {
	return &snapshotHistory{retention: retention}
}

// append добавляет снапшот и удаляет записи старше retention относительно now
func (h *snapshotHistory) append(s models.PortfolioSnapshot, now time.Time) {
	h.items = append(h.items, s)
	h.prune(now)
}

func (h *snapshotHistory) prune(now time.Time) {
	cutoff := now.Add(-h.retention)
	i := 0
	for i < len(h.items) && h.items[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.items = append(h.items[:0:0], h.items[i:]...)
	}
}

// window возвращает копию окна
func (h *snapshotHistory) window() []models.PortfolioSnapshot {
	return append([]models.PortfolioSnapshot(nil), h.items...)
}
