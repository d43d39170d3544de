package risk

import (
	"context"
	"sync"
)

// VolumeTracker хранит дневной торговый объём по токенам
//
// date - ключ календарной даты UTC (utils.DateKey). Объём за прошлые даты
// не влияет на текущие лимиты: сброс происходит при смене даты.
type VolumeTracker interface {
	// Add увеличивает объём токена и возвращает новое значение
	Add(ctx context.Context, date, token string, amountUSD float64) (float64, error)
	// Get возвращает объём токена за дату
	Get(ctx context.Context, date, token string) (float64, error)
	// Total возвращает суммарный объём всех токенов за дату
	Total(ctx context.Context, date string) (float64, error)
}

// MemoryVolumeTracker - VolumeTracker в памяти процесса
//
// Хранит только текущую дату: первая запись с новой датой сбрасывает счётчики.
type MemoryVolumeTracker struct {
	mu     sync.Mutex
	date   string
	volume map[string]float64
}

// NewMemoryVolumeTracker создаёт пустой трекер
func NewMemoryVolumeTracker() *MemoryVolumeTracker {
	return &MemoryVolumeTracker{volume: make(map[string]float64)}
}

func (t *MemoryVolumeTracker) rollLocked(date string) {
	if t.date != date {
		t.date = date
		t.volume = make(map[string]float64)
	}
}

// Add увеличивает объём токена за дату
func (t *MemoryVolumeTracker) Add(_ context.Context, date, token string, amountUSD float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked(date)
	t.volume[token] += amountUSD
	return t.volume[token], nil
}

// Get возвращает объём токена за дату
func (t *MemoryVolumeTracker) Get(_ context.Context, date, token string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.date != date {
		return 0, nil
	}
	return t.volume[token], nil
}

// Total возвращает суммарный объём за дату
func (t *MemoryVolumeTracker) Total(_ context.Context, date string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.date != date {
		return 0, nil
	}
	var sum float64
	for _, v := range t.volume {
		sum += v
	}
	return sum, nil
}
