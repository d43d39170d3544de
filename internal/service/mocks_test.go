package service

import (
	"context"
	"sync"
	"time"

	"riskguard/internal/models"
	"riskguard/internal/repository"
	"riskguard/internal/risk"
)

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
	createErr     error
	getErr        error
	deleteErr     error
	nextID        int

	lastTypes []string
	lastLimit int
	keepArg   int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = m.nextID
	m.nextID++
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockNotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes, m.lastLimit = nil, limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := []*models.Notification{}
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.notifications[i])
	}
	return out, nil
}

func (m *MockNotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes, m.lastLimit = types, limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	set := map[string]bool{}
	for _, t := range types {
		set[t] = true
	}
	out := []*models.Notification{}
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if set[m.notifications[i].Type] {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationRepository) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.notifications), nil
}

func (m *MockNotificationRepository) CountByType(notifType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	n := 0
	for _, x := range m.notifications {
		if x.Type == notifType {
			n++
		}
	}
	return n, nil
}

func (m *MockNotificationRepository) KeepRecent(keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepArg = keep
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	over := len(m.notifications) - keep
	if over <= 0 {
		return 0, nil
	}
	m.notifications = append([]*models.Notification{}, m.notifications[over:]...)
	return int64(over), nil
}

func (m *MockNotificationRepository) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

// ============ Mock EmergencyHistoryRepository ============

type MockHistoryRepository struct {
	mu        sync.Mutex
	entries   []models.EmergencyHistoryEntry
	insertErr error
	lastLimit int
}

func (m *MockHistoryRepository) Insert(entry models.EmergencyHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockHistoryRepository) GetRecent(limit int) ([]models.EmergencyHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	out := []models.EmergencyHistoryEntry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MockHistoryRepository) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ============ Mock SettingsRepository ============

type MockSettingsRepository struct {
	settings *models.RiskSettings
	getErr   error
	saveErr  error
	saves    int
}

func (m *MockSettingsRepository) Get() (*models.RiskSettings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.settings == nil {
		return nil, repository.ErrSettingsNotFound
	}
	cp := *m.settings
	return &cp, nil
}

func (m *MockSettingsRepository) Save(s *models.RiskSettings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	s.ID = 1
	s.UpdatedAt = time.Now()
	cp := *s
	m.settings = &cp
	return nil
}

// ============ Mock WebSocketBroadcaster ============

type MockBroadcaster struct {
	mu            sync.Mutex
	notifications []*models.Notification
	emergencies   []models.EmergencyHistoryEntry
}

func (m *MockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
}

func (m *MockBroadcaster) BroadcastEmergency(entry models.EmergencyHistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencies = append(m.emergencies, entry)
}

func (m *MockBroadcaster) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications), len(m.emergencies)
}

// ============ Mock AlertPublisher ============

type MockPublisher struct {
	mu         sync.Mutex
	published  []*models.Notification
	publishErr error
}

func (m *MockPublisher) Publish(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, n)
	return nil
}

func (m *MockPublisher) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// ============ Mock RiskSettingsApplier ============

// MockApplier повторяет правила валидации движка на собственных настройках
type MockApplier struct {
	settings models.RiskSettings
	modeCall int
}

func NewMockApplier() *MockApplier {
	return &MockApplier{settings: models.RiskSettings{
		TradingMode: models.ModeModerate,
		Limits:      models.DefaultPositionLimits(),
		Triggers:    models.DefaultEmergencyTriggers(),
	}}
}

func (m *MockApplier) Settings() models.RiskSettings { return m.settings }

func (m *MockApplier) SetTradingMode(mode models.TradingMode) error {
	m.modeCall++
	if !models.ValidTradingMode(mode) {
		return risk.ErrUnknownMode
	}
	m.settings.TradingMode = mode
	return nil
}

func (m *MockApplier) UpdateLimits(u models.LimitsUpdate) (models.PositionLimitsConfig, error) {
	next := u.Apply(m.settings.Limits)
	if err := risk.ValidateLimits(next); err != nil {
		return m.settings.Limits, err
	}
	m.settings.Limits = next
	return next, nil
}

func (m *MockApplier) UpdateTriggers(u models.TriggersUpdate) (models.EmergencyTriggers, error) {
	next := u.Apply(m.settings.Triggers)
	if err := risk.ValidateTriggers(next); err != nil {
		return m.settings.Triggers, err
	}
	m.settings.Triggers = next
	return next, nil
}
