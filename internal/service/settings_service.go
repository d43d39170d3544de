package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/internal/repository"
	"riskguard/internal/risk"
)

// ErrSettingsNotPersisted - настройки применены к движку, но не сохранены
var ErrSettingsNotPersisted = errors.New("settings applied but not persisted")

// SettingsService управляет runtime-настройками риска.
//
// Отвечает за:
// - Применение сохранённых настроек к движку при старте
// - Валидированное обновление лимитов, триггеров и режима торговли
// - Сохранение итоговых настроек после каждого изменения
type SettingsService struct {
	settingsRepo SettingsRepositoryInterface
	engine       RiskSettingsApplier
	logger       *zap.Logger
}

// NewSettingsService создает новый экземпляр SettingsService.
func NewSettingsService(settingsRepo SettingsRepositoryInterface, engine RiskSettingsApplier, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{
		settingsRepo: settingsRepo,
		engine:       engine,
		logger:       logger.Named("settings"),
	}
}

// Load применяет сохранённые настройки к движку.
//
// Если записи в БД нет, сохраняются текущие настройки движка (из env-конфига).
// Невалидная сохранённая запись не применяется, движок остаётся на конфиге.
func (s *SettingsService) Load() (models.RiskSettings, error) {
	stored, err := s.settingsRepo.Get()
	if errors.Is(err, repository.ErrSettingsNotFound) {
		current := s.engine.Settings()
		if err := s.settingsRepo.Save(&current); err != nil {
			return current, fmt.Errorf("save initial settings: %w", err)
		}
		s.logger.Info("initial risk settings stored", zap.String("mode", string(current.TradingMode)))
		return current, nil
	}
	if err != nil {
		return s.engine.Settings(), fmt.Errorf("load settings: %w", err)
	}

	if err := s.apply(*stored); err != nil {
		s.logger.Warn("stored risk settings rejected, keeping configured values", zap.Error(err))
		return s.engine.Settings(), err
	}
	s.logger.Info("risk settings restored",
		zap.String("mode", string(stored.TradingMode)), zap.Time("updated_at", stored.UpdatedAt))
	return s.engine.Settings(), nil
}

// apply переносит сохранённые значения в движок целиком
//
// Запись проверяется до изменения движка, частичного применения нет.
func (s *SettingsService) apply(st models.RiskSettings) error {
	if err := risk.ValidateLimits(st.Limits); err != nil {
		return err
	}
	if err := risk.ValidateTriggers(st.Triggers); err != nil {
		return err
	}
	if st.TradingMode != "" && !models.ValidTradingMode(st.TradingMode) {
		return fmt.Errorf("%w: %s", risk.ErrUnknownMode, st.TradingMode)
	}

	if st.TradingMode != "" {
		if err := s.engine.SetTradingMode(st.TradingMode); err != nil {
			return fmt.Errorf("trading mode: %w", err)
		}
	}
	if _, err := s.engine.UpdateLimits(fullLimitsUpdate(st.Limits)); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if _, err := s.engine.UpdateTriggers(fullTriggersUpdate(st.Triggers)); err != nil {
		return fmt.Errorf("triggers: %w", err)
	}
	return nil
}

// GetSettings возвращает действующие настройки движка
func (s *SettingsService) GetSettings() models.RiskSettings {
	return s.engine.Settings()
}

// UpdateLimits применяет частичное обновление лимитов и сохраняет результат
func (s *SettingsService) UpdateLimits(update models.LimitsUpdate) (models.PositionLimitsConfig, error) {
	limits, err := s.engine.UpdateLimits(update)
	if err != nil {
		return limits, err
	}
	return limits, s.persist()
}

// UpdateTriggers применяет частичное обновление триггеров и сохраняет результат
func (s *SettingsService) UpdateTriggers(update models.TriggersUpdate) (models.EmergencyTriggers, error) {
	triggers, err := s.engine.UpdateTriggers(update)
	if err != nil {
		return triggers, err
	}
	return triggers, s.persist()
}

// SetTradingMode переключает профиль риска и сохраняет результат
func (s *SettingsService) SetTradingMode(mode models.TradingMode) error {
	if err := s.engine.SetTradingMode(mode); err != nil {
		return err
	}
	return s.persist()
}

func (s *SettingsService) persist() error {
	current := s.engine.Settings()
	if err := s.settingsRepo.Save(&current); err != nil {
		s.logger.Error("failed to persist risk settings", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSettingsNotPersisted, err)
	}
	return nil
}

func fullLimitsUpdate(l models.PositionLimitsConfig) models.LimitsUpdate {
	return models.LimitsUpdate{
		MaxPositionSize:  &l.MaxPositionSize,
		MaxPositionCount: &l.MaxPositionCount,
		MaxConcentration: &l.MaxConcentration,
		MaxTotalExposure: &l.MaxTotalExposure,
		MaxDailyVolume:   &l.MaxDailyVolume,
		DustThreshold:    &l.DustThreshold,
	}
}

func fullTriggersUpdate(t models.EmergencyTriggers) models.TriggersUpdate {
	return models.TriggersUpdate{
		PortfolioLossPercent: &t.PortfolioLossPercent,
		DailyLossPercent:     &t.DailyLossPercent,
		VolatilityThreshold:  &t.VolatilityThreshold,
		LiquidityThreshold:   &t.LiquidityThreshold,
		PriceDropThreshold:   &t.PriceDropThreshold,
		SystemErrorCount:     &t.SystemErrorCount,
		APIFailureCount:      &t.APIFailureCount,
	}
}
