package repository

import (
	"database/sql"
	"errors"
	"time"

	"riskguard/internal/models"
)

// ErrSettingsNotFound - настройки ещё не сохранялись
var ErrSettingsNotFound = errors.New("settings not found")

// SettingsRepository - работа с таблицей risk_settings (одна запись, id=1)
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает сохранённые настройки или ErrSettingsNotFound
func (r *SettingsRepository) Get() (*models.RiskSettings, error) {
	query := `
		SELECT id, trading_mode, limits, triggers, updated_at
		FROM risk_settings
		WHERE id = 1`

	s := &models.RiskSettings{}
	var mode string
	var limitsJSON, triggersJSON []byte
	err := r.db.QueryRow(query).Scan(&s.ID, &mode, &limitsJSON, &triggersJSON, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	s.TradingMode = models.TradingMode(mode)

	if err := json.Unmarshal(limitsJSON, &s.Limits); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(triggersJSON, &s.Triggers); err != nil {
		return nil, err
	}
	return s, nil
}

// Save создаёт или перезаписывает настройки
func (r *SettingsRepository) Save(s *models.RiskSettings) error {
	limitsJSON, err := json.Marshal(s.Limits)
	if err != nil {
		return err
	}
	triggersJSON, err := json.Marshal(s.Triggers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_settings (id, trading_mode, limits, triggers, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET trading_mode = EXCLUDED.trading_mode,
			limits = EXCLUDED.limits,
			triggers = EXCLUDED.triggers,
			updated_at = EXCLUDED.updated_at`

	s.ID = 1
	s.UpdatedAt = time.Now()
	_, err = r.db.Exec(query, string(s.TradingMode), limitsJSON, triggersJSON, s.UpdatedAt)
	return err
}
