package repository

import (
	"database/sql"
	"fmt"
)

// schemaStatements - таблицы сервиса, создаются при старте если отсутствуют
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		type VARCHAR(32) NOT NULL,
		severity VARCHAR(10) NOT NULL DEFAULT 'info',
		address VARCHAR(64) NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		meta JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS emergency_history (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		action VARCHAR(32) NOT NULL,
		type VARCHAR(32) NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_history_timestamp ON emergency_history (timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS risk_settings (
		id INT PRIMARY KEY DEFAULT 1,
		trading_mode VARCHAR(20) NOT NULL,
		limits JSONB NOT NULL,
		triggers JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema создаёт таблицы и индексы
func EnsureSchema(db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
