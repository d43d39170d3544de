package repository

import (
	"database/sql"

	"riskguard/internal/models"
)

// EmergencyHistoryRepository - append-only журнал аварийных событий
type EmergencyHistoryRepository struct {
	db *sql.DB
}

// NewEmergencyHistoryRepository создает новый экземпляр репозитория
func NewEmergencyHistoryRepository(db *sql.DB) *EmergencyHistoryRepository {
	return &EmergencyHistoryRepository{db: db}
}

// Insert сохраняет запись; повторная запись с тем же ID игнорируется
func (r *EmergencyHistoryRepository) Insert(entry models.EmergencyHistoryEntry) error {
	query := `
		INSERT INTO emergency_history (id, timestamp, action, type, reason, success)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Exec(query,
		entry.ID,
		entry.Timestamp,
		entry.Action,
		string(entry.Type),
		entry.Reason,
		entry.Success,
	)
	return err
}

// GetRecent возвращает последние limit записей, новые первыми
func (r *EmergencyHistoryRepository) GetRecent(limit int) ([]models.EmergencyHistoryEntry, error) {
	query := `
		SELECT id, timestamp, action, type, reason, success
		FROM emergency_history
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.EmergencyHistoryEntry{}
	for rows.Next() {
		var e models.EmergencyHistoryEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &kind, &e.Reason, &e.Success); err != nil {
			return nil, err
		}
		e.Type = models.EmergencyType(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
