package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"riskguard/internal/models"
)

func TestEmergencyHistoryRepositoryInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	entry := models.EmergencyHistoryEntry{
		ID:        "5f0c1c1e-5d0e-4b8f-9d62-0a1f5b3c7e11",
		Timestamp: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		Action:    models.HistoryActivated,
		Type:      models.EmergencyDailyLoss,
		Reason:    "daily loss 12%",
		Success:   true,
	}

	mock.ExpectExec(`INSERT INTO emergency_history .+ ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(entry.ID, entry.Timestamp, entry.Action, "DAILY_LOSS", entry.Reason, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewEmergencyHistoryRepository(db).Insert(entry); err != nil {
		t.Errorf("неожиданная ошибка: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEmergencyHistoryRepositoryGetRecent(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantLen   int
		wantErr   bool
	}{
		{
			name: "две записи",
			mockSetup: func(mock sqlmock.Sqlmock) {
				now := time.Now()
				mock.ExpectQuery(`SELECT .+ FROM emergency_history ORDER BY timestamp DESC LIMIT \$1`).
					WithArgs(20).
					WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp", "action", "type", "reason", "success"}).
						AddRow("b", now, models.HistoryDeactivated, "MANUAL", "fixed", true).
						AddRow("a", now.Add(-time.Hour), models.HistoryActivated, "MANUAL", "maintenance", true))
			},
			wantLen: 2,
		},
		{
			name: "ошибка БД",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM emergency_history`).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			got, err := NewEmergencyHistoryRepository(db).GetRecent(20)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка %v, ожидалась ошибка: %v", err, tt.wantErr)
			}
			if len(got) != tt.wantLen {
				t.Errorf("получено %d записей, ожидалось %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].Type != models.EmergencyManual {
				t.Errorf("тип не распознан: %q", got[0].Type)
			}
		})
	}
}
