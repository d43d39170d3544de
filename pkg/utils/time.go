package utils

import (
	"fmt"
	"time"
)

// time.go - утилиты для работы со временем
//
// Суточные границы считаются в UTC: дневной объём и daily-start портфеля
// сбрасываются при смене календарной даты, а не по скользящему окну 24ч.

// DateKeyLayout - формат ключа даты (используется в ключах Redis)
const DateKeyLayout = "2006-01-02"

// DateKey возвращает ключ календарной даты UTC
//
//	DateKey(2024-01-15 23:59 UTC) == "2024-01-15"
func DateKey(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}

// FormatDuration форматирует продолжительность: "45s", "5m30s", "2h15m", "74h0m"
//
// Секунды отбрасываются для длительностей от часа.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Truncate(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return d.String()
}
