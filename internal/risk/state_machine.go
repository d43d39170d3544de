package risk

import "riskguard/internal/models"

// ValidTransitions определяет допустимые переходы фаз аварийной остановки
//
// RECOVERY - наблюдаемая подфаза INACTIVE: торговля разрешена, повторная
// активация допустима.
var ValidTransitions = map[models.EmergencyPhase][]models.EmergencyPhase{
	models.PhaseInactive: {models.PhaseActive},
	models.PhaseActive:   {models.PhaseRecovery},
	models.PhaseRecovery: {models.PhaseActive, models.PhaseInactive},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.EmergencyPhase) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PhaseInfo возвращает описание фазы для UI
func PhaseInfo(p models.EmergencyPhase) string {
	switch p {
	case models.PhaseInactive:
		return "Торговля разрешена"
	case models.PhaseActive:
		return "Аварийная остановка! Торговля запрещена"
	case models.PhaseRecovery:
		return "Восстановление после аварийной остановки (наблюдение)"
	default:
		return "Неизвестная фаза"
	}
}

// IsHalting возвращает true если фаза запрещает торговлю
func IsHalting(p models.EmergencyPhase) bool {
	return p == models.PhaseActive
}
