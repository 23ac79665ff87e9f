package engine

// Состояния планировщика тиков
const (
	StateIdle    = "IDLE"
	StateTicking = "TICKING"
	StateStopped = "STOPPED"
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[string][]string{
	StateIdle:    {StateTicking, StateStopped},
	StateTicking: {StateIdle}, // Остановка только после завершения тика
	StateStopped: {},          // Терминальное
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
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

// StateInfo возвращает описание состояния для API
func StateInfo(s string) string {
	switch s {
	case StateIdle:
		return "Ожидание следующего тика"
	case StateTicking:
		return "Расчет цен и рисков..."
	case StateStopped:
		return "Планировщик остановлен"
	default:
		return "Неизвестное состояние"
	}
}
