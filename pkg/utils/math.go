package utils

import "math"

// math.go - численные хелперы для расчёта метрик риска
//
// Все функции чистые и не возвращают NaN/Inf на пустых входах.

// SafeDiv делит a на b, возвращая 0 при b == 0 и нечисловом результате
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	r := a / b
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Mean возвращает среднее арифметическое (0 для пустого слайса)
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev возвращает стандартное отклонение генеральной совокупности
//
//	σ = sqrt(Σ(x - μ)² / n)
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mu := Mean(values)
	var acc float64
	for _, v := range values {
		d := v - mu
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(values)))
}

// PercentReturns возвращает процентные доходности между соседними значениями
//
// Пары с неположительным предыдущим значением пропускаются.
//
//	[100, 110, 99] -> [10, -10]
func PercentReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (values[i]-prev)/prev*100)
	}
	return out
}

// LastN возвращает последние n элементов слайса (без копирования)
func LastN(values []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// HerfindahlIndex возвращает индекс Херфиндаля Σwᵢ² для долей
func HerfindahlIndex(weights []float64) float64 {
	var hhi float64
	for _, w := range weights {
		hhi += w * w
	}
	return hhi
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
