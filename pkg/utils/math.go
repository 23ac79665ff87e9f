package utils

import (
	"math"
)

// math.go - математические утилиты для оценки позиций
//
// Назначение:
// Вспомогательные функции для переоценки позиций и агрегации риска.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - PositionPnL: PNL позиции между двумя ценами
// - PositionValue / GrossExposure: стоимость и экспозиция позиции
// - CalculateWeightedAverage: средневзвешенное значение

// PositionPnL рассчитывает PNL позиции при движении цены.
//
// Формула:
//
//	PNL = quantity × (newPrice - previousPrice)
//
// Параметры:
//   - quantity: количество (> 0 лонг, < 0 шорт)
//   - previousPrice: цена предыдущей переоценки
//   - newPrice: новая цена
//
// Возвращает:
//   - PNL в валюте инструмента; для шорта рост цены дает убыток
func PositionPnL(quantity, previousPrice, newPrice float64) float64 {
	return quantity * (newPrice - previousPrice)
}

// PositionValue возвращает стоимость позиции со знаком (quantity × price).
func PositionValue(quantity, price float64) float64 {
	return quantity * price
}

// GrossExposure возвращает экспозицию позиции |quantity × price|.
//
// Шорт и лонг на одинаковую сумму дают одинаковую экспозицию.
func GrossExposure(quantity, price float64) float64 {
	return math.Abs(quantity * price)
}

// CalculateWeightedAverage рассчитывает средневзвешенное значение.
//
// Формула:
//
//	avg = Σ(value_i × weight_i) / Σ(weight_i)
//
// Параметры:
//   - values: значения (например, VaR инструментов)
//   - weights: веса (например, экспозиции позиций)
//
// Возвращает:
//   - Средневзвешенное значение
//   - 0 если входные данные некорректны или сумма весов нулевая
//
// Примеры:
//
//	values  = [100.0, 101.0, 102.0]
//	weights = [10.0, 20.0, 10.0]
//	avg = (100*10 + 101*20 + 102*10) / (10+20+10) = 4040/40 = 101.0
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(weights) == 0 {
		return 0
	}
	if len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		if weights[i] < 0 {
			continue // Пропускаем отрицательные веса
		}
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}

	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}
