package risk

import "trade_hook/internal/models"

// EvenSplit: n равных долей по 100/n. Без целочисленной коррекции.
func EvenSplit(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	pct := 100 / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = pct
	}
	return out
}

// DistributeTakeProfits раскладывает позицию по уровням TP в порядке входа.
// Если проценты не заданы или их число не совпадает с уровнями: делим поровну.
// Пустой список уровней даёт пустую раскладку.
func DistributeTakeProfits(levels, percentages []float64) []models.TakeProfitAllocation {
	if len(percentages) != len(levels) {
		percentages = EvenSplit(len(levels))
	}
	out := make([]models.TakeProfitAllocation, 0, len(levels))
	for i, price := range levels {
		out = append(out, models.TakeProfitAllocation{
			Level:      i + 1,
			Price:      price,
			Percentage: percentages[i],
		})
	}
	return out
}
