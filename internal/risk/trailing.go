package risk

import (
	"time"

	"trade_hook/internal/models"
)

// DirectionalProfit считает прибыль в цене (вверх для buy, вниз для sell).
func DirectionalProfit(action models.Action, entry, current float64) float64 {
	if action == models.ActionSell {
		return entry - current
	}
	return current - entry
}

// profitUnits: прибыль в единицах unitSize (пипсах).
func profitUnits(action models.Action, entry, current, unitSize float64) float64 {
	if unitSize <= 0 {
		return 0
	}
	return DirectionalProfit(action, entry, current) / unitSize
}

// ShouldActivateTrailing true, когда прибыль дошла до activationDistance (в единицах unitSize).
func ShouldActivateTrailing(action models.Action, entry, current, activationDistance, unitSize float64) bool {
	if unitSize <= 0 {
		return false
	}
	return profitUnits(action, entry, current, unitSize) >= activationDistance
}

// ComputeTrailingStop ставит стоп на trailingDistance единиц позади цены.
// Не проверяет, что стоп стал лучше: это обязанность вызывающего.
func ComputeTrailingStop(action models.Action, current, trailingDistance, unitSize float64) float64 {
	distance := trailingDistance * unitSize
	if action == models.ActionSell {
		return current + distance
	}
	return current - distance
}

// ShouldMoveBreakeven: та же проверка порога прибыли, что и у трейлинга.
func ShouldMoveBreakeven(action models.Action, entry, current, triggerDistance, unitSize float64) bool {
	return ShouldActivateTrailing(action, entry, current, triggerDistance, unitSize)
}

// BreakevenStop это вход плюс спред в сторону прибыли.
func BreakevenStop(action models.Action, entry, spread float64) float64 {
	if action == models.ActionSell {
		return entry - spread
	}
	return entry + spread
}

// BreakevenConfig: порог и отступ безубытка в пипсах.
type BreakevenConfig struct {
	Enabled     bool
	TriggerPips float64
	OffsetPips  float64
}

// Evaluator вызывается на каждый тик по позиции.
type Evaluator struct {
	breakeven BreakevenConfig
	now       func() time.Time
}

func NewEvaluator(be BreakevenConfig) *Evaluator {
	return &Evaluator{breakeven: be, now: time.Now}
}

// Evaluate переключает флаги состояния (только в true) и выдаёт кандидатов на новый стоп.
// Кандидаты не сравниваются с текущим стопом.
func (e *Evaluator) Evaluate(st *models.TrailingState, current float64) models.TrailingDecision {
	dec := models.TrailingDecision{
		Profit: DirectionalProfit(st.Action, st.EntryPrice, current),
	}
	if !st.Action.Opens() || st.UnitSize <= 0 {
		return dec
	}

	if e.breakeven.Enabled && !st.BreakEvenMoved &&
		ShouldMoveBreakeven(st.Action, st.EntryPrice, current, e.breakeven.TriggerPips, st.UnitSize) {
		st.BreakEvenMoved = true
		dec.BreakevenTriggered = true
		dec.BreakevenStop = BreakevenStop(st.Action, st.EntryPrice, e.breakeven.OffsetPips*st.UnitSize)
	}

	if st.HasTrailing() {
		if !st.TrailingActive &&
			ShouldActivateTrailing(st.Action, st.EntryPrice, current, st.TrailingActivation, st.UnitSize) {
			st.TrailingActive = true
			dec.TrailingActivated = true
		}
		if st.TrailingActive {
			dec.TrailingStop = ComputeTrailingStop(st.Action, current, st.TrailingDistance, st.UnitSize)
			dec.HasTrailingStop = true
		}
	}

	if dec.TrailingActivated || dec.BreakevenTriggered {
		st.UpdatedAt = e.now()
	}
	return dec
}
