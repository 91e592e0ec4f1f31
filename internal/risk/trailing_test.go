package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_hook/internal/models"
)

const pip = 0.0001

func TestDirectionalProfit(t *testing.T) {
	assert.InDelta(t, 0.002, DirectionalProfit(models.ActionBuy, 1.0850, 1.0870), 1e-12)
	assert.InDelta(t, -0.002, DirectionalProfit(models.ActionSell, 1.0850, 1.0870), 1e-12)
}

func TestShouldActivateTrailing(t *testing.T) {
	assert.True(t, ShouldActivateTrailing(models.ActionBuy, 1.0850, 1.0871, 20, pip))
	assert.False(t, ShouldActivateTrailing(models.ActionBuy, 1.0850, 1.0869, 20, pip))
	assert.True(t, ShouldActivateTrailing(models.ActionSell, 1.0850, 1.0829, 20, pip))
	assert.False(t, ShouldActivateTrailing(models.ActionSell, 1.0850, 1.0870, 20, pip))
	assert.False(t, ShouldActivateTrailing(models.ActionBuy, 1.0850, 2, 20, 0))
}

func TestComputeTrailingStop(t *testing.T) {
	assert.InDelta(t, 1.0855, ComputeTrailingStop(models.ActionBuy, 1.0870, 15, pip), 1e-12)
	assert.InDelta(t, 1.0845, ComputeTrailingStop(models.ActionSell, 1.0830, 15, pip), 1e-12)
}

func TestBreakevenStop(t *testing.T) {
	assert.InDelta(t, 1.0852, BreakevenStop(models.ActionBuy, 1.0850, 0.0002), 1e-12)
	assert.InDelta(t, 1.0848, BreakevenStop(models.ActionSell, 1.0850, 0.0002), 1e-12)
	assert.True(t, ShouldMoveBreakeven(models.ActionBuy, 1.0850, 1.0861, 10, pip))
}

func buyState() *models.TrailingState {
	return &models.TrailingState{
		SignalID:           "s1",
		Symbol:             "EURUSD",
		Action:             models.ActionBuy,
		EntryPrice:         1.0850,
		CurrentStopLoss:    1.0800,
		TrailingActivation: 20,
		TrailingDistance:   15,
		UnitSize:           pip,
	}
}

func TestEvaluator_TrailingActivationIsOneWay(t *testing.T) {
	e := NewEvaluator(BreakevenConfig{})
	st := buyState()

	dec := e.Evaluate(st, 1.0860)
	assert.False(t, dec.TrailingActivated)
	assert.False(t, dec.HasTrailingStop)
	assert.False(t, st.TrailingActive)

	dec = e.Evaluate(st, 1.0871)
	assert.True(t, dec.TrailingActivated)
	require.True(t, dec.HasTrailingStop)
	assert.InDelta(t, 1.0856, dec.TrailingStop, 1e-9)
	assert.True(t, st.TrailingActive)
	assert.False(t, st.UpdatedAt.IsZero())

	// цена отошла назад: флаг остаётся, кандидат считается от текущей цены
	dec = e.Evaluate(st, 1.0855)
	assert.False(t, dec.TrailingActivated)
	assert.True(t, st.TrailingActive)
	require.True(t, dec.HasTrailingStop)
	assert.InDelta(t, 1.0840, dec.TrailingStop, 1e-9)
}

func TestEvaluator_NoTrailingConfigured(t *testing.T) {
	e := NewEvaluator(BreakevenConfig{})
	st := buyState()
	st.TrailingActivation = 0

	dec := e.Evaluate(st, 1.0950)
	assert.False(t, dec.HasTrailingStop)
	assert.False(t, st.TrailingActive)
	assert.InDelta(t, 0.01, dec.Profit, 1e-9)
}

func TestEvaluator_Breakeven(t *testing.T) {
	e := NewEvaluator(BreakevenConfig{Enabled: true, TriggerPips: 10, OffsetPips: 1})
	st := buyState()
	st.TrailingActivation, st.TrailingDistance = 0, 0

	dec := e.Evaluate(st, 1.0855)
	assert.False(t, dec.BreakevenTriggered)

	dec = e.Evaluate(st, 1.0861)
	require.True(t, dec.BreakevenTriggered)
	assert.InDelta(t, 1.0851, dec.BreakevenStop, 1e-9)
	assert.True(t, st.BreakEvenMoved)

	dec = e.Evaluate(st, 1.0900)
	assert.False(t, dec.BreakevenTriggered)
	assert.True(t, st.BreakEvenMoved)
}

func TestEvaluator_Sell(t *testing.T) {
	e := NewEvaluator(BreakevenConfig{Enabled: true, TriggerPips: 10})
	st := buyState()
	st.Action = models.ActionSell
	st.CurrentStopLoss = 1.0900

	dec := e.Evaluate(st, 1.0825)
	assert.True(t, dec.BreakevenTriggered)
	assert.InDelta(t, 1.0850, dec.BreakevenStop, 1e-9)
	assert.True(t, dec.TrailingActivated)
	assert.InDelta(t, 1.0840, dec.TrailingStop, 1e-9)
}

func TestEvaluator_ZeroUnitSize(t *testing.T) {
	e := NewEvaluator(BreakevenConfig{Enabled: true, TriggerPips: 1})
	st := buyState()
	st.UnitSize = 0

	dec := e.Evaluate(st, 2)
	assert.False(t, dec.BreakevenTriggered)
	assert.False(t, dec.HasTrailingStop)
}
