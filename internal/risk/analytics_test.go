package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"trade_hook/internal/models"
)

func TestPotentialPnL(t *testing.T) {
	assert.InDelta(t, 400, PotentialPnL(models.ActionBuy, 1.0850, 1.0950, 0.4, DefaultForexSpec), 1e-6)
	assert.InDelta(t, -400, PotentialPnL(models.ActionSell, 1.0850, 1.0950, 0.4, DefaultForexSpec), 1e-6)
}

func TestRiskRewardRatio(t *testing.T) {
	assert.InDelta(t, 2, RiskRewardRatio(1.0850, 1.0800, 1.0950), 1e-9)
	assert.InDelta(t, 2, RiskRewardRatio(1.0850, 1.0900, 1.0750), 1e-9)
	assert.Equal(t, 0.0, RiskRewardRatio(1.0850, 1.0850, 1.0950))
}

func TestCheckDailyLossLimit(t *testing.T) {
	st := CheckDailyLossLimit(-200, 10000, 5)
	assert.False(t, st.Exceeded)
	assert.InDelta(t, 300, st.Remaining, 1e-9)

	st = CheckDailyLossLimit(-500, 10000, 5)
	assert.True(t, st.Exceeded)
	assert.Equal(t, 0.0, st.Remaining)

	st = CheckDailyLossLimit(-1e6, 10000, 0)
	assert.False(t, st.Exceeded)
	assert.True(t, math.IsInf(st.Remaining, 1))
}

func TestCheckMaxOpenTrades(t *testing.T) {
	assert.False(t, CheckMaxOpenTrades(2, 3))
	assert.True(t, CheckMaxOpenTrades(3, 3))
	assert.False(t, CheckMaxOpenTrades(100, 0))
}

func TestWinRateAndProfitFactor(t *testing.T) {
	assert.InDelta(t, 60, WinRate(3, 2), 1e-9)
	assert.Equal(t, 0.0, WinRate(0, 0))

	assert.InDelta(t, 2, ProfitFactor(300, -150), 1e-9)
	assert.True(t, math.IsInf(ProfitFactor(300, 0), 1))
	assert.Equal(t, 0.0, ProfitFactor(0, 0))
}
