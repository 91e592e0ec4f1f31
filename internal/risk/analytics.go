package risk

import (
	"math"

	"trade_hook/internal/models"
)

// PotentialPnL: результат сделки при выходе по exit.
func PotentialPnL(action models.Action, entry, exit, lot float64, spec models.InstrumentSpec) float64 {
	return DirectionalProfit(action, entry, exit) * lot * spec.ContractSize
}

// RiskRewardRatio: reward/risk; 0 если стоп совпадает со входом.
func RiskRewardRatio(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// DailyLoss: состояние дневного лимита убытка.
type DailyLoss struct {
	Exceeded  bool
	Remaining float64
}

// CheckDailyLossLimit: todayPnL отрицателен при убытке. limitPct <= 0, лимита нет.
func CheckDailyLossLimit(todayPnL, balance, limitPct float64) DailyLoss {
	if limitPct <= 0 {
		return DailyLoss{Remaining: math.Inf(1)}
	}
	maxLoss := balance * (limitPct / 100)
	return DailyLoss{
		Exceeded:  todayPnL <= -maxLoss,
		Remaining: math.Max(0, maxLoss+todayPnL),
	}
}

// CheckMaxOpenTrades true, если лимит открытых сделок уже выбран. max <= 0, без лимита.
func CheckMaxOpenTrades(open, max int) bool {
	if max <= 0 {
		return false
	}
	return open >= max
}

// WinRate в процентах.
func WinRate(wins, losses int) float64 {
	total := wins + losses
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

// ProfitFactor = gross profit / |gross loss|. Без убытков +Inf при прибыли, иначе 0.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / math.Abs(grossLoss)
}
