package helper

import (
	"math"
	"strings"
	"unicode"

	"trade_hook/internal/models"
)

// NormalizeSymbol приводит символ к верхнему регистру без разделителей ("eur/usd" -> "EURUSD").
func NormalizeSymbol(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RoundDownToStep округляет вниз к ближайшему кратному step.
func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := math.Floor(v/step + 1e-9)
	return steps * step
}

// RoundTo ...
func RoundTo(v float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.Round(v*p) / p
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Improves: candidate лучше текущего стопа для направления позиции.
func Improves(action models.Action, candidate, current float64) bool {
	if action == models.ActionBuy {
		return candidate > current
	}
	return candidate < current
}
