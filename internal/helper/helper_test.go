package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trade_hook/internal/models"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"eurusd", "EURUSD"},
		{"EUR/USD", "EURUSD"},
		{" xau_usd.m ", "XAUUSDM"},
		{"btc-usd", "BTCUSD"},
		{"//", ""},
		{"ёж", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeSymbol(tc.in), tc.in)
	}
}

func TestRoundDownToStep(t *testing.T) {
	assert.InDelta(t, 0.40, RoundDownToStep(0.40000000000000857, 0.01), 1e-12)
	assert.InDelta(t, 0.39, RoundDownToStep(0.3999, 0.01), 1e-12)
	assert.InDelta(t, 1.2, RoundDownToStep(1.25, 0.1), 1e-12)
	assert.Equal(t, 0.123, RoundDownToStep(0.123, 0))
}

func TestRoundToAndClamp(t *testing.T) {
	assert.Equal(t, 0.41, RoundTo(0.4099999, 2))
	assert.Equal(t, 0.01, Clamp(0.001, 0.01, 100))
	assert.Equal(t, 100.0, Clamp(250, 0.01, 100))
	assert.Equal(t, 3.0, Clamp(3, 0.01, 100))
}

func TestImproves(t *testing.T) {
	assert.True(t, Improves(models.ActionBuy, 1.0860, 1.0850))
	assert.False(t, Improves(models.ActionBuy, 1.0840, 1.0850))
	assert.True(t, Improves(models.ActionSell, 1.0840, 1.0850))
	assert.False(t, Improves(models.ActionSell, 1.0850, 1.0850))
}
