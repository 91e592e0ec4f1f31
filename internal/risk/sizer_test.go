package risk

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_hook/internal/models"
)

func TestSize_EURUSDScenario(t *testing.T) {
	res, err := Size(10000, 2, 1.0850, 1.0800, DefaultForexSpec, 0)
	require.NoError(t, err)

	assert.InDelta(t, 200.0, res.RiskAmount, 1e-9)
	assert.InDelta(t, 0.005, res.StopLossDistance, 1e-12)
	assert.InDelta(t, 500, res.StopLossPoints, 1e-6)
	assert.Equal(t, 0.40, res.LotSize)
	assert.InDelta(t, 0.40*100000*1.0850, res.PositionValue, 1e-6)
	assert.InDelta(t, res.PositionValue/100, res.RequiredMargin, 1e-9)
}

func TestSize_FloorsToLotStep(t *testing.T) {
	// сырой лот 0.3999.. => 0.39, а не 0.40
	res, err := Size(10000, 1.9995, 1.0850, 1.0800, DefaultForexSpec, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.39, res.LotSize)
}

func TestSize_ClampsToMinMax(t *testing.T) {
	res, err := Size(100, 0.1, 1.0850, 1.0800, DefaultForexSpec, 100)
	require.NoError(t, err)
	assert.Equal(t, DefaultForexSpec.MinLot, res.LotSize)

	res, err = Size(1e9, 50, 1.0850, 1.0800, DefaultForexSpec, 100)
	require.NoError(t, err)
	assert.Equal(t, DefaultForexSpec.MaxLot, res.LotSize)
}

func TestSize_CustomLeverage(t *testing.T) {
	res, err := Size(10000, 2, 1.0850, 1.0800, DefaultForexSpec, 30)
	require.NoError(t, err)
	assert.InDelta(t, res.PositionValue/30, res.RequiredMargin, 1e-9)
}

func TestSize_Properties(t *testing.T) {
	specs := []models.InstrumentSpec{DefaultForexSpec, builtinSpecs["XAUUSD"], builtinSpecs["BTCUSD"], builtinSpecs["USDJPY"]}
	balances := []float64{50, 1000, 10000, 250000}
	risks := []float64{0.25, 1, 2, 5, 100}
	pairs := [][2]float64{{1.0850, 1.0800}, {2350.5, 2345.1}, {64000, 63000}, {151.2, 151.9}}

	for _, spec := range specs {
		for _, bal := range balances {
			for _, rp := range risks {
				for _, p := range pairs {
					res, err := Size(bal, rp, p[0], p[1], spec, 0)
					require.NoError(t, err)

					assert.InDelta(t, bal*rp/100, res.RiskAmount, 1e-9)
					assert.GreaterOrEqual(t, res.LotSize, spec.MinLot)
					assert.LessOrEqual(t, res.LotSize, spec.MaxLot)

					steps := res.LotSize / spec.LotStep
					assert.InDelta(t, math.Round(steps), steps, 1e-6, "lot %v not on step %v", res.LotSize, spec.LotStep)
				}
			}
		}
	}
}

func TestSize_InvalidParameters(t *testing.T) {
	tests := []struct {
		name                     string
		balance, risk, entry, sl float64
	}{
		{"zero balance", 0, 2, 1.1, 1.0},
		{"negative balance", -5, 2, 1.1, 1.0},
		{"zero risk", 1000, 0, 1.1, 1.0},
		{"risk above 100", 1000, 100.5, 1.1, 1.0},
		{"zero entry", 1000, 2, 0, 1.0},
		{"zero stop", 1000, 2, 1.1, 0},
		{"entry equals stop", 1000, 2, 1.1, 1.1},
		{"nan balance", math.NaN(), 2, 1.1, 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Size(tc.balance, tc.risk, tc.entry, tc.sl, DefaultForexSpec, 100)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidParameters))
			assert.Equal(t, models.SizingResult{}, res)
		})
	}
}

func TestSize_RiskHundredAccepted(t *testing.T) {
	_, err := Size(1000, 100, 1.1, 1.0, DefaultForexSpec, 100)
	assert.NoError(t, err)
}

func TestValidateParameters_CollectsAll(t *testing.T) {
	problems := ValidateParameters(0, 0, 0, 0)
	assert.Len(t, problems, 5)
}

func TestSize_IncompleteSpec(t *testing.T) {
	_, err := Size(1000, 1, 1.1, 1.0, models.InstrumentSpec{}, 100)
	assert.True(t, errors.Is(err, models.ErrInvalidParameters))
}

func TestSizer_SizeSymbol(t *testing.T) {
	s := NewSizer(NewResolver(NewStaticProvider(nil), PolicyFallback, nil), 50)

	res, spec, err := s.SizeSymbol("xauusd", 10000, 1, 2350, 2340, 0)
	require.NoError(t, err)
	assert.Equal(t, builtinSpecs["XAUUSD"], spec)
	// 100 / (10 * 100) = 0.1
	assert.Equal(t, 0.10, res.LotSize)
	assert.InDelta(t, res.PositionValue/50, res.RequiredMargin, 1e-9)

	res, _, err = s.SizeSymbol("XAUUSD", 10000, 1, 2350, 2340, 10)
	require.NoError(t, err)
	assert.InDelta(t, res.PositionValue/10, res.RequiredMargin, 1e-9)
}

func TestSizer_RejectPolicy(t *testing.T) {
	s := NewSizer(NewResolver(NewStaticProvider(nil), PolicyReject, nil), 0)
	assert.Equal(t, float64(DefaultLeverage), s.Leverage())

	_, _, err := s.SizeSymbol("NOPE", 10000, 1, 1.1, 1.0, 0)
	assert.True(t, errors.Is(err, models.ErrUnknownSymbol))
}
