package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvenSplit(t *testing.T) {
	for n := 1; n <= 9; n++ {
		parts := EvenSplit(n)
		require.Len(t, parts, n)

		sum := 0.0
		for _, p := range parts {
			assert.Equal(t, parts[0], p)
			sum += p
		}
		assert.InDelta(t, 100, sum, 1e-9)
	}
	assert.Empty(t, EvenSplit(0))
	assert.Empty(t, EvenSplit(-1))
}

func TestDistributeTakeProfits_Explicit(t *testing.T) {
	out := DistributeTakeProfits([]float64{1.09, 1.095, 1.1}, []float64{50, 30, 20})
	require.Len(t, out, 3)

	for i, a := range out {
		assert.Equal(t, i+1, a.Level)
	}
	assert.Equal(t, 1.09, out[0].Price)
	assert.Equal(t, 1.1, out[2].Price)
	assert.Equal(t, 50.0, out[0].Percentage)
	assert.Equal(t, 20.0, out[2].Percentage)
}

func TestDistributeTakeProfits_PreservesInputOrder(t *testing.T) {
	out := DistributeTakeProfits([]float64{1.1, 1.09}, nil)
	require.Len(t, out, 2)
	assert.Equal(t, 1.1, out[0].Price)
	assert.Equal(t, 1.09, out[1].Price)
}

func TestDistributeTakeProfits_EvenFallback(t *testing.T) {
	out := DistributeTakeProfits([]float64{1.09, 1.095, 1.1}, []float64{50, 50})
	require.Len(t, out, 3)
	for _, a := range out {
		assert.InDelta(t, 100.0/3, a.Percentage, 1e-9)
	}
}

func TestDistributeTakeProfits_Empty(t *testing.T) {
	out := DistributeTakeProfits(nil, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
