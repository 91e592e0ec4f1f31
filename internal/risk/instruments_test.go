package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trade_hook/internal/models"
)

func TestStaticProvider_Builtin(t *testing.T) {
	p := NewStaticProvider(nil)

	spec, ok := p.Spec("eur/usd")
	require.True(t, ok)
	assert.Equal(t, DefaultForexSpec, spec)

	spec, ok = p.Spec("USDJPY")
	require.True(t, ok)
	assert.Equal(t, 3, spec.Digits)
	assert.InDelta(t, 0.01, spec.PipSize(), 1e-12)

	_, ok = p.Spec("US30")
	assert.False(t, ok)
}

func TestStaticProvider_ExtraOverrides(t *testing.T) {
	custom := models.InstrumentSpec{ContractSize: 10, Point: 0.1, LotStep: 0.1, MinLot: 0.1, MaxLot: 50, Digits: 1}
	p := NewStaticProvider(map[string]models.InstrumentSpec{"xauusd": custom, "us30": custom})

	spec, ok := p.Spec("XAUUSD")
	require.True(t, ok)
	assert.Equal(t, custom, spec)

	_, ok = p.Spec("US30")
	assert.True(t, ok)

	p.Set("ger40", custom)
	_, ok = p.Spec("GER40")
	assert.True(t, ok)
}

func TestResolver_FallbackIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewResolver(NewStaticProvider(nil), PolicyFallback, zap.New(core))

	spec, fallback, err := r.Resolve("EURCHF")
	require.NoError(t, err)
	assert.True(t, fallback)
	assert.Equal(t, DefaultForexSpec, spec)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "EURCHF", logs.All()[0].ContextMap()["symbol"])

	_, fallback, err = r.Resolve("EURUSD")
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Equal(t, 1, logs.Len())
}

func TestResolver_Reject(t *testing.T) {
	r := NewResolver(NewStaticProvider(nil), PolicyReject, nil)
	_, _, err := r.Resolve("EURCHF")
	assert.True(t, errors.Is(err, models.ErrUnknownSymbol))

	_, ok := r.Spec("EURCHF")
	assert.False(t, ok)
}

func TestLoadInstrumentsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	body := `
instruments:
  US30:
    contract_size: 1
    tick_size: 0.1
    tick_value: 0.1
    min_lot: 0.1
    max_lot: 50
    lot_step: 0.1
    digits: 1
    point: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := NewFileProvider(path)
	require.NoError(t, err)

	spec, ok := p.Spec("us30")
	require.True(t, ok)
	assert.Equal(t, 1.0, spec.ContractSize)
	assert.Equal(t, 0.1, spec.LotStep)
	assert.Equal(t, 1, spec.Digits)

	// встроенные никуда не делись
	_, ok = p.Spec("EURUSD")
	assert.True(t, ok)
}

func TestLoadInstrumentsFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instruments:\n  BAD:\n    contract_size: 0\n"), 0o600))

	_, err := LoadInstrumentsFile(path)
	assert.Error(t, err)

	_, err = LoadInstrumentsFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestNewFileProvider_EmptyPath(t *testing.T) {
	p, err := NewFileProvider("")
	require.NoError(t, err)
	_, ok := p.Spec("BTCUSD")
	assert.True(t, ok)
}
