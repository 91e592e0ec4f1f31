package risk

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"trade_hook/internal/helper"
	"trade_hook/internal/models"
)

// InstrumentProvider отдаёт спецификацию инструмента по символу.
type InstrumentProvider interface {
	Spec(symbol string) (models.InstrumentSpec, bool)
}

// DefaultForexSpec: спецификация для неизвестных символов (5-знак, контракт 100000).
var DefaultForexSpec = models.InstrumentSpec{
	ContractSize: 100000,
	TickSize:     0.00001,
	TickValue:    1,
	MinLot:       0.01,
	MaxLot:       100,
	LotStep:      0.01,
	Digits:       5,
	Point:        0.00001,
}

var builtinSpecs = map[string]models.InstrumentSpec{
	"EURUSD": DefaultForexSpec,
	"GBPUSD": DefaultForexSpec,
	"USDJPY": {
		ContractSize: 100000,
		TickSize:     0.001,
		TickValue:    0.91,
		MinLot:       0.01,
		MaxLot:       100,
		LotStep:      0.01,
		Digits:       3,
		Point:        0.001,
	},
	"XAUUSD": {
		ContractSize: 100,
		TickSize:     0.01,
		TickValue:    1,
		MinLot:       0.01,
		MaxLot:       100,
		LotStep:      0.01,
		Digits:       2,
		Point:        0.01,
	},
	"BTCUSD": {
		ContractSize: 1,
		TickSize:     0.01,
		TickValue:    0.01,
		MinLot:       0.01,
		MaxLot:       10,
		LotStep:      0.01,
		Digits:       2,
		Point:        0.01,
	},
}

// StaticProvider: таблица в памяти. Символы нормализуются при записи и чтении.
type StaticProvider struct {
	mu    sync.RWMutex
	specs map[string]models.InstrumentSpec
}

// NewStaticProvider instance
func NewStaticProvider(extra map[string]models.InstrumentSpec) *StaticProvider {
	p := &StaticProvider{specs: make(map[string]models.InstrumentSpec, len(builtinSpecs)+len(extra))}
	for sym, spec := range builtinSpecs {
		p.specs[sym] = spec
	}
	for sym, spec := range extra {
		p.specs[helper.NormalizeSymbol(sym)] = spec
	}
	return p
}

func (p *StaticProvider) Spec(symbol string) (models.InstrumentSpec, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	spec, ok := p.specs[helper.NormalizeSymbol(symbol)]
	return spec, ok
}

// Set добавляет или заменяет инструмент.
func (p *StaticProvider) Set(symbol string, spec models.InstrumentSpec) {
	p.mu.Lock()
	p.specs[helper.NormalizeSymbol(symbol)] = spec
	p.mu.Unlock()
}

// LoadInstrumentsFile читает секцию instruments из yaml/json/toml файла через viper.
//
//	instruments:
//	  US30:
//	    contract_size: 1
//	    ...
func LoadInstrumentsFile(path string) (map[string]models.InstrumentSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read instruments file %s", path)
	}

	var raw map[string]models.InstrumentSpec
	if err := v.UnmarshalKey("instruments", &raw); err != nil {
		return nil, errors.Wrap(err, "decode instruments")
	}

	out := make(map[string]models.InstrumentSpec, len(raw))
	for sym, spec := range raw {
		if !spec.Valid() {
			return nil, errors.Errorf("instrument %s: contract_size, point, lot_step, min_lot must be positive and max_lot >= min_lot", strings.ToUpper(sym))
		}
		out[helper.NormalizeSymbol(sym)] = spec
	}
	return out, nil
}

// NewFileProvider дополняет встроенную таблицу файлом. Пустой путь, только таблица.
func NewFileProvider(path string) (*StaticProvider, error) {
	if path == "" {
		return NewStaticProvider(nil), nil
	}
	extra, err := LoadInstrumentsFile(path)
	if err != nil {
		return nil, err
	}
	return NewStaticProvider(extra), nil
}

type UnknownSymbolPolicy string

const (
	// PolicyFallback: неизвестный символ считаем дефолтным форексом и пишем warn
	PolicyFallback UnknownSymbolPolicy = "fallback"
	// PolicyReject: неизвестный символ это ошибка
	PolicyReject UnknownSymbolPolicy = "reject"
)

// Resolver применяет политику для символов, которых нет у провайдера.
type Resolver struct {
	provider InstrumentProvider
	policy   UnknownSymbolPolicy
	log      *zap.Logger
}

func NewResolver(provider InstrumentProvider, policy UnknownSymbolPolicy, log *zap.Logger) *Resolver {
	if policy == "" {
		policy = PolicyFallback
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{provider: provider, policy: policy, log: log}
}

// Resolve возвращает спек и признак того, что применён fallback.
func (r *Resolver) Resolve(symbol string) (spec models.InstrumentSpec, fallback bool, err error) {
	if spec, ok := r.provider.Spec(symbol); ok {
		return spec, false, nil
	}
	if r.policy == PolicyReject {
		return models.InstrumentSpec{}, false, errors.Wrapf(models.ErrUnknownSymbol, "symbol %s", symbol)
	}
	r.log.Warn("unknown symbol, using default forex specification",
		zap.String("symbol", symbol),
		zap.Float64("contract_size", DefaultForexSpec.ContractSize),
		zap.Int("digits", DefaultForexSpec.Digits),
	)
	return DefaultForexSpec, true, nil
}

// Spec implement InstrumentProvider. При reject неизвестный символ не найден.
func (r *Resolver) Spec(symbol string) (models.InstrumentSpec, bool) {
	spec, _, err := r.Resolve(symbol)
	return spec, err == nil
}
