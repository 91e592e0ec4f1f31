package risk

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"trade_hook/internal/helper"
	"trade_hook/internal/models"
)

// DefaultLeverage: плечо для оценки маржи, если у счёта не задано.
const DefaultLeverage = 100

// ValidateParameters возвращает все нарушения входных параметров сайзинга.
func ValidateParameters(balance, riskPct, entry, stop float64) []string {
	var problems []string
	if !(balance > 0) {
		problems = append(problems, "account balance must be positive")
	}
	if !(riskPct > 0) || riskPct > 100 {
		problems = append(problems, "risk percentage must be between 0 and 100")
	}
	if !(entry > 0) {
		problems = append(problems, "entry price must be positive")
	}
	if !(stop > 0) {
		problems = append(problems, "stop loss must be positive")
	}
	if entry == stop {
		problems = append(problems, "entry price and stop loss cannot be the same")
	}
	return problems
}

// Size считает объём позиции по денежному риску:
//
//	riskAmount = balance * riskPct / 100
//	lot        = riskAmount / (|entry - stop| * contractSize)
//
// Лот режется вниз до lotStep (никогда не округляем вверх, чтобы не превысить риск),
// зажимается в [minLot, maxLot] и округляется до 2 знаков.
// leverage <= 0 => DefaultLeverage.
func Size(balance, riskPct, entry, stop float64, spec models.InstrumentSpec, leverage float64) (models.SizingResult, error) {
	if problems := ValidateParameters(balance, riskPct, entry, stop); len(problems) > 0 {
		return models.SizingResult{}, errors.Wrap(models.ErrInvalidParameters, strings.Join(problems, "; "))
	}
	if !spec.Valid() {
		return models.SizingResult{}, errors.Wrap(models.ErrInvalidParameters, "instrument specification is incomplete")
	}
	if leverage <= 0 {
		leverage = DefaultLeverage
	}

	riskAmount := balance * (riskPct / 100)
	stopDist := math.Abs(entry - stop)
	stopPoints := stopDist / spec.Point

	lot := riskAmount / (stopDist * spec.ContractSize)
	if math.IsNaN(lot) || math.IsInf(lot, 0) {
		return models.SizingResult{}, errors.Wrapf(models.ErrInvalidParameters, "lot size is not finite: %v", lot)
	}

	lot = helper.RoundDownToStep(lot, spec.LotStep)
	lot = helper.Clamp(lot, spec.MinLot, spec.MaxLot)
	lot = helper.RoundTo(lot, 2)

	positionValue := lot * spec.ContractSize * entry

	return models.SizingResult{
		LotSize:          lot,
		RiskAmount:       riskAmount,
		StopLossDistance: stopDist,
		StopLossPoints:   stopPoints,
		PositionValue:    positionValue,
		RequiredMargin:   positionValue / leverage,
	}, nil
}

// Sizer связывает расчёт с источником спецификаций и плечом.
type Sizer struct {
	resolver *Resolver
	leverage float64
}

func NewSizer(resolver *Resolver, leverage float64) *Sizer {
	if leverage <= 0 {
		leverage = DefaultLeverage
	}
	return &Sizer{resolver: resolver, leverage: leverage}
}

func (s *Sizer) Leverage() float64 { return s.leverage }

// Spec: спецификация символа с учётом политики неизвестных символов.
func (s *Sizer) Spec(symbol string) (models.InstrumentSpec, error) {
	spec, _, err := s.resolver.Resolve(symbol)
	return spec, err
}

// SizeSymbol считает Size со спекой из провайдера. leverage <= 0 => плечо сайзера.
func (s *Sizer) SizeSymbol(symbol string, balance, riskPct, entry, stop, leverage float64) (models.SizingResult, models.InstrumentSpec, error) {
	spec, err := s.Spec(symbol)
	if err != nil {
		return models.SizingResult{}, models.InstrumentSpec{}, err
	}
	if leverage <= 0 {
		leverage = s.leverage
	}
	res, err := Size(balance, riskPct, entry, stop, spec, leverage)
	return res, spec, err
}
