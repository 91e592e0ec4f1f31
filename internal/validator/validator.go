package validator

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/bytedance/sonic"

	"trade_hook/internal/guard"
	"trade_hook/internal/helper"
	"trade_hook/internal/models"
	"trade_hook/internal/risk"
)

// допуск суммы процентов TP
const tpSumTolerance = 0.01

type Options struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// Validator проверяет payload алерта TradingView и нормализует его в models.Signal.
type Validator struct {
	maxAge time.Duration
	now    func() time.Time
}

func New(opts Options) *Validator {
	v := &Validator{maxAge: opts.MaxAge, now: opts.Now}
	if v.maxAge <= 0 {
		v.maxAge = guard.DefaultMaxAge
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

func (v *Validator) MaxAge() time.Duration { return v.maxAge }

// Decode разбирает тело запроса в форму payload. Не объект: ошибка валидации.
func Decode(body []byte) (map[string]any, error) {
	var payload map[string]any
	if err := sonic.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, &ValidationError{Errors: []string{"payload must be a JSON object"}}
	}
	return payload, nil
}

// Validate собирает все ошибки, а не падает на первой.
// Возвращает *ValidationError, если сигнал отклонён.
func (v *Validator) Validate(payload map[string]any) (*models.Signal, error) {
	verr := &ValidationError{}

	action := models.Action("")
	if raw, ok := payload["action"].(string); ok {
		action = models.Action(raw)
	}
	switch action {
	case models.ActionBuy, models.ActionSell, models.ActionClose:
	default:
		verr.add("invalid action, must be: buy, sell, or close")
	}

	var symbol string
	if raw, ok := payload["symbol"].(string); !ok || raw == "" {
		verr.add("symbol is required and must be a string")
	} else if symbol = helper.NormalizeSymbol(raw); symbol == "" {
		verr.add("symbol must contain letters or digits")
	}

	sig := &models.Signal{
		Action:    action,
		Symbol:    symbol,
		OrderType: models.OrderMarket,
	}

	if action != models.ActionClose {
		v.validateOpen(payload, sig, verr)
	}

	if raw, present := payload["order_type"]; present && raw != nil {
		switch ot, _ := raw.(string); models.OrderType(ot) {
		case models.OrderMarket, models.OrderLimit, models.OrderStop:
			sig.OrderType = models.OrderType(ot)
		default:
			verr.add("order_type must be: market, limit, or stop")
		}
	}

	sig.TrailingActivation = optionalPositive(payload, "trailing_activation", verr)
	sig.TrailingDistance = optionalPositive(payload, "trailing_distance", verr)

	v.validateTimestamp(payload, sig, verr)

	if !verr.empty() {
		return nil, verr
	}
	return sig, nil
}

func (v *Validator) validateOpen(payload map[string]any, sig *models.Signal, verr *ValidationError) {
	if price, ok := number(payload["price"]); !ok || price <= 0 {
		verr.add("price must be a positive number")
	} else {
		sig.Price = price
	}

	if sl, ok := number(payload["sl"]); !ok || sl <= 0 {
		verr.add("stop loss must be a positive number")
	} else {
		sig.StopLoss = sl
	}

	tps, tpOK := numbers(payload["tp"])
	tpLen := arrayLen(payload["tp"])
	switch {
	case tpLen == 0:
		verr.add("take profit must be a non-empty array")
	case !tpOK || !allPositive(tps):
		verr.add("all take profit levels must be positive numbers")
	default:
		sig.TakeProfits = tps
	}

	if riskPct, ok := number(payload["risk"]); !ok || riskPct <= 0 || riskPct > 100 {
		verr.add("risk must be between 0 and 100")
	} else {
		sig.RiskPercentage = riskPct
	}

	raw, present := payload["tp_percentages"]
	if !present || raw == nil {
		sig.TPPercentages = risk.EvenSplit(len(sig.TakeProfits))
		return
	}
	pcts, ok := numbers(raw)
	switch {
	case !ok:
		verr.add("tp percentages must be an array of numbers")
	case len(pcts) != tpLen:
		verr.add("tp percentages length must match tp levels")
	case !allPositive(pcts):
		verr.add("tp percentages must be positive numbers")
	case math.Abs(sum(pcts)-100) > tpSumTolerance:
		verr.add(fmt.Sprintf("tp percentages must sum to 100, got %.4f", sum(pcts)))
	default:
		sig.TPPercentages = pcts
	}
}

func (v *Validator) validateTimestamp(payload map[string]any, sig *models.Signal, verr *ValidationError) {
	raw, _ := payload["timestamp"].(string)
	ts, ok := guard.ParseTimestamp(raw)
	if !ok {
		verr.add("timestamp is required and must be ISO-8601")
		verr.Stale = true
		return
	}
	sig.Timestamp = ts

	age := v.now().Sub(ts)
	switch {
	case age < 0:
		verr.add("timestamp is in the future")
		verr.Stale = true
	case age > v.maxAge:
		verr.add(fmt.Sprintf("signal is too old: %s > %s", age.Truncate(time.Second), v.maxAge))
		verr.Stale = true
	}
}

var apiKeyRe = regexp.MustCompile(`^wh_[a-f0-9]{64}$`)

// ValidateAPIKeyFormat проверяет формат ключей дашборда (wh_ + 64 hex).
func ValidateAPIKeyFormat(key string) bool {
	return apiKeyRe.MatchString(key)
}

func optionalPositive(payload map[string]any, key string, verr *ValidationError) *float64 {
	raw, present := payload[key]
	if !present || raw == nil {
		return nil
	}
	n, ok := number(raw)
	if !ok || n <= 0 {
		verr.add(key + " must be a positive number")
		return nil
	}
	return &n
}

func number(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func arrayLen(raw any) int {
	switch arr := raw.(type) {
	case []any:
		return len(arr)
	case []float64:
		return len(arr)
	}
	return 0
}

// numbers: массив, где каждый элемент число.
func numbers(raw any) ([]float64, bool) {
	arr, ok := raw.([]any)
	if !ok {
		if fs, ok := raw.([]float64); ok {
			return append([]float64(nil), fs...), true
		}
		return nil, false
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		n, ok := number(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func allPositive(xs []float64) bool {
	for _, x := range xs {
		if x <= 0 {
			return false
		}
	}
	return true
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
