package position

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_hook/internal/helper"
	"trade_hook/internal/metrics"
	"trade_hook/internal/models"
	"trade_hook/internal/risk"
)

const EventStopUpdated = "stop_updated"

// Repository: часть store.Store, нужная трекеру.
type Repository interface {
	SavePosition(ctx context.Context, st *models.TrailingState) error
	Position(ctx context.Context, signalID string) (*models.TrailingState, error)
	DeletePosition(ctx context.Context, signalID string) error
}

type Publisher interface {
	Publish(event string, data any)
}

// Tracker ведёт трейлинг и безубыток открытых позиций.
// Тики одной позиции обрабатываются строго по очереди; стоп двигается только в сторону прибыли.
type Tracker struct {
	repo      Repository
	evaluator *risk.Evaluator
	specs     risk.InstrumentProvider
	pub       Publisher
	log       *zap.Logger
	now       func() time.Time
	locks     *keyedMutex
}

func NewTracker(repo Repository, evaluator *risk.Evaluator, specs risk.InstrumentProvider, pub Publisher, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		repo:      repo,
		evaluator: evaluator,
		specs:     specs,
		pub:       pub,
		log:       log,
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
}

// Open заводит состояние по исполненному сигналу. fillPrice <= 0 => цена сигнала.
// Уже открытая позиция возвращается как есть.
func (t *Tracker) Open(ctx context.Context, rec *models.SignalRecord, fillPrice float64) (*models.TrailingState, error) {
	if !rec.Action.Opens() {
		return nil, errors.Wrapf(models.ErrInvalidParameters, "signal %s (%s) does not open a position", rec.ID, rec.Action)
	}
	spec, ok := t.specs.Spec(rec.Symbol)
	if !ok {
		return nil, errors.Wrapf(models.ErrUnknownSymbol, "symbol %s", rec.Symbol)
	}

	entry := fillPrice
	if entry <= 0 {
		entry = rec.Price
	}
	now := t.now()
	st := &models.TrailingState{
		SignalID:        rec.ID,
		Symbol:          rec.Symbol,
		Action:          rec.Action,
		EntryPrice:      entry,
		CurrentStopLoss: rec.StopLoss,
		UnitSize:        spec.PipSize(),
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	if rec.TrailingActivation != nil {
		st.TrailingActivation = *rec.TrailingActivation
	}
	if rec.TrailingDistance != nil {
		st.TrailingDistance = *rec.TrailingDistance
	}

	unlock := t.locks.Lock(rec.ID)
	defer unlock()
	cur, err := t.repo.Position(ctx, rec.ID)
	switch {
	case err == nil:
		return cur, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	if err := t.repo.SavePosition(ctx, st); err != nil {
		return nil, err
	}
	t.log.Info("position opened",
		zap.String("signal_id", rec.ID),
		zap.String("symbol", rec.Symbol),
		zap.Float64("entry", entry),
		zap.Float64("stop_loss", st.CurrentStopLoss),
		zap.Bool("trailing", st.HasTrailing()),
	)
	return st, nil
}

// OnPrice обрабатывает тик: из кандидатов берёт самый выгодный, который улучшает текущий стоп.
func (t *Tracker) OnPrice(ctx context.Context, signalID string, price float64) (*models.StopAdjustment, error) {
	if !(price > 0) {
		return nil, errors.Wrap(models.ErrInvalidParameters, "price must be positive")
	}

	unlock := t.locks.Lock(signalID)
	defer unlock()

	st, err := t.repo.Position(ctx, signalID)
	if err != nil {
		return nil, err
	}

	dec := t.evaluator.Evaluate(st, price)

	best, reason := st.CurrentStopLoss, ""
	if dec.BreakevenTriggered && helper.Improves(st.Action, dec.BreakevenStop, best) {
		best, reason = dec.BreakevenStop, "breakeven"
	}
	if dec.HasTrailingStop && helper.Improves(st.Action, dec.TrailingStop, best) {
		best, reason = dec.TrailingStop, "trailing"
	}

	moved := reason != ""
	if moved {
		st.CurrentStopLoss = best
		st.UpdatedAt = t.now()
	}
	if moved || dec.TrailingActivated || dec.BreakevenTriggered {
		if err := t.repo.SavePosition(ctx, st); err != nil {
			return nil, err
		}
	}

	adj := &models.StopAdjustment{
		SignalID:       signalID,
		StopLoss:       st.CurrentStopLoss,
		Moved:          moved,
		Reason:         reason,
		TrailingActive: st.TrailingActive,
		BreakEvenMoved: st.BreakEvenMoved,
	}
	if moved {
		metrics.StopAdjustments.WithLabelValues(reason).Inc()
		if t.pub != nil {
			t.pub.Publish(EventStopUpdated, adj)
		}
		t.log.Info("stop moved",
			zap.String("signal_id", signalID),
			zap.String("reason", reason),
			zap.Float64("price", price),
			zap.Float64("stop_loss", best),
		)
	}
	return adj, nil
}

// Close забывает позицию. Отсутствие состояния не ошибка.
func (t *Tracker) Close(ctx context.Context, signalID string) error {
	unlock := t.locks.Lock(signalID)
	defer unlock()
	return t.repo.DeletePosition(ctx, signalID)
}
