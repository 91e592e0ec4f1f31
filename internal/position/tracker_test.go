package position

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_hook/internal/models"
	"trade_hook/internal/risk"
	"trade_hook/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(event string, data any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func f(v float64) *float64 { return &v }

func newTracker(be risk.BreakevenConfig) (*Tracker, *store.Memory, *recorder) {
	mem := store.NewMemory()
	pub := &recorder{}
	tr := NewTracker(mem, risk.NewEvaluator(be), risk.NewStaticProvider(nil), pub, nil)
	return tr, mem, pub
}

func buySignal() *models.SignalRecord {
	return &models.SignalRecord{
		ID: "sig-1",
		Signal: models.Signal{
			Action:             models.ActionBuy,
			Symbol:             "EURUSD",
			Price:              1.0850,
			StopLoss:           1.0800,
			TakeProfits:        []float64{1.0950},
			TrailingActivation: f(20),
			TrailingDistance:   f(15),
		},
	}
}

func TestTracker_Open(t *testing.T) {
	tr, mem, _ := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()

	st, err := tr.Open(ctx, buySignal(), 1.0852)
	require.NoError(t, err)
	assert.Equal(t, 1.0852, st.EntryPrice)
	assert.Equal(t, 1.0800, st.CurrentStopLoss)
	assert.InDelta(t, 0.0001, st.UnitSize, 1e-12)
	assert.Equal(t, 20.0, st.TrailingActivation)

	saved, err := mem.Position(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, st.EntryPrice, saved.EntryPrice)

	other := buySignal()
	other.ID = "sig-2"
	st, err = tr.Open(ctx, other, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0850, st.EntryPrice)
}

func TestTracker_OpenKeepsExisting(t *testing.T) {
	tr, mem, _ := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()
	_, err := tr.Open(ctx, buySignal(), 0)
	require.NoError(t, err)

	adj, err := tr.OnPrice(ctx, "sig-1", 1.0900)
	require.NoError(t, err)
	require.True(t, adj.Moved)
	assert.InDelta(t, 1.0885, adj.StopLoss, 1e-9)

	// повторный отчёт executed с другой ценой входа
	st, err := tr.Open(ctx, buySignal(), 1.0860)
	require.NoError(t, err)
	assert.Equal(t, 1.0850, st.EntryPrice)
	assert.InDelta(t, 1.0885, st.CurrentStopLoss, 1e-9)
	assert.True(t, st.TrailingActive)

	saved, err := mem.Position(ctx, "sig-1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0885, saved.CurrentStopLoss, 1e-9)
	assert.True(t, saved.TrailingActive)
}

func TestTracker_OpenRejects(t *testing.T) {
	tr, _, _ := newTracker(risk.BreakevenConfig{})
	rec := buySignal()
	rec.Action = models.ActionClose
	_, err := tr.Open(context.Background(), rec, 0)
	assert.True(t, errors.Is(err, models.ErrInvalidParameters))

	strict := NewTracker(store.NewMemory(), risk.NewEvaluator(risk.BreakevenConfig{}),
		risk.NewResolver(risk.NewStaticProvider(nil), risk.PolicyReject, nil), nil, nil)
	rec = buySignal()
	rec.Symbol = "NOPE"
	_, err = strict.Open(context.Background(), rec, 0)
	assert.True(t, errors.Is(err, models.ErrUnknownSymbol))
}

func TestTracker_TrailingOnlyMovesForward(t *testing.T) {
	tr, _, pub := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()
	_, err := tr.Open(ctx, buySignal(), 0)
	require.NoError(t, err)

	adj, err := tr.OnPrice(ctx, "sig-1", 1.0860)
	require.NoError(t, err)
	assert.False(t, adj.Moved)
	assert.False(t, adj.TrailingActive)

	adj, err = tr.OnPrice(ctx, "sig-1", 1.0880)
	require.NoError(t, err)
	assert.True(t, adj.Moved)
	assert.Equal(t, "trailing", adj.Reason)
	assert.InDelta(t, 1.0865, adj.StopLoss, 1e-9)

	// откат: сырой кандидат 1.0855 хуже текущего стопа
	adj, err = tr.OnPrice(ctx, "sig-1", 1.0870)
	require.NoError(t, err)
	assert.False(t, adj.Moved)
	assert.InDelta(t, 1.0865, adj.StopLoss, 1e-9)
	assert.True(t, adj.TrailingActive)

	adj, err = tr.OnPrice(ctx, "sig-1", 1.0900)
	require.NoError(t, err)
	assert.True(t, adj.Moved)
	assert.InDelta(t, 1.0885, adj.StopLoss, 1e-9)

	assert.Equal(t, 2, pub.count())
}

func TestTracker_BreakevenThenTrailing(t *testing.T) {
	tr, _, _ := newTracker(risk.BreakevenConfig{Enabled: true, TriggerPips: 10, OffsetPips: 1})
	ctx := context.Background()
	rec := buySignal()
	rec.TrailingActivation = f(40)
	_, err := tr.Open(ctx, rec, 0)
	require.NoError(t, err)

	adj, err := tr.OnPrice(ctx, "sig-1", 1.0862)
	require.NoError(t, err)
	assert.True(t, adj.Moved)
	assert.Equal(t, "breakeven", adj.Reason)
	assert.InDelta(t, 1.0851, adj.StopLoss, 1e-9)
	assert.True(t, adj.BreakEvenMoved)

	adj, err = tr.OnPrice(ctx, "sig-1", 1.0895)
	require.NoError(t, err)
	assert.True(t, adj.Moved)
	assert.Equal(t, "trailing", adj.Reason)
	assert.InDelta(t, 1.0880, adj.StopLoss, 1e-9)
}

func TestTracker_Sell(t *testing.T) {
	tr, _, _ := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()
	rec := buySignal()
	rec.Action = models.ActionSell
	rec.StopLoss = 1.0900
	_, err := tr.Open(ctx, rec, 0)
	require.NoError(t, err)

	adj, err := tr.OnPrice(ctx, "sig-1", 1.0820)
	require.NoError(t, err)
	assert.True(t, adj.Moved)
	assert.InDelta(t, 1.0835, adj.StopLoss, 1e-9)

	adj, err = tr.OnPrice(ctx, "sig-1", 1.0830)
	require.NoError(t, err)
	assert.False(t, adj.Moved)
	assert.InDelta(t, 1.0835, adj.StopLoss, 1e-9)
}

func TestTracker_Errors(t *testing.T) {
	tr, _, _ := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()

	_, err := tr.OnPrice(ctx, "missing", 1.1)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = tr.OnPrice(ctx, "missing", 0)
	assert.True(t, errors.Is(err, models.ErrInvalidParameters))
}

func TestTracker_Close(t *testing.T) {
	tr, mem, _ := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()
	_, err := tr.Open(ctx, buySignal(), 0)
	require.NoError(t, err)

	require.NoError(t, tr.Close(ctx, "sig-1"))
	_, err = mem.Position(ctx, "sig-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	require.NoError(t, tr.Close(ctx, "sig-1"))
}

func TestTracker_ConcurrentTicksAreMonotonic(t *testing.T) {
	tr, mem, _ := newTracker(risk.BreakevenConfig{})
	ctx := context.Background()
	_, err := tr.Open(ctx, buySignal(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		price := 1.0870 + float64(i%50)*0.0001
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.OnPrice(ctx, "sig-1", price)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := mem.Position(ctx, "sig-1")
	require.NoError(t, err)
	// максимальная цена 1.0919 => стоп 1.0904, что бы ни было с порядком тиков
	assert.InDelta(t, 1.0904, st.CurrentStopLoss, 1e-9)
	assert.Equal(t, 0, tr.locks.size())
}

func TestKeyedMutex_Serializes(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())
}
