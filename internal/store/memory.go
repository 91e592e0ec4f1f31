package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trade_hook/internal/models"
)

// Memory: Store в памяти процесса. Отдаёт копии, наружу указатели на внутренние записи не уходят.
type Memory struct {
	mu        sync.RWMutex
	webhooks  map[string]*models.Webhook
	byKey     map[string]string
	signals   map[string]*models.SignalRecord
	positions map[string]*models.TrailingState
}

func NewMemory() *Memory {
	return &Memory{
		webhooks:  make(map[string]*models.Webhook),
		byKey:     make(map[string]string),
		signals:   make(map[string]*models.SignalRecord),
		positions: make(map[string]*models.TrailingState),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) WebhookByAPIKey(ctx context.Context, apiKey string) (_ *models.Webhook, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.WebhookByAPIKey: %w", err)
		}
	}()
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[apiKey]
	if !ok {
		return nil, models.ErrNotFound
	}
	wh := *m.webhooks[id]
	return &wh, nil
}

func (m *Memory) Webhook(ctx context.Context, id string) (_ *models.Webhook, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.Webhook: %w", err)
		}
	}()
	m.mu.RLock()
	defer m.mu.RUnlock()

	wh, ok := m.webhooks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *wh
	return &out, nil
}

// UpsertWebhook сохраняет статистику существующего вебхука.
func (m *Memory) UpsertWebhook(ctx context.Context, wh *models.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *wh
	if prev, ok := m.webhooks[wh.ID]; ok {
		delete(m.byKey, prev.APIKey)
		next.SignalsCount = prev.SignalsCount
		next.LastSignalAt = prev.LastSignalAt
	}
	m.webhooks[wh.ID] = &next
	m.byKey[wh.APIKey] = wh.ID
	return nil
}

func (m *Memory) TouchWebhook(ctx context.Context, id string, at time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.TouchWebhook: %w", err)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()

	wh, ok := m.webhooks[id]
	if !ok {
		return models.ErrNotFound
	}
	wh.SignalsCount++
	last := at
	wh.LastSignalAt = &last
	return nil
}

func (m *Memory) SaveSignal(ctx context.Context, rec *models.SignalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.signals[rec.ID]; ok && cur.Status != models.StatusPending {
		return fmt.Errorf("memory.SaveSignal %s: %w", rec.ID, models.ErrSignalSettled)
	}
	m.signals[rec.ID] = cloneSignal(rec)
	return nil
}

func (m *Memory) Signal(ctx context.Context, id string) (_ *models.SignalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.Signal: %w", err)
		}
	}()
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.signals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneSignal(rec), nil
}

// PendingSignals старейшие первыми
func (m *Memory) PendingSignals(ctx context.Context, webhookID string, limit int) ([]models.SignalRecord, error) {
	m.mu.RLock()
	out := make([]models.SignalRecord, 0)
	for _, rec := range m.signals {
		if rec.Status == models.StatusPending && (webhookID == "" || rec.WebhookID == webhookID) {
			out = append(out, *cloneSignal(rec))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateSignalStatus(ctx context.Context, id string, upd models.StatusUpdate, at time.Time) (_ *models.SignalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.UpdateSignalStatus: %w", err)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.signals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	next := cloneSignal(rec)
	if err := ApplyStatus(next, upd, at); err != nil {
		return nil, err
	}
	m.signals[id] = next
	return cloneSignal(next), nil
}

// History: новейшие первыми, total без учёта limit/offset.
func (m *Memory) History(ctx context.Context, f models.HistoryFilter) ([]models.SignalRecord, int, error) {
	m.mu.RLock()
	all := make([]models.SignalRecord, 0)
	for _, rec := range m.signals {
		if f.WebhookID != "" && rec.WebhookID != f.WebhookID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Symbol != "" && rec.Symbol != f.Symbol {
			continue
		}
		all = append(all, *cloneSignal(rec))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ReceivedAt.Equal(all[j].ReceivedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].ReceivedAt.After(all[j].ReceivedAt)
	})

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return []models.SignalRecord{}, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (m *Memory) OpenSignals(ctx context.Context, webhookID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.signals {
		if rec.WebhookID == webhookID && rec.Action.Opens() && IsOpen(rec.Status) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RealizedPnL(ctx context.Context, webhookID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	for _, rec := range m.signals {
		if rec.WebhookID != webhookID || rec.Status != models.StatusClosed || rec.ProcessedAt == nil {
			continue
		}
		if !rec.ProcessedAt.Before(since) {
			sum += rec.PnL
		}
	}
	return sum, nil
}

func (m *Memory) SavePosition(ctx context.Context, st *models.TrailingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.positions[st.SignalID] = &cp
	return nil
}

func (m *Memory) Position(ctx context.Context, signalID string) (_ *models.TrailingState, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.Position: %w", err)
		}
	}()
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.positions[signalID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *Memory) DeletePosition(ctx context.Context, signalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, signalID)
	return nil
}

func cloneSignal(rec *models.SignalRecord) *models.SignalRecord {
	cp := *rec
	cp.TakeProfits = append([]float64(nil), rec.TakeProfits...)
	cp.TPPercentages = append([]float64(nil), rec.TPPercentages...)
	cp.Allocations = append([]models.TakeProfitAllocation(nil), rec.Allocations...)
	if rec.Sizing != nil {
		s := *rec.Sizing
		cp.Sizing = &s
	}
	if rec.ProcessedAt != nil {
		t := *rec.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
