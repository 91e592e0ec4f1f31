package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"trade_hook/internal/models"
)

// Store: хранилище вебхуков, сигналов и трейлинг-состояний.
// Отсутствующая запись: models.ErrNotFound.
type Store interface {
	WebhookByAPIKey(ctx context.Context, apiKey string) (*models.Webhook, error)
	Webhook(ctx context.Context, id string) (*models.Webhook, error)
	UpsertWebhook(ctx context.Context, wh *models.Webhook) error
	TouchWebhook(ctx context.Context, id string, at time.Time) error

	// SaveSignal создаёт сигнал или перезаписывает его целиком, пока он pending (повтор задачи очереди).
	// Сигнал, ушедший дальше, не трогается: models.ErrSignalSettled.
	SaveSignal(ctx context.Context, rec *models.SignalRecord) error
	Signal(ctx context.Context, id string) (*models.SignalRecord, error)
	PendingSignals(ctx context.Context, webhookID string, limit int) ([]models.SignalRecord, error)
	UpdateSignalStatus(ctx context.Context, id string, upd models.StatusUpdate, at time.Time) (*models.SignalRecord, error)
	History(ctx context.Context, filter models.HistoryFilter) ([]models.SignalRecord, int, error)
	// OpenSignals: pending/processing/executed сигналы вебхука.
	OpenSignals(ctx context.Context, webhookID string) (int, error)
	// RealizedPnL: сумма pnl закрытых сигналов, обработанных не раньше since.
	RealizedPnL(ctx context.Context, webhookID string, since time.Time) (float64, error)

	SavePosition(ctx context.Context, st *models.TrailingState) error
	Position(ctx context.Context, signalID string) (*models.TrailingState, error)
	DeletePosition(ctx context.Context, signalID string) error
}

// IsOpen сигнал занимает слот открытых сделок
func IsOpen(s models.SignalStatus) bool {
	return s == models.StatusPending || s == models.StatusProcessing || s == models.StatusExecuted
}

// ApplyStatus переносит отчёт EA на запись, если переход статуса допустим.
func ApplyStatus(rec *models.SignalRecord, upd models.StatusUpdate, at time.Time) error {
	if !rec.Status.CanTransition(upd.Status) {
		return errors.Wrapf(models.ErrValidation, "signal %s: status %s -> %s is not allowed", rec.ID, rec.Status, upd.Status)
	}
	rec.Status = upd.Status
	if upd.Ticket != "" {
		rec.MT5Ticket = upd.Ticket
	}
	if upd.Error != "" {
		rec.Error = upd.Error
	}
	if upd.PnL != 0 {
		rec.PnL = upd.PnL
	}
	processed := at
	rec.ProcessedAt = &processed
	return nil
}

// Seed заводит вебхуки из конфига.
func Seed(ctx context.Context, s Store, webhooks []models.Webhook) error {
	for i := range webhooks {
		wh := webhooks[i]
		if err := s.UpsertWebhook(ctx, &wh); err != nil {
			return err
		}
	}
	return nil
}
