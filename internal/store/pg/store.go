package pg

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trade_hook/internal/models"
	"trade_hook/internal/store"
	"trade_hook/pkg/db"
)

//go:embed schema.sql
var schema string

// Store: store.Store поверх Postgres.
type Store struct {
	db db.TxManager
}

var _ store.Store = (*Store)(nil)

func New(tm db.TxManager) *Store {
	return &Store{db: tm}
}

// Migrate применяет схему. Идемпотентно.
func (s *Store) Migrate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Migrate: %w", err)
		}
	}()
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, schema)
		return err
	})
}

const webhookColumns = `id, name, api_key, is_active, account_balance, leverage, max_open_trades, signals_received, last_signal_at`

func scanWebhook(row pgx.Row) (*models.Webhook, error) {
	var wh models.Webhook
	err := row.Scan(&wh.ID, &wh.Name, &wh.APIKey, &wh.IsActive, &wh.AccountBalance,
		&wh.Leverage, &wh.MaxOpenTrades, &wh.SignalsCount, &wh.LastSignalAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wh, nil
}

func (s *Store) WebhookByAPIKey(ctx context.Context, apiKey string) (_ *models.Webhook, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.WebhookByAPIKey: %w", err)
		}
	}()
	return scanWebhook(s.db.Conn().QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE api_key = $1`, apiKey))
}

func (s *Store) Webhook(ctx context.Context, id string) (_ *models.Webhook, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Webhook: %w", err)
		}
	}()
	return scanWebhook(s.db.Conn().QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
}

func (s *Store) UpsertWebhook(ctx context.Context, wh *models.Webhook) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.UpsertWebhook: %w", err)
		}
	}()
	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO webhooks (id, name, api_key, is_active, account_balance, leverage, max_open_trades)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			api_key = EXCLUDED.api_key,
			is_active = EXCLUDED.is_active,
			account_balance = EXCLUDED.account_balance,
			leverage = EXCLUDED.leverage,
			max_open_trades = EXCLUDED.max_open_trades`,
		wh.ID, wh.Name, wh.APIKey, wh.IsActive, wh.AccountBalance, wh.Leverage, wh.MaxOpenTrades)
	return err
}

func (s *Store) TouchWebhook(ctx context.Context, id string, at time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.TouchWebhook: %w", err)
		}
	}()
	tag, err := s.db.Conn().Exec(ctx,
		`UPDATE webhooks SET signals_received = signals_received + 1, last_signal_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

const signalColumns = `id, webhook_id, action, symbol, price, stop_loss, take_profits, tp_percentages,
	risk_percentage, trailing_activation, trailing_distance, order_type, signal_time, status, sizing,
	allocations, mt5_ticket, error, pnl, received_at, created_at, processed_at`

type signalRow struct {
	takeProfits []byte
	percentages []byte
	sizing      []byte
	allocations []byte
}

func scanSignal(row pgx.Row) (*models.SignalRecord, error) {
	var (
		rec models.SignalRecord
		raw signalRow
	)
	err := row.Scan(&rec.ID, &rec.WebhookID, &rec.Action, &rec.Symbol, &rec.Price, &rec.StopLoss,
		&raw.takeProfits, &raw.percentages, &rec.RiskPercentage, &rec.TrailingActivation,
		&rec.TrailingDistance, &rec.OrderType, &rec.Timestamp, &rec.Status, &raw.sizing,
		&raw.allocations, &rec.MT5Ticket, &rec.Error, &rec.PnL, &rec.ReceivedAt, &rec.CreatedAt,
		&rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(raw.takeProfits, &rec.TakeProfits); err != nil {
		return nil, errors.Wrap(err, "take_profits")
	}
	if err := decodeJSON(raw.percentages, &rec.TPPercentages); err != nil {
		return nil, errors.Wrap(err, "tp_percentages")
	}
	if err := decodeJSON(raw.allocations, &rec.Allocations); err != nil {
		return nil, errors.Wrap(err, "allocations")
	}
	if len(raw.sizing) > 0 {
		rec.Sizing = &models.SizingResult{}
		if err := sonic.Unmarshal(raw.sizing, rec.Sizing); err != nil {
			return nil, errors.Wrap(err, "sizing")
		}
	}
	return &rec, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return sonic.Unmarshal(raw, dst)
}

func encodeJSON(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (s *Store) SaveSignal(ctx context.Context, rec *models.SignalRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveSignal: %w", err)
		}
	}()

	tps, err := encodeJSON(orEmpty(rec.TakeProfits))
	if err != nil {
		return err
	}
	pcts, err := encodeJSON(orEmpty(rec.TPPercentages))
	if err != nil {
		return err
	}
	allocs, err := encodeJSON(rec.Allocations)
	if err != nil {
		return err
	}
	if rec.Allocations == nil {
		allocs = []byte("[]")
	}
	var sizing []byte
	if rec.Sizing != nil {
		if sizing, err = encodeJSON(rec.Sizing); err != nil {
			return err
		}
	}

	tag, err := s.db.Conn().Exec(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			sizing = EXCLUDED.sizing,
			allocations = EXCLUDED.allocations,
			tp_percentages = EXCLUDED.tp_percentages,
			error = EXCLUDED.error,
			mt5_ticket = EXCLUDED.mt5_ticket,
			pnl = EXCLUDED.pnl,
			processed_at = EXCLUDED.processed_at
		WHERE signals.status = 'pending'`,
		rec.ID, rec.WebhookID, rec.Action, rec.Symbol, rec.Price, rec.StopLoss, tps, pcts,
		rec.RiskPercentage, rec.TrailingActivation, rec.TrailingDistance, rec.OrderType, rec.Timestamp,
		rec.Status, sizing, allocs, rec.MT5Ticket, rec.Error, rec.PnL, rec.ReceivedAt, rec.CreatedAt,
		rec.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSignalSettled
	}
	return nil
}

func orEmpty(xs []float64) []float64 {
	if xs == nil {
		return []float64{}
	}
	return xs
}

func (s *Store) Signal(ctx context.Context, id string) (_ *models.SignalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Signal: %w", err)
		}
	}()
	return scanSignal(s.db.Conn().QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id))
}

func (s *Store) PendingSignals(ctx context.Context, webhookID string, limit int) (_ []models.SignalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PendingSignals: %w", err)
		}
	}()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE status = $1 AND ($2 = '' OR webhook_id = $2)
		ORDER BY received_at ASC, id ASC
		LIMIT $3`, models.StatusPending, webhookID, limit)
	if err != nil {
		return nil, err
	}
	return collectSignals(rows)
}

func collectSignals(rows pgx.Rows) ([]models.SignalRecord, error) {
	defer rows.Close()
	out := make([]models.SignalRecord, 0)
	for rows.Next() {
		rec, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateSignalStatus читает и пишет под блокировкой строки, чтобы не потерять тикет от прошлого отчёта.
func (s *Store) UpdateSignalStatus(ctx context.Context, id string, upd models.StatusUpdate, at time.Time) (out *models.SignalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.UpdateSignalStatus: %w", err)
		}
	}()
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rec, err := scanSignal(tx.QueryRow(ctxTx, `SELECT `+signalColumns+` FROM signals WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := store.ApplyStatus(rec, upd, at); err != nil {
			return err
		}
		_, err = tx.Exec(ctxTx, `
			UPDATE signals SET status = $2, mt5_ticket = $3, error = $4, pnl = $5, processed_at = $6
			WHERE id = $1`, rec.ID, rec.Status, rec.MT5Ticket, rec.Error, rec.PnL, rec.ProcessedAt)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func historyWhere(f models.HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.WebhookID != "" {
		add("webhook_id = ?", f.WebhookID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Symbol != "" {
		add("symbol = ?", f.Symbol)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) History(ctx context.Context, f models.HistoryFilter) (out []models.SignalRecord, total int, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.History: %w", err)
		}
	}()
	where, args := historyWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	err = s.db.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctxTx, `SELECT count(*) FROM signals`+where, args...).Scan(&total); err != nil {
			return err
		}
		n := len(args)
		rows, err := tx.Query(ctxTx,
			`SELECT `+signalColumns+` FROM signals`+where+
				fmt.Sprintf(` ORDER BY received_at DESC, id DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
			append(args, limit, f.Offset)...)
		if err != nil {
			return err
		}
		out, err = collectSignals(rows)
		return err
	})
	return out, total, err
}

func (s *Store) OpenSignals(ctx context.Context, webhookID string) (n int, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.OpenSignals: %w", err)
		}
	}()
	err = s.db.Conn().QueryRow(ctx, `
		SELECT count(*) FROM signals
		WHERE webhook_id = $1 AND action IN ('buy', 'sell') AND status IN ($2, $3, $4)`,
		webhookID, models.StatusPending, models.StatusProcessing, models.StatusExecuted).Scan(&n)
	return n, err
}

func (s *Store) RealizedPnL(ctx context.Context, webhookID string, since time.Time) (sum float64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RealizedPnL: %w", err)
		}
	}()
	err = s.db.Conn().QueryRow(ctx, `
		SELECT COALESCE(sum(pnl), 0) FROM signals
		WHERE webhook_id = $1 AND status = $2 AND processed_at >= $3`,
		webhookID, models.StatusClosed, since).Scan(&sum)
	return sum, err
}

func (s *Store) SavePosition(ctx context.Context, st *models.TrailingState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SavePosition: %w", err)
		}
	}()
	raw, err := encodeJSON(st)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO positions (signal_id, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (signal_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		st.SignalID, raw, st.UpdatedAt)
	return err
}

func (s *Store) Position(ctx context.Context, signalID string) (_ *models.TrailingState, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Position: %w", err)
		}
	}()
	var raw []byte
	err = s.db.Conn().QueryRow(ctx, `SELECT state FROM positions WHERE signal_id = $1`, signalID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st models.TrailingState
	if err := sonic.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) DeletePosition(ctx context.Context, signalID string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.DeletePosition: %w", err)
		}
	}()
	_, err = s.db.Conn().Exec(ctx, `DELETE FROM positions WHERE signal_id = $1`, signalID)
	return err
}
