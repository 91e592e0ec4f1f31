package service

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_hook/internal/guard"
	"trade_hook/internal/helper"
	"trade_hook/internal/metrics"
	"trade_hook/internal/models"
	"trade_hook/internal/notify"
	"trade_hook/internal/position"
	"trade_hook/internal/queue"
	"trade_hook/internal/risk"
	"trade_hook/internal/store"
	"trade_hook/internal/validator"
	"trade_hook/pkg/tracing"
)

const (
	EventSignalReceived = "signal_received"
	EventSignalUpdated  = "signal_updated"
	EventSignalFailed   = "signal_failed"

	StatusQueued = "queued"
)

type Publisher interface {
	Publish(event string, data any)
}

type Options struct {
	MaxRiskPerTrade   float64
	DailyLossLimitPct float64
	MaxOpenTrades     int
	DefaultBalance    float64
	PendingLimit      int
	Queue             queue.Options
}

type Deps struct {
	Store     store.Store
	Limiter   *guard.RateLimiter
	Validator *validator.Validator
	Sizer     *risk.Sizer
	Tracker   *position.Tracker
	Publisher Publisher
	Notifier  notify.Notifier
	Log       *zap.Logger
}

// Receipt: ответ на принятый вебхук.
type Receipt struct {
	SignalID string `json:"signal_id"`
	Status   string `json:"status"`
}

// Processor: приём сигналов TradingView и их доводка до очереди EA.
type Processor struct {
	opts Options
	Deps
	queue *queue.Queue
	now   func() time.Time
	// admit: проверка лимита открытых сделок и запись pending одним шагом
	admit sync.Mutex
}

func NewProcessor(opts Options, deps Deps) *Processor {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(deps.Log)
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = 10
	}
	p := &Processor{opts: opts, Deps: deps, now: time.Now}
	p.queue = queue.New(opts.Queue, p.Process, deps.Log.Named("queue"))
	return p
}

func (p *Processor) Queue() *queue.Queue { return p.queue }

func (p *Processor) Start(ctx context.Context) { p.queue.Start(ctx) }

func (p *Processor) Stop(ctx context.Context) error { return p.queue.Stop(ctx) }

// Authenticate находит активный вебхук по API-ключу.
func (p *Processor) Authenticate(ctx context.Context, apiKey string) (*models.Webhook, error) {
	if apiKey == "" {
		return nil, errors.Wrap(models.ErrUnauthorized, "missing api key")
	}
	wh, err := p.Store.WebhookByAPIKey(ctx, apiKey)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrap(models.ErrUnauthorized, "unknown api key")
	}
	if err != nil {
		return nil, err
	}
	if !wh.IsActive {
		return nil, errors.Wrapf(models.ErrWebhookInactive, "webhook %s", wh.ID)
	}
	return wh, nil
}

// Receive проводит вебхук через все проверки и ставит сигнал в очередь.
func (p *Processor) Receive(ctx context.Context, apiKey string, body []byte) (_ *Receipt, err error) {
	span, ctx := tracing.Start(ctx, "signals.receive", nil)
	defer func() {
		if err != nil {
			metrics.SignalsRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		tracing.Finish(span, err)
	}()

	wh, err := p.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	span.SetTag("webhook_id", wh.ID)

	if !p.Limiter.Check(wh.ID) {
		return nil, &RateLimitedError{WebhookID: wh.ID, RetryAfter: p.Limiter.RetryAfter(wh.ID)}
	}

	payload, err := validator.Decode(body)
	if err != nil {
		return nil, err
	}
	if ts, _ := payload["timestamp"].(string); !guard.IsFresh(ts, p.Validator.MaxAge(), p.now()) {
		return nil, &validator.ValidationError{
			Errors: []string{"timestamp is missing, in the future or older than " + p.Validator.MaxAge().String()},
			Stale:  true,
		}
	}

	sig, err := p.Validator.Validate(payload)
	if err != nil {
		return nil, err
	}

	if err := p.checkRiskPolicy(ctx, wh, sig); err != nil {
		return nil, err
	}

	now := p.now()
	rec := &models.SignalRecord{
		ID:         uuid.NewString(),
		WebhookID:  wh.ID,
		Signal:     *sig,
		Status:     models.StatusPending,
		ReceivedAt: now,
	}
	if err := p.queue.Enqueue(rec.ID, rec); err != nil {
		return nil, err
	}

	metrics.SignalsReceived.WithLabelValues(string(sig.Action)).Inc()
	p.Log.Info("signal queued",
		zap.String("signal_id", rec.ID),
		zap.String("webhook_id", wh.ID),
		zap.String("action", string(sig.Action)),
		zap.String("symbol", sig.Symbol),
	)
	return &Receipt{SignalID: rec.ID, Status: StatusQueued}, nil
}

func (p *Processor) checkRiskPolicy(ctx context.Context, wh *models.Webhook, sig *models.Signal) error {
	if !sig.Action.Opens() {
		return nil
	}
	if p.opts.MaxRiskPerTrade > 0 && sig.RiskPercentage > p.opts.MaxRiskPerTrade {
		return errors.Wrapf(models.ErrRiskPolicy, "risk %.2f%% exceeds max risk per trade %.2f%%",
			sig.RiskPercentage, p.opts.MaxRiskPerTrade)
	}
	if _, err := p.Sizer.Spec(sig.Symbol); err != nil {
		return err
	}

	if err := p.checkOpenTrades(ctx, wh); err != nil {
		return err
	}

	if p.opts.DailyLossLimitPct > 0 {
		today := p.now().UTC().Truncate(24 * time.Hour)
		pnl, err := p.Store.RealizedPnL(ctx, wh.ID, today)
		if err != nil {
			return err
		}
		if st := risk.CheckDailyLossLimit(pnl, p.balance(wh), p.opts.DailyLossLimitPct); st.Exceeded {
			return errors.Wrapf(models.ErrRiskPolicy, "daily loss limit %.2f%% reached (pnl %.2f)", p.opts.DailyLossLimitPct, pnl)
		}
	}
	return nil
}

func (p *Processor) checkOpenTrades(ctx context.Context, wh *models.Webhook) error {
	maxOpen := wh.MaxOpenTrades
	if maxOpen <= 0 {
		maxOpen = p.opts.MaxOpenTrades
	}
	if maxOpen <= 0 {
		return nil
	}
	open, err := p.Store.OpenSignals(ctx, wh.ID)
	if err != nil {
		return err
	}
	if risk.CheckMaxOpenTrades(open, maxOpen) {
		return errors.Wrapf(models.ErrRiskPolicy, "max open trades reached (%d/%d)", open, maxOpen)
	}
	return nil
}

func (p *Processor) balance(wh *models.Webhook) float64 {
	if wh.AccountBalance > 0 {
		return wh.AccountBalance
	}
	return p.opts.DefaultBalance
}

// Process выполняет задачу очереди: сайзинг, раскладка TP, сохранение и рассылка.
// Повторный запуск перезаписывает тот же сигнал, пока EA его не забрал.
// Лимит открытых сделок проверяется ещё раз: в очереди могут ждать сигналы, которых Receive не видел.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	src, ok := job.Payload.(*models.SignalRecord)
	if !ok {
		return queue.Permanent(errors.Errorf("job %s: unexpected payload %T", job.ID, job.Payload))
	}
	rec := *src

	wh, err := p.Store.Webhook(ctx, rec.WebhookID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return queue.Permanent(err)
		}
		return err
	}

	rec.CreatedAt = p.now()
	if rec.Action.Opens() {
		if err := p.size(&rec, wh); err != nil {
			if !errors.Is(err, models.ErrInvalidParameters) && !errors.Is(err, models.ErrUnknownSymbol) {
				return err
			}
			return p.fail(ctx, &rec, err)
		}
	}

	settled, err := p.save(ctx, &rec, wh)
	if err != nil {
		if errors.Is(err, models.ErrRiskPolicy) {
			return p.fail(ctx, &rec, err)
		}
		return err
	}
	if err := p.Store.TouchWebhook(ctx, wh.ID, rec.ReceivedAt); err != nil {
		return err
	}
	if settled {
		p.Log.Info("signal already taken by EA, redelivery skipped", zap.String("signal_id", rec.ID))
		return nil
	}

	p.publish(EventSignalReceived, &rec)
	p.Notifier.Send(ctx, notify.FormatSignal(&rec))
	return nil
}

// save пишет pending-запись. settled=true: EA уже сменил статус, запись не тронута.
func (p *Processor) save(ctx context.Context, rec *models.SignalRecord, wh *models.Webhook) (settled bool, err error) {
	p.admit.Lock()
	defer p.admit.Unlock()

	if rec.Action.Opens() {
		_, err := p.Store.Signal(ctx, rec.ID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			if err := p.checkOpenTrades(ctx, wh); err != nil {
				return false, err
			}
		case err != nil:
			return false, err
		}
	}

	rec.Status = models.StatusPending
	err = p.Store.SaveSignal(ctx, rec)
	if errors.Is(err, models.ErrSignalSettled) {
		return true, nil
	}
	return false, err
}

func (p *Processor) size(rec *models.SignalRecord, wh *models.Webhook) error {
	res, spec, err := p.Sizer.SizeSymbol(rec.Symbol, p.balance(wh), rec.RiskPercentage, rec.Price, rec.StopLoss, wh.Leverage)
	if err != nil {
		return err
	}
	allocs := risk.DistributeTakeProfits(rec.TakeProfits, rec.TPPercentages)
	for i := range allocs {
		a := &allocs[i]
		a.RiskReward = risk.RiskRewardRatio(rec.Price, rec.StopLoss, a.Price)
		a.ProjectedPnL = risk.PotentialPnL(rec.Action, rec.Price, a.Price, res.LotSize*a.Percentage/100, spec)
	}
	rec.Sizing = &res
	rec.Allocations = allocs
	return nil
}

func (p *Processor) fail(ctx context.Context, rec *models.SignalRecord, cause error) error {
	rec.Status = models.StatusFailed
	rec.Error = cause.Error()
	if err := p.Store.SaveSignal(ctx, rec); err != nil {
		if errors.Is(err, models.ErrSignalSettled) {
			return queue.Permanent(cause)
		}
		return err
	}
	p.publish(EventSignalFailed, rec)
	p.Notifier.Sendf(ctx, "❗️ [%s] сигнал отклонён: %s", rec.Symbol, rec.Error)
	return queue.Permanent(cause)
}

func (p *Processor) publish(event string, rec *models.SignalRecord) {
	if p.Publisher != nil {
		p.Publisher.Publish(event, rec)
	}
}

// Pending отдаёт EA сигналы вебхука, старейшие первыми.
func (p *Processor) Pending(ctx context.Context, wh *models.Webhook) ([]models.SignalRecord, error) {
	return p.Store.PendingSignals(ctx, wh.ID, p.opts.PendingLimit)
}

// UpdateStatus применяет отчёт EA. executed открывает трейлинг, финальные статусы его закрывают.
func (p *Processor) UpdateStatus(ctx context.Context, wh *models.Webhook, id string, upd models.StatusUpdate) (*models.SignalRecord, error) {
	if !upd.Status.Valid() {
		return nil, &validator.ValidationError{Errors: []string{"status must be one of: pending, processing, executed, failed, closed, cancelled"}}
	}
	prev, err := p.owned(ctx, wh, id)
	if err != nil {
		return nil, err
	}

	rec, err := p.Store.UpdateSignalStatus(ctx, id, upd, p.now())
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case models.StatusExecuted:
		// повторный executed позицию не переоткрывает
		if prev.Status != models.StatusExecuted && rec.Action.Opens() && p.Tracker != nil {
			if _, err := p.Tracker.Open(ctx, rec, upd.FillPrice); err != nil {
				p.Log.Warn("open tracked position", zap.String("signal_id", id), zap.Error(err))
			}
		}
	case models.StatusClosed, models.StatusCancelled, models.StatusFailed:
		if p.Tracker != nil {
			if err := p.Tracker.Close(ctx, id); err != nil {
				p.Log.Warn("close tracked position", zap.String("signal_id", id), zap.Error(err))
			}
		}
	}

	p.publish(EventSignalUpdated, rec)
	if rec.Status != models.StatusProcessing {
		p.Notifier.Send(ctx, notify.FormatStatus(rec))
	}
	return rec, nil
}

// Tick принимает от EA цену по открытой позиции.
func (p *Processor) Tick(ctx context.Context, wh *models.Webhook, id string, price float64) (*models.StopAdjustment, error) {
	if _, err := p.owned(ctx, wh, id); err != nil {
		return nil, err
	}
	return p.Tracker.OnPrice(ctx, id, price)
}

func (p *Processor) owned(ctx context.Context, wh *models.Webhook, id string) (*models.SignalRecord, error) {
	rec, err := p.Store.Signal(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.WebhookID != wh.ID {
		return nil, errors.Wrapf(models.ErrNotFound, "signal %s", id)
	}
	return rec, nil
}

// Summary: сводка по закрытым сигналам страницы истории.
type Summary struct {
	Closed       int      `json:"closed"`
	Wins         int      `json:"wins"`
	Losses       int      `json:"losses"`
	WinRate      float64  `json:"win_rate"`
	NetPnL       float64  `json:"net_pnl"`
	ProfitFactor *float64 `json:"profit_factor,omitempty"`
}

type History struct {
	Signals []models.SignalRecord `json:"signals"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
	Summary Summary               `json:"summary"`
}

func (p *Processor) History(ctx context.Context, f models.HistoryFilter) (*History, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Symbol != "" {
		f.Symbol = helper.NormalizeSymbol(f.Symbol)
	}
	signals, total, err := p.Store.History(ctx, f)
	if err != nil {
		return nil, err
	}
	return &History{Signals: signals, Total: total, Limit: f.Limit, Offset: f.Offset, Summary: summarize(signals)}, nil
}

func summarize(signals []models.SignalRecord) Summary {
	var (
		s            Summary
		profit, loss float64
	)
	for _, rec := range signals {
		if rec.Status != models.StatusClosed {
			continue
		}
		s.Closed++
		s.NetPnL += rec.PnL
		switch {
		case rec.PnL > 0:
			s.Wins++
			profit += rec.PnL
		case rec.PnL < 0:
			s.Losses++
			loss += rec.PnL
		}
	}
	s.WinRate = risk.WinRate(s.Wins, s.Losses)
	if pf := risk.ProfitFactor(profit, loss); !math.IsInf(pf, 0) {
		s.ProfitFactor = &pf
	}
	return s
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrWebhookInactive):
		return "inactive"
	case errors.Is(err, models.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, models.ErrStaleSignal):
		return "stale"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrRiskPolicy):
		return "risk_policy"
	case errors.Is(err, models.ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
		return "queue"
	}
	return "internal"
}
