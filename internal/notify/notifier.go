package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"trade_hook/internal/models"
)

type Notifier interface {
	Send(ctx context.Context, msg string)
	Sendf(ctx context.Context, format string, args ...any)
}

// Telegram: пассивный нотифайер в один чат.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID, log), nil
}

// NewTelegramWithEndpoint: для своего Bot API сервера (и тестов).
func NewTelegramWithEndpoint(token, endpoint string, client tgbot.HTTPClient, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID, log), nil
}

func newTelegram(b *tgbot.BotAPI, chatID int64, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{bot: b, chatID: chatID, log: log}
}

func (t *Telegram) Send(ctx context.Context, msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) Sendf(ctx context.Context, format string, args ...any) {
	t.Send(ctx, fmt.Sprintf(format, args...))
}

// Log пишет уведомления в лог, когда Telegram не настроен.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Send(ctx context.Context, msg string) { l.log.Info(msg) }
func (l *Log) Sendf(ctx context.Context, format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

// FormatSignal собирает сообщение о новом сигнале в очереди EA.
func FormatSignal(rec *models.SignalRecord) string {
	var b strings.Builder
	emoji := "🟢"
	switch rec.Action {
	case models.ActionSell:
		emoji = "🔴"
	case models.ActionClose:
		emoji = "⏹"
	}
	fmt.Fprintf(&b, "%s [%s] %s", emoji, rec.Symbol, strings.ToUpper(string(rec.Action)))
	if !rec.Action.Opens() {
		return b.String()
	}
	fmt.Fprintf(&b, " @ %g\nSL: %g | риск %.2f%%", rec.Price, rec.StopLoss, rec.RiskPercentage)
	if rec.Sizing != nil {
		fmt.Fprintf(&b, "\nЛот: %.2f | риск $%.2f | маржа $%.2f",
			rec.Sizing.LotSize, rec.Sizing.RiskAmount, rec.Sizing.RequiredMargin)
	}
	for _, tp := range rec.Allocations {
		fmt.Fprintf(&b, "\nTP%d: %g (%.1f%%, RR %.2f)", tp.Level, tp.Price, tp.Percentage, tp.RiskReward)
	}
	if rec.HasTrailing() {
		fmt.Fprintf(&b, "\nТрейлинг: старт %g, дистанция %g пипс", *rec.TrailingActivation, *rec.TrailingDistance)
	}
	return b.String()
}

// FormatStatus ...
func FormatStatus(rec *models.SignalRecord) string {
	switch rec.Status {
	case models.StatusExecuted:
		return fmt.Sprintf("✅ [%s] исполнен, тикет %s", rec.Symbol, rec.MT5Ticket)
	case models.StatusFailed:
		return fmt.Sprintf("❗️ [%s] ошибка исполнения: %s", rec.Symbol, rec.Error)
	case models.StatusClosed:
		return fmt.Sprintf("📕 [%s] закрыт, PnL %.2f", rec.Symbol, rec.PnL)
	case models.StatusCancelled:
		return fmt.Sprintf("⛔️ [%s] отменён", rec.Symbol)
	}
	return fmt.Sprintf("ℹ️ [%s] статус %s", rec.Symbol, rec.Status)
}
