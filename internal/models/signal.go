package models

import "time"

// Action: направление сигнала TradingView.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
)

// Opens true для buy/sell: только они несут цену, стоп и риск.
func (a Action) Opens() bool { return a == ActionBuy || a == ActionSell }

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// Signal: нормализованный сигнал после валидации. Не меняется после создания.
type Signal struct {
	Action             Action    `json:"action"`
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	StopLoss           float64   `json:"sl"`
	TakeProfits        []float64 `json:"tp"`
	TPPercentages      []float64 `json:"tp_percentages"`
	RiskPercentage     float64   `json:"risk"`
	TrailingActivation *float64  `json:"trailing_activation,omitempty"`
	TrailingDistance   *float64  `json:"trailing_distance,omitempty"`
	OrderType          OrderType `json:"order_type"`
	Timestamp          time.Time `json:"timestamp"`
}

// HasTrailing ...
func (s Signal) HasTrailing() bool {
	return s.TrailingActivation != nil && s.TrailingDistance != nil
}

type SignalStatus string

const (
	StatusPending    SignalStatus = "pending"
	StatusProcessing SignalStatus = "processing"
	StatusExecuted   SignalStatus = "executed"
	StatusFailed     SignalStatus = "failed"
	StatusClosed     SignalStatus = "closed"
	StatusCancelled  SignalStatus = "cancelled"
)

func (s SignalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusExecuted, StatusFailed, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// transitions: куда можно перейти из статуса. Финальных статусов здесь нет.
var transitions = map[SignalStatus][]SignalStatus{
	StatusPending:    {StatusProcessing, StatusExecuted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusExecuted, StatusFailed, StatusCancelled},
	StatusExecuted:   {StatusClosed},
}

// CanTransition разрешает переход по отчёту EA. Повтор того же статуса допустим.
func (s SignalStatus) CanTransition(to SignalStatus) bool {
	if s == to {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SignalRecord: сигнал в том виде, в каком его хранит store и забирает EA.
type SignalRecord struct {
	ID        string `json:"id"`
	WebhookID string `json:"webhook_id"`
	Signal

	Status      SignalStatus           `json:"status"`
	Sizing      *SizingResult          `json:"sizing,omitempty"`
	Allocations []TakeProfitAllocation `json:"take_profits,omitempty"`

	MT5Ticket   string     `json:"mt5_ticket,omitempty"`
	Error       string     `json:"error,omitempty"`
	PnL         float64    `json:"pnl"`
	ReceivedAt  time.Time  `json:"received_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// StatusUpdate: отчёт EA по сигналу.
type StatusUpdate struct {
	Status    SignalStatus `json:"status"`
	Ticket    string       `json:"ticket"`
	Error     string       `json:"error"`
	FillPrice float64      `json:"fill_price"`
	PnL       float64      `json:"pnl"`
}

// HistoryFilter: фильтр истории сигналов.
type HistoryFilter struct {
	WebhookID string
	Status    SignalStatus
	Symbol    string
	Limit     int
	Offset    int
}
