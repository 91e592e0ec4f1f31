package models

import "time"

// TrailingState: состояние открытой позиции для трейлинга и безубытка.
// Флаги TrailingActive и BreakEvenMoved только включаются.
type TrailingState struct {
	SignalID        string  `json:"signal_id"`
	Symbol          string  `json:"symbol"`
	Action          Action  `json:"action"`
	EntryPrice      float64 `json:"entry_price"`
	CurrentStopLoss float64 `json:"current_stop_loss"`
	TrailingActive  bool    `json:"trailing_active"`
	BreakEvenMoved  bool    `json:"breakeven_moved"`

	// параметры позиции; дистанции в пипсах, UnitSize, цена одного пипса
	TrailingActivation float64 `json:"trailing_activation"`
	TrailingDistance   float64 `json:"trailing_distance"`
	UnitSize           float64 `json:"unit_size"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTrailing ...
func (s *TrailingState) HasTrailing() bool {
	return s.TrailingActivation > 0 && s.TrailingDistance > 0
}

// TrailingDecision: что предлагает Evaluator на текущей цене.
// Кандидаты не проверены на улучшение стопа: это делает вызывающий.
type TrailingDecision struct {
	Profit float64

	TrailingActivated bool
	TrailingStop      float64
	HasTrailingStop   bool

	BreakevenTriggered bool
	BreakevenStop      float64
}

// StopAdjustment: итог обработки тика для EA.
type StopAdjustment struct {
	SignalID       string  `json:"signal_id"`
	StopLoss       float64 `json:"stop_loss"`
	Moved          bool    `json:"moved"`
	Reason         string  `json:"reason,omitempty"`
	TrailingActive bool    `json:"trailing_active"`
	BreakEvenMoved bool    `json:"breakeven_moved"`
}
