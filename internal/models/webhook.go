package models

import "time"

// Webhook: источник сигналов со своим API-ключом и торговым счётом.
type Webhook struct {
	ID             string     `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name"`
	APIKey         string     `json:"-" yaml:"api_key"`
	IsActive       bool       `json:"is_active" yaml:"is_active"`
	AccountBalance float64    `json:"account_balance" yaml:"account_balance"`
	Leverage       float64    `json:"leverage" yaml:"leverage"`
	MaxOpenTrades  int        `json:"max_open_trades" yaml:"max_open_trades"`
	SignalsCount   int64      `json:"signals_received" yaml:"-"`
	LastSignalAt   *time.Time `json:"last_signal_at,omitempty" yaml:"-"`
}
