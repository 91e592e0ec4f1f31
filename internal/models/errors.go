package models

import "github.com/pkg/errors"

// Категории ошибок ядра. Проверяются через errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrStaleSignal       = errors.New("stale signal")
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrRiskPolicy        = errors.New("risk policy violation")

	ErrUnauthorized    = errors.New("unauthorized")
	ErrWebhookInactive = errors.New("webhook is inactive")
	ErrNotFound        = errors.New("not found")
	// сигнал уже ушёл из pending, запись задачи очереди его не перетирает
	ErrSignalSettled = errors.New("signal already settled")
)
