package service

import (
	"fmt"
	"time"

	"trade_hook/internal/models"
)

// RateLimitedError: окно вебхука заполнено.
type RateLimitedError struct {
	WebhookID  string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for webhook %s, retry after %s", e.WebhookID, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == models.ErrRateLimitExceeded }
