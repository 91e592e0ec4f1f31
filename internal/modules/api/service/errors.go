package service

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"trade_hook/internal/models"
	pipeline "trade_hook/internal/modules/pipeline/service"
	"trade_hook/internal/queue"
	"trade_hook/internal/validator"
)

// statusOf переводит ошибку ядра в HTTP-статус.
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrWebhookInactive):
		return http.StatusForbidden
	case errors.Is(err, models.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRiskPolicy), errors.Is(err, models.ErrUnknownSymbol):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}

	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		body["error"] = "invalid signal"
		body["details"] = verr.Errors
		if verr.Stale {
			body["stale"] = true
		}
	}

	var rl *pipeline.RateLimitedError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}

	if status == http.StatusInternalServerError {
		// наружу детали не отдаём
		_ = c.Error(err)
		body["error"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}
