package service

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade_hook/internal/models"
	pipeline "trade_hook/internal/modules/pipeline/service"
)

const (
	headerAPIKey    = "X-API-Key"
	headerRequestID = "X-Request-ID"

	ctxRequestID = "RequestID"
	ctxWebhook   = "Webhook"
)

// apiKey берёт X-API-Key, иначе ?api_key= (алерты TradingView не умеют заголовки).
func apiKey(c *gin.Context) string {
	if key := c.GetHeader(headerAPIKey); key != "" {
		return key
	}
	return c.Query("api_key")
}

// RequestID проставляет id запроса для логов и ответа.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxRequestID, requestID)
		c.Writer.Header().Set(headerRequestID, requestID)
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Debug("request", fields...)
	}
}

// BodyLimit режет тело запроса до n байт.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// APIKeyAuth пускает только активный вебхук; вебхук кладётся в контекст.
func APIKeyAuth(p *pipeline.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		wh, err := p.Authenticate(c.Request.Context(), apiKey(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(ctxWebhook, wh)
		c.Next()
	}
}

func webhookFrom(c *gin.Context) *models.Webhook {
	wh, _ := c.MustGet(ctxWebhook).(*models.Webhook)
	return wh
}
