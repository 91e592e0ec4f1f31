package service

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"trade_hook/internal/models"
	"trade_hook/internal/risk"
)

// readBody читает тело с учётом лимита; при ошибке ответ уже отправлен.
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return nil, false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return nil, false
	}
	return body, true
}

// bindJSON декодирует тело через sonic, как и стор.
func bindJSON(c *gin.Context, dst any) bool {
	body, ok := readBody(c)
	if !ok {
		return false
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return false
	}
	return true
}

func (s *Server) receiveSignal(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	rc, err := s.Processor.Receive(c.Request.Context(), apiKey(c), body)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.State.TouchSignal(time.Now())
	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"signal_id": rc.SignalID,
		"status":    rc.Status,
		"message":   "Signal received and queued for processing",
	})
}

func (s *Server) pendingSignals(c *gin.Context) {
	signals, err := s.Processor.Pending(c.Request.Context(), webhookFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if signals == nil {
		signals = []models.SignalRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) updateStatus(c *gin.Context) {
	var upd models.StatusUpdate
	if !bindJSON(c, &upd) {
		return
	}
	rec, err := s.Processor.UpdateStatus(c.Request.Context(), webhookFrom(c), c.Param("id"), upd)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "signal": rec})
}

type tickRequest struct {
	Price float64 `json:"price"`
}

func (s *Server) tick(c *gin.Context) {
	var req tickRequest
	if !bindJSON(c, &req) {
		return
	}
	adj, err := s.Processor.Tick(c.Request.Context(), webhookFrom(c), c.Param("id"), req.Price)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}

func (s *Server) history(c *gin.Context) {
	f := models.HistoryFilter{
		WebhookID: webhookFrom(c).ID,
		Status:    models.SignalStatus(c.Query("status")),
		Symbol:    c.Query("symbol"),
	}
	if f.Status != "" && !f.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	h, err := s.Processor.History(c.Request.Context(), f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if h.Signals == nil {
		h.Signals = []models.SignalRecord{}
	}
	c.JSON(http.StatusOK, h)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

type calculateRequest struct {
	Balance  float64 `json:"balance"`
	Risk     float64 `json:"risk"`
	Entry    float64 `json:"entry"`
	StopLoss float64 `json:"sl"`
	Symbol   string  `json:"symbol"`
	Leverage float64 `json:"leverage"`
}

func (s *Server) calculateRisk(c *gin.Context) {
	var req calculateRequest
	if !bindJSON(c, &req) {
		return
	}
	if problems := risk.ValidateParameters(req.Balance, req.Risk, req.Entry, req.StopLoss); len(problems) > 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid parameters", "details": problems})
		return
	}
	if req.Symbol == "" {
		req.Symbol = "EURUSD"
	}
	res, spec, err := s.Sizer.SizeSymbol(req.Symbol, req.Balance, req.Risk, req.Entry, req.StopLoss, req.Leverage)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sizing": res, "instrument": spec})
}

func (s *Server) queueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Processor.Queue().Status())
}

func (s *Server) livez(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) readyz(c *gin.Context) {
	if !s.State.Ready() {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ready")
}

func (s *Server) healthz(c *gin.Context) {
	var lastSignal int64
	if t := s.State.LastSignal(); !t.IsZero() {
		lastSignal = t.Unix()
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":          s.State.Ready(),
		"uptimeSec":      int64(s.State.Uptime().Seconds()),
		"signals":        s.State.Signals(),
		"lastSignalUnix": lastSignal,
		"wsClients":      s.Hub.Clients(),
		"queue":          s.Processor.Queue().Status(),
	})
}
