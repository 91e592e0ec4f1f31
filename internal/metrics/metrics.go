package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_received_total", Help: "Webhook signals accepted for processing"},
		[]string{"action"},
	)
	SignalsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_rejected_total", Help: "Webhook signals rejected before queueing"},
		[]string{"reason"},
	)
	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_jobs_total", Help: "Queue job outcomes"},
		[]string{"result"},
	)
	StopAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stop_adjustments_total", Help: "Stop loss moves by reason"},
		[]string{"reason"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "queue_depth", Help: "Jobs waiting or running"},
	)
)

func init() {
	prometheus.MustRegister(SignalsReceived, SignalsRejected, QueueJobs, StopAdjustments, QueueDepth)
}

// Handler отдаёт /metrics по дефолтному реестру.
func Handler() http.Handler {
	return promhttp.Handler()
}
