package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the domain Metrics interface using Prometheus.
type Recorder struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	evaluations  *prometheus.CounterVec
	signals      *prometheus.CounterVec
	score        *prometheus.GaugeVec
	orders       *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on reg (prometheus.DefaultRegisterer
// when nil).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeloop",
			Name:      "scheduler_ticks_total",
			Help:      "Completed passes over the watchlist",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradeloop",
			Name:      "scheduler_tick_seconds",
			Help:      "Wall time of one pass over the watchlist",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop",
			Name:      "evaluations_total",
			Help:      "Per-symbol evaluations by result",
		}, []string{"result"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop",
			Name:      "signals_total",
			Help:      "Signals emitted by producer, action and degradation",
		}, []string{"producer", "action", "degraded"}),
		score: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradeloop",
			Name:      "decision_score",
			Help:      "Latest aggregated bullishness score per symbol",
		}, []string{"symbol"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop",
			Name:      "orders_total",
			Help:      "Orders placed by side and status",
		}, []string{"side", "status"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop",
			Name:      "errors_total",
			Help:      "Errors by kind",
		}, []string{"kind"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tradeloop",
			Name:      "operation_duration_seconds",
			Help:      "Duration of external calls and evaluation stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordTick(d time.Duration) {
	r.ticks.Inc()
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) RecordEvaluation(result string) {
	r.evaluations.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordSignal(producer, action string, degraded bool) {
	r.signals.WithLabelValues(producer, action, strconv.FormatBool(degraded)).Inc()
}

func (r *Recorder) RecordScore(symbol string, score float64) {
	r.score.WithLabelValues(symbol).Set(score)
}

func (r *Recorder) RecordOrder(side, status string) {
	r.orders.WithLabelValues(side, status).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything. Used when metrics are not wired (CLI analyze, tests).
type Nop struct{}

func (Nop) RecordTick(time.Duration)          {}
func (Nop) RecordEvaluation(string)           {}
func (Nop) RecordSignal(string, string, bool) {}
func (Nop) RecordScore(string, float64)       {}
func (Nop) RecordOrder(string, string)        {}
func (Nop) RecordError(string)                {}
func (Nop) RecordLatency(string, float64)     {}
