package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 指标收集器
type Metrics struct {
	workerTicks       *prometheus.CounterVec
	workerTickSeconds *prometheus.HistogramVec
	triggerDecisions  *prometheus.CounterVec
	decisionCalls     *prometheus.CounterVec
	signalsCreated    *prometheus.CounterVec
	signalsResolved   *prometheus.CounterVec
	positionsOpen     prometheus.Gauge
	positionsClosed   *prometheus.CounterVec
	positionErrors    *prometheus.CounterVec
	feedbackEvents    *prometheus.CounterVec
	feedbackQueueSize prometheus.Gauge
	cacheHitTotal     *prometheus.CounterVec
	cacheMissTotal    *prometheus.CounterVec
	streamConnected   prometheus.Gauge
	accountsLoaded    prometheus.Gauge
	batchWriteSize    prometheus.Histogram
	batchWriteSeconds prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		workerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_ticks_total",
			Help:      "Worker ticks by worker and result",
		}, []string{"worker", "result"}),
		workerTickSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_tick_duration_seconds",
			Help:      "Worker tick duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"worker"}),
		triggerDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_decisions_total",
			Help:      "Smart trigger decisions by priority and run flag",
		}, []string{"priority", "run"}),
		decisionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_calls_total",
			Help:      "Decision source calls by result",
		}, []string{"result"}), // long, short, hold, error
		signalsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_created_total",
			Help:      "Signals created",
		}, []string{"direction"}),
		signalsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_resolved_total",
			Help:      "Signals moved to a terminal status",
		}, []string{"status"}),
		positionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "positions_open",
			Help:      "Open positions seen by the last monitor tick",
		}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Positions closed by reason",
		}, []string{"reason"}),
		positionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_errors_total",
			Help:      "Per-position processing failures",
		}, []string{"stage"}),
		feedbackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_events_total",
			Help:      "Learning feedback events by result",
		}, []string{"result"}), // delivered, rejected, failed, dropped
		feedbackQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feedback_queue_size",
			Help:      "Pending feedback events",
		}),
		cacheHitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hit_total",
			Help:      "缓存命中总数（按缓存类型）",
		}, []string{"cache_type"}),
		cacheMissTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_miss_total",
			Help:      "缓存未命中总数（按缓存类型）",
		}, []string{"cache_type"}),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_stream_connected",
			Help:      "Mark price stream status (1=connected, 0=disconnected)",
		}),
		accountsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts_loaded",
			Help:      "Enabled analysis accounts",
		}),
		batchWriteSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_write_size",
			Help:      "批量写入大小分布",
			Buckets:   []float64{1, 10, 25, 50, 100, 200, 500},
		}),
		batchWriteSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_write_duration_seconds",
			Help:      "批量写入耗时分布（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}

	prometheus.MustRegister(
		m.workerTicks,
		m.workerTickSeconds,
		m.triggerDecisions,
		m.decisionCalls,
		m.signalsCreated,
		m.signalsResolved,
		m.positionsOpen,
		m.positionsClosed,
		m.positionErrors,
		m.feedbackEvents,
		m.feedbackQueueSize,
		m.cacheHitTotal,
		m.cacheMissTotal,
		m.streamConnected,
		m.accountsLoaded,
		m.batchWriteSize,
		m.batchWriteSeconds,
	)

	return m
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics 获取全局指标收集器
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics("signal_engine")
	})
	return globalMetrics
}

// InitMetrics 初始化指标收集器（供main使用）
func InitMetrics() {
	GetMetrics()
}
