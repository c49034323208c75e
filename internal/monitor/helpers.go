package monitor

import (
	"strconv"
	"time"
)

// 便捷函数供外部调用，无需访问 Metrics 实例

// ObserveTick 记录一次 worker tick
func ObserveTick(worker string, started time.Time, err error) {
	m := GetMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.workerTicks.WithLabelValues(worker, result).Inc()
	m.workerTickSeconds.WithLabelValues(worker).Observe(time.Since(started).Seconds())
}

func IncTriggerDecision(priority string, run bool) {
	GetMetrics().triggerDecisions.WithLabelValues(priority, strconv.FormatBool(run)).Inc()
}

func IncDecisionCall(result string) {
	GetMetrics().decisionCalls.WithLabelValues(result).Inc()
}

func IncSignalCreated(direction string) {
	GetMetrics().signalsCreated.WithLabelValues(direction).Inc()
}

func IncSignalResolved(status string) {
	GetMetrics().signalsResolved.WithLabelValues(status).Inc()
}

func SetPositionsOpen(n int) {
	GetMetrics().positionsOpen.Set(float64(n))
}

func IncPositionClosed(reason string) {
	GetMetrics().positionsClosed.WithLabelValues(reason).Inc()
}

func IncPositionError(stage string) {
	GetMetrics().positionErrors.WithLabelValues(stage).Inc()
}

func IncFeedback(result string) {
	GetMetrics().feedbackEvents.WithLabelValues(result).Inc()
}

func SetFeedbackQueueSize(n int) {
	GetMetrics().feedbackQueueSize.Set(float64(n))
}

// IncPriceCache 价格缓存命中/未命中
func IncPriceCache(hit bool) {
	if hit {
		GetMetrics().cacheHitTotal.WithLabelValues("price").Inc()
		return
	}
	GetMetrics().cacheMissTotal.WithLabelValues("price").Inc()
}

func SetStreamConnected(connected bool) {
	if connected {
		GetMetrics().streamConnected.Set(1)
	} else {
		GetMetrics().streamConnected.Set(0)
	}
}

func SetAccountsLoaded(n int) {
	GetMetrics().accountsLoaded.Set(float64(n))
}

func ObserveBatchWrite(size int, d time.Duration) {
	m := GetMetrics()
	m.batchWriteSize.Observe(float64(size))
	m.batchWriteSeconds.Observe(d.Seconds())
}
