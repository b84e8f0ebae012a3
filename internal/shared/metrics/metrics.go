package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	tasksDispatchedTotal   atomic.Uint64
	analysesCompletedTotal atomic.Uint64
	analysesFailedTotal    atomic.Uint64
	analysesSkippedTotal   atomic.Uint64
	tasksDeferredTotal     atomic.Uint64
	taskRetriesTotal       atomic.Uint64
	tasksReapedTotal       atomic.Uint64
	backlogAlertsTotal     atomic.Uint64
	patternsPromotedTotal  atomic.Uint64
	trendsPromotedTotal    atomic.Uint64

	workerJobsReceivedTotal  atomic.Uint64
	workerJobsCompletedTotal atomic.Uint64
	workerJobsFailedTotal    atomic.Uint64
	workerJobsDroppedTotal   atomic.Uint64

	analysisDuration = newHistogram([]float64{500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000})
)

// IncTaskDispatched increments the dispatched counter.
func IncTaskDispatched() { tasksDispatchedTotal.Add(1) }

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() { analysesCompletedTotal.Add(1) }

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() { analysesFailedTotal.Add(1) }

// IncAnalysisSkipped increments the skipped counter.
func IncAnalysisSkipped() { analysesSkippedTotal.Add(1) }

// IncTaskDeferred increments the budget-deferred counter.
func IncTaskDeferred() { tasksDeferredTotal.Add(1) }

// IncTaskRetry increments the retry counter.
func IncTaskRetry() { taskRetriesTotal.Add(1) }

// IncTaskReaped increments the stale-task reaper counter.
func IncTaskReaped() { tasksReapedTotal.Add(1) }

// IncBacklogAlert increments the backlog triage alert counter.
func IncBacklogAlert() { backlogAlertsTotal.Add(1) }

// IncPatternPromoted increments the promoted-pattern counter.
func IncPatternPromoted() { patternsPromotedTotal.Add(1) }

// IncTrendPromoted increments the promoted-trend counter.
func IncTrendPromoted() { trendsPromotedTotal.Add(1) }

// IncWorkerJobsReceived increments the queue jobs received counter.
func IncWorkerJobsReceived() { workerJobsReceivedTotal.Add(1) }

// IncWorkerJobsCompleted increments the queue jobs completed counter.
func IncWorkerJobsCompleted() { workerJobsCompletedTotal.Add(1) }

// IncWorkerJobsFailed increments the queue jobs failed counter.
func IncWorkerJobsFailed() { workerJobsFailedTotal.Add(1) }

// IncWorkerJobsDropped increments the counter for unrecoverable payloads
// deleted without processing.
func IncWorkerJobsDropped() { workerJobsDroppedTotal.Add(1) }

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "pipeline_tasks_dispatched_total", "Total analysis tasks dispatched", tasksDispatchedTotal.Load())
	writeCounter(&buf, "pipeline_analyses_completed_total", "Total analyses completed", analysesCompletedTotal.Load())
	writeCounter(&buf, "pipeline_analyses_failed_total", "Total analyses failed", analysesFailedTotal.Load())
	writeCounter(&buf, "pipeline_analyses_skipped_total", "Total analyses skipped", analysesSkippedTotal.Load())
	writeCounter(&buf, "pipeline_tasks_deferred_total", "Total tasks deferred on budget", tasksDeferredTotal.Load())
	writeCounter(&buf, "pipeline_task_retries_total", "Total task retries scheduled", taskRetriesTotal.Load())
	writeCounter(&buf, "pipeline_tasks_reaped_total", "Total stale tasks reaped", tasksReapedTotal.Load())
	writeCounter(&buf, "pipeline_backlog_alerts_total", "Total backlog triage alerts", backlogAlertsTotal.Load())
	writeCounter(&buf, "aggregator_patterns_promoted_total", "Total emerging patterns promoted", patternsPromotedTotal.Load())
	writeCounter(&buf, "aggregator_trends_promoted_total", "Total emerging trends promoted", trendsPromotedTotal.Load())
	writeCounter(&buf, "worker_jobs_received_total", "Total queue jobs received", workerJobsReceivedTotal.Load())
	writeCounter(&buf, "worker_jobs_completed_total", "Total queue jobs completed", workerJobsCompletedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Total queue jobs failed", workerJobsFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_dropped_total", "Total unrecoverable queue jobs deleted", workerJobsDroppedTotal.Load())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
