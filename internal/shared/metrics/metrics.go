package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	uploadsAcceptedTotal atomic.Uint64
	uploadsRejectedTotal atomic.Uint64

	ingestReceivedTotal  atomic.Uint64
	ingestCompletedTotal atomic.Uint64
	ingestDuplicateTotal atomic.Uint64
	ingestRetriedTotal   atomic.Uint64
	ingestFailedTotal    atomic.Uint64
	ingestUndecodedTotal atomic.Uint64
	ingestTruncatedTotal atomic.Uint64
	searchRequestsTotal  atomic.Uint64

	ingestDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncUploadsAccepted counts uploads that produced a task.
func IncUploadsAccepted() { uploadsAcceptedTotal.Add(1) }

// IncUploadsRejected counts uploads refused by validation.
func IncUploadsRejected() { uploadsRejectedTotal.Add(1) }

// IncIngestReceived counts deliveries handed to a worker.
func IncIngestReceived() { ingestReceivedTotal.Add(1) }

// IncIngestCompleted counts tasks that created a document.
func IncIngestCompleted() { ingestCompletedTotal.Add(1) }

// IncIngestDuplicate counts redeliveries of already-ingested blobs.
func IncIngestDuplicate() { ingestDuplicateTotal.Add(1) }

// IncIngestRetried counts transient failures that were retried.
func IncIngestRetried() { ingestRetriedTotal.Add(1) }

// IncIngestFailed counts tasks moved to the failed state.
func IncIngestFailed() { ingestFailedTotal.Add(1) }

// IncIngestUndecoded counts deliveries dropped because the payload was unusable.
func IncIngestUndecoded() { ingestUndecodedTotal.Add(1) }

// IncIngestTruncated counts documents whose text hit the content ceiling.
func IncIngestTruncated() { ingestTruncatedTotal.Add(1) }

// IncSearchRequests counts search calls.
func IncSearchRequests() { searchRequestsTotal.Add(1) }

// ObserveIngestDurationMs records a task duration in milliseconds.
func ObserveIngestDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ingestDuration.Observe(value)
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
	writeCounter(&buf, "uploads_accepted_total", "Total uploads accepted and enqueued", uploadsAcceptedTotal.Load())
	writeCounter(&buf, "uploads_rejected_total", "Total uploads rejected by validation", uploadsRejectedTotal.Load())
	writeCounter(&buf, "ingest_received_total", "Total ingestion deliveries received", ingestReceivedTotal.Load())
	writeCounter(&buf, "ingest_completed_total", "Total ingestion tasks that created a document", ingestCompletedTotal.Load())
	writeCounter(&buf, "ingest_duplicate_total", "Total ingestion tasks skipped as already ingested", ingestDuplicateTotal.Load())
	writeCounter(&buf, "ingest_retried_total", "Total transient ingestion failures retried", ingestRetriedTotal.Load())
	writeCounter(&buf, "ingest_failed_total", "Total ingestion tasks moved to the failed state", ingestFailedTotal.Load())
	writeCounter(&buf, "ingest_undecoded_total", "Total deliveries dropped with an unusable payload", ingestUndecodedTotal.Load())
	writeCounter(&buf, "ingest_truncated_total", "Total documents truncated to the content ceiling", ingestTruncatedTotal.Load())
	writeCounter(&buf, "search_requests_total", "Total search requests", searchRequestsTotal.Load())
	writeHistogram(&buf, "ingest_duration_ms", "Ingestion task duration in milliseconds", ingestDuration.Snapshot())
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

// Observe adds value to the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
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

// SinceMillis returns the milliseconds elapsed since start.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
