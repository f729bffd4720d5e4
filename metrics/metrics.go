// Package metrics collects counters for the queue processing pipeline and
// generates a summary report. Counters use atomic operations so multiple
// workers can share one collector.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics collects pipeline counters.
type Metrics struct {
	mu sync.RWMutex

	messagesReceived int64 // Messages delivered by the queue
	succeeded        int64 // Messages resolved successfully
	failed           int64 // Messages resolved as failures
	deleted          int64 // Messages deleted from the queue
	retained         int64 // Messages left for redelivery
	bytesDownloaded  int64 // Bytes fetched from the object store

	processingTime time.Duration // Total time spent resolving messages
	startTime      time.Time     // When the collector was created
}

// New creates a Metrics instance with initialized counters.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordReceived adds n to the received messages counter.
func (m *Metrics) RecordReceived(n int64) {
	atomic.AddInt64(&m.messagesReceived, n)
}

// RecordSucceeded increments the successful resolutions counter.
func (m *Metrics) RecordSucceeded() {
	atomic.AddInt64(&m.succeeded, 1)
}

// RecordFailed increments the failed resolutions counter.
func (m *Metrics) RecordFailed() {
	atomic.AddInt64(&m.failed, 1)
}

// RecordDeleted increments the deleted messages counter.
func (m *Metrics) RecordDeleted() {
	atomic.AddInt64(&m.deleted, 1)
}

// RecordRetained increments the retained messages counter.
func (m *Metrics) RecordRetained() {
	atomic.AddInt64(&m.retained, 1)
}

// RecordBytesDownloaded adds n to the downloaded bytes counter.
func (m *Metrics) RecordBytesDownloaded(n int64) {
	atomic.AddInt64(&m.bytesDownloaded, n)
}

// RecordProcessingTime records the time taken to resolve one message.
func (m *Metrics) RecordProcessingTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processingTime += d
}

// Report is the summary of a processing run.
type Report struct {
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Received        int64         `json:"received"`
	Succeeded       int64         `json:"succeeded"`
	Failed          int64         `json:"failed"`
	Deleted         int64         `json:"deleted"`
	Retained        int64         `json:"retained"`
	BytesDownloaded int64         `json:"bytesDownloaded"`
	Duration        time.Duration `json:"duration"`
	Throughput      float64       `json:"throughput"` // Messages resolved per second
}

// GenerateReport snapshots all counters into a Report.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)

	resolved := atomic.LoadInt64(&m.succeeded) + atomic.LoadInt64(&m.failed)
	var throughput float64
	if duration > 0 {
		throughput = float64(resolved) / duration.Seconds()
	}

	return Report{
		StartTime:       m.startTime,
		EndTime:         endTime,
		Received:        atomic.LoadInt64(&m.messagesReceived),
		Succeeded:       atomic.LoadInt64(&m.succeeded),
		Failed:          atomic.LoadInt64(&m.failed),
		Deleted:         atomic.LoadInt64(&m.deleted),
		Retained:        atomic.LoadInt64(&m.retained),
		BytesDownloaded: atomic.LoadInt64(&m.bytesDownloaded),
		Duration:        duration,
		Throughput:      throughput,
	}
}

// MarshalJSON implements json.Marshaler, rendering the duration as a
// human-readable string.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String returns a human-readable rendition of the report.
func (r Report) String() string {
	return fmt.Sprintf(
		"Processed %d messages in %s\n"+
			"Succeeded: %d, failed: %d\n"+
			"Deleted: %d, retained: %d\n"+
			"Downloaded: %d bytes\n"+
			"Throughput: %.2f messages/sec",
		r.Received,
		r.Duration,
		r.Succeeded,
		r.Failed,
		r.Deleted,
		r.Retained,
		r.BytesDownloaded,
		r.Throughput,
	)
}
