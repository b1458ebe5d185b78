// Package metrics tracks request counts for the summary printed on shutdown.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// ServeMetrics counts what the server answered while it was running.
type ServeMetrics struct {
	// Timing
	StartTime time.Time
	EndTime   time.Time

	// Counters
	requests  atomic.Int64
	notFound  atomic.Int64
	errors    atomic.Int64
	bytesSent atomic.Int64
}

// NewServeMetrics creates a new metrics instance.
func NewServeMetrics() *ServeMetrics {
	return &ServeMetrics{
		StartTime: time.Now(),
	}
}

// RecordEnd marks the moment serving stopped.
func (m *ServeMetrics) RecordEnd() {
	m.EndTime = time.Now()
}

// TotalDuration returns how long the server has been (or was) serving.
func (m *ServeMetrics) TotalDuration() time.Duration {
	if m.EndTime.IsZero() {
		return time.Since(m.StartTime)
	}
	return m.EndTime.Sub(m.StartTime)
}

// Record counts one finished response.
func (m *ServeMetrics) Record(status int, bytes int64) {
	m.requests.Add(1)
	m.bytesSent.Add(bytes)
	switch {
	case status == http.StatusNotFound:
		m.notFound.Add(1)
	case status >= http.StatusInternalServerError:
		m.errors.Add(1)
	}
}

func (m *ServeMetrics) Requests() int64  { return m.requests.Load() }
func (m *ServeMetrics) NotFound() int64  { return m.notFound.Load() }
func (m *ServeMetrics) Errors() int64    { return m.errors.Load() }
func (m *ServeMetrics) BytesSent() int64 { return m.bytesSent.Load() }

// String returns a one-line summary (minimal single-line format).
func (m *ServeMetrics) String() string {
	return fmt.Sprintf("📊 Served %d requests in %v (%d not found, %d errors, %s sent)\n",
		m.Requests(),
		m.TotalDuration().Round(time.Second),
		m.NotFound(),
		m.Errors(),
		formatBytes(m.BytesSent()),
	)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
