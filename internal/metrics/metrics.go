// Package metrics provides wall-clock latency measurement for a single
// upstream dispatch. Latency must capture I/O wait, so every mark here is
// a monotonic time.Time read, never a CPU-time sample.
package metrics

import (
	"fmt"
	"time"
)

// Metrics captures the timing breakdown of one upstream dispatch.
type Metrics struct {
	Connect time.Duration `json:"connect"` // time spent dialing (skipped on a reused connection)
	TTFB    time.Duration `json:"ttfb"`    // time from request fully written to first response byte
	Total   time.Duration `json:"total"`   // Connect..response fully read
}

// Latency returns the value fed into the scheduler's weight-update rule:
// the total wall-clock time of the dispatch, in seconds.
func (m Metrics) Latency() float64 {
	return m.Total.Seconds()
}

func (m Metrics) String() string {
	return fmt.Sprintf("connect=%v ttfb=%v total=%v", m.Connect, m.TTFB, m.Total)
}

// Timer accumulates the marks for one dispatch.
type Timer struct {
	start      time.Time
	connStart  time.Time
	connEnd    time.Time
	ttfbStart  time.Time
	ttfbEnd    time.Time
}

// NewTimer starts a new timing session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartConnect marks the beginning of dialing the upstream.
func (t *Timer) StartConnect() { t.connStart = time.Now() }

// EndConnect marks the end of dialing the upstream.
func (t *Timer) EndConnect() { t.connEnd = time.Now() }

// StartTTFB marks when the request has been fully written and the reader
// begins waiting for the response.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks when the first byte of the response status line arrives.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics finalises and returns the accumulated measurements.
func (t *Timer) Metrics() Metrics {
	m := Metrics{Total: time.Since(t.start)}
	if !t.connStart.IsZero() && !t.connEnd.IsZero() {
		m.Connect = t.connEnd.Sub(t.connStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}
