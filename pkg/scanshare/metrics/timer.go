package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures one operation for a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since NewTimer.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h and returns it.
func (t *Timer) ObserveDuration(h prometheus.Observer) time.Duration {
	d := t.Duration()
	h.Observe(d.Seconds())
	return d
}

// ObserveDurationVec records the elapsed time under labels.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) time.Duration {
	return t.ObserveDuration(h.WithLabelValues(labels...))
}
