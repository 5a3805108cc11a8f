package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Fatal("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "test",
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	d := timer.ObserveDuration(h)

	if d < 10*time.Millisecond {
		t.Errorf("ObserveDuration() = %v, want >= 10ms", d)
	}
	if got := testutil.CollectAndCount(h); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_vec_seconds",
		Help: "test",
	}, []string{"outcome"})

	NewTimer().ObserveDurationVec(vec, OutcomeOK)
	NewTimer().ObserveDurationVec(vec, OutcomePanic)

	if got := testutil.CollectAndCount(vec); got != 2 {
		t.Errorf("series = %d, want 2", got)
	}
}

func TestCountersAreRegistered(t *testing.T) {
	TasksEnqueued.WithLabelValues("metrics-test").Add(3)
	if got := testutil.ToFloat64(TasksEnqueued.WithLabelValues("metrics-test")); got != 3 {
		t.Errorf("TasksEnqueued = %v, want 3", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, name := range []string{
		"scanshare_tasks_enqueued_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}
