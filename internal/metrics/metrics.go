// Package metrics implements the gateway's counters, gauges, and rolling
// execution-time mean, exported through Prometheus the same way
// gsoultan-Hermod's pkg/engine/metrics.go does: package-level instruments
// created with promauto, one file, flat naming. The five "counters" are
// modeled as Gauges rather than Counters because they must be resettable
// (Reset() returns every one to zero), which a true Prometheus Counter
// cannot do.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	totalSubmittedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_total_submitted",
		Help: "Total queries submitted to the gateway since the last reset.",
	})
	totalBlockedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_total_blocked",
		Help: "Total submissions rejected by admission control since the last reset.",
	})
	totalTimeoutsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_total_timeouts",
		Help: "Total executions that hit their deadline since the last reset.",
	})
	totalCompletedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_total_completed",
		Help: "Total executions that completed successfully since the last reset.",
	})
	totalFailedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_total_failed",
		Help: "Total executions that failed since the last reset.",
	})
	queueLengthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_queue_length",
		Help: "Current number of queued (not yet executing) queries.",
	})
	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queryguard_in_flight",
		Help: "Current number of executing queries.",
	})
	executionTimeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queryguard_execution_duration_ms",
		Help:    "Execution time of completed queries, in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	})
)

const rollingExecutionSamples = 100

// Snapshot is a point-in-time read of every counter/gauge.
type Snapshot struct {
	TotalSubmitted        int64
	TotalBlocked          int64
	TotalTimeouts         int64
	TotalCompleted        int64
	TotalFailed           int64
	QueueLength           int
	InFlight              int
	AverageExecutionTimeMs float64
}

// ProcessSnapshot is a lightweight process-resource sample, a
// runtime.MemStats-based system_metrics payload.
type ProcessSnapshot struct {
	AllocBytes   uint64
	NumGoroutine int
	NumGC        uint32
}

// CaptureProcessSnapshot reads current process resource usage.
func CaptureProcessSnapshot() ProcessSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ProcessSnapshot{
		AllocBytes:   m.Alloc,
		NumGoroutine: runtime.NumGoroutine(),
		NumGC:        m.NumGC,
	}
}

// Recorder owns the mutable counter state backing the Prometheus gauges
// (so Reset() can actually zero them) and the rolling execution-time
// window.
type Recorder struct {
	mu sync.Mutex

	totalSubmitted int64
	totalBlocked   int64
	totalTimeouts  int64
	totalCompleted int64
	totalFailed    int64
	queueLength    int
	inFlight       int

	executionSamples []float64
}

// NewRecorder creates a Recorder with every counter at zero.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSubmitted increments totalSubmitted.
func (r *Recorder) RecordSubmitted() {
	r.mu.Lock()
	r.totalSubmitted++
	v := r.totalSubmitted
	r.mu.Unlock()
	totalSubmittedGauge.Set(float64(v))
}

// RecordBlocked increments totalBlocked.
func (r *Recorder) RecordBlocked() {
	r.mu.Lock()
	r.totalBlocked++
	v := r.totalBlocked
	r.mu.Unlock()
	totalBlockedGauge.Set(float64(v))
}

// RecordTimeout increments totalTimeouts.
func (r *Recorder) RecordTimeout() {
	r.mu.Lock()
	r.totalTimeouts++
	v := r.totalTimeouts
	r.mu.Unlock()
	totalTimeoutsGauge.Set(float64(v))
}

// RecordCompleted increments totalCompleted and folds executionTimeMs into
// the rolling mean over the last 100 completions.
func (r *Recorder) RecordCompleted(executionTimeMs float64) {
	r.mu.Lock()
	r.totalCompleted++
	v := r.totalCompleted
	r.executionSamples = append(r.executionSamples, executionTimeMs)
	if len(r.executionSamples) > rollingExecutionSamples {
		r.executionSamples = r.executionSamples[len(r.executionSamples)-rollingExecutionSamples:]
	}
	r.mu.Unlock()
	totalCompletedGauge.Set(float64(v))
	executionTimeHistogram.Observe(executionTimeMs)
}

// RecordFailed increments totalFailed.
func (r *Recorder) RecordFailed() {
	r.mu.Lock()
	r.totalFailed++
	v := r.totalFailed
	r.mu.Unlock()
	totalFailedGauge.Set(float64(v))
}

// SetQueueLength sets the current queueLength gauge.
func (r *Recorder) SetQueueLength(n int) {
	r.mu.Lock()
	r.queueLength = n
	r.mu.Unlock()
	queueLengthGauge.Set(float64(n))
}

// SetInFlight sets the current inFlight gauge.
func (r *Recorder) SetInFlight(n int) {
	r.mu.Lock()
	r.inFlight = n
	r.mu.Unlock()
	inFlightGauge.Set(float64(n))
}

// AverageExecutionMs returns the rolling mean over the last 100 completions.
func (r *Recorder) AverageExecutionMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.averageExecutionLocked()
}

func (r *Recorder) averageExecutionLocked() float64 {
	if len(r.executionSamples) == 0 {
		return 0
	}
	var total float64
	for _, s := range r.executionSamples {
		total += s
	}
	return total / float64(len(r.executionSamples))
}

// Snapshot returns every counter/gauge at once.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		TotalSubmitted:         r.totalSubmitted,
		TotalBlocked:           r.totalBlocked,
		TotalTimeouts:          r.totalTimeouts,
		TotalCompleted:         r.totalCompleted,
		TotalFailed:            r.totalFailed,
		QueueLength:            r.queueLength,
		InFlight:               r.inFlight,
		AverageExecutionTimeMs: r.averageExecutionLocked(),
	}
}

// Reset zeroes every counter and the rolling window, emitting a
// metrics_reset audit event via the caller. Gauges (queueLength/inFlight)
// are left untouched since they reflect live state, not accumulation.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.totalSubmitted = 0
	r.totalBlocked = 0
	r.totalTimeouts = 0
	r.totalCompleted = 0
	r.totalFailed = 0
	r.executionSamples = nil
	r.mu.Unlock()

	totalSubmittedGauge.Set(0)
	totalBlockedGauge.Set(0)
	totalTimeoutsGauge.Set(0)
	totalCompletedGauge.Set(0)
	totalFailedGauge.Set(0)
}

// PerformanceReport is an on-demand summary with alert flags.
type PerformanceReport struct {
	Snapshot
	SuccessRate float64
	TimeoutRate float64
	Alerts      []string
	CapturedAt  time.Time
}

// Report builds a PerformanceReport from the current snapshot.
func (r *Recorder) Report(now time.Time) PerformanceReport {
	snap := r.Snapshot()
	terminal := snap.TotalCompleted + snap.TotalFailed + snap.TotalTimeouts
	successRate := 1.0
	timeoutRate := 0.0
	if terminal > 0 {
		successRate = float64(snap.TotalCompleted) / float64(terminal)
		timeoutRate = float64(snap.TotalTimeouts) / float64(terminal)
	}

	var alerts []string
	if successRate < 0.95 {
		alerts = append(alerts, "success rate below 95%")
	}
	if snap.AverageExecutionTimeMs > 5000 {
		alerts = append(alerts, "average execution time above 5000ms")
	}
	if snap.QueueLength > 10 {
		alerts = append(alerts, "queue length above 10")
	}
	if timeoutRate > 0.10 {
		alerts = append(alerts, "timeout rate above 10%")
	}

	return PerformanceReport{
		Snapshot:    snap,
		SuccessRate: successRate,
		TimeoutRate: timeoutRate,
		Alerts:      alerts,
		CapturedAt:  now,
	}
}
