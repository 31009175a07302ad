package metrics

import (
	"testing"
	"time"
)

func TestRecorder_CountersIncrement(t *testing.T) {
	r := NewRecorder()
	r.RecordSubmitted()
	r.RecordSubmitted()
	r.RecordBlocked()
	r.RecordTimeout()
	r.RecordCompleted(100)
	r.RecordFailed()

	snap := r.Snapshot()
	if snap.TotalSubmitted != 2 {
		t.Errorf("TotalSubmitted = %d, want 2", snap.TotalSubmitted)
	}
	if snap.TotalBlocked != 1 {
		t.Errorf("TotalBlocked = %d, want 1", snap.TotalBlocked)
	}
	if snap.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", snap.TotalTimeouts)
	}
	if snap.TotalCompleted != 1 {
		t.Errorf("TotalCompleted = %d, want 1", snap.TotalCompleted)
	}
	if snap.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", snap.TotalFailed)
	}
}

func TestRecorder_QueueAndInFlightGauges(t *testing.T) {
	r := NewRecorder()
	r.SetQueueLength(4)
	r.SetInFlight(2)
	snap := r.Snapshot()
	if snap.QueueLength != 4 {
		t.Errorf("QueueLength = %d, want 4", snap.QueueLength)
	}
	if snap.InFlight != 2 {
		t.Errorf("InFlight = %d, want 2", snap.InFlight)
	}
}

func TestAverageExecutionMs_RollingWindowEviction(t *testing.T) {
	r := NewRecorder()
	if avg := r.AverageExecutionMs(); avg != 0 {
		t.Fatalf("AverageExecutionMs() with no samples = %f, want 0", avg)
	}

	// fill beyond the 100-sample window with a constant 1000ms, then add
	// one 0ms sample: the window should now be 99x1000 + 1x0.
	for i := 0; i < rollingExecutionSamples; i++ {
		r.RecordCompleted(1000)
	}
	r.RecordCompleted(0)

	want := (99.0*1000 + 0) / 100.0
	if got := r.AverageExecutionMs(); got != want {
		t.Errorf("AverageExecutionMs() = %f, want %f (oldest sample evicted)", got, want)
	}
}

func TestReset_ZeroesCountersButLeavesGauges(t *testing.T) {
	r := NewRecorder()
	r.RecordSubmitted()
	r.RecordCompleted(500)
	r.RecordFailed()
	r.SetQueueLength(7)
	r.SetInFlight(3)

	r.Reset()

	snap := r.Snapshot()
	if snap.TotalSubmitted != 0 || snap.TotalCompleted != 0 || snap.TotalFailed != 0 {
		t.Errorf("Snapshot() after Reset = %+v, want all counters zeroed", snap)
	}
	if snap.AverageExecutionTimeMs != 0 {
		t.Errorf("AverageExecutionTimeMs after Reset = %f, want 0", snap.AverageExecutionTimeMs)
	}
	if snap.QueueLength != 7 {
		t.Errorf("QueueLength after Reset = %d, want unchanged 7", snap.QueueLength)
	}
	if snap.InFlight != 3 {
		t.Errorf("InFlight after Reset = %d, want unchanged 3", snap.InFlight)
	}
}

func TestReport_AlertsOnLowSuccessRate(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 10; i++ {
		r.RecordFailed()
	}
	r.RecordCompleted(10)

	report := r.Report(time.Unix(0, 0))
	if !containsAlert(report.Alerts, "success rate below 95%") {
		t.Errorf("Alerts = %v, want a success-rate alert", report.Alerts)
	}
}

func TestReport_AlertsOnSlowAverageExecution(t *testing.T) {
	r := NewRecorder()
	r.RecordCompleted(9000)
	report := r.Report(time.Unix(0, 0))
	if !containsAlert(report.Alerts, "average execution time above 5000ms") {
		t.Errorf("Alerts = %v, want an average-execution-time alert", report.Alerts)
	}
}

func TestReport_AlertsOnLongQueue(t *testing.T) {
	r := NewRecorder()
	r.SetQueueLength(11)
	r.RecordCompleted(10)
	report := r.Report(time.Unix(0, 0))
	if !containsAlert(report.Alerts, "queue length above 10") {
		t.Errorf("Alerts = %v, want a queue-length alert", report.Alerts)
	}
}

func TestReport_AlertsOnHighTimeoutRate(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 2; i++ {
		r.RecordTimeout()
	}
	for i := 0; i < 9; i++ {
		r.RecordCompleted(10)
	}
	report := r.Report(time.Unix(0, 0))
	if !containsAlert(report.Alerts, "timeout rate above 10%") {
		t.Errorf("Alerts = %v, want a timeout-rate alert (2/11 > 10%%)", report.Alerts)
	}
}

func TestReport_NoAlertsWhenHealthy(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 20; i++ {
		r.RecordCompleted(50)
	}
	r.SetQueueLength(1)
	report := r.Report(time.Unix(0, 0))
	if len(report.Alerts) != 0 {
		t.Errorf("Alerts = %v, want none for a healthy recorder", report.Alerts)
	}
	if report.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %f, want 1.0", report.SuccessRate)
	}
}

func TestReport_EmptyRecorderHasFullSuccessRate(t *testing.T) {
	r := NewRecorder()
	report := r.Report(time.Unix(0, 0))
	if report.SuccessRate != 1.0 {
		t.Errorf("SuccessRate with no terminal events = %f, want 1.0 (no evidence of failure)", report.SuccessRate)
	}
	if report.TimeoutRate != 0 {
		t.Errorf("TimeoutRate with no terminal events = %f, want 0", report.TimeoutRate)
	}
}

func containsAlert(alerts []string, want string) bool {
	for _, a := range alerts {
		if a == want {
			return true
		}
	}
	return false
}
