// Package audit implements the gateway's append-only audit stream: a
// bounded, non-blocking sink backed by zerolog, grounded on
// gsoultan-Hermod's pkg/engine/logger.go DefaultLogger (zerolog.New wired to
// a writer, one structured event per call). Here the sink additionally
// keeps a bounded in-memory ring so recent audit records can be read back
// through Recent without re-parsing log output, and drops
// the oldest buffered record on overflow rather than blocking the caller.
package audit

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nethalo/queryguard/internal/metrics"
)

// EventType identifies one of spec §4.9's four audit events.
type EventType string

const (
	EventQueryAttempt   EventType = "query_attempt"
	EventQueryExecution EventType = "query_execution"
	EventSystemMetrics  EventType = "system_metrics"
	EventMetricsReset   EventType = "metrics_reset"
)

// Record is one audit entry. Per spec §4.9's redaction rule, it never
// carries parameter values or raw query text — only QueryLength.
type Record struct {
	Type            EventType
	Timestamp       time.Time
	QueryID         string
	TenantID        string
	Blocked         bool
	Status          string
	ExecutionTimeMs float64
	RowCount        int
	Error           string
	QueryLength     int
	Counters        *metrics.Snapshot
	Process         *metrics.ProcessSnapshot
}

const defaultBufferSize = 1000

// Sink is the audit stream. Safe for concurrent use.
type Sink struct {
	logger zerolog.Logger

	ch      chan Record
	dropped int64

	ring     []Record
	ringMu   chan struct{} // 1-buffered mutex-as-channel to keep Emit lock-free-ish and cheap
	ringSize int
}

// NewSink creates a Sink that logs through logger and retains up to
// bufferSize records in memory. bufferSize <= 0 uses a sensible default.
func NewSink(logger zerolog.Logger, bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	s := &Sink{
		logger:   logger,
		ch:       make(chan Record, bufferSize),
		ringMu:   make(chan struct{}, 1),
		ringSize: bufferSize,
	}
	s.ringMu <- struct{}{}
	go s.run()
	return s
}

// Emit records rec without blocking the caller. If the internal buffer is
// full, the oldest queued record is dropped to make room and the
// drop counter is incremented.
func (s *Sink) Emit(rec Record) {
	select {
	case s.ch <- rec:
	default:
		select {
		case <-s.ch:
			atomic.AddInt64(&s.dropped, 1)
		default:
		}
		select {
		case s.ch <- rec:
		default:
			atomic.AddInt64(&s.dropped, 1)
		}
	}

	<-s.ringMu
	s.ring = append(s.ring, rec)
	if len(s.ring) > s.ringSize {
		s.ring = s.ring[len(s.ring)-s.ringSize:]
	}
	s.ringMu <- struct{}{}
}

func (s *Sink) run() {
	for rec := range s.ch {
		s.write(rec)
	}
}

func (s *Sink) write(rec Record) {
	ev := s.logger.Info()
	ev = ev.Str("event", string(rec.Type)).Time("ts", rec.Timestamp)
	if rec.QueryID != "" {
		ev = ev.Str("query_id", rec.QueryID)
	}
	if rec.TenantID != "" {
		ev = ev.Str("tenant_id", rec.TenantID)
	}
	if rec.Type == EventQueryAttempt {
		ev = ev.Bool("blocked", rec.Blocked)
	}
	if rec.Type == EventQueryExecution {
		ev = ev.Str("status", rec.Status).
			Float64("execution_time_ms", rec.ExecutionTimeMs).
			Int("row_count", rec.RowCount)
		if rec.Error != "" {
			ev = ev.Str("error", rec.Error)
		}
	}
	if rec.QueryLength > 0 {
		ev = ev.Int("query_length", rec.QueryLength)
	}
	if rec.Counters != nil {
		ev = ev.Interface("counters", rec.Counters)
	}
	if rec.Process != nil {
		ev = ev.Interface("process", rec.Process)
	}
	ev.Msg("audit")
}

// Dropped returns how many records have been dropped for overflow.
func (s *Sink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Recent returns up to n most-recently-emitted records, newest last.
func (s *Sink) Recent(n int) []Record {
	<-s.ringMu
	defer func() { s.ringMu <- struct{}{} }()
	if n <= 0 || n >= len(s.ring) {
		out := make([]Record, len(s.ring))
		copy(out, s.ring)
		return out
	}
	out := make([]Record, n)
	copy(out, s.ring[len(s.ring)-n:])
	return out
}
