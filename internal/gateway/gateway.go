// Package gateway is the composition root: it wires the shape analyzer,
// validator, governor, cost estimator, admission controller, priority
// queue, circuit breaker, timeout executor, and metrics/audit recorder
// behind the single public entry point SubmitQuery, plus
// AwaitResult/Cancel/Stats/EmergencyStop. The queue manager, metrics
// collector, and named circuit breakers are explicit objects constructed
// once here and injected, rather than package-level state — the same way
// cmd/root.go builds one *sql.DB and hands it down explicitly instead of
// reaching for a global.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nethalo/queryguard/internal/admission"
	"github.com/nethalo/queryguard/internal/audit"
	"github.com/nethalo/queryguard/internal/circuit"
	"github.com/nethalo/queryguard/internal/cost"
	"github.com/nethalo/queryguard/internal/governor"
	"github.com/nethalo/queryguard/internal/gwerrors"
	"github.com/nethalo/queryguard/internal/metrics"
	"github.com/nethalo/queryguard/internal/queue"
	"github.com/nethalo/queryguard/internal/shape"
	"github.com/nethalo/queryguard/internal/timeoutexec"
	"github.com/nethalo/queryguard/internal/validator"
)

const breakerScope = "default"

// DatabaseExecuteFn is the opaque database capability: "execute this text,
// honor this cancellation token, return a row set". ctx is the cancellation
// token; cancelling it must stop the call cooperatively.
type DatabaseExecuteFn func(ctx context.Context, governedSQL, tenantID, workflowMode string) (rows []map[string]any, rowCount int, err error)

// Policy flattens the gateway's entire configuration surface into one
// struct so a single config file/CLI flag set can build every
// sub-component's policy.
type Policy struct {
	MaxConcurrent       int
	MaxPerMinute        int
	MaxQueueSize        int
	ExecutionTimeoutMs  int
	EnforceTenantFilter bool
	EnforceUploadID     bool
	MaxRowLimit         int
	MaxJoinCount        int
	DangerousFunctions  []string
	TenantColumn        string
	TenantColumns       []string
	UploadPatterns      []string
	FailureThreshold    uint32
	RecoveryTimeoutMs   int
	HalfOpenMaxProbes   uint32
	AuditRetentionDays  int
	RejectCritical      bool
}

// DefaultPolicy returns the gateway's baseline configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrent:       10,
		MaxPerMinute:        100,
		MaxQueueSize:        50,
		ExecutionTimeoutMs:  5000,
		EnforceTenantFilter: true,
		EnforceUploadID:     true,
		MaxRowLimit:         5000,
		MaxJoinCount:        5,
		DangerousFunctions:  validator.DefaultDangerousFunctions,
		TenantColumn:        "client_id",
		TenantColumns:       shape.DefaultTenantColumns,
		UploadPatterns:      shape.DefaultUploadPatterns,
		FailureThreshold:    5,
		RecoveryTimeoutMs:   60_000,
		HalfOpenMaxProbes:   3,
		AuditRetentionDays:  30,
		RejectCritical:      true,
	}
}

// Reason identifies why a submission was not accepted.
type Reason string

const (
	ReasonAdmissionConcurrency Reason = "admission_concurrency"
	ReasonAdmissionRate        Reason = "admission_rate"
	ReasonAnalyzerMalformed    Reason = "analyzer_malformed"
	ReasonValidationRejected   Reason = "validation_rejected"
	ReasonCostRejectedCritical Reason = "cost_rejected_critical"
	ReasonGovernorRejected     Reason = "governor_rejected"
	ReasonQueueFull            Reason = "queue_full"
)

// SubmitResult is SubmitQuery's return shape.
type SubmitResult struct {
	Accepted        bool
	QueryID         string
	EstimatedWaitMs int
	Reason          Reason
	Violations      []validator.Violation
	RetryAfterMs    int
	Message         string
}

// ExecutionOutcome is AwaitResult's return shape.
type ExecutionOutcome struct {
	Status          queue.State
	Rows            []map[string]any
	RowCount        int
	ExecutionTimeMs float64
	ErrorKind       gwerrors.Kind
	ErrorMessage    string
}

// Stats is Gateway.Stats's return shape.
type Stats struct {
	Queue    queue.Stats
	Load     LoadSnapshot
	Metrics  metrics.Snapshot
	Circuits map[string]circuit.State
}

// LoadSnapshot is a point-in-time read of admission load.
type LoadSnapshot struct {
	InFlight            int
	Queued              int
	QueriesInLastMinute int
	Level               governor.LoadLevel
}

// Gateway is the constructed pipeline. Create with New and start the
// scheduler with Run.
type Gateway struct {
	policy Policy

	validatorPolicy validator.Policy
	governorPolicy  governor.Policy

	admission *admission.Controller
	queue     *queue.Queue
	circuits  *circuit.Registry
	executor  *timeoutexec.Executor
	metrics   *metrics.Recorder
	audit     *audit.Sink

	uploadExists validator.UploadTableExistsFn
	tableStats   cost.TableStatsFn
	dbExecute    DatabaseExecuteFn

	logger zerolog.Logger
}

// Collaborators bundles the external capabilities the gateway needs to be
// injected with.
type Collaborators struct {
	UploadExists validator.UploadTableExistsFn
	TableStats   cost.TableStatsFn
	DBExecute    DatabaseExecuteFn
	AuditSink    *audit.Sink
	Logger       zerolog.Logger
}

// New constructs a Gateway from policy and its collaborators. It does not
// start the scheduler; call Run for that.
func New(policy Policy, collab Collaborators) *Gateway {
	return &Gateway{
		policy: policy,
		validatorPolicy: validator.Policy{
			EnforceTenantFilter: policy.EnforceTenantFilter,
			EnforceUploadID:     policy.EnforceUploadID,
			MaxRowLimit:         policy.MaxRowLimit,
			MaxJoinCount:        policy.MaxJoinCount,
			DangerousFunctions:  policy.DangerousFunctions,
			UploadPatterns:      policy.UploadPatterns,
		},
		governorPolicy: governor.Policy{
			MaxRowLimit:        policy.MaxRowLimit,
			TenantColumn:       policy.TenantColumn,
			ExecutionTimeoutMs: policy.ExecutionTimeoutMs,
		},
		admission: admission.New(admission.Policy{MaxConcurrent: policy.MaxConcurrent, MaxPerMinute: policy.MaxPerMinute}, nil),
		queue:     queue.New(queue.Policy{MaxQueueSize: policy.MaxQueueSize, MaxConcurrent: policy.MaxConcurrent}),
		circuits: circuit.NewRegistry(circuit.Policy{
			FailureThreshold:  policy.FailureThreshold,
			RecoveryTimeoutMs: policy.RecoveryTimeoutMs,
			HalfOpenMaxProbes: policy.HalfOpenMaxProbes,
		}),
		executor:     timeoutexec.New(),
		metrics:      metrics.NewRecorder(),
		audit:        collab.AuditSink,
		uploadExists: collab.UploadExists,
		tableStats:   collab.TableStats,
		dbExecute:    collab.DBExecute,
		logger:       collab.Logger,
	}
}

// Run starts the scheduler loop and a periodic system_metrics audit
// emitter; it blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	go g.schedulerLoop(ctx)
	g.systemMetricsLoop(ctx)
}

func (g *Gateway) systemMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := g.metrics.Snapshot()
			proc := metrics.CaptureProcessSnapshot()
			if g.audit != nil {
				g.audit.Emit(audit.Record{
					Type:      audit.EventSystemMetrics,
					Timestamp: time.Now(),
					Counters:  &snap,
					Process:   &proc,
				})
			}
		}
	}
}

// SubmitQuery runs the admission pipeline: admission control, shape
// analysis, validation, cost estimation, governance, and enqueue.
func (g *Gateway) SubmitQuery(rawQuery, tenantID string, mode validator.WorkflowMode, priority int) SubmitResult {
	g.metrics.RecordSubmitted()

	decision := g.admission.TryAdmit()
	if !decision.Allowed {
		g.metrics.RecordBlocked()
		reason := ReasonAdmissionConcurrency
		if decision.Reason == admission.ReasonRateLimited {
			reason = ReasonAdmissionRate
		}
		g.emitAttempt(rawQuery, tenantID, true)
		return SubmitResult{Accepted: false, Reason: reason, RetryAfterMs: decision.RetryAfterMs}
	}

	shapeCfg := shape.Config{TenantColumns: g.policy.TenantColumns, UploadPatterns: g.policy.UploadPatterns}
	s, err := shape.Analyze(rawQuery, shapeCfg)
	if err != nil {
		g.metrics.RecordBlocked()
		g.emitAttempt(rawQuery, tenantID, true)
		var malformed *gwerrors.AnalyzerMalformedError
		msg := err.Error()
		if errors.As(err, &malformed) {
			msg = malformed.Error()
		}
		return SubmitResult{Accepted: false, Reason: ReasonAnalyzerMalformed, Message: msg}
	}

	report := validator.Validate(s, tenantID, validator.WorkflowMode(mode), g.validatorPolicy, g.uploadExists)
	if !report.IsValid {
		g.metrics.RecordBlocked()
		g.emitAttempt(rawQuery, tenantID, true)
		return SubmitResult{Accepted: false, Reason: ReasonValidationRejected, Violations: report.Violations}
	}

	estimate := cost.Estimate(s, g.tableStats)
	if estimate.RiskLevel == cost.RiskCritical && g.policy.RejectCritical {
		g.metrics.RecordBlocked()
		g.emitAttempt(rawQuery, tenantID, true)
		return SubmitResult{Accepted: false, Reason: ReasonCostRejectedCritical, Message: "estimated cost risk is critical"}
	}

	load := g.currentLoadLevel()
	govResult := governor.GovernAdaptive(s, rawQuery, tenantID, governor.Mode(mode), g.governorPolicy, load)
	if !govResult.Allowed {
		g.metrics.RecordBlocked()
		g.emitAttempt(rawQuery, tenantID, true)
		return SubmitResult{Accepted: false, Reason: ReasonGovernorRejected, Message: strings.Join(govResult.Errors, "; ")}
	}

	id, waitMs, err := g.queue.Enqueue(govResult.ModifiedQuery, tenantID, string(mode), priority)
	if err != nil {
		g.metrics.RecordBlocked()
		g.emitAttempt(rawQuery, tenantID, true)
		return SubmitResult{Accepted: false, Reason: ReasonQueueFull, Message: err.Error()}
	}

	g.emitAttempt(rawQuery, tenantID, false)
	return SubmitResult{Accepted: true, QueryID: id, EstimatedWaitMs: waitMs}
}

func (g *Gateway) emitAttempt(rawQuery, tenantID string, blocked bool) {
	if g.audit == nil {
		return
	}
	g.audit.Emit(audit.Record{
		Type:        audit.EventQueryAttempt,
		Timestamp:   time.Now(),
		TenantID:    tenantID,
		Blocked:     blocked,
		QueryLength: len(rawQuery),
	})
}

// AwaitResult blocks until queryId reaches a terminal state or waitTimeoutMs
// elapses, whichever first.
func (g *Gateway) AwaitResult(queryID string, waitTimeoutMs int) ExecutionOutcome {
	deadline := time.Now().Add(time.Duration(waitTimeoutMs) * time.Millisecond)
	for {
		item, ok := g.queue.Get(queryID)
		if !ok {
			return ExecutionOutcome{Status: "unknown"}
		}
		if isTerminal(item.State) {
			return outcomeFromItem(item)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ExecutionOutcome{Status: item.State}
		}
		ch := g.queue.Notify()
		select {
		case <-ch:
		case <-time.After(remaining):
		}
	}
}

func isTerminal(s queue.State) bool {
	switch s {
	case queue.StateCompleted, queue.StateFailed, queue.StateTimeout, queue.StateCancelled:
		return true
	default:
		return false
	}
}

func outcomeFromItem(item *queue.Item) ExecutionOutcome {
	out := ExecutionOutcome{Status: item.State}
	if !item.DequeuedAt.IsZero() {
		end := item.CompletedAt
		if end.IsZero() {
			end = time.Now()
		}
		out.ExecutionTimeMs = float64(end.Sub(item.DequeuedAt).Milliseconds())
	}
	if item.Result != nil {
		out.Rows = item.Result.Rows
		out.RowCount = item.Result.RowCount
	}
	if item.Err != nil {
		out.ErrorMessage = item.Err.Error()
		var gwErr interface{ Kind() gwerrors.Kind }
		if errors.As(item.Err, &gwErr) {
			out.ErrorKind = gwErr.Kind()
		}
	}
	return out
}

// Cancel cancels queryId, whether queued or executing.
func (g *Gateway) Cancel(queryID string) bool {
	return g.queue.Cancel(queryID)
}

// Stats returns the combined queue/load/metrics/circuit snapshot.
func (g *Gateway) Stats() Stats {
	qstats := g.queue.Stats()
	return Stats{
		Queue: qstats,
		Load: LoadSnapshot{
			InFlight:            g.admission.InFlight(),
			Queued:              qstats.Queued,
			QueriesInLastMinute: g.admission.RecentSubmissions(),
			Level:               g.currentLoadLevel(),
		},
		Metrics:  g.metrics.Snapshot(),
		Circuits: map[string]circuit.State{breakerScope: g.circuits.State(breakerScope)},
	}
}

// EmergencyStop cancels every executing token and fails every queued item.
func (g *Gateway) EmergencyStop() (cancelledExecuting, cancelledQueued int) {
	executing, queued := g.queue.EmergencyStop()
	if g.audit != nil {
		g.audit.Emit(audit.Record{Type: audit.EventMetricsReset, Timestamp: time.Now()})
	}
	return executing, queued
}

// ResetMetrics zeroes the counters and emits metrics_reset.
func (g *Gateway) ResetMetrics() {
	g.metrics.Reset()
	if g.audit != nil {
		g.audit.Emit(audit.Record{Type: audit.EventMetricsReset, Timestamp: time.Now()})
	}
}

// PerformanceReport returns the on-demand summary with alert flags.
func (g *Gateway) PerformanceReport() metrics.PerformanceReport {
	return g.metrics.Report(time.Now())
}

// currentLoadLevel derives the load snapshot's level from the admission
// controller's in-flight count relative to maxConcurrent: below 25% is low,
// from 25% medium, from 60% high, and from 90% critical.
func (g *Gateway) currentLoadLevel() governor.LoadLevel {
	maxConcurrent := g.policy.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	ratio := float64(g.admission.InFlight()) / float64(maxConcurrent)
	switch {
	case ratio >= 0.9:
		return governor.LoadCritical
	case ratio >= 0.6:
		return governor.LoadHigh
	case ratio >= 0.25:
		return governor.LoadMedium
	default:
		return governor.LoadLow
	}
}

// schedulerLoop repeatedly dequeues and launches executions. It never
// holds the queue's lock while launching work.
func (g *Gateway) schedulerLoop(ctx context.Context) {
	for {
		item, err := g.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		g.admission.EnterExecution()
		g.queue.SetCancelFunc(item.ID, func() { g.executor.Cancel(item.ID) })
		go g.runExecution(ctx, item)
	}
}

func (g *Gateway) runExecution(ctx context.Context, item *queue.Item) {
	defer g.admission.ExitExecution()

	var cancelled bool
	var cancelledErr error

	result, cbErr := g.circuits.Execute(breakerScope, func() (any, error) {
		res, workErr := g.executor.Execute(ctx, item.ID, g.policy.ExecutionTimeoutMs, func(execCtx context.Context) (any, error) {
			rows, rowCount, err := g.dbExecute(execCtx, item.RawQuery, item.TenantID, item.WorkflowMode)
			if err != nil {
				return nil, err
			}
			return queue.ExecResult{Rows: rows, RowCount: rowCount}, nil
		})
		if workErr != nil {
			var cancelErr *gwerrors.CancelledError
			if errors.As(workErr, &cancelErr) {
				// A cancellation is not a breaker failure.
				cancelled = true
				cancelledErr = workErr
				return nil, nil
			}
			return nil, workErr
		}
		return res, nil
	})

	var state queue.State
	var execResult *queue.ExecResult
	var finalErr error

	switch {
	case cancelled:
		state = queue.StateCancelled
		finalErr = cancelledErr
	case cbErr == nil:
		state = queue.StateCompleted
		if r, ok := result.(queue.ExecResult); ok {
			execResult = &r
		}
	default:
		finalErr = cbErr
		var timeoutErr *gwerrors.TimeoutError
		switch {
		case errors.As(cbErr, &timeoutErr):
			state = queue.StateTimeout
			g.metrics.RecordTimeout()
		default:
			state = queue.StateFailed
			g.metrics.RecordFailed()
		}
	}

	g.queue.Complete(item.ID, state, execResult, finalErr)

	if state == queue.StateCompleted {
		executionMs := float64(time.Since(item.DequeuedAt).Milliseconds())
		g.metrics.RecordCompleted(executionMs)
	}
	g.metrics.SetQueueLength(g.queue.Stats().Queued)
	g.metrics.SetInFlight(g.admission.InFlight())

	if g.audit != nil {
		rec := audit.Record{
			Type:        audit.EventQueryExecution,
			Timestamp:   time.Now(),
			QueryID:     item.ID,
			TenantID:    item.TenantID,
			Status:      string(state),
			RowCount:    resultRowCount(execResult),
			QueryLength: len(item.RawQuery),
		}
		if !item.DequeuedAt.IsZero() {
			rec.ExecutionTimeMs = float64(time.Since(item.DequeuedAt).Milliseconds())
		}
		if finalErr != nil {
			rec.Error = finalErr.Error()
		}
		g.audit.Emit(rec)
	}
}

func resultRowCount(r *queue.ExecResult) int {
	if r == nil {
		return 0
	}
	return r.RowCount
}
