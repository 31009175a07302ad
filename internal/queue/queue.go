// Package queue implements the gateway's bounded, in-memory priority queue
// (spec §4.6): FIFO within equal priority, lower numeric priority scheduled
// first, with an owning exclusive transition queued → executing →
// {completed|failed|timeout|cancelled} (spec §3's ownership invariants).
//
// The pack offers no bounded-priority-queue library that matches this exact
// contract (capacity, per-item cancellation, rolling wait/exec averages),
// so the heap itself is built on stdlib container/heap — the teacher's own
// code leans on stdlib data structures wherever one fits, and this is
// exactly that kind of case; see DESIGN.md.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nethalo/queryguard/internal/gwerrors"
)

// State is a QueueItem's lifecycle state (spec §3).
type State string

const (
	StateQueued    State = "queued"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimeout   State = "timeout"
	StateCancelled State = "cancelled"
)

// ExecResult is the opaque result shape handed back from the database
// capability, stored on a completed QueueItem.
type ExecResult struct {
	Rows     []map[string]any
	RowCount int
}

// Item is one queued unit of work (spec §3's QueueItem).
type Item struct {
	ID           string
	RawQuery     string
	TenantID     string
	WorkflowMode string
	Priority     int
	State        State
	SubmittedAt  time.Time
	DequeuedAt   time.Time
	CompletedAt  time.Time
	Result       *ExecResult
	Err          error

	// Cancel, when non-nil, triggers the execution's cancellation token.
	// Set by the orchestrator once the item starts executing.
	Cancel context.CancelFunc

	seq int // insertion sequence, for FIFO tie-break within equal priority
}

// Policy carries the configurable knobs from spec §6.
type Policy struct {
	MaxQueueSize  int
	MaxConcurrent int
}

// DefaultPolicy returns spec §6's defaults.
func DefaultPolicy() Policy {
	return Policy{MaxQueueSize: 50, MaxConcurrent: 10}
}

// Stats is the snapshot returned by Queue.Stats().
type Stats struct {
	Queued            int
	Executing         int
	Completed         int
	Failed            int
	Timeout           int
	Cancelled         int
	AverageWaitMs     float64
	AverageExecutionMs float64
}

// Queue is the bounded in-memory priority queue. Safe for concurrent use.
type Queue struct {
	policy Policy

	mu        sync.Mutex
	heap      itemHeap
	byID      map[string]*Item
	executing map[string]*Item
	completed []*Item // bounded ring, oldest first
	seq       int

	waitSamples []time.Duration
	execSamples []time.Duration

	signal chan struct{}

	// state-count tallies across terminal transitions, since completed is trimmed
	terminalCounts map[State]int
}

const completedCap = 100
const rollingWaitSamples = 50
const rollingExecSamples = 100

// New creates an empty Queue.
func New(policy Policy) *Queue {
	return &Queue{
		policy:         policy,
		byID:           make(map[string]*Item),
		executing:      make(map[string]*Item),
		signal:         make(chan struct{}),
		terminalCounts: make(map[State]int),
	}
}

// Enqueue adds item to the queue, returning its id and an estimated wait.
// Fails with *gwerrors.QueueFullError when at capacity.
func (q *Queue) Enqueue(rawQuery, tenantID, workflowMode string, priority int) (id string, estimatedWaitMs int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	maxQueueSize := q.policy.MaxQueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = 50
	}
	if len(q.heap) >= maxQueueSize {
		return "", 0, &gwerrors.QueueFullError{Capacity: maxQueueSize}
	}

	item := &Item{
		ID:           uuid.NewString(),
		RawQuery:     rawQuery,
		TenantID:     tenantID,
		WorkflowMode: workflowMode,
		Priority:     priority,
		State:        StateQueued,
		SubmittedAt:  time.Now(),
		seq:          q.seq,
	}
	q.seq++

	heap.Push(&q.heap, item)
	q.byID[item.ID] = item
	q.broadcastLocked()

	position := q.positionLocked(item)
	wait := q.estimateWaitLocked(position)
	return item.ID, wait, nil
}

// TryDequeue pops the highest-priority item if one is available and the
// executing set has capacity. It does not block.
func (q *Queue) TryDequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryDequeueLocked()
}

func (q *Queue) tryDequeueLocked() (*Item, bool) {
	maxConcurrent := q.policy.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if len(q.heap) == 0 || len(q.executing) >= maxConcurrent {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*Item)
	item.State = StateExecuting
	item.DequeuedAt = time.Now()
	q.executing[item.ID] = item
	q.waitSamples = appendBounded(q.waitSamples, item.DequeuedAt.Sub(item.SubmittedAt), rollingWaitSamples)
	return item, true
}

// Dequeue blocks until an item is available and the executing set has
// capacity, or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		q.mu.Lock()
		item, ok := q.tryDequeueLocked()
		ch := q.signal
		q.mu.Unlock()
		if ok {
			return item, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Complete transitions an executing item to a terminal state and removes it
// from the executing set into the bounded completed set.
func (q *Queue) Complete(id string, state State, result *ExecResult, execErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.executing[id]
	if !ok {
		return
	}
	delete(q.executing, id)
	item.State = state
	item.CompletedAt = time.Now()
	item.Result = result
	item.Err = execErr
	q.execSamples = appendBounded(q.execSamples, item.CompletedAt.Sub(item.DequeuedAt), rollingExecSamples)
	q.terminalCounts[state]++

	q.completed = append(q.completed, item)
	if len(q.completed) > completedCap {
		evicted := q.completed[0]
		delete(q.byID, evicted.ID)
		q.completed = q.completed[1:]
	}
	q.broadcastLocked()
}

// Cancel transitions a queued item to cancelled and evicts it, or triggers
// the cancellation token of an already-executing item. Returns whether the
// id was found in either set.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	if idx, ok := q.heap.indexOf(id); ok {
		item := heap.Remove(&q.heap, idx).(*Item)
		item.State = StateCancelled
		item.CompletedAt = time.Now()
		q.terminalCounts[StateCancelled]++
		q.completed = append(q.completed, item)
		if len(q.completed) > completedCap {
			evicted := q.completed[0]
			delete(q.byID, evicted.ID)
			q.completed = q.completed[1:]
		}
		q.broadcastLocked()
		q.mu.Unlock()
		return true
	}
	if item, ok := q.executing[id]; ok {
		cancel := item.Cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	}
	q.mu.Unlock()
	return false
}

// Notify returns the current broadcast channel; it closes the next time any
// enqueue/complete/cancel mutates the queue, waking anyone selecting on it.
func (q *Queue) Notify() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signal
}

// Get returns the item for id, looking across all three owning sets.
func (q *Queue) Get(id string) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.byID[id]; ok {
		return item, true
	}
	if item, ok := q.executing[id]; ok {
		return item, true
	}
	return nil, false
}

// SetCancelFunc attaches the cancellation function for an executing item so
// Cancel and EmergencyStop can trigger it later.
func (q *Queue) SetCancelFunc(id string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.executing[id]; ok {
		item.Cancel = cancel
	}
}

// EstimateWait returns spec §4.6's wait estimate for a still-queued item.
func (q *Queue) EstimateWait(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok || item.State != StateQueued {
		return 0, false
	}
	position := q.positionLocked(item)
	return q.estimateWaitLocked(position), true
}

func (q *Queue) positionLocked(item *Item) int {
	position := 0
	for _, other := range q.heap {
		if lessItem(other, item) || other == item {
			position++
		}
	}
	return position
}

func (q *Queue) estimateWaitLocked(position int) int {
	maxConcurrent := q.policy.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	availableSlots := maxConcurrent - len(q.executing)
	if availableSlots < 0 {
		availableSlots = 0
	}
	avgExec := q.averageExecutionLocked()
	remaining := position - availableSlots
	if remaining < 0 {
		remaining = 0
	}
	wait := float64(remaining) * (avgExec / float64(maxConcurrent))
	if wait < 100 {
		wait = 100
	}
	return int(wait)
}

func (q *Queue) averageExecutionLocked() float64 {
	if len(q.execSamples) == 0 {
		return 1000
	}
	var total time.Duration
	for _, d := range q.execSamples {
		total += d
	}
	return float64(total) / float64(time.Millisecond) / float64(len(q.execSamples))
}

func (q *Queue) averageWaitLocked() float64 {
	if len(q.waitSamples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range q.waitSamples {
		total += d
	}
	return float64(total.Milliseconds()) / float64(len(q.waitSamples))
}

// Stats returns per-state counts and the two rolling averages.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:             len(q.heap),
		Executing:          len(q.executing),
		Completed:          q.terminalCounts[StateCompleted],
		Failed:             q.terminalCounts[StateFailed],
		Timeout:            q.terminalCounts[StateTimeout],
		Cancelled:          q.terminalCounts[StateCancelled],
		AverageWaitMs:      q.averageWaitLocked(),
		AverageExecutionMs: q.averageExecutionLocked(),
	}
}

// EmergencyStop cancels every executing token and fails every queued item,
// returning the counts affected.
func (q *Queue) EmergencyStop() (cancelledExecuting, cancelledQueued int) {
	q.mu.Lock()
	var cancels []context.CancelFunc
	for _, item := range q.executing {
		if item.Cancel != nil {
			cancels = append(cancels, item.Cancel)
		}
		cancelledExecuting++
	}

	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*Item)
		item.State = StateFailed
		item.CompletedAt = time.Now()
		item.Err = fmt.Errorf("system emergency stop")
		q.terminalCounts[StateFailed]++
		q.completed = append(q.completed, item)
		if len(q.completed) > completedCap {
			evicted := q.completed[0]
			delete(q.byID, evicted.ID)
			q.completed = q.completed[1:]
		}
		cancelledQueued++
	}
	q.broadcastLocked()
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return cancelledExecuting, cancelledQueued
}

func (q *Queue) broadcastLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func appendBounded(samples []time.Duration, d time.Duration, max int) []time.Duration {
	samples = append(samples, d)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

// itemHeap implements container/heap.Interface, ordering ascending by
// priority then by insertion sequence (FIFO within equal priority).
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool { return lessItem(h[i], h[j]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*Item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func (h itemHeap) indexOf(id string) (int, bool) {
	for i, item := range h {
		if item.ID == id {
			return i, true
		}
	}
	return 0, false
}

func lessItem(a, b *Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}
