package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parishems/compliance/internal/services"
)

var (
	ErrQueueNotStarted = errors.New("evaluation queue not started")
	ErrQueueStopped    = errors.New("evaluation queue stopped")
	ErrQueueFull       = errors.New("evaluation queue full")
)

// Evaluator evaluates one stored call.
type Evaluator interface {
	EvaluateCall(ctx context.Context, callID uint, opts services.EvaluateOptions) (*services.EvaluationResult, error)
}

// Task is one queued evaluation. Done is closed once the evaluation has run.
type Task struct {
	ID       string
	CallID   uint
	Enqueued time.Time

	done   chan struct{}
	result *services.EvaluationResult
	err    error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the evaluation result. It is only meaningful after Done is closed.
func (t *Task) Result() (*services.EvaluationResult, error) {
	return t.result, t.err
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (*services.EvaluationResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueStats exposes current queue metrics.
type QueueStats struct {
	Length    int    `json:"length"`
	Capacity  int    `json:"capacity"`
	Workers   int    `json:"workers"`
	Submitted uint64 `json:"submitted"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Excluded  uint64 `json:"excluded"`
}

// EvaluationQueue is a bounded queue of call evaluations drained by a fixed
// worker pool. Submitting never blocks; a full queue rejects the task and the
// backlog sweep picks the call up later.
type EvaluationQueue struct {
	evaluator Evaluator
	tasks     chan *Task
	workers   int
	timeout   time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	submitted uint64
	processed uint64
	failed    uint64
	dropped   uint64
	excluded  uint64
}

// NewEvaluationQueue creates a queue holding up to capacity pending tasks.
func NewEvaluationQueue(evaluator Evaluator, capacity, workers int, timeout time.Duration) *EvaluationQueue {
	if capacity <= 0 {
		capacity = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &EvaluationQueue{
		evaluator: evaluator,
		tasks:     make(chan *Task, capacity),
		workers:   workers,
		timeout:   timeout,
	}
}

// Start launches the worker pool.
func (q *EvaluationQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	log.Printf("Evaluation queue started with %d workers (capacity %d)", q.workers, cap(q.tasks))
}

// Submit queues an evaluation of callID and returns its task.
func (q *EvaluationQueue) Submit(callID uint) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started {
		return nil, ErrQueueNotStarted
	}
	if q.stopped {
		return nil, ErrQueueStopped
	}

	task := &Task{
		ID:       uuid.NewString(),
		CallID:   callID,
		Enqueued: time.Now(),
		done:     make(chan struct{}),
	}
	select {
	case q.tasks <- task:
		atomic.AddUint64(&q.submitted, 1)
		return task, nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		return nil, fmt.Errorf("%w: dropping call %d", ErrQueueFull, callID)
	}
}

// Enqueue implements services.EvaluationTrigger.
func (q *EvaluationQueue) Enqueue(callID uint) error {
	_, err := q.Submit(callID)
	return err
}

// Stop stops accepting tasks and waits for workers to drain until ctx is done.
// Tasks still buffered after that finish with ErrQueueStopped.
func (q *EvaluationQueue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Evaluation queue drained")
	case <-ctx.Done():
		log.Printf("Evaluation queue stop timed out with %d tasks pending", len(q.tasks))
	}
	if n := q.abandonPending(); n > 0 {
		log.Printf("Evaluation queue abandoned %d pending tasks", n)
	}
}

// abandonPending finishes every task left in the closed buffer with
// ErrQueueStopped so their waiters are released.
func (q *EvaluationQueue) abandonPending() int {
	n := 0
	for task := range q.tasks {
		task.err = ErrQueueStopped
		close(task.done)
		atomic.AddUint64(&q.dropped, 1)
		n++
	}
	return n
}

// Stats returns current queue metrics.
func (q *EvaluationQueue) Stats() QueueStats {
	return QueueStats{
		Length:    len(q.tasks),
		Capacity:  cap(q.tasks),
		Workers:   q.workers,
		Submitted: atomic.LoadUint64(&q.submitted),
		Processed: atomic.LoadUint64(&q.processed),
		Failed:    atomic.LoadUint64(&q.failed),
		Dropped:   atomic.LoadUint64(&q.dropped),
		Excluded:  atomic.LoadUint64(&q.excluded),
	}
}

// Healthy returns true if the queue is accepting tasks.
func (q *EvaluationQueue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.stopped
}

func (q *EvaluationQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(ctx, task)
		}
	}
}

func (q *EvaluationQueue) run(ctx context.Context, task *Task) {
	start := time.Now()
	defer close(task.done)
	defer func() {
		if r := recover(); r != nil {
			task.err = fmt.Errorf("evaluation panicked: %v", r)
			atomic.AddUint64(&q.failed, 1)
			log.Printf("Evaluation task %s for call %d panic recovered: %v", task.ID, task.CallID, r)
		}
	}()

	taskCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	task.result, task.err = q.evaluator.EvaluateCall(taskCtx, task.CallID, services.EvaluateOptions{})
	atomic.AddUint64(&q.processed, 1)

	status := "error"
	switch {
	case task.err != nil:
		atomic.AddUint64(&q.failed, 1)
		status = task.err.Error()
	case task.result != nil:
		status = string(task.result.Outcome)
		if task.result.Outcome == services.OutcomeExcluded {
			atomic.AddUint64(&q.excluded, 1)
		}
	}
	log.Printf("Evaluation task %s call=%d duration_ms=%d outcome=%s",
		task.ID, task.CallID, time.Since(start).Milliseconds(), status)
}
