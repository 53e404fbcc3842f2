package dispatch

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/observability"
)

const (
	maxRetries    = 3
	retryStep     = 2 * time.Second
	actionTimeout = 15 * time.Second
	queueDepth    = 64
)

// Task is one platform action awaiting execution.
type Task struct {
	Name   string
	UserID int64
	Run    func(ctx context.Context) error
}

// Dispatcher executes platform actions asynchronously so slow external calls
// never block message processing. Actions for the same user run on one queue
// in submission order; unrelated users proceed in parallel.
type Dispatcher struct {
	mutex   sync.Mutex
	queues  map[int64]chan Task
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
	enabled bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{queues: map[int64]chan Task{}}
}

func (d *Dispatcher) Start(_ context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.enabled {
		return nil
	}
	d.runCtx, d.cancel = context.WithCancel(context.Background())
	d.enabled = true
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mutex.Lock()
	if !d.enabled {
		d.mutex.Unlock()
		return nil
	}
	d.enabled = false
	d.cancel()
	for _, queue := range d.queues {
		close(queue)
	}
	d.queues = map[int64]chan Task{}
	d.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands a task to the user's queue, spawning the queue worker on
// first use. A full queue drops the task with a logged failure rather than
// blocking the caller.
func (d *Dispatcher) Enqueue(task Task) {
	d.mutex.Lock()
	if !d.enabled {
		d.mutex.Unlock()
		log.WithField("action", task.Name).Warn("dispatcher stopped, dropping action")
		observability.RecordDispatchFailure(task.Name)
		return
	}
	queue, ok := d.queues[task.UserID]
	if !ok {
		queue = make(chan Task, queueDepth)
		d.queues[task.UserID] = queue
		d.wg.Add(1)
		go d.drain(queue)
	}
	// The send stays under the lock so Stop cannot close the queue mid-send.
	select {
	case queue <- task:
	default:
		log.WithField("action", task.Name).WithField("user_id", task.UserID).Error("action queue full, dropping")
		observability.RecordDispatchFailure(task.Name)
	}
	d.mutex.Unlock()
}

func (d *Dispatcher) drain(queue chan Task) {
	defer d.wg.Done()
	for task := range queue {
		d.execute(task)
	}
}

// execute retries the task a bounded number of times. A final timeout means
// "action not confirmed": bookkeeping already done by the caller stands, and
// the discrepancy is logged for operator follow-up.
func (d *Dispatcher) execute(task Task) {
	entry := log.WithField("action", task.Name).WithField("user_id", task.UserID)
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-d.runCtx.Done():
				entry.Warn("shutdown before action confirmed")
				observability.RecordDispatchFailure(task.Name)
				return
			case <-time.After(time.Duration(attempt) * retryStep):
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		err = task.Run(ctx)
		cancel()
		if err == nil {
			return
		}
		entry.WithError(err).WithField("attempt", attempt).Warn("action attempt failed")
	}
	entry.WithError(err).Error("action not confirmed after retries")
	observability.RecordDispatchFailure(task.Name)
}
