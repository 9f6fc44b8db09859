package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agrovale/bbhook/utils"
)

// Queue is the in-process dispatch queue between the ingress endpoint and
// event processing. Enqueue never blocks the caller: when the buffer is
// full the task spills into its own goroutine. Once accepted, a task runs
// to its terminal outcome with no timeout or cancellation.
type Queue struct {
	dispatcher *Dispatcher
	tasks      chan string
	workers    int
	logger     *utils.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	pending sync.WaitGroup

	enqueued  atomic.Int64
	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

type QueueStats struct {
	Enqueued  int64 `json:"enqueued"`
	InFlight  int64 `json:"in_flight"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

func CreateQueue(dispatcher *Dispatcher, workers, bufferSize int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Queue{
		dispatcher: dispatcher,
		tasks:      make(chan string, bufferSize),
		workers:    workers,
		logger:     utils.NewLogger("dispatch-queue"),
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for eventID := range q.tasks {
				q.run(eventID)
				q.pending.Done()
			}
		}()
	}
}

// Enqueue schedules processing of a persisted event. Callers get no result
// back; outcomes are only observable through the event log.
func (q *Queue) Enqueue(eventID string) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn(context.Background(), "enqueue after shutdown, event stays PENDING", map[string]interface{}{
			"event_id": eventID,
		})
		return
	}

	q.enqueued.Add(1)
	q.pending.Add(1)

	select {
	case q.tasks <- eventID:
	default:
		go func() {
			defer q.pending.Done()
			q.run(eventID)
		}()
	}
}

func (q *Queue) run(eventID string) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	// Detached from the request: the HTTP response is long gone.
	ctx := utils.WithCorrelationID(context.Background(), eventID)

	if err := q.dispatcher.Process(ctx, eventID); err != nil {
		q.failed.Add(1)
		return
	}
	q.processed.Add(1)
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued:  q.enqueued.Load(),
		InFlight:  q.inFlight.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}

// Close stops intake and drains everything already accepted.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.pending.Wait()
}
