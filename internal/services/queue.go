package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

// Queue runs at most maxConcurrent tasks; the rest wait in FIFO order.
// Finishing, failing, or cancelling a task backfills from the waiting list.
type Queue struct {
	mu            sync.Mutex
	maxConcurrent int
	waiting       []*queuedTask
	active        map[string]context.CancelFunc
}

type queuedTask struct {
	id  string
	run func(ctx context.Context)
}

// DownloadQueue is the process-wide download scheduler, created in main.
var DownloadQueue *Queue

func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]context.CancelFunc),
	}
}

// Enqueue registers a task and starts it immediately when capacity allows.
// Returns the 1-based waiting position, 0 when started at once.
func (q *Queue) Enqueue(id string, run func(ctx context.Context)) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) >= config.MaxQueueSize {
		return 0, fmt.Errorf("queue is full (%d waiting)", len(q.waiting))
	}

	q.waiting = append(q.waiting, &queuedTask{id: id, run: run})
	q.scheduleLocked()

	if _, started := q.active[id]; started {
		return 0, nil
	}
	// Position is read after scheduling so drained entries don't inflate it.
	for i, t := range q.waiting {
		if t.id == id {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Cancel removes a waiting task or cancels an active one. Reports whether
// the id was known to the queue.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.waiting {
		if t.id == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			log.Printf("[Queue] Removed waiting task %s", util.ShortID(id))
			return true
		}
	}

	if cancel, ok := q.active[id]; ok {
		cancel()
		return true
	}
	return false
}

func (q *Queue) Counts() (active, waiting int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active), len(q.waiting)
}

func (q *Queue) scheduleLocked() {
	for len(q.active) < q.maxConcurrent && len(q.waiting) > 0 {
		task := q.waiting[0]
		q.waiting = q.waiting[1:]

		ctx, cancel := context.WithCancel(context.Background())
		q.active[task.id] = cancel

		go func(t *queuedTask, ctx context.Context, cancel context.CancelFunc) {
			defer func() {
				cancel()
				q.mu.Lock()
				delete(q.active, t.id)
				q.scheduleLocked()
				q.mu.Unlock()
			}()
			t.run(ctx)
		}(task, ctx, cancel)
	}
}
