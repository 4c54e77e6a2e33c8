// Package mainthread provides the task queue that stands in for the host's
// main/render context. Workers submit closures, the host drains them once per tick.
package mainthread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Queue struct {
	log   *logrus.Logger
	mu    sync.Mutex
	tasks []func()
}

func New(log *logrus.Logger) *Queue {
	return &Queue{log: log}
}

// Submit enqueues a task. It never blocks and is safe to call from any goroutine.
func (q *Queue) Submit(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// Drain runs every task queued before the call, in submission order, and
// returns the number of tasks run. Tasks submitted while draining wait for the next tick.
func (q *Queue) Drain() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		q.run(task)
	}
	return len(tasks)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			q.log.Error(fmt.Errorf("main thread task panicked: %v", rec))
		}
	}()
	task()
}

// Run drains the queue every tick until ctx is done, then drains one last time.
func (q *Queue) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Drain()
			return
		case <-ticker.C:
			q.Drain()
		}
	}
}
