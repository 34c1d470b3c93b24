package session

import (
	"context"
	"sync"
	"time"
)

// Scheduler owns one background rotation task per session. Each task has its
// own ticker and cancel; Cancel is idempotent and safe against a tick firing
// concurrently with session end.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	cancel context.CancelFunc
	once   sync.Once
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Start launches a periodic task for the session. The tick func returns
// false to stop the task (for example when the session is no longer
// rotating). Starting an id that already has a task replaces the old one.
func (s *Scheduler) Start(sessionID string, every time.Duration, tick func(ctx context.Context) bool) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel}

	s.mu.Lock()
	if old, ok := s.tasks[sessionID]; ok {
		old.stop()
	}
	s.tasks[sessionID] = t
	s.mu.Unlock()

	go func() {
		defer s.remove(sessionID, t)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !tick(ctx) {
					return
				}
			}
		}
	}()
}

// Cancel stops the session's task if one is running. Cancelling twice, or
// cancelling an unknown id, is a no-op.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	t, ok := s.tasks[sessionID]
	s.mu.Unlock()
	if ok {
		t.stop()
	}
}

// CancelAll stops every task; used on shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		t.stop()
	}
}

// Active returns the number of live tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) remove(sessionID string, t *task) {
	s.mu.Lock()
	if cur, ok := s.tasks[sessionID]; ok && cur == t {
		delete(s.tasks, sessionID)
	}
	s.mu.Unlock()
}

func (t *task) stop() {
	t.once.Do(t.cancel)
}
