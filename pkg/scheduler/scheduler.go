package scheduler

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs registered tasks at their configured interval. Shutdown is
// idempotent and waits for running ticks to return.
type Scheduler interface {
	Startup() error
	Shutdown() error
	Schedule(name string, fn func(), interval time.Duration)
}

type task struct {
	name     string
	fn       func()
	interval time.Duration
}

// TickerScheduler drives every task from its own ticker goroutine.
type TickerScheduler struct {
	logger *zap.Logger

	mu       sync.Mutex
	tasks    []task
	started  bool
	shutdown bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewTickerScheduler(logger *zap.Logger) *TickerScheduler {
	return &TickerScheduler{
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (s *TickerScheduler) Startup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return errors.New("scheduler already shut down")
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	for _, t := range s.tasks {
		s.launch(t)
	}
	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Schedule registers a task. If the scheduler is already running the task
// starts ticking immediately.
func (s *TickerScheduler) Schedule(name string, fn func(), interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		s.logger.Warn("Ignoring task scheduled after shutdown", zap.String("task", name))
		return
	}
	t := task{name: name, fn: fn, interval: interval}
	s.tasks = append(s.tasks, t)
	if s.started {
		s.launch(t)
	}
}

// launch is called with s.mu held.
func (s *TickerScheduler) launch(t task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		s.logger.Debug("Task running", zap.String("task", t.name), zap.Duration("interval", t.interval))
		for {
			select {
			case <-ticker.C:
				t.fn()
			case <-s.stopCh:
				s.logger.Debug("Task stopped", zap.String("task", t.name))
				return
			}
		}
	}()
}

func (s *TickerScheduler) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler shut down")
	return nil
}
