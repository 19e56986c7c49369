package cleanup

import (
	"sync"
	"time"

	"github.com/tech-arch1tect/bookd/config"
	"github.com/tech-arch1tect/bookd/services/logging"
	"go.uber.org/zap"
)

// Task deletes at most batchSize stale rows and reports how many went.
// The scheduler keeps calling it until a sweep comes back short of the
// batch size, pausing between batches so sweeps never hold long locks.
type Task func(batchSize int) (int64, error)

type Service struct {
	config *config.Config
	logger *logging.Service

	mu    sync.Mutex
	tasks map[string]Task

	stop chan struct{}
	done chan struct{}
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
		tasks:  make(map[string]Task),
	}
}

// Register adds a named sweep. Registering the same name again replaces
// the previous task.
func (s *Service) Register(name string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = task

	if s.logger != nil {
		s.logger.Debug("registered cleanup task", zap.String("task", name))
	}
}

// RunAll executes every registered task once, draining each in batches.
// A failing task is logged and skipped; the others still run.
func (s *Service) RunAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.runTask(name)
	}
}

func (s *Service) runTask(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	batchSize := s.config.Cleanup.BatchSize
	var total int64

	for {
		deleted, err := task(batchSize)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("cleanup task failed",
					zap.String("task", name),
					zap.Error(err))
			}
			return
		}

		total += deleted
		if deleted < int64(batchSize) {
			break
		}

		time.Sleep(s.config.Cleanup.BatchPause)
	}

	if s.logger != nil && total > 0 {
		s.logger.Info("cleanup task completed",
			zap.String("task", name),
			zap.Int64("deleted", total))
	}
}

// Start launches the periodic sweep loop. It returns immediately.
func (s *Service) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.config.Cleanup.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunAll()
			case <-s.stop:
				return
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("started cleanup scheduler",
			zap.Duration("interval", s.config.Cleanup.Interval),
			zap.Int("batch_size", s.config.Cleanup.BatchSize))
	}
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil

	if s.logger != nil {
		s.logger.Info("stopped cleanup scheduler")
	}
}
