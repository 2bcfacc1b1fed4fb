package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ExecutorConfig sizes a bounded worker pool.
type ExecutorConfig struct {
	// Name prefixes worker names in logs, e.g. "Parallel-Image-Collect-".
	Name string

	// CoreWorkers are started on demand and stay alive until Shutdown.
	CoreWorkers int

	// MaxWorkers caps the pool once the queue is full.
	MaxWorkers int

	// QueueSize is the number of tasks that may wait for a worker.
	QueueSize int

	// KeepAlive is how long a worker above the core size waits for work
	// before exiting.
	KeepAlive time.Duration
}

// DefaultExecutorConfig returns the pool used for asset collection fan-out.
func DefaultExecutorConfig(name string) ExecutorConfig {
	return ExecutorConfig{
		Name:        name,
		CoreWorkers: 10,
		MaxWorkers:  20,
		QueueSize:   100,
		KeepAlive:   60 * time.Second,
	}
}

// Executor is a bounded worker pool. Tasks go to an idle core worker, then to
// the queue, then to an extra worker up to MaxWorkers; when everything is
// saturated the submitting goroutine runs the task itself.
type Executor struct {
	cfg   ExecutorConfig
	queue chan func()

	mu      sync.Mutex
	workers int
	nextID  int
	closed  bool

	wg sync.WaitGroup
}

// NewExecutor creates an executor, normalising nonsensical sizes.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = 1
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	return &Executor{
		cfg:   cfg,
		queue: make(chan func(), cfg.QueueSize),
	}
}

// Go submits a task. It returns an error only after Shutdown.
func (e *Executor) Go(task func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return NewPermanentError("executor is shut down", nil).
			WithCode(ErrCodeExecutorDown).WithDetail("executor", e.cfg.Name)
	}

	if e.workers < e.cfg.CoreWorkers {
		e.spawn(task, true)
		e.mu.Unlock()
		return nil
	}

	select {
	case e.queue <- task:
		e.mu.Unlock()
		return nil
	default:
	}

	if e.workers < e.cfg.MaxWorkers {
		e.spawn(task, false)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	// Saturated: run on the caller.
	e.runTask(e.cfg.Name+"caller", task)
	return nil
}

// spawn starts a worker. Callers hold e.mu.
func (e *Executor) spawn(first func(), core bool) {
	e.workers++
	e.nextID++
	name := fmt.Sprintf("%s%d", e.cfg.Name, e.nextID)
	e.wg.Add(1)
	go e.work(name, first, core)
}

func (e *Executor) work(name string, first func(), core bool) {
	defer func() {
		e.mu.Lock()
		e.workers--
		e.mu.Unlock()
		e.wg.Done()
	}()

	e.runTask(name, first)

	for {
		if core {
			task, ok := <-e.queue
			if !ok {
				return
			}
			e.runTask(name, task)
			continue
		}

		timer := time.NewTimer(e.cfg.KeepAlive)
		select {
		case task, ok := <-e.queue:
			timer.Stop()
			if !ok {
				return
			}
			e.runTask(name, task)
		case <-timer.C:
			log.Debug().Str("worker", name).Msg("idle worker exiting")
			return
		}
	}
}

func (e *Executor) runTask(worker string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("worker", worker).Interface("panic", r).Msg("task panicked")
		}
	}()
	task()
}

// Workers returns the number of live workers.
func (e *Executor) Workers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers
}

// Shutdown stops accepting tasks, lets queued tasks drain and waits for the
// workers to exit.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}
