package workflow

import (
	"fmt"
	"sync"

	"github.com/codemother/codemother/pkg/engine"
)

// Sink is the output side of one execution's stream. Producers call Next from
// any goroutine without blocking; a pump goroutine delivers chunks to C in the
// order they were accepted. Complete and Error end the stream, whichever comes
// first wins.
type Sink struct {
	out chan string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	finished bool
	err      error

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// NewSink creates a sink and starts its pump.
func NewSink() *Sink {
	s := &Sink{
		out:       make(chan string),
		cancelled: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C returns the channel chunks are delivered on. It is closed once the stream
// finished and every accepted chunk was delivered, or the consumer cancelled.
func (s *Sink) C() <-chan string {
	return s.out
}

// Err returns the terminal error, if any. It is meaningful after C is closed.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next queues a chunk. It returns false once the stream is finished or the
// consumer went away.
func (s *Sink) Next(chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.isCancelled() {
		return false
	}
	s.queue = append(s.queue, chunk)
	s.cond.Signal()
	return true
}

// Complete ends the stream successfully.
func (s *Sink) Complete() bool {
	return s.finish(nil)
}

// Error ends the stream with err.
func (s *Sink) Error(err error) bool {
	return s.finish(err)
}

func (s *Sink) finish(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	s.err = err
	s.cond.Signal()
	return true
}

// Cancel is called when the consumer disconnects. Pending chunks are dropped
// and C is closed.
func (s *Sink) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelled)
		s.mu.Lock()
		s.queue = nil
		s.cond.Signal()
		s.mu.Unlock()
	})
}

func (s *Sink) isCancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

func (s *Sink) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.finished && !s.isCancelled() {
			s.cond.Wait()
		}
		if s.isCancelled() || (len(s.queue) == 0 && s.finished) {
			s.mu.Unlock()
			return
		}
		chunk := s.queue[0]
		s.queue[0] = ""
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- chunk:
		case <-s.cancelled:
			return
		}
	}
}

// Registry maps execution ids to sinks. It is the only structure shared
// between concurrent executions.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]*Sink
}

// DefaultRegistry is the process-wide registry used when a Context is created
// without one.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]*Sink)}
}

// ErrCodeSinkExists is the code of a Register call for an execution id that
// is already taken.
const ErrCodeSinkExists = "SINK_EXISTS"

// Register stores sink under executionID.
func (r *Registry) Register(executionID string, sink *Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[executionID]; exists {
		return engine.NewConflictError(fmt.Sprintf("sink already registered for %s", executionID), nil).
			WithCode(ErrCodeSinkExists).
			WithDetail("execution_id", executionID)
	}
	r.sinks[executionID] = sink
	return nil
}

// Unregister removes the sink for executionID. Unknown ids are ignored.
func (r *Registry) Unregister(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, executionID)
}

// Lookup returns the sink registered for executionID.
func (r *Registry) Lookup(executionID string) (*Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[executionID]
	return s, ok
}

// Emit pushes chunk to the sink of executionID. With no sink registered it
// does nothing and returns false.
func (r *Registry) Emit(executionID, chunk string) bool {
	s, ok := r.Lookup(executionID)
	if !ok {
		return false
	}
	return s.Next(chunk)
}

// Len returns the number of registered sinks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
