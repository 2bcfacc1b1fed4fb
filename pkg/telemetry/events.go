package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPublisherStopped = errors.New("event publisher stopped")
	ErrBufferFull       = errors.New("event buffer full, event dropped")
)

// Event is one step in the life of a generation run.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	// Source is workflow, engine, build_check or policy_engine.
	Source string `json:"source"`

	ExecutionID string `json:"execution_id,omitempty"`
	AppID       int64  `json:"app_id,omitempty"`
	Node        string `json:"node,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeNodeStarted        = "node.started"
	EventTypeNodeCompleted      = "node.completed"
	EventTypeNodeFailed         = "node.failed"
	EventTypeForcedPass         = "build.forced_pass"
	EventTypePolicyViolation    = "policy.violation"
)

// Levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

type (
	EventSubscriber func(event Event)
	// EventFilter reports whether an event should be delivered.
	EventFilter func(event Event) bool
)

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans run events out to subscribers. In async mode events
// are queued and one goroutine delivers them in batches, in publish order;
// otherwise Publish delivers before returning.
type EventPublisher struct {
	cfg EventsConfig

	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.RWMutex
	subs    []subscription
	filters []EventFilter
}

// NewEventPublisher returns a publisher. A disabled one accepts and drops
// every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg, stop: make(chan struct{})}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if ep.cfg.MaxBatchSize <= 0 {
		ep.cfg.MaxBatchSize = 1
	}
	if ep.cfg.FlushInterval <= 0 {
		ep.cfg.FlushInterval = time.Second
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.run()
	return ep, nil
}

// Publish stamps event with an ID and time and hands it to subscribers. In
// async mode it never blocks: a full queue drops the event.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !ep.accepts(event) {
		return nil
	}

	select {
	case <-ep.stop:
		return ErrPublisherStopped
	default:
	}
	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

func (ep *EventPublisher) accepts(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, f := range ep.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

func (ep *EventPublisher) PublishExecutionStarted(executionID string, appID int64, generationType string) error {
	return ep.Publish(Event{
		Type: EventTypeExecutionStarted, Source: "workflow", Level: EventLevelInfo,
		ExecutionID: executionID, AppID: appID,
		Message: fmt.Sprintf("Execution %s started for app %d", executionID, appID),
		Data:    map[string]interface{}{"generation_type": generationType},
	})
}

func (ep *EventPublisher) PublishExecutionCompleted(executionID string, appID int64, duration time.Duration) error {
	return ep.Publish(Event{
		Type: EventTypeExecutionCompleted, Source: "workflow", Level: EventLevelInfo,
		ExecutionID: executionID, AppID: appID,
		Message: fmt.Sprintf("Execution %s completed", executionID),
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishExecutionFailed(executionID string, appID int64, reason string) error {
	return ep.Publish(Event{
		Type: EventTypeExecutionFailed, Source: "workflow", Level: EventLevelError,
		ExecutionID: executionID, AppID: appID,
		Message: fmt.Sprintf("Execution %s failed: %s", executionID, reason),
		Data:    map[string]interface{}{"reason": reason},
	})
}

func (ep *EventPublisher) PublishNodeStarted(executionID, node string) error {
	return ep.Publish(Event{
		Type: EventTypeNodeStarted, Source: "engine", Level: EventLevelInfo,
		ExecutionID: executionID, Node: node,
		Message: "Node " + node + " started",
	})
}

func (ep *EventPublisher) PublishNodeCompleted(executionID, node string, duration time.Duration) error {
	return ep.Publish(Event{
		Type: EventTypeNodeCompleted, Source: "engine", Level: EventLevelInfo,
		ExecutionID: executionID, Node: node,
		Message: "Node " + node + " completed",
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishNodeFailed(executionID, node, reason string) error {
	return ep.Publish(Event{
		Type: EventTypeNodeFailed, Source: "engine", Level: EventLevelError,
		ExecutionID: executionID, Node: node,
		Message: fmt.Sprintf("Node %s failed: %s", node, reason),
		Data:    map[string]interface{}{"reason": reason},
	})
}

// PublishForcedPass records a build accepted after the fix budget ran out.
func (ep *EventPublisher) PublishForcedPass(executionID string, retries int, buildErrors []string) error {
	return ep.Publish(Event{
		Type: EventTypeForcedPass, Source: "build_check", Level: EventLevelWarning,
		ExecutionID: executionID, Node: "build_check",
		Message: fmt.Sprintf("Build passed without success after %d fix attempts", retries),
		Data:    map[string]interface{}{"retries": retries, "errors": buildErrors},
	})
}

// PublishPolicyViolation records a denied file write or SQL statement. kind
// is "file" or "sql".
func (ep *EventPublisher) PublishPolicyViolation(executionID, kind, reason string) error {
	return ep.Publish(Event{
		Type: EventTypePolicyViolation, Source: "policy_engine", Level: EventLevelError,
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Policy violation (%s): %s", kind, reason),
		Data:        map[string]interface{}{"kind": kind, "reason": reason},
	})
}

// Subscribe registers fn for the events filter accepts; nil accepts all.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	if ep == nil || !ep.cfg.Enabled {
		return
	}
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

// AddFilter drops events before they reach any subscriber.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	ep.filters = append(ep.filters, filter)
	ep.mu.Unlock()
}

func (ep *EventPublisher) run() {
	defer close(ep.done)

	ticker := time.NewTicker(ep.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.cfg.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}
	for {
		select {
		case e := <-ep.queue:
			if batch = append(batch, e); len(batch) >= ep.cfg.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.stop:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits until queued ones are delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	ep.stopOnce.Do(func() { close(ep.stop) })
	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	min := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= min }
}

func FilterByExecutionID(executionID string) EventFilter {
	return func(e Event) bool { return e.ExecutionID == executionID }
}

func FilterByNode(node string) EventFilter {
	return func(e Event) bool { return e.Node == node }
}
