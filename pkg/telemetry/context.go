package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is everything a generation run reports to. It travels in the
// request context; the helpers below are no-ops when it is absent.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	// NATS is set when execution events are forwarded.
	NATS   *NATSForwarder
	Config *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every signal. An unreachable NATS
// server is logged and leaves forwarding off.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tel := &Telemetry{Config: cfg}

	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if tel.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}

	if cfg.NATSURL != "" && cfg.Events.Enabled {
		fwd, err := ConnectNATS(cfg.NATSURL, tel.Logger)
		if err != nil {
			tel.Logger.WithError(err).Warn("event forwarding disabled")
			return tel, nil
		}
		fwd.Attach(tel.Events)
		tel.NATS = fwd
	}
	return tel, nil
}

// NewNopTelemetry records nothing. Spans are still created so trace-aware
// code paths run.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{Logger: NewNopLogger(), Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the telemetry in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown delivers queued events before closing NATS, then flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	errs := []error{t.Events.Shutdown(ctx)}
	if t.NATS != nil {
		errs = append(errs, t.NATS.Close())
	}
	errs = append(errs, t.Tracer.Shutdown(ctx))
	return errors.Join(errs...)
}

// InstrumentedContext is one traced operation inside a run.
type InstrumentedContext struct {
	Ctx     context.Context
	Span    trace.Span
	Logger  *Logger
	started time.Time
}

// StartOperation opens a span named operation and a logger carrying the
// operation and trace IDs. Without telemetry only the logger is set.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	ic := &InstrumentedContext{Ctx: ctx, Logger: FromContext(ctx), started: time.Now()}
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ic
	}
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	ic.Span = span
	ic.Logger = withTraceFields(ic.Logger.WithField("operation", operation), span)
	ic.Ctx = ic.Logger.WithContext(spanCtx)
	return ic
}

// End closes the span with err as its status.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		endSpan(ic.Span, err)
	}
}

func (ic *InstrumentedContext) Elapsed() time.Duration {
	return time.Since(ic.started)
}

func withTraceFields(logger *Logger, span trace.Span) *Logger {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return logger
	}
	return logger.WithFields(map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}

// runScope is the open span of an execution or node visit, stored in the
// context between the With and End helpers.
type runScope struct {
	span    trace.Span
	started time.Time
}

type scopeKey string

const (
	executionScope scopeKey = "execution"
	nodeScope      scopeKey = "node"
)

// closeScope ends the span stored under key and returns how long it ran.
func closeScope(ctx context.Context, key scopeKey, err error) time.Duration {
	sc, ok := ctx.Value(key).(*runScope)
	if !ok {
		return 0
	}
	endSpan(sc.span, err)
	return time.Since(sc.started)
}

// WithExecutionContext opens the root span of a run, tags the logger with
// the execution and app, and publishes execution.started.
func WithExecutionContext(ctx context.Context, executionID string, appID int64, generationType string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}
	spanCtx, span := tel.Tracer.StartExecutionSpan(ctx, executionID, appID, generationType)
	logger := withTraceFields(tel.Logger.WithExecutionID(executionID).WithAppID(appID), span)

	tel.Metrics.RecordExecutionStarted(generationType)
	_ = tel.Events.PublishExecutionStarted(executionID, appID, generationType)

	return context.WithValue(logger.WithContext(spanCtx), executionScope, &runScope{span: span, started: time.Now()})
}

// EndExecutionContext closes what WithExecutionContext opened. status is the
// execution status recorded in metrics.
func EndExecutionContext(ctx context.Context, executionID string, appID int64, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	duration := closeScope(ctx, executionScope, err)
	tel.Metrics.RecordExecutionCompleted(status, duration)
	if err != nil {
		_ = tel.Events.PublishExecutionFailed(executionID, appID, err.Error())
		return
	}
	_ = tel.Events.PublishExecutionCompleted(executionID, appID, duration)
}

// WithNodeContext opens the span of one node visit.
func WithNodeContext(ctx context.Context, executionID, node string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}
	spanCtx, span := tel.Tracer.StartNodeSpan(ctx, executionID, node)
	_ = tel.Events.PublishNodeStarted(executionID, node)
	return context.WithValue(FromContext(ctx).WithNode(node).WithContext(spanCtx), nodeScope, &runScope{span: span, started: time.Now()})
}

// EndNodeContext closes a node visit and returns its duration.
func EndNodeContext(ctx context.Context, executionID, node string, err error) time.Duration {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return 0
	}
	duration := closeScope(ctx, nodeScope, err)
	status := "success"
	if err != nil {
		status = "failure"
		_ = tel.Events.PublishNodeFailed(executionID, node, err.Error())
	} else {
		_ = tel.Events.PublishNodeCompleted(executionID, node, duration)
	}
	tel.Metrics.RecordNodeExecution(node, status, duration)
	return duration
}

// RecordModelOperation runs fn inside a model span and records the call.
func RecordModelOperation(ctx context.Context, backend, operation string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}
	spanCtx, span := tel.Tracer.StartModelSpan(ctx, backend, operation)
	started := time.Now()
	err := fn(spanCtx)
	tel.Metrics.RecordModelCall(backend, operation, time.Since(started), err)
	endSpan(span, err)
	return err
}
