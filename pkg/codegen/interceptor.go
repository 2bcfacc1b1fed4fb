package codegen

import (
	"context"
	"errors"
	"time"

	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/stores"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
)

// intercept traces every node visit and persists its transitions. Subgraph
// invocations pass through; their inner nodes are intercepted one by one.
//
// A node that records a failure in the context and returns normally is
// reported as failed.
func (r *Runner) intercept(ctx context.Context, graph, node string, wc *workflow.Context, next engine.NodeFunc[*workflow.Context]) (*workflow.Context, error) {
	if graph == r.graph.Name() {
		if _, ok := r.graph.Subgraph(node); ok {
			return next(ctx, wc)
		}
	}

	ctx = telemetry.WithNodeContext(ctx, wc.ExecutionID, node)
	r.recordNode(ctx, wc.ExecutionID, node, stores.NodeEventStarted, 0, nil)

	if r.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.nodeTimeout)
		defer cancel()
	}

	before := wc.ErrorMessage
	start := time.Now()
	out, err := next(ctx, wc)
	elapsed := time.Since(start)

	failure := err
	if failure == nil && out != nil && out.ErrorMessage != "" && out.ErrorMessage != before {
		failure = errors.New(out.ErrorMessage)
	}
	telemetry.EndNodeContext(ctx, wc.ExecutionID, node, failure)

	status := stores.NodeEventCompleted
	if failure != nil {
		status = stores.NodeEventFailed
	}
	r.recordNode(ctx, wc.ExecutionID, node, status, elapsed, failure)
	return out, err
}

func (r *Runner) recordNode(ctx context.Context, executionID, node string, status stores.NodeEventStatus, d time.Duration, failure error) {
	if r.recorder == nil {
		return
	}
	ev := &stores.NodeEvent{
		ExecutionID: executionID,
		Node:        node,
		Status:      status,
		Duration:    d,
	}
	if failure != nil {
		msg := failure.Error()
		ev.Error = &msg
	}
	if err := r.recorder.RecordNodeEvent(context.WithoutCancel(ctx), ev); err != nil {
		telemetry.FromContext(ctx).WithNode(node).WithError(err).Warn("failed to record node event")
	}
}
