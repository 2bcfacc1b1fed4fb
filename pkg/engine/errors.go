package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller whether retrying can help.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassThrottled ErrorClass = "throttled"
	ErrorClassConflict  ErrorClass = "conflict"
	// ErrorClassPermanent covers graph defects: construction errors and
	// unmapped routes are always permanent.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes raised by the graph engine.
const (
	ErrCodeInvalidGraph  = "INVALID_GRAPH"
	ErrCodeUnmappedRoute = "UNMAPPED_ROUTE"
	ErrCodeUnknownNode   = "UNKNOWN_NODE"
	ErrCodeStepLimit     = "STEP_LIMIT"
	ErrCodeNodeFailed    = "NODE_FAILED"
	ErrCodeNodeTimeout   = "NODE_TIMEOUT"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeExecutorDown  = "EXECUTOR_SHUTDOWN"
)

// EngineError is a classified failure raised while compiling or running a
// graph.
//
//nolint:revive // distinguishes engine failures from node errors
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`
	// Graph and Node locate the failure; Graph names the subgraph when the
	// failure happened inside one.
	Graph   string                 `json:"graph,omitempty"`
	Node    string                 `json:"node,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	var at []string
	if e.Graph != "" {
		at = append(at, "graph="+e.Graph)
	}
	if e.Node != "" {
		at = append(at, "node="+e.Node)
	}
	if len(at) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(at, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

func (e *EngineError) WithGraph(graph string) *EngineError {
	e.Graph = graph
	return e
}

func (e *EngineError) WithNode(node string) *EngineError {
	e.Node = node
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == class
}

func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }
func IsThrottled(err error) bool { return hasClass(err, ErrorClassThrottled) }
func IsConflict(err error) bool  { return hasClass(err, ErrorClassConflict) }
func IsPermanent(err error) bool { return hasClass(err, ErrorClassPermanent) }

// IsRetryable reports whether running the same request again may succeed.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// HasCode reports whether err is an EngineError carrying code.
func HasCode(err error, code string) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == code
}
