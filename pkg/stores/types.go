package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ExecutionStatus represents the status of a workflow execution
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// NodeEventStatus represents one node transition
type NodeEventStatus string

const (
	NodeEventStarted   NodeEventStatus = "started"
	NodeEventCompleted NodeEventStatus = "completed"
	NodeEventFailed    NodeEventStatus = "failed"
)

// Chat roles.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// Execution is one run of the code generation workflow.
type Execution struct {
	ID             string          `json:"id"`
	AppID          int64           `json:"app_id"`
	Prompt         string          `json:"prompt"`
	GenerationType string          `json:"generation_type"`
	Status         ExecutionStatus `json:"status"`
	ForcedPass     bool            `json:"forced_pass"`
	FixRetryCount  int             `json:"fix_retry_count"`
	Error          *string         `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionOutcome is what FinishExecution records.
type ExecutionOutcome struct {
	Status        ExecutionStatus
	ForcedPass    bool
	FixRetryCount int
	Error         string
}

// NodeEvent is an append-only record of a node transition.
type NodeEvent struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Node        string          `json:"node"`
	Status      NodeEventStatus `json:"status"`
	Duration    time.Duration   `json:"duration"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ChatMessage is one entry of an app's conversation.
type ChatMessage struct {
	ID        int64     `json:"id"`
	AppID     int64     `json:"app_id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatHistory loads and records chat messages per app. LoadRecent returns
// at most limit messages, oldest first.
type ChatHistory interface {
	LoadRecent(ctx context.Context, appID int64, limit int) ([]ChatMessage, error)
	Append(ctx context.Context, appID int64, role, text string) error
}

// ExecutionRecorder persists executions and their node transitions.
type ExecutionRecorder interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	FinishExecution(ctx context.Context, id string, outcome ExecutionOutcome) error
	RecordNodeEvent(ctx context.Context, event *NodeEvent) error
}

// Store defines the interface for the persistence layer
type Store interface {
	ChatHistory
	ExecutionRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, appID int64, limit, offset int) ([]*Execution, error)
	ListNodeEvents(ctx context.Context, executionID string) ([]*NodeEvent, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
