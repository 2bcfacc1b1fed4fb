package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// blocking reports whether a violation of severity s denies the operation.
func (s Severity) blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Input kinds understood by the built-in policies.
const (
	KindFile = "file"
	KindSQL  = "sql"
)

// File actions checked by the file guard.
const (
	ActionWrite  = "write"
	ActionModify = "modify"
	ActionDelete = "delete"
)

// Policy represents a policy rule with its Rego code. Every policy exposes a
// deny set in its package; each element is a message string or an object with
// message and severity.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`

	// Kinds restricts the inputs the policy sees. Empty means every kind.
	Kinds []string `json:"kinds,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the document handed to every policy as input.
type Input struct {
	// Kind is KindFile or KindSQL.
	Kind  string `json:"kind"`
	AppID int64  `json:"app_id,omitempty"`

	// File changes.
	Action string `json:"action,omitempty"`
	Path   string `json:"path,omitempty"`

	// SQL statements.
	SQL      string   `json:"sql,omitempty"`
	Category string   `json:"category,omitempty"`
	Verb     string   `json:"verb,omitempty"`
	Tables   []string `json:"tables,omitempty"`
}

func (p *Policy) appliesTo(kind string) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating all enabled policies against one input.
type Decision struct {
	// Allowed is false when any violation has error or critical severity.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation failures and non-blocking violations.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// DeniedError is returned by the guards when a decision denies an operation.
type DeniedError struct {
	Input      Input
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Severity.blocking() {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("%s operation denied", e.Input.Kind)
	}
	return strings.Join(msgs, "; ")
}
