package codegen

import (
	"github.com/codemother/codemother/pkg/engine"
	"github.com/codemother/codemother/pkg/workflow"
)

// Route keys returned by the route functions.
const (
	RouteCreate          = "create"
	RouteLeetCodeCreate  = "leetcode_create"
	RouteInterviewCreate = "interview_create"
	RouteExistingCode    = "existing_code"
	RouteModify          = "modify"
	RouteQA              = "qa"
	RouteExecuteSQL      = "execute_sql"
	RouteSkipSQL         = "skip_sql"
	RouteFix             = "fix"
	RoutePass            = "pass"
)

// RouteMode sends CREATE runs to the subgraph of their generation type and
// everything else to the existing code subgraph.
func RouteMode(wc *workflow.Context) string {
	if wc.OperationMode != workflow.ModeCreate {
		return RouteExistingCode
	}
	switch wc.GenerationType {
	case workflow.GenerationLeetCode:
		return RouteLeetCodeCreate
	case workflow.GenerationInterview:
		return RouteInterviewCreate
	default:
		return RouteCreate
	}
}

// RouteIntent splits questions from modification requests.
func RouteIntent(wc *workflow.Context) string {
	if wc.IntentType == workflow.IntentQA {
		return RouteQA
	}
	return RouteModify
}

// RoutePlan executes SQL only when the app has a database and the plan
// carries statements.
func RoutePlan(wc *workflow.Context) string {
	if wc.DatabaseEnabled && wc.ModificationPlan != nil && len(wc.ModificationPlan.SQLStatements) > 0 {
		return RouteExecuteSQL
	}
	return RouteSkipSQL
}

// RouteBuild returns the router leaving the build check. A valid result
// passes; a failing one is fixed while the budget lasts.
func RouteBuild(maxFixRetries int) engine.RouterFunc[*workflow.Context] {
	return func(wc *workflow.Context) string {
		if q := wc.QualityResult; q != nil && q.IsValid {
			return RoutePass
		}
		if wc.FixRetryCount < maxFixRetries {
			return RouteFix
		}
		return RoutePass
	}
}
