package codegen

import (
	"testing"

	"github.com/codemother/codemother/pkg/workflow"
)

func TestRouteMode(t *testing.T) {
	tests := []struct {
		mode workflow.OperationMode
		gen  workflow.GenerationType
		want string
	}{
		{workflow.ModeCreate, workflow.GenerationVue, RouteCreate},
		{workflow.ModeCreate, workflow.GenerationLeetCode, RouteLeetCodeCreate},
		{workflow.ModeCreate, workflow.GenerationInterview, RouteInterviewCreate},
		{workflow.ModeModify, workflow.GenerationLeetCode, RouteExistingCode},
		{workflow.ModeFix, workflow.GenerationVue, RouteExistingCode},
	}
	for _, tt := range tests {
		wc := &workflow.Context{OperationMode: tt.mode, GenerationType: tt.gen}
		if got := RouteMode(wc); got != tt.want {
			t.Errorf("RouteMode(%s, %s) = %q, want %q", tt.mode, tt.gen, got, tt.want)
		}
	}
}

func TestRouteIntent(t *testing.T) {
	if got := RouteIntent(&workflow.Context{IntentType: workflow.IntentQA}); got != RouteQA {
		t.Errorf("QA routed to %q", got)
	}
	if got := RouteIntent(&workflow.Context{IntentType: workflow.IntentModify}); got != RouteModify {
		t.Errorf("MODIFY routed to %q", got)
	}
	if got := RouteIntent(&workflow.Context{}); got != RouteModify {
		t.Errorf("unset intent routed to %q", got)
	}
}

func TestRoutePlan(t *testing.T) {
	withSQL := &workflow.ModificationPlan{SQLStatements: []workflow.SQLStatement{{Type: "DDL", SQL: "CREATE TABLE t (id int)"}}}
	tests := []struct {
		name    string
		enabled bool
		plan    *workflow.ModificationPlan
		want    string
	}{
		{"database with statements", true, withSQL, RouteExecuteSQL},
		{"database disabled", false, withSQL, RouteSkipSQL},
		{"no statements", true, &workflow.ModificationPlan{}, RouteSkipSQL},
		{"no plan", true, nil, RouteSkipSQL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wc := &workflow.Context{DatabaseEnabled: tt.enabled, ModificationPlan: tt.plan}
			if got := RoutePlan(wc); got != tt.want {
				t.Errorf("RoutePlan = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouteBuild(t *testing.T) {
	route := RouteBuild(3)
	tests := []struct {
		name    string
		quality *workflow.QualityResult
		retries int
		want    string
	}{
		{"valid", &workflow.QualityResult{IsValid: true}, 0, RoutePass},
		{"invalid with budget", &workflow.QualityResult{}, 2, RouteFix},
		{"invalid without budget", &workflow.QualityResult{}, 3, RoutePass},
		{"forced", &workflow.QualityResult{IsValid: true, Forced: true}, 3, RoutePass},
		{"missing result", nil, 0, RouteFix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wc := &workflow.Context{QualityResult: tt.quality, FixRetryCount: tt.retries}
			if got := route(wc); got != tt.want {
				t.Errorf("route = %q, want %q", got, tt.want)
			}
		})
	}
}
