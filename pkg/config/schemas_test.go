package config

import (
	"context"
	"strings"
	"testing"

	"github.com/codemother/codemother/pkg/workflow"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Answer: {
	label: "MODIFY" | "QA"
}
`
	if err := sr.RegisterSchema("intent", customSchema, "#Answer"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}
	if _, ok := sr.GetSchema("intent"); !ok {
		t.Fatal("expected to find intent schema")
	}

	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "intent", map[string]interface{}{"label": "QA"}); err != nil {
		t.Errorf("valid answer rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "intent", map[string]interface{}{"label": "CHAT"}); err == nil {
		t.Error("invalid label accepted")
	}

	if err := sr.RegisterSchema("broken", "#X: {", ""); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("nodef", "#X: string", "#Y"); err == nil {
		t.Error("expected missing definition error")
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	got := strings.Join(NewSchemaRegistry().ListSchemas(), ",")
	if got != "image_plan,modification_plan" {
		t.Errorf("schemas = %s", got)
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	err := NewSchemaRegistry().ValidateAgainstSchema(context.Background(), "nope", struct{}{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestSchemaRegistry_ValidateImagePlan(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		plan    *workflow.ImageCollectionPlan
		wantErr bool
	}{
		{
			name: "full plan",
			plan: &workflow.ImageCollectionPlan{
				ContentImageTasks: []workflow.ImageSearchTask{{Query: "coffee shop", Description: "hero"}},
				IllustrationTasks: []workflow.IllustrationTask{{Query: "empty inbox"}},
				DiagramTasks:      []workflow.DiagramTask{{MermaidCode: "graph TD; A-->B"}},
				LogoTasks:         []workflow.LogoTask{{Description: "a steaming cup"}},
			},
		},
		{
			name: "empty plan",
			plan: &workflow.ImageCollectionPlan{},
		},
		{
			name: "blank query",
			plan: &workflow.ImageCollectionPlan{
				ContentImageTasks: []workflow.ImageSearchTask{{Query: "  "}},
			},
			wantErr: true,
		},
		{
			name: "too many logos",
			plan: &workflow.ImageCollectionPlan{
				LogoTasks: []workflow.LogoTask{{Description: "a"}, {Description: "b"}, {Description: "c"}, {Description: "d"}},
			},
			wantErr: true,
		},
		{
			name:    "nil plan",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateImagePlan(ctx, tt.plan)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateImagePlan() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateModificationPlan(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := func() *workflow.ModificationPlan {
		return &workflow.ModificationPlan{
			Analysis: "add a priority column",
			SQLStatements: []workflow.SQLStatement{
				{Type: "DDL", SQL: "ALTER TABLE todos ADD COLUMN priority int"},
			},
			FilesToModify: []workflow.FileModificationGuide{
				{Path: "src/pages/Index.vue", Type: "MODIFY", Operations: []string{"show priority"}},
			},
		}
	}

	if err := sr.ValidateModificationPlan(ctx, valid()); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
	if err := sr.ValidateModificationPlan(ctx, &workflow.ModificationPlan{}); err != nil {
		t.Errorf("plan without changes rejected: %v", err)
	}

	filesOnly := valid()
	filesOnly.SQLStatements = nil
	if err := sr.ValidateModificationPlan(ctx, filesOnly); err != nil {
		t.Errorf("plan without sql statements rejected: %v", err)
	}
	sqlOnly := valid()
	sqlOnly.FilesToModify = nil
	if err := sr.ValidateModificationPlan(ctx, sqlOnly); err != nil {
		t.Errorf("plan without file guides rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, SchemaModificationPlan, map[string]interface{}{"analysis": "recolor"}); err != nil {
		t.Errorf("plan with missing lists rejected: %v", err)
	}

	badType := valid()
	badType.SQLStatements[0].Type = "TRUNCATE"
	if err := sr.ValidateModificationPlan(ctx, badType); err == nil {
		t.Error("unknown sql type accepted")
	}

	escape := valid()
	escape.FilesToModify[0].Path = "../secrets.env"
	if err := sr.ValidateModificationPlan(ctx, escape); err == nil {
		t.Error("path outside the project accepted")
	}

	badAction := valid()
	badAction.FilesToModify[0].Type = "RENAME"
	if err := sr.ValidateModificationPlan(ctx, badAction); err == nil {
		t.Error("unknown file action accepted")
	}
}
