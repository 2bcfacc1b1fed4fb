package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/codemother/codemother/pkg/workflow"
)

// Names of the built-in schemas.
const (
	SchemaImagePlan        = "image_plan"
	SchemaModificationPlan = "modification_plan"
)

// SchemaRegistry manages CUE schemas used to validate structured model output
// before a node acts on it.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.mustRegister(SchemaImagePlan, builtinImagePlanSchema, "#ImagePlan")
	sr.mustRegister(SchemaModificationPlan, builtinModificationPlanSchema, "#ModificationPlan")
	return sr
}

func (sr *SchemaRegistry) mustRegister(name, src, def string) {
	if err := sr.RegisterSchema(name, src, def); err != nil {
		panic(err)
	}
}

// RegisterSchema compiles src and registers its definition def under name.
// An empty def registers the whole value.
func (sr *SchemaRegistry) RegisterSchema(name, src, def string) error {
	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, def)
		}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Go values go through JSON so a nil slice is a concrete null rather
	// than the open "null | []" Encode produces.
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	dataVal := sr.ctx.CompileBytes(raw, cue.Filename(schemaName+".json"))
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinImagePlanSchema = `
import "list"

#SearchTask: {
	query:        string & =~"\\S"
	description?: string
}

#ImagePlan: {
	contentImageTasks?: null | ([...#SearchTask] & list.MaxItems(10))
	illustrationTasks?: null | ([...#SearchTask] & list.MaxItems(10))
	diagramTasks?: null | ([...{
		mermaidCode:  string & =~"\\S"
		description?: string
	}] & list.MaxItems(5))
	logoTasks?: null | ([...{
		description: string & =~"\\S"
	}] & list.MaxItems(3))
}
`

const builtinModificationPlanSchema = `
#SQLStatement: {
	type:         "DDL" | "DML" | "DQL"
	sql:          string & =~"\\S"
	description?: string
}

#FileGuide: {
	path:        string & =~"\\S" & !~"^(\\.\\./|/)"
	type:        "CREATE" | "MODIFY" | "DELETE"
	operations?: null | [...string]
	reason?:     string
}

#ModificationPlan: {
	analysis?:     string
	strategy?:     string
	sqlStatements?: null | [...#SQLStatement]
	filesToModify?: null | [...#FileGuide]
}
`

// ValidateImagePlan checks an image collection plan before it is fanned out.
func (sr *SchemaRegistry) ValidateImagePlan(ctx context.Context, plan *workflow.ImageCollectionPlan) error {
	if plan == nil {
		return fmt.Errorf("image plan is nil")
	}
	return sr.ValidateAgainstSchema(ctx, SchemaImagePlan, plan)
}

// ValidateModificationPlan checks a modification plan before SQL or files are
// touched.
func (sr *SchemaRegistry) ValidateModificationPlan(ctx context.Context, plan *workflow.ModificationPlan) error {
	if plan == nil {
		return fmt.Errorf("modification plan is nil")
	}
	return sr.ValidateAgainstSchema(ctx, SchemaModificationPlan, plan)
}
