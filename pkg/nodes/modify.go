package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codemother/codemother/pkg/database"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/policy"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
)

// ModificationPlanner turns a change request into SQL statements and
// per-file guidance. Without a usable plan the modifier works from the
// request alone.
func (c *Catalog) ModificationPlanner(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, ModificationPlanner, true)
	defer wc.EmitNodeComplete(ModificationPlanner)
	wc.EmitNodeMessage(ModificationPlanner, "planning changes\n")

	resp, err := c.generate(ctx, "plan_modification", &llm.Request{
		System:   modificationPlanSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(c.planRequest(wc))},
	})
	if err != nil {
		logger.WithError(err).Warn("modification planning failed")
		wc.EmitNodeError(ModificationPlanner, err.Error())
		return wc, nil
	}

	plan := &workflow.ModificationPlan{}
	if err := decodeJSON(resp.Text, plan); err != nil {
		logger.WithError(err).Warn("unreadable modification plan")
		wc.EmitNodeError(ModificationPlanner, err.Error())
		return wc, nil
	}
	if c.deps.Schemas != nil {
		if err := c.deps.Schemas.ValidateModificationPlan(ctx, plan); err != nil {
			logger.WithError(err).Warn("invalid modification plan")
			wc.EmitNodeError(ModificationPlanner, err.Error())
			return wc, nil
		}
	}

	wc.ModificationPlan = plan
	wc.EmitNodeMessage(ModificationPlanner, planSummary(plan))
	return wc, nil
}

func (c *Catalog) planRequest(wc *workflow.Context) string {
	var sb strings.Builder
	if wc.DatabaseEnabled {
		sb.WriteString("## Database\nA Postgres database is available. Current schema:\n")
		sb.WriteString(orNone(wc.DatabaseSchema))
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("## Database\nNo database is available; plan no SQL.\n\n")
	}
	sb.WriteString("## Project structure\n")
	sb.WriteString(orNone(wc.ProjectStructure))
	sb.WriteString("\n\n")
	if wc.ElementInfo != nil {
		sb.WriteString("## Selected element\n")
		sb.WriteString(wc.ElementInfo.Format())
		sb.WriteString("\n")
	}
	sb.WriteString("## Request\n")
	sb.WriteString(wc.OriginalPrompt)
	return sb.String()
}

func planSummary(p *workflow.ModificationPlan) string {
	counts := map[string]int{}
	for _, s := range p.SQLStatements {
		counts[strings.ToUpper(s.Type)]++
	}
	var sb strings.Builder
	if p.Analysis != "" {
		fmt.Fprintf(&sb, "analysis: %s\n", p.Analysis)
	}
	if p.Strategy != "" {
		fmt.Fprintf(&sb, "strategy: %s\n", p.Strategy)
	}
	fmt.Fprintf(&sb, "%d SQL statements (DDL %d, DML %d, DQL %d), %d files to change\n",
		len(p.SQLStatements), counts[database.CategoryDDL], counts[database.CategoryDML], counts[database.CategoryDQL],
		len(p.FilesToModify))
	return sb.String()
}

// DatabaseOperator runs the planned statements in order and refreshes the
// schema. Every statement is attempted; failures are recorded, not fatal.
func (c *Catalog) DatabaseOperator(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, DatabaseOperator, true)
	defer wc.EmitNodeComplete(DatabaseOperator)

	var statements []workflow.SQLStatement
	if wc.ModificationPlan != nil {
		statements = wc.ModificationPlan.SQLStatements
	}
	results := make([]workflow.SQLExecutionResult, 0, len(statements))
	for i, planned := range statements {
		res := c.execute(ctx, wc, planned)
		results = append(results, res)
		if res.Success {
			wc.EmitNodeMessage(DatabaseOperator, fmt.Sprintf("statement %d succeeded\n", i+1))
		} else {
			logger.WithField("sql", planned.SQL).WithField("error", res.Error).Warn("statement failed")
			wc.EmitNodeMessage(DatabaseOperator, fmt.Sprintf("statement %d failed: %s\n", i+1, res.Error))
		}
	}
	wc.SQLExecutionResults = results

	schema, err := c.deps.Database.GetSchema(ctx, wc.AppID)
	if err != nil || strings.TrimSpace(schema) == "" {
		if err != nil {
			logger.WithError(err).Warn("schema refresh failed")
		}
		schema = wc.DatabaseSchema
	}
	wc.LatestDatabaseSchema = schema

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	wc.EmitNodeMessage(DatabaseOperator, fmt.Sprintf("%d of %d statements succeeded\n", succeeded, len(results)))
	return wc, nil
}

func (c *Catalog) execute(ctx context.Context, wc *workflow.Context, planned workflow.SQLStatement) workflow.SQLExecutionResult {
	res := workflow.SQLExecutionResult{SQL: planned.SQL}
	stmt := database.Classify(planned.SQL)
	if stmt.Category == database.CategoryOther {
		res.Error = fmt.Sprintf("unsupported statement %q", stmt.Verb)
		return res
	}

	out, err := c.deps.Database.ExecuteSQL(ctx, wc.AppID, planned.SQL)
	if err != nil {
		res.Error = err.Error()
		var denied *policy.DeniedError
		if errors.As(err, &denied) {
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				tel.Metrics.RecordPolicyDenial("sql")
				_ = tel.Events.PublishPolicyViolation(wc.ExecutionID, "sql", err.Error())
			}
		}
		return res
	}
	res.Success = true
	res.Result = out
	return res
}

// CodeModifier applies the change to the existing project. It refuses to
// touch code when a planned statement failed on an enabled database, since
// the code would then target a schema that does not exist.
func (c *Catalog) CodeModifier(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, CodeModifier, true)
	defer wc.EmitNodeComplete(CodeModifier)

	if wc.DatabaseEnabled && wc.HasSQLFailure() {
		wc.ErrorMessage = "database changes failed, code was not modified"
		logger.Warn("skipping code modification after failed SQL")
		wc.EmitNodeMessage(CodeModifier, "database changes failed, refusing to modify code\n")
		return wc, nil
	}

	dir, created, err := c.deps.Scaffolder.Scaffold(wc.GenerationType, wc.AppID)
	if err != nil {
		wc.Fail(CodeModifier, fmt.Errorf("prepare project: %w", err))
		logger.WithError(err).Error("project preparation failed")
		return wc, nil
	}
	if created {
		wc.EmitNodeMessage(CodeModifier, "no project found, starting from the template\n")
	}
	wc.GeneratedCodeDir = dir

	wc.EmitNodeMessage(CodeModifier, "modifying code\n")
	res, err := c.edit(ctx, wc, "modify_code", dir, modifierSystemPrompt, c.modifyRequest(wc))
	if err != nil {
		wc.Fail(CodeModifier, err)
		logger.WithError(err).Error("code modification failed")
		return wc, nil
	}

	wc.QualityResult = nil
	logger.WithField("tool_calls", res.ToolCalls).Info("code modified")
	c.snapshot(ctx, dir, "modify: "+summary(wc.OriginalPrompt))
	return wc, nil
}

func (c *Catalog) modifyRequest(wc *workflow.Context) string {
	var sb strings.Builder
	if wc.ProjectStructure != "" {
		sb.WriteString("## Project structure\n")
		sb.WriteString(wc.ProjectStructure)
		sb.WriteString("\n\n")
	}
	if wc.ElementInfo != nil {
		sb.WriteString("## Selected element\nOnly change this element unless the request says otherwise.\n")
		sb.WriteString(wc.ElementInfo.Format())
		sb.WriteString("\n")
	}
	if wc.DatabaseEnabled {
		sb.WriteString("## Database\nThe app reads and writes this Postgres schema:\n")
		sb.WriteString(orNone(wc.EffectiveSchema()))
		sb.WriteString("\n\n")
	}
	if p := wc.ModificationPlan; p != nil {
		sb.WriteString("## Plan\n")
		if p.Strategy != "" {
			sb.WriteString(p.Strategy)
			sb.WriteString("\n")
		}
		for _, f := range p.FilesToModify {
			fmt.Fprintf(&sb, "- %s %s", f.Type, f.Path)
			if f.Reason != "" {
				fmt.Fprintf(&sb, ": %s", f.Reason)
			}
			sb.WriteString("\n")
			for _, op := range f.Operations {
				fmt.Fprintf(&sb, "  - %s\n", op)
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("## Request\n")
	sb.WriteString(wc.OriginalPrompt)
	return sb.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
