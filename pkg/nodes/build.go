package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
)

// BuildCheck builds the project and stores the verdict in QualityResult.
// Once the fix budget is spent a failing build is declared valid and marked
// Forced, so the run always ends with a result.
func (c *Catalog) BuildCheck(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, BuildCheck, true)
	defer wc.EmitNodeComplete(BuildCheck)

	if c.deps.Builder == nil {
		wc.QualityResult = &workflow.QualityResult{IsValid: true}
		wc.EmitNodeMessage(BuildCheck, "no builder configured, skipping build\n")
		return wc, nil
	}

	dir := c.projectDir(wc)
	wc.EmitNodeMessage(BuildCheck, "running build\n")
	res := c.deps.Builder.Build(ctx, dir)

	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		tel.Metrics.RecordBuild(res.Success, res.Duration)
	}

	if res.Success {
		wc.QualityResult = &workflow.QualityResult{IsValid: true}
		wc.BuildResultDir = workflow.DistDir(dir)
		logger.WithField("duration", res.Duration.String()).Info("build succeeded")
		wc.EmitNodeMessage(BuildCheck, "build succeeded\n")
		return wc, nil
	}

	q := &workflow.QualityResult{Errors: []string{res.ErrorSummary}}
	if strings.TrimSpace(res.RawOutput()) != "" {
		q.Suggestions = []string{res.RawOutput()}
	}
	wc.QualityResult = q
	logger.WithField("fix_retry_count", wc.FixRetryCount).Warn("build failed")
	wc.EmitNodeMessage(BuildCheck, "build failed: "+res.ErrorSummary+"\n")

	if wc.FixRetryCount >= c.deps.MaxFixRetries {
		q.IsValid = true
		q.Forced = true
		logger.WithField("retries", wc.FixRetryCount).Warn("fix budget exhausted, accepting failing build")
		wc.EmitNodeMessage(BuildCheck, fmt.Sprintf(
			"warning: build still failing after %d fix attempts, continuing with the current code\n", wc.FixRetryCount))
		if tel != nil {
			tel.Metrics.RecordForcedPass()
			_ = tel.Events.PublishForcedPass(wc.ExecutionID, wc.FixRetryCount, q.Errors)
		}
	}
	return wc, nil
}

// CodeFixer feeds the build errors back to the editor. Every call consumes
// one unit of the fix budget, whether or not the fix works.
func (c *Catalog) CodeFixer(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, CodeFixer, true)
	defer wc.EmitNodeComplete(CodeFixer)

	wc.FixRetryCount++
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordFixRetry()
	}
	wc.EmitNodeMessage(CodeFixer, fmt.Sprintf("fix attempt %d/%d\n", wc.FixRetryCount, c.deps.MaxFixRetries))

	dir := c.projectDir(wc)
	res, err := c.edit(ctx, wc, "fix_code", dir, fixerSystemPrompt, fixRequest(wc))
	if err != nil {
		wc.Fail(CodeFixer, err)
		logger.WithError(err).Error("fix failed")
		return wc, nil
	}

	wc.QualityResult = nil
	logger.WithField("tool_calls", res.ToolCalls).Info("fix applied")
	c.snapshot(ctx, dir, fmt.Sprintf("fix attempt %d", wc.FixRetryCount))
	return wc, nil
}

func fixRequest(wc *workflow.Context) string {
	var sb strings.Builder
	sb.WriteString("## Original request\n")
	sb.WriteString(wc.OriginalPrompt)
	sb.WriteString("\n\n## Build errors\n")

	var errs, suggestions []string
	if q := wc.QualityResult; q != nil {
		for _, e := range q.Errors {
			if strings.TrimSpace(e) != "" {
				errs = append(errs, e)
			}
		}
		suggestions = q.Suggestions
	}
	if len(errs) == 0 {
		sb.WriteString("The build failed without a readable error. Read the project and fix what prevents npm run build from succeeding.\n")
	} else {
		numbered(&sb, errs)
	}
	if len(suggestions) > 0 {
		sb.WriteString("\n## Build output\n")
		for _, s := range suggestions {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n## Guide\n")
	sb.WriteString("Read the files named in the errors, fix the cause and keep every other file unchanged.\n")
	return sb.String()
}
