package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
	"github.com/codemother/codemother/pkg/workspace"
)

// ModeRouter decides between creating a project and working on the existing
// one. A selected element or an existing project directory means MODIFY.
func (c *Catalog) ModeRouter(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	_, logger := begin(ctx, wc, ModeRouter, true)
	wc.EmitNodeMessage(ModeRouter, "analysing operation mode\n")

	if !wc.GenerationType.Valid() {
		if wc.GenerationType != "" {
			logger.WithField("generation_type", string(wc.GenerationType)).Warn("unknown generation type, using default")
		}
		wc.GenerationType = workflow.GenerationVue
	}
	switch {
	case wc.ElementInfo != nil:
		wc.OperationMode = workflow.ModeModify
		logger.Debug("element selected, modifying existing code")
	case c.deps.Layout.Exists(wc.GenerationType, wc.AppID):
		wc.OperationMode = workflow.ModeModify
		logger.Debug("project exists, modifying existing code")
	default:
		wc.OperationMode = workflow.ModeCreate
	}

	logger.WithField("mode", wc.OperationMode).Info("operation mode decided")
	wc.EmitNodeMessage(ModeRouter, fmt.Sprintf("operation mode: %s\n", wc.OperationMode))
	wc.EmitNodeComplete(ModeRouter)
	return wc, nil
}

// CodeReader lists the files of the existing project. Without a project the
// run falls back to CREATE and later nodes scaffold one.
func (c *Catalog) CodeReader(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	_, logger := begin(ctx, wc, CodeReader, true)
	wc.EmitNodeMessage(CodeReader, "reading project structure\n")

	dir := c.deps.Layout.ProjectDir(wc.GenerationType, wc.AppID)
	structure, err := c.deps.Walker.Structure(dir)
	switch {
	case errors.Is(err, workspace.ErrNoProject), err == nil && structure == "":
		wc.OperationMode = workflow.ModeCreate
		logger.Warn("no existing project, falling back to create")
		wc.EmitNodeMessage(CodeReader, "no existing project found, switching to create mode\n")
	case err != nil:
		wc.Fail(CodeReader, err)
		logger.WithError(err).Error("failed to read project structure")
	default:
		wc.ProjectStructure = structure
		wc.GeneratedCodeDir = dir
		wc.EmitNodeMessage(CodeReader, "project structure read\n")
	}

	wc.EmitNodeComplete(CodeReader)
	return wc, nil
}

// IntentClassifier labels the request MODIFY or QA. Answers other than those
// two, and model failures, fall back to MODIFY. Labels are memoised per app
// and prompt.
func (c *Catalog) IntentClassifier(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, IntentClassifier, true)
	wc.EmitNodeMessage(IntentClassifier, "classifying intent\n")

	wc.IntentType = c.classify(ctx, wc, logger.WithField("app_id", wc.AppID))

	label := "modify"
	if wc.IntentType == workflow.IntentQA {
		label = "question"
	}
	wc.EmitNodeMessage(IntentClassifier, "classified as "+label+"\n")
	wc.EmitNodeComplete(IntentClassifier)
	return wc, nil
}

func (c *Catalog) classify(ctx context.Context, wc *workflow.Context, logger *telemetry.Logger) workflow.IntentType {
	if wc.OperationMode == workflow.ModeCreate {
		return workflow.IntentModify
	}

	key := intentKey{appID: wc.AppID, prompt: wc.OriginalPrompt}
	if intent, ok := c.intents.Get(key); ok {
		return intent
	}

	structure := wc.ProjectStructure
	if structure == "" {
		structure = "none"
	}
	resp, err := c.generate(ctx, "classify", &llm.Request{
		System: intentSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(
			fmt.Sprintf("Project structure:\n%s\n\nUser message:\n%s", structure, wc.OriginalPrompt),
		)},
		MaxTokens: 16,
	})
	if err != nil {
		logger.WithError(err).Warn("intent classification failed, assuming modify")
		return workflow.IntentModify
	}

	intent := parseIntent(resp.Text)
	c.intents.Add(key, intent)
	return intent
}

func parseIntent(text string) workflow.IntentType {
	label := strings.ToUpper(strings.Trim(strings.TrimSpace(text), ".\"'`"))
	if workflow.IntentType(label) == workflow.IntentQA {
		return workflow.IntentQA
	}
	return workflow.IntentModify
}
