package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/workflow"
)

// CodeGenerator scaffolds the project template and lets the editor write the
// application into it.
func (c *Catalog) CodeGenerator(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, CodeGenerator, true)
	defer wc.EmitNodeComplete(CodeGenerator)

	dir, created, err := c.deps.Scaffolder.Scaffold(wc.GenerationType, wc.AppID)
	if err != nil {
		wc.Fail(CodeGenerator, fmt.Errorf("scaffold project: %w", err))
		logger.WithError(err).Error("scaffolding failed")
		return wc, nil
	}
	wc.GeneratedCodeDir = dir
	if created {
		wc.EmitNodeMessage(CodeGenerator, "project template ready\n")
	}

	prompt := wc.EnhancedPrompt
	if prompt == "" {
		prompt = wc.OriginalPrompt
	}
	var extra []llm.Tool
	if wc.GenerationType == workflow.GenerationVue {
		extra = c.assetTools()
	}

	wc.EmitNodeMessage(CodeGenerator, "generating code\n")
	res, err := c.edit(ctx, wc, "generate_code", dir, generatorSystemPrompt(wc.GenerationType), prompt, extra...)
	if err != nil {
		wc.Fail(CodeGenerator, err)
		logger.WithError(err).Error("code generation failed")
		return wc, nil
	}

	wc.QualityResult = nil
	logger.WithFields(map[string]interface{}{
		"turns":      res.Turns,
		"tool_calls": res.ToolCalls,
	}).Info("code generated")
	c.snapshot(ctx, dir, "generate: "+summary(wc.OriginalPrompt))
	return wc, nil
}

// AnimationAdvisor streams animation advice for a coding problem and appends
// it to the prompt. A failed call leaves the prompt as it was.
func (c *Catalog) AnimationAdvisor(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	return c.advise(ctx, wc, AnimationAdvisor, animationAdvisorSystemPrompt, "## Animation design advice")
}

// InterviewAnimationAdvisor is AnimationAdvisor for interview topics.
func (c *Catalog) InterviewAnimationAdvisor(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	return c.advise(ctx, wc, InterviewAnimationAdvisor, interviewAdvisorSystemPrompt, "## Visual explanation advice")
}

func (c *Catalog) advise(ctx context.Context, wc *workflow.Context, node, system, heading string) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, node, true)
	defer wc.EmitNodeComplete(node)

	var advice strings.Builder
	_, err := c.stream(ctx, node, &llm.Request{
		System:   system,
		Messages: []llm.Message{llm.UserMessage(wc.OriginalPrompt)},
	}, func(text string) {
		advice.WriteString(text)
		wc.EmitText(text)
	})
	if err != nil {
		logger.WithError(err).Warn("advice failed, continuing without it")
		wc.EmitNodeError(node, err.Error())
		return wc, nil
	}
	wc.EmitText("\n")

	base := wc.EnhancedPrompt
	if base == "" {
		base = wc.OriginalPrompt
	}
	if text := strings.TrimSpace(advice.String()); text != "" {
		wc.EnhancedPrompt = base + "\n\n" + heading + "\n" + text
	} else {
		wc.EnhancedPrompt = base
	}
	return wc, nil
}

const leetcodeGenerationRules = `## Generation rules
- Put the problem, examples and every solution in src/data/problem.js.
- Build one visualisation component per solution under src/components/visualizations/.
- Each visualisation has play, pause, step and reset controls and shows the
  current line of code next to the animation.
- Show the time and space complexity of every solution.`

const interviewGenerationRules = `## Generation rules
- Put the topic outline, key points and follow-up questions in src/data/topic.js.
- Build one visualisation component per key point under src/components/visualizations/.
- Prefer diagrams, comparisons and step-by-step flows over long text.
- End with a summary of the points an interviewer expects.`

// LeetCodePromptEnhancer appends the coding problem generation rules.
func (c *Catalog) LeetCodePromptEnhancer(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	return c.appendRules(ctx, wc, LeetCodePromptEnhancer, leetcodeGenerationRules)
}

// InterviewPromptEnhancer appends the interview topic generation rules.
func (c *Catalog) InterviewPromptEnhancer(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	return c.appendRules(ctx, wc, InterviewPromptEnhancer, interviewGenerationRules)
}

func (c *Catalog) appendRules(ctx context.Context, wc *workflow.Context, node, rules string) (*workflow.Context, error) {
	_, logger := begin(ctx, wc, node, true)
	base := wc.EnhancedPrompt
	if base == "" {
		base = wc.OriginalPrompt
	}
	wc.EnhancedPrompt = base + "\n\n" + rules
	logger.WithField("length", len(wc.EnhancedPrompt)).Debug("prompt enhanced")
	wc.EmitNodeComplete(node)
	return wc, nil
}

// QA streams an answer about the existing project. It never changes files.
func (c *Catalog) QA(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, QA, true)
	defer wc.EmitNodeComplete(QA)

	var sb strings.Builder
	if wc.ProjectStructure != "" {
		sb.WriteString("## Project structure\n")
		sb.WriteString(wc.ProjectStructure)
		sb.WriteString("\n\n")
	}
	if wc.ElementInfo != nil {
		sb.WriteString("## Selected element\n")
		sb.WriteString(wc.ElementInfo.Format())
		sb.WriteString("\n")
	}
	sb.WriteString("## Question\n")
	sb.WriteString(wc.OriginalPrompt)

	resp, err := c.stream(ctx, "answer", &llm.Request{
		System:   qaSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(sb.String())},
	}, wc.EmitText)
	if err != nil {
		wc.Fail(QA, err)
		logger.WithError(err).Error("answer failed")
		return wc, nil
	}
	if resp == nil || resp.Text == "" {
		wc.Fail(QA, errors.New("empty answer"))
		return wc, nil
	}
	wc.EmitText("\n")
	return wc, nil
}

// summary shortens a prompt for commit messages.
func summary(prompt string) string {
	line := strings.TrimSpace(prompt)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if r := []rune(line); len(r) > 60 {
		line = string(r[:60]) + "..."
	}
	return line
}
