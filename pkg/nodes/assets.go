package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/codemother/codemother/pkg/assets"
	"github.com/codemother/codemother/pkg/llm"
	"github.com/codemother/codemother/pkg/telemetry"
	"github.com/codemother/codemother/pkg/workflow"
)

// ImagePlan asks the model which images the site needs and stores the plan
// the collectors fan out over. A missing or invalid plan leaves every
// collector with nothing to do.
func (c *Catalog) ImagePlan(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, ImagePlan, true)
	wc.EmitNodeMessage(ImagePlan, "planning image collection\n")

	plan, err := c.planImages(ctx, wc.OriginalPrompt)
	if err != nil {
		logger.WithError(err).Error("image planning failed")
		wc.EmitNodeError(ImagePlan, err.Error())
		wc.ImageCollectionPlan = &workflow.ImageCollectionPlan{}
		wc.EmitNodeComplete(ImagePlan)
		return wc, nil
	}

	wc.ImageCollectionPlan = plan
	wc.EmitNodeMessage(ImagePlan, fmt.Sprintf(
		"plan ready: %d content image, %d illustration, %d diagram and %d logo tasks\n",
		len(plan.ContentImageTasks), len(plan.IllustrationTasks), len(plan.DiagramTasks), len(plan.LogoTasks),
	))
	wc.EmitNodeComplete(ImagePlan)
	return wc, nil
}

func (c *Catalog) planImages(ctx context.Context, prompt string) (*workflow.ImageCollectionPlan, error) {
	resp, err := c.generate(ctx, "plan_images", &llm.Request{
		System:   imagePlanSystemPrompt,
		Messages: []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		return nil, err
	}
	plan := &workflow.ImageCollectionPlan{}
	if err := decodeJSON(resp.Text, plan); err != nil {
		return nil, err
	}
	if c.deps.Schemas != nil {
		if err := c.deps.Schemas.ValidateImagePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("invalid image plan: %w", err)
		}
	}
	return plan, nil
}

// collection runs the tasks of one category. Failed tasks are logged and
// skipped; the branch itself never fails.
func collection[T any](
	ctx context.Context, c *Catalog, wc *workflow.Context, node string, category workflow.ImageCategory,
	tasks []T, configured bool, label func(T) string,
	fn func(context.Context, T) ([]workflow.ImageResource, error),
) []workflow.ImageResource {
	ctx, logger := begin(ctx, wc, node, false)
	defer wc.EmitNodeComplete(node)

	if len(tasks) == 0 {
		wc.EmitNodeMessage(node, "no tasks, skipping\n")
		return nil
	}
	if !configured {
		logger.Warn("collector not configured, skipping")
		wc.EmitNodeMessage(node, "collector not configured, skipping\n")
		return nil
	}

	wc.EmitNodeMessage(node, fmt.Sprintf("running %d tasks\n", len(tasks)))
	var failed atomic.Int64
	out := assets.Collect(ctx, tasks, c.deps.AssetConcurrency, fn, func(task T, err error) {
		failed.Add(1)
		logger.WithError(err).WithField("task", label(task)).Warn("asset task failed")
		wc.EmitNodeError(node, fmt.Sprintf("%s: %v", label(task), err))
	})

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordAssets(string(category), len(out), int(failed.Load()))
	}
	wc.EmitNodeMessage(node, fmt.Sprintf("collected %d images\n", len(out)))
	return out
}

func (c *Catalog) plan(wc *workflow.Context) *workflow.ImageCollectionPlan {
	if wc.ImageCollectionPlan == nil {
		return &workflow.ImageCollectionPlan{}
	}
	return wc.ImageCollectionPlan
}

// ContentImageCollector searches stock photos. It only writes
// ContentImages.
func (c *Catalog) ContentImageCollector(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	search := c.deps.ContentImages
	wc.ContentImages = collection(ctx, c, wc, ContentImageCollector, workflow.CategoryContent,
		c.plan(wc).ContentImageTasks, search != nil,
		func(t workflow.ImageSearchTask) string { return t.Query },
		func(ctx context.Context, t workflow.ImageSearchTask) ([]workflow.ImageResource, error) {
			return describe(search.Search(ctx, t.Query))(t.Description)
		})
	return wc, nil
}

// IllustrationCollector searches illustrations. It only writes
// Illustrations.
func (c *Catalog) IllustrationCollector(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	search := c.deps.Illustrations
	wc.Illustrations = collection(ctx, c, wc, IllustrationCollector, workflow.CategoryIllustration,
		c.plan(wc).IllustrationTasks, search != nil,
		func(t workflow.IllustrationTask) string { return t.Query },
		func(ctx context.Context, t workflow.IllustrationTask) ([]workflow.ImageResource, error) {
			return describe(search.Search(ctx, t.Query))(t.Description)
		})
	return wc, nil
}

// DiagramCollector renders Mermaid diagrams. It only writes Diagrams.
func (c *Catalog) DiagramCollector(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	render := c.deps.Diagrams
	wc.Diagrams = collection(ctx, c, wc, DiagramCollector, workflow.CategoryArchitecture,
		c.plan(wc).DiagramTasks, render != nil,
		func(t workflow.DiagramTask) string { return t.Description },
		func(ctx context.Context, t workflow.DiagramTask) ([]workflow.ImageResource, error) {
			return render.Render(ctx, t.MermaidCode, t.Description)
		})
	return wc, nil
}

// LogoCollector generates logos. It only writes Logos.
func (c *Catalog) LogoCollector(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	gen := c.deps.Logos
	wc.Logos = collection(ctx, c, wc, LogoCollector, workflow.CategoryLogo,
		c.plan(wc).LogoTasks, gen != nil,
		func(t workflow.LogoTask) string { return t.Description },
		func(ctx context.Context, t workflow.LogoTask) ([]workflow.ImageResource, error) {
			return gen.Generate(ctx, t.Description)
		})
	return wc, nil
}

// describe replaces the search engine's descriptions with the planned one
// when the plan has it.
func describe(res []workflow.ImageResource, err error) func(string) ([]workflow.ImageResource, error) {
	return func(description string) ([]workflow.ImageResource, error) {
		if err != nil || description == "" {
			return res, err
		}
		for i := range res {
			res[i].Description = description
		}
		return res, nil
	}
}

// ImageAggregator merges the collector lists. It runs after every
// collector branch has joined.
func (c *Catalog) ImageAggregator(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	_, logger := begin(ctx, wc, ImageAggregator, true)

	all := make([]workflow.ImageResource, 0,
		len(wc.ContentImages)+len(wc.Illustrations)+len(wc.Diagrams)+len(wc.Logos))
	all = append(all, wc.ContentImages...)
	all = append(all, wc.Illustrations...)
	all = append(all, wc.Diagrams...)
	all = append(all, wc.Logos...)

	wc.ImageList = all
	if len(all) > 0 {
		b, err := json.Marshal(all)
		if err != nil {
			return wc, fmt.Errorf("encode image list: %w", err)
		}
		wc.ImageListStr = string(b)
	}

	logger.WithField("images", len(all)).Info("images aggregated")
	wc.EmitNodeMessage(ImageAggregator, fmt.Sprintf(
		"aggregated %d content images, %d illustrations, %d diagrams and %d logos, %d in total\n",
		len(wc.ContentImages), len(wc.Illustrations), len(wc.Diagrams), len(wc.Logos), len(all),
	))
	wc.EmitNodeComplete(ImageAggregator)
	return wc, nil
}

// PromptEnhancer appends the collected images to the prompt, then gives
// the prompt hook a chance to rewrite it.
func (c *Catalog) PromptEnhancer(ctx context.Context, wc *workflow.Context) (*workflow.Context, error) {
	ctx, logger := begin(ctx, wc, PromptEnhancer, true)

	var sb strings.Builder
	sb.WriteString(wc.OriginalPrompt)
	if len(wc.ImageList) > 0 {
		sb.WriteString("\n\n## Available images\n")
		sb.WriteString("Embed these images where they fit the site.\n")
		for _, img := range wc.ImageList {
			fmt.Fprintf(&sb, "- %s: %s (%s)\n", categoryLabel(img.Category), img.Description, img.URL)
		}
		wc.EmitNodeMessage(PromptEnhancer, fmt.Sprintf("added %d images to the prompt\n", len(wc.ImageList)))
	} else {
		wc.EmitNodeMessage(PromptEnhancer, "no images to add\n")
	}
	enhanced := sb.String()

	if c.deps.Hook != nil {
		hooked, err := c.deps.Hook.Enhance(ctx, enhanced, wc.ImageList)
		switch {
		case err != nil:
			logger.WithError(err).Warn("prompt hook failed, keeping built-in prompt")
		case strings.TrimSpace(hooked) != "":
			enhanced = hooked
		}
	}

	wc.EnhancedPrompt = enhanced
	logger.WithField("length", len(enhanced)).Debug("prompt enhanced")
	wc.EmitNodeComplete(PromptEnhancer)
	return wc, nil
}

func categoryLabel(c workflow.ImageCategory) string {
	switch c {
	case workflow.CategoryContent:
		return "Content image"
	case workflow.CategoryIllustration:
		return "Illustration"
	case workflow.CategoryArchitecture:
		return "Architecture diagram"
	case workflow.CategoryLogo:
		return "Logo"
	}
	return string(c)
}
