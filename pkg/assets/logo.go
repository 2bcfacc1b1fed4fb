package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/codemother/codemother/pkg/workflow"
)

// ImageGenerator produces base64 PNGs for a prompt.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, prompt string, n int) ([]string, error)
}

// OpenAIImages generates images with the OpenAI Images API.
type OpenAIImages struct {
	client *openai.Client
	model  string
}

// NewOpenAIImages creates an image generator. baseURL may be empty.
func NewOpenAIImages(apiKey, model, baseURL string) (*OpenAIImages, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai images: %w", ErrNotConfigured)
	}
	if model == "" {
		model = "gpt-image-1"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIImages{client: &client, model: model}, nil
}

// GenerateImages implements ImageGenerator.
func (o *OpenAIImages) GenerateImages(ctx context.Context, prompt string, n int) ([]string, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.model),
		N:      openai.Int(int64(n)),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return nil, fmt.Errorf("openai images: %w", err)
	}
	out := make([]string, 0, len(resp.Data))
	for _, img := range resp.Data {
		if img.B64JSON != "" {
			out = append(out, img.B64JSON)
		}
	}
	return out, nil
}

// Logos generates logos and stores them through an Uploader.
type Logos struct {
	images   ImageGenerator
	uploader Uploader
}

// NewLogos creates a LogoGenerator.
func NewLogos(images ImageGenerator, uploader Uploader) *Logos {
	return &Logos{images: images, uploader: uploader}
}

// LogoPrompt is the image prompt for a logo description.
func LogoPrompt(description string) string {
	return "Design a logo. The logo must not contain any text or letters. Brief: " + strings.TrimSpace(description)
}

// Generate implements LogoGenerator.
func (l *Logos) Generate(ctx context.Context, description string) ([]workflow.ImageResource, error) {
	if l.images == nil || l.uploader == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(description) == "" {
		return nil, nil
	}

	encoded, err := l.images.GenerateImages(ctx, LogoPrompt(description), 1)
	if err != nil {
		return nil, err
	}

	var out []workflow.ImageResource
	for _, b64 := range encoded {
		png, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return out, fmt.Errorf("decode logo: %w", err)
		}
		link, err := l.uploader.Upload(ctx, "logo/"+uuid.NewString()+".png", "image/png", png)
		if err != nil {
			return out, fmt.Errorf("upload logo: %w", err)
		}
		out = append(out, workflow.ImageResource{
			Category:    workflow.CategoryLogo,
			Description: description,
			URL:         link,
		})
	}
	return out, nil
}
