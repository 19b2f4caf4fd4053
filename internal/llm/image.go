package llm

import (
	"context"
	"errors"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
)

// ImageRequest describes one image-generation call.
type ImageRequest struct {
	Prompt  string
	Size    string
	Quality string
	N       int
}

// ImageResult is the first usable image of a generation response. Exactly
// one of URL and B64JSON is set.
type ImageResult struct {
	URL           string
	B64JSON       string
	RevisedPrompt string
}

// ImageGenerator is the interface for image-generation backends.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// VisionProvider answers questions about an image.
type VisionProvider interface {
	DescribeImage(ctx context.Context, prompt, imageURL string) (string, error)
}

// OpenAIImageGenerator generates images through the OpenAI images API.
type OpenAIImageGenerator struct {
	Model  string
	APIKey string
	client openai.Client
}

// NewOpenAIImageGenerator creates an image generator. It returns nil when no
// API key is configured, so callers can treat image generation as disabled.
func NewOpenAIImageGenerator(model, baseURL, apiKeyEnv string) *OpenAIImageGenerator {
	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	if apiKey == "" {
		return nil
	}
	return &OpenAIImageGenerator{
		Model:  model,
		APIKey: apiKey,
		client: openai.NewClient(clientOptions(apiKey, baseURL)...),
	}
}

// GenerateImage requests one image. A response without a URL or inline data
// is reported as KindMalformed.
func (g *OpenAIImageGenerator) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	const op = "openai images"
	if strings.TrimSpace(req.Prompt) == "" {
		return ImageResult{}, newError(op, KindFailed, errors.New("empty prompt"))
	}

	n := req.N
	if n <= 0 {
		n = 1
	}
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(g.Model),
		N:      openai.Int(int64(n)),
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}
	if req.Quality != "" {
		params.Quality = openai.ImageGenerateParamsQuality(req.Quality)
	}

	resp, err := g.client.Images.Generate(ctx, params)
	if err != nil {
		return ImageResult{}, sdkError(op, err)
	}
	for _, img := range resp.Data {
		if img.URL != "" || img.B64JSON != "" {
			return ImageResult{URL: img.URL, B64JSON: img.B64JSON, RevisedPrompt: img.RevisedPrompt}, nil
		}
	}
	return ImageResult{}, newError(op, KindMalformed, errors.New("response contains no image"))
}
