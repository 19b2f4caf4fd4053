package llm

import (
	"context"
	"errors"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to the OpenAI chat completions API (or a compatible
// server when BaseURL is set) through the official SDK.
type OpenAIProvider struct {
	Model  string
	APIKey string
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider. The SDK's own retries are
// disabled; retry policy belongs to the caller.
func NewOpenAIProvider(model, baseURL, apiKeyEnv string) *OpenAIProvider {
	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	return &OpenAIProvider{
		Model:  model,
		APIKey: apiKey,
		client: openai.NewClient(clientOptions(apiKey, baseURL)...),
	}
}

func clientOptions(apiKey, baseURL string, extra ...option.RequestOption) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return append(opts, extra...)
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Complete sends a chat completion request and returns the reply text.
func (o *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	const op = "openai chat"
	if o.APIKey == "" {
		return "", newError(op, KindUnavailable, errors.New("API key not configured"))
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(userPrompt))

	return o.chat(ctx, op, msgs, opts)
}

// DescribeImage asks a vision-capable model about the image at imageURL.
func (o *OpenAIProvider) DescribeImage(ctx context.Context, prompt, imageURL string) (string, error) {
	const op = "openai vision"
	if o.APIKey == "" {
		return "", newError(op, KindUnavailable, errors.New("API key not configured"))
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
	}
	msgs := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)}
	return o.chat(ctx, op, msgs, Options{Temperature: 0.1, MaxTokens: 300})
}

func (o *OpenAIProvider) chat(ctx context.Context, op string, msgs []openai.ChatCompletionMessageParamUnion, opts Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model),
		Messages: msgs,
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", sdkError(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", newError(op, KindMalformed, errors.New("no choices in response"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", newError(op, KindMalformed, errors.New("empty message content"))
	}
	return content, nil
}

// sdkError maps errors returned by the openai-go SDK onto adapter kinds.
func sdkError(op string, err error) *Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		if apiErr.StatusCode == 404 || (strings.Contains(msg, "model") && strings.Contains(msg, "does not exist")) {
			return newError(op, KindModelMissing, errors.New(apiErr.Message))
		}
		return statusError(op, apiErr.StatusCode, apiErr.Message)
	}
	return transportError(op, err)
}
