package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Provider is the interface for text-generation backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
	IsConfigured() bool
}

// Options tunes a single completion. Zero values leave the backend default.
type Options struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func messages(systemPrompt, userPrompt string) []chatMessage {
	var msgs []chatMessage
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(msgs, chatMessage{Role: "user", Content: userPrompt})
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider. Timeouts come from the
// caller's context; the client only guards against hung connections.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

// Complete sends a chat request to Ollama and returns the reply text.
func (o *OllamaProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	const op = "ollama chat"

	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	body := map[string]any{
		"model":    o.Model,
		"messages": messages(systemPrompt, userPrompt),
		"stream":   false,
		"options":  options,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", newError(op, KindFailed, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", newError(op, KindFailed, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(respBody))
		if isModelMissing(msg) {
			return "", newError(op, KindModelMissing, fmt.Errorf("model %q: %s", o.Model, msg))
		}
		return "", statusError(op, resp.StatusCode, msg)
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", newError(op, KindTimeout, err)
		}
		return "", newError(op, KindMalformed, fmt.Errorf("decoding response: %w", err))
	}
	if result.Error != "" {
		if isModelMissing(result.Error) {
			return "", newError(op, KindModelMissing, errors.New(result.Error))
		}
		return "", newError(op, KindFailed, errors.New(result.Error))
	}

	content := strings.TrimSpace(result.Message.Content)
	if content == "" {
		return "", newError(op, KindMalformed, errors.New("empty message content"))
	}
	return content, nil
}

func isModelMissing(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "model") && strings.Contains(lower, "not found")
}

// CreateProvider creates an LLM provider based on configuration. Ollama is
// preferred when requested and reachable; OpenAI is the fallback.
func CreateProvider(provider, model, ollamaURL, openaiModel, openaiURL, apiKeyEnv string) Provider {
	if strings.ToLower(provider) == "ollama" {
		p := NewOllamaProvider(model, ollamaURL)
		if p.IsConfigured() {
			log.Printf("Using Ollama with model: %s", model)
			return p
		}
		log.Println("Ollama not available, trying OpenAI fallback...")
	}

	p := NewOpenAIProvider(openaiModel, openaiURL, apiKeyEnv)
	if p.IsConfigured() {
		log.Printf("Using OpenAI with model: %s", openaiModel)
		return p
	}

	log.Println("No LLM provider available. Check Ollama is running or set OPENAI_API_KEY.")
	return Offline{}
}

// Offline is a Provider that always reports the backend as unavailable.
// CreateProvider returns it when nothing is reachable.
type Offline struct{}

func (Offline) Complete(context.Context, string, string, Options) (string, error) {
	return "", newError("offline", KindUnavailable, errors.New("no LLM provider configured"))
}

func (Offline) IsConfigured() bool { return false }
