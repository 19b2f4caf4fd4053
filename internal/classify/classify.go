package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/seo"
	"github.com/TobiSchelling/pressroom/internal/textnorm"
)

const (
	// FallbackConfidence is reported whenever the category was not decided
	// by the model.
	FallbackConfidence = 55
	// FallbackScore is reported whenever the model's quality review could
	// not be used.
	FallbackScore = 75
	MaxScore      = 100

	fallbackReasoning = "Categoría asignada por defecto: la respuesta del modelo no pudo interpretarse."
	fallbackFeedback  = "Evaluación automática no disponible; se asigna una puntuación estándar."
	contentPreviewLen = 3000
)

var fallbackSuggestions = []string{
	"Revisar manualmente la precisión de los datos citados.",
	"Verificar que el título refleje el contenido principal.",
}

// ErrMalformed is returned alongside a fallback result when the model reply
// could not be parsed.
var ErrMalformed = errors.New("model reply could not be parsed")

const classifySystemPrompt = `You are the desk editor of a political news portal. You assign each article to exactly one section.`

const classifyPrompt = `Assign this article to ONE of these sections: %s

Title: %s
Excerpt: %s
Content:
%s

Respond with ONLY this JSON:
{
    "category": "one of the sections above, spelled exactly as listed",
    "confidence": 0-100,
    "reasoning": "One sentence explaining the choice"
}`

const scoreSystemPrompt = `You are a demanding copy editor reviewing news articles before publication.`

const scorePrompt = `Review this news article for factual tone, structure, clarity, headline quality and SEO readiness.

Title: %s
Content:
%s

Respond with ONLY this JSON:
{
    "score": 0-100,
    "feedback": "Two or three sentences of overall feedback",
    "suggestions": ["concrete improvement 1", "concrete improvement 2"]
}`

// Classifier assigns categories and quality scores with an LLM. Both
// operations always return a usable value; a non-nil error means the value
// is the fixed fallback.
type Classifier struct {
	provider   llm.Provider
	categories []string
	timeout    time.Duration
}

// NewClassifier creates a classifier over the given category table. The
// first category is the default.
func NewClassifier(provider llm.Provider, categories []string, timeout time.Duration) *Classifier {
	if provider == nil {
		provider = llm.Offline{}
	}
	if len(categories) == 0 {
		categories = []string{"General"}
	}
	return &Classifier{provider: provider, categories: categories, timeout: timeout}
}

// DefaultCategory is the category used by the fallback.
func (c *Classifier) DefaultCategory() string {
	return c.categories[0]
}

// Classify assigns one of the configured categories to the draft.
func (c *Classifier) Classify(ctx context.Context, d article.DraftArticle) (article.Classification, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	prompt := fmt.Sprintf(classifyPrompt,
		strings.Join(c.categories, ", "), d.Title, d.Excerpt, preview(d.Body))
	text, err := c.provider.Complete(ctx, classifySystemPrompt, prompt, llm.Options{Temperature: 0.1, MaxTokens: 256})
	if err != nil {
		log.Printf("Classification failed, using default category: %v", err)
		return c.fallbackClassification(), err
	}

	// Models answer confidence as 87, 87.5 or "87"; GetInt takes all three.
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		log.Printf("Classification reply unparseable, using default category")
		return c.fallbackClassification(), ErrMalformed
	}

	chosen := llm.GetString(parsed, "category", "")
	category, ok := c.match(chosen)
	if !ok {
		log.Printf("Model chose unknown category %q, using default", chosen)
		return c.fallbackClassification(), fmt.Errorf("unknown category %q: %w", chosen, ErrMalformed)
	}

	return article.Classification{
		Category:   category,
		Confidence: clamp(llm.GetInt(parsed, "confidence", FallbackConfidence), 0, 100),
		Reasoning:  llm.GetString(parsed, "reasoning", "Sin justificación del modelo."),
	}, nil
}

// Score produces an advisory quality report for the draft.
func (c *Classifier) Score(ctx context.Context, d article.DraftArticle) (article.QualityReport, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	prompt := fmt.Sprintf(scorePrompt, d.Title, preview(d.Body))
	text, err := c.provider.Complete(ctx, scoreSystemPrompt, prompt, llm.Options{Temperature: 0.2, MaxTokens: 512})
	if err != nil {
		log.Printf("Quality scoring failed, using default score: %v", err)
		return FallbackQuality(), err
	}

	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		log.Printf("Quality reply unparseable, using default score")
		return FallbackQuality(), ErrMalformed
	}
	if _, ok := parsed["score"]; !ok {
		return FallbackQuality(), fmt.Errorf("reply has no score: %w", ErrMalformed)
	}

	suggestions := llm.GetStrings(parsed, "suggestions")
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return article.QualityReport{
		Score:       clamp(llm.GetInt(parsed, "score", FallbackScore), 0, MaxScore),
		MaxScore:    MaxScore,
		Feedback:    llm.GetString(parsed, "feedback", ""),
		Suggestions: suggestions,
	}, nil
}

// Override records that the caller's explicit category replaced the
// inferred one.
func Override(inferred article.Classification, category string) article.Classification {
	if textnorm.Fold(inferred.Category) == textnorm.Fold(category) {
		inferred.Category = category
		return inferred
	}
	return article.Classification{
		Category:   category,
		Confidence: 100,
		Reasoning:  fmt.Sprintf("Categoría indicada por el editor (el modelo sugirió %q).", inferred.Category),
	}
}

// FallbackQuality is the report used when scoring is unavailable.
func FallbackQuality() article.QualityReport {
	return article.QualityReport{
		Score:       FallbackScore,
		MaxScore:    MaxScore,
		Feedback:    fallbackFeedback,
		Suggestions: append([]string(nil), fallbackSuggestions...),
	}
}

func (c *Classifier) fallbackClassification() article.Classification {
	return article.Classification{
		Category:   c.DefaultCategory(),
		Confidence: FallbackConfidence,
		Reasoning:  fallbackReasoning,
	}
}

// match resolves a model-provided category against the table, ignoring case
// and accents.
func (c *Classifier) match(name string) (string, bool) {
	folded := textnorm.Fold(name)
	if folded == "" {
		return "", false
	}
	for _, cat := range c.categories {
		if textnorm.Fold(cat) == folded {
			return cat, true
		}
	}
	return "", false
}

func (c *Classifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func preview(body string) string {
	text := seo.StripHTML(body)
	r := []rune(text)
	if len(r) > contentPreviewLen {
		return string(r[:contentPreviewLen]) + "..."
	}
	return text
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
