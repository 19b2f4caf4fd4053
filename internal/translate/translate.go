// Package translate fans an article out to several languages concurrently.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/seo"
)

const maxParallel = 4

var (
	// ErrUnknownLanguage is recorded for language codes with no known name.
	ErrUnknownLanguage = errors.New("unknown language code")
	// ErrMalformed is recorded when a reply lacks a title or body.
	ErrMalformed = errors.New("translation reply could not be parsed")
)

const systemPrompt = `You are a professional news translator. You translate faithfully, keep names and figures unchanged and preserve all HTML tags.`

const translatePrompt = `Translate this news article from %s into %s.

Title: %s
Excerpt: %s
SEO title: %s
SEO description: %s
Body (HTML):
%s

Respond with ONLY this JSON:
{
    "title": "translated title",
    "excerpt": "translated excerpt",
    "body": "translated body, same HTML structure",
    "seo_title": "translated SEO title",
    "seo_description": "translated SEO description"
}`

// Source is the article content to translate.
type Source struct {
	Title          string
	Excerpt        string
	Body           string
	SeoTitle       string
	SeoDescription string
}

// Outcome is the result for one requested language.
type Outcome struct {
	Lang    string
	Skipped bool
	Err     error
}

// OK reports whether the language ended up in the TranslationSet.
func (o Outcome) OK() bool { return !o.Skipped && o.Err == nil }

// Translator produces TranslationSets.
type Translator struct {
	provider   llm.Provider
	extractor  *seo.Extractor
	sourceLang string
	timeout    time.Duration
}

// NewTranslator creates a translator for articles written in sourceLang.
func NewTranslator(provider llm.Provider, extractor *seo.Extractor, sourceLang string, timeout time.Duration) *Translator {
	if provider == nil {
		provider = llm.Offline{}
	}
	if extractor == nil {
		extractor = seo.NewExtractor(nil, "")
	}
	return &Translator{
		provider:   provider,
		extractor:  extractor,
		sourceLang: strings.ToLower(strings.TrimSpace(sourceLang)),
		timeout:    timeout,
	}
}

type reply struct {
	Title          string `json:"title"`
	Excerpt        string `json:"excerpt"`
	Body           string `json:"body"`
	SeoTitle       string `json:"seo_title"`
	SeoDescription string `json:"seo_description"`
}

// Translate requests one translation per language in parallel. Languages
// that fail are absent from the set and reported in the outcomes, which
// follow the order of langs.
func (t *Translator) Translate(ctx context.Context, src Source, langs []string) (article.TranslationSet, []Outcome) {
	set := article.TranslationSet{}
	outcomes := make([]Outcome, len(langs))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(maxParallel)

	seen := map[string]bool{}
	for i, raw := range langs {
		code := strings.ToLower(strings.TrimSpace(raw))
		outcomes[i] = Outcome{Lang: code}
		if code == "" || code == t.sourceLang || seen[code] {
			outcomes[i].Skipped = true
			continue
		}
		seen[code] = true

		g.Go(func() error {
			tr, err := t.translateOne(ctx, src, code)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("Translation to %s failed: %v", code, err)
				outcomes[i].Err = err
				return nil
			}
			set[code] = tr
			return nil
		})
	}
	_ = g.Wait()
	return set, outcomes
}

func (t *Translator) translateOne(ctx context.Context, src Source, code string) (article.Translation, error) {
	target, ok := LanguageName(code)
	if !ok {
		return article.Translation{}, fmt.Errorf("%q: %w", code, ErrUnknownLanguage)
	}
	source, ok := LanguageName(t.sourceLang)
	if !ok {
		source = "the original language"
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(translatePrompt, source, target,
		src.Title, src.Excerpt, src.SeoTitle, src.SeoDescription, src.Body)
	text, err := t.provider.Complete(ctx, systemPrompt, prompt, llm.Options{Temperature: 0.2, MaxTokens: 4096})
	if err != nil {
		return article.Translation{}, err
	}

	parsed := llm.ParseInto[reply](text)
	if parsed.Malformed() {
		return article.Translation{}, ErrMalformed
	}
	r := parsed.Value
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Body) == "" {
		return article.Translation{}, ErrMalformed
	}

	seoTitle := r.SeoTitle
	if strings.TrimSpace(seoTitle) == "" {
		seoTitle = r.Title
	}
	desc := r.SeoDescription
	if strings.TrimSpace(desc) == "" {
		desc = seo.StripHTML(r.Body)
	}
	excerpt := strings.TrimSpace(r.Excerpt)
	if excerpt == "" {
		excerpt = seo.Excerpt(r.Body, 150)
	}
	return article.Translation{
		Title:          strings.TrimSpace(r.Title),
		Excerpt:        excerpt,
		Body:           r.Body,
		SeoTitle:       t.extractor.NormalizeTitle(seoTitle),
		SeoDescription: seo.NormalizeDescription(desc),
	}, nil
}

// LanguageName returns the English name of an ISO language code.
func LanguageName(code string) (string, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	name := display.English.Languages().Name(base)
	if name == "" {
		return "", false
	}
	return name, true
}
