// Package pipeline turns a SourceInput into a PublishableArticle: one draft
// call, then SEO, classification, scoring and image resolution in parallel,
// then translation fan-out. Every stage after the draft degrades to a
// fallback instead of failing the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/classify"
	"github.com/TobiSchelling/pressroom/internal/config"
	"github.com/TobiSchelling/pressroom/internal/fetch"
	"github.com/TobiSchelling/pressroom/internal/images"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/seo"
	"github.com/TobiSchelling/pressroom/internal/translate"
)

// ErrEmptySource is returned when the input carries nothing to write about.
var ErrEmptySource = article.ErrEmptySource

// ErrNoDraft is returned when the draft call failed and the input offered no
// text to fall back on.
var ErrNoDraft = errors.New("no draft could be produced")

// PageFetcher loads the context for Url inputs.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*fetch.Page, error)
}

// Deps are the collaborators of a Pipeline. Nil fields get offline
// defaults.
type Deps struct {
	Provider     llm.Provider
	Fetcher      PageFetcher
	SEO          *seo.Extractor
	Classifier   *classify.Classifier
	Images       *images.Resolver
	Translator   *translate.Translator
	Languages    []string
	Categories   []string
	Options      llm.Options
	DraftTimeout time.Duration
	RetryBackoff time.Duration
	Debug        bool
}

// Pipeline orchestrates article generation.
type Pipeline struct {
	draft      llm.Provider
	fetcher    PageFetcher
	seo        *seo.Extractor
	classifier *classify.Classifier
	images     *images.Resolver
	translator *translate.Translator
	languages  []string
	categories []string
	opts       llm.Options
	timeout    time.Duration
	debug      bool
}

// Run is the result of one Generate call.
type Run struct {
	ID         string                     `json:"id"`
	Input      article.SourceInput        `json:"input"`
	Article    article.PublishableArticle `json:"article"`
	Report     *Report                    `json:"report"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}

// New creates a pipeline. The draft call is wrapped with a single retry on
// transient errors; other stages are never retried.
func New(d Deps) *Pipeline {
	provider := d.Provider
	if provider == nil {
		provider = llm.Offline{}
	}
	if d.SEO == nil {
		d.SEO = seo.NewExtractor(nil, "")
	}
	if d.Classifier == nil {
		d.Classifier = classify.NewClassifier(provider, d.Categories, d.DraftTimeout)
	}
	if d.Images == nil {
		d.Images = images.NewResolver(nil, nil, nil, config.DefaultTables(), images.Options{})
	}
	if d.Translator == nil {
		d.Translator = translate.NewTranslator(provider, d.SEO, "es", d.DraftTimeout)
	}
	if len(d.Categories) == 0 {
		d.Categories = []string{d.Classifier.DefaultCategory()}
	}
	return &Pipeline{
		draft:      llm.WithRetry(provider, d.RetryBackoff),
		fetcher:    d.Fetcher,
		seo:        d.SEO,
		classifier: d.Classifier,
		images:     d.Images,
		translator: d.Translator,
		languages:  d.Languages,
		categories: d.Categories,
		opts:       d.Options,
		timeout:    d.DraftTimeout,
		debug:      d.Debug,
	}
}

// Generate runs the full pipeline for one input. The only errors are an
// empty input, a failed draft with nothing to degrade to and cancellation of
// ctx; every other stage failure is reported in Run.Report and replaced by
// its fallback.
func (p *Pipeline) Generate(ctx context.Context, in article.SourceInput) (*Run, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	run := &Run{ID: uuid.NewString(), Input: in, Report: &Report{}, StartedAt: time.Now()}
	log.Printf("Run %s: generating from %s input", run.ID, in.Kind)

	log.Println("Step 1/4: Drafting article...")
	sourceText, currentImage := p.sourceContext(ctx, in, run.Report)
	draft, err := p.generateDraft(ctx, in, sourceText, run.Report)
	if err != nil {
		return nil, err
	}
	if err := cancelled(ctx, run); err != nil {
		return nil, err
	}

	caller := in.CallerCategory()
	if caller != "" {
		draft = draft.WithCategory(caller)
	}
	draft.Tags = mergeTags(in.Keywords, draft.Tags)

	log.Println("Step 2/4: SEO, classification, scoring and image...")
	var (
		meta    article.SeoMetadata
		cls     article.Classification
		quality article.QualityReport
		image   article.ImageAsset
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		started := time.Now()
		meta = p.seo.Derive(draft)
		run.Report.Add(StageSEO, Succeeded, started, fmt.Sprintf("%d keywords", len(meta.Keywords)), nil)
		return nil
	})
	g.Go(func() error {
		started := time.Now()
		var err error
		cls, err = p.classifier.Classify(gctx, draft)
		run.Report.Add(StageClassification, statusOf(err), started, "", err)
		return nil
	})
	g.Go(func() error {
		started := time.Now()
		var err error
		quality, err = p.classifier.Score(gctx, draft)
		run.Report.Add(StageQuality, statusOf(err), started, fmt.Sprintf("score %d", quality.Score), err)
		return nil
	})
	g.Go(func() error {
		started := time.Now()
		category := draft.Category
		if category == "" {
			category = p.classifier.DefaultCategory()
		}
		var out images.Outcome
		image, out = p.images.Resolve(gctx, images.Semantics{
			Title:        draft.Title,
			Excerpt:      draft.Excerpt,
			Body:         draft.Body,
			Category:     category,
			CurrentImage: currentImage,
		})
		detail := string(image.Source)
		if out.Cached {
			detail += " (cached)"
		}
		run.Report.Add(StageImage, imageStatus(image), started, detail, out.Err)
		return nil
	})
	_ = g.Wait()
	if err := cancelled(ctx, run); err != nil {
		return nil, err
	}

	if caller != "" {
		cls = classify.Override(cls, caller)
	}
	draft = draft.WithCategory(cls.Category)

	log.Println("Step 3/4: Translating...")
	translateStarted := time.Now()
	translations, outcomes := p.translator.Translate(ctx, translate.Source{
		Title:          draft.Title,
		Excerpt:        draft.Excerpt,
		Body:           draft.Body,
		SeoTitle:       meta.SeoTitle,
		SeoDescription: meta.SeoDescription,
	}, p.languages)
	for _, o := range outcomes {
		status := Succeeded
		switch {
		case o.Skipped:
			status = Skipped
		case o.Err != nil:
			status = FellBack
		}
		run.Report.Add(StageTranslation+":"+o.Lang, status, translateStarted, "", o.Err)
	}
	if err := cancelled(ctx, run); err != nil {
		return nil, err
	}

	log.Println("Step 4/4: Assembling article...")
	run.Article = article.PublishableArticle{
		Draft:          draft,
		Seo:            meta,
		Classification: cls,
		Quality:        quality,
		Image:          image,
		Translations:   translations,
	}
	run.FinishedAt = time.Now()
	log.Printf("Run %s finished in %s: %s", run.ID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), run.Report.Summary())
	return run, nil
}

// sourceContext returns the text the draft is written from and, for Url
// inputs, the page's current image.
func (p *Pipeline) sourceContext(ctx context.Context, in article.SourceInput, report *Report) (string, string) {
	switch in.Kind {
	case article.SourceURL:
		started := time.Now()
		if p.fetcher == nil {
			report.Add(StageFetch, Skipped, started, "no fetcher configured", nil)
			return in.URL, ""
		}
		page, err := p.fetcher.Fetch(ctx, in.URL)
		if page == nil {
			report.Add(StageFetch, FellBack, started, "", err)
			return in.URL, ""
		}
		text := page.Text
		if err != nil {
			report.Add(StageFetch, FellBack, started, "", err)
			text = strings.TrimSpace(page.Title + "\n\n" + page.Description)
			if text == "" {
				text = in.URL
			}
		} else {
			report.Add(StageFetch, Succeeded, started, fmt.Sprintf("%d chars", len(page.Text)), nil)
		}
		if page.Title != "" && !strings.HasPrefix(text, page.Title) {
			text = page.Title + "\n\n" + text
		}
		return text, page.Image
	case article.SourceTranscript:
		if in.OriginURL != "" {
			return in.Text + "\n\nFuente: " + in.OriginURL, ""
		}
		return in.Text, ""
	default:
		return in.Text, ""
	}
}

// generateDraft makes the single draft call and degrades to heuristic
// extraction when it fails or the reply is malformed.
func (p *Pipeline) generateDraft(ctx context.Context, in article.SourceInput, sourceText string, report *Report) (article.DraftArticle, error) {
	started := time.Now()
	dctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	prompt := buildPrompt(in, sourceText, p.categories)
	p.debugf("draft prompt (%d chars)", len(prompt))
	text, err := p.draft.Complete(dctx, draftSystemPrompt, prompt, p.opts)

	fallbackText := sourceText
	if err == nil {
		draft, parsed, ok := parseDraft(text)
		if ok {
			report.Add(StageDraft, Succeeded, started, "", nil)
			return draft, nil
		}
		err = fmt.Errorf("draft reply: %w", llm.ErrMalformed)
		if raw := parsed.Raw; parsed.Malformed() && strings.TrimSpace(raw) != "" {
			if !looksLikeJSON(raw) {
				fallbackText = raw
			} else if draft, ok := salvageDraft(raw); ok {
				log.Printf("Draft reply was cut short, salvaged title and body")
				report.Add(StageDraft, FellBack, started, "salvaged partial reply", err)
				return draft, nil
			}
		}
	}
	log.Printf("Draft generation degraded to heuristic extraction: %v", err)

	draft, ok := heuristicDraft(fallbackText)
	if !ok {
		report.Add(StageDraft, FellBack, started, "", err)
		return article.DraftArticle{}, fmt.Errorf("%w: %w", ErrNoDraft, err)
	}
	report.Add(StageDraft, FellBack, started, "heuristic extraction", err)
	return draft, nil
}

// cancelled returns a non-nil error once the caller gave up on the run.
// Fallbacks taken because of the cancellation must not be published.
func cancelled(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		log.Printf("Run %s cancelled: %v", run.ID, err)
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	return nil
}

func (p *Pipeline) debugf(format string, args ...any) {
	if p.debug {
		log.Printf("[debug] "+format, args...)
	}
}

func statusOf(err error) Status {
	if err != nil {
		return FellBack
	}
	return Succeeded
}

func imageStatus(a article.ImageAsset) Status {
	if a.Source == article.ImageFallback {
		return FellBack
	}
	return Succeeded
}
