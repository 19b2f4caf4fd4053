package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/classify"
	"github.com/TobiSchelling/pressroom/internal/config"
	"github.com/TobiSchelling/pressroom/internal/fetch"
	"github.com/TobiSchelling/pressroom/internal/images"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/seo"
	"github.com/TobiSchelling/pressroom/internal/translate"
)

// routingProvider answers each kind of prompt with a canned reply, keyed on
// a fragment of the system prompt.
type routingProvider struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   map[string]int
}

func newRoutingProvider() *routingProvider {
	return &routingProvider{replies: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (m *routingProvider) on(fragment, reply string) *routingProvider {
	m.replies[fragment] = reply
	return m
}

func (m *routingProvider) fail(fragment string, err error) *routingProvider {
	m.errs[fragment] = err
	return m
}

func (m *routingProvider) Complete(_ context.Context, system, _ string, _ llm.Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fragment, err := range m.errs {
		if strings.Contains(system, fragment) {
			m.calls[fragment]++
			return "", err
		}
	}
	for fragment, reply := range m.replies {
		if strings.Contains(system, fragment) {
			m.calls[fragment]++
			return reply, nil
		}
	}
	return "", &llm.Error{Op: "complete", Kind: llm.KindUnavailable, Err: errors.New("no reply configured")}
}

func (m *routingProvider) IsConfigured() bool { return true }

func (m *routingProvider) count(fragment string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[fragment]
}

const (
	routeDraft     = "political journalist"
	routeClassify  = "desk editor"
	routeScore     = "copy editor"
	routeTranslate = "news translator"
)

const reformaDraft = `{
  "title": "Reforma previsional: el Congreso debate los cambios en las jubilaciones",
  "content": "El oficialismo presentó el proyecto de reforma previsional.\n\nLa oposición anticipó cambios en el cálculo de las jubilaciones.",
  "excerpt": "El Congreso inicia el debate de la reforma previsional.",
  "category": "Política",
  "tags": ["reforma", "Jubilaciones", "congreso"]
}`

type noURLGenerator struct{}

func (noURLGenerator) GenerateImage(context.Context, llm.ImageRequest) (llm.ImageResult, error) {
	return llm.ImageResult{}, nil
}

type stubFetcher struct {
	page *fetch.Page
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) (*fetch.Page, error) {
	return s.page, s.err
}

func newTestPipeline(provider llm.Provider, fetcher PageFetcher, langs []string) *Pipeline {
	tables := config.DefaultTables()
	extractor := seo.NewExtractor(tables.StopWords, "Portal Político")
	return New(Deps{
		Provider:   provider,
		Fetcher:    fetcher,
		SEO:        extractor,
		Classifier: classify.NewClassifier(provider, tables.Categories, 0),
		Images:     images.NewResolver(noURLGenerator{}, nil, nil, tables, images.Options{}),
		Translator: translate.NewTranslator(provider, extractor, "es", 0),
		Languages:  langs,
		Categories: tables.Categories,
	})
}

func TestGenerateTopicEndToEnd(t *testing.T) {
	provider := newRoutingProvider().
		on(routeDraft, reformaDraft).
		on(routeClassify, `{"category": "politica", "confidence": 88, "reasoning": "Debate legislativo."}`).
		on(routeScore, `{"score": 82, "feedback": "Correcto.", "suggestions": ["Citar fuentes"]}`).
		on(routeTranslate, `{"title": "Pension reform debated", "excerpt": "Congress debates.", "body": "<p>Body</p>", "seo_title": "Pension reform", "seo_description": "Congress debates pension reform."}`)
	p := newTestPipeline(provider, nil, []string{"en"})

	run, err := p.Generate(context.Background(), article.NewTopic("Reforma previsional", "Política", []string{"jubilaciones"}))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	a := run.Article

	if a.Classification.Category != "Política" {
		t.Errorf("expected category Política, got %q", a.Classification.Category)
	}
	if a.Draft.Category != "Política" {
		t.Errorf("expected draft category Política, got %q", a.Draft.Category)
	}
	if n := utf8.RuneCountInString(a.Seo.SeoTitle); n < seo.MinTitleLen || n > seo.MaxTitleLen {
		t.Errorf("seo title length %d out of range: %q", n, a.Seo.SeoTitle)
	}
	if utf8.RuneCountInString(a.Seo.SeoDescription) > seo.MaxDescriptionLen {
		t.Errorf("seo description too long: %q", a.Seo.SeoDescription)
	}
	if a.Image.Source != article.ImageFallback {
		t.Errorf("expected fallback image, got %q", a.Image.Source)
	}
	if a.Quality.Score != 82 {
		t.Errorf("expected score 82, got %d", a.Quality.Score)
	}
	if !strings.HasPrefix(a.Draft.Body, "<p>") {
		t.Errorf("expected HTML body, got %q", a.Draft.Body)
	}
	if len(a.Draft.Tags) == 0 || a.Draft.Tags[0] != "jubilaciones" {
		t.Errorf("expected caller keyword first, got %v", a.Draft.Tags)
	}
	for _, tag := range a.Draft.Tags[1:] {
		if tag == "Jubilaciones" {
			t.Errorf("duplicate tag kept: %v", a.Draft.Tags)
		}
	}
	if _, ok := a.Translations["en"]; !ok {
		t.Errorf("expected en translation, got %v", a.Translations)
	}
	if provider.count(routeDraft) != 1 {
		t.Errorf("expected one draft call, got %d", provider.count(routeDraft))
	}

	step, ok := run.Report.Step(StageImage)
	if !ok || step.Status != FellBack {
		t.Errorf("expected image step to fall back, got %+v", step)
	}
	if step, _ := run.Report.Step(StageDraft); step.Status != Succeeded {
		t.Errorf("expected draft ok, got %+v", step)
	}
}

func TestGenerateCallerCategoryOverridesModel(t *testing.T) {
	provider := newRoutingProvider().
		on(routeDraft, reformaDraft).
		on(routeClassify, `{"category": "Economía", "confidence": 70, "reasoning": "Habla de jubilaciones."}`)
	p := newTestPipeline(provider, nil, nil)

	run, err := p.Generate(context.Background(), article.NewTopic("Reforma previsional", "Política", nil))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cls := run.Article.Classification
	if cls.Category != "Política" || cls.Confidence != 100 {
		t.Errorf("expected caller category with confidence 100, got %+v", cls)
	}
	if !strings.Contains(cls.Reasoning, "Economía") {
		t.Errorf("expected reasoning to mention inferred category, got %q", cls.Reasoning)
	}
}

func TestGenerateOfflineUsesHeuristicDraft(t *testing.T) {
	p := newTestPipeline(llm.Offline{}, nil, []string{"en"})

	text := "Diputados aprueban el presupuesto\n\nLa Cámara baja aprobó el presupuesto tras una sesión de doce horas."
	run, err := p.Generate(context.Background(), article.NewRawText(text))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	a := run.Article
	if a.Draft.Title != "Diputados aprueban el presupuesto" {
		t.Errorf("unexpected heuristic title %q", a.Draft.Title)
	}
	if !strings.Contains(a.Draft.Body, "doce horas") {
		t.Errorf("expected body from source text, got %q", a.Draft.Body)
	}
	if a.Classification.Confidence != classify.FallbackConfidence {
		t.Errorf("expected fallback confidence, got %d", a.Classification.Confidence)
	}
	if a.Classification.Category != "Política" {
		t.Errorf("expected default category, got %q", a.Classification.Category)
	}
	if a.Quality.Score != classify.FallbackScore {
		t.Errorf("expected fallback score, got %d", a.Quality.Score)
	}
	if len(a.Translations) != 0 {
		t.Errorf("expected no translations, got %v", a.Translations)
	}
	if !run.Report.Degraded() {
		t.Error("expected degraded report")
	}
	if step, _ := run.Report.Step(StageDraft); step.Status != FellBack {
		t.Errorf("expected draft fallback, got %+v", step)
	}
	if step, ok := run.Report.Step(StageTranslation + ":en"); !ok || step.Status != FellBack {
		t.Errorf("expected failed translation step, got %+v", step)
	}
}

func TestGenerateMalformedDraftUsesRawReply(t *testing.T) {
	provider := newRoutingProvider().on(routeDraft, "# Título libre\n\nEl modelo respondió sin JSON.")
	p := newTestPipeline(provider, nil, nil)

	run, err := p.Generate(context.Background(), article.NewRawText("notas de la redacción"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if run.Article.Draft.Title != "Título libre" {
		t.Errorf("expected title from raw reply, got %q", run.Article.Draft.Title)
	}
	if provider.count(routeDraft) != 1 {
		t.Errorf("malformed reply must not be retried, got %d calls", provider.count(routeDraft))
	}
}

func TestGenerateTruncatedDraftSalvagesFields(t *testing.T) {
	truncated := "{\"title\": \"Reforma previsional: el Congreso debate\", \"content\": \"El oficialismo presentó el proyecto.\\n\\nLa oposición anticipó cam"
	provider := newRoutingProvider().on(routeDraft, truncated)
	p := newTestPipeline(provider, nil, nil)

	run, err := p.Generate(context.Background(), article.NewTopic("Reforma previsional", "", nil))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	d := run.Article.Draft
	if d.Title != "Reforma previsional: el Congreso debate" {
		t.Errorf("expected salvaged title, got %q", d.Title)
	}
	if strings.Contains(d.Body, "{") || !strings.Contains(d.Body, "El oficialismo presentó el proyecto.") {
		t.Errorf("expected salvaged body, got %q", d.Body)
	}
	if strings.HasPrefix(run.Article.Seo.SeoTitle, "{") {
		t.Errorf("raw JSON leaked into SEO title %q", run.Article.Seo.SeoTitle)
	}
}

func TestGenerateUnsalvageableJSONUsesSource(t *testing.T) {
	provider := newRoutingProvider().on(routeDraft, "```json\n{\"title\": \"Paro gene")
	p := newTestPipeline(provider, nil, nil)

	run, err := p.Generate(context.Background(), article.NewRawText("Paro general\n\nLa CGT convocó a un paro de 24 horas."))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if run.Article.Draft.Title != "Paro general" {
		t.Errorf("expected title from source text, got %q", run.Article.Draft.Title)
	}
}

func TestGenerateRetriesTransientDraftOnce(t *testing.T) {
	provider := newRoutingProvider().fail(routeDraft, &llm.Error{Op: "complete", Kind: llm.KindRateLimited})
	p := newTestPipeline(provider, nil, nil)

	if _, err := p.Generate(context.Background(), article.NewRawText("Título\n\nCuerpo")); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if provider.count(routeDraft) != 2 {
		t.Errorf("expected one retry, got %d calls", provider.count(routeDraft))
	}
}

func TestGenerateEmptySource(t *testing.T) {
	p := newTestPipeline(llm.Offline{}, nil, nil)

	for _, in := range []article.SourceInput{
		article.NewTopic("   ", "", nil),
		article.NewRawText(""),
		article.NewURL(""),
		article.NewTranscript("\n", "https://example.com/video"),
	} {
		if _, err := p.Generate(context.Background(), in); !errors.Is(err, ErrEmptySource) {
			t.Errorf("%s: expected ErrEmptySource, got %v", in.Kind, err)
		}
	}
}

func TestGenerateURLFetchFailureFallsBack(t *testing.T) {
	fetcher := stubFetcher{
		page: &fetch.Page{URL: "https://example.com/nota", Title: "Paro de transporte", Description: "Los gremios anunciaron un paro."},
		err:  fetch.ErrNoContent,
	}
	p := newTestPipeline(llm.Offline{}, fetcher, nil)

	run, err := p.Generate(context.Background(), article.NewURL("https://example.com/nota"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if run.Article.Draft.Title != "Paro de transporte" {
		t.Errorf("expected title from page metadata, got %q", run.Article.Draft.Title)
	}
	if step, _ := run.Report.Step(StageFetch); step.Status != FellBack {
		t.Errorf("expected fetch fallback, got %+v", step)
	}
}

func TestGenerateURLUnreachableUsesURL(t *testing.T) {
	p := newTestPipeline(llm.Offline{}, stubFetcher{err: errors.New("connection refused")}, nil)

	run, err := p.Generate(context.Background(), article.NewURL("https://example.com/nota"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if run.Article.Draft.Title != "https://example.com/nota" {
		t.Errorf("expected URL as title, got %q", run.Article.Draft.Title)
	}
}

func TestGenerateTranscriptMentionsOrigin(t *testing.T) {
	p := newTestPipeline(llm.Offline{}, nil, nil)

	run, err := p.Generate(context.Background(), article.NewTranscript("Entrevista al ministro\nHabló de la inflación.", "https://example.com/video"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(run.Article.Draft.Body, "https://example.com/video") {
		t.Errorf("expected origin in body, got %q", run.Article.Draft.Body)
	}
}

func TestMergeTags(t *testing.T) {
	got := mergeTags([]string{"Jubilaciones", " "}, []string{"jubilaciones", "Congreso", "congreso", "Reforma"})
	want := []string{"Jubilaciones", "Congreso", "Reforma"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestToHTML(t *testing.T) {
	if got := toHTML("Primer párrafo.\n\nSegundo **párrafo**."); got != "<p>Primer párrafo.</p>\n<p>Segundo <strong>párrafo</strong>.</p>" {
		t.Errorf("unexpected markdown rendering: %q", got)
	}
	html := "<p>Ya es HTML</p>"
	if got := toHTML(html); got != html {
		t.Errorf("expected HTML to pass through, got %q", got)
	}
}

func TestHeuristicDraftEmpty(t *testing.T) {
	if _, ok := heuristicDraft(" \n\n "); ok {
		t.Error("expected no draft from blank text")
	}
}

// blockingProvider holds calls for the given routes until their context
// ends and answers every other route through the embedded provider.
type blockingProvider struct {
	*routingProvider
	block    map[string]bool
	entered  chan string
	observed chan string
}

func newBlockingProvider(base *routingProvider, routes ...string) *blockingProvider {
	b := &blockingProvider{
		routingProvider: base,
		block:           map[string]bool{},
		entered:         make(chan string, 16),
		observed:        make(chan string, 16),
	}
	for _, r := range routes {
		b.block[r] = true
	}
	return b
}

func (b *blockingProvider) Complete(ctx context.Context, system, user string, opts llm.Options) (string, error) {
	for route := range b.block {
		if strings.Contains(system, route) {
			b.entered <- route
			<-ctx.Done()
			b.observed <- route
			return "", &llm.Error{Op: "complete", Kind: llm.KindTimeout, Err: ctx.Err()}
		}
	}
	return b.routingProvider.Complete(ctx, system, user, opts)
}

type blockingImages struct {
	entered  chan struct{}
	observed chan struct{}
}

func (g blockingImages) GenerateImage(ctx context.Context, _ llm.ImageRequest) (llm.ImageResult, error) {
	g.entered <- struct{}{}
	<-ctx.Done()
	g.observed <- struct{}{}
	return llm.ImageResult{}, ctx.Err()
}

func waitFor[T any](t *testing.T, ch chan T, n int, what string) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s (%d of %d)", what, i, n)
		}
	}
}

func generateAsync(ctx context.Context, p *Pipeline, in article.SourceInput) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(ctx, in)
		done <- err
	}()
	return done
}

func TestGenerateCancelReachesParallelStages(t *testing.T) {
	provider := newBlockingProvider(newRoutingProvider().on(routeDraft, reformaDraft), routeClassify, routeScore)
	imgs := blockingImages{entered: make(chan struct{}, 1), observed: make(chan struct{}, 1)}
	tables := config.DefaultTables()
	extractor := seo.NewExtractor(tables.StopWords, "Portal Político")
	p := New(Deps{
		Provider:   provider,
		SEO:        extractor,
		Classifier: classify.NewClassifier(provider, tables.Categories, 0),
		Images:     images.NewResolver(imgs, nil, nil, tables, images.Options{}),
		Translator: translate.NewTranslator(provider, extractor, "es", 0),
		Languages:  []string{"en"},
		Categories: tables.Categories,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := generateAsync(ctx, p, article.NewTopic("Reforma previsional", "", nil))

	waitFor(t, provider.entered, 2, "classification and scoring calls")
	waitFor(t, imgs.entered, 1, "image generation")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
	waitFor(t, provider.observed, 2, "model calls to see cancellation")
	waitFor(t, imgs.observed, 1, "image call to see cancellation")
	if provider.count(routeTranslate) != 0 {
		t.Error("translation must not start after cancellation")
	}
}

func TestGenerateCancelReachesTranslations(t *testing.T) {
	base := newRoutingProvider().
		on(routeDraft, reformaDraft).
		on(routeClassify, `{"category": "Política", "confidence": 80}`).
		on(routeScore, `{"score": 70}`)
	provider := newBlockingProvider(base, routeTranslate)
	p := newTestPipeline(provider, nil, []string{"en", "pt"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := generateAsync(ctx, p, article.NewTopic("Reforma previsional", "", nil))

	waitFor(t, provider.entered, 2, "translation calls")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
	waitFor(t, provider.observed, 2, "translation calls to see cancellation")
}
