package database

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/cache"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testArticle(title string) article.PublishableArticle {
	return article.PublishableArticle{
		Draft:          article.DraftArticle{Title: title, Body: "<p>Cuerpo</p>", Excerpt: "Cuerpo", Category: "Política", Tags: []string{"jubilaciones"}},
		Seo:            article.SeoMetadata{SeoTitle: title, Keywords: []string{"reforma"}},
		Classification: article.Classification{Category: "Política", Confidence: 90},
		Quality:        article.QualityReport{Score: 80, MaxScore: 100},
		Image:          article.ImageAsset{URL: "/images/fallback/politica.jpg", Source: article.ImageFallback},
		Translations:   article.TranslationSet{"en": {Title: "Pension reform"}},
	}
}

func TestSaveArticle(t *testing.T) {
	db := openTestDB(t)
	stored, err := db.SaveArticle("https://portal.example/", "run-1", testArticle("Reforma previsional: ¿qué cambia?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Slug != "reforma-previsional-que-cambia" {
		t.Errorf("unexpected slug %q", stored.Slug)
	}
	if stored.PublishedURL != "https://portal.example/reforma-previsional-que-cambia" {
		t.Errorf("unexpected url %q", stored.PublishedURL)
	}
	if stored.Article.PublishedURL != stored.PublishedURL {
		t.Error("expected payload to carry the published url")
	}
	if stored.Article.Translations["en"].Title != "Pension reform" {
		t.Error("expected translations to round-trip")
	}
	if stored.ImageSource != "Fallback" || stored.QualityScore != 80 {
		t.Errorf("unexpected columns %+v", stored)
	}
}

func TestSaveArticleUniqueSlug(t *testing.T) {
	db := openTestDB(t)
	a, _ := db.SaveArticle("https://p.example", "", testArticle("Dólar hoy"))
	b, err := db.SaveArticle("https://p.example", "", testArticle("Dólar hoy"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Slug != "dolar-hoy" || b.Slug != "dolar-hoy-2" {
		t.Errorf("expected dolar-hoy and dolar-hoy-2, got %q and %q", a.Slug, b.Slug)
	}
	empty, _ := db.SaveArticle("https://p.example", "", testArticle("¿?"))
	if empty.Slug != "articulo" {
		t.Errorf("expected placeholder slug, got %q", empty.Slug)
	}
}

func TestGetArticleMissing(t *testing.T) {
	db := openTestDB(t)
	a, err := db.GetArticleBySlug("nope")
	if err != nil || a != nil {
		t.Errorf("expected nil, nil; got %v, %v", a, err)
	}
}

func TestListArticles(t *testing.T) {
	db := openTestDB(t)
	db.SaveArticle("https://p.example", "", testArticle("Uno"))
	eco := testArticle("Dos")
	eco.Classification.Category = "Economía"
	db.SaveArticle("https://p.example", "", eco)
	db.SaveArticle("https://p.example", "", testArticle("Tres"))

	all, err := db.ListArticles(ArticleFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].Title != "Tres" {
		t.Errorf("expected newest first, got %d articles", len(all))
	}

	politics, _ := db.ListArticles(ArticleFilter{Category: "Política", Limit: 1})
	if len(politics) != 1 || politics[0].Title != "Tres" {
		t.Errorf("unexpected filtered list %+v", politics)
	}
}

func TestRuns(t *testing.T) {
	db := openTestDB(t)
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	report, _ := json.Marshal(map[string]int{"fallbacks": 1})

	if err := db.SaveRun(RunRecord{ID: "a", SourceKind: "topic", SourceSummary: "Reforma", Status: RunOK, StartedAt: start}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	db.SaveRun(RunRecord{ID: "b", SourceKind: "url", Status: RunFailed, Error: "empty", StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute)})
	db.SaveRun(RunRecord{ID: "c", SourceKind: "raw_text", Status: RunDegraded, Report: string(report), StartedAt: start.Add(2 * time.Minute)})

	stored, _ := db.SaveArticle("https://p.example", "a", testArticle("Uno"))
	if err := db.AttachArticle("a", stored.ID); err != nil {
		t.Fatalf("AttachArticle: %v", err)
	}

	run, err := db.GetRun("a")
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ArticleID == nil || *run.ArticleID != stored.ID {
		t.Errorf("expected attached article, got %v", run.ArticleID)
	}
	if !run.StartedAt.Equal(start) || !run.FinishedAt.IsZero() {
		t.Errorf("unexpected times %v %v", run.StartedAt, run.FinishedAt)
	}

	runs, _ := db.ListRuns("", 0)
	if len(runs) != 3 || runs[0].ID != "c" {
		t.Errorf("expected newest first, got %+v", runs)
	}
	failed, _ := db.ListRuns(RunFailed, 10)
	if len(failed) != 1 || failed[0].Error != "empty" {
		t.Errorf("unexpected failed runs %+v", failed)
	}

	missing, err := db.GetRun("zzz")
	if err != nil || missing != nil {
		t.Errorf("expected nil run, got %v, %v", missing, err)
	}
}

func TestCacheBackend(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	db.PutCacheEntry("img", "k1", []byte(`"v1"`), now.Add(time.Hour))
	db.PutCacheEntry("img", "k2", []byte(`"v2"`), now.Add(-time.Hour))
	db.PutCacheEntry("img", "k3", []byte(`"v3"`), time.Time{})

	v, exp, ok, err := db.GetCacheEntry("img", "k1")
	if err != nil || !ok || string(v) != `"v1"` {
		t.Fatalf("unexpected entry %q %v %v", v, ok, err)
	}
	if exp.UnixNano() != now.Add(time.Hour).UnixNano() {
		t.Errorf("unexpected expiry %v", exp)
	}
	if _, exp, ok, _ := db.GetCacheEntry("img", "k3"); !ok || !exp.IsZero() {
		t.Errorf("expected non-expiring entry")
	}
	if _, _, ok, _ := db.GetCacheEntry("other", "k1"); ok {
		t.Error("expected namespaces to be separate")
	}

	n, err := db.PurgeCache(false, now)
	if err != nil || n != 1 {
		t.Errorf("expected 1 expired row purged, got %d, %v", n, err)
	}
	n, _ = db.PurgeCache(true, now)
	if n != 2 {
		t.Errorf("expected 2 rows purged, got %d", n)
	}
}

func TestLayeredCacheOverDB(t *testing.T) {
	db := openTestDB(t)
	store := cache.NewLayered[article.ImageAsset](db, "images")
	asset := article.ImageAsset{URL: "https://img.example/1.png", Source: article.ImageGenerated}
	store.Set("fp", asset, time.Hour)

	fresh := cache.NewLayered[article.ImageAsset](db, "images")
	got, ok := fresh.Get("fp")
	if !ok || got != asset {
		t.Errorf("expected persisted asset, got %+v %v", got, ok)
	}
}

func TestIndexingRecords(t *testing.T) {
	db := openTestDB(t)
	url := "https://p.example/uno"
	db.SaveIndexingRecord(article.IndexingRecord{URL: url, Targets: []article.TargetResult{
		{Name: "google", Status: article.TargetFailed, Detail: "HTTP 500"},
		{Name: "bing", Status: article.TargetSkipped},
	}})
	db.SaveIndexingRecord(article.IndexingRecord{URL: url, Targets: []article.TargetResult{
		{Name: "google", Status: article.TargetSuccess},
	}})

	rec, err := db.GetIndexingRecord(url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %+v", rec.Targets)
	}
	if rec.Targets[0].Name != "google" || rec.Targets[0].Status != article.TargetSuccess {
		t.Errorf("expected latest google result, got %+v", rec.Targets[0])
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	db.SaveArticle("https://p.example", "", testArticle("Uno"))
	db.SaveRun(RunRecord{ID: "a", SourceKind: "topic", Status: RunDegraded, StartedAt: time.Now()})
	db.PutCacheEntry("img", "k", []byte("1"), time.Time{})

	s, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Articles != 1 || s.Runs != 1 || s.DegradedRuns != 1 || s.CacheEntries != 1 || s.FailedRuns != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestHasRunForSource(t *testing.T) {
	db := openTestDB(t)
	db.SaveRun(RunRecord{ID: "a", SourceKind: "url", SourceSummary: "https://x.example/1", Status: RunOK, StartedAt: time.Now()})
	db.SaveRun(RunRecord{ID: "b", SourceKind: "url", SourceSummary: "https://x.example/2", Status: RunFailed, StartedAt: time.Now()})

	if ok, err := db.HasRunForSource("url", "https://x.example/1"); err != nil || !ok {
		t.Errorf("expected processed source, got %v %v", ok, err)
	}
	if ok, _ := db.HasRunForSource("url", "https://x.example/2"); ok {
		t.Error("expected failed run to be retried")
	}
}

func TestSaveRunKeepsAttachedArticle(t *testing.T) {
	db := openTestDB(t)
	db.SaveRun(RunRecord{ID: "a", SourceKind: "topic", Status: RunOK, StartedAt: time.Now()})
	stored, _ := db.SaveArticle("https://p.example", "a", testArticle("Uno"))
	db.AttachArticle("a", stored.ID)

	if err := db.SaveRun(RunRecord{ID: "a", SourceKind: "topic", Status: RunDegraded, Report: "{}", StartedAt: time.Now()}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run, _ := db.GetRun("a")
	if run.Status != RunDegraded || run.ArticleID == nil {
		t.Errorf("expected updated status with article kept, got %+v", run)
	}
}
