package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/database"
)

const summaryLen = 120

// Store persists articles and run history.
type Store interface {
	SaveArticle(baseURL, runID string, a article.PublishableArticle) (*database.StoredArticle, error)
	SaveRun(r database.RunRecord) error
	AttachArticle(runID string, articleID int64) error
	SaveIndexingRecord(rec article.IndexingRecord) error
}

// Notifier tells search engines about a published URL.
type Notifier interface {
	Notify(ctx context.Context, pageURL string) article.IndexingRecord
}

// Publisher stores generated articles and notifies indexing targets.
type Publisher struct {
	store    Store
	notifier Notifier
	baseURL  string
}

// NewPublisher creates a publisher. notifier may be nil to skip indexing.
func NewPublisher(store Store, notifier Notifier, baseURL string) *Publisher {
	return &Publisher{store: store, notifier: notifier, baseURL: baseURL}
}

// Published is the outcome of Publish.
type Published struct {
	Article  *database.StoredArticle
	Indexing article.IndexingRecord
}

// Publish stores the run's article, fills its published URL, records the
// run and notifies the indexing targets. Indexing results are appended to
// the run report and never fail the call.
func (p *Publisher) Publish(ctx context.Context, run *Run) (*Published, error) {
	if err := p.store.SaveRun(run.Record()); err != nil {
		return nil, err
	}
	stored, err := p.store.SaveArticle(p.baseURL, run.ID, run.Article)
	if err != nil {
		return nil, fmt.Errorf("storing article: %w", err)
	}
	run.Article.PublishedURL = stored.PublishedURL
	if err := p.store.AttachArticle(run.ID, stored.ID); err != nil {
		log.Printf("Failed to link run %s to article %d: %v", run.ID, stored.ID, err)
	}

	out := &Published{Article: stored, Indexing: article.IndexingRecord{URL: stored.PublishedURL}}
	if p.notifier != nil {
		out.Indexing = p.Notify(ctx, run, stored.PublishedURL)
	}
	return out, nil
}

// Notify sends pageURL to the indexing targets, stores the record and, when
// run is non-nil, adds the outcome to its report.
func (p *Publisher) Notify(ctx context.Context, run *Run, pageURL string) article.IndexingRecord {
	if p.notifier == nil {
		return article.IndexingRecord{URL: pageURL}
	}
	rec := p.notifier.Notify(ctx, pageURL)
	if err := p.store.SaveIndexingRecord(rec); err != nil {
		log.Printf("Failed to store indexing record for %s: %v", pageURL, err)
	}
	if run != nil {
		run.Report.AddIndexing(rec)
		if err := p.store.SaveRun(run.Record()); err != nil {
			log.Printf("Failed to update run %s: %v", run.ID, err)
		}
	}
	return rec
}

// RecordFailure stores a run that ended in a hard error.
func (p *Publisher) RecordFailure(id string, in article.SourceInput, started time.Time, cause error) error {
	return p.store.SaveRun(database.RunRecord{
		ID:            id,
		SourceKind:    string(in.Kind),
		SourceSummary: SourceSummary(in),
		Status:        database.RunFailed,
		Error:         cause.Error(),
		StartedAt:     started,
		FinishedAt:    time.Now(),
	})
}

// Record converts the run into its history row.
func (r *Run) Record() database.RunRecord {
	status := database.RunOK
	if r.Report.Degraded() {
		status = database.RunDegraded
	}
	report, err := json.Marshal(r.Report)
	if err != nil {
		report = nil
	}
	return database.RunRecord{
		ID:            r.ID,
		SourceKind:    string(r.Input.Kind),
		SourceSummary: SourceSummary(r.Input),
		Status:        status,
		Report:        string(report),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

// SourceSummary is the short description of an input kept in run history:
// the URL for Url inputs, otherwise the start of the text.
func SourceSummary(in article.SourceInput) string {
	if in.Kind == article.SourceURL {
		return in.URL
	}
	s := strings.Join(strings.Fields(in.Text), " ")
	return clip(s, summaryLen)
}
