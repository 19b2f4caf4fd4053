package database

import (
	"time"

	"github.com/TobiSchelling/pressroom/internal/article"
)

// StoredArticle is a published article as kept in the articles table.
type StoredArticle struct {
	ID           int64                      `json:"id"`
	Slug         string                     `json:"slug"`
	Title        string                     `json:"title"`
	Category     string                     `json:"category"`
	ImageSource  string                     `json:"image_source"`
	QualityScore int                        `json:"quality_score"`
	PublishedURL string                     `json:"published_url"`
	RunID        string                     `json:"run_id,omitempty"`
	Article      article.PublishableArticle `json:"article"`
	CreatedAt    string                     `json:"created_at"`
}

// Run status values.
const (
	RunOK       = "ok"
	RunDegraded = "degraded"
	RunFailed   = "failed"
)

// RunRecord is the history entry of one generation run. Report holds the
// JSON-encoded stage report.
type RunRecord struct {
	ID            string    `json:"id"`
	SourceKind    string    `json:"source_kind"`
	SourceSummary string    `json:"source_summary"`
	Status        string    `json:"status"`
	ArticleID     *int64    `json:"article_id,omitempty"`
	Report        string    `json:"report,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Stats summarizes database contents.
type Stats struct {
	Articles        int
	Runs            int
	FailedRuns      int
	DegradedRuns    int
	CacheEntries    int
	IndexingRecords int
}
