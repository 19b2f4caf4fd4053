package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var runColumns = []string{
	"id", "source_kind", "source_summary", "status", "article_id",
	"report", "error", "started_at", "finished_at",
}

// SaveRun inserts or updates a run record. A nil ArticleID keeps any
// previously attached article; a zero StartedAt is stored as now.
func (db *DB) SaveRun(r RunRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := sq.Insert("runs").
		Columns(runColumns...).
		Values(r.ID, r.SourceKind, r.SourceSummary, r.Status, r.ArticleID,
			nullable(r.Report), nullable(r.Error), formatTime(r.StartedAt), formatTime(r.FinishedAt)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			article_id = COALESCE(excluded.article_id, runs.article_id),
			report = excluded.report,
			error = excluded.error,
			finished_at = excluded.finished_at`).
		RunWith(db.conn).
		Exec()
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// AttachArticle links a stored article to its run.
func (db *DB) AttachArticle(runID string, articleID int64) error {
	_, err := sq.Update("runs").Set("article_id", articleID).Where(sq.Eq{"id": runID}).
		RunWith(db.conn).Exec()
	return err
}

// GetRun returns a run by ID, or nil when it does not exist.
func (db *DB) GetRun(id string) (*RunRecord, error) {
	row := sq.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).RunWith(db.conn).QueryRow()
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRuns returns the most recent runs, optionally filtered by status.
func (db *DB) ListRuns(status string, limit uint64) ([]RunRecord, error) {
	q := sq.Select(runColumns...).From("runs").OrderBy("started_at DESC")
	if status != "" {
		q = q.Where(sq.Eq{"status": status})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows, err := q.RunWith(db.conn).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetStats returns row counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		dest  *int
		table string
		where sq.Sqlizer
	}{
		{&s.Articles, "articles", nil},
		{&s.Runs, "runs", nil},
		{&s.FailedRuns, "runs", sq.Eq{"status": RunFailed}},
		{&s.DegradedRuns, "runs", sq.Eq{"status": RunDegraded}},
		{&s.CacheEntries, "cache_entries", nil},
		{&s.IndexingRecords, "indexing_records", nil},
	}
	for _, c := range counts {
		q := sq.Select("COUNT(*)").From(c.table)
		if c.where != nil {
			q = q.Where(c.where)
		}
		if err := q.RunWith(db.conn).QueryRow().Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return s, nil
}

func scanRun(row sq.RowScanner) (*RunRecord, error) {
	var r RunRecord
	var summary, report, errText, started, finished sql.NullString
	var articleID sql.NullInt64
	if err := row.Scan(&r.ID, &r.SourceKind, &summary, &r.Status, &articleID,
		&report, &errText, &started, &finished); err != nil {
		return nil, err
	}
	r.SourceSummary = summary.String
	r.Report = report.String
	r.Error = errText.String
	if articleID.Valid {
		id := articleID.Int64
		r.ArticleID = &id
	}
	r.StartedAt = parseTime(started.String)
	r.FinishedAt = parseTime(finished.String)
	return &r, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// HasRunForSource reports whether a run was recorded for the given source.
func (db *DB) HasRunForSource(kind, summary string) (bool, error) {
	var n int
	err := sq.Select("COUNT(*)").From("runs").
		Where(sq.Eq{"source_kind": kind, "source_summary": summary}).
		Where(sq.NotEq{"status": RunFailed}).
		RunWith(db.conn).QueryRow().Scan(&n)
	return n > 0, err
}
