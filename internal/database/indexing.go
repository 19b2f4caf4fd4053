package database

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/pressroom/internal/article"
)

// SaveIndexingRecord stores one row per target of a notification.
func (db *DB) SaveIndexingRecord(rec article.IndexingRecord) error {
	if len(rec.Targets) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := sq.Insert("indexing_records").Columns("url", "target", "status", "detail")
	for _, t := range rec.Targets {
		q = q.Values(rec.URL, t.Name, string(t.Status), t.Detail)
	}
	if _, err := q.RunWith(tx).Exec(); err != nil {
		return fmt.Errorf("saving indexing record: %w", err)
	}
	return tx.Commit()
}

// GetIndexingRecord returns the latest result per target for a URL.
func (db *DB) GetIndexingRecord(url string) (article.IndexingRecord, error) {
	rec := article.IndexingRecord{URL: url}
	rows, err := sq.Select("target", "status", "detail").From("indexing_records").
		Where(sq.Eq{"url": url}).OrderBy("id DESC").
		RunWith(db.conn).Query()
	if err != nil {
		return rec, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var t article.TargetResult
		var status string
		var detail *string
		if err := rows.Scan(&t.Name, &status, &detail); err != nil {
			return rec, err
		}
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		t.Status = article.TargetStatus(status)
		if detail != nil {
			t.Detail = *detail
		}
		rec.Targets = append(rec.Targets, t)
	}
	return rec, rows.Err()
}
