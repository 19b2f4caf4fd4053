package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/textnorm"
)

const maxSlugLen = 80

var articleColumns = []string{
	"id", "slug", "title", "category", "image_source", "quality_score",
	"published_url", "run_id", "payload", "created_at",
}

// SaveArticle stores a generated article under a unique slug derived from
// its title and returns it with PublishedURL set to baseURL/slug.
func (db *DB) SaveArticle(baseURL, runID string, a article.PublishableArticle) (*StoredArticle, error) {
	slug, err := db.uniqueSlug(a.Draft.Title)
	if err != nil {
		return nil, err
	}
	a.PublishedURL = strings.TrimRight(baseURL, "/") + "/" + slug

	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding article: %w", err)
	}

	result, err := sq.Insert("articles").
		Columns("slug", "title", "category", "image_source", "quality_score", "published_url", "run_id", "payload").
		Values(slug, a.Draft.Title, a.Classification.Category, string(a.Image.Source), a.Quality.Score,
			a.PublishedURL, nullable(runID), string(payload)).
		RunWith(db.conn).
		Exec()
	if err != nil {
		return nil, fmt.Errorf("inserting article: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetArticle(id)
}

// GetArticle returns an article by ID, or nil when it does not exist.
func (db *DB) GetArticle(id int64) (*StoredArticle, error) {
	return db.getArticleWhere(sq.Eq{"id": id})
}

// GetArticleBySlug returns an article by slug, or nil when it does not exist.
func (db *DB) GetArticleBySlug(slug string) (*StoredArticle, error) {
	return db.getArticleWhere(sq.Eq{"slug": slug})
}

func (db *DB) getArticleWhere(pred sq.Eq) (*StoredArticle, error) {
	row := sq.Select(articleColumns...).From("articles").Where(pred).RunWith(db.conn).QueryRow()
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ArticleFilter narrows ListArticles. Zero values mean no filter.
type ArticleFilter struct {
	Category string
	Limit    uint64
}

// ListArticles returns articles newest first.
func (db *DB) ListArticles(f ArticleFilter) ([]StoredArticle, error) {
	q := sq.Select(articleColumns...).From("articles").OrderBy("id DESC")
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": f.Category})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	rows, err := q.RunWith(db.conn).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (db *DB) uniqueSlug(title string) (string, error) {
	base := textnorm.Slug(title, maxSlugLen)
	if base == "" {
		base = "articulo"
	}
	slug := base
	for i := 2; ; i++ {
		var n int
		err := sq.Select("COUNT(*)").From("articles").Where(sq.Eq{"slug": slug}).
			RunWith(db.conn).QueryRow().Scan(&n)
		if err != nil {
			return "", fmt.Errorf("checking slug: %w", err)
		}
		if n == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func scanArticle(row sq.RowScanner) (*StoredArticle, error) {
	var a StoredArticle
	var category, imageSource, publishedURL, runID, createdAt sql.NullString
	var payload string
	err := row.Scan(&a.ID, &a.Slug, &a.Title, &category, &imageSource, &a.QualityScore,
		&publishedURL, &runID, &payload, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Category = category.String
	a.ImageSource = imageSource.String
	a.PublishedURL = publishedURL.String
	a.RunID = runID.String
	a.CreatedAt = createdAt.String
	if err := json.Unmarshal([]byte(payload), &a.Article); err != nil {
		return nil, fmt.Errorf("decoding article %d: %w", a.ID, err)
	}
	return &a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
