// Package collect gathers candidate stories from feeds and search APIs and
// turns them into generation inputs.
package collect

import (
	"context"
	"log"
	"sort"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/config"
)

// Candidate is a collected story ready to be generated from.
type Candidate struct {
	Entry Entry
	Input article.SourceInput
}

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	Duplicates int
	Sources    map[string]int
	Candidates []Candidate
}

// SeenFunc reports whether a URL was already processed.
type SeenFunc func(url string) bool

// Collector gathers candidates from RSS feeds and NewsAPI.
type Collector struct {
	feedParser *FeedParser
	newsClient *NewsAPIClient
	news       config.NewsAPI
	seen       SeenFunc
}

// NewCollector creates a collector for the configured sources. seen may be
// nil.
func NewCollector(cfg *config.Config, seen SeenFunc) *Collector {
	c := &Collector{news: cfg.Sources.NewsAPI, seen: seen}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name, Category: f.Category}
		}
		c.feedParser = NewFeedParser(feeds)
	}

	if c.news.Enabled && c.news.Query != "" {
		c.newsClient = NewNewsAPIClient(c.news.APIKeyEnv)
	}
	return c
}

// Collect returns up to limit new candidates, newest first. A limit of zero
// returns all of them.
func (c *Collector) Collect(ctx context.Context, daysBack, limit int) *Result {
	r := &Result{Sources: make(map[string]int)}
	var entries []Entry

	if c.feedParser != nil {
		log.Println("Collecting from RSS feeds...")
		entries = append(entries, c.feedParser.ParseAll(ctx, daysBack)...)
	}

	if c.newsClient != nil && c.newsClient.IsConfigured() {
		log.Println("Collecting from NewsAPI...")
		found, err := c.newsClient.Search(ctx, c.news.Query, c.news.Language, daysBack, 50)
		if err != nil {
			log.Printf("NewsAPI search failed: %v", err)
		}
		for i := range found {
			found[i].Category = c.news.Category
		}
		entries = append(entries, found...)
	}

	r.TotalFound = len(entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Published.After(entries[j].Published)
	})

	taken := make(map[string]struct{})
	for _, e := range entries {
		if _, dup := taken[e.URL]; dup || (c.seen != nil && c.seen(e.URL)) {
			r.Duplicates++
			continue
		}
		taken[e.URL] = struct{}{}
		if limit > 0 && len(r.Candidates) >= limit {
			continue
		}
		r.Candidates = append(r.Candidates, Candidate{Entry: e, Input: article.NewURL(e.URL)})
		r.Sources[e.Source]++
	}

	log.Printf("Collection complete: %d found, %d new, %d duplicates", r.TotalFound, len(r.Candidates), r.Duplicates)
	return r
}
