// Package indexing notifies search engines and site hooks that a URL was
// published. Every target is best-effort.
package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/config"
)

const (
	KindGoogle   = "google"
	KindIndexNow = "indexnow"
	KindBing     = "bing"
	KindSitemap  = "sitemap"
	KindWebhook  = "webhook"

	defaultTimeout = 10 * time.Second
	maxDetailLen   = 200
	secretHeader   = "X-Webhook-Secret"
)

// Dispatcher sends one URL to every configured target concurrently.
type Dispatcher struct {
	targets []config.Target
	timeout time.Duration
	client  *http.Client
}

// NewDispatcher creates a dispatcher. A nil client uses a default one.
func NewDispatcher(targets []config.Target, timeout time.Duration, client *http.Client) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{targets: targets, timeout: timeout, client: client}
}

// Targets returns the configured target names.
func (d *Dispatcher) Targets() []string {
	names := make([]string, 0, len(d.targets))
	for _, t := range d.targets {
		names = append(names, targetName(t))
	}
	return names
}

// Notify pushes pageURL to all targets and returns one result per target, in
// configuration order. It never fails as a whole.
func (d *Dispatcher) Notify(ctx context.Context, pageURL string) article.IndexingRecord {
	rec := article.IndexingRecord{URL: pageURL, Targets: make([]article.TargetResult, len(d.targets))}
	if len(d.targets) == 0 {
		return rec
	}

	var mu sync.Mutex
	var g errgroup.Group
	for i, t := range d.targets {
		g.Go(func() error {
			res := d.notifyOne(ctx, t, pageURL)
			mu.Lock()
			rec.Targets[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("Indexing %s: %d ok, %d failed, %d skipped", pageURL,
		rec.Count(article.TargetSuccess), rec.Count(article.TargetFailed), rec.Count(article.TargetSkipped))
	return rec
}

func (d *Dispatcher) notifyOne(ctx context.Context, t config.Target, pageURL string) article.TargetResult {
	res := article.TargetResult{Name: targetName(t)}

	req, skip, err := buildRequest(ctx, t, pageURL)
	if skip != "" {
		res.Status = article.TargetSkipped
		res.Detail = skip
		return res
	}
	if err != nil {
		res.Status = article.TargetFailed
		res.Detail = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.client.Do(req.WithContext(ctx))
	if err != nil {
		res.Status = article.TargetFailed
		res.Detail = err.Error()
		return res
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailLen))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Status = article.TargetFailed
		res.Detail = strings.TrimSpace(fmt.Sprintf("HTTP %d %s", resp.StatusCode, body))
		return res
	}
	res.Status = article.TargetSuccess
	res.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return res
}

// buildRequest returns the request for a target, or a skip reason when the
// target lacks what it needs.
func buildRequest(ctx context.Context, t config.Target, pageURL string) (*http.Request, string, error) {
	if strings.TrimSpace(t.Endpoint) == "" {
		return nil, "no endpoint configured", nil
	}

	var (
		payload any
		token   string
		header  string
		query   url.Values
	)
	switch strings.ToLower(t.Kind) {
	case KindGoogle:
		if token = t.Token(); token == "" {
			return nil, "missing credentials", nil
		}
		header = "Authorization"
		payload = map[string]string{"url": pageURL, "type": "URL_UPDATED"}
	case KindIndexNow:
		key := t.Key()
		if key == "" {
			return nil, "missing credentials", nil
		}
		u, err := url.Parse(pageURL)
		if err != nil || u.Host == "" {
			return nil, "", fmt.Errorf("invalid url %q", pageURL)
		}
		location := t.KeyLocation
		if location == "" {
			location = fmt.Sprintf("%s://%s/%s.txt", u.Scheme, u.Host, key)
		}
		payload = map[string]any{
			"host":        u.Host,
			"key":         key,
			"keyLocation": location,
			"urlList":     []string{pageURL},
		}
	case KindBing:
		key := t.Key()
		if key == "" {
			return nil, "missing credentials", nil
		}
		u, err := url.Parse(pageURL)
		if err != nil || u.Host == "" {
			return nil, "", fmt.Errorf("invalid url %q", pageURL)
		}
		query = url.Values{"apikey": {key}}
		payload = map[string]string{"siteUrl": u.Scheme + "://" + u.Host, "url": pageURL}
	case KindSitemap:
		if token = t.Token(); token == "" {
			return nil, "missing credentials", nil
		}
		header = secretHeader
		payload = map[string]string{"url": pageURL}
	case KindWebhook:
		token = t.Token()
		if token != "" {
			header = "Authorization"
		}
		payload = map[string]string{"url": pageURL}
	default:
		return nil, "", fmt.Errorf("unknown target kind %q", t.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	endpoint := t.Endpoint
	if query != nil {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	switch header {
	case "Authorization":
		req.Header.Set("Authorization", "Bearer "+token)
	case secretHeader:
		req.Header.Set(secretHeader, token)
	}
	return req, "", nil
}

func targetName(t config.Target) string {
	if t.Name != "" {
		return t.Name
	}
	return t.Kind
}
