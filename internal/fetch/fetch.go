// Package fetch downloads a web page and extracts its readable text so a
// URL can serve as generation context.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/temoto/robotstxt"

	"github.com/TobiSchelling/pressroom/internal/cache"
)

const (
	DefaultUserAgent = "pressroom/1.0 (+newsroom assistant)"
	defaultTimeout   = 15 * time.Second
	maxBodyBytes     = 5 << 20
	minTextLen       = 100
	robotsTTL        = time.Hour
)

var (
	// ErrDisallowed is returned when robots.txt forbids the page.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrNoContent is returned when no readable text could be extracted.
	ErrNoContent = errors.New("no extractable content")
)

// HTTPError is returned for 4xx and 5xx responses.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// Page is the readable content of a fetched URL.
type Page struct {
	URL         string
	Title       string
	Description string
	Image       string
	Text        string
}

// Fetcher downloads pages with robots.txt checks.
type Fetcher struct {
	client    *http.Client
	userAgent string
	robots    *cache.Memory[*robotstxt.RobotsData]
}

// NewFetcher creates a fetcher. A zero timeout uses the default.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: userAgent,
		robots:    cache.NewMemory[*robotstxt.RobotsData](),
	}
}

// Fetch downloads pageURL and extracts its title, description, lead image
// and readable text.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", pageURL)
	}
	if !f.allowed(ctx, u) {
		return nil, ErrDisallowed
	}

	body, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	page := &Page{URL: pageURL}
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		page.Title = firstContent(doc, `meta[property="og:title"]`, "content")
		if page.Title == "" {
			page.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
		page.Description = firstContent(doc, `meta[property="og:description"]`, "content")
		if page.Description == "" {
			page.Description = firstContent(doc, `meta[name="description"]`, "content")
		}
		page.Image = resolve(u, firstContent(doc, `meta[property="og:image"]`, "content"))
	}

	art, err := readability.FromReader(bytes.NewReader(body), u)
	if err == nil {
		page.Text = strings.TrimSpace(art.TextContent)
	}
	if len(page.Text) < minTextLen {
		return page, ErrNoContent
	}
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// allowed checks robots.txt for the page's host. An unreachable or broken
// robots.txt allows everything.
func (f *Fetcher) allowed(ctx context.Context, u *url.URL) bool {
	host := u.Scheme + "://" + u.Host
	data, ok := f.robots.Get(host)
	if !ok {
		data = f.loadRobots(ctx, host)
		f.robots.Set(host, data, robotsTTL)
	}
	return data.TestAgent(u.EscapedPath(), f.userAgent)
}

func (f *Fetcher) loadRobots(ctx context.Context, host string) *robotstxt.RobotsData {
	allowAll, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return allowAll
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		log.Printf("robots.txt unavailable for %s (ignored): %v", host, err)
		return allowAll
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		log.Printf("robots.txt unparseable for %s (ignored): %v", host, err)
		return allowAll
	}
	return data
}

func firstContent(doc *goquery.Document, selector, attr string) string {
	v, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}
