// Package images picks the illustrative image for an article: it reuses a
// current image when nothing calls for a specific one, generates one
// otherwise, and falls back to a static per-category asset on any failure.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/cache"
	"github.com/TobiSchelling/pressroom/internal/config"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/seo"
	"github.com/TobiSchelling/pressroom/internal/textnorm"
)

const (
	DefaultTTL         = 24 * time.Hour
	relevanceThreshold = 50
	defaultFallbackKey = "default"
	promptContextLen   = 300
)

// ErrDisabled is recorded when no image backend is configured.
var ErrDisabled = errors.New("image generation disabled")

// ErrNoImage is recorded when the backend answered without an image URL.
var ErrNoImage = errors.New("image backend returned no URL")

// Semantics is what the resolver needs to know about an article.
type Semantics struct {
	Title        string
	Excerpt      string
	Body         string
	Category     string
	CurrentImage string
}

// Verification is the result of the optional relevance check.
type Verification string

const (
	NotChecked Verification = "not_checked"
	Relevant   Verification = "relevant"
	Irrelevant Verification = "irrelevant"
	Unverified Verification = "unverified"
)

// Outcome explains how an asset was chosen.
type Outcome struct {
	Cached   bool
	Entities []string
	Verified Verification
	// Err is the reason a fallback asset was used, if any.
	Err error
}

// Options tunes generation and caching.
type Options struct {
	Size    string
	Quality string
	Verify  bool
	TTL     time.Duration
	Timeout time.Duration
}

// Resolver resolves ImageAssets. It is safe for concurrent use.
type Resolver struct {
	generator llm.ImageGenerator
	vision    llm.VisionProvider
	store     cache.Store[article.ImageAsset]
	tables    config.Tables
	opts      Options
	group     singleflight.Group
}

// NewResolver creates a resolver. generator and vision may be nil: without a
// generator every generation attempt falls back, without vision nothing is
// verified.
func NewResolver(generator llm.ImageGenerator, vision llm.VisionProvider, store cache.Store[article.ImageAsset], tables config.Tables, opts Options) *Resolver {
	if store == nil {
		store = cache.NewMemory[article.ImageAsset]()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Resolver{
		generator: generator,
		vision:    vision,
		store:     store,
		tables:    tables,
		opts:      opts,
	}
}

type resolved struct {
	asset   article.ImageAsset
	outcome Outcome
}

// Resolve returns the image for an article. The returned asset always has a
// source; concurrent calls for the same fingerprint share one resolution.
// A resolution cut short by cancellation or an outage is never cached, and
// waiters whose own context is still live resolve again instead of
// inheriting it.
func (r *Resolver) Resolve(ctx context.Context, s Semantics) (article.ImageAsset, Outcome) {
	key := Fingerprint(s.Category, s.Title)
	if asset, ok := r.store.Get(key); ok {
		return asset, Outcome{Cached: true, Verified: NotChecked}
	}

	for {
		if err := ctx.Err(); err != nil {
			return r.Fallback(s.Category), Outcome{Verified: NotChecked, Err: err}
		}

		mine := make(chan struct{})
		ch := r.group.DoChan(key, func() (any, error) {
			close(mine)
			if asset, ok := r.store.Get(key); ok {
				return resolved{asset: asset, outcome: Outcome{Cached: true, Verified: NotChecked}}, nil
			}
			res := r.resolve(ctx, s)
			if res.asset.Source != article.ImageReused && ctx.Err() == nil && !aborted(res.outcome.Err) {
				r.store.Set(key, res.asset, r.opts.TTL)
			}
			return res, nil
		})

		select {
		case <-ctx.Done():
			if closed(mine) {
				// Our own resolution runs under ctx; let it unwind.
				<-ch
			}
			return r.Fallback(s.Category), Outcome{Verified: NotChecked, Err: ctx.Err()}
		case v := <-ch:
			res := v.Val.(resolved)
			if closed(mine) {
				return res.asset, res.outcome
			}
			if aborted(res.outcome.Err) {
				continue
			}
			res.outcome.Cached = true
			return res.asset, res.outcome
		}
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// aborted reports whether err says nothing about the article itself, only
// that the backend could not answer in time.
func aborted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, llm.ErrTimeout) ||
		errors.Is(err, llm.ErrUnavailable) ||
		llm.IsTransient(err)
}

func (r *Resolver) resolve(ctx context.Context, s Semantics) resolved {
	entities := r.Entities(s.Title + " " + s.Excerpt + " " + seo.StripHTML(s.Body))
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}

	current := strings.TrimSpace(s.CurrentImage)
	if len(entities) == 0 && current != "" {
		verdict := r.verify(ctx, s, current)
		if verdict != Irrelevant {
			asset := article.ImageAsset{URL: current, Alt: s.Title, Caption: s.Excerpt, Source: article.ImageReused}
			return resolved{asset: asset, outcome: Outcome{Entities: names, Verified: verdict}}
		}
		log.Printf("Current image judged irrelevant for %q, generating a new one", s.Title)
	}

	url, err := r.generate(ctx, r.Prompt(s, entities))
	if err != nil {
		log.Printf("Image generation failed for %q, using fallback: %v", s.Title, err)
		return resolved{asset: r.Fallback(s.Category), outcome: Outcome{Entities: names, Verified: NotChecked, Err: err}}
	}

	verdict := r.verify(ctx, s, url)
	if verdict == Irrelevant {
		return resolved{
			asset:   r.Fallback(s.Category),
			outcome: Outcome{Entities: names, Verified: verdict, Err: errors.New("generated image judged irrelevant")},
		}
	}
	asset := article.ImageAsset{
		URL:     url,
		Alt:     s.Title,
		Caption: caption(s),
		Source:  article.ImageGenerated,
	}
	return resolved{asset: asset, outcome: Outcome{Entities: names, Verified: verdict}}
}

func (r *Resolver) generate(ctx context.Context, prompt string) (string, error) {
	if r.generator == nil {
		return "", ErrDisabled
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	res, err := r.generator.GenerateImage(ctx, llm.ImageRequest{
		Prompt:  prompt,
		Size:    r.opts.Size,
		Quality: r.opts.Quality,
		N:       1,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.URL) == "" {
		return "", ErrNoImage
	}
	return res.URL, nil
}

// Entities returns the table entities whose keywords appear in text,
// matched on whole words ignoring case and accents.
func (r *Resolver) Entities(text string) []config.Entity {
	haystack := " " + strings.Join(seo.Tokenize(textnorm.Fold(text)), " ") + " "
	var found []config.Entity
	for _, e := range r.tables.Entities {
		for _, kw := range e.Keywords {
			needle := strings.Join(seo.Tokenize(textnorm.Fold(kw)), " ")
			if needle != "" && strings.Contains(haystack, " "+needle+" ") {
				found = append(found, e)
				break
			}
		}
	}
	return found
}

// NeedsSpecificImage reports whether the text mentions any known entity.
func (r *Resolver) NeedsSpecificImage(text string) bool {
	return len(r.Entities(text)) > 0
}

// Prompt assembles the generation prompt for an article.
func (r *Resolver) Prompt(s Semantics, entities []config.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Editorial news photograph illustrating the article %q.", strings.TrimSpace(s.Title))
	if summary := truncate(seo.StripHTML(s.Excerpt), promptContextLen); summary != "" {
		fmt.Fprintf(&b, " Context: %s.", strings.TrimRight(summary, "."))
	}
	if s.Category != "" {
		fmt.Fprintf(&b, " Section: %s.", s.Category)
	}
	if scene := r.scene(s.Category); scene != "" {
		fmt.Fprintf(&b, " Scene: %s.", scene)
	}
	for _, e := range entities {
		if e.Visual != "" {
			fmt.Fprintf(&b, " Include %s.", e.Visual)
		}
	}
	b.WriteString(" Photorealistic, natural light, no text, no logos, no caricatures.")
	return b.String()
}

// Fallback returns the static asset for a category, or the default entry.
func (r *Resolver) Fallback(category string) article.ImageAsset {
	want := textnorm.Fold(category)
	var fb config.FallbackImage
	found := false
	for name, img := range r.tables.FallbackImages {
		if textnorm.Fold(name) == want && want != "" {
			fb, found = img, true
			break
		}
	}
	if !found {
		fb = r.tables.FallbackImages[defaultFallbackKey]
	}
	return article.ImageAsset{URL: fb.URL, Alt: fb.Alt, Caption: fb.Caption, Source: article.ImageFallback}
}

func (r *Resolver) scene(category string) string {
	want := textnorm.Fold(category)
	for name, scene := range r.tables.Scenes {
		if textnorm.Fold(name) == want {
			return scene
		}
	}
	return r.tables.Scenes[defaultFallbackKey]
}

const verifyPrompt = `Does this image fit a news article titled %q in the %q section?
Excerpt: %s

Respond with ONLY this JSON:
{"relevant": true or false, "score": 0-100, "reason": "one sentence"}`

type verdict struct {
	Relevant bool   `json:"relevant"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
}

// verify asks the vision model whether url fits the article. Any failure
// yields Unverified.
func (r *Resolver) verify(ctx context.Context, s Semantics, url string) Verification {
	if !r.opts.Verify || r.vision == nil {
		return NotChecked
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	text, err := r.vision.DescribeImage(ctx, fmt.Sprintf(verifyPrompt, s.Title, s.Category, truncate(s.Excerpt, promptContextLen)), url)
	if err != nil {
		log.Printf("Image verification failed: %v", err)
		return Unverified
	}
	parsed := llm.ParseInto[verdict](text)
	if parsed.Malformed() {
		return Unverified
	}
	if parsed.Value.Relevant && parsed.Value.Score >= relevanceThreshold {
		return Relevant
	}
	log.Printf("Image judged irrelevant (score %d): %s", parsed.Value.Score, parsed.Value.Reason)
	return Irrelevant
}

// Fingerprint is the cache key for an article's image: a hash of the
// folded category and title.
func Fingerprint(category, title string) string {
	sum := sha256.Sum256([]byte(textnorm.Fold(category) + "|" + textnorm.Fold(title)))
	return "img:" + hex.EncodeToString(sum[:])
}

func caption(s Semantics) string {
	if s.Category == "" {
		return "Imagen ilustrativa."
	}
	return fmt.Sprintf("Imagen ilustrativa. %s.", s.Category)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
