package article

import (
	"errors"
	"strings"
)

// ErrEmptySource is returned when a SourceInput carries no usable text.
var ErrEmptySource = errors.New("source input is empty")

// SourceKind tags the variant held by a SourceInput.
type SourceKind string

const (
	SourceTopic      SourceKind = "topic"
	SourceRawText    SourceKind = "raw_text"
	SourceURL        SourceKind = "url"
	SourceTranscript SourceKind = "transcript"
)

// SourceInput is the immutable input of one pipeline run. Only the fields
// of its Kind are meaningful.
type SourceInput struct {
	Kind      SourceKind `json:"kind"`
	Text      string     `json:"text,omitempty"`
	Category  string     `json:"category,omitempty"`
	Keywords  []string   `json:"keywords,omitempty"`
	URL       string     `json:"url,omitempty"`
	OriginURL string     `json:"origin_url,omitempty"`
}

// NewTopic builds a Topic input. Category may be empty.
func NewTopic(text, category string, keywords []string) SourceInput {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	return SourceInput{Kind: SourceTopic, Text: text, Category: strings.TrimSpace(category), Keywords: kw}
}

// NewRawText builds a RawText input.
func NewRawText(text string) SourceInput {
	return SourceInput{Kind: SourceRawText, Text: text}
}

// NewURL builds a Url input.
func NewURL(u string) SourceInput {
	return SourceInput{Kind: SourceURL, URL: strings.TrimSpace(u)}
}

// NewTranscript builds a Transcript input.
func NewTranscript(text, originURL string) SourceInput {
	return SourceInput{Kind: SourceTranscript, Text: text, OriginURL: strings.TrimSpace(originURL)}
}

// Validate reports ErrEmptySource when the variant's payload is blank.
func (s SourceInput) Validate() error {
	switch s.Kind {
	case SourceURL:
		if s.URL == "" {
			return ErrEmptySource
		}
	case SourceTopic, SourceRawText, SourceTranscript:
		if strings.TrimSpace(s.Text) == "" {
			return ErrEmptySource
		}
	default:
		return errors.New("unknown source kind: " + string(s.Kind))
	}
	return nil
}

// CallerCategory returns the explicitly requested category, if any.
func (s SourceInput) CallerCategory() string {
	if s.Kind == SourceTopic {
		return s.Category
	}
	return ""
}

// DraftArticle is the first structured model output for an article.
type DraftArticle struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Excerpt  string   `json:"excerpt"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// WithCategory returns a copy of the draft with the category replaced.
func (d DraftArticle) WithCategory(category string) DraftArticle {
	d.Tags = append([]string(nil), d.Tags...)
	d.Category = category
	return d
}

// SeoMetadata is derived deterministically from a draft.
type SeoMetadata struct {
	SeoTitle       string   `json:"seo_title"`
	SeoDescription string   `json:"seo_description"`
	Keywords       []string `json:"keywords"`
}

// Classification assigns a category to a draft.
type Classification struct {
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// QualityReport is advisory; a low score never blocks publication.
type QualityReport struct {
	Score       int      `json:"score"`
	MaxScore    int      `json:"max_score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

// ImageSource records where an ImageAsset came from.
type ImageSource string

const (
	ImageGenerated ImageSource = "Generated"
	ImageFallback  ImageSource = "Fallback"
	ImageReused    ImageSource = "Reused"
)

// ImageAsset is the illustrative image attached to an article.
type ImageAsset struct {
	URL     string      `json:"url"`
	Alt     string      `json:"alt"`
	Caption string      `json:"caption"`
	Source  ImageSource `json:"source"`
}

// Translation is one language's rendition of an article.
type Translation struct {
	Title          string `json:"title"`
	Excerpt        string `json:"excerpt"`
	Body           string `json:"body"`
	SeoTitle       string `json:"seo_title"`
	SeoDescription string `json:"seo_description"`
}

// TranslationSet maps ISO language codes to translations. A language whose
// translation failed has no entry.
type TranslationSet map[string]Translation

// PublishableArticle is the aggregate produced by one pipeline run.
type PublishableArticle struct {
	Draft          DraftArticle   `json:"draft"`
	Seo            SeoMetadata    `json:"seo"`
	Classification Classification `json:"classification"`
	Quality        QualityReport  `json:"quality"`
	Image          ImageAsset     `json:"image"`
	Translations   TranslationSet `json:"translations"`
	PublishedURL   string         `json:"published_url,omitempty"`
}

// TargetStatus is the outcome of notifying one indexing endpoint.
type TargetStatus string

const (
	TargetSuccess TargetStatus = "Success"
	TargetFailed  TargetStatus = "Failed"
	TargetSkipped TargetStatus = "Skipped"
)

// TargetResult is the outcome for a single indexing target.
type TargetResult struct {
	Name   string       `json:"name"`
	Status TargetStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// IndexingRecord is written once per notified URL.
type IndexingRecord struct {
	URL     string         `json:"url"`
	Targets []TargetResult `json:"targets"`
}

// Count returns how many targets ended in the given status.
func (r IndexingRecord) Count(status TargetStatus) int {
	n := 0
	for _, t := range r.Targets {
		if t.Status == status {
			n++
		}
	}
	return n
}
