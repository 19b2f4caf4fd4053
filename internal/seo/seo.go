// Package seo derives search metadata from article text. Everything here is
// a pure function of its inputs.
package seo

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/pressroom/internal/article"
)

const (
	MinTitleLen       = 50
	MaxTitleLen       = 60
	MaxDescriptionLen = 160
	MaxKeywords       = 10
	minKeywordLen     = 4
	ellipsis          = "..."
)

var inlineTags = map[string]struct{}{
	"a": {}, "abbr": {}, "b": {}, "code": {}, "em": {}, "i": {}, "mark": {},
	"small": {}, "span": {}, "strong": {}, "sub": {}, "sup": {}, "u": {},
}

var defaultPadding = []string{
	" - Noticias y análisis",
	" - Actualidad política",
	" - Última hora",
}

// Extractor holds the tables SEO derivation depends on.
type Extractor struct {
	stopWords map[string]struct{}
	siteName  string
	padding   []string
}

// NewExtractor builds an extractor from a stop-word list and the site name
// used to pad short titles.
func NewExtractor(stopWords []string, siteName string) *Extractor {
	sw := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		sw[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Extractor{stopWords: sw, siteName: strings.TrimSpace(siteName), padding: defaultPadding}
}

// Derive computes SeoMetadata for a draft.
func (e *Extractor) Derive(d article.DraftArticle) article.SeoMetadata {
	text := StripHTML(d.Body)
	desc := text
	if desc == "" {
		desc = collapse(d.Excerpt)
	}
	if desc == "" {
		desc = collapse(d.Title)
	}
	return article.SeoMetadata{
		SeoTitle:       e.NormalizeTitle(d.Title),
		SeoDescription: NormalizeDescription(desc),
		Keywords:       e.Keywords(text),
	}
}

// NormalizeTitle forces a title into [MinTitleLen, MaxTitleLen] characters:
// long titles are cut to 57 characters plus an ellipsis, short ones get the
// site suffix and, if still short, fixed padding phrases.
func (e *Extractor) NormalizeTitle(title string) string {
	title = collapse(title)
	n := utf8.RuneCountInString(title)

	if n > MaxTitleLen {
		cut := strings.TrimRightFunc(string([]rune(title)[:MaxTitleLen-len(ellipsis)]), unicode.IsSpace)
		return cut + ellipsis
	}
	if n >= MinTitleLen {
		return title
	}

	var segments []string
	if e.siteName != "" {
		segments = append(segments, " | "+e.siteName)
	}
	segments = append(segments, e.padding...)

	out := title
	for i := 0; utf8.RuneCountInString(out) < MinTitleLen; i++ {
		if i < len(segments) {
			out += segments[i]
		} else {
			out += e.padding[(i-len(segments))%len(e.padding)]
		}
	}
	out = strings.TrimLeft(out, " |-")
	for utf8.RuneCountInString(out) < MinTitleLen {
		out += e.padding[0]
	}
	return clampWords(out, MinTitleLen, MaxTitleLen)
}

// NormalizeDescription truncates text to at most MaxDescriptionLen
// characters, ending in an ellipsis when cut.
func NormalizeDescription(text string) string {
	text = collapse(text)
	if utf8.RuneCountInString(text) <= MaxDescriptionLen {
		return text
	}
	cut := strings.TrimRightFunc(string([]rune(text)[:MaxDescriptionLen-len(ellipsis)]), unicode.IsSpace)
	return cut + ellipsis
}

// Keywords returns up to MaxKeywords tokens longer than three characters,
// excluding stop words, ranked by frequency and then first occurrence.
func (e *Extractor) Keywords(text string) []string {
	type stat struct {
		word  string
		count int
		first int
	}
	stats := map[string]*stat{}
	for i, tok := range Tokenize(text) {
		if utf8.RuneCountInString(tok) < minKeywordLen {
			continue
		}
		if _, stop := e.stopWords[tok]; stop {
			continue
		}
		if s, ok := stats[tok]; ok {
			s.count++
			continue
		}
		stats[tok] = &stat{word: tok, count: 1, first: i}
	}

	ranked := make([]*stat, 0, len(stats))
	for _, s := range stats {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})

	if len(ranked) > MaxKeywords {
		ranked = ranked[:MaxKeywords]
	}
	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.word)
	}
	return out
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are dropped.
func StripHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			name := goquery.NodeName(s)
			if name == "#text" {
				b.WriteString(s.Text())
				return
			}
			if _, inline := inlineTags[name]; inline {
				walk(s)
				return
			}
			b.WriteByte(' ')
			walk(s)
			b.WriteByte(' ')
		})
	}
	walk(doc.Selection)
	return collapse(b.String())
}

// Excerpt returns the first n characters of the visible text of html.
func Excerpt(html string, n int) string {
	text := StripHTML(html)
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return strings.TrimRightFunc(string(r[:n]), unicode.IsSpace)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clampWords cuts s to at most hi characters, preferring a word boundary
// that keeps at least lo characters.
func clampWords(s string, lo, hi int) string {
	r := []rune(s)
	if len(r) <= hi {
		return s
	}
	cut := r[:hi]
	for i := len(cut) - 1; i >= lo; i-- {
		if !unicode.IsSpace(cut[i]) {
			continue
		}
		candidate := strings.TrimRightFunc(string(cut[:i]), func(c rune) bool {
			return unicode.IsSpace(c) || c == '-' || c == '|'
		})
		if utf8.RuneCountInString(candidate) >= lo {
			return candidate
		}
	}
	return string(cut)
}
