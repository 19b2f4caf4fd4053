package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/llm"
	"github.com/TobiSchelling/pressroom/internal/seo"
	"github.com/TobiSchelling/pressroom/internal/textnorm"
)

const (
	excerptLen      = 150
	maxContextChars = 12000
)

var md = goldmark.New()

var blockTag = regexp.MustCompile(`(?i)<(p|h[1-6]|ul|ol|div|blockquote|section|article)[\s>]`)

// jsonField matches a string field of a possibly truncated JSON object; the
// closing quote is optional so a value cut off by the token limit still
// matches.
var jsonField = regexp.MustCompile(`"(title|content|body|excerpt)"\s*:\s*"((?:[^"\\]|\\.)*)`)

const draftSystemPrompt = `You are a senior political journalist writing for an Argentine news portal. You write in neutral Spanish, attribute claims to sources and never invent quotes or figures.`

const topicPrompt = `Write a complete news article about this topic: %s
%s%s
Respond with ONLY this JSON:
{
    "title": "Headline of 8-14 words",
    "content": "Article body of 5-8 paragraphs in markdown",
    "excerpt": "One or two sentence summary",
    "category": "one of: %s",
    "tags": ["tag1", "tag2", "tag3"]
}`

const rewritePrompt = `Rewrite the following %s as an original news article. Keep every fact, figure and attribution; drop anything unrelated to the main story.

%s
---
%s
---

Respond with ONLY this JSON:
{
    "title": "Headline of 8-14 words",
    "content": "Article body of 5-8 paragraphs in markdown",
    "excerpt": "One or two sentence summary",
    "category": "one of: %s",
    "tags": ["tag1", "tag2", "tag3"]
}`

type draftReply struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Body     string   `json:"body"`
	Excerpt  string   `json:"excerpt"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// buildPrompt returns the user prompt for the draft call.
func buildPrompt(in article.SourceInput, sourceText string, categories []string) string {
	cats := strings.Join(categories, ", ")
	switch in.Kind {
	case article.SourceTopic:
		var category, keywords string
		if in.Category != "" {
			category = fmt.Sprintf("Section: %s\n", in.Category)
		}
		if len(in.Keywords) > 0 {
			keywords = fmt.Sprintf("Work these keywords in naturally: %s\n", strings.Join(in.Keywords, ", "))
		}
		return fmt.Sprintf(topicPrompt, strings.TrimSpace(in.Text), category, keywords, cats)
	case article.SourceURL:
		header := "Source URL: " + in.URL
		return fmt.Sprintf(rewritePrompt, "web page", header, clip(sourceText, maxContextChars), cats)
	case article.SourceTranscript:
		header := "Transcript of an interview or broadcast."
		if in.OriginURL != "" {
			header += " Origin: " + in.OriginURL
		}
		return fmt.Sprintf(rewritePrompt, "transcript", header, clip(sourceText, maxContextChars), cats)
	default:
		return fmt.Sprintf(rewritePrompt, "text", "Raw notes from the newsroom.", clip(sourceText, maxContextChars), cats)
	}
}

// parseDraft turns a structured reply into a draft. ok is false when the
// reply is malformed or lacks a title or body.
func parseDraft(text string) (article.DraftArticle, llm.ParseResult[draftReply], bool) {
	parsed := llm.ParseInto[draftReply](text)
	if parsed.Malformed() {
		return article.DraftArticle{}, parsed, false
	}
	r := parsed.Value
	body := r.Content
	if strings.TrimSpace(body) == "" {
		body = r.Body
	}
	title := strings.TrimSpace(r.Title)
	if title == "" || strings.TrimSpace(body) == "" {
		return article.DraftArticle{}, parsed, false
	}

	html := toHTML(body)
	excerpt := strings.TrimSpace(r.Excerpt)
	if excerpt == "" {
		excerpt = seo.Excerpt(html, excerptLen)
	}
	return article.DraftArticle{
		Title:    title,
		Body:     html,
		Excerpt:  excerpt,
		Category: strings.TrimSpace(r.Category),
		Tags:     r.Tags,
	}, parsed, true
}

// looksLikeJSON reports whether a reply was an attempt at the JSON format.
func looksLikeJSON(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, "{") || strings.HasPrefix(text, "```")
}

// salvageDraft recovers title and body from a JSON reply that failed to
// parse, typically because generation stopped mid-object.
func salvageDraft(text string) (article.DraftArticle, bool) {
	fields := map[string]string{}
	for _, m := range jsonField.FindAllStringSubmatch(text, -1) {
		if _, seen := fields[m[1]]; !seen {
			fields[m[1]] = unescapeJSON(m[2])
		}
	}
	title := strings.TrimSpace(fields["title"])
	body := strings.TrimSpace(fields["content"])
	if body == "" {
		body = strings.TrimSpace(fields["body"])
	}
	if title == "" || body == "" {
		return article.DraftArticle{}, false
	}
	html := toHTML(body)
	excerpt := strings.TrimSpace(fields["excerpt"])
	if excerpt == "" {
		excerpt = seo.Excerpt(html, excerptLen)
	}
	return article.DraftArticle{Title: title, Body: html, Excerpt: excerpt}, true
}

func unescapeJSON(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// heuristicDraft builds a draft from plain text: the first non-empty line is
// the title, the rest is the body. ok is false when text has no content.
func heuristicDraft(text string) (article.DraftArticle, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	title := ""
	rest := 0
	for i, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			title = strings.Trim(s, "# ")
			rest = i + 1
			break
		}
	}
	if title == "" {
		return article.DraftArticle{}, false
	}

	remaining := strings.TrimSpace(strings.Join(lines[rest:], "\n"))
	if remaining == "" {
		remaining = title
	}
	body := toHTML(remaining)
	return article.DraftArticle{
		Title:   title,
		Body:    body,
		Excerpt: seo.Excerpt(body, excerptLen),
	}, true
}

// toHTML renders markdown to HTML unless text already has block markup.
func toHTML(text string) string {
	text = strings.TrimSpace(text)
	if blockTag.MatchString(text) {
		return text
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "<p>" + text + "</p>"
	}
	return strings.TrimSpace(buf.String())
}

// mergeTags puts caller keywords first and drops case- and
// accent-insensitive duplicates.
func mergeTags(caller, drafted []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(caller)+len(drafted))
	for _, list := range [][]string{caller, drafted} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			key := textnorm.Fold(t)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
