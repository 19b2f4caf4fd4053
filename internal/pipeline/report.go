package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/pressroom/internal/article"
)

// Stage names used in reports. Translations and indexing targets get one
// entry each, named "translation:<lang>" and "indexing:<target>".
const (
	StageFetch          = "fetch"
	StageDraft          = "draft"
	StageSEO            = "seo"
	StageClassification = "classification"
	StageQuality        = "quality"
	StageImage          = "image"
	StageTranslation    = "translation"
	StageIndexing       = "indexing"
)

// Status is the outcome of one stage.
type Status string

const (
	Succeeded Status = "ok"
	FellBack  Status = "fallback"
	Skipped   Status = "skipped"
)

// StepResult holds the result of a single pipeline stage.
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
}

// Report collects stage outcomes of one run. It is safe for concurrent use.
type Report struct {
	mu    sync.Mutex
	Steps []StepResult `json:"steps"`
}

// Summary counts stage outcomes for display.
type Summary struct {
	Succeeded int `json:"succeeded"`
	FellBack  int `json:"fell_back"`
	Skipped   int `json:"skipped"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d ok, %d fallback, %d skipped", s.Succeeded, s.FellBack, s.Skipped)
}

// Add records a stage outcome. A non-nil err marks the stage as fallen back
// unless status says otherwise.
func (r *Report) Add(name string, status Status, started time.Time, detail string, err error) {
	if err != nil && detail == "" {
		detail = err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps = append(r.Steps, StepResult{
		Name:     name,
		Status:   status,
		Detail:   detail,
		Duration: time.Since(started),
		Err:      err,
	})
}

// AddIndexing records one entry per target of an indexing record.
func (r *Report) AddIndexing(rec article.IndexingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range rec.Targets {
		status := Succeeded
		switch t.Status {
		case article.TargetFailed:
			status = FellBack
		case article.TargetSkipped:
			status = Skipped
		}
		r.Steps = append(r.Steps, StepResult{Name: StageIndexing + ":" + t.Name, Status: status, Detail: t.Detail})
	}
}

// Step returns the named stage, if recorded.
func (r *Report) Step(name string) (StepResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Summary counts the recorded outcomes.
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Summary
	for _, step := range r.Steps {
		switch step.Status {
		case Succeeded:
			s.Succeeded++
		case FellBack:
			s.FellBack++
		case Skipped:
			s.Skipped++
		}
	}
	return s
}

// Degraded reports whether any stage fell back.
func (r *Report) Degraded() bool {
	return r.Summary().FellBack > 0
}

// Lines renders one line per stage, for CLI output.
func (r *Report) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		line := fmt.Sprintf("%-24s %-8s", s.Name, s.Status)
		if s.Detail != "" {
			line += " " + s.Detail
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines
}
