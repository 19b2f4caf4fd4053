package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTablesYAML []byte

// Tables holds the lookup tables the pipeline uses for fallbacks and
// heuristics. They ship with regional defaults and can be replaced per
// deployment through tables_file.
type Tables struct {
	Categories     []string                 `yaml:"categories"`
	StopWords      []string                 `yaml:"stop_words"`
	FallbackImages map[string]FallbackImage `yaml:"fallback_images"`
	Entities       []Entity                 `yaml:"entities"`
	Scenes         map[string]string        `yaml:"scenes"`
}

// FallbackImage is the static asset used for a category when no image can
// be generated.
type FallbackImage struct {
	URL     string `yaml:"url"`
	Alt     string `yaml:"alt"`
	Caption string `yaml:"caption"`
}

// Entity maps trigger keywords found in article text to a named entity that
// warrants a topic-specific image.
type Entity struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Visual   string   `yaml:"visual"`
}

// DefaultTables returns the embedded tables.
func DefaultTables() Tables {
	t, err := parseTables(defaultTablesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded tables.yaml is invalid: %v", err))
	}
	return t
}

// LoadTables reads a tables YAML file.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("reading tables: %w", err)
	}
	return parseTables(data)
}

func parseTables(data []byte) (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("parsing tables: %w", err)
	}
	return t, nil
}

// Merge returns t with every non-empty list in o replacing its counterpart.
// Fallback images and scenes are merged per key, so an override never loses
// the default entry.
func (t Tables) Merge(o Tables) Tables {
	if len(o.Categories) > 0 {
		t.Categories = o.Categories
	}
	if len(o.StopWords) > 0 {
		t.StopWords = o.StopWords
	}
	if len(o.Entities) > 0 {
		t.Entities = o.Entities
	}
	t.FallbackImages = mergeMap(t.FallbackImages, o.FallbackImages)
	t.Scenes = mergeMap(t.Scenes, o.Scenes)
	return t
}

func mergeMap[V any](base, over map[string]V) map[string]V {
	out := make(map[string]V, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Validate checks the invariants the fallbacks rely on.
func (t Tables) Validate() error {
	if strings.TrimSpace(t.FallbackImages["default"].URL) == "" {
		return fmt.Errorf("tables: fallback_images needs a %q entry with a url", "default")
	}
	return nil
}

// DefaultCategory is the first configured category, used when
// classification cannot decide.
func (t Tables) DefaultCategory() string {
	if len(t.Categories) == 0 {
		return "General"
	}
	return t.Categories[0]
}
