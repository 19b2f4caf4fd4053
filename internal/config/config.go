package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Site        Site        `yaml:"site"`
	Generation  Generation  `yaml:"generation"`
	Images      Images      `yaml:"images"`
	Translation Translation `yaml:"translation"`
	Indexing    Indexing    `yaml:"indexing"`
	Tables      Tables      `yaml:"tables"`
	TablesFile  string      `yaml:"tables_file"`
	Sources     Sources     `yaml:"sources"`
	Output      Output      `yaml:"output"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

type Site struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type Generation struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	OllamaURL    string        `yaml:"ollama_url"`
	OpenAIModel  string        `yaml:"openai_model"`
	OpenAIURL    string        `yaml:"openai_url"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	Temperature  float64       `yaml:"temperature"`
	TopP         float64       `yaml:"top_p"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type Images struct {
	Enabled   bool          `yaml:"enabled"`
	Model     string        `yaml:"model"`
	Size      string        `yaml:"size"`
	Quality   string        `yaml:"quality"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Verify    bool          `yaml:"verify"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type Translation struct {
	SourceLanguage string        `yaml:"source_language"`
	Languages      []string      `yaml:"languages"`
	Timeout        time.Duration `yaml:"timeout"`
}

type Indexing struct {
	Timeout time.Duration `yaml:"timeout"`
	Targets []Target      `yaml:"targets"`
}

// Target configures one indexing endpoint. Secrets are read from the
// environment variables named by the *Env fields.
type Target struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Endpoint    string `yaml:"endpoint"`
	TokenEnv    string `yaml:"token_env"`
	KeyEnv      string `yaml:"key_env"`
	KeyLocation string `yaml:"key_location"`
}

// Token returns the bearer token or shared secret for the target.
func (t Target) Token() string {
	return envValue(t.TokenEnv)
}

// Key returns the API key for the target (IndexNow key, Bing apikey).
func (t Target) Key() string {
	return envValue(t.KeyEnv)
}

type Sources struct {
	Feeds   []Feed  `yaml:"feeds"`
	NewsAPI NewsAPI `yaml:"newsapi"`
}

// NewsAPI configures keyword search on newsapi.org as an extra source.
type NewsAPI struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	Language  string `yaml:"language"`
	Category  string `yaml:"category"`
}

type Feed struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Debug reports whether debug-level logging is configured.
func (l Logging) Debug() bool {
	return strings.EqualFold(strings.TrimSpace(l.Level), "debug")
}

// ConfigDir returns the XDG config directory for pressroom.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "pressroom")
}

// DataDir returns the XDG data directory for pressroom.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "pressroom")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/pressroom/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'pressroom init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file. A tables_file entry is resolved
// relative to the config file and overrides the inline tables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.TablesFile != "" {
		tablesPath := cfg.TablesFile
		if !filepath.IsAbs(tablesPath) {
			tablesPath = filepath.Join(filepath.Dir(path), tablesPath)
		}
		tables, err := LoadTables(tablesPath)
		if err != nil {
			return nil, err
		}
		cfg.Tables = cfg.Tables.Merge(tables)
	}
	if err := cfg.Tables.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Site: Site{
			Name:    "Portal Político",
			BaseURL: "http://localhost:8000",
		},
		Generation: Generation{
			Provider:     "ollama",
			Model:        "llama3.1:8b",
			OllamaURL:    "http://localhost:11434",
			OpenAIModel:  "gpt-4o-mini",
			APIKeyEnv:    "OPENAI_API_KEY",
			Temperature:  0.7,
			TopP:         0.9,
			MaxTokens:    2048,
			Timeout:      60 * time.Second,
			RetryBackoff: 500 * time.Millisecond,
		},
		Images: Images{
			Enabled:   true,
			Model:     "dall-e-3",
			Size:      "1792x1024",
			Quality:   "standard",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   45 * time.Second,
			CacheTTL:  24 * time.Hour,
		},
		Translation: Translation{
			SourceLanguage: "es",
			Timeout:        60 * time.Second,
		},
		Indexing: Indexing{Timeout: 10 * time.Second},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Tables = DefaultTables().Merge(cfg.Tables)
	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
