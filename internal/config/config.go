package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/researchledger/internal/cost"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Search   Search   `yaml:"search"`
	Fetch    Fetch    `yaml:"fetch"`
	Pipeline Pipeline `yaml:"pipeline"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type LLM struct {
	Provider       string       `yaml:"provider"`
	Model          string       `yaml:"model"`
	OllamaURL      string       `yaml:"ollama_url"`
	APIKeyEnv      string       `yaml:"api_key_env"`
	PlanMaxTokens  int          `yaml:"plan_max_tokens"`
	ScopeMaxTokens int          `yaml:"scope_max_tokens"`
	Pricing        cost.Pricing `yaml:"pricing"`
}

type Search struct {
	Provider        string `yaml:"provider"`
	APIKeyEnv       string `yaml:"api_key_env"`
	ResultsPerQuery int    `yaml:"results_per_query"`
	Workers         int    `yaml:"workers"`
}

type Fetch struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxWords       int `yaml:"max_words"`
}

type Pipeline struct {
	StopRule              int     `yaml:"stop_rule"`
	TopK                  int     `yaml:"top_k"`
	BatchSize             int     `yaml:"batch_size"`
	ShortSourceWords      int     `yaml:"short_source_words"`
	UseCache              bool    `yaml:"use_cache"`
	UseBatching           bool    `yaml:"use_batching"`
	MaxCostUSD            float64 `yaml:"max_cost_usd"`
	ExtractTimeoutSeconds int     `yaml:"extract_timeout_seconds"`
	MinStatementLength    int     `yaml:"min_statement_length"`
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

// Error lists every problem found by Validate.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration:\n  " + strings.Join(e.Problems, "\n  ")
}

// ConfigDir returns the XDG config directory for researchledger.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "researchledger")
}

// DataDir returns the XDG data directory for researchledger.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "researchledger")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/researchledger/config.yaml > ./config.yaml
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
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'researchledger init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-5",
			OllamaURL:      "http://localhost:11434",
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			PlanMaxTokens:  6000,
			ScopeMaxTokens: 1500,
			Pricing:        cost.DefaultPricing,
		},
		Search: Search{
			Provider:        "serper",
			APIKeyEnv:       "SERPER_API_KEY",
			ResultsPerQuery: 10,
			Workers:         4,
		},
		Fetch: Fetch{TimeoutSeconds: 15, MaxWords: 4000},
		Pipeline: Pipeline{
			TopK:                  30,
			BatchSize:             5,
			ShortSourceWords:      1500,
			UseCache:              true,
			UseBatching:           true,
			ExtractTimeoutSeconds: 90,
			MinStatementLength:    80,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate fails fast on settings that would make a job fail after money
// has been spent: unknown providers, missing credentials, invalid budgets.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic", "openai":
		if os.Getenv(c.LLM.APIKeyEnv) == "" {
			add("llm.api_key_env: %s is not set", orUnset(c.LLM.APIKeyEnv))
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			add("llm.ollama_url is required for the ollama provider")
		}
	default:
		add("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		add("llm.model is required")
	}

	switch strings.ToLower(c.Search.Provider) {
	case "serper", "newsapi":
		if os.Getenv(c.Search.APIKeyEnv) == "" {
			add("search.api_key_env: %s is not set", orUnset(c.Search.APIKeyEnv))
		}
	case "feed", "rss":
	default:
		add("search.provider: unknown provider %q", c.Search.Provider)
	}
	if c.Search.ResultsPerQuery < 1 {
		add("search.results_per_query must be at least 1")
	}
	if c.Search.Workers < 1 {
		add("search.workers must be at least 1")
	}

	if c.Fetch.TimeoutSeconds < 1 {
		add("fetch.timeout_seconds must be at least 1")
	}

	p := c.Pipeline
	if p.StopRule < 0 {
		add("pipeline.stop_rule must not be negative, got %d", p.StopRule)
	}
	if p.TopK < 1 {
		add("pipeline.top_k must be at least 1")
	}
	if p.BatchSize < 1 {
		add("pipeline.batch_size must be at least 1")
	}
	if p.MaxCostUSD < 0 {
		add("pipeline.max_cost_usd must not be negative")
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// FetchTimeout returns the per-fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ExtractTimeout returns the per-call extraction timeout.
func (c *Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Pipeline.ExtractTimeoutSeconds) * time.Second
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the job database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "researchledger.db")
}

func orUnset(env string) string {
	if env == "" {
		return "(no variable configured)"
	}
	return env
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
