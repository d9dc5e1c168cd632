package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all reportflow configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Summarizer configuration
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Report rendering configuration
	Report ReportConfig `yaml:"report"`

	// HTTP front-end
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model client used for translation and
// summarization.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // gemini
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// DatabaseConfig configures the embedded SQLite database.
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	RowLimit     int    `yaml:"row_limit"`
	QueryTimeout string `yaml:"query_timeout"`
}

// SummarizerConfig configures the narrative summarizer retry policy and
// prompt bounds.
type SummarizerConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxPromptRows  int    `yaml:"max_prompt_rows"`
	Placeholder    string `yaml:"placeholder"`
}

// ReportConfig configures the PDF renderer.
type ReportConfig struct {
	OutputDir    string `yaml:"output_dir"`
	Filename     string `yaml:"filename"`
	MaxTableRows int    `yaml:"max_table_rows"`
}

// ServerConfig configures the manual-test HTTP front-end.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration. Every tunable the
// pipeline recognizes has its documented default here; overrides come from
// the YAML file and then the environment.
func DefaultConfig() *Config {
	return &Config{
		Name:    "reportflow",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Timeout:         "120s",
			MaxOutputTokens: 8192,
		},

		Database: DatabaseConfig{
			Path:         "data/sample.db",
			RowLimit:     1000,
			QueryTimeout: "30s",
		},

		Summarizer: SummarizerConfig{
			MaxAttempts:    3,
			InitialBackoff: "1s",
			MaxPromptRows:  50,
			Placeholder:    "Summary unavailable.",
		},

		Report: ReportConfig{
			OutputDir:    "reports",
			Filename:     "report.pdf",
			MaxTableRows: 50,
		},

		Server: ServerConfig{
			ListenAddr: "localhost:8090",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if model := os.Getenv("REPORTFLOW_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("REPORTFLOW_LLM_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if path := os.Getenv("REPORTFLOW_DB"); path != "" {
		c.Database.Path = path
	}
	if limit := os.Getenv("REPORTFLOW_ROW_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			c.Database.RowLimit = n
		}
	}
	if dir := os.Getenv("REPORTFLOW_OUTPUT_DIR"); dir != "" {
		c.Report.OutputDir = dir
	}
	if addr := os.Getenv("REPORTFLOW_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetQueryTimeout returns the database query timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSummarizerBackoff returns the initial summarizer backoff as a duration.
func (c *Config) GetSummarizerBackoff() time.Duration {
	d, err := time.ParseDuration(c.Summarizer.InitialBackoff)
	if err != nil {
		return time.Second
	}
	return d
}

// OutputPath returns the full report output path.
func (c *Config) OutputPath() string {
	return filepath.Join(c.Report.OutputDir, c.Report.Filename)
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or llm.api_key)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Database.RowLimit <= 0 {
		return fmt.Errorf("database row_limit must be positive, got %d", c.Database.RowLimit)
	}
	if c.Summarizer.MaxAttempts <= 0 {
		return fmt.Errorf("summarizer max_attempts must be positive, got %d", c.Summarizer.MaxAttempts)
	}
	return nil
}
