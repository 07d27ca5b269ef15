// Package config handles Jumbo configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/jumbo/config.yaml, /etc/jumbo/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "jumbo", "config.yaml"))
	}

	paths = append(paths, "/etc/jumbo/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Jumbo configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text (default) or json
	DataDir    string           `yaml:"data_dir"`
	Generation GenerationConfig `yaml:"generation"`
	Agent      AgentConfig      `yaml:"agent"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Search     SearchConfig     `yaml:"search"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Retention  RetentionConfig  `yaml:"retention"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ListenConfig defines the webhook server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GenerationConfig selects and configures the text-generation service.
type GenerationConfig struct {
	Provider     string  `yaml:"provider"` // llmproxy (default) or ollama
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	HistoryDepth int     `yaml:"history_depth"` // "lastk" on the LLMProxy wire
	SessionID    string  `yaml:"session_id"`
	TimeoutSec   int     `yaml:"timeout_sec"`
}

// AgentConfig bounds the tool loop.
type AgentConfig struct {
	// MaxToolCalls is the hard cap on tool executions per user turn.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// TurnTimeoutSec bounds one whole turn; on expiry the user gets the
	// escalation fallback.
	TurnTimeoutSec int `yaml:"turn_timeout_sec"`
	// ClarificationTTLSec expires suspended clarifications. Zero keeps
	// them until the user replies.
	ClarificationTTLSec int `yaml:"clarification_ttl_sec"`
}

// KnowledgeConfig selects the long-term knowledge store.
type KnowledgeConfig struct {
	Backend             string  `yaml:"backend"` // local (default), proxy, or none
	Path                string  `yaml:"path"`    // SQLite file for the local backend
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
	Strategy            string  `yaml:"strategy"` // chunking: fixed or smart
	SessionID           string  `yaml:"session_id"`
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	Provider     string       `yaml:"provider"` // google (default) or brave
	Count        int          `yaml:"count"`
	Language     string       `yaml:"language"` // ISO 639-1, default en
	Country      string       `yaml:"country"`  // ISO 3166-1 alpha-2, default us
	Site         string       `yaml:"site"`     // optional domain restriction
	EnhanceQuery bool         `yaml:"enhance_query"`
	Google       GoogleConfig `yaml:"google"`
	Brave        BraveConfig  `yaml:"brave"`
}

// GoogleConfig holds Custom Search JSON API credentials.
type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
}

// BraveConfig holds Brave Search API credentials.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// FetchConfig configures the fetch_page tool.
type FetchConfig struct {
	Extractor  string `yaml:"extractor"` // tags (default) or readability
	MaxChars   int    `yaml:"max_chars"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RetentionConfig configures the retention gate.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Model    string `yaml:"model"` // defaults to generation.model
	MaxChars int    `yaml:"max_chars"`
}

// SessionsConfig selects where conversation state lives.
type SessionsConfig struct {
	Backend string      `yaml:"backend"` // memory (default) or redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	TTLSec   int    `yaml:"ttl_sec"`
	// LockPrefix namespaces the per-user turn locks shared by replicas.
	LockPrefix string `yaml:"lock_prefix"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references from the environment and filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := base()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := base()
	cfg.applyDefaults()
	return cfg
}

// base holds the defaults that an omitted YAML key must not reset.
// Derived defaults (paths under data_dir, the retention model) are
// filled by applyDefaults after the file is decoded.
func base() *Config {
	return &Config{
		Generation: GenerationConfig{
			Provider:     "llmproxy",
			Model:        "4o-mini",
			HistoryDepth: 5,
			SessionID:    "InternationalJumboSession",
		},
		Retention: RetentionConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true},
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "llmproxy"
	}
	if c.Generation.TimeoutSec == 0 {
		c.Generation.TimeoutSec = 60
	}
	if c.Agent.MaxToolCalls == 0 {
		c.Agent.MaxToolCalls = 5
	}
	if c.Agent.TurnTimeoutSec == 0 {
		c.Agent.TurnTimeoutSec = 120
	}
	if c.Knowledge.Backend == "" {
		c.Knowledge.Backend = "local"
	}
	if c.Knowledge.Path == "" {
		c.Knowledge.Path = filepath.Join(c.DataDir, "knowledge.db")
	}
	if c.Knowledge.TopK == 0 {
		c.Knowledge.TopK = 5
	}
	if c.Knowledge.Strategy == "" {
		c.Knowledge.Strategy = "smart"
	}
	if c.Knowledge.SessionID == "" {
		c.Knowledge.SessionID = c.Generation.SessionID
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "google"
	}
	if c.Search.Count == 0 {
		c.Search.Count = 2
	}
	if c.Search.Language == "" {
		c.Search.Language = "en"
	}
	if c.Search.Country == "" {
		c.Search.Country = "us"
	}
	if c.Fetch.Extractor == "" {
		c.Fetch.Extractor = "tags"
	}
	if c.Fetch.TimeoutSec == 0 {
		c.Fetch.TimeoutSec = 30
	}
	if c.Retention.MaxChars == 0 {
		c.Retention.MaxChars = 12000
	}
	if c.Retention.Model == "" {
		c.Retention.Model = c.Generation.Model
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}
	if c.Sessions.Redis.Prefix == "" {
		c.Sessions.Redis.Prefix = "jumbo:session:"
	}
	if c.Sessions.Redis.LockPrefix == "" {
		c.Sessions.Redis.LockPrefix = "jumbo:lock:"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}

	switch c.Generation.Provider {
	case "llmproxy":
		if c.Generation.BaseURL == "" {
			errs = append(errs, errors.New("generation.base_url is required for llmproxy"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q (valid: llmproxy, ollama)", c.Generation.Provider))
	}

	if c.Agent.MaxToolCalls < 1 || c.Agent.MaxToolCalls > 20 {
		errs = append(errs, fmt.Errorf("agent.max_tool_calls must be between 1 and 20, got %d", c.Agent.MaxToolCalls))
	}
	if c.Agent.ClarificationTTLSec < 0 {
		errs = append(errs, errors.New("agent.clarification_ttl_sec must not be negative"))
	}

	switch c.Knowledge.Backend {
	case "local", "none":
	case "proxy":
		if c.Generation.Provider != "llmproxy" {
			errs = append(errs, errors.New("knowledge.backend proxy requires generation.provider llmproxy"))
		}
	default:
		errs = append(errs, fmt.Errorf("knowledge.backend %q (valid: local, proxy, none)", c.Knowledge.Backend))
	}
	switch c.Knowledge.Strategy {
	case "fixed", "smart":
	default:
		errs = append(errs, fmt.Errorf("knowledge.strategy %q (valid: fixed, smart)", c.Knowledge.Strategy))
	}

	switch c.Search.Provider {
	case "google", "brave":
	default:
		errs = append(errs, fmt.Errorf("search.provider %q (valid: google, brave)", c.Search.Provider))
	}

	switch c.Fetch.Extractor {
	case "tags", "readability":
	default:
		errs = append(errs, fmt.Errorf("fetch.extractor %q (valid: tags, readability)", c.Fetch.Extractor))
	}

	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			errs = append(errs, errors.New("sessions.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("sessions.backend %q (valid: memory, redis)", c.Sessions.Backend))
	}

	return errors.Join(errs...)
}
