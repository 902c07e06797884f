package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	env "github.com/netflix/go-env"
	"gopkg.in/yaml.v3"
)

// MinTermLength is the lower bound for search.min_term_length. Shorter
// terms never count as an active search.
const MinTermLength = 3

// Config represents the livesearch configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Search SearchConfig `yaml:"search"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // Log file path used by the TUI (overrides default)
}

// StoreConfig holds result cache settings.
type StoreConfig struct {
	Path          string `yaml:"path"`            // SQLite file (overrides default)
	BusyTimeoutMs int    `yaml:"busy_timeout_ms"` // SQLite busy timeout
}

// FetchConfig holds remote search API settings.
type FetchConfig struct {
	BaseURL       string `yaml:"base_url"`        // API root, e.g. https://api.github.com
	TimeoutMs     int    `yaml:"timeout_ms"`      // Per-request timeout (0 = none)
	RatePerMinute int    `yaml:"rate_per_minute"` // Client-side request budget (0 = unlimited)
	Burst         int    `yaml:"burst"`           // Requests allowed back to back
	Token         string `yaml:"token,omitempty"` // Bearer token; usually from GITHUB_TOKEN
	UserAgent     string `yaml:"user_agent"`
}

// LanguageDef is one selectable language filter.
type LanguageDef struct {
	ID    string `yaml:"id"`    // value sent to the API and matched in the cache
	Label string `yaml:"label"` // display label
}

// SearchConfig holds input pipeline settings.
type SearchConfig struct {
	ThrottleMs    int           `yaml:"throttle_ms"`     // Throttle window for remote fetches
	MinTermLength int           `yaml:"min_term_length"` // Shortest active term, at least 3
	Languages     []LanguageDef `yaml:"languages"`       // Language filter choices, in display order
}

// envOverrides lists the environment variables that override file values.
type envOverrides struct {
	LogLevel   string `env:"LIVESEARCH_LOG_LEVEL"`
	Debug      string `env:"LIVESEARCH_DEBUG"`
	DBPath     string `env:"LIVESEARCH_DB_PATH"`
	APIURL     string `env:"LIVESEARCH_API_URL"`
	ThrottleMs string `env:"LIVESEARCH_THROTTLE_MS"`
	Token      string `env:"GITHUB_TOKEN"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			File:  "", // Use default from paths
		},
		Store: StoreConfig{
			Path:          "", // Use default from paths
			BusyTimeoutMs: 5000,
		},
		Fetch: FetchConfig{
			BaseURL:       "https://api.github.com",
			TimeoutMs:     10000,
			RatePerMinute: 10, // unauthenticated search API budget
			Burst:         3,
			UserAgent:     "livesearch",
		},
		Search: SearchConfig{
			ThrottleMs:    500,
			MinTermLength: MinTermLength,
			Languages: []LanguageDef{
				{ID: "Swift", Label: "Swift"},
				{ID: "Objective-C", Label: "Objective-C"},
				{ID: "Go", Label: "Go"},
				{ID: "Rust", Label: "Rust"},
			},
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	paths := DefaultPaths()
	return LoadFromFile(paths.ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	paths := DefaultPaths()
	return c.SaveToFile(paths.ConfigFile())
}

// SaveToFile saves the configuration to the specified file.
// The API token is never written; it belongs in the environment.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Fetch.Token = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get retrieves a configuration value by dot-separated key.
// For example: "search.throttle_ms" or "log.level"
func (c *Config) Get(key string) (string, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}

	switch section {
	case "log":
		return c.getLogField(field)
	case "store":
		return c.getStoreField(field)
	case "fetch":
		return c.getFetchField(field)
	case "search":
		return c.getSearchField(field)
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
}

// Set sets a configuration value by dot-separated key.
func (c *Config) Set(key, value string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}

	switch section {
	case "log":
		return c.setLogField(field, value)
	case "store":
		return c.setStoreField(field, value)
	case "fetch":
		return c.setFetchField(field, value)
	case "search":
		return c.setSearchField(field, value)
	default:
		return fmt.Errorf("unknown section: %s", section)
	}
}

func splitKey(key string) (string, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", "", errors.New("key must be in format 'section.key'")
	}
	return parts[0], parts[1], nil
}

func (c *Config) getLogField(field string) (string, error) {
	switch field {
	case "level":
		return c.Log.Level, nil
	case "file":
		return c.Log.File, nil
	default:
		return "", fmt.Errorf("unknown field: log.%s", field)
	}
}

func (c *Config) setLogField(field, value string) error {
	switch field {
	case "level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", value)
		}
		c.Log.Level = value
	case "file":
		c.Log.File = value
	default:
		return fmt.Errorf("unknown field: log.%s", field)
	}
	return nil
}

func (c *Config) getStoreField(field string) (string, error) {
	switch field {
	case "path":
		return c.Store.Path, nil
	case "busy_timeout_ms":
		return strconv.Itoa(c.Store.BusyTimeoutMs), nil
	default:
		return "", fmt.Errorf("unknown field: store.%s", field)
	}
}

func (c *Config) setStoreField(field, value string) error {
	switch field {
	case "path":
		c.Store.Path = value
	case "busy_timeout_ms":
		v, err := parseNonNegative(field, value)
		if err != nil {
			return err
		}
		c.Store.BusyTimeoutMs = v
	default:
		return fmt.Errorf("unknown field: store.%s", field)
	}
	return nil
}

func (c *Config) getFetchField(field string) (string, error) {
	switch field {
	case "base_url":
		return c.Fetch.BaseURL, nil
	case "timeout_ms":
		return strconv.Itoa(c.Fetch.TimeoutMs), nil
	case "rate_per_minute":
		return strconv.Itoa(c.Fetch.RatePerMinute), nil
	case "burst":
		return strconv.Itoa(c.Fetch.Burst), nil
	case "user_agent":
		return c.Fetch.UserAgent, nil
	case "token":
		if c.Fetch.Token == "" {
			return "", nil
		}
		return "(set)", nil
	default:
		return "", fmt.Errorf("unknown field: fetch.%s", field)
	}
}

func (c *Config) setFetchField(field, value string) error {
	switch field {
	case "base_url":
		if err := validateBaseURL(value); err != nil {
			return err
		}
		c.Fetch.BaseURL = value
	case "timeout_ms":
		v, err := parseNonNegative(field, value)
		if err != nil {
			return err
		}
		c.Fetch.TimeoutMs = v
	case "rate_per_minute":
		v, err := parseNonNegative(field, value)
		if err != nil {
			return err
		}
		c.Fetch.RatePerMinute = v
	case "burst":
		v, err := parseNonNegative(field, value)
		if err != nil {
			return err
		}
		if v < 1 {
			return errors.New("invalid burst: must be >= 1")
		}
		c.Fetch.Burst = v
	case "user_agent":
		c.Fetch.UserAgent = value
	case "token":
		return errors.New("fetch.token cannot be set here; export GITHUB_TOKEN instead")
	default:
		return fmt.Errorf("unknown field: fetch.%s", field)
	}
	return nil
}

func (c *Config) getSearchField(field string) (string, error) {
	switch field {
	case "throttle_ms":
		return strconv.Itoa(c.Search.ThrottleMs), nil
	case "min_term_length":
		return strconv.Itoa(c.Search.MinTermLength), nil
	case "languages":
		return strings.Join(c.LanguageIDs(), ","), nil
	default:
		return "", fmt.Errorf("unknown field: search.%s", field)
	}
}

func (c *Config) setSearchField(field, value string) error {
	switch field {
	case "throttle_ms":
		v, err := parseNonNegative(field, value)
		if err != nil {
			return err
		}
		c.Search.ThrottleMs = v
	case "min_term_length":
		v, err := parseNonNegative(field, value)
		if err != nil {
			return err
		}
		if v < MinTermLength {
			return fmt.Errorf("invalid min_term_length: must be >= %d", MinTermLength)
		}
		c.Search.MinTermLength = v
	case "languages":
		var langs []LanguageDef
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				langs = append(langs, LanguageDef{ID: id, Label: id})
			}
		}
		if err := validateLanguages(langs); err != nil {
			return err
		}
		c.Search.Languages = langs
	default:
		return fmt.Errorf("unknown field: search.%s", field)
	}
	return nil
}

func parseNonNegative(field, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must be non-negative", field)
	}
	return v, nil
}

// Validate checks the configuration. Out-of-range tuning values are clamped;
// values that would make the tool unusable are rejected.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}

	if c.Store.BusyTimeoutMs < 0 {
		return errors.New("store.busy_timeout_ms must be >= 0")
	}

	if err := validateBaseURL(c.Fetch.BaseURL); err != nil {
		return err
	}
	if c.Fetch.TimeoutMs < 0 {
		return errors.New("fetch.timeout_ms must be >= 0")
	}
	if c.Fetch.RatePerMinute < 0 {
		return errors.New("fetch.rate_per_minute must be >= 0")
	}
	if c.Fetch.Burst < 1 {
		c.Fetch.Burst = 1
	}

	if c.Search.ThrottleMs < 0 {
		return errors.New("search.throttle_ms must be >= 0")
	}
	if c.Search.MinTermLength < MinTermLength {
		c.Search.MinTermLength = MinTermLength
	}

	return validateLanguages(c.Search.Languages)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("fetch.base_url is not a URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("fetch.base_url must be an absolute http(s) URL (got: %s)", raw)
	}
	return nil
}

func validateLanguages(langs []LanguageDef) error {
	if len(langs) == 0 {
		return errors.New("search.languages must not be empty")
	}
	seen := make(map[string]bool, len(langs))
	for _, l := range langs {
		if l.ID == "" {
			return errors.New("search.languages: id must not be empty")
		}
		if seen[l.ID] {
			return fmt.Errorf("search.languages: duplicate id %q", l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Malformed values are ignored with a warning.
func (c *Config) ApplyEnvOverrides() {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		slog.Warn("config: failed to read environment overrides", "error", err)
		return
	}

	if o.Debug != "" {
		if b, err := strconv.ParseBool(o.Debug); err == nil && b {
			c.Log.Level = "debug"
		}
	}
	if o.LogLevel != "" && isValidLogLevel(o.LogLevel) {
		c.Log.Level = o.LogLevel
	}
	if o.DBPath != "" {
		c.Store.Path = o.DBPath
	}
	if o.APIURL != "" {
		if err := validateBaseURL(o.APIURL); err == nil {
			c.Fetch.BaseURL = o.APIURL
		} else {
			slog.Warn("config: ignoring LIVESEARCH_API_URL", "error", err)
		}
	}
	if o.ThrottleMs != "" {
		if v, err := strconv.Atoi(o.ThrottleMs); err == nil && v >= 0 {
			c.Search.ThrottleMs = v
		}
	}
	if o.Token != "" {
		c.Fetch.Token = o.Token
	}
}

// ListKeys returns user-facing configuration keys.
func ListKeys() []string {
	return []string{
		"log.level",
		"log.file",
		"store.path",
		"store.busy_timeout_ms",
		"fetch.base_url",
		"fetch.timeout_ms",
		"fetch.rate_per_minute",
		"fetch.burst",
		"fetch.user_agent",
		"fetch.token",
		"search.throttle_ms",
		"search.min_term_length",
		"search.languages",
	}
}

// LanguageIDs returns the configured language ids in display order.
func (c *Config) LanguageIDs() []string {
	ids := make([]string, len(c.Search.Languages))
	for i, l := range c.Search.Languages {
		ids[i] = l.ID
	}
	return ids
}

// HasLanguage reports whether id is one of the configured languages.
func (c *Config) HasLanguage(id string) bool {
	for _, l := range c.Search.Languages {
		if l.ID == id {
			return true
		}
	}
	return false
}

// Throttle returns the fetch throttle window.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.Search.ThrottleMs) * time.Millisecond
}

// FetchTimeout returns the per-request timeout, or 0 for none.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// SlogLevel maps log.level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DatabasePath returns store.path, or the default location under paths.
func (c *Config) DatabasePath(paths *Paths) string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return paths.DatabaseFile()
}

// LogFilePath returns log.file, or the default location under paths.
func (c *Config) LogFilePath(paths *Paths) string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return paths.LogFile()
}
