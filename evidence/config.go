package evidence

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/factcheck/connectivity"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/shield"
)

// Duration is a time.Duration written as "30s" or "1m30s" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the full service configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	LogLevel   string           `yaml:"log_level"`
	DBPath     string           `yaml:"db_path"` // empty disables the run log
	HTTP       HTTPConfig       `yaml:"http"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Permission PermissionConfig `yaml:"permission"`
	Trust      TrustConfig      `yaml:"trust"`
	Judge      JudgeConfig      `yaml:"judge"`
	Search     SearchConfig     `yaml:"search"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	RateLimit    int      `yaml:"rate_limit"` // POST /retrieve per client per window; 0 disables
	RateWindow   Duration `yaml:"rate_window"`

	// TrustedProxies are the reverse proxies (CIDR or address) whose
	// X-Forwarded-For identifies the client. Empty keys clients by peer address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RetrievalConfig holds the coordinator defaults.
type RetrievalConfig struct {
	NumResults      int      `yaml:"num_results"`
	MinValidSources int      `yaml:"min_valid_sources"`
	MaxRetries      int      `yaml:"max_retries"`
	MaxAttempts     int      `yaml:"max_attempts"`
	Backoff         Duration `yaml:"backoff"`
	FetchWorkers    int      `yaml:"fetch_workers"`
	Timeout         Duration `yaml:"timeout"` // per request on the HTTP and MCP surfaces; 0 disables
}

// FetchConfig configures page fetching.
type FetchConfig struct {
	Timeout      Duration `yaml:"timeout"`
	MaxBytes     int64    `yaml:"max_bytes"`
	UserAgent    string   `yaml:"user_agent"`
	BodyMode     string   `yaml:"body_mode"` // full | main
	BlockPhrases []string `yaml:"block_phrases"`
	BlockWindow  int      `yaml:"block_window"`
}

// PermissionConfig configures robots.txt checks.
type PermissionConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

// TrustConfig configures the trust oracle and filter.
type TrustConfig struct {
	Provider     string                      `yaml:"provider"` // newsguard | static
	Threshold    int                         `yaml:"threshold"`
	TokenURL     string                      `yaml:"token_url"`
	CheckURL     string                      `yaml:"check_url"`
	ClientID     string                      `yaml:"client_id"`
	ClientSecret string                      `yaml:"client_secret"`
	Timeout      Duration                    `yaml:"timeout"`
	Cache        bool                        `yaml:"cache"`
	Deny         []string                    `yaml:"deny"`
	Workers      int                         `yaml:"workers"`
	Static       map[string]StaticTrustEntry `yaml:"static"`
	Breaker      BreakerConfig               `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of a remote service.
type BreakerConfig struct {
	Threshold    int      `yaml:"threshold"`     // consecutive outages that open it
	ResetTimeout Duration `yaml:"reset_timeout"` // time open before probing
	HalfOpenMax  int      `yaml:"half_open_max"` // probe successes that close it
}

func (b BreakerConfig) toBreaker() connectivity.BreakerConfig {
	return connectivity.BreakerConfig{
		Threshold:    b.Threshold,
		ResetTimeout: b.ResetTimeout.Std(),
		HalfOpenMax:  b.HalfOpenMax,
	}
}

func (b BreakerConfig) validate(section string) error {
	if b.Threshold < 1 || b.HalfOpenMax < 1 || b.ResetTimeout <= 0 {
		return fmt.Errorf("%s.breaker: threshold and half_open_max must be >= 1, reset_timeout > 0", section)
	}
	return nil
}

func defaultBreaker() BreakerConfig {
	return BreakerConfig{Threshold: 5, ResetTimeout: Duration(30 * time.Second), HalfOpenMax: 2}
}

// StaticTrustEntry is one row of the static trust table.
type StaticTrustEntry struct {
	Rank  string `yaml:"rank"`
	Score int    `yaml:"score"`
}

// JudgeConfig configures the relevance judge.
type JudgeConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     Duration      `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	PrefixChars int           `yaml:"prefix_chars"`
	Concurrency int           `yaml:"concurrency"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// SearchConfig configures the search provider.
type SearchConfig struct {
	Provider  string          `yaml:"provider"` // duckduckgo | rss | api
	Endpoint  string          `yaml:"endpoint"`
	Region    string          `yaml:"region"`
	Timeout   Duration        `yaml:"timeout"`
	UserAgent string          `yaml:"user_agent"`
	API       SearchAPIConfig `yaml:"api"`
}

// SearchAPIConfig describes a JSON search endpoint.
type SearchAPIConfig struct {
	Method       string            `yaml:"method"`
	Headers      map[string]string `yaml:"headers"`
	ResultPath   string            `yaml:"result_path"`
	URLField     string            `yaml:"url_field"`
	TitleField   string            `yaml:"title_field"`
	SnippetField string            `yaml:"snippet_field"`
	APIKeyHeader string            `yaml:"api_key_header"`
	APIKey       string            `yaml:"api_key"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8090",
		LogLevel: "info",
		DBPath:   "factcheck.db",
		HTTP: HTTPConfig{
			MaxBodyBytes: 64 << 10,
			RateLimit:    30,
			RateWindow:   Duration(time.Minute),
		},
		Retrieval: RetrievalConfig{
			NumResults:      5,
			MinValidSources: 3,
			MaxRetries:      3,
			MaxAttempts:     3,
			Backoff:         Duration(30 * time.Second),
			FetchWorkers:    5,
			Timeout:         Duration(10 * time.Minute),
		},
		Fetch: FetchConfig{
			Timeout:     Duration(5 * time.Second),
			MaxBytes:    5 << 20,
			BodyMode:    "full",
			BlockWindow: 100,
		},
		Permission: PermissionConfig{
			Timeout: Duration(5 * time.Second),
		},
		Trust: TrustConfig{
			Provider:  "newsguard",
			Threshold: 70,
			Timeout:   Duration(10 * time.Second),
			Cache:     true,
			Workers:   4,
			Breaker:   defaultBreaker(),
		},
		Judge: JudgeConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.1-8b-instant",
			Timeout:     Duration(30 * time.Second),
			PrefixChars: 2000,
			Concurrency: 1,
			Breaker:     defaultBreaker(),
		},
		Search: SearchConfig{
			Provider: "duckduckgo",
			Timeout:  Duration(15 * time.Second),
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file and the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) ApplyEnv() {
	if c.Trust.ClientID == "" {
		c.Trust.ClientID = env("NEWSGUARD_CLIENT_ID", env("CLIENT_API_ID", ""))
	}
	if c.Trust.ClientSecret == "" {
		c.Trust.ClientSecret = env("NEWSGUARD_CLIENT_SECRET", env("NG_API_KEY", ""))
	}
	if c.Judge.APIKey == "" {
		c.Judge.APIKey = env("JUDGE_API_KEY", env("GROQ_API_KEY", ""))
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must be >= 0")
	}
	if _, err := shield.ParseProxies(c.HTTP.TrustedProxies); err != nil {
		return fmt.Errorf("http.trusted_proxies: %w", err)
	}
	r := c.Retrieval
	if r.NumResults <= 0 {
		return fmt.Errorf("retrieval.num_results must be > 0")
	}
	if r.MinValidSources <= 0 {
		return fmt.Errorf("retrieval.min_valid_sources must be > 0")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("retrieval.max_retries must be >= 0")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("retrieval.max_attempts must be > 0")
	}
	if r.FetchWorkers < 1 || r.FetchWorkers > 10 {
		return fmt.Errorf("retrieval.fetch_workers must be in [1, 10]")
	}
	switch c.Fetch.BodyMode {
	case "", "full", "main":
	default:
		return fmt.Errorf("fetch.body_mode %q: want full or main", c.Fetch.BodyMode)
	}
	if c.Trust.Threshold < 1 || c.Trust.Threshold > 100 {
		return fmt.Errorf("trust.threshold must be in [1, 100]")
	}
	switch c.Trust.Provider {
	case "newsguard":
	case "static":
		for domain, e := range c.Trust.Static {
			if domain == "" {
				return fmt.Errorf("trust.static: empty domain")
			}
			if e.Score < 0 || e.Score > 100 {
				return fmt.Errorf("trust.static[%s]: score must be in [0, 100]", domain)
			}
		}
	default:
		return fmt.Errorf("trust.provider %q: want newsguard or static", c.Trust.Provider)
	}
	if err := c.Trust.Breaker.validate("trust"); err != nil {
		return err
	}
	if c.Judge.Concurrency < 0 || c.Judge.Concurrency > 4 {
		return fmt.Errorf("judge.concurrency must be in [0, 4]")
	}
	if err := c.Judge.Breaker.validate("judge"); err != nil {
		return err
	}
	switch c.Search.Provider {
	case "duckduckgo", "rss":
	case "api":
		if !strings.Contains(c.Search.Endpoint, "{query}") {
			return fmt.Errorf("search.endpoint must contain {query} for the api provider")
		}
	default:
		return fmt.Errorf("search.provider %q: want duckduckgo, rss or api", c.Search.Provider)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel)
	}
	return nil
}

// staticTable converts the configured table for trust.Static.
func (c TrustConfig) staticTable() map[string]document.SiteTrust {
	out := make(map[string]document.SiteTrust, len(c.Static))
	for domain, e := range c.Static {
		d := strings.ToLower(domain)
		out[d] = document.SiteTrust{Domain: d, Rank: e.Rank, Score: e.Score}
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
