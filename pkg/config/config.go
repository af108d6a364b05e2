package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/user/bizscraper/internal/entity"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`

	// Identity rotation
	Proxy            string        `mapstructure:"PROXY"`
	ProxyList        string        `mapstructure:"PROXY_LIST"`
	ProxyFile        string        `mapstructure:"PROXY_FILE"`
	UserAgents       string        `mapstructure:"USER_AGENTS"`
	UserAgentFile    string        `mapstructure:"USER_AGENT_FILE"`
	RotationPolicy   string        `mapstructure:"ROTATION_POLICY"`
	FailureThreshold int           `mapstructure:"FAILURE_THRESHOLD"`
	Cooldown         time.Duration `mapstructure:"COOLDOWN"`
	AllowDirect      bool          `mapstructure:"ALLOW_DIRECT"`

	// Retry policy
	MaxAttempts    int           `mapstructure:"MAX_ATTEMPTS"`
	BackoffBase    time.Duration `mapstructure:"BACKOFF_BASE"`
	BackoffMax     time.Duration `mapstructure:"BACKOFF_MAX"`
	BackoffJitter  float64       `mapstructure:"BACKOFF_JITTER"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RotateOnRetry  bool          `mapstructure:"ROTATE_ON_RETRY"`

	// Extraction
	Workers           int    `mapstructure:"WORKERS"`
	ProfilesFile      string `mapstructure:"PROFILES_FILE"`
	FollowContactPage bool   `mapstructure:"FOLLOW_CONTACT_PAGE"`
	RenderEnabled     bool   `mapstructure:"RENDER_ENABLED"`
	RenderFallback    bool   `mapstructure:"RENDER_FALLBACK"`
	Scrolls           int    `mapstructure:"SCROLLS"`
	ChromePath        string `mapstructure:"CHROME_PATH"`

	// Search
	SearchProvider       string  `mapstructure:"SEARCH_PROVIDER"`
	SearchRanker         string  `mapstructure:"SEARCH_RANKER"`
	SearchRPS            float64 `mapstructure:"SEARCH_RPS"`
	GoogleAPIKey         string  `mapstructure:"GOOGLE_API_KEY"`
	GoogleSearchEngineID string  `mapstructure:"GOOGLE_SEARCH_ENGINE_ID"`
	GeminiAPIKey         string  `mapstructure:"GEMINI_API_KEY"`
	GeminiModel          string  `mapstructure:"GEMINI_MODEL"`

	// Recovery store
	CheckpointBackend string        `mapstructure:"CHECKPOINT_BACKEND"`
	SQLitePath        string        `mapstructure:"SQLITE_PATH"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int           `mapstructure:"REDIS_DB"`
	CheckpointTTL     time.Duration `mapstructure:"CHECKPOINT_TTL"`
	PostgresURL       string        `mapstructure:"POSTGRES_URL"`

	// Output
	OutputDir    string `mapstructure:"OUTPUT_DIR"`
	ExportFormat string `mapstructure:"EXPORT_FORMAT"`

	// ExportDatabase also upserts the records into POSTGRES_URL.
	ExportDatabase bool `mapstructure:"EXPORT_DATABASE"`
}

var defaults = map[string]any{
	"SERVER_PORT": "8080",
	"LOG_LEVEL":   "info",
	"LOG_FORMAT":  "json",

	"PROXY":             "",
	"PROXY_LIST":        "",
	"PROXY_FILE":        "",
	"USER_AGENTS":       "",
	"USER_AGENT_FILE":   "",
	"ROTATION_POLICY":   "round_robin",
	"FAILURE_THRESHOLD": 3,
	"COOLDOWN":          5 * time.Minute,
	"ALLOW_DIRECT":      true,

	"MAX_ATTEMPTS":    3,
	"BACKOFF_BASE":    500 * time.Millisecond,
	"BACKOFF_MAX":     10 * time.Second,
	"BACKOFF_JITTER":  0.2,
	"REQUEST_TIMEOUT": 30 * time.Second,
	"ROTATE_ON_RETRY": true,

	"WORKERS":             5,
	"PROFILES_FILE":       "",
	"FOLLOW_CONTACT_PAGE": true,
	"RENDER_ENABLED":      false,
	"RENDER_FALLBACK":     false,
	"SCROLLS":             0,
	"CHROME_PATH":         "",

	"SEARCH_PROVIDER":         "customsearch",
	"SEARCH_RANKER":           "directory_filter",
	"SEARCH_RPS":              1.0,
	"GOOGLE_API_KEY":          "",
	"GOOGLE_SEARCH_ENGINE_ID": "",
	"GEMINI_API_KEY":          "",
	"GEMINI_MODEL":            "gemini-2.5-flash",

	"CHECKPOINT_BACKEND": "sqlite",
	"SQLITE_PATH":        "checkpoints.db",
	"REDIS_ADDR":         "localhost:6379",
	"REDIS_PASSWORD":     "",
	"REDIS_DB":           0,
	"CHECKPOINT_TTL":     7 * 24 * time.Hour,
	"POSTGRES_URL":       "",

	"OUTPUT_DIR":      "output",
	"EXPORT_FORMAT":   "all",
	"EXPORT_DATABASE": false,
}

// Legacy variable names still honoured by deployments.
var aliases = map[string][]string{
	"PROXY":                   {"SCRAPER_PROXY"},
	"PROXY_LIST":              {"SCRAPER_PROXY_LIST"},
	"PROXY_FILE":              {"SCRAPER_PROXY_FILE"},
	"GOOGLE_API_KEY":          {"GOOGLE_SEARCH_API_KEY"},
	"GOOGLE_SEARCH_ENGINE_ID": {"GOOGLE_CSE_ID"},
	"GEMINI_API_KEY":          {"GOOGLE_GENAI_API_KEY"},
}

// Load reads configuration from the optional file at path, the environment
// and, when flags is non-nil, command line flags. Flag names map onto keys by
// upper-casing them and replacing '-' with '_' (--proxy-file -> PROXY_FILE).
// Without a path a .env file in the working directory is used if present.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range aliases {
		if err := v.BindEnv(append([]string{key, key}, legacy...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file %s: %w", entity.ErrConfiguration, path, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		// a broken optional .env must not prevent configuration through the environment
		_ = v.ReadInConfig()
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if _, known := defaults[key]; !known {
				return
			}
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrConfiguration, err)
	}
	return &cfg, nil
}

// Validate checks the configuration before any network activity.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{entity.ErrConfiguration}, args...)...))
	}

	switch c.SearchProvider {
	case "customsearch":
		if c.GoogleAPIKey == "" || c.GoogleSearchEngineID == "" {
			invalid("search provider customsearch needs GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			invalid("search provider gemini needs GEMINI_API_KEY")
		}
	case "html":
	default:
		invalid("unknown search provider %q", c.SearchProvider)
	}

	switch c.CheckpointBackend {
	case "memory", "sqlite", "redis":
	case "postgres":
		if c.PostgresURL == "" {
			invalid("checkpoint backend postgres needs POSTGRES_URL")
		}
	default:
		invalid("unknown checkpoint backend %q", c.CheckpointBackend)
	}

	switch c.RotationPolicy {
	case "round_robin", "weighted_random":
	default:
		invalid("unknown rotation policy %q", c.RotationPolicy)
	}

	switch c.ExportFormat {
	case "csv", "xlsx", "spreadsheet", "json", "all":
	default:
		invalid("unknown export format %q", c.ExportFormat)
	}
	if c.ExportDatabase && c.PostgresURL == "" {
		invalid("EXPORT_DATABASE needs POSTGRES_URL")
	}

	if c.Workers < 1 {
		invalid("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		invalid("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		invalid("BACKOFF_JITTER must be within [0, 1], got %g", c.BackoffJitter)
	}
	if !c.AllowDirect && !c.HasProxies() {
		invalid("direct connections are disabled but no proxy is configured")
	}
	return errors.Join(errs...)
}

// HasProxies reports whether any proxy source is set.
func (c *Config) HasProxies() bool {
	return c.Proxy != "" || c.ProxyList != "" || c.ProxyFile != ""
}

// Format normalises the export format name ("spreadsheet" is an alias of "xlsx").
func (c *Config) Format() string {
	if c.ExportFormat == "spreadsheet" {
		return "xlsx"
	}
	return c.ExportFormat
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
