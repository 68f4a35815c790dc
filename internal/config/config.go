// Package config loads and validates linkgate configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/linkgate/internal/crawl"
	"github.com/JakeFAU/linkgate/internal/report"
)

// EnvPrefix prefixes every environment override, e.g. LINKGATE_SERVER_PORT.
const EnvPrefix = "LINKGATE"

// DefaultPort is the port the supervised server binds when none is configured.
const DefaultPort = 41722

// Config captures every linkgate setting.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Server  ServerConfig  `mapstructure:"server"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Report  ReportConfig  `mapstructure:"report"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig locates the built site and the domain it will be published on.
type SiteConfig struct {
	Dir string `mapstructure:"dir"`
	// Domain is the published root, e.g. https://docs.example.com. Links are
	// checked in this URL space and fetched from the local server.
	Domain   string `mapstructure:"domain"`
	RootPath string `mapstructure:"root_path"`
}

// ServerConfig describes the supervised static file server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Command is an argv template with {dir} and {port} placeholders. Empty
	// runs this binary's own serve command.
	Command      []string      `mapstructure:"command"`
	Env          []string      `mapstructure:"env"`
	ReadyMarker  string        `mapstructure:"ready_marker"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// CrawlConfig bounds the crawl.
type CrawlConfig struct {
	MaxPages  int      `mapstructure:"max_pages"`
	Exclude   []string `mapstructure:"exclude"`
	UserAgent string   `mapstructure:"user_agent"`
}

// HTTPConfig configures page fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	// RequestsPerSecond paces fetches for slow development servers. Zero is
	// unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ReportConfig selects the report format and where copies are stored.
type ReportConfig struct {
	Format    string `mapstructure:"format"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the crawl-finished notification target.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig enables the admin endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names to config keys. Only flags present on the
// FlagSet passed to Load are bound.
var flagKeys = map[string]string{
	"dir":         "site.dir",
	"domain":      "site.domain",
	"root-path":   "site.root_path",
	"port":        "server.port",
	"format":      "report.format",
	"report-dir":  "report.dir",
	"max-pages":   "crawl.max_pages",
	"exclude":     "crawl.exclude",
	"metrics":     "metrics.addr",
	"development": "logging.development",
	"log-level":   "logging.level",
}

// Load builds a Config from defaults, an optional file, the environment,
// and flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.dir", ".")
	v.SetDefault("site.domain", "")
	v.SetDefault("site.root_path", "/")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.command", []string{})
	v.SetDefault("server.env", []string{})
	v.SetDefault("server.ready_marker", "Listening on")
	v.SetDefault("server.ready_timeout", "0s")
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.exclude", []string{})
	v.SetDefault("crawl.user_agent", "linkgate/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("report.format", "text")
	v.SetDefault("report.dir", "")
	v.SetDefault("report.gcs_bucket", "")
	v.SetDefault("report.prefix", "linkgate")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. The site domain
// is left to the link sieve, which rejects a missing one before any crawl.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.Dir) == "" {
		return fmt.Errorf("site.dir is required")
	}
	if !strings.HasPrefix(c.Site.RootPath, "/") {
		return fmt.Errorf("site.root_path must start with /")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.ReadyTimeout < 0 {
		return fmt.Errorf("server.ready_timeout must be >= 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if err := crawl.ValidatePatterns(c.Crawl.Exclude); err != nil {
		return fmt.Errorf("crawl.exclude: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffInitialMs <= 0 || c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_initial_ms must be > 0 and <= http.backoff_max_ms")
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http.requests_per_second and http.burst must be >= 0")
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report.format: %w", err)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

// FetchTimeout returns the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Backoff returns the initial and maximum retry delays.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
