// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/profile-extractor/internal/extract"
	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// EnvPrefix namespaces environment overrides, e.g. PROFILE_RETRY_MAX_RETRIES.
const EnvPrefix = "PROFILE"

// Browser engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Sink kinds.
const (
	SinkStdout = "stdout"
	SinkFile   = "file"
	SinkGCS    = "gcs"
	SinkPubSub = "pubsub"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Stabilize  StabilizeConfig  `mapstructure:"stabilize"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// InputConfig names the profile to extract when no flag overrides it.
type InputConfig struct {
	ProfileURL string `mapstructure:"profile_url"`
	// File is a JSON input document of the form {"profileUrl": "..."}.
	File string `mapstructure:"file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PoolConfig controls session provisioning.
type PoolConfig struct {
	// Tiers are ordered by trust; the first is preferred.
	Tiers []string `mapstructure:"tiers"`
	// Endpoints lists proxy URLs per tier; "direct" issues proxy-less sessions.
	Endpoints    map[string][]string   `mapstructure:"endpoints"`
	Fingerprints []profile.Fingerprint `mapstructure:"fingerprints"`
	MaxUses      int                   `mapstructure:"max_uses"`
}

// BrowserConfig selects and tunes the browser adapter.
type BrowserConfig struct {
	Engine      string `mapstructure:"engine"`
	Headless    bool   `mapstructure:"headless"`
	ExecPath    string `mapstructure:"exec_path"`
	Stealth     bool   `mapstructure:"stealth"`
	MaxParallel int    `mapstructure:"max_parallel"`
}

// StabilizeConfig holds the page-readiness timeouts.
type StabilizeConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout"`
	QuietWindow       time.Duration `mapstructure:"quiet_window"`
	AnchorTimeout     time.Duration `mapstructure:"anchor_timeout"`
	ContextLostDelay  time.Duration `mapstructure:"context_lost_delay"`
	Anchors           []string      `mapstructure:"anchors"`
}

// ClassifierConfig overrides the login-wall title markers.
type ClassifierConfig struct {
	Markers []string `mapstructure:"markers"`
}

// ExtractConfig overrides field selector chains by name.
type ExtractConfig struct {
	Fields []extract.FieldSpec `mapstructure:"fields"`
}

// RetryConfig governs the retry budget and pacing.
type RetryConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	DegradedMaxRetries int           `mapstructure:"degraded_max_retries"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	HostQPS            float64       `mapstructure:"host_qps"`
}

// DispatcherConfig bounds concurrent requests.
type DispatcherConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// SinkConfig selects one or more result sinks.
type SinkConfig struct {
	Kinds  []string         `mapstructure:"kinds"`
	File   FileSinkConfig   `mapstructure:"file"`
	GCS    GCSSinkConfig    `mapstructure:"gcs"`
	PubSub PubSubSinkConfig `mapstructure:"pubsub"`
}

// FileSinkConfig configures the directory sink.
type FileSinkConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSSinkConfig configures the object storage sink.
type GCSSinkConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubSinkConfig configures the messaging sink.
type PubSubSinkConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig exposes Prometheus metrics when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from an optional file plus environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &Error{Key: "config", Err: fmt.Errorf("read config: %w", err)}
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates an already-initialized Viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &Error{Key: "config", Err: fmt.Errorf("unmarshal config: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)

	v.SetDefault("pool.tiers", []string{"direct"})
	v.SetDefault("pool.endpoints", map[string][]string{"direct": {"direct"}})
	v.SetDefault("pool.fingerprints", []map[string]any{{
		"user_agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"accept_language": "en-US,en;q=0.9",
		"platform":        "Linux x86_64",
		"timezone":        "America/New_York",
		"viewport_width":  1366,
		"viewport_height": 768,
	}})
	v.SetDefault("pool.max_uses", 0)

	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.max_parallel", 2)

	v.SetDefault("stabilize.navigation_timeout", "60s")
	v.SetDefault("stabilize.settle_timeout", "10s")
	v.SetDefault("stabilize.quiet_window", "500ms")
	v.SetDefault("stabilize.anchor_timeout", "15s")
	v.SetDefault("stabilize.context_lost_delay", "250ms")

	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.degraded_max_retries", 1)
	v.SetDefault("retry.base_backoff", "1s")
	v.SetDefault("retry.max_backoff", "15s")
	v.SetDefault("retry.host_qps", 0.5)

	v.SetDefault("dispatcher.concurrency", 2)

	v.SetDefault("sink.kinds", []string{SinkStdout})
	v.SetDefault("sink.file.dir", "data/profiles")
	v.SetDefault("sink.gcs.prefix", "profiles")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Pool.Tiers) == 0 {
		return newError("pool.tiers", "at least one tier is required")
	}
	for _, tier := range c.Pool.Tiers {
		if strings.TrimSpace(tier) == "" {
			return newError("pool.tiers", "tier names must not be blank")
		}
	}
	if c.Pool.MaxUses < 0 {
		return newError("pool.max_uses", "must be >= 0")
	}
	switch c.Browser.Engine {
	case EngineChromedp, EngineRod:
	default:
		return newError("browser.engine", fmt.Sprintf("unknown engine %q", c.Browser.Engine))
	}
	if c.Browser.MaxParallel < 0 {
		return newError("browser.max_parallel", "must be >= 0")
	}
	if c.Stabilize.NavigationTimeout <= 0 {
		return newError("stabilize.navigation_timeout", "must be > 0")
	}
	if c.Stabilize.SettleTimeout <= 0 || c.Stabilize.AnchorTimeout <= 0 {
		return newError("stabilize.settle_timeout", "settle and anchor timeouts must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return newError("retry.max_retries", "must be >= 0")
	}
	if c.Retry.DegradedMaxRetries < 0 {
		return newError("retry.degraded_max_retries", "must be >= 0")
	}
	if c.Retry.HostQPS < 0 {
		return newError("retry.host_qps", "must be >= 0")
	}
	if c.Dispatcher.Concurrency <= 0 {
		return newError("dispatcher.concurrency", "must be > 0")
	}
	return c.Sink.validate()
}

func (s SinkConfig) validate() error {
	if len(s.Kinds) == 0 {
		return newError("sink.kinds", "at least one sink is required")
	}
	for _, kind := range s.Kinds {
		switch kind {
		case SinkStdout:
		case SinkFile:
			if s.File.Dir == "" {
				return newError("sink.file.dir", "required for the file sink")
			}
		case SinkGCS:
			if s.GCS.Bucket == "" {
				return newError("sink.gcs.bucket", "required for the gcs sink")
			}
		case SinkPubSub:
			if s.PubSub.ProjectID == "" || s.PubSub.Topic == "" {
				return newError("sink.pubsub", "project_id and topic are required for the pubsub sink")
			}
		default:
			return newError("sink.kinds", fmt.Sprintf("unknown sink %q", kind))
		}
	}
	return nil
}
