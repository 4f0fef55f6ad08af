package leadkit

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eringen/leadkit/analytics"
	"github.com/eringen/leadkit/engagement"
	"github.com/eringen/leadkit/notify"
	"github.com/eringen/leadkit/ratelimit"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SiteConfig holds all configuration for a leadkit deployment.
type SiteConfig struct {
	Name        string `yaml:"name"`        // Site name (default "Leadkit")
	Addr        string `yaml:"addr"`        // Listen address (default ":3000")
	Environment string `yaml:"environment"` // "production" or "development"

	DatabaseURL   string `yaml:"database_url"`   // libsql://... for a hosted database
	DatabaseToken string `yaml:"database_token"` // libsql auth token
	DatabasePath  string `yaml:"database_path"`  // local SQLite path (default "data/leadkit.db")

	SessionSecret  string   `yaml:"session_secret"` // Required: widget cookie signing secret
	CookieSecure   bool     `yaml:"cookie_secure"`  // Set true for HTTPS
	TrustProxy     bool     `yaml:"trust_proxy"`    // Derive client keys from trusted proxies only
	AllowedOrigins []string `yaml:"allowed_origins"`
	BodyLimit      string   `yaml:"body_limit"` // default "64K"

	RedisURL string `yaml:"redis_url"` // Shared rate-limit store; in-memory when empty

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"` // default "leadkit.analytics"

	ResendAPIKey   string   `yaml:"resend_api_key"`
	NotifyFrom     string   `yaml:"notify_from"`
	NotifyFromName string   `yaml:"notify_from_name"`
	NotifyTo       []string `yaml:"notify_to"`

	AnalyticsRetentionDays int `yaml:"analytics_retention_days"` // default 365

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	Scarcity           ScarcityConfig `yaml:"scarcity"`
	ExitIntentCooldown time.Duration  `yaml:"exit_intent_cooldown"` // default 24h
}

// ScarcityConfig configures the decaying counter widget.
type ScarcityConfig struct {
	Initial          int           `yaml:"initial"`           // default 47
	Min              int           `yaml:"min"`               // default 12
	Interval         time.Duration `yaml:"interval"`          // default 3m
	UrgencyThreshold int           `yaml:"urgency_threshold"` // default 20
	Widgets          []string      `yaml:"widgets"`           // allowed ids; any valid id when empty
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Leadkit"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/leadkit.db"
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "64K"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "leadkit.analytics"
	}
	if c.AnalyticsRetentionDays == 0 {
		c.AnalyticsRetentionDays = 365
	}
	def := engagement.DefaultCounterConfig("")
	if c.Scarcity.Initial == 0 {
		c.Scarcity.Initial = def.Initial
	}
	if c.Scarcity.Min == 0 {
		c.Scarcity.Min = def.Min
	}
	if c.Scarcity.Interval == 0 {
		c.Scarcity.Interval = def.Interval
	}
	if c.Scarcity.UrgencyThreshold == 0 {
		c.Scarcity.UrgencyThreshold = def.UrgencyThreshold
	}
	if c.ExitIntentCooldown == 0 {
		c.ExitIntentCooldown = 24 * time.Hour
	}
}

// LoadConfig reads an optional YAML file and overlays environment
// variables on top of it. Defaults are applied by New.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *SiteConfig) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	setBool := func(dst *bool, key string) {
		if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = v
		}
	}

	setString(&c.Name, "SITE_NAME")
	setString(&c.Addr, "ADDR")
	setString(&c.Environment, "APP_ENV")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.DatabaseToken, "DATABASE_AUTH_TOKEN")
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.SessionSecret, "SESSION_SECRET")
	setBool(&c.CookieSecure, "COOKIE_SECURE")
	setBool(&c.TrustProxy, "TRUST_PROXY")
	setList(&c.AllowedOrigins, "ALLOWED_ORIGINS")
	setList(&c.Scarcity.Widgets, "SCARCITY_WIDGETS")
	setString(&c.RedisURL, "REDIS_URL")
	setList(&c.KafkaBrokers, "KAFKA_BROKERS")
	setString(&c.KafkaTopic, "KAFKA_TOPIC")
	setString(&c.ResendAPIKey, "RESEND_API_KEY")
	setString(&c.NotifyFrom, "NOTIFY_FROM")
	setString(&c.NotifyFromName, "NOTIFY_FROM_NAME")
	setList(&c.NotifyTo, "NOTIFY_TO")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.LogFile, "LOG_FILE")
	if v, err := strconv.Atoi(os.Getenv("ANALYTICS_RETENTION_DAYS")); err == nil {
		c.AnalyticsRetentionDays = v
	}
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}

// Option configures additional App behavior.
type Option func(*App)

// WithLogger replaces the default development logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.Logger = l }
}

// WithDB uses an already open database instead of opening one from the
// configuration.
func WithDB(db *sql.DB) Option {
	return func(a *App) { a.DB = db }
}

// WithMailer overrides the notification mailer.
func WithMailer(m notify.Mailer) Option {
	return func(a *App) { a.Mailer = m }
}

// WithLimiterStore overrides the rate-limit bucket store.
func WithLimiterStore(s ratelimit.Store) Option {
	return func(a *App) { a.limiterStore = s }
}

// WithForwarder publishes stored analytics through f.
func WithForwarder(f analytics.Forwarder) Option {
	return func(a *App) { a.forwarder = f }
}

// WithScheduler sets the clock and timers used by the widgets.
func WithScheduler(s engagement.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}
