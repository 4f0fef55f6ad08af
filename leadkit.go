// Package leadkit is the backend of a conversion-optimised landing page
// built with Go and Echo. It takes contact and newsletter submissions,
// ingests analytics events from the page, serves the engagement widgets
// and rate limits every public endpoint.
package leadkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/leadkit/analytics"
	"github.com/eringen/leadkit/database"
	"github.com/eringen/leadkit/engagement"
	"github.com/eringen/leadkit/logging"
	"github.com/eringen/leadkit/notify"
	"github.com/eringen/leadkit/ratelimit"
)

// App is the central leadkit application. It wires together the stores,
// limiter, mailer, handlers and middleware.
type App struct {
	Config    SiteConfig
	Echo      *echo.Echo
	Logger    *zap.Logger
	DB        *sql.DB
	Store     *Store
	Analytics *analytics.Handler
	Limiter   *ratelimit.Limiter
	Mailer    notify.Mailer

	limiterStore ratelimit.Store
	forwarder    analytics.Forwarder
	scheduler    engagement.Scheduler
	customRoutes []func(*App)

	initialized bool
	stops       []func()
	closers     []io.Closer
	wg          sync.WaitGroup
}

// New creates a leadkit App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		scheduler: engagement.SystemScheduler{},
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		a.Logger = logging.New(logging.Config{
			Environment: cfg.Environment,
			Level:       cfg.LogLevel,
			Format:      cfg.LogFormat,
			File:        cfg.LogFile,
		})
	}
	return a
}

// Init opens the database and external clients, starts the background
// jobs, and registers middleware and routes. Start calls it when needed.
func (a *App) Init() error {
	if a.initialized {
		return nil
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("leadkit: SessionSecret is required")
	}

	if a.DB == nil {
		db, err := database.Open(database.Config{
			URL:       a.Config.DatabaseURL,
			AuthToken: a.Config.DatabaseToken,
			Path:      a.Config.DatabasePath,
		})
		if err != nil {
			return fmt.Errorf("leadkit: open database: %w", err)
		}
		a.DB = db
	}

	store, err := NewStore(a.DB)
	if err != nil {
		return fmt.Errorf("leadkit: init store: %w", err)
	}
	a.Store = store

	analyticsStore, err := analytics.NewStore(a.DB)
	if err != nil {
		return fmt.Errorf("leadkit: init analytics: %w", err)
	}
	if err := analytics.InitSalt(analyticsStore); err != nil {
		return fmt.Errorf("leadkit: init analytics salt: %w", err)
	}
	a.stops = append(a.stops,
		analyticsStore.StartCleanupScheduler(a.Config.AnalyticsRetentionDays, 24*time.Hour, a.Logger))

	if a.forwarder == nil && len(a.Config.KafkaBrokers) > 0 {
		kf := analytics.NewKafkaForwarder(a.Config.KafkaBrokers, a.Config.KafkaTopic, a.Logger)
		a.forwarder = kf
		a.closers = append(a.closers, kf)
	}
	var handlerOpts []analytics.HandlerOption
	if a.forwarder != nil {
		handlerOpts = append(handlerOpts, analytics.WithForwarder(a.forwarder))
	}
	a.Analytics = analytics.NewHandler(analyticsStore, a.Logger, handlerOpts...)

	if a.limiterStore == nil && a.Config.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := ratelimit.OpenRedis(ctx, a.Config.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("leadkit: connect redis: %w", err)
		}
		a.limiterStore = ratelimit.NewRedisStore(client, ratelimit.DefaultRedisPrefix)
		a.closers = append(a.closers, client)
	}
	a.Limiter = ratelimit.New(a.limiterStore, ratelimit.WithLogger(a.Logger))
	a.stops = append(a.stops, a.Limiter.StartSweeper(5*time.Minute, 5*time.Minute))

	if a.Mailer == nil {
		if a.Config.ResendAPIKey != "" {
			m, err := notify.NewResendMailer(notify.ResendConfig{
				APIKey:   a.Config.ResendAPIKey,
				From:     a.Config.NotifyFrom,
				FromName: a.Config.NotifyFromName,
				To:       a.Config.NotifyTo,
			})
			if err != nil {
				return fmt.Errorf("leadkit: init mailer: %w", err)
			}
			a.Mailer = m
		} else {
			a.Mailer = notify.Nop{}
		}
	}

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.initialized = true
	return nil
}

// Start initializes the app if needed and serves HTTP until the server is
// shut down.
func (a *App) Start() error {
	if err := a.Init(); err != nil {
		return err
	}
	a.Logger.Info("leadkit listening", zap.String("addr", a.Config.Addr), zap.String("env", a.Config.Environment))
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo
	key := a.clientKey()
	limit := func(rule ratelimit.Rule) echo.MiddlewareFunc {
		return a.Limiter.Middleware(rule, key)
	}

	e.GET("/healthz", a.handleHealth)

	e.POST("/contact", a.handleContact, limit(ratelimit.ContactRule))
	e.POST("/subscribe", a.handleSubscribe, limit(ratelimit.SubscribeRule))
	e.PATCH("/subscribe", a.handleUnsubscribe, limit(ratelimit.UnsubscribeRule))

	a.Analytics.RegisterRoutes(e.Group(""), limit(ratelimit.AnalyticsRule))

	e.GET("/widgets/scarcity", a.handleScarcity, limit(ratelimit.AnalyticsRule))
	e.POST("/widgets/exit-intent", a.handleExitIntent, limit(ratelimit.AnalyticsRule))
}

// clientKey picks how rate-limit buckets are keyed. Behind a trusted proxy
// Echo's extractor is authoritative; otherwise the first forwarded address
// is used as sent.
func (a *App) clientKey() ratelimit.KeyFunc {
	if a.Config.TrustProxy {
		return ratelimit.RealIPKey
	}
	return ratelimit.ForwardedForKey
}

// Go runs fn in the background. Close waits for it to return.
func (a *App) Go(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Shutdown stops the HTTP server gracefully and releases all resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	return errors.Join(err, a.Close())
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	for _, stop := range a.stops {
		stop()
	}
	a.stops = nil
	a.wg.Wait()

	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
		a.DB = nil
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MustEnv returns the value of the environment variable key, or fatally exits if empty.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("leadkit: required environment variable %s is not set", key)
	}
	return v
}
