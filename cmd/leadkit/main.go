package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/eringen/leadkit"
	"github.com/eringen/leadkit/analytics"
	"github.com/eringen/leadkit/database"
	"github.com/eringen/leadkit/logging"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "leadkit",
		Usage: "landing page lead capture and analytics backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("LEADKIT_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or upgrade the database schema and exit",
				Action: migrate,
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(context.Context, *cli.Command) error {
					fmt.Printf("leadkit %s\n", version)
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (leadkit.SiteConfig, *zap.Logger, error) {
	cfg, err := leadkit.LoadConfig(cmd.String("config"))
	if err != nil {
		return cfg, nil, err
	}
	logger := logging.New(logging.Config{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		File:        cfg.LogFile,
	})
	return cfg, logger, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app := leadkit.New(cfg, leadkit.WithLogger(logger))
	if err := app.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- app.Start() }()

	select {
	case err := <-errc:
		return errors.Join(err, app.Close())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

func migrate(_ context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/leadkit.db"
	}
	db, err := database.Open(database.Config{
		URL:       cfg.DatabaseURL,
		AuthToken: cfg.DatabaseToken,
		Path:      cfg.DatabasePath,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := leadkit.NewStore(db); err != nil {
		return err
	}
	if _, err := analytics.NewStore(db); err != nil {
		return err
	}
	logger.Info("schema up to date", zap.Bool("remote", cfg.DatabaseURL != ""))
	return nil
}
