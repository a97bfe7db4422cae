package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli"

	"pawcal/internal/config"
	"pawcal/internal/ics"
	appLog "pawcal/internal/log"
	"pawcal/internal/metrics"
	"pawcal/internal/reminder"
	"pawcal/internal/storage"
	"pawcal/internal/web"
)

const version = "0.1.0"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the YAML config (created with defaults if missing)",
		EnvVar: "PAWCAL_CONFIG",
		Value:  "pawcal.yaml",
	},
	cli.StringFlag{
		Name:  "log-level",
		Usage: "override log level (debug, info, warn, error)",
	},
}

func main() {
	app := cli.App{
		Name:     "pawcal",
		HelpName: "pawcal",
		Usage:    "pet-care reminders with calendar export",
		Version:  version,
		Flags:    globalFlags,
		Action:   serve,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API (default)",
				Action: serve,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "listen, l", Usage: "override the listen address"},
				},
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema and exit",
				Action: migrate,
			},
			{
				Name:      "export",
				Usage:     "write a stored reminder as an .ics file",
				ArgsUsage: " ",
				Action:    export,
				Flags: []cli.Flag{
					cli.UintFlag{Name: "id", Usage: "reminder ID"},
					cli.StringFlag{Name: "out, o", Usage: "output path, - for stdout (default: derived from the title)"},
				},
			},
			{
				Name:   "occurrences",
				Usage:  "print upcoming occurrences of a repetition",
				Action: occurrences,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "anchor, a", Usage: "first occurrence, YYYY-MM-DDTHH:MM (UTC) or RFC 3339"},
					cli.StringFlag{Name: "repetition, r", Usage: `"once" or "<n> <hours|days|weeks|months|years>"`, Value: "once"},
					cli.IntFlag{Name: "count, n", Usage: "how many occurrences to print", Value: 5},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("pawcal failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the global flags and applies
// the log level.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	level := cfg.LogLevel
	if l := c.GlobalString("log-level"); l != "" {
		level = l
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return cfg, nil
}

// app bundles the wired components of one process.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	svc      *reminder.Service
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

func wire(cfg *config.Config) (*app, error) {
	st, err := storage.Open(cfg.Database.URL, cfg.Database.SQLitePath)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	enc := ics.NewEncoder(
		ics.WithProductID(cfg.Calendar.ProductID),
		ics.WithUIDDomain(cfg.Calendar.UIDDomain),
	)
	svc := reminder.New(st, enc, reminder.Options{
		Location:        cfg.Location(),
		DefaultDuration: cfg.Calendar.DefaultDuration,
		Horizon:         daysToDuration(cfg.HorizonDays),
		Metrics:         rec,
		Fetcher:         ics.NewFetcher(cfg.Import.CacheDir, cfg.Import.Timeout),
	})
	return &app{cfg: cfg, store: st, svc: svc, registry: reg, metrics: rec}, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if l := c.String("listen"); l != "" {
		cfg.Listen = l
	}

	appLog.Info("pawcal starting", "version", version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"database", backendName(cfg),
		"input_timezone", cfg.Calendar.InputTimezone,
		"default_duration", cfg.Calendar.DefaultDuration.String(),
		"horizon_days", cfg.HorizonDays,
		"basic_auth", cfg.BasicAuth != nil,
	)

	a, err := wire(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	srv := web.NewServer(web.Deps{
		Config:   cfg,
		Service:  a.svc,
		Metrics:  a.metrics,
		Gatherer: a.registry,
	})
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	appLog.Info("pawcal exiting")
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := storage.Open(cfg.Database.URL, cfg.Database.SQLitePath)
	if err != nil {
		return err
	}
	appLog.Info("schema up to date", "database", backendName(cfg))
	return st.Close()
}

func backendName(cfg *config.Config) string {
	if cfg.Database.URL != "" {
		return "postgres"
	}
	return "sqlite:" + cfg.Database.SQLitePath
}
