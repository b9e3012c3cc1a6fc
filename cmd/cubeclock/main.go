package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tnicklin/cubeclock/clock"
	"github.com/tnicklin/cubeclock/config"
	"github.com/tnicklin/cubeclock/logger"
	"github.com/tnicklin/cubeclock/observer"
	"github.com/tnicklin/cubeclock/store"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

var defaultConfigFiles = []string{"config/config.yaml", "config/local.yaml"}

func main() {
	app := cli.NewApp()
	app.Name = "cubeclock"
	app.Usage = "keep a drift-corrected clock against an NTP server"
	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "config",
			Value: cli.NewStringSlice(defaultConfigFiles...),
			Usage: "YAML config files, merged in order",
		},
		&cli.StringFlag{
			Name:  "server",
			Usage: "NTP server host, overrides ntp.host",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "NTP server port, overrides ntp.port",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "receive timeout, overrides ntp.timeout",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level, overrides logger.level",
		},
	}
	app.Commands = []*cli.Command{
		queryCommand,
		watchCommand,
		syncCommand,
		historyCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

type buildOptions struct {
	// Store opens the history database and records observer events in it.
	Store    bool
	Adjuster clock.Adjuster
}

type runParams struct {
	Config   *config.AppConfig
	Logger   logger.Logger
	Store    store.Store
	Observer *observer.Observer
	Clock    *clock.Corrected
}

// build loads configuration, applies command line overrides and wires the
// components a command needs.
func build(c *cli.Context, opts buildOptions) (runParams, error) {
	cfg, err := loadConfig(c.StringSlice("config"))
	if err != nil {
		return runParams{}, fmt.Errorf("load config: %w", err)
	}
	if s := c.String("server"); s != "" {
		cfg.NTP.Host = s
	}
	if p := c.Int("port"); p > 0 {
		cfg.NTP.Port = p
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.NTP.Timeout = d
	}
	if l := c.String("log-level"); l != "" {
		cfg.Logger.Level = l
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return runParams{}, fmt.Errorf("initialize logger: %w", err)
	}

	var (
		st       store.Store
		recorder observer.Recorder
	)
	if opts.Store {
		sqlite := store.NewSQLiteStore(store.Params{Path: cfg.Store.Path, Logger: appLogger})
		if err = sqlite.Open(c.Context); err != nil {
			return runParams{}, fmt.Errorf("open history store: %w", err)
		}
		st = sqlite
		recorder = store.NewRecorder(sqlite)
	}

	obs := observer.New(observer.Params{
		Config:       cfg.Observer,
		ClientConfig: cfg.NTP,
		Adjuster:     opts.Adjuster,
		Recorder:     recorder,
		Logger:       appLogger,
	})

	return runParams{
		Config:   cfg,
		Logger:   appLogger,
		Store:    st,
		Observer: obs,
		Clock:    clock.NewCorrected(obs),
	}, nil
}

// shutdown closes everything build opened.
func (p runParams) shutdown() error {
	var err error
	if p.Observer != nil {
		err = multierr.Append(err, p.Observer.Close())
	}
	if p.Store != nil {
		err = multierr.Append(err, p.Store.Close())
	}
	_ = p.Logger.Sync()
	return err
}

func loadConfig(files []string) (*config.AppConfig, error) {
	cfg, err := config.LoadWithDefaults(files...)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &config.AppConfig{}
		cfg.Defaults()
		return cfg, nil
	}
	return cfg, err
}

func printSample(c *cli.Context, p runParams) {
	last := p.Observer.LastResult()
	if last == nil {
		return
	}
	offset := last.LocalClockOffset()
	w := c.App.Writer
	fmt.Fprintf(w, "server:      %s\n", p.Observer.Client().Address())
	fmt.Fprintf(w, "stratum:     %d (%s)\n", last.Stratum, last.ReferenceName())
	fmt.Fprintf(w, "offset:      %s\n", offset)
	fmt.Fprintf(w, "delay:       %s\n", last.RoundTripDelay())
	fmt.Fprintf(w, "precision:   %s\n", last.PrecisionDuration())
	fmt.Fprintf(w, "local time:  %s\n", last.Destination.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "server time: %s\n", last.Destination.Add(offset).Format(time.RFC3339Nano))
	fmt.Fprintf(w, "drift:       %s\n", clock.Classify(offset, p.Config.DriftThreshold))
}
