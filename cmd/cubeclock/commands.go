package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/tnicklin/cubeclock/clock"
	"github.com/tnicklin/cubeclock/store"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var queryCommand = &cli.Command{
	Name:  "query",
	Usage: "query the server once and print the measured offset",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "retries",
			Value: -1,
			Usage: "retries after a failed attempt, -1 uses observer.max_retry",
		},
		&cli.BoolFlag{
			Name:  "record",
			Usage: "record the result in the history store",
		},
	},
	Action: query,
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "print the drift-corrected time until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Value: time.Second,
			Usage: "how often to print the corrected time",
		},
		&cli.DurationFlag{
			Name:  "prune-every",
			Value: time.Hour,
			Usage: "how often to drop history older than store.retention",
		},
	},
	Action: watch,
}

var syncCommand = &cli.Command{
	Name:   "sync",
	Usage:  "step the system clock to the server time (needs privileges)",
	Action: syncClock,
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "list recorded samples and adjustments",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "since",
			Value: 24 * time.Hour,
			Usage: "how far back to look",
		},
		&cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "maximum number of rows per table",
		},
	},
	Action: history,
}

func query(c *cli.Context) (err error) {
	p, err := build(c, buildOptions{Store: c.Bool("record")})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.shutdown()) }()

	retries := c.Int("retries")
	if retries < 0 {
		retries = p.Config.Observer.MaxRetry
	}
	if err = p.Observer.RefreshWithRetry(c.Context, retries, p.Config.Observer.RetryInterval); err != nil {
		return fmt.Errorf("query %s: %w", p.Observer.Client().Address(), err)
	}
	printSample(c, p)
	return nil
}

func watch(c *cli.Context) (err error) {
	interval, pruneEvery := c.Duration("interval"), c.Duration("prune-every")
	if interval <= 0 || pruneEvery <= 0 {
		return errors.New("interval and prune-every must be positive")
	}

	p, err := build(c, buildOptions{Store: true})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.shutdown()) }()

	p.Logger.InfoW("watching",
		"server", p.Observer.Client().Address(),
		"ttl", p.Observer.TimeToLive(),
		"drift_threshold", p.Config.DriftThreshold,
	)

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		return tick(ctx, interval, func() {
			offset := p.Clock.Offset()
			now := p.Clock.Now()
			fmt.Fprintf(c.App.Writer, "%s  offset=%s valid=%t\n",
				now.Format("15:04:05.000"), offset, p.Observer.IsValid())
		})
	})
	g.Go(func() error {
		var last clock.Drift
		return tick(ctx, interval, func() {
			if !p.Observer.IsValid() {
				return
			}
			offset := p.Observer.LocalClockOffset()
			d := clock.Classify(offset, p.Config.DriftThreshold)
			if d != last && d != clock.InSync {
				p.Logger.WarnW("local clock drifting", "drift", d.String(), "offset", offset)
			}
			last = d
		})
	})
	g.Go(func() error {
		return tick(ctx, pruneEvery, func() {
			cutoff := time.Now().Add(-p.Config.Store.Retention)
			if _, err := p.Store.PruneBefore(ctx, cutoff); err != nil {
				p.Logger.WarnW("prune history", "error", err)
			}
		})
	})

	if err = g.Wait(); errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func syncClock(c *cli.Context) (err error) {
	p, err := build(c, buildOptions{Store: true, Adjuster: clock.NewSystemAdjuster()})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.shutdown()) }()

	cfg := p.Config.Observer
	if err = p.Observer.RefreshWithRetry(c.Context, cfg.MaxRetry, cfg.RetryInterval); err != nil {
		return fmt.Errorf("query %s: %w", p.Observer.Client().Address(), err)
	}
	printSample(c, p)

	if err = p.Observer.Synchronize(c.Context); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "system clock adjusted")
	return nil
}

func history(c *cli.Context) (err error) {
	p, err := build(c, buildOptions{Store: true})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.shutdown()) }()

	since := time.Now().Add(-c.Duration("since"))
	limit := c.Int("limit")
	w := c.App.Writer

	samples, err := p.Store.ListSamplesSince(c.Context, since, limit)
	if err != nil {
		return fmt.Errorf("list samples: %w", err)
	}
	failures, err := p.Store.CountFailuresSince(c.Context, since)
	if err != nil {
		return fmt.Errorf("count failures: %w", err)
	}
	adjustments, err := p.Store.ListAdjustments(c.Context, limit)
	if err != nil {
		return fmt.Errorf("list adjustments: %w", err)
	}

	fmt.Fprintf(w, "%d samples, %d failures since %s\n", len(samples), failures, since.Format(time.RFC3339))
	for _, line := range lo.Map(samples, func(s store.Sample, _ int) string {
		return fmt.Sprintf("%s  %-24s stratum=%-2d ref=%-15s offset=%-14s delay=%s",
			s.CreatedAt.Local().Format(time.DateTime), s.Server, s.Stratum, s.ReferenceID, s.Offset, s.Delay)
	}) {
		fmt.Fprintln(w, line)
	}
	if len(samples) > 0 {
		mean := lo.SumBy(samples, func(s store.Sample) time.Duration { return s.Offset }) / time.Duration(len(samples))
		worst := lo.MaxBy(samples, func(a, b store.Sample) bool { return a.Offset.Abs() > b.Offset.Abs() })
		fmt.Fprintf(w, "mean offset %s, largest %s at %s\n",
			mean, worst.Offset, worst.CreatedAt.Local().Format(time.DateTime))
	}

	applied := lo.Filter(adjustments, func(a store.Adjustment, _ int) bool { return a.Error == "" })
	fmt.Fprintf(w, "%d adjustments (%d applied)\n", len(adjustments), len(applied))
	for _, a := range adjustments {
		status := "ok"
		if a.Error != "" {
			status = a.Error
		}
		fmt.Fprintf(w, "%s  %-24s offset=%-14s %s\n",
			a.AppliedAt.Local().Format(time.DateTime), a.Server, a.Offset, status)
	}
	return nil
}

// tick runs fn immediately and then every interval until ctx is done.
func tick(ctx context.Context, interval time.Duration, fn func()) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		fn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
