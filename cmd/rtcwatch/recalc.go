package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rtcwatch/rtcwatch/internal/server/config"
	"github.com/rtcwatch/rtcwatch/internal/server/db"
	"github.com/rtcwatch/rtcwatch/internal/server/engine"
	"github.com/rtcwatch/rtcwatch/internal/server/store"
	"github.com/rtcwatch/rtcwatch/internal/util/timefmt"
)

// runRecalc rebuilds every per-day aggregate from the raw event log.
// It is safe to run against a live database: each (epoch, day) is
// recomputed in its own transaction and the recompute is idempotent.
func runRecalc(args []string) error {
	fs := flag.NewFlagSet("recalc", flag.ExitOnError)
	flags := config.DefineFlags(fs)
	workers := fs.Int("workers", 4, "channels recomputed concurrently")
	_ = fs.Parse(args)

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channels, err := store.New(conn).ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	slog.Info("recalculating aggregates", "channels", len(channels), "db", cfg.DBPath())

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for _, ch := range channels {
		g.Go(func() error {
			return recalcChannel(ctx, conn, ch)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("recalculation complete", "channels", len(channels))
	return nil
}

func recalcChannel(ctx context.Context, conn *sql.DB, ch store.AppChannel) error {
	epochDays, err := store.New(conn).ListEpochDays(ctx, ch.AppID, ch.ChannelName)
	if err != nil {
		return fmt.Errorf("list epoch days for %s/%s: %w", ch.AppID, ch.ChannelName, err)
	}

	for epochID, days := range epochDays {
		for _, dayStart := range days {
			err := store.InTx(ctx, conn, func(s *store.Store) error {
				if err := engine.RecomputeChannelDay(ctx, s, ch.AppID, ch.ChannelName, epochID, dayStart); err != nil {
					return err
				}
				uids, err := s.ListUIDsInRange(ctx, ch.AppID, ch.ChannelName, epochID, dayStart, timefmt.NextDay(dayStart))
				if err != nil {
					return err
				}
				for _, uid := range uids {
					if err := engine.RecomputeUserDay(ctx, s, ch.AppID, ch.ChannelName, epochID, uid, dayStart); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("recompute %s day %s: %w", epochID, timefmt.Day(dayStart), err)
			}
		}
	}

	slog.Debug("channel recomputed", "app", ch.AppID, "channel", ch.ChannelName, "epochs", len(epochDays))
	return nil
}
