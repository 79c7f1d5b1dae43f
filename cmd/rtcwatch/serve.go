package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rtcwatch/rtcwatch/internal/logging"
	"github.com/rtcwatch/rtcwatch/internal/server/config"
	"github.com/rtcwatch/rtcwatch/server"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	flags := config.DefineFlags(fs)
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if cfg.Server.LogLevel != "" {
		level, err := logging.ParseLevel(cfg.Server.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Server.LogLevel, err)
		}
		logging.SetLevel(level)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
