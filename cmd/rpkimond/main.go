// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/rpkimon/rpkimon/agent"
	"github.com/rpkimon/rpkimon/logger"
	"github.com/rpkimon/rpkimon/pkg/buildinfo"
	"github.com/rpkimon/rpkimon/pkg/confopt"
	"github.com/rpkimon/rpkimon/web"
)

type option struct {
	ConfigFile string `short:"c" long:"config" description:"path to the configuration file" default:"config.yml"`
	Jitter     int    `short:"j" long:"jitter" description:"override the startup jitter in seconds" default:"-1"`
	Debug      bool   `short:"d" long:"debug" description:"debug mode"`
	Version    bool   `short:"v" long:"version" description:"display the version and exit"`
}

func parseCLI() *option {
	opt := &option{}
	parser := flags.NewParser(opt, flags.Default)
	parser.Name = "rpkimond"
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	return opt
}

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))

	opt := parseCLI()

	if opt.Version {
		fmt.Printf("rpkimond, version: %s\n", buildinfo.Version)
		return
	}

	if opt.Debug {
		logger.Level.Set(slog.LevelDebug)
	}

	log := logger.New().With("component", "main")

	cfg, err := agent.LoadConfig(opt.ConfigFile)
	if err != nil {
		log.Errorf("loading configuration: %v", err)
		os.Exit(1)
	}
	if opt.Jitter >= 0 {
		cfg.Jitter = confopt.Duration(time.Duration(opt.Jitter) * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ag := agent.New(cfg)
	srv := web.NewServer(ag)

	// HTTP is available before the first validator run completes.
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Errorf("web server: %v", err)
			cancel()
		}
	}()

	ag.Run(ctx)
}
