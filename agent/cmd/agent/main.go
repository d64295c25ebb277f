package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/casewatch/casewatch/agent/internal/config"
	"github.com/casewatch/casewatch/agent/internal/security"
	"github.com/casewatch/casewatch/agent/internal/shipper"
	"github.com/casewatch/casewatch/agent/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	scan := flag.Bool("scan", true, "report files already present under the watches at start-up")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("casewatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setLevel(level, cfg.Agent.LogLevel)
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"source", cfg.Agent.Source,
		"watches", len(cfg.Agent.Watches),
		"ship_delay", cfg.Agent.ShipDelay,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Agent.ServerAuth.Mode == "mtls" {
		checkCertificates(ctx, cfg.Agent)
	}

	if len(cfg.Agent.Watches) == 0 {
		slog.Warn("no watches configured, agent will idle")
	}

	ship := shipper.New(cfg.Agent)
	w, err := watcher.New(cfg.Agent.Watches, cfg.Agent.ShipDelay, ship.Ship, watcher.Options{Logger: logger})
	if err != nil {
		slog.Error("failed to start watcher", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		ship.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			slog.Error("watcher stopped", "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		// Hot reload applies the log level; watches and the server
		// endpoint are read once at start-up.
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			setLevel(level, updated.Agent.LogLevel)
			slog.Info("config hot-reloaded", "log_level", updated.Agent.LogLevel)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if *scan {
		n := w.Scan()
		w.Flush()
		// The server flushes its pending refreshes once the scan is delivered.
		ship.Complete()
		slog.Info("initial scan queued", "files", n)
	}

	<-ctx.Done()
	slog.Info("casewatch-agent shutting down", "unsent", ship.Pending())
	wg.Wait()
}

func setLevel(v *slog.LevelVar, s string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		slog.Warn("unknown log_level, keeping current", "log_level", s)
		return
	}
	v.Set(l)
}

func checkCertificates(ctx context.Context, cfg config.AgentConfig) {
	now := time.Now()
	if cs, err := security.CheckFile(cfg.ServerAuth.CertFile, now); err != nil {
		slog.Warn("client certificate unreadable", "err", err)
	} else {
		logCert("client certificate", cs)
	}

	tlsCfg, err := shipper.TLSConfig(cfg.ServerAuth)
	if err != nil {
		slog.Warn("server certificate not checked", "err", err)
		return
	}
	logCert("server certificate", security.Check(ctx, cfg.ServerEndpoint, tlsCfg, now))
}

func logCert(what string, cs security.CertStatus) {
	attrs := []any{"source", cs.Source, "status", cs.Status, "days_left", cs.DaysLeft, "issuer", cs.Issuer}
	if cs.Status == "valid" {
		slog.Info(what, attrs...)
		return
	}
	slog.Warn(what, attrs...)
}
