package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/pkg/wire"
	"github.com/casewatch/casewatch/server/internal/api"
	"github.com/casewatch/casewatch/server/internal/auth"
	"github.com/casewatch/casewatch/server/internal/config"
	"github.com/casewatch/casewatch/server/internal/receiver"
	"github.com/casewatch/casewatch/server/internal/refresh"
	"github.com/casewatch/casewatch/server/internal/store"
	"github.com/casewatch/casewatch/server/internal/webhook"
	"github.com/casewatch/casewatch/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("casewatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	lvl, _ := cfg.Server.Level() // validated by Load
	level.Set(lvl)

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"tree_policy", cfg.Server.Refresh.Tree.Policy,
		"results_policy", cfg.Server.Refresh.Results.Policy,
	)

	if err := run(cfg, *configPath, level); err != nil {
		slog.Error("casewatch-server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, level *slog.LevelVar) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	engineMetrics := coalesce.NewMetrics()
	refreshMetrics := refresh.NewMetrics()
	reg.MustRegister(
		engineMetrics,
		refreshMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	aggCfg, err := aggregatorConfig(cfg.Server)
	if err != nil {
		return err
	}
	aggCfg.EngineMetrics = engineMetrics
	aggCfg.Metrics = refreshMetrics

	agg, err := refresh.New(aggCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := agg.Stop(); err != nil {
			slog.Error("refresh aggregator stop", "err", err)
		}
	}()

	// Stream clients get every message; webhooks only determinate ones.
	hub := ws.New(agg, cfg.Server.Stream.PendingInterval)
	hooks := webhook.New(cfg.Server.Webhooks)
	agg.AddSink(hub)
	agg.AddSink(hooks)

	st := store.New(cfg.Server.Producers.TTL)
	checker := auth.New(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(checker.UnaryInterceptor()))
	wire.RegisterIngestServer(grpcSrv, receiver.New(agg, st))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", checker.Middleware(api.New(agg, st, hub)))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hooks.Run(gctx)
		return nil
	})
	g.Go(func() error {
		st.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, configPath, func(updated *config.Config) {
			if l, err := updated.Server.Level(); err == nil {
				level.Set(l)
			}
			hooks.SetWebhooks(updated.Server.Webhooks)
			slog.Info("config hot-reloaded; engine timings and ports apply on restart",
				"log_level", updated.Server.LogLevel,
				"webhooks", len(updated.Server.Webhooks),
			)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("casewatch-server shutting down")
		grpcSrv.GracefulStop()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// aggregatorConfig turns the YAML refresh section into engine configs.
func aggregatorConfig(s config.ServerConfig) (refresh.Config, error) {
	tree, err := s.Refresh.Tree.Coalesce("tree")
	if err != nil {
		return refresh.Config{}, fmt.Errorf("refresh.tree: %w", err)
	}
	results, err := s.Refresh.Results.Coalesce("results")
	if err != nil {
		return refresh.Config{}, fmt.Errorf("refresh.results: %w", err)
	}
	ignored, err := s.Refresh.Kinds()
	if err != nil {
		return refresh.Config{}, fmt.Errorf("refresh.ignored_kinds: %w", err)
	}
	return refresh.Config{
		Tree:         tree,
		Results:      results,
		IgnoredKinds: ignored,
		Logger:       slog.Default(),
	}, nil
}
