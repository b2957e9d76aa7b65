package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/api"
	"github.com/dgnsrekt/boxoffice_relay/internal/cache"
	"github.com/dgnsrekt/boxoffice_relay/internal/config"
	"github.com/dgnsrekt/boxoffice_relay/internal/journal"
	"github.com/dgnsrekt/boxoffice_relay/internal/metrics"
	"github.com/dgnsrekt/boxoffice_relay/internal/netutil"
	"github.com/dgnsrekt/boxoffice_relay/internal/pubsub"
	"github.com/dgnsrekt/boxoffice_relay/internal/relay"
	"github.com/dgnsrekt/boxoffice_relay/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load relay config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("boxoffice_relay config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"default_movie_id", cfg.DefaultMovieID,
		"cache_ttl", cfg.CacheTTL,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"heartbeat_timeout", cfg.HeartbeatTimeout,
		"max_total_conn", cfg.MaxTotalConn,
		"pubsub", cfg.PubSub,
		"journal_dir", cfg.JournalDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	bus, err := pubsub.Open(ctx, cfg.PubSub, cfg.PubSubURL, cfg.PubSubChannel)
	if err != nil {
		slog.Error("failed to open celebration bus", "backend", cfg.PubSub, "error", err)
		os.Exit(1)
	}
	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				slog.Debug("celebration bus close failed", "error", err)
			}
		}()
	}

	provider := upstream.NewHTTPProvider(nil, cfg.UpstreamURL, cfg.UpstreamTimeout)
	store := cache.New(provider, cfg.CacheTTL, cfg.CacheMaxItems)
	limiter := admission.New(cfg.Admission())
	counters := metrics.New()
	sampler, err := metrics.NewProcessSampler()
	if err != nil {
		slog.Warn("process stats unavailable", "error", err)
	}

	deps := relay.Deps{
		Cache:   store,
		Limiter: limiter,
		Metrics: counters,
		Bus:     bus,
	}
	if cfg.JournalDir != "" {
		j := journal.New(cfg.JournalDir, "celebrations", 1024, cfg.JournalMaxSizeMB)
		defer func() {
			if err := j.Close(); err != nil {
				slog.Debug("celebration journal close failed", "error", err)
			}
		}()
		deps.Journal = j
	}
	hub := relay.New(cfg.Relay(), deps)

	h := api.NewServer(api.Options{
		Source:         store,
		Limiter:        limiter,
		Metrics:        counters,
		Process:        sampler,
		WebSocket:      http.HandlerFunc(hub.ServeWS),
		DefaultMovieID: cfg.DefaultMovieID,
	})
	srv := &http.Server{Addr: bindAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := hub.Run(ctx); err != nil {
			slog.Error("relay maintenance stopped", "error", err)
		}
	}()

	go func() {
		slog.Info("boxoffice_relay listening", "addr", bindAddr, "ws", "ws://"+bindAddr+"/ws", "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("boxoffice_relay server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("boxoffice_relay shutting down", "signal", sig.String(), "connections", counters.Active())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("relay hub shutdown failed", "error", err)
	}
	stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("boxoffice_relay shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
