package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentd/internal/api/http"
	"torrentd/internal/app"
	"torrentd/internal/engine/anacrolix"
	"torrentd/internal/mediainfo"
	"torrentd/internal/metrics"
	"torrentd/internal/session"
	"torrentd/internal/store"
	"torrentd/internal/telemetry"
	"torrentd/internal/workflow"
	"torrentd/internal/workflow/actions"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "torrentd")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "torrentd"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("dbPath", cfg.DBPath),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Bool("mediainfo", cfg.MediaInfoEnabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("store open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := st.Migrate(); err != nil {
		logger.Error("store migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessCfg := session.Config{
		DataDir:                cfg.TorrentDataDir,
		SessionParamsPath:      cfg.SessionParamsPath,
		DHTStatsInterval:       cfg.DHTStatsInterval,
		SessionStatsInterval:   cfg.SessionStatsInterval,
		TorrentUpdatesInterval: cfg.TorrentUpdatesInterval,
	}
	if err := session.EnsureDirs(sessCfg); err != nil {
		logger.Error("directory setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	prefetcher := mediainfo.New(
		mediaInfoConfig(cfg),
		mediainfo.NewFFProbe(cfg.FFProbePath),
		logger,
	)

	sup, err := session.New(sessCfg, st, anacrolix.Factory{}, prefetcher, logger)
	if err != nil {
		logger.Error("session construction failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	workflows := workflow.NewEngine(actions.NewRegistry(logger), logger)
	if err := workflows.LoadDir(cfg.WorkflowsDir); err != nil {
		logger.Warn("workflow load failed", slog.String("error", err.Error()))
	}
	unbind := workflows.Bind(sup)
	logger.Info("workflows bound", slog.Int("count", workflows.Len()))

	if err := sup.Load(); err != nil {
		logger.Error("torrent load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	api := apihttp.NewServer(sup, cfg.CORSAllowedOrigins, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
	api.Close()
	unbind()

	sup.Shutdown()

	if err := st.Close(); err != nil {
		logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	logger.Info("bye")
}

func mediaInfoConfig(cfg app.Config) mediainfo.Config {
	exts := mediainfo.DefaultExtensions()
	if len(cfg.MediaInfoExtensions) > 0 {
		exts = make(map[string]struct{}, len(cfg.MediaInfoExtensions))
		for _, e := range cfg.MediaInfoExtensions {
			if e == "" {
				continue
			}
			if e[0] != '.' {
				e = "." + e
			}
			exts[strings.ToLower(e)] = struct{}{}
		}
	}
	return mediainfo.Config{
		Enabled:        cfg.MediaInfoEnabled,
		Extensions:     exts,
		FileMinSize:    cfg.MediaInfoFileMinSize,
		FileWantedSize: cfg.MediaInfoFileWantedSize,
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
