package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/reqlens/internal/api"
	"github.com/dgnsrekt/reqlens/internal/budget"
	"github.com/dgnsrekt/reqlens/internal/capture"
	"github.com/dgnsrekt/reqlens/internal/cdp"
	"github.com/dgnsrekt/reqlens/internal/config"
	"github.com/dgnsrekt/reqlens/internal/core"
	"github.com/dgnsrekt/reqlens/internal/discovery"
	"github.com/dgnsrekt/reqlens/internal/netutil"
	"github.com/dgnsrekt/reqlens/internal/prefs"
	"github.com/dgnsrekt/reqlens/internal/relay"
	"github.com/dgnsrekt/reqlens/internal/storage"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.SlogLevel(), cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("Configuration loaded",
		"cdp_url", cfg.GetCDPURL(),
		"cdp_enabled", cfg.CDPEnabled,
		"tab_url_filter", cfg.TabURLFilter,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"prefs_file", cfg.PrefsFile,
		"archive_enabled", cfg.ArchiveEnabled,
		"archive_dir", cfg.ArchiveDir,
		"max_requests", cfg.MaxRequests,
		"log_level", cfg.LogLevel,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("Failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	store, err := prefs.NewFileStore(cfg.PrefsFile)
	if err != nil {
		slog.Error("Failed to open preferences", "path", cfg.PrefsFile, "error", err)
		os.Exit(1)
	}
	hideStatic, err := store.Load()
	if err != nil {
		slog.Warn("Preferences load failed, using default", "error", err, "hide_static", hideStatic)
	}

	broker := relay.NewBroker()

	var archive core.Recorder
	if cfg.ArchiveEnabled {
		a := storage.NewArchive(cfg.ArchiveDir, cfg.ArchiveBufferSize, cfg.ArchiveMaxFileMB)
		defer func() {
			if err := a.Close(); err != nil {
				slog.Warn("Archive close failed", "error", err)
			}
		}()
		archive = a
	}

	captureLimits := capture.DefaultLimits()
	captureLimits.MaxRequests = cfg.MaxRequests
	discoveryLimits := discovery.DefaultLimits()
	fetcher := discovery.NewHTTPFetcher(&http.Client{}, nil, cfg.ScriptFetchTimeout, discoveryLimits.MaxSourceChars)

	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = budget.DefaultMaxBytes
	}
	svc := core.NewService(core.Options{
		Capture:         captureLimits,
		Discovery:       discoveryLimits,
		MaxMessageBytes: maxBytes,
		HideStatic:      hideStatic,
		SelfOrigin:      "http://" + bindAddr,
		Fetcher:         fetcher,
		Prefs:           store,
		Events:          broker,
		Archive:         archive,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect reports attached tabs through the service, so the loop must
	// already be running.
	defer startLoop(ctx, svc)()

	if cfg.CDPEnabled {
		cdpClient := cdp.NewClient(cfg, svc)
		fetcher.Cookies = cdpClient
		defer func() {
			if err := cdpClient.Close(); err != nil {
				slog.Warn("CDP close failed", "error", err)
			}
		}()
		if err := cdpClient.Connect(ctx); err != nil {
			slog.Error("Failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
			slog.Info("Make sure Chromium is running with remote debugging enabled")
			os.Exit(1)
		}
		slog.Info("Browser attached", "tabs", cdpClient.GetTabCount())
	}

	go func() {
		if err := store.Watch(ctx, func(v bool) {
			if err := svc.SetHideStaticFromStore(ctx, v); err != nil {
				slog.Debug("Preference change not applied", "error", err)
			}
		}); err != nil {
			slog.Warn("Preference watch unavailable", "error", err)
		}
	}()

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}

	go func() {
		slog.Info("Listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}

// startLoop runs the service loop and returns a func that waits for it.
func startLoop(ctx context.Context, svc *core.Service) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil {
			slog.Error("Core loop failed", "error", err)
		}
	}()
	return func() { <-done }
}

func setupLogger(level slog.Level, filename string) error {
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

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
