package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/auracap/internal/api"
	"github.com/dgnsrekt/auracap/internal/bridge"
	"github.com/dgnsrekt/auracap/internal/browser"
	"github.com/dgnsrekt/auracap/internal/capture"
	"github.com/dgnsrekt/auracap/internal/cdp"
	"github.com/dgnsrekt/auracap/internal/config"
	"github.com/dgnsrekt/auracap/internal/netutil"
	"github.com/dgnsrekt/auracap/internal/pagehook"
	"github.com/dgnsrekt/auracap/internal/relay"
	"github.com/dgnsrekt/auracap/internal/router"
	"github.com/dgnsrekt/auracap/internal/session"
	"github.com/dgnsrekt/auracap/internal/settings"
	"github.com/dgnsrekt/auracap/internal/storage"
	"github.com/dgnsrekt/auracap/internal/types"
)

const (
	archiveBufferSize = 256
	networkStaleAfter = 2 * time.Minute
)

func newServeCommand() *cobra.Command {
	var launch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach to Chromium, capture calls and serve the message API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("launch-browser") {
				cfg.LaunchBrowser = launch
			}
			if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
				if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
					slog.Debug("logger setup stderr write failed", "error", writeErr)
				}
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&launch, "launch-browser", false, "start a Chromium with remote debugging if none is running")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("auracap config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"db_path", cfg.DBPath,
		"archive_dir", cfg.ArchiveDir,
		"rules_file", cfg.RulesFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to bind HTTP listener", "preferred", cfg.BindAddr, "error", err)
		return err
	}
	defer ln.Close()
	bindAddr := ln.Addr().String()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.ConfigFrom(cfg))
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	store, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Debug("store close failed", "error", err)
		}
	}()

	settingsSvc, err := settings.Load(ctx, store, types.Settings{CaptureEnabled: true, MaxRetainedCalls: cfg.DefaultMaxCalls})
	if err != nil {
		return err
	}
	store.SetRetention(settingsSvc.MaxRetainedCalls)

	broker := relay.NewBroker()
	store.AddObserver(func(call types.CapturedCall) { broker.PublishJSON(relay.FeedCalls, call) })
	settingsSvc.Subscribe(func(s types.Settings) { broker.PublishJSON(relay.FeedSettings, s) })

	if cfg.ArchiveDir != "" {
		archive := storage.NewArchiveRegistry(cfg.ArchiveDir, archiveBufferSize, cfg.ArchiveMaxMB)
		store.AddObserver(archive.Observe)
		defer func() {
			if err := archive.Close(); err != nil {
				slog.Debug("archive close failed", "error", err)
			}
		}()
	}

	hookOpts := hookOptions(cfg, rules)
	if err := pagehook.Validate(hookOpts, pagehook.DefaultBinding); err != nil {
		return err
	}
	hookJS, err := pagehook.Script(hookOpts)
	if err != nil {
		return err
	}
	bridgeJS, err := pagehook.BridgeScript(pagehook.DefaultBinding)
	if err != nil {
		return err
	}

	netCapture := capture.NewNetworkCapture(store, settingsSvc.CaptureEnabled, cfg.MaxPayloadBytes, networkStaleAfter)
	defer netCapture.Close()
	if len(rules.Endpoints) > 0 {
		netCapture.SetRecognizer(capture.NewRecognizer(endpointRules(rules.Endpoints)))
	}

	tabs := cdp.NewTabRegistry()
	client := cdp.NewClient(cfg, tabs, cdp.Scripts{Hook: hookJS, Bridge: bridgeJS, World: pagehook.DefaultWorld}, settingsSvc.CaptureEnabled)

	sessions, err := session.NewManager(tabs, client, session.SFAPIFactory(cfg.APIVersion), cfg.SessionIdle, cfg.DescribeCacheSize)
	if err != nil {
		return err
	}
	go sessions.Run(ctx, cfg.SessionSweep)

	rtr := router.New(store, sessions, settingsSvc, tabs, cfg.MaxPayloadBytes)
	client.SetHandlers(netCapture, bridge.NewRelay(pagehook.DefaultBinding, rtr), sessions)
	settingsSvc.Subscribe(func(s types.Settings) {
		if s.CaptureEnabled {
			go client.EnableHooks()
		}
	})

	if err := client.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	health := func(ctx context.Context) api.Health {
		h := api.Health{Tabs: tabs.Count(), Attached: client.GetTabCount(), Sessions: len(sessions.Sessions())}
		if n, err := store.Count(ctx); err == nil {
			h.StoredCalls = n
		} else {
			h.Status = "degraded"
		}
		return h
	}

	srv := &http.Server{Handler: api.NewServer(rtr, broker, health), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("auracap listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("auracap server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("auracap shutdown failed", "error", err)
	}
	return nil
}

func endpointRules(in []config.EndpointRule) []capture.EndpointRule {
	out := make([]capture.EndpointRule, 0, len(in))
	for _, r := range in {
		out = append(out, capture.EndpointRule{Kind: r.Kind, QuerySuffix: r.QuerySuffix, QueryContains: r.QueryContains})
	}
	return out
}
