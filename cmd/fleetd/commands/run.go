package commands

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blikh/xui-fleet/internal/config"
	"github.com/blikh/xui-fleet/internal/notify"
	"github.com/blikh/xui-fleet/internal/pool"
	"github.com/blikh/xui-fleet/internal/store"
	"github.com/blikh/xui-fleet/internal/sub"
	"github.com/blikh/xui-fleet/internal/vpn"
)

func Run(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/fleet.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))
	logger.Info("starting xui-fleet", "config", *configPath)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if obs := cfg.ObservabilityHTTP; obs.Addr != "" {
		mux := http.NewServeMux()
		if obs.Pprof {
			// Re-register pprof handlers on our mux (net/http/pprof init registers on DefaultServeMux).
			mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		}
		if obs.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
			if err := http.ListenAndServe(obs.Addr, mux); err != nil {
				logger.Error("observability server failed", "err", err)
			}
		}()
	}

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.New(cfg.Telegram.Token, cfg.Telegram.ChatID)
	}

	pl := pool.New(st, pool.NewAuthenticator(cfg.Panel, logger), logger)
	svc := vpn.New(cfg, st, pl, logger)
	pl.SetProvisioner(svc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go consumeEvents(ctx, pl, notifier, logger)
	go syncLoop(ctx, pl, time.Duration(cfg.Sync.Interval)*time.Second, logger)

	srv := sub.NewServer(cfg.Subscription, st, pl, svc, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("subscription server error", "err", err)
		os.Exit(1)
	}
}

// syncLoop runs one reconciliation pass immediately, then on every tick
// until the context is cancelled.
func syncLoop(ctx context.Context, pl *pool.Pool, interval time.Duration, logger *slog.Logger) {
	if err := pl.Sync(ctx); err != nil {
		logger.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pl.Sync(ctx); err != nil {
				logger.Error("sync failed", "err", err)
			}
		}
	}
}

// consumeEvents forwards server state transitions to the admin chat.
func consumeEvents(ctx context.Context, pl *pool.Pool, notifier *notify.Notifier, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-pl.Events():
			var text string
			if ev.Online {
				text = fmt.Sprintf("✅ server %q (id %d) is online", ev.Name, ev.ServerID)
			} else {
				text = fmt.Sprintf("❌ server %q (id %d) went offline: %s", ev.Name, ev.ServerID, ev.Error)
			}
			if err := notifier.Send(ctx, text); err != nil {
				logger.Warn("failed to deliver notification", "err", err)
			}
		}
	}
}
