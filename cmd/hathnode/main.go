// Command hathnode runs a cache node: it loads its JSON configuration,
// builds the on-disk cache index, logs in to the configured dispatcher,
// and serves file-fetch, speed-test, and server-command requests until
// terminated.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hathnode/node/internal/authgate"
	"github.com/hathnode/node/internal/cachemgr"
	"github.com/hathnode/node/internal/metrics"
	"github.com/hathnode/node/internal/node"
	"github.com/hathnode/node/internal/nodeconfig"
	"github.com/hathnode/node/internal/nodestate"
	"github.com/hathnode/node/internal/ratelimit"
	"github.com/hathnode/node/internal/rpcdispatcher"
	"github.com/hathnode/node/internal/settings"
	"github.com/hathnode/node/internal/streamfetch"
	"github.com/hathnode/node/internal/upstream"
)

func main() {
	configPath := flag.String("config", "hath.json", "path to the node's JSON configuration file")
	rpcBase := flag.String("rpc-base", "http://rpc.hentaiathome.net", "base URL of the dispatcher RPC endpoint")
	metricsBind := flag.String("metrics-bind", "", "address for the admin metrics listener (disabled if empty)")
	statePath := flag.String("state-file", "", "path to dump the last-applied settings snapshot (disabled if empty)")
	flag.Parse()

	if err := run(*configPath, *rpcBase, *metricsBind, *statePath); err != nil {
		fmt.Fprintln(os.Stderr, "hathnode:", err)
		os.Exit(1)
	}
}

func run(configPath, rpcBase, metricsBind, statePath string) error {
	cfg, err := nodeconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	rate := math.Inf(1) // unbounded until the local config or dispatcher sets a real limit
	if cfg.SpeedLimit > 0 {
		rate = float64(cfg.SpeedLimit) * 1024
	}
	limiter := ratelimit.New(rate)

	mgr := cachemgr.New(cfg.CacheDir, cfg.MaxCacheSize, log)
	if err := mgr.Build(cfg.CacheDir); err != nil {
		return fmt.Errorf("build cache index: %w", err)
	}
	log.Info("cache index built", "artifacts", mgr.Len(), "bytes", mgr.CurrentSize())

	gate := authgate.New(cfg.ID, cfg.Key)
	set := settings.New(log)
	client := upstream.New(limiter, log)
	disp := rpcdispatcher.New(rpcBase, gate, set, nil)
	coll := metrics.NewCollector(metrics.Config{Namespace: "hathnode"})
	mgr.Metrics = coll
	fetcher := streamfetch.New(mgr, client, disp, log)
	fetcher.Metrics = coll
	srv := node.New(gate, set, fetcher, disp, coll, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loginCtx, loginCancel := context.WithTimeout(ctx, 30*time.Second)
	defer loginCancel()
	if err := disp.Login(loginCtx); err != nil {
		return fmt.Errorf("dispatcher login: %w", err)
	}
	applySettingsToCollaborators(cfg, set, gate, mgr, limiter)

	if metricsBind != "" {
		go serveMetrics(metricsBind, coll, log)
	}
	if statePath != "" {
		go dumpStateLoop(ctx, statePath, set, log)
	}
	go heartbeatLoop(ctx, disp, log)
	go settingsRefreshLoop(ctx, disp, cfg, gate, set, mgr, limiter, log)
	go limiterVolumeLoop(ctx, limiter, coll)

	// The dispatcher-issued PKCS12 bundle (hathcert.p12) still needs to be
	// downloaded and parsed into a *tls.Config; only the hot-swap contract
	// is wired here. Until that cert source is populated, ListenAndServeTLS
	// below will fail at accept time rather than serve with no certificate.
	certSource := node.NewCertSource(nil)
	httpSrv := &http.Server{
		Addr:        cfg.Bind,
		Handler:     srv.Handler(),
		ReadTimeout: node.HandshakeTimeout,
		TLSConfig:   &tls.Config{GetConfigForClient: certSource.GetConfigForClient},
	}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServeTLS("", "") }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func serveMetrics(bind string, coll *metrics.Collector, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", coll.Handler())
	log.Info("metrics listener starting", "bind", bind)
	if err := http.ListenAndServe(bind, mux); err != nil {
		log.Error("metrics listener stopped", "error", err)
	}
}

func dumpStateLoop(ctx context.Context, path string, set *settings.Settings, log *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := nodestate.Dump(path, set, time.Now()); err != nil {
				log.Warn("settings snapshot dump failed", "error", err)
			}
		}
	}
}

// settingsRefreshLoop pulls the dispatcher's settings periodically and
// mirrors the static-range set into the auth gate, which keeps its own
// copy for lock-cheap lookups on the request path.
func settingsRefreshLoop(ctx context.Context, disp *rpcdispatcher.Dispatcher, cfg *nodeconfig.Config, gate *authgate.Gate, set *settings.Settings, mgr *cachemgr.Manager, limiter *ratelimit.Limiter, log *slog.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := disp.UpdateSettings(refreshCtx)
			cancel()
			if err != nil {
				log.Warn("settings refresh failed", "error", err)
				continue
			}
			applySettingsToCollaborators(cfg, set, gate, mgr, limiter)
		}
	}
}

// applySettingsToCollaborators pushes the settings mirror's current state
// into the gate (static ranges) and, where the node's own config did not
// pin an override, the cache quota and throughput limit.
func applySettingsToCollaborators(cfg *nodeconfig.Config, set *settings.Settings, gate *authgate.Gate, mgr *cachemgr.Manager, limiter *ratelimit.Limiter) {
	gate.SetStaticRanges(set.StaticRanges())

	if max, ok := set.MaxCacheSize(); ok && cfg.MaxCacheSize == 0 {
		mgr.SetMaxSize(max)
	}
	if cfg.SpeedLimit == 0 {
		if set.DisableBWM() {
			limiter.SetRate(math.Inf(1))
		} else if rate, ok := set.ThrottleRate(); ok {
			limiter.SetRate(rate)
		}
	}
}

func limiterVolumeLoop(ctx context.Context, limiter *ratelimit.Limiter, coll *metrics.Collector) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coll.SetLimiterVolume(limiter.Volume())
		}
	}
}

func heartbeatLoop(ctx context.Context, disp *rpcdispatcher.Dispatcher, log *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := disp.StillAlive(hbCtx)
			cancel()
			if err != nil {
				log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
