// Package daemon wires together ingress, the bounty scheduler, the job
// engine, the balance reconciler, and the dashboard/callback/monitor HTTP
// surfaces into one running process (spec §1, §9). Grounded on
// original_source/arbiter/arbiterd.py, main.py for the startup ordering
// (config -> store -> reset_pending_jobs -> event handlers -> ingress),
// and on the teacher's cmd/gateway/main.go for the graceful shutdown shape
// reused across all three HTTP servers. Both cmd/arbiterd (the long-running
// daemon) and cmd/arbiterctl's `run` subcommand share this package so the
// two binaries can never drift on startup wiring.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bountyarbiter/arbiterd/internal/aggregator"
	"github.com/bountyarbiter/arbiterd/internal/balance"
	"github.com/bountyarbiter/arbiterd/internal/bountybridge"
	"github.com/bountyarbiter/arbiterd/internal/config"
	"github.com/bountyarbiter/arbiterd/internal/dashboard"
	"github.com/bountyarbiter/arbiterd/internal/dashboard/auth"
	"github.com/bountyarbiter/arbiterd/internal/dashboard/replay"
	"github.com/bountyarbiter/arbiterd/internal/eventbus"
	"github.com/bountyarbiter/arbiterd/internal/ingress"
	"github.com/bountyarbiter/arbiterd/internal/jobengine"
	"github.com/bountyarbiter/arbiterd/internal/market"
	"github.com/bountyarbiter/arbiterd/internal/monitor"
	"github.com/bountyarbiter/arbiterd/internal/platform/database"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
	"github.com/bountyarbiter/arbiterd/internal/platform/migrations"
	"github.com/bountyarbiter/arbiterd/internal/ratelimit"
	"github.com/bountyarbiter/arbiterd/internal/scheduler"
	"github.com/bountyarbiter/arbiterd/internal/store"
)

// Options overrides config values from the command line (spec §6 `run
// [--manual]`).
type Options struct {
	ConfigPath  string
	EnvPath     string
	ForceManual bool // --manual: force manual_mode regardless of config.yaml
}

// Run loads configuration, wires every component, and blocks until
// SIGINT/SIGTERM, then shuts down gracefully. It returns only on shutdown
// or a fatal startup error.
func Run(opts Options) error {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.ForceManual {
		cfg.ManualMode = true
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := migrations.Apply(db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	st := store.NewPGStore(db)
	if n, err := st.ResetPendingJobs(ctx); err != nil {
		return fmt.Errorf("reset pending jobs: %w", err)
	} else if n > 0 {
		log.WithField("count", n).Info("daemon: reset stale PENDING jobs to NEW on startup")
	}

	bus := eventbus.New(log)

	mkt := market.New(market.Config{
		BaseURL: cfg.Market.Host,
		Chain:   market.Chain(cfg.Market.Chain),
	})
	artifactClient := mkt
	if cfg.ArtifactStore.BaseURL != "" {
		artifactClient = market.New(market.Config{BaseURL: cfg.ArtifactStore.BaseURL, Chain: market.Chain(cfg.Market.Chain)})
	}

	log.Info("daemon: waiting for market gateway")
	if err := mkt.WaitOnline(ctx, 5*time.Second); err != nil {
		return fmt.Errorf("wait for market gateway: %w", err)
	}
	if ok, reason, err := mkt.CheckStakingRequirements(ctx, cfg.Market.Account, cfg.Balances.MinSide); err != nil {
		log.WithField("err", err).Warn("daemon: staking requirement check failed, continuing anyway")
	} else if !ok {
		log.WithField("reason", reason).Warn("daemon: staking requirements not met")
	}

	backends, aggBackends := buildBackends(cfg.AnalysisBackends, log)

	engine := jobengine.New(st, bus, log, jobengine.Config{
		PendingExpiry:    cfg.Expires,
		ArtifactInterval: cfg.ArtifactInterval,
	}, backends, aggBackends)

	backendNames := make([]string, len(cfg.AnalysisBackends))
	for i, b := range cfg.AnalysisBackends {
		backendNames[i] = b.Name
	}

	sched := scheduler.New(st, bus, mkt, newMarketArtifactStore(artifactClient), log, scheduler.Config{
		ManualMode:                   cfg.ManualMode,
		ExpertDisagreementAutoManual: cfg.ExpertDisagreementAutoManual,
		TrustedExperts:               cfg.TrustedAuthorSet(),
		Backends:                     backendNames,
	})

	bridge := bountybridge.New(bus, mkt, log)

	in := ingress.New(gatewayWebsocketURL(cfg.Market.Host, cfg.Market.Chain), cfg.Market.Account, bus, log)

	engine.Register()
	sched.Register()
	bridge.Register()

	group := &eventbus.Group{}
	engine.StartPeriodic(ctx, group)
	sched.StartPeriodic(ctx, group)
	defer group.StopAll()

	if minSide, maxSide, refill, err := cfg.ParsedBalances(); err != nil {
		log.WithField("err", err).Warn("daemon: invalid balances config, reconciler disabled")
	} else if minSide != nil || maxSide != nil {
		reconciler := balance.New(mkt, balance.Config{
			Account: cfg.Market.Account, MinSide: minSide, MaxSide: maxSide, RefillAmount: refill,
		}, zerolog.New(os.Stderr).With().Timestamp().Logger())
		reconciler.StartPeriodic(ctx, group, 5*time.Minute)
	}

	go in.Run(ctx)

	authMgr := auth.New(cfg.Dashboard.PasswordHash, cfg.Dashboard.JWTSecret, cfg.Dashboard.SessionExpiry)
	dash := dashboard.New(st, authMgr, sched, log)

	replayCache := replay.NewCache(cfg.Callback.RedisAddr)
	callbackRouter := dashboard.NewCallbackRouter(bus, replayCache, cfg.Callback.HMACSecret, log)

	monitorSrv := monitor.New(engine, log)
	group.Add(ctx, 5*time.Minute, eventbus.RunFirst, monitorSrv.HealthSweep)

	servers := []*httpServerSpec{
		{name: "dashboard", bind: cfg.Dashboard.Bind, handler: dash.Handler()},
		{name: "callback", bind: cfg.Callback.Bind, handler: callbackRouter.Handler()},
		{name: "monitor", bind: cfg.Monitor.Bind, handler: monitorSrv.Handler()},
	}

	return serveAndWait(ctx, log, servers)
}

// buildBackends constructs the configured analysis backend set from
// cfg.AnalysisBackends (spec §9), one jobengine.Backend (HTTP adapter) and
// one aggregator.Backend (voting attributes) per entry. Every backend gets
// its own ratelimit.Client so a slow one can't starve the others' token
// buckets.
func buildBackends(cfgs []config.BackendConfig, log *logger.Logger) ([]jobengine.Backend, []aggregator.Backend) {
	backends := make([]jobengine.Backend, 0, len(cfgs))
	aggBackends := make([]aggregator.Backend, 0, len(cfgs))
	for _, b := range cfgs {
		rl := ratelimit.NewClient(&http.Client{Timeout: 30 * time.Second}, ratelimit.DefaultConfig())
		backends = append(backends, jobengine.NewHTTPBackend(b.Name, b.URL, b.Token, rl))
		aggBackends = append(aggBackends, aggregator.Backend{Name: b.Name, Trusted: b.Trusted, Weight: b.Weight})
		log.WithField("backend", b.Name).WithField("trusted", b.Trusted).Debug("daemon: configured analysis backend")
	}
	return backends, aggBackends
}

type httpServerSpec struct {
	name    string
	bind    string
	handler http.Handler
}

// serveAndWait starts every server in specs, blocks until SIGINT/SIGTERM,
// then shuts each down concurrently under a 30s deadline (grounded on the
// teacher's cmd/gateway/main.go ListenAndServe/signal.Notify/Shutdown
// shape, applied to three independent servers instead of one).
func serveAndWait(ctx context.Context, log *logger.Logger, specs []*httpServerSpec) error {
	var running []*http.Server
	for _, spec := range specs {
		if spec.bind == "" {
			log.WithField("server", spec.name).Warn("daemon: no bind address configured, skipping")
			continue
		}
		srv := &http.Server{
			Addr:         spec.bind,
			Handler:      spec.handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		running = append(running, srv)
		go func(name string, srv *http.Server) {
			log.WithField("server", name).WithField("bind", srv.Addr).Info("daemon: http server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithField("server", name).WithField("err", err).Error("daemon: http server error")
			}
		}(spec.name, srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("daemon: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, srv := range running {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithField("err", err).Warn("daemon: server shutdown error")
			}
		}(srv)
	}
	wg.Wait()
	return nil
}

// gatewayWebsocketURL derives the gateway's WS event stream URL from its
// REST base URL (spec §4.2 `/events?chain=…`).
func gatewayWebsocketURL(host, chain string) string {
	url := host
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/events?chain=" + chain
}
