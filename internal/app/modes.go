package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omniswap/swapd/internal/config"
	"github.com/omniswap/swapd/internal/crypto"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/executor"
	"github.com/omniswap/swapd/internal/feed"
	"github.com/omniswap/swapd/internal/monitor"
	"github.com/omniswap/swapd/internal/platform/bridge"
	"github.com/omniswap/swapd/internal/platform/cex"
	"github.com/omniswap/swapd/internal/platform/evm"
	"github.com/omniswap/swapd/internal/platform/solana"
	"github.com/omniswap/swapd/internal/platform/sui"
	"github.com/omniswap/swapd/internal/provider"
	"github.com/omniswap/swapd/internal/queue"
	"github.com/omniswap/swapd/internal/scheduler"
	"github.com/omniswap/swapd/internal/server"
	"github.com/omniswap/swapd/internal/server/handler"
	"github.com/omniswap/swapd/internal/server/ws"
	"github.com/omniswap/swapd/internal/service"
	"github.com/omniswap/swapd/internal/trigger"
)

const (
	// quotePruneInterval is how often lapsed quotes get deleted.
	quotePruneInterval = time.Minute

	// archiveLockTTL bounds one replica's claim on an archive run.
	archiveLockTTL = 10 * time.Minute
)

// APIMode serves the REST and WebSocket API: quotes, swap lifecycle, trigger
// CRUD, and prices. Signed steps are broadcast from here; their confirmation
// runs in the monitor mode.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: api mode with server.enabled = false")
	}
	prov, err := a.newProvider()
	if err != nil {
		return err
	}
	cipher, err := a.newCipher()
	if err != nil {
		return err
	}
	chains, _, closeChains, err := a.dialChains(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeChains)

	g, ctx := errgroup.WithContext(ctx)

	q := a.newQueue(deps)
	exec := a.buildExecutor(deps, chains, cipher, q)
	svcs := a.buildServices(deps, exec, prov, cipher)

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// SchedulerMode runs the trigger sweep tickers plus the storage maintenance
// loops: expired-quote pruning and, when configured, cold-storage archival.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	q := a.newQueue(deps)
	sched := scheduler.New(q, deps.LockManager, a.schedulerConfig(), a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return a.pruneQuotes(ctx, deps) })
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// WorkerMode consumes the bulk-check queues: it evaluates active trigger
// conditions against fresh prices, fires alerts, and opens swaps for
// satisfied limit orders and due DCA cycles. The provider price feed runs
// here too, keeping the cache the sweeps read warm.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	prov, err := a.newProvider()
	if err != nil {
		return err
	}
	cipher, err := a.newCipher()
	if err != nil {
		return err
	}

	q := a.newQueue(deps)
	// Triggered swaps only open here; steps are built and signed through
	// the API, so no chain clients are needed.
	svcs := a.buildServices(deps, nil, prov, cipher)

	g, ctx := errgroup.WithContext(ctx)
	a.startTriggerWorkers(ctx, g, deps, svcs, q)
	a.startPriceFeed(ctx, g, svcs)

	return g.Wait()
}

// MonitorMode confirms submitted transactions: it consumes watch jobs, polls
// each step's venue for finality, and drives the swap state machine through
// the confirmation callbacks. Failure notices go out from here.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	_, watchers, closeChains, err := a.dialChains(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeChains)

	q := a.newQueue(deps)
	// Callbacks advance or fail swaps; they never build or submit
	// transactions, so the service runs without executor or quoter.
	svcs := a.buildServices(deps, nil, nil, nil)

	mon := monitor.New(watchers, deps.SwapStore, svcs.swaps, q, a.monitorConfig(), a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error { return deps.Notifier.Run(ctx) })

	return g.Wait()
}

// FullMode runs every role in one process: API, scheduler, trigger workers,
// transaction monitor, price feed, and the maintenance loops.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	prov, err := a.newProvider()
	if err != nil {
		return err
	}
	cipher, err := a.newCipher()
	if err != nil {
		return err
	}
	chains, watchers, closeChains, err := a.dialChains(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeChains)

	q := a.newQueue(deps)
	exec := a.buildExecutor(deps, chains, cipher, q)
	svcs := a.buildServices(deps, exec, prov, cipher)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	sched := scheduler.New(q, deps.LockManager, a.schedulerConfig(), a.logger)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return a.pruneQuotes(ctx, deps) })
	a.startArchiver(ctx, g, deps)

	a.startTriggerWorkers(ctx, g, deps, svcs, q)
	a.startPriceFeed(ctx, g, svcs)

	mon := monitor.New(watchers, deps.SwapStore, svcs.swaps, q, a.monitorConfig(), a.logger)
	g.Go(func() error { return mon.Run(ctx) })

	g.Go(func() error { return deps.Notifier.Run(ctx) })

	return g.Wait()
}

// services bundles the service layer for one mode run.
type services struct {
	swaps    *service.SwapService
	quotes   *service.QuoteService
	triggers *service.TriggerService
	prices   *service.PriceService
}

// buildServices constructs the service layer. exec, prov, and cipher may be
// nil in modes that neither build transactions, request quotes, nor accept
// exchange credentials.
func (a *App) buildServices(deps *Dependencies, exec service.StepExecutor, prov *provider.Client, cipher *crypto.Cipher) *services {
	var (
		quotes *service.QuoteService
		quoter service.QuoteRequester
		spot   service.SpotPricer
	)
	if prov != nil {
		quotes = service.NewQuoteService(prov, deps.QuoteStore, a.logger).WithTTL(a.cfg.Quotes.TTL.Duration)
		quoter = quotes
		spot = prov
	}

	swaps := service.NewSwapService(
		deps.SwapStore,
		deps.QuoteStore,
		deps.SwapEventStore,
		deps.CredentialStore,
		cipher,
		exec,
		quoter,
		deps.EventBus,
		a.logger,
	)
	triggers := service.NewTriggerService(deps.TriggerStore, a.logger)
	prices := service.NewPriceService(deps.PriceCache, spot, deps.EventBus, a.logger)

	return &services{swaps: swaps, quotes: quotes, triggers: triggers, prices: prices}
}

// newProvider builds the aggregator client. Quote-serving modes cannot run
// without one.
func (a *App) newProvider() (*provider.Client, error) {
	if a.cfg.Provider.HTTPURL == "" {
		return nil, fmt.Errorf("app: provider.http_url is required in %s mode", a.cfg.Mode)
	}
	return provider.NewClient(a.cfg.Provider.HTTPURL, a.cfg.Provider.FeeBps, a.cfg.Provider.Timeout.Duration), nil
}

// newCipher returns the credential cipher, or nil when no password is
// configured (CEX credential intake disabled).
func (a *App) newCipher() (*crypto.Cipher, error) {
	if a.cfg.CEX.CredentialPassword == "" {
		return nil, nil
	}
	cipher, err := crypto.NewCipher(a.cfg.CEX.CredentialPassword)
	if err != nil {
		return nil, fmt.Errorf("app: credential cipher: %w", err)
	}
	return cipher, nil
}

// newQueue builds the Redis-backed job queue shared by producers and
// consumers.
func (a *App) newQueue(deps *Dependencies) domain.Queue {
	return queue.NewRedisQueue(deps.Redis, queue.Config{
		Group:     a.cfg.Queue.Group,
		Block:     a.cfg.Queue.Block.Duration,
		DedupeTTL: a.cfg.Queue.DedupeTTL.Duration,
		MaxLen:    a.cfg.Queue.MaxLen,
	}, deps.RateLimiter, a.logger)
}

// dialChains connects every configured chain and returns the executor and
// monitor views plus a closer for the underlying connections.
func (a *App) dialChains(ctx context.Context) (executor.ChainSet, monitor.WatcherSet, func(), error) {
	chains := executor.ChainSet{
		EVM:    make(map[string]executor.EVMSubmitter),
		Solana: make(map[string]executor.SolanaSubmitter),
		Sui:    make(map[string]executor.SuiSubmitter),
	}
	watchers := monitor.WatcherSet{
		EVM:    make(map[string]monitor.EVMWatcher),
		Solana: make(map[string]monitor.SolanaWatcher),
		Sui:    make(map[string]monitor.SuiWatcher),
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for name, cc := range a.cfg.Chains {
		switch cc.Type {
		case "evm":
			client, err := evm.Dial(ctx, name, cc.RPCURL, cc.ChainID, a.logger)
			if err != nil {
				closeAll()
				return executor.ChainSet{}, monitor.WatcherSet{}, nil, fmt.Errorf("app: dial %s: %w", name, err)
			}
			closers = append(closers, client.Close)
			chains.EVM[name] = client
			watchers.EVM[name] = client
		case "solana":
			client := solana.NewClient(cc.RPCURL)
			chains.Solana[name] = client
			watchers.Solana[name] = client
		case "sui":
			client := sui.NewClient(cc.RPCURL)
			chains.Sui[name] = client
			watchers.Sui[name] = client
		default:
			closeAll()
			return executor.ChainSet{}, monitor.WatcherSet{}, nil, fmt.Errorf("app: chain %s: unknown type %q", name, cc.Type)
		}
	}

	if a.cfg.Bridge.StatusURL != "" {
		watchers.Bridge = bridge.NewClient(a.cfg.Bridge.StatusURL)
	}

	return chains, watchers, closeAll, nil
}

// buildExecutor assembles the step executor. Without an exchange endpoint
// CEX steps fail at build time with a clear error.
func (a *App) buildExecutor(deps *Dependencies, chains executor.ChainSet, cipher *crypto.Cipher, q domain.Queue) *executor.Executor {
	var factory executor.ExchangeFactory
	if a.cfg.CEX.BaseURL != "" {
		name, baseURL, timeout := a.cfg.CEX.Name, a.cfg.CEX.BaseURL, a.cfg.CEX.Timeout.Duration
		factory = func(apiKey, apiSecret string) executor.Exchange {
			return cex.NewClient(name, baseURL, &crypto.HMACAuth{Key: apiKey, Secret: apiSecret}, timeout)
		}
	}

	return executor.New(chains, deps.CredentialStore, cipher, factory, q, executor.Config{
		SubmitAttempts: a.cfg.Executor.SubmitAttempts,
		SubmitBackoff:  a.cfg.Executor.SubmitBackoff.Duration,
		ExchangeName:   a.cfg.CEX.Name,
		Routers:        a.cfg.Executor.Routers,
	}, a.logger)
}

// startHTTPServer wires the handlers and WebSocket hub into the server and
// runs both under the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Metrics:     a.cfg.Server.Metrics,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Swaps:    handler.NewSwapHandler(svcs.swaps, a.logger),
		Quotes:   handler.NewQuoteHandler(svcs.quotes, a.logger),
		Triggers: handler.NewTriggerHandler(svcs.triggers, a.logger),
		Prices:   handler.NewPriceHandler(svcs.prices, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startTriggerWorkers launches one bulk-check consumer per trigger kind.
func (a *App) startTriggerWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, q domain.Queue) {
	evaluators := []trigger.Evaluator{
		trigger.NewAlertEvaluator(deps.Notifier, deps.TriggerStore),
		trigger.NewLimitOrderEvaluator(svcs.swaps, deps.TriggerStore),
		trigger.NewDCAEvaluator(svcs.swaps, deps.TriggerStore),
	}
	for _, ev := range evaluators {
		w := trigger.NewWorker(ev, deps.TriggerStore, svcs.prices, q, a.workerConfigFor(ev.Kind()), a.logger)
		g.Go(func() error { return w.Run(ctx) })
	}
}

// startPriceFeed runs the provider price stream when one is configured.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, svcs *services) {
	if a.cfg.Provider.WSURL == "" || len(a.cfg.Provider.Tokens) == 0 {
		return
	}
	f := feed.NewPriceFeed(a.cfg.Provider.WSURL, a.cfg.Provider.Tokens, svcs.prices.HandleTick, a.logger)
	g.Go(func() error { return f.Run(ctx) })
}

// startArchiver runs the periodic cold-storage export when archival is
// configured. A distributed lock keeps concurrent replicas from exporting
// the same batch.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			a.archiveOnce(ctx, deps)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	unlock, err := deps.LockManager.Acquire(ctx, "archive:swaps", archiveLockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			a.logger.WarnContext(ctx, "archive lock", slog.String("error", err.Error()))
		}
		return
	}
	defer unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.AfterDays)
	n, err := deps.Archiver.ArchiveSwaps(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "swaps archived",
			slog.Int64("exported", n),
			slog.Time("cutoff", cutoff))
	}
}

// pruneQuotes deletes expired quotes on a fixed cadence. Deletion is
// idempotent, so overlapping replicas just waste a statement.
func (a *App) pruneQuotes(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(quotePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := deps.QuoteStore.DeleteExpiredBefore(ctx, time.Now().UTC())
			if err != nil {
				a.logger.WarnContext(ctx, "quote prune failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "expired quotes pruned", slog.Int64("deleted", n))
			}
		}
	}
}

// schedulerConfig maps the per-kind cadences onto the scheduler package.
func (a *App) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		Alerts:      a.cfg.Scheduler.Alerts.Interval.Duration,
		LimitOrders: a.cfg.Scheduler.LimitOrders.Interval.Duration,
		DCA:         a.cfg.Scheduler.DCA.Interval.Duration,
		LockTTL:     a.cfg.Scheduler.LockTTL.Duration,
		Jitter:      a.cfg.Scheduler.Jitter.Duration,
	}
}

// monitorConfig maps the chain confirmation parameters onto the monitor
// package.
func (a *App) monitorConfig() monitor.Config {
	chains := make(map[string]monitor.ChainParams, len(a.cfg.Chains))
	for name, cc := range a.cfg.Chains {
		chains[name] = monitor.ChainParams{
			Confirmations: uint64(cc.Confirmations),
			PollInterval:  cc.PollInterval.Duration,
			MaxWait:       cc.MaxWait.Duration,
		}
	}
	return monitor.Config{
		Concurrency:   a.cfg.Monitor.Concurrency,
		ReorgRechecks: a.cfg.Monitor.ReorgRechecks,
		RatePerSec:    a.cfg.Monitor.RatePerSec,
		Chains:        chains,
		Bridge: monitor.ChainParams{
			PollInterval: a.cfg.Bridge.PollInterval.Duration,
			MaxWait:      a.cfg.Bridge.MaxWait.Duration,
		},
	}
}

// workerConfigFor returns the consumer bounds for one trigger kind.
func (a *App) workerConfigFor(kind domain.TriggerKind) trigger.WorkerConfig {
	var sc config.TriggerScheduleConfig
	switch kind {
	case domain.TriggerKindPriceAlert:
		sc = a.cfg.Scheduler.Alerts
	case domain.TriggerKindLimitOrder:
		sc = a.cfg.Scheduler.LimitOrders
	default:
		sc = a.cfg.Scheduler.DCA
	}
	return trigger.WorkerConfig{Concurrency: sc.Concurrency, RatePerSec: sc.RatePerSec}
}
