package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/aggregator"
	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/cost"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/engine"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/platform/evm"
	"github.com/alanyoungcy/flasharb/internal/retry"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
	"github.com/alanyoungcy/flasharb/internal/telemetry"
)

// pipeline is the detection half shared by every mode.
type pipeline struct {
	stream    *telemetry.Stream
	agg       *aggregator.Aggregator
	estimator *cost.Estimator
	detector  *arbitrage.Detector
	sources   []feed.Source
	chain     *evm.Client
	hub       *ws.Hub
}

// LiveMode detects opportunities and settles them on chain.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.String("settlement_contract", a.cfg.Chain.SettlementContract),
	)

	p, err := a.newPipeline(ctx, deps)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	if p.chain == nil {
		return errors.New("live mode: chain.rpc_url is required")
	}

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}, a.cfg.Chain.ChainID)
	if err != nil {
		return fmt.Errorf("live mode: load signer: %w", err)
	}
	a.logger.InfoContext(ctx, "signer loaded", slog.String("address", signer.Address().Hex()))

	settlement := evm.NewSettlement(settlementConfig(a.cfg), p.chain.Backend(), signer, a.logger)
	return a.run(ctx, p, deps, a.newCoordinator(p, deps, settlement))
}

// PaperMode runs the full pipeline against a simulated settlement that
// re-prices each trade from live state after a fixed latency.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Duration("latency", a.cfg.Execution.PaperLatency.Duration),
	)

	p, err := a.newPipeline(ctx, deps)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}
	settlement := executor.NewPaperSettlement(p.agg, p.detector, a.cfg.Execution.PaperLatency.Duration, a.logger)
	return a.run(ctx, p, deps, a.newCoordinator(p, deps, settlement))
}

// MonitorMode detects and reports opportunities without executing them.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	p, err := a.newPipeline(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	return a.run(ctx, p, deps, nil)
}

func (a *App) newPipeline(ctx context.Context, deps *Dependencies) (*pipeline, error) {
	cfg := a.cfg
	p := &pipeline{}

	routes := deps.Routes(cfg.Telemetry, a.logger)
	if cfg.Server.Enabled {
		p.hub = ws.NewHub(a.logger, ws.Config{
			Mode:           cfg.Mode,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: cfg.Server.CORSOrigins,
		})
		routes = append(routes, telemetry.Route{
			Sink:   p.hub,
			Events: telemetry.ParseEventTypes(cfg.Server.Events),
		})
	}
	p.stream = telemetry.NewStream(telemetry.Config{
		Buffer:        cfg.Telemetry.Buffer,
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval.Duration,
	}, routes, a.logger)

	if cfg.Chain.RPCURL != "" {
		client, err := evm.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		p.chain = client
	}

	p.agg = aggregator.New(aggregator.StalenessPolicy{
		Stream: cfg.Staleness.Stream.Duration,
		Pool:   cfg.Staleness.Pool.Duration,
	})

	// A typed nil client must not reach the estimator's interface field.
	var oracle cost.FeeOracle
	if p.chain != nil {
		oracle = p.chain
	}
	p.estimator = cost.NewEstimator(cost.Config{
		DefaultFeeBps:       cfg.Cost.DefaultFeeBps,
		VenueFeeBps:         cfg.Cost.VenueFeeBps,
		SlippageCoefficient: cfg.Cost.SlippageCoefficient,
		GasLimit:            cfg.Cost.GasLimit,
		RefreshInterval:     cfg.Cost.RefreshInterval.Duration,
		CallTimeout:         cfg.Chain.CallTimeout.Duration,
		GasMaxAge:           cfg.Cost.GasMaxAge.Duration,
		FallbackGasBps:      cfg.Cost.FallbackGasBps,
		FallbackMaxFeeGwei:  cfg.Cost.FallbackMaxFeeGwei,
		FallbackTipGwei:     cfg.Cost.FallbackTipGwei,
		NativePrice:         cfg.Cost.NativePrice,
	}, oracle, cost.AggregatorPricer{Agg: p.agg, Symbol: cfg.Cost.NativeSymbol}, a.logger)

	p.detector = arbitrage.NewDetector(arbitrage.DetectorConfig{
		MinSpreadBps: cfg.Detector.MinSpreadBps,
		SafetyFactor: cfg.Detector.SafetyFactor,
		MaxTradeSize: cfg.Detector.MaxTradeSize,
		Staleness:    p.agg.Policy(),
		Costs:        p.estimator,
		Logger:       a.logger,
	})

	sources, err := buildSources(cfg, p.chain, p.stream, a.logger)
	if err != nil {
		return nil, err
	}
	p.sources = sources
	return p, nil
}

func (a *App) newCoordinator(p *pipeline, deps *Dependencies, settlement executor.Settlement) *executor.Coordinator {
	cfg := a.cfg.Execution
	return executor.NewCoordinator(executor.Config{
		MinNetProfit:     cfg.MinNetProfit,
		MaxTradeSize:     cfg.MaxTradeSize,
		SubmitRetry:      retry.Policy{MaxAttempts: cfg.SubmitRetries, Delay: cfg.SubmitRetryDelay.Duration},
		SubmitTimeout:    cfg.SubmitTimeout.Duration,
		ExecutionTimeout: cfg.ExecutionTimeout.Duration,
		LeaseTTL:         cfg.LeaseTTL.Duration,
	}, executor.Deps{
		Settlement: settlement,
		Snapshots:  p.agg,
		Validator:  p.detector,
		Fees:       p.estimator,
		Lease:      deps.Lease,
		Emitter:    p.stream,
		Logger:     a.logger,
	})
}

// run drives the engine and the fee refresher until ctx is cancelled. The
// telemetry stream is stopped only after the engine has drained so that the
// final execution transitions reach every sink.
func (a *App) run(ctx context.Context, p *pipeline, deps *Dependencies, coord *executor.Coordinator) error {
	streamCtx, stopStream := context.WithCancel(context.WithoutCancel(ctx))
	defer stopStream()
	streamDone := make(chan error, 1)
	go func() { streamDone <- p.stream.Run(streamCtx) }()

	eng := engine.New(engine.Config{
		ShutdownGrace: a.cfg.Execution.ShutdownGrace.Duration,
	}, engine.Deps{
		Sources:     p.sources,
		Aggregator:  p.agg,
		Detector:    p.detector,
		Coordinator: coord,
		Emitter:     p.stream,
		Logger:      a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		if err := p.estimator.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("cost estimator: %w", err)
		}
		return nil
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, p, deps)
	}
	err := g.Wait()

	stopStream()
	if serr := <-streamDone; serr != nil {
		a.logger.Error("telemetry stream stopped with error", slog.String("error", serr.Error()))
	}

	st := eng.Stats()
	a.logger.Info("engine stopped",
		slog.Int64("ticks_received", st.TicksReceived),
		slog.Int64("ticks_ingested", st.TicksIngested),
		slog.Int64("opportunities", st.Opportunities),
		slog.Int64("admitted", st.Admitted),
		slog.Int64("duplicates", st.Duplicates),
		slog.Int64("rejected", st.Rejected),
		slog.Int64("telemetry_dropped", p.stream.Dropped()),
	)
	return err
}

// startHTTPServer runs the query API and the websocket hub in g until ctx is
// done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, p *pipeline, deps *Dependencies) {
	venues := make([]string, 0, len(a.cfg.Venues))
	for _, v := range a.cfg.Venues {
		venues = append(venues, v.ID)
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(time.Now(), deps.Probes),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Mode:    a.cfg.Mode,
			Symbols: a.cfg.Symbols,
			Venues:  venues,
		}, p.stream),
		Prices: handler.NewPriceHandler(p.agg),
	}
	if deps.ExecutionStore != nil {
		handlers.Executions = handler.NewExecutionHandler(deps.ExecutionStore, a.logger)
	}
	if deps.EventStore != nil {
		handlers.Events = handler.NewEventHandler(deps.EventStore, a.logger)
	}
	if deps.Archiver != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, p.hub, a.logger)

	g.Go(func() error {
		return p.hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func buildSources(cfg *config.Config, chain *evm.Client, emitter feed.Emitter, logger *slog.Logger) ([]feed.Source, error) {
	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay.Duration}

	var out []feed.Source
	for _, v := range cfg.Venues {
		switch domain.VenueKind(strings.ToLower(v.Kind)) {
		case domain.VenueKindStream:
			codec, err := feed.CodecByName(v.Codec)
			if err != nil {
				return nil, fmt.Errorf("venue %s: %w", v.ID, err)
			}
			out = append(out, feed.NewStreamSource(feed.StreamConfig{
				Venue:            v.ID,
				URL:              v.URL,
				Codec:            codec,
				Symbols:          cfg.Symbols,
				Instruments:      v.Instruments,
				Retry:            policy,
				HandshakeTimeout: cfg.Retry.HandshakeTimeout.Duration,
				PongWait:         cfg.Retry.PongWait.Duration,
			}, emitter, logger))

		case domain.VenueKindPool:
			if chain == nil {
				return nil, fmt.Errorf("venue %s: pool venues need chain.rpc_url", v.ID)
			}
			specs := make([]feed.PoolSpec, 0, len(v.Pools))
			for _, pc := range v.Pools {
				spec := feed.PoolSpec{
					Symbol:      domain.NormalizeSymbol(pc.Symbol),
					Pair:        common.HexToAddress(pc.Pair),
					BaseToken:   common.HexToAddress(pc.BaseToken),
					ProbeAmount: pc.ProbeAmount,
				}
				if common.IsHexAddress(v.Router) {
					spec.Router = common.HexToAddress(v.Router)
				}
				specs = append(specs, spec)
			}
			out = append(out, feed.NewPoolSource(feed.PoolConfig{
				Venue:        v.ID,
				Pools:        specs,
				PollInterval: v.PollInterval.Duration,
				CallTimeout:  cfg.Chain.CallTimeout.Duration,
				Retry:        policy,
			}, chain, emitter, logger))

		default:
			return nil, fmt.Errorf("venue %s: unknown kind %q", v.ID, v.Kind)
		}
	}
	return out, nil
}

func settlementConfig(cfg *config.Config) evm.SettlementConfig {
	out := evm.SettlementConfig{
		Contract:     common.HexToAddress(cfg.Chain.SettlementContract),
		Routers:      make(map[string]common.Address),
		Tokens:       make(map[string]evm.SymbolTokens),
		PollInterval: cfg.Chain.ReceiptPollInterval.Duration,
	}
	for _, v := range cfg.Venues {
		if common.IsHexAddress(v.Router) {
			out.Routers[v.ID] = common.HexToAddress(v.Router)
		}
	}
	for _, t := range cfg.Chain.Tokens {
		out.Tokens[domain.NormalizeSymbol(t.Symbol)] = evm.SymbolTokens{
			Base:          common.HexToAddress(t.Base),
			Quote:         common.HexToAddress(t.Quote),
			QuoteDecimals: t.QuoteDecimals,
		}
	}
	return out
}
