package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow/internal/adapter/cache"
	"orderflow/internal/adapter/exchange"
	"orderflow/internal/adapter/generator"
	"orderflow/internal/adapter/handler"
	"orderflow/internal/adapter/storage"
	"orderflow/internal/application/service"
	"orderflow/internal/application/usecase"
	"orderflow/internal/core/baseline"
	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
	"orderflow/internal/infrastructure/config"
	"orderflow/internal/infrastructure/logger"
	"orderflow/internal/infrastructure/metrics"
	"orderflow/internal/infrastructure/server"
)

var (
	portFlag   = flag.Int("port", 0, "Port number")
	configFlag = flag.String("config", "configs/config.yaml", "Path to the config file")
	modeFlag   = flag.String("mode", "", "Initial data mode: live or test")
	helpFlag   = flag.Bool("help", false, "Show help")
)

type App struct {
	config      *config.Config
	logger      *slog.Logger
	server      *server.Server
	storage     *storage.PostgresAdapter
	cache       *cache.RedisAdapter
	engine      *service.Engine
	ingest      *service.IngestService
	baselines   *service.BaselineService
	persistence *service.PersistenceService
	switcher    *service.FeedSwitcher
	cancel      context.CancelFunc
}

func main() {
	flag.Parse()

	if *helpFlag {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *portFlag != 0 {
		cfg.Server.Port = *portFlag
	}
	if *modeFlag != "" {
		if _, err := model.ParseDataMode(*modeFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --mode: %v\n", err)
			os.Exit(1)
		}
		cfg.Mode = *modeFlag
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting orderflow", "version", "1.0.0", "mode", cfg.Mode, "pairs", cfg.TradingPairs)

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{config: cfg, logger: log, cancel: cancel}

	if err := app.init(ctx); err != nil {
		log.Error("failed to initialize", "error", err)
		app.closeAdapters()
		os.Exit(1)
	}

	go func() {
		if err := app.server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down gracefully")
	app.shutdown()
}

func (a *App) init(ctx context.Context) error {
	cfg := a.config

	if cfg.PostgreSQL.Enabled {
		pg, err := storage.NewPostgresAdapter(cfg.PostgresDSN(), storage.PoolOptions{
			MaxOpenConns:    cfg.PostgreSQL.MaxOpenConns,
			MaxIdleConns:    cfg.PostgreSQL.MaxIdleConns,
			ConnMaxLifetime: cfg.PostgreSQL.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.storage = pg
		if err := pg.InitSchema(ctx); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}

	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisAdapter(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, cfg.DataRetention.RedisTTL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.cache = rc
	}

	mode := cfg.DataMode()
	gen := generator.NewTestGenerator("test-generator", cfg.TradingPairs, cfg.TestGenerator.Interval, a.logger)
	sources := service.NewSources(mode)
	sources.Register(model.TestMode, gen, gen)
	if cfg.Binance.Enabled {
		rest := exchange.NewRESTClient(cfg.Binance.RESTURL, cfg.Binance.RequestTimeout)
		sources.Register(model.LiveMode, rest, rest)
	}

	base, timeframes := cfg.Timeframes()
	baselines := baseline.NewEngine(cfg.Alerts.ThresholdPct, cfg.Alerts.BaselineMaxAge)
	outbox := service.NewOutbox(0)
	engine, err := service.NewEngine(service.EngineConfig{
		Shards:            cfg.Engine.Shards,
		ShardBuffer:       cfg.Engine.ShardBuffer,
		BaseTimeframe:     base.Duration(),
		Timeframes:        timeframes,
		HistoryCapacity:   cfg.Engine.HistoryCapacity,
		DefaultPriceScale: cfg.Engine.DefaultPriceScale,
		PriceScales:       cfg.Engine.PriceScales,
		SealDelay:         cfg.Engine.SealDelay,
		CandleThrottle:    cfg.Engine.CandleThrottle,
		DepthLevels:       cfg.Engine.DepthLevels,
		DepthInterval:     cfg.Engine.DepthInterval,
		MaxPendingDeltas:  cfg.Engine.MaxPendingDeltas,
		ImbalanceWindow:   cfg.Engine.ImbalanceWindow,
		ImbalanceBucket:   cfg.Engine.ImbalanceBucket,
		ImbalanceHistory:  cfg.Engine.ImbalanceHistory,
		CascadeWindow:     cfg.Engine.CascadeWindow,
		CascadeBucket:     cfg.Engine.CascadeBucket,
		CascadeThreshold:  cfg.Engine.CascadeThreshold,
		TickInterval:      cfg.Engine.TickInterval,
		Resync: service.ResyncConfig{
			Limit:      cfg.Engine.SnapshotLimit,
			Timeout:    cfg.Engine.SnapshotTimeout,
			MinBackoff: cfg.Engine.ResyncMinBackoff,
			MaxBackoff: cfg.Engine.ResyncMaxBackoff,
		},
	}, baselines, sources, outbox, a.logger)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	a.engine = engine
	engine.Start(ctx)
	a.warmStart(ctx)

	a.baselines = service.NewBaselineService(sources, baselines, cfg.TradingPairs, cfg.Alerts.StatsTimeout, a.logger)
	a.baselines.Start(ctx, cfg.Alerts.RetryInterval)

	var storagePort port.StoragePort
	if a.storage != nil {
		storagePort = a.storage
	}
	var cachePort port.CachePort
	if a.cache != nil {
		cachePort = a.cache
	}
	a.persistence = service.NewPersistenceService(outbox, engine, cachePort, storagePort, cfg.DataRetention.Liquidations, a.logger)
	a.persistence.Start(ctx, cfg.DataRetention.FlushInterval)

	a.ingest = service.NewIngestService(a.feeds(gen), engine.Consume, cfg.TradingPairs, a.logger)
	if err := a.ingest.Start(ctx, mode); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	a.switcher = service.NewFeedSwitcher(a.ingest, sources, a.baselines, a.logger)
	modeService := service.NewModeService(mode, a.switcher, a.logger)

	marketUseCase := usecase.NewMarketUseCase(engine, cachePort, cfg.Stream.Buffer)
	mux := handler.NewRouter(handler.Handlers{
		Market: handler.NewMarketHandler(marketUseCase, base, a.logger),
		Stream: handler.NewStreamHandler(marketUseCase, base, handler.StreamOptions{
			WriteWait:  cfg.Stream.WriteWait,
			PongWait:   cfg.Stream.PongWait,
			PingPeriod: cfg.Stream.PingPeriod,
		}, a.logger),
		Mode:    handler.NewModeHandler(modeService, a.logger),
		Health:  handler.NewHealthHandler(storagePort, cachePort, engine, a.logger),
		Metrics: metrics.Handler(),
	})

	a.server = server.NewServer(cfg.Server.Port, mux, server.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	}, a.logger)
	return nil
}

// feeds builds the FeedFactory: the generator in test mode, Binance and the
// configured TCP exchanges in live mode.
func (a *App) feeds(gen *generator.TestGenerator) service.FeedFactory {
	return func(mode model.DataMode) []port.FeedPort {
		if mode == model.TestMode {
			return []port.FeedPort{gen}
		}

		var out []port.FeedPort
		if b := a.config.Binance; b.Enabled {
			out = append(out, exchange.NewBinanceFeed("binance", exchange.BinanceOptions{
				BaseURL:      b.StreamURL,
				Trades:       b.Trades,
				Depth:        b.Depth,
				DepthSpeed:   b.DepthSpeed,
				Liquidations: b.Liquidations,
			}, a.logger))
		}
		for _, exCfg := range a.config.Exchanges {
			if !exCfg.Enabled {
				continue
			}
			out = append(out, exchange.NewTCPExchange(exCfg.Name, exCfg.Host, exCfg.Port, a.logger))
		}
		return out
	}
}

// warmStart replays stored base candles into the timeframe cache and lets
// each aggregator carry CVD on from the last of them. Runs after the engine
// has started and before the feeds do.
func (a *App) warmStart(ctx context.Context) {
	window := a.config.DataRetention.WarmStart
	if a.storage == nil || window <= 0 {
		return
	}
	since := time.Now().Add(-window)
	for _, symbol := range a.config.TradingPairs {
		candles, err := a.storage.LoadCandles(ctx, symbol, since)
		if err != nil {
			a.logger.Warn("warm start: load failed", "symbol", symbol, "error", err)
			continue
		}
		restored, err := a.engine.WarmStart(ctx, symbol, candles)
		if err != nil {
			a.logger.Warn("warm start: restore failed", "symbol", symbol, "error", err)
		}
		a.logger.Info("warm start", "symbol", symbol, "candles", restored)
	}
}

func (a *App) shutdown() {
	if a.ingest != nil {
		a.ingest.Stop()
	}

	if a.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("shutdown error", "error", err)
		}
		shutdownCancel()
	}

	if a.baselines != nil {
		a.baselines.Stop()
	}
	if a.switcher != nil {
		a.switcher.Wait()
	}

	a.cancel()
	if a.engine != nil {
		a.engine.Wait()
		a.engine.Hubs().Close()
	}
	if a.persistence != nil {
		a.persistence.Stop()
	}

	a.closeAdapters()
	a.logger.Info("shutdown complete")
}

func (a *App) closeAdapters() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", "error", err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("failed to close postgres", "error", err)
		}
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  orderflow [--port <N>] [--config <path>] [--mode live|test]")
	fmt.Println("  orderflow --help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --port N       Port number")
	fmt.Println("  --config PATH  Config file (default configs/config.yaml)")
	fmt.Println("  --mode MODE    Initial data mode, overrides the config")
}
