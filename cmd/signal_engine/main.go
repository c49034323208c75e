package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/utrading/utrading-signal-engine/config"
	"github.com/utrading/utrading-signal-engine/internal/account"
	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/internal/cleaner"
	"github.com/utrading/utrading-signal-engine/internal/dal"
	"github.com/utrading/utrading-signal-engine/internal/dao"
	"github.com/utrading/utrading-signal-engine/internal/decision"
	"github.com/utrading/utrading-signal-engine/internal/engine"
	"github.com/utrading/utrading-signal-engine/internal/execution"
	"github.com/utrading/utrading-signal-engine/internal/feedback"
	"github.com/utrading/utrading-signal-engine/internal/indicator"
	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/internal/position"
	"github.com/utrading/utrading-signal-engine/internal/processor"
	"github.com/utrading/utrading-signal-engine/internal/signal"
	"github.com/utrading/utrading-signal-engine/internal/symbol"
	"github.com/utrading/utrading-signal-engine/internal/timeframe"
	"github.com/utrading/utrading-signal-engine/internal/trigger"
	"github.com/utrading/utrading-signal-engine/internal/venue"
	"github.com/utrading/utrading-signal-engine/internal/ws"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
	"github.com/utrading/utrading-signal-engine/pkg/sigproc"
)

func main() {
	var configFile, envFile string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.StringVar(&envFile, "env", ".env", "env file with venue credentials")
	flag.Parse()

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()

	// 凭证通过环境变量注入，.env 不存在时忽略
	_ = godotenv.Load(envFile)

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Msg("signal_engine service starting...")

	// 初始化指标
	monitor.InitMetrics()

	// 初始化数据库
	dal.InitDB(cfg.MySQL)

	// 自动迁移表结构
	dal.AutoMigrate()

	// 初始化 DAO
	dao.InitDAO(dal.DB())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Binance.Testnet {
		futures.UseTestnet = true
	}

	// 行情：REST 兜底 + 标记价格推送
	restFeed := market.NewBinanceFeed(cfg.Binance.RestBaseURL, cfg.Binance.HTTPTimeout)
	streamPrices := market.NewStreamPrices()
	feed := market.NewStreamFeed(restFeed, streamPrices, cfg.Binance.StreamMaxAge)
	var markStream *ws.MarkPriceStream
	if cfg.Binance.StreamEnabled {
		markStream = ws.NewMarkPriceStream(cfg.Binance.StreamURL, streamPrices)
		markStream.Start(ctx)
	}
	priceCache := cache.NewPriceCache(feed, cfg.Position.PriceCacheTTL)

	// Symbol 元数据（步长、最小下单量）
	symbolCache := cache.NewSymbolCache()
	symbolLoader, err := symbol.NewLoader(symbolCache, symbol.NewBinanceSource(cfg.Binance.RestBaseURL), cfg.Engine.SymbolReloadInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("init symbol loader failed")
	}
	symbolLoader.Start()

	// 交易反馈
	var sink feedback.Sink = feedback.NopSink{}
	var sinkConn monitor.ConnRef
	var closeSink func() error
	switch cfg.Feedback.Transport {
	case "nats":
		natsSink, err := feedback.NewNATSSink(cfg.NATS.Endpoint, cfg.NATS.Subject)
		if err != nil {
			logger.Fatal().Err(err).Msg("init nats feedback sink failed")
		}
		sink, sinkConn, closeSink = natsSink, natsSink, natsSink.Close
	case "kafka":
		kafkaSink, err := feedback.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal().Err(err).Msg("init kafka feedback sink failed")
		}
		sink, sinkConn, closeSink = kafkaSink, kafkaSink, kafkaSink.Close
	default:
		logger.Warn().Str("transport", cfg.Feedback.Transport).Msg("trade feedback disabled")
	}
	feedbackQueue := feedback.NewQueue(feedback.QueueConfig{
		Size:        cfg.Feedback.QueueSize,
		MaxRetry:    cfg.Feedback.MaxRetry,
		RetryDelay:  cfg.Feedback.RetryDelay,
		SendTimeout: cfg.Engine.CallTimeout,
	}, sink)
	feedbackQueue.Start()

	// 持仓快照批量写入
	batchWriter := processor.NewBatchWriter(dao.Position(), &processor.BatchWriterConfig{
		BatchSize:     cfg.Position.SnapshotBatch,
		FlushInterval: cfg.Position.SnapshotFlush,
	})
	batchWriter.Start()

	// 下单通道
	creds := venue.NewEnvCredentialResolver(cfg.Binance.CredentialsEnv)
	venues := venue.NewBinanceFactory(cfg.Binance.RestBaseURL, cfg.Binance.HTTPTimeout, symbolCache)

	// 持仓管理
	positionIndex := cache.NewOpenPositionIndex()
	posManager, err := position.NewManager(position.Deps{
		Positions: dao.Position(),
		Trades:    dao.Trade(),
		Prices:    priceCache,
		Snapshots: batchWriter,
		Index:     positionIndex,
		Creds:     creds,
		Venues:    venues,
		Feedback:  feedbackQueue,
	}, position.Options{
		PoolSize:    cfg.Position.WorkerPoolSize,
		CallTimeout: cfg.Engine.CallTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init position manager failed")
	}
	if open, err := dao.Position().ListOpen(ctx); err != nil {
		logger.Warn().Err(err).Msg("load open positions failed")
	} else {
		positionIndex.Rebuild(open)
	}
	positionWorker := position.NewWorker(posManager, cfg.Position.MonitorInterval)
	positionWorker.Start()

	// 信号管理
	signalManager := signal.NewManager(dao.Signal(), priceCache, signal.Options{
		DefaultExpiry:    cfg.Signal.DefaultExpiry,
		PriceConcurrency: cfg.Signal.PriceConcurrency,
		CallTimeout:      cfg.Engine.CallTimeout,
	})
	signalWorker := signal.NewWorker(signalManager, cfg.Signal.EvalInterval)
	signalWorker.Start()

	// 触发状态
	var stateStore trigger.StateStore
	var rdb *redis.Client
	switch cfg.Trigger.Backend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect redis failed")
		}
		stateStore = trigger.NewRedisStore(rdb, 2*cfg.Trigger.RefreshInterval)
	default:
		stateStore = trigger.NewMemoryStore()
	}
	gate := trigger.NewGate(trigger.Config{
		RefreshInterval:    cfg.Trigger.RefreshInterval,
		PriceChangePercent: cfg.Trigger.PriceChangePercent,
		RSIOversold:        cfg.Trigger.RSIOversold,
		RSIOverbought:      cfg.Trigger.RSIOverbought,
		RSIExtremeLow:      cfg.Trigger.RSIExtremeLow,
		RSIExtremeHigh:     cfg.Trigger.RSIExtremeHigh,
		ExtremeCooldown:    cfg.Trigger.ExtremeCooldown,
		PositionCadence:    cfg.Trigger.PositionCadence,
		RSIInterval:        cfg.Trigger.RSIInterval,
		RSIPeriod:          cfg.Trigger.RSIPeriod,
		KlineLimit:         cfg.Trigger.KlineLimit,
		CallTimeout:        cfg.Engine.CallTimeout,
	}, stateStore, feed, positionIndex)

	// 账户加载
	accountLoader := account.NewLoader(dao.Account(), cfg.Engine.AccountReloadInterval)
	if err = accountLoader.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start account loader failed")
	}

	executor := execution.NewExecutor(execution.Config{
		MinConfidence: cfg.Signal.MinConfidence,
		CallTimeout:   cfg.Engine.CallTimeout,
	}, creds, venues, symbolCache, posManager, signalManager)

	indicatorOpts := indicator.DefaultOptions()
	indicatorOpts.RSIPeriod = cfg.Trigger.RSIPeriod
	runner, err := engine.NewRunner(engine.Config{
		ClosureCron:           cfg.Engine.ClosureCron,
		AnalysisTimeout:       cfg.Engine.AnalysisTimeout,
		CallTimeout:           cfg.Engine.CallTimeout,
		MaxConcurrentAccounts: cfg.Engine.MaxConcurrentAccounts,
		KlineLimit:            cfg.Trigger.KlineLimit,
		Indicators:            indicatorOpts,
		DefaultStopLossPct:    cfg.Signal.DefaultStopLossPct,
		DefaultTakeProfitPct:  cfg.Signal.DefaultTakeProfitPct,
		SignalExpiry:          cfg.Signal.DefaultExpiry,
		Methodology:           cfg.Decision.Methodology,
	}, engine.Deps{
		Accounts: accountLoader,
		Detector: timeframe.NewDetector(cfg.Engine.WeekStartDay()),
		Gate:     gate,
		Feed:     feed,
		Decision: decision.NewHTTPSource(cfg.Decision.Endpoint, cfg.Decision.Methodology, cfg.Decision.Timeout),
		Signals:  signalManager,
		Executor: executor,
		Symbols:  symbolCache,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init engine runner failed")
	}
	runner.Start()

	// 数据清理器
	dataCleaner := cleaner.NewCleaner(cleaner.Config{
		Interval:        time.Hour,
		SignalRetention: cfg.Signal.Retention,
		StateIdle:       2 * cfg.Trigger.RefreshInterval,
	}, dao.Signal(), stateStore)
	dataCleaner.Start()

	// 初始化健康检查服务器
	healthServer := monitor.NewHealthServer(cfg.Engine.HealthServerAddr).
		WithStats("price_cache", priceCache).
		WithStats("symbols", symbolCache).
		WithStats("feedback", feedbackQueue).
		WithStats("snapshots", batchWriter).
		WithStats("positions", posManager).
		WithStats("engine", runner)
	if markStream != nil {
		healthServer.WithConn("mark_price_stream", markStream).WithStats("mark_price_stream", markStream)
	}
	if sinkConn != nil {
		healthServer.WithConn("feedback_"+cfg.Feedback.Transport, sinkConn)
	}
	if err = healthServer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start health server failed")
	}

	logger.Info().
		Str("health_addr", cfg.Engine.HealthServerAddr).
		Str("closure_cron", cfg.Engine.ClosureCron).
		Str("trigger_backend", cfg.Trigger.Backend).
		Str("feedback", cfg.Feedback.Transport).
		Msg("signal_engine service started successfully")

	// 优雅关闭
	sigproc.GracefulShutdown(func(sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		// 停止调度，等待进行中的分析
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
		if err := runner.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("engine runner stop")
		}
		stopCancel()

		dataCleaner.Stop()
		accountLoader.Stop()
		signalWorker.Stop()
		positionWorker.Stop()
		posManager.Release()

		// 停止行情
		cancel()
		if markStream != nil {
			markStream.Stop()
		}
		symbolLoader.Close()

		// 先排空快照与反馈，再关闭下游连接
		if err := batchWriter.GracefulShutdown(10 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("batch writer shutdown")
		}
		feedbackQueue.Stop()
		if closeSink != nil {
			if err := closeSink(); err != nil {
				logger.Warn().Err(err).Msg("close feedback sink failed")
			}
		}
		if rdb != nil {
			_ = rdb.Close()
		}

		// 关闭健康检查服务器
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = healthServer.Stop(shutdownCtx)

		// 关闭配置重载
		config.Stop()

		// 关闭数据库
		dal.Close()

		logger.Info().Msg("signal_engine service stopped")
	})

	<-ctx.Done()
	// cancel 之后等待关闭流程退出进程
	select {}
}

func initLogger(cfg *config.Config) error {
	dir := cfg.Logger.Dir
	if dir == "" {
		dir = "logs"
	}
	return logger.NewBuilder().
		AddLevelFile(logger.INFO, filepath.Join(dir, "info.log")).
		AddLevelFile(logger.ERROR, filepath.Join(dir, "error.log")).
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}
