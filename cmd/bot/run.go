package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-momentum-bot-go/internal/alert"
	"solana-momentum-bot-go/internal/arena"
	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/evolver"
	"solana-momentum-bot-go/internal/execution"
	"solana-momentum-bot-go/internal/feed"
	"solana-momentum-bot-go/internal/history"
	"solana-momentum-bot-go/internal/ledger"
	"solana-momentum-bot-go/internal/logger"
	"solana-momentum-bot-go/internal/market"
	"solana-momentum-bot-go/internal/persistence"
	"solana-momentum-bot-go/internal/regime"
	"solana-momentum-bot-go/internal/risk"
	"solana-momentum-bot-go/internal/scheduler"
	"solana-momentum-bot-go/internal/status"
	"solana-momentum-bot-go/internal/storage"
	"solana-momentum-bot-go/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const alertSendTimeout = 10 * time.Second

var forcePaper bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading controller until interrupted",
	RunE:  runController,
}

func init() {
	runCmd.Flags().BoolVar(&forcePaper, "paper", false, "force the paper gateway regardless of config mode")
	rootCmd.AddCommand(runCmd)
}

// runController wires every component and blocks until a signal or a fatal
// ledger error.
func runController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if forcePaper {
		cfg.Mode = "paper"
	}
	log := logger.L()
	logger.S().Infof("--- 启动控制器 (%s 模式) ---", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- 持久化 ---
	repo, err := persistence.NewBadgerRepository(cfg.Storage.LedgerDir)
	if err != nil {
		return fmt.Errorf("打开账本数据库失败: %w", err)
	}
	defer repo.Close()

	l, err := ledger.Open(repo, ledger.Options{
		StartingCapital: cfg.Risk.StartingCapitalUSD,
		SnapshotEvery:   cfg.Storage.SnapshotEvery,
	}, log)
	if err != nil {
		return fmt.Errorf("恢复账本失败: %w", err)
	}
	defer l.Close()

	registry, err := strategy.Load(repo, cfg.Strategy, log)
	if err != nil {
		return fmt.Errorf("加载策略版本失败: %w", err)
	}

	journalPath := cfg.Storage.JournalPath
	if journalPath == "" {
		journalPath = ":memory:"
	}
	journal, err := storage.Open(journalPath)
	if err != nil {
		return fmt.Errorf("打开交易日志失败: %w", err)
	}
	defer journal.Close()

	// --- 行情与执行 ---
	universe := market.NewUniverse(cfg.Tokens, cfg.HistorySize, cfg.MinLiquidityUSD)
	mints := make([]string, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		mints = append(mints, t.Mint)
	}
	priceFeed, stopFeed, err := feed.New(ctx, cfg.Feed, mints, log)
	if err != nil {
		return err
	}
	defer stopFeed()

	var gateway execution.Gateway
	if cfg.Mode == "live" {
		logger.S().Infof("正在使用兑换网关 %s ...", cfg.Execution.GatewayURL)
		gateway = execution.NewHTTPGateway(cfg.Execution.GatewayURL, cfg.Execution.APIKey, log)
	} else {
		quotes := execution.QuoteFunc(func(_ context.Context, token string) (float64, error) {
			snap, ok := universe.Last(token)
			if !ok {
				return 0, fmt.Errorf("no price observed for %s", token)
			}
			return snap.Price, nil
		})
		gateway = execution.NewPaperGateway(quotes, execution.NewFeeModel(cfg.Fees), log)
	}
	gateway = execution.NewRetryingGateway(gateway, cfg.Execution.RetryAttempts,
		cfg.Execution.RetryInitialDelay(), cfg.Execution.SubmitTimeout(), log)

	// --- 状态与指标 ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := status.NewMetrics(reg)
	publisher := status.NewPublisher(cfg.Status.File, log)
	if cfg.Status.ListenAddr != "" {
		srv := status.NewServer(cfg.Status.ListenAddr, status.Handler(publisher, reg), log)
		srv.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// --- 告警 ---
	sinks := []alert.Sink{alert.LogSink{Logger: log}}
	if cfg.Alert.Enabled {
		if cfg.Alert.BotToken == "" || cfg.Alert.ChatID == "" {
			logger.S().Warn("告警已启用, 但未设置 TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID, 只写日志。")
		} else {
			sinks = append(sinks, alert.NewTelegramSink(cfg.Alert.TelegramAPIURL, cfg.Alert.BotToken, cfg.Alert.ChatID))
		}
	}
	alerts := alert.NewDispatcher(cfg.Alert.BufferSize, alertSendTimeout, log, sinks...)
	alerts.Start()
	defer alerts.Close()

	// --- 进化 ---
	extra, err := history.LoadFiles(cfg.Evolution.DataFiles)
	if err != nil {
		return fmt.Errorf("加载历史数据失败: %w", err)
	}
	ar := arena.New(backtest.NewEngine(backtest.OptionsFromConfig(cfg)), cfg.Schedule.EvolutionWorkers, log)
	var evo *evolver.Evolver
	if cfg.Evolution.Enabled {
		evo = evolver.New(cfg.Evolution, registry, ar, journal, l, log)
	}

	s := scheduler.New(scheduler.Deps{
		Config:      cfg,
		Universe:    universe,
		Feed:        priceFeed,
		Gateway:     gateway,
		Ledger:      l,
		Risk:        risk.NewEngine(cfg.Risk, l, log),
		Registry:    registry,
		Regime:      regime.NewDetector(log),
		Arena:       ar,
		Evolver:     evo,
		Journal:     journal,
		Alerts:      alerts,
		Metrics:     metrics,
		Status:      publisher,
		ExtraSeries: extra,
		Logger:      log,
	})
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("控制器启动失败: %w", err)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var fatal error
	select {
	case sig := <-quit:
		logger.S().Infof("收到信号 %s, 开始优雅退出。", sig)
	case fatal = <-s.Fatal():
	}

	s.Stop(context.Background())
	if fatal != nil {
		return fmt.Errorf("控制器因账本错误停止: %w", fatal)
	}
	logger.S().Info("控制器已成功停止，状态已保存。")
	return nil
}
