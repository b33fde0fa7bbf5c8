package main

import (
	"fmt"
	"os"
	"strings"

	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/config"
	"solana-momentum-bot-go/internal/history"
	"solana-momentum-bot-go/internal/logger"
	"solana-momentum-bot-go/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Autonomous momentum trading controller for Solana tokens",
	Long: `bot scans a fixed universe of Solana tokens, opens long positions when the
composite momentum score and the market regime agree, and continuously
backtests parameter variants to promote better ones.

Commands:
  run       live controller (paper or live gateway) until SIGINT/SIGTERM
  backtest  replay historical candles through one strategy
  arena     rank the indicator lineup on historical candles
  download  cache Binance klines as CSV
  replay    rebuild the portfolio from the ledger and print it`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// 为了在加载.env或配置时就能记录日志, 先用默认配置初始化 logger
		logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

		if err := godotenv.Load(); err != nil {
			logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
		} else {
			logger.S().Info("成功从 .env 文件加载配置。")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file (yaml or json)")
}

// loadConfig 加载配置并用文件中的日志配置重新初始化 logger
func loadConfig() (*models.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	logger.InitLogger(cfg.LogConfig)
	return cfg, nil
}

// loadDataset reads comma separated CSV paths into a backtest dataset.
func loadDataset(cfg *models.Config, paths string) (*backtest.Dataset, error) {
	var files []string
	for _, p := range strings.Split(paths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			files = append(files, p)
		}
	}
	files = append(files, cfg.Evolution.DataFiles...)
	if len(files) == 0 {
		return nil, fmt.Errorf("回测需要通过 --data 或 evolution.data_files 指定数据源")
	}
	series, err := history.LoadFiles(files)
	if err != nil {
		return nil, err
	}
	ds := backtest.NewDataset(series, cfg.HistorySize)
	if ds.Len() == 0 {
		return nil, fmt.Errorf("历史数据文件为空")
	}
	logger.S().Infof("已加载 %d 个序列, 共 %d 根K线。", len(series), ds.Candles())
	return ds, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.S().Errorf("%v", err)
		_ = logger.S().Sync()
		os.Exit(1)
	}
	_ = logger.S().Sync()
}
