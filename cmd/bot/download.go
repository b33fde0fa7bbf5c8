package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"solana-momentum-bot-go/internal/history"
	"solana-momentum-bot-go/internal/logger"

	"github.com/spf13/cobra"
)

var (
	dlSymbol  string
	dlStart   string
	dlEnd     string
	dlOutDir  string
	dlBaseURL string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Cache Binance 1m klines as a candle CSV",
	Long: `Download fetches 1 minute klines from Binance and writes them to
<out>/<SYMBOL>-<start>-<end>.csv. Existing files are reused.

Example:
  bot download --symbol SOLUSDT --start 2025-01-01 --end 2025-02-01 --out data`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(&dlSymbol, "symbol", "", "Binance symbol, e.g. SOLUSDT (required)")
	downloadCmd.Flags().StringVar(&dlStart, "start", "", "start date YYYY-MM-DD (required)")
	downloadCmd.Flags().StringVar(&dlEnd, "end", "", "end date YYYY-MM-DD (required)")
	downloadCmd.Flags().StringVar(&dlOutDir, "out", "data", "output directory")
	downloadCmd.Flags().StringVar(&dlBaseURL, "base-url", "", "override the Binance API base URL")
	downloadCmd.MarkFlagRequired("symbol")
	downloadCmd.MarkFlagRequired("start")
	downloadCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	startTime, err1 := time.Parse("2006-01-02", dlStart)
	endTime, err2 := time.Parse("2006-01-02", dlEnd)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	if !endTime.After(startTime) {
		return fmt.Errorf("结束日期必须晚于开始日期")
	}

	// 确保数据目录存在
	if err := os.MkdirAll(dlOutDir, 0o755); err != nil {
		return fmt.Errorf("创建 %s 目录失败: %w", dlOutDir, err)
	}

	fileName := filepath.Join(dlOutDir, fmt.Sprintf("%s-%s-%s.csv", dlSymbol, dlStart, dlEnd))
	logger.S().Infof("开始下载 %s 从 %s 到 %s 的K线数据...", dlSymbol, dlStart, dlEnd)
	d := history.NewKlineDownloader(dlBaseURL, logger.L())
	if err := d.DownloadKlines(context.Background(), dlSymbol, fileName, startTime, endTime); err != nil {
		return fmt.Errorf("下载数据失败: %w", err)
	}
	fmt.Println(fileName)
	return nil
}
