package main

import (
	"context"
	"fmt"
	"os"

	"solana-momentum-bot-go/internal/arena"
	"solana-momentum-bot-go/internal/backtest"
	"solana-momentum-bot-go/internal/logger"
	"solana-momentum-bot-go/internal/models"

	"github.com/spf13/cobra"
)

var (
	dataPaths    string
	strategyName string
	showTrades   bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical candles through one strategy",
	Long: `Backtest replays historical candle CSVs through the configured strategy, or
one of the arena lineup strategies, with the live fee and slippage model.

Example:
  bot backtest --config config.yaml --data data/SOLUSDT-2025-01-01-2025-02-01.csv --strategy macd_trend`,
	RunE: runBacktest,
}

var arenaCmd = &cobra.Command{
	Use:   "arena",
	Short: "Rank the indicator lineup on historical candles",
	RunE:  runArena,
}

func init() {
	for _, c := range []*cobra.Command{backtestCmd, arenaCmd} {
		c.Flags().StringVarP(&dataPaths, "data", "d", "", "comma separated candle CSV files")
	}
	backtestCmd.Flags().StringVarP(&strategyName, "strategy", "s", "", "lineup strategy name (default: the configured strategy)")
	backtestCmd.Flags().BoolVar(&showTrades, "trades", false, "print every closed trade")
	rootCmd.AddCommand(backtestCmd, arenaCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := loadDataset(cfg, dataPaths)
	if err != nil {
		return err
	}

	strat := models.StrategyConfig{Name: "configured", Version: 1, Params: cfg.Strategy}
	if strategyName != "" {
		picked, err := arena.Select(arena.Lineup(cfg.Strategy), strategyName)
		if err != nil {
			return err
		}
		strat = picked[0]
	}

	logger.S().Infof("开始回测 %s ...", strat.Name)
	res := backtest.NewEngine(backtest.OptionsFromConfig(cfg)).Run(strat, ds)
	logger.S().Info("回测结束。")

	backtest.WriteReport(os.Stdout, res, cfg.Risk.StartingCapitalUSD)
	if showTrades {
		backtest.WriteTrades(os.Stdout, res)
	}
	return nil
}

func runArena(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := loadDataset(cfg, dataPaths)
	if err != nil {
		return err
	}

	a := arena.New(backtest.NewEngine(backtest.OptionsFromConfig(cfg)), cfg.Schedule.EvolutionWorkers, logger.L())
	entries, err := a.Run(context.Background(), arena.Lineup(cfg.Strategy), ds)
	if err != nil {
		return fmt.Errorf("arena: %w", err)
	}
	arena.WriteLeaderboard(os.Stdout, entries)
	return nil
}
