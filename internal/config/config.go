package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"solana-momentum-bot-go/internal/models"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"
)

// Default 返回带有默认值的配置
func Default() *models.Config {
	return &models.Config{
		Mode:            "paper",
		HistorySize:     240,
		MinLiquidityUSD: 1_000_000,
		Risk: models.RiskConfig{
			StartingCapitalUSD:    300,
			MaxPositionSizeUSD:    50,
			MaxOpenPositions:      3,
			PortfolioStopDrawdown: 0.15,
			PortfolioStopLossUSD:  150,
			PositionHardStopPct:   0.25,
			MaxExitAttempts:       3,
			LiquidationTimeoutSec: 120,
		},
		Execution: models.ExecutionConfig{
			RetryAttempts:       3,
			RetryInitialDelayMs: 500,
			SubmitTimeoutSec:    10,
		},
		Fees: models.FeeConfig{
			SwapFeeRate:   0.003,
			SlippageRate:  0.005,
			NetworkFeeUSD: 0.001,
		},
		Schedule: models.ScheduleConfig{
			LiveIntervalSec:      15,
			EvolutionIntervalSec: 300,
			StatusIntervalSec:    60,
			HeartbeatIntervalSec: 300,
			LiveWorkers:          4,
			EvolutionWorkers:     2,
			TokenTimeoutSec:      10,
			ShutdownTimeoutSec:   30,
		},
		Feed: models.FeedConfig{
			Provider:        "dexscreener",
			BaseURL:         "https://api.dexscreener.com",
			TimeoutMs:       5000,
			MaxStalenessSec: 60,
		},
		Strategy: DefaultStrategy(),
		Evolution: models.EvolutionConfig{
			Enabled:           true,
			Candidates:        10,
			MinTrades:         30,
			Seed:              42,
			MinSamples:        60,
			RollbackMinTrades: 20,
			RollbackTolerance: 0.15,
		},
		Alert: models.AlertConfig{
			TelegramAPIURL: "https://api.telegram.org",
			BufferSize:     64,
		},
		Status: models.StatusConfig{
			File: "status.json",
		},
		Storage: models.StorageConfig{
			LedgerDir:     "data/ledger",
			JournalPath:   "data/journal.db",
			SnapshotEvery: 50,
		},
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "logs/bot.log",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// DefaultStrategy 返回初始 (版本 1) 策略参数
func DefaultStrategy() models.StrategyParams {
	return models.StrategyParams{
		RSIPeriod:        14,
		RSILow:           57,
		RSIHigh:          63,
		VolumeMultiplier: 1.38,
		VolumeLookback:   20,
		TrendLookback:    20,
		EntryThreshold:   65,
		ExitThreshold:    30,
		StopLossPct:      0.15,
		TakeProfitPct:    0.30,
		Weights: models.IndicatorWeights{
			RSI:    0.4,
			Volume: 0.3,
			Trend:  0.3,
		},
	}
}

// LoadConfig 从指定路径加载配置文件 (YAML 或 JSON), 应用环境变量覆盖并校验
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖配置 (密钥只从环境变量读取)
func ApplyEnv(cfg *models.Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alert.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alert.ChatID = v
	}
	if v := os.Getenv("SWAP_GATEWAY_API_KEY"); v != "" {
		cfg.Execution.APIKey = v
	}
	if v := os.Getenv("BOT_PAPER"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Mode = "paper"
	}
	if v := os.Getenv("BOT_LOG_LEVEL"); v != "" {
		cfg.LogConfig.Level = v
	}
	if v := os.Getenv("BOT_LEDGER_DIR"); v != "" {
		cfg.Storage.LedgerDir = v
	}
	if v := os.Getenv("BOT_STATUS_ADDR"); v != "" {
		cfg.Status.ListenAddr = v
	}
}

// ValidateMint checks that s is a base58 encoded 32-byte Solana address.
func ValidateMint(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("mint %q is not base58: %w", s, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("mint %q decodes to %d bytes, want 32", s, len(raw))
	}
	return nil
}

// Validate 校验配置, 返回所有发现的问题
func Validate(cfg *models.Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch cfg.Mode {
	case "paper":
	case "live":
		if cfg.Execution.GatewayURL == "" {
			add("execution.gateway_url is required in live mode")
		}
	default:
		add("mode %q is not supported", cfg.Mode)
	}

	if len(cfg.Tokens) == 0 {
		add("tokens: at least one token is required")
	}
	seen := make(map[string]bool, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if err := ValidateMint(t.Mint); err != nil {
			errs = append(errs, err)
		}
		if seen[t.Mint] {
			add("tokens: duplicate mint %s", t.Mint)
		}
		seen[t.Mint] = true
	}
	if cfg.HistorySize < 60 {
		add("history_size must be at least 60, got %d", cfg.HistorySize)
	}

	r := cfg.Risk
	if r.StartingCapitalUSD <= 0 {
		add("risk.starting_capital_usd must be positive")
	}
	if r.MaxPositionSizeUSD <= 0 || r.MaxPositionSizeUSD > r.StartingCapitalUSD {
		add("risk.max_position_size_usd must be in (0, starting_capital_usd]")
	}
	if r.MaxOpenPositions <= 0 {
		add("risk.max_open_positions must be positive")
	}
	if r.PortfolioStopDrawdown <= 0 || r.PortfolioStopDrawdown >= 1 {
		add("risk.portfolio_stop_drawdown must be in (0, 1)")
	}
	if r.PortfolioStopLossUSD < 0 {
		add("risk.portfolio_stop_loss_usd must not be negative")
	}
	if r.PositionHardStopPct <= 0 || r.PositionHardStopPct >= 1 {
		add("risk.position_hard_stop_pct must be in (0, 1)")
	}
	if r.MaxExitAttempts <= 0 {
		add("risk.max_exit_attempts must be positive")
	}
	if r.LiquidationTimeoutSec <= 0 {
		add("risk.liquidation_timeout_sec must be positive")
	}

	if cfg.Execution.RetryAttempts <= 0 || cfg.Execution.SubmitTimeoutSec <= 0 {
		add("execution.retry_attempts and execution.submit_timeout_sec must be positive")
	}
	if cfg.Fees.SwapFeeRate < 0 || cfg.Fees.SlippageRate < 0 || cfg.Fees.NetworkFeeUSD < 0 {
		add("fees must not be negative")
	}

	s := cfg.Schedule
	if s.LiveIntervalSec <= 0 || s.EvolutionIntervalSec <= 0 || s.StatusIntervalSec <= 0 || s.TokenTimeoutSec <= 0 {
		add("schedule intervals must be positive")
	}
	if s.LiveWorkers <= 0 || s.EvolutionWorkers <= 0 {
		add("schedule workers must be positive")
	}

	if err := ValidateStrategy(cfg.Strategy); err != nil {
		errs = append(errs, err)
	}

	if cfg.Evolution.Enabled {
		if cfg.Evolution.Candidates <= 0 {
			add("evolution.candidates must be positive")
		}
		if cfg.Evolution.MinTrades <= 0 {
			add("evolution.min_trades must be positive")
		}
	}

	switch cfg.Feed.Provider {
	case "dexscreener":
	case "stream", "chain":
		if cfg.Feed.StreamURL == "" {
			add("feed.stream_url is required for provider %s", cfg.Feed.Provider)
		}
	default:
		add("feed.provider %q is not supported", cfg.Feed.Provider)
	}

	if cfg.Storage.LedgerDir == "" {
		add("storage.ledger_dir is required")
	}
	if cfg.Storage.SnapshotEvery <= 0 {
		add("storage.snapshot_every must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateStrategy 校验策略参数的取值范围
func ValidateStrategy(p models.StrategyParams) error {
	switch {
	case p.RSIPeriod < 2:
		return fmt.Errorf("strategy.rsi_period must be at least 2")
	case p.RSILow >= p.RSIHigh:
		return fmt.Errorf("strategy.rsi_low must be below rsi_high")
	case p.VolumeLookback < 2 || p.TrendLookback < 2:
		return fmt.Errorf("strategy lookbacks must be at least 2")
	case p.VolumeMultiplier <= 1:
		return fmt.Errorf("strategy.volume_multiplier must be greater than 1")
	case p.EntryThreshold <= p.ExitThreshold || p.EntryThreshold > 100 || p.ExitThreshold < 0:
		return fmt.Errorf("strategy thresholds must satisfy 0 <= exit < entry <= 100")
	case p.StopLossPct <= 0 || p.StopLossPct >= 1:
		return fmt.Errorf("strategy.stop_loss_pct must be in (0, 1)")
	case p.TakeProfitPct <= 0:
		return fmt.Errorf("strategy.take_profit_pct must be positive")
	case p.Weights.Total() <= 0:
		return fmt.Errorf("strategy.weights must not all be zero")
	}
	return nil
}
