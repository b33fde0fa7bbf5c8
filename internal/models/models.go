package models

import "time"

// Config 结构体定义了控制器的所有配置参数
type Config struct {
	Mode            string          `json:"mode" yaml:"mode"`                           // 运行模式: "paper" 或 "live"
	Tokens          []TokenConfig   `json:"tokens" yaml:"tokens"`                       // 扫描的代币列表
	HistorySize     int             `json:"history_size" yaml:"history_size"`           // 每个代币的环形缓冲区大小
	MinLiquidityUSD float64         `json:"min_liquidity_usd" yaml:"min_liquidity_usd"` // 进入扫描范围的最低流动性
	Risk            RiskConfig      `json:"risk" yaml:"risk"`
	Execution       ExecutionConfig `json:"execution" yaml:"execution"`
	Fees            FeeConfig       `json:"fees" yaml:"fees"`
	Schedule        ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Feed            FeedConfig      `json:"feed" yaml:"feed"`
	Strategy        StrategyParams  `json:"strategy" yaml:"strategy"` // 初始策略参数 (版本 1)
	Evolution       EvolutionConfig `json:"evolution" yaml:"evolution"`
	Alert           AlertConfig     `json:"alert" yaml:"alert"`
	Status          StatusConfig    `json:"status" yaml:"status"`
	Storage         StorageConfig   `json:"storage" yaml:"storage"`
	LogConfig       LogConfig       `json:"log" yaml:"log"`
}

// TokenConfig 描述扫描范围内的一个代币
type TokenConfig struct {
	Mint     string `json:"mint" yaml:"mint"`         // Solana mint 地址 (base58)
	Symbol   string `json:"symbol" yaml:"symbol"`     // 显示名称, e.g., "BONK"
	Decimals int    `json:"decimals" yaml:"decimals"` // 代币精度
}

// RiskConfig 定义了单仓位与组合层面的风控参数
type RiskConfig struct {
	StartingCapitalUSD    float64 `json:"starting_capital_usd" yaml:"starting_capital_usd"`
	MaxPositionSizeUSD    float64 `json:"max_position_size_usd" yaml:"max_position_size_usd"`
	MaxOpenPositions      int     `json:"max_open_positions" yaml:"max_open_positions"`
	PortfolioStopDrawdown float64 `json:"portfolio_stop_drawdown" yaml:"portfolio_stop_drawdown"` // 相对峰值权益的回撤比例, e.g., 0.15
	PortfolioStopLossUSD  float64 `json:"portfolio_stop_loss_usd" yaml:"portfolio_stop_loss_usd"` // 相对初始资金的绝对亏损上限, 0 表示禁用
	PositionHardStopPct   float64 `json:"position_hard_stop_pct" yaml:"position_hard_stop_pct"`   // 单仓位强制平仓的亏损比例
	MaxExitAttempts       int     `json:"max_exit_attempts" yaml:"max_exit_attempts"`             // 平仓失败多少次后升级为强制平仓
	LiquidationTimeoutSec int     `json:"liquidation_timeout_sec" yaml:"liquidation_timeout_sec"` // 强平紧急超时
}

// ExecutionConfig 定义了下单重试和超时
type ExecutionConfig struct {
	RetryAttempts       int `json:"retry_attempts" yaml:"retry_attempts"`
	RetryInitialDelayMs int `json:"retry_initial_delay_ms" yaml:"retry_initial_delay_ms"`
	SubmitTimeoutSec    int `json:"submit_timeout_sec" yaml:"submit_timeout_sec"`
	// live 模式下的兑换网关地址, 密钥从环境变量读取
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
	APIKey     string `json:"-" yaml:"-"`
}

// SubmitTimeout 单次提交超时
func (c ExecutionConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSec) * time.Second
}

// RetryInitialDelay 首次重试前的等待
func (c ExecutionConfig) RetryInitialDelay() time.Duration {
	return time.Duration(c.RetryInitialDelayMs) * time.Millisecond
}

// FeeConfig 是实盘模拟和回测共用的手续费/滑点模型
type FeeConfig struct {
	SwapFeeRate   float64 `json:"swap_fee_rate" yaml:"swap_fee_rate"`
	SlippageRate  float64 `json:"slippage_rate" yaml:"slippage_rate"`
	NetworkFeeUSD float64 `json:"network_fee_usd" yaml:"network_fee_usd"`
}

// ScheduleConfig 定义了各个循环的节奏与并发度
type ScheduleConfig struct {
	LiveIntervalSec      int `json:"live_interval_sec" yaml:"live_interval_sec"`
	EvolutionIntervalSec int `json:"evolution_interval_sec" yaml:"evolution_interval_sec"`
	StatusIntervalSec    int `json:"status_interval_sec" yaml:"status_interval_sec"`
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec"`
	LiveWorkers          int `json:"live_workers" yaml:"live_workers"`
	EvolutionWorkers     int `json:"evolution_workers" yaml:"evolution_workers"`
	TokenTimeoutSec      int `json:"token_timeout_sec" yaml:"token_timeout_sec"`
	ShutdownTimeoutSec   int `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// FeedConfig 定义了行情数据源
type FeedConfig struct {
	Provider        string `json:"provider" yaml:"provider"` // "dexscreener", "stream" 或 "chain"
	BaseURL         string `json:"base_url" yaml:"base_url"`
	StreamURL       string `json:"stream_url" yaml:"stream_url"`
	TimeoutMs       int    `json:"timeout_ms" yaml:"timeout_ms"`
	MaxStalenessSec int    `json:"max_staleness_sec" yaml:"max_staleness_sec"`
}

// EvolutionConfig 定义了策略进化参数
type EvolutionConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	Candidates        int      `json:"candidates" yaml:"candidates"`
	MinTrades         int      `json:"min_trades" yaml:"min_trades"` // 晋升所需的最小回测样本
	Seed              int64    `json:"seed" yaml:"seed"`
	MinSamples        int      `json:"min_samples" yaml:"min_samples"` // 参与回测的序列最少样本数
	DataFiles         []string `json:"data_files" yaml:"data_files"`   // 额外的历史K线CSV
	RollbackMinTrades int      `json:"rollback_min_trades" yaml:"rollback_min_trades"`
	RollbackTolerance float64  `json:"rollback_tolerance" yaml:"rollback_tolerance"`
}

// AlertConfig 定义了告警通道
type AlertConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	TelegramAPIURL string `json:"telegram_api_url" yaml:"telegram_api_url"`
	BufferSize     int    `json:"buffer_size" yaml:"buffer_size"`
	BotToken       string `json:"-" yaml:"-"` // 从环境变量 TELEGRAM_BOT_TOKEN 读取
	ChatID         string `json:"-" yaml:"-"` // 从环境变量 TELEGRAM_CHAT_ID 读取
}

// StatusConfig 定义了状态输出
type StatusConfig struct {
	File       string `json:"file" yaml:"file"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // 为空则不启动HTTP服务
}

// StorageConfig 定义了持久化位置
type StorageConfig struct {
	LedgerDir     string `json:"ledger_dir" yaml:"ledger_dir"`
	JournalPath   string `json:"journal_path" yaml:"journal_path"` // 为空则不记录sqlite日志
	SnapshotEvery int    `json:"snapshot_every" yaml:"snapshot_every"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// LiveInterval 返回实盘循环周期
func (s ScheduleConfig) LiveInterval() time.Duration { return seconds(s.LiveIntervalSec) }

// EvolutionInterval 返回进化循环周期
func (s ScheduleConfig) EvolutionInterval() time.Duration { return seconds(s.EvolutionIntervalSec) }

// StatusInterval 返回状态文件刷新周期
func (s ScheduleConfig) StatusInterval() time.Duration { return seconds(s.StatusIntervalSec) }

// HeartbeatInterval 返回心跳告警周期
func (s ScheduleConfig) HeartbeatInterval() time.Duration { return seconds(s.HeartbeatIntervalSec) }

// TokenTimeout 返回单个代币一次评估的超时
func (s ScheduleConfig) TokenTimeout() time.Duration { return seconds(s.TokenTimeoutSec) }

// ShutdownTimeout 返回优雅退出的最长等待时间
func (s ScheduleConfig) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSec) }

// LiquidationTimeout 返回强平的紧急超时
func (r RiskConfig) LiquidationTimeout() time.Duration { return seconds(r.LiquidationTimeoutSec) }
