package backtest

import (
	"fmt"
	"io"

	"solana-momentum-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WriteReport 将回测结果以表格形式写出
func WriteReport(w io.Writer, res models.BacktestResult, startingCapital float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("回测结果报告: %s", res.StrategyName)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"回测周期", fmt.Sprintf("%s 到 %s", res.SampleStart.Format("2006-01-02 15:04"), res.SampleEnd.Format("2006-01-02 15:04"))},
		{"代币数 / K线数", fmt.Sprintf("%d / %d", res.Series, res.Candles)},
	})
	t.AppendSeparator()
	final := startingCapital
	if n := len(res.EquityCurve); n > 0 {
		final = res.EquityCurve[n-1]
	}
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f USD", startingCapital)},
		{"最终资金", fmt.Sprintf("%.2f USD", final)},
		{"净盈亏", fmt.Sprintf("%.2f USD", res.NetPnL)},
		{"总手续费", fmt.Sprintf("%.2f USD", res.TotalFees)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", res.TradeCount},
		{"盈利 / 亏损", fmt.Sprintf("%d / %d", res.Wins, res.Losses)},
		{"胜率", fmt.Sprintf("%.2f%%", res.WinRate*100)},
		{"盈亏因子", fmt.Sprintf("%.2f", res.ProfitFactor)},
		{"最大回撤", fmt.Sprintf("%.2f%%", res.MaxDrawdown*100)},
	})
	t.Render()
}

// WriteTrades writes the closed trades of a result.
func WriteTrades(w io.Writer, res models.BacktestResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Token", "Entry", "Exit", "Entry Px", "Exit Px", "PnL", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	for i, tr := range res.Trades {
		t.AppendRow(table.Row{
			i + 1,
			shortToken(tr.Token),
			tr.EntryTime.Format("01-02 15:04"),
			tr.ExitTime.Format("01-02 15:04"),
			fmt.Sprintf("%.8g", tr.EntryPrice),
			fmt.Sprintf("%.8g", tr.ExitPrice),
			fmt.Sprintf("%+.2f", tr.PnL),
			tr.Reason,
		})
	}
	t.Render()
}

func shortToken(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
