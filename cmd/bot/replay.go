package main

import (
	"errors"
	"fmt"
	"os"

	"solana-momentum-bot-go/internal/ledger"
	"solana-momentum-bot-go/internal/logger"
	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/persistence"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var replayEvents int

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild the portfolio from the ledger and print it",
	Long: `Replay loads the latest ledger snapshot, replays the event log written after
it and prints the reconstructed portfolio. Use it to inspect a ledger that
halted the controller.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVar(&replayEvents, "events", 20, "number of trailing events to print")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := persistence.NewBadgerRepository(cfg.Storage.LedgerDir)
	if err != nil {
		return fmt.Errorf("打开账本数据库失败: %w", err)
	}
	defer repo.Close()

	snapshot, err := repo.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("读取快照失败: %w", err)
	}
	var from uint64
	if snapshot != nil {
		from = snapshot.Offset
	}
	events, err := repo.EventsAfter(0)
	if err != nil {
		return fmt.Errorf("读取事件日志失败: %w", err)
	}
	fmt.Printf("snapshot offset %d, %d events in log (%d after snapshot)\n", from, len(events), countAfter(events, from))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("LEDGER EVENTS")
	t.AppendHeader(table.Row{"Offset", "Time", "Kind", "Position", "Token", "Price", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 6, Align: text.AlignRight}})
	start := 0
	if replayEvents > 0 && len(events) > replayEvents {
		start = len(events) - replayEvents
	}
	for _, ev := range events[start:] {
		t.AppendRow(table.Row{ev.Offset, ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Kind, ev.PositionID, ev.Token,
			fmt.Sprintf("%.8f", ev.Price), ev.Reason})
	}
	t.Render()

	l, err := ledger.Open(repo, ledger.Options{
		StartingCapital: cfg.Risk.StartingCapitalUSD,
		SnapshotEvery:   cfg.Storage.SnapshotEvery,
	}, logger.L())
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceCorruption) {
			logger.S().Errorf("账本无法回放: %v", err)
		}
		return err
	}
	defer l.Close()

	snap := l.Snapshot()
	p := table.NewWriter()
	p.SetOutputMirror(os.Stdout)
	p.SetStyle(table.StyleLight)
	p.SetTitle("PORTFOLIO @ offset %d: equity %.2f, cash %.2f, realized %.2f, strategy v%d",
		snap.Offset, snap.Equity, snap.Cash, snap.RealizedPnL, snap.ActiveStrategyVersion)
	p.AppendHeader(table.Row{"Position", "Token", "State", "Size", "Qty", "Entry", "Stop", "Target", "Exit Attempts"})
	for _, pos := range snap.Positions {
		p.AppendRow(table.Row{pos.ID, pos.Token, pos.State, fmt.Sprintf("%.2f", pos.Size), fmt.Sprintf("%.6f", pos.Quantity),
			fmt.Sprintf("%.8f", pos.EntryPrice), fmt.Sprintf("%.8f", pos.StopLoss), fmt.Sprintf("%.8f", pos.TakeProfit), pos.ExitAttempts})
	}
	p.Render()
	return nil
}

func countAfter(events []models.LedgerEvent, offset uint64) int {
	n := 0
	for _, ev := range events {
		if ev.Offset > offset {
			n++
		}
	}
	return n
}
