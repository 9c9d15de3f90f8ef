package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwlim/coinpilot/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the trade ledger",
	Long: `Query and display positions and trade records from the SQLite ledger.

Subcommands:
  positions - List open positions with their stop state
  today     - List trades recorded today
  day       - List trades recorded on a specific day

Examples:
  coinpilot ledger positions
  coinpilot ledger today
  coinpilot ledger day 2026-08-15`,
}

var ledgerPositionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions",
	Args:  cobra.NoArgs,
	RunE:  runLedgerPositions,
}

var ledgerTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades recorded today",
	Args:  cobra.NoArgs,
	RunE:  runLedgerToday,
}

var ledgerDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades recorded on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerDay,
}

var ledgerDBPath string

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerPositionsCmd)
	ledgerCmd.AddCommand(ledgerTodayCmd)
	ledgerCmd.AddCommand(ledgerDayCmd)

	ledgerCmd.PersistentFlags().StringVarP(&ledgerDBPath, "db", "d", "./coinpilot.sqlite", "path to SQLite ledger DB")
}

func runLedgerPositions(cmd *cobra.Command, args []string) error {
	book, err := ledger.NewSQLite(ledgerDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer book.Close()

	positions, err := book.OpenPositions()
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	if len(positions) == 0 {
		fmt.Println("No open positions")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-12s %14s %16s %14s %-14s %6s\n",
		"TICKER", "ENTRY", "QUANTITY", "STOP", "STOP TYPE", "DAYS")
	for _, p := range positions {
		fmt.Printf("%-12s %14.2f %16.8f %14.2f %-14s %6d\n",
			p.Ticker, p.EntryPrice, p.Quantity, p.StopPrice, p.StopType, p.HoldingDays(now))
	}
	return nil
}

func runLedgerToday(cmd *cobra.Command, args []string) error {
	return printTradesForDay(time.Now().Format("2006-01-02"))
}

func runLedgerDay(cmd *cobra.Command, args []string) error {
	return printTradesForDay(args[0])
}

func printTradesForDay(day string) error {
	book, err := ledger.NewSQLite(ledgerDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer book.Close()

	start, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	trades, err := book.TradesBetween(start, start.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if len(trades) == 0 {
		fmt.Printf("No trades on %s\n", day)
		return nil
	}

	fmt.Printf("%-8s %-12s %-4s %-9s %14s %14s %8s %-18s\n",
		"TIME", "TICKER", "SIDE", "STATUS", "REQUESTED", "FILLED", "PNL%", "REASON")
	for _, t := range trades {
		fmt.Printf("%-8s %-12s %-4s %-9s %14.2f %14.2f %8.2f %-18s\n",
			t.CreatedAt.Local().Format("15:04:05"), t.Ticker, t.Side, t.Status,
			t.RequestedAmount, t.FilledAmount, t.PnLPct*100, t.Reason)
	}
	return nil
}
