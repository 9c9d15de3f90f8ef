package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwlim/coinpilot/ledger"
	"github.com/jwlim/coinpilot/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare the ledger against exchange balances",
	Long: `Run a one-shot reconciliation pass and print every divergence
between exchange balances and the local ledger.

Detection is read-only; nothing is bought, sold or written.

Example:
  coinpilot reconcile -f coinpilot.yaml`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger()

	ex, err := buildExchange(cfg, nil, log)
	if err != nil {
		return err
	}

	book, err := ledger.NewSQLite(cfg.Ledger.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer book.Close()

	r := reconcile.New(ex, book, cfg.Reconcile, cfg.Exchange.QuoteCurrency, log)
	report := r.Detect(context.Background())

	if report.Degraded {
		return fmt.Errorf("reconciliation degraded: balances or ledger unavailable")
	}
	if len(report.Mismatches) == 0 {
		fmt.Println("✓ Ledger matches exchange balances")
		return nil
	}

	fmt.Printf("%d mismatch(es) at %s:\n\n", len(report.Mismatches), report.CheckedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%-12s %-18s %16s %16s %14s\n", "TICKER", "TYPE", "EXCHANGE", "LEDGER", "AVG BUY")
	for _, m := range report.Mismatches {
		fmt.Printf("%-12s %-18s %16.8f %16.8f %14.2f\n", m.Ticker, m.Type, m.ExchangeQty, m.BookQty, m.AvgBuyPrice)
	}
	return nil
}
