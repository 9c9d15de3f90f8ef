package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jwlim/coinpilot/config"
	"github.com/jwlim/coinpilot/engine"
	"github.com/jwlim/coinpilot/exchange"
	"github.com/jwlim/coinpilot/executor"
	"github.com/jwlim/coinpilot/exit"
	"github.com/jwlim/coinpilot/ledger"
	"github.com/jwlim/coinpilot/market"
	"github.com/jwlim/coinpilot/metrics"
	"github.com/jwlim/coinpilot/reconcile"
	"github.com/jwlim/coinpilot/sizing"
	"github.com/jwlim/coinpilot/stops"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run trading cycles against the configured exchange",
	Long: `Run the position lifecycle manager.

Each cycle reconciles the ledger against exchange balances, walks open
positions through the exit waterfall, then sizes and enters buy candidates
from the candidates file. With --interval the cycle repeats until
interrupted; without it a single cycle runs.

Candidates are screened upstream; the file is a YAML or JSON list of
tickers with their market snapshots.

Example:
  coinpilot run -f coinpilot.yaml --candidates candidates.yaml --interval 10m`,
	RunE: runRun,
}

var (
	runCandidatesPath string
	runInterval       time.Duration
	runPaper          bool
	runPaperCash      float64
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runCandidatesPath, "candidates", "c", "", "path to buy candidates file (YAML or JSON)")
	runCmd.Flags().DurationVarP(&runInterval, "interval", "i", 0, "repeat cycles at this interval (0 = run once)")
	runCmd.Flags().BoolVar(&runPaper, "paper", false, "trade against an in-memory paper venue")
	runCmd.Flags().Float64Var(&runPaperCash, "paper-cash", 10000000, "starting quote balance for the paper venue")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger()

	candidates, err := loadCandidates(runCandidatesPath)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}

	ex, err := buildExchange(cfg, candidates, log)
	if err != nil {
		return err
	}

	book, err := ledger.NewSQLite(cfg.Ledger.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer book.Close()

	exec, err := executor.New(ex, book, cfg.Executor, log)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	quote := cfg.Exchange.QuoteCurrency
	trailing := stops.New(cfg.Stops, log)
	store := market.NewStore()
	for _, c := range candidates {
		store.Set(c.Snap)
	}

	e := engine.New(cfg.Engine, engine.Deps{
		Exchange:   ex,
		Executor:   exec,
		Sizer:      sizing.New(cfg.Sizing, cfg.Executor.MinBuyValue, log),
		Exits:      exit.New(cfg.Exit, trailing, log),
		Trailing:   trailing,
		Reconciler: reconcile.New(ex, book, cfg.Reconcile, quote, log),
		Book:       book,
		Snapshots:  engine.NewStoreSource(store, ex),
		Quote:      quote,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.Handler()}
		go func() {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics endpoint up")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	log.Info().Int("candidates", len(candidates)).Bool("dry_run", cfg.Engine.DryRun).
		Msg("starting trading cycles")

	if err := e.Cycle(ctx, candidates); err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	if runInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case <-ticker.C:
			if err := e.Cycle(ctx, candidates); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("cycle failed")
			}
		}
	}
}

func buildExchange(cfg *config.Config, candidates []engine.Candidate, log zerolog.Logger) (exchange.Exchange, error) {
	if runPaper {
		paper := exchange.NewPaper(cfg.Exchange.QuoteCurrency, runPaperCash)
		for _, c := range candidates {
			paper.SetPrice(c.Ticker, c.Snap.Price)
		}
		paper.FeeRate = cfg.Executor.TakerFeeRate
		return paper, nil
	}

	accessKey := os.Getenv("UPBIT_ACCESS_KEY")
	secretKey := os.Getenv("UPBIT_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY must be set (or use --paper)")
	}
	return exchange.NewUpbit(cfg.Exchange, accessKey, secretKey, log)
}

// loadCandidates reads the screener output file. An empty path means a
// manage-only run: open positions are still evaluated, nothing new is
// bought.
func loadCandidates(path string) ([]engine.Candidate, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out []engine.Candidate
	if err := yaml.Unmarshal(data, &out); err != nil {
		if jerr := json.Unmarshal(data, &out); jerr != nil {
			return nil, fmt.Errorf("parse candidates (tried YAML and JSON): %w", err)
		}
	}

	for i, c := range out {
		if c.Ticker == "" {
			return nil, fmt.Errorf("candidate %d has no ticker", i)
		}
		if c.Snap.Ticker == "" {
			out[i].Snap.Ticker = c.Ticker
		}
	}
	return out, nil
}
