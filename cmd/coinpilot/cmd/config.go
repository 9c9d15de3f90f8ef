package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwlim/coinpilot/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  coinpilot config init -o coinpilot.yaml
  coinpilot config validate --file coinpilot.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "coinpilot.yaml", "output config file path")
	configValidateCmd.Flags().StringVar(&configValidatePath, "file", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  coinpilot run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Exchange: %s (%s)\n", cfg.Exchange.BaseURL, cfg.Exchange.QuoteCurrency)
	fmt.Printf("  Ledger: %s\n", cfg.Ledger.DBPath)
	fmt.Printf("  Sizing: base %.1f%%, cap %.1f%%\n",
		cfg.Sizing.BasePositionPct*100, cfg.Sizing.MaxPositionPct*100)
	fmt.Printf("  Engine: max %d positions, %d trades/day\n",
		cfg.Engine.MaxPositions, cfg.Engine.MaxDailyTrades)
	return nil
}
