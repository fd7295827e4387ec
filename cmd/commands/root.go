package commands

// Root command for Cobra CLI
// Loads configuration and sets up logging before any subcommand runs
// Registers all subcommands (serve, update, rank)

import (
	"fmt"

	"rune-holders/internal/infra/config"
	logging "rune-holders/internal/infra/log"

	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rune-holders",
	Short: "Rune holders service - fetches rune holders from Hiro and publishes the non-zero set to JSONBin",
	Long: `rune-holders walks the Hiro runes holders endpoint for one etching, drops zero balances,
publishes the non-zero holders in chunks to JSONBin and answers rank lookups over the published set.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		return logging.Setup(logging.Options{
			Level:   cfg.Log.Level,
			Dir:     cfg.Log.Dir,
			ToFile:  cfg.Log.ToFile,
			NoColor: cfg.Log.NoColor,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(rankCmd)
}
