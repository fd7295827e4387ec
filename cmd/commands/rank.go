package commands

// Rank lookup against the last published snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var rankCmd = &cobra.Command{
	Use:   "rank <address>",
	Short: "Print the rank and balance of an address among non-zero holders",
	Args:  cobra.ExactArgs(1),
	RunE:  runRank,
}

func runRank(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rk, found, err := a.lookup.RankOf(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("address %s not found among non-zero holders", args[0])
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"rank":             rk.Rank,
		"balance":          json.Number(rk.Balance.String()),
		"non_zero_holders": rk.NonZeroHolders,
	})
}
