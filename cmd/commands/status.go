package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"nft-sales-monitor/internal/features/watermark"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored watermark and update offset",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true, false)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	stores, err := watermark.Open(ctx, &cfg.State)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	defer stores.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend:    %s\n", cfg.State.Backend)
	fmt.Fprintf(out, "collection: %s\n", cfg.Ledger.Collection)
	if pos := stores.Positions.Load(ctx); pos > 0 {
		fmt.Fprintf(out, "watermark:  %d\n", pos)
	} else {
		fmt.Fprintln(out, "watermark:  not calibrated")
	}
	fmt.Fprintf(out, "update id:  %d\n", stores.UpdateIDs.Load(ctx))
	return nil
}
