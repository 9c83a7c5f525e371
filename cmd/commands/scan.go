package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"nft-sales-monitor/bots_monitor"
	"nft-sales-monitor/internal/clients_api/ledger"
	"nft-sales-monitor/internal/features/watermark"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Dry run: print purchases found in the latest page without sending or saving",
	Long: `Fetch the latest page of collection transactions, run purchase detection and print the
notifications that would be sent. Stored state is never modified.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Uint64("from", 0, "Only report transactions after this position (default: the whole page)")
}

// printNotifier writes notifications to the terminal instead of Telegram.
type printNotifier struct {
	out   io.Writer
	count int
}

func (p *printNotifier) Notify(ctx context.Context, text string) error {
	p.count++
	_, err := fmt.Fprintf(p.out, "%s\n\n", text)
	return err
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true, false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	client, err := ledger.New(&cfg.Ledger, nil)
	if err != nil {
		return err
	}

	from, _ := cmd.Flags().GetUint64("from")
	if from == 0 {
		page, err := client.Fetch(ctx, ledger.FetchOptions{Limit: cfg.Ledger.PageLimit})
		if err != nil {
			return fmt.Errorf("failed to fetch transactions: %w", err)
		}
		if len(page) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no transactions")
			return nil
		}
		from = ledger.MinPosition(page) - 1
	}

	cfg.Ledger.MaxPages = 1
	out := &printNotifier{out: cmd.OutOrStdout()}
	monitor := bots_monitor.NewPurchaseMonitor(cfg, client, watermark.NewMemory(from), out, nil)
	if err := monitor.RunOnce(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d purchase(s) after position %d\n", out.count, from)
	return nil
}
