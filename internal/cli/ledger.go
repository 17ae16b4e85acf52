package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

var (
	ledgerDataset string
	ledgerClass   string
	ledgerLimit   int

	escalatePartition string
	escalateReason    string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List recorded failures",
	Args:  cobra.NoArgs,
	RunE:  runLedger,
}

var escalateCmd = &cobra.Command{
	Use:   "escalate <dataset> <signature>",
	Short: "Mark a failed item permanent so it is never retried",
	Args:  cobra.ExactArgs(2),
	RunE:  runEscalate,
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerDataset, "dataset", "", "only this dataset")
	ledgerCmd.Flags().StringVar(&ledgerClass, "class", "", "only this classification (transient or permanent)")
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 100, "maximum entries to show, 0 for all")

	escalateCmd.Flags().StringVar(&escalatePartition, "partition", "", "partition of the item, recorded when the entry is new")
	escalateCmd.Flags().StringVar(&escalateReason, "reason", "escalated by operator", "message stored with the entry")

	rootCmd.AddCommand(ledgerCmd, escalateCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	class := domain.Classification(ledgerClass)
	if class != "" && class != domain.ClassTransient && class != domain.ClassPermanent {
		return fmt.Errorf("unknown classification %q", ledgerClass)
	}

	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(app)

	records, err := app.Failures(ctx, storage.LedgerFilter{
		Source:         ledgerDataset,
		Classification: class,
		Limit:          ledgerLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list failures: %w", err)
	}
	printFailures(cmd.OutOrStdout(), records)
	return nil
}

func printFailures(out io.Writer, records []*domain.FailureRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DATASET\tSIGNATURE\tPARTITION\tCLASS\tATTEMPTS\tLAST ATTEMPT\tMESSAGE")
	for _, r := range records {
		msg := r.Message
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Source, r.Signature, r.Partition, r.Classification,
			r.AttemptCount, r.LastAttempt.Format(time.RFC3339), msg)
	}
	_ = w.Flush()
}

func runEscalate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(app)

	sig := domain.Signature(args[1])
	if err := app.Escalate(ctx, args[0], sig, escalatePartition, escalateReason); err != nil {
		return fmt.Errorf("failed to escalate: %w", err)
	}
	slog.Info("Escalated to permanent", "dataset", args[0], "signature", sig)
	return nil
}
