package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/orchestrator"
)

var rateLimit time.Duration

var passCmd = &cobra.Command{
	Use:   "pass <dataset> <partition>",
	Short: "Run one reconciliation pass of a dataset over a partition",
	Args:  cobra.ExactArgs(2),
	RunE:  runPass,
}

func init() {
	passCmd.Flags().DurationVar(&rateLimit, "rate-limit", 0, "minimum spacing between remote calls (default from config)")
	rootCmd.AddCommand(passCmd)
}

func runPass(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(app)

	summary, err := app.RunPass(ctx, args[0], args[1], rateLimit)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		var unavailable *orchestrator.CatalogUnavailableError
		switch {
		case errors.As(err, &unavailable):
			return fmt.Errorf("catalog unavailable, pass aborted: %w", unavailable.Err)
		case errors.Is(err, orchestrator.ErrPassLocked):
			return fmt.Errorf("pass is held by another worker: %w", err)
		}
		return fmt.Errorf("pass failed: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, s *domain.PassSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "RUN\t%s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "DATASET\t%s\n", s.Source)
	_, _ = fmt.Fprintf(w, "PARTITION\t%s\n", s.Partition)
	_, _ = fmt.Fprintf(w, "PLANNED\t%d\n", s.Planned)
	_, _ = fmt.Fprintf(w, "ATTEMPTED\t%d\n", s.Attempted)
	_, _ = fmt.Fprintf(w, "SUCCEEDED\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "FAILED\t%d (transient %d, permanent %d, persistence %d)\n",
		s.Failed, s.Transient, s.Permanent, s.Persistence)
	if s.Escalated > 0 {
		_, _ = fmt.Fprintf(w, "ESCALATED\t%d\n", s.Escalated)
	}
	_, _ = fmt.Fprintf(w, "SUCCESS RATE\t%.1f%%\n", s.SuccessRate())
	_, _ = fmt.Fprintf(w, "ELAPSED\t%s\n", s.Elapsed.Round(time.Millisecond))
	if s.Interrupted {
		_, _ = fmt.Fprintln(w, "INTERRUPTED\tyes (run the pass again to resume)")
	}
	_ = w.Flush()
}
