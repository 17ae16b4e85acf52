package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/statsync/internal/control"
	"github.com/vietddude/statsync/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog size and collection progress of every dataset",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(app)

	report, err := app.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), report)
	return nil
}

func printStatus(out io.Writer, report *control.StatusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PARTITION\tCODE\tGAMES\tPLAYERS\tTEAMS")
	for _, p := range report.Partitions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			p.Partition.Name, p.Partition.Code,
			p.Identifiers[domain.CatalogGame],
			p.Identifiers[domain.CatalogPlayer],
			p.Identifiers[domain.CatalogTeam])
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DATASET\tPRIORITY\tCOLLECTED\tTRANSIENT\tPERMANENT\tLAST PASS")
	for _, ds := range report.Datasets {
		name := ds.Name
		if ds.Producer {
			name += " *"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			name, ds.Priority, ds.Collected, ds.Transient, ds.Permanent, lastPass(ds.LastPass))
	}
	_ = w.Flush()
}

// lastPass describes the most recent pass across partitions.
func lastPass(passes map[string]*domain.PassSummary) string {
	if len(passes) == 0 {
		return "-"
	}
	var latest *domain.PassSummary
	for _, p := range passes {
		if latest == nil || p.StartedAt.After(latest.StartedAt) {
			latest = p
		}
	}
	return fmt.Sprintf("%s %s %d/%d ok",
		latest.Partition, latest.StartedAt.Format(time.RFC3339), latest.Succeeded, latest.Attempted)
}
