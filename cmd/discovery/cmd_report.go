package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/discovery/internal/job"
	"github.com/yairfalse/discovery/internal/report"
	"github.com/yairfalse/discovery/internal/store"
)

var (
	reportJob    string
	reportFormat string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report <id>",
	Short: "Print a report from the last sync",
	Long: `Print a report computed over the snapshot left by the last sync of a job.
Requires storage_dir (or REPORT_DIR); in-memory snapshots do not outlive the sync.

Reports:
  ` + strings.Join(report.IDs(), "\n  "),
	Example: `  discovery report aws_inventory_report -c aws.yaml            # Tab-aligned table
  discovery report nmap_results_report --format csv > scan.csv  # Export as CSV
  discovery report aws_accounts_report --job aws`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportJob, "job", "", "Job whose snapshot to read (default: the report id prefix)")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, csv")
}

func runReport(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StorageDir == "" {
		return fmt.Errorf("storage_dir is not set; nothing to report from")
	}

	name := reportJob
	if name == "" {
		name, _, _ = strings.Cut(id, "_")
	}
	if _, err := job.Lookup(name); err != nil {
		return err
	}

	path := job.StoragePath(cfg.StorageDir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no snapshot for job %s: %w", name, err)
	}

	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fn, err := report.New(st).Lookup(id)
	if err != nil {
		return err
	}
	table, err := fn(ctx)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), table, reportFormat)
}

func render(w io.Writer, table report.Table, format string) error {
	switch format {
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, row := range table {
			fmt.Fprintln(tw, strings.Join(cells(row), "\t"))
		}
		return tw.Flush()
	case "csv":
		cw := csv.NewWriter(w)
		for _, row := range table {
			if err := cw.Write(cells(row)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// cells renders NULL as an empty string.
func cells(row report.Row) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v != nil {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
