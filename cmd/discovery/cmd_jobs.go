package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/discovery/internal/job"
	"github.com/yairfalse/discovery/internal/report"
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List sync jobs and reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Jobs:")
		for _, name := range job.Names() {
			def, err := job.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %-10s %s\n", name, strings.Join(def.Sources, " -> "))
		}
		fmt.Fprintln(out, "Reports:")
		for _, id := range report.IDs() {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}
