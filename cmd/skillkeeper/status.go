package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"skillkeeper/internal/improve"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show error, gate, and proposal status",
	Run: func(cmd *cobra.Command, args []string) {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== skillkeeper status ==="))

		report, err := logger.Report(statusDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to build report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", yellow(fmt.Sprintf("Outcomes (last %dd):", statusDays)))
		fmt.Printf("  Errors:    %d\n", report.TotalErrors)
		fmt.Printf("  Successes: %d\n", report.TotalSuccesses)
		fmt.Printf("  Rate:      %.1f%%\n", report.ErrorRate*100)
		if len(report.ByClassification) > 0 {
			fmt.Printf("%s\n", yellow("By classification:"))
			for class, count := range report.ByClassification {
				fmt.Printf("  %-12s %d\n", class, count)
			}
		}

		fmt.Printf("%s\n", yellow("Approvals:"))
		pending := gateEngine.Pending()
		if len(pending) == 0 {
			fmt.Printf("  %s\n", gray("No pending gates"))
		}
		for _, g := range pending {
			fmt.Printf("  %s %s/%s risk=%s\n", g.GateID, g.Gate, g.Skill, g.Risk)
		}

		proposals := loop.Proposals(improve.ProposalFilter{Status: improve.ProposalPending})
		fmt.Printf("%s %d pending\n", yellow("Proposals:"), len(proposals))
		fmt.Printf("%s %s\n\n", yellow("Trend:"), loop.Trend())
	},
}

var statusDays int

func init() {
	statusCmd.Flags().IntVar(&statusDays, "days", 7, "lookback window in days")
	rootCmd.AddCommand(statusCmd)
}
