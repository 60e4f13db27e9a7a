package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run an analysis cycle and list the insights",
	Long: `Mine the error log, route analytics, gate statistics, and recorded
corrections into typed insights, then print them. Use 'skillkeeper proposals
generate' to convert insights into proposals.`,
	Run: func(cmd *cobra.Command, args []string) {
		insights, err := loop.Analyze(analyzeDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: analysis failed: %v\n", err)
			os.Exit(1)
		}
		if len(insights) == 0 {
			fmt.Println("No insights.")
			return
		}
		for _, in := range insights {
			fmt.Printf("%s %-20s %s\n", severityBadge(string(in.Severity)), in.Type, in.Message)
		}
	},
}

func severityBadge(severity string) string {
	switch severity {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprintf("[%s]", severity)
	case "high":
		return color.RedString("[%s]", severity)
	case "medium":
		return color.YellowString("[%s]", severity)
	default:
		return color.New(color.FgHiBlack).Sprintf("[%s]", severity)
	}
}

var analyzeDays int

func init() {
	analyzeCmd.Flags().IntVar(&analyzeDays, "days", 7, "lookback window in days")
	rootCmd.AddCommand(analyzeCmd)
}
