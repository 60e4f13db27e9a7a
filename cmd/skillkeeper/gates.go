package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "List pending approval gates",
	Run: func(cmd *cobra.Command, args []string) {
		pending := gateEngine.Pending()
		if len(pending) == 0 {
			fmt.Println("No pending gates.")
			return
		}
		for _, g := range pending {
			fmt.Printf("%s %s/%s risk=%s expires=%s\n",
				g.GateID, g.Gate, g.Skill, g.Risk, g.ExpiresAt.Format("15:04:05"))
		}
	},
}

var gatesApproveCmd = &cobra.Command{
	Use:   "approve GATE_ID",
	Short: "Approve a pending gate",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !gateEngine.Approve(args[0], nil) {
			fmt.Fprintf(os.Stderr, "Error: gate %s is not pending\n", args[0])
			os.Exit(1)
		}
		fmt.Println("Gate approved.")
	},
}

var gatesRejectCmd = &cobra.Command{
	Use:   "reject GATE_ID [reason...]",
	Short: "Reject a pending gate",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !gateEngine.Reject(args[0], strings.Join(args[1:], " ")) {
			fmt.Fprintf(os.Stderr, "Error: gate %s is not pending\n", args[0])
			os.Exit(1)
		}
		fmt.Println("Gate rejected.")
	},
}

var gatesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gate decision statistics",
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := gateEngine.Stats(gatesStatsDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for gate, counts := range stats.PerGate {
			fmt.Printf("%s:\n", gate)
			for status, n := range counts {
				fmt.Printf("  %-12s %d\n", status, n)
			}
		}
		if len(stats.Candidates) > 0 {
			fmt.Printf("Risk-lowering candidates: %s\n", strings.Join(stats.Candidates, ", "))
		}
		fmt.Printf("Plan gate expiry rate: %.0f%%\n", stats.PlanExpiredRate*100)
	},
}

var gatesStatsDays int

func init() {
	gatesStatsCmd.Flags().IntVar(&gatesStatsDays, "days", 7, "lookback window in days")
	gatesCmd.AddCommand(gatesApproveCmd, gatesRejectCmd, gatesStatsCmd)
	rootCmd.AddCommand(gatesCmd)
}
