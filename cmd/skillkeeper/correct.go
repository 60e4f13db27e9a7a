package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var correctCmd = &cobra.Command{
	Use:   "correct SKILL REASON...",
	Short: "Record a correction for a skill",
	Long: `Record that a skill's output was wrong and why. Repeated corrections
with the same reason trip the correction threshold and open an
update_skill_logic proposal automatically.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := loop.RecordCorrection(args[0], nil, nil, strings.Join(args[1:], " "), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Correction recorded for %s (pattern %s)\n", c.Skill, c.PatternHash)
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show the error-rate trend",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Trend: %s\n", loop.Trend())
		snaps := loop.Metrics()
		if n := len(snaps); n > 4 {
			snaps = snaps[n-4:]
		}
		for _, s := range snaps {
			fmt.Printf("  %s error_rate=%.3f errors=%d routed=%d misses=%d\n",
				s.Timestamp, s.ErrorRate, s.TotalErrors, s.TotalRouted, s.MissCount)
		}
	},
}

func init() {
	rootCmd.AddCommand(correctCmd, trendCmd)
}
