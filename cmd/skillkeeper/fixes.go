package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var fixesCmd = &cobra.Command{
	Use:   "fixes",
	Short: "List generated fixes",
	Run: func(cmd *cobra.Command, args []string) {
		fixes := fixEngine.Fixes()
		if len(fixes) == 0 {
			fmt.Println("No fixes.")
			return
		}
		for _, f := range fixes {
			fmt.Printf("%-14s %-12s %-16s %s\n", f.ID, f.Status, f.Skill, f.FilePath)
			if f.Explanation != "" {
				fmt.Printf("    %s\n", f.Explanation)
			}
		}
	},
}

var fixesGenerateCmd = &cobra.Command{
	Use:   "generate PROPOSAL_ID",
	Short: "Generate a fix for a proposal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fix, err := fixEngine.GenerateFix(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Fix %s ready (%s)\n", fix.ID, fix.Source)
		for _, line := range fix.Diff {
			switch {
			case strings.HasPrefix(line, "+"):
				fmt.Println(color.GreenString(line))
			case strings.HasPrefix(line, "-"):
				fmt.Println(color.RedString(line))
			default:
				fmt.Println(line)
			}
		}
	},
}

var fixesApproveCmd = &cobra.Command{
	Use:   "approve FIX_ID",
	Short: "Approve a ready fix",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fix, err := fixEngine.ApproveFix(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Fix %s approved. Run 'skillkeeper fixes apply %s' to deploy.\n", fix.ID, fix.ID)
	},
}

var fixesRejectCmd = &cobra.Command{
	Use:   "reject FIX_ID [reason...]",
	Short: "Reject a ready fix",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := fixEngine.RejectFix(args[0], strings.Join(args[1:], " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Fix rejected.")
	},
}

var fixesApplyCmd = &cobra.Command{
	Use:   "apply FIX_ID",
	Short: "Apply an approved fix (backup, test, deploy or roll back)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fix, err := fixEngine.ApplyFix(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Fix %s finished: %s\n", fix.ID, fix.Status)
		if fix.Reason != "" {
			fmt.Printf("  %s\n", fix.Reason)
		}
	},
}

func init() {
	fixesCmd.AddCommand(fixesGenerateCmd, fixesApproveCmd, fixesRejectCmd, fixesApplyCmd)
	rootCmd.AddCommand(fixesCmd)
}
