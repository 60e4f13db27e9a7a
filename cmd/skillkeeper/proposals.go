package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"skillkeeper/internal/improve"
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List improvement proposals",
	Run: func(cmd *cobra.Command, args []string) {
		filter := improve.ProposalFilter{}
		if proposalsStatus != "all" {
			filter.Status = improve.ProposalStatus(proposalsStatus)
		}
		filter.Skill = proposalsSkill

		proposals := loop.Proposals(filter)
		if len(proposals) == 0 {
			fmt.Println("No proposals.")
			return
		}
		for _, p := range proposals {
			fmt.Printf("%s %-10s %-22s %-16s %s\n",
				severityBadge(string(p.Severity)), p.Status, p.Action, p.Skill, p.ID)
			fmt.Printf("    %s\n", p.Description)
		}
	},
}

var proposalsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Convert the current insights into proposals",
	Run: func(cmd *cobra.Command, args []string) {
		created, err := loop.GenerateProposals()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d proposals (new or already pending)\n", len(created))
	},
}

var proposalsApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve a pending proposal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := loop.Approve(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Approved %s (%s)\n", p.ID, p.Action)
	},
}

var proposalsRejectCmd = &cobra.Command{
	Use:   "reject ID [reason...]",
	Short: "Reject a pending proposal",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := loop.Reject(args[0], strings.Join(args[1:], " "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rejected %s\n", p.ID)
	},
}

var (
	proposalsStatus string
	proposalsSkill  string
)

func init() {
	proposalsCmd.Flags().StringVar(&proposalsStatus, "status", "pending", "filter by status (pending, approved, rejected, applied, expired, all)")
	proposalsCmd.Flags().StringVar(&proposalsSkill, "skill", "", "filter by skill")
	proposalsCmd.AddCommand(proposalsGenerateCmd, proposalsApproveCmd, proposalsRejectCmd)
	rootCmd.AddCommand(proposalsCmd)
}
