package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/leaderboard"
)

func runLeaderboard(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	entries, err := leaderboard.Build(cmd.Context(), a.store, version, a.holders(), a.scoreConfig())
	if err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write leaderboard: %w", err)
		}
		fmt.Printf("✅ wrote %d entries to %s\n", len(entries), output)
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("no scored submissions yet")
		return nil
	}

	fmt.Printf("%-4s  %-28s  %-10s  %7s  %9s  %s\n", "RANK", "PROJECT", "STATUS", "JUDGES", "COMMUNITY", "VOTES")
	for _, e := range entries {
		fmt.Printf("%-4d  %-28.28s  %-10s  %7.2f  %9.2f  %d\n",
			e.Rank, e.ProjectName, e.Status, e.AverageScore, e.CommunityScore, e.VoteCount)
	}
	return nil
}
