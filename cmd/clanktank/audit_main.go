package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/store"
)

func runAudit(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	securityOnly, _ := cmd.Flags().GetBool("security")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.store.RecentAudit(cmd.Context(), limit)
	if err != nil {
		return err
	}

	printed := 0
	fmt.Printf("%-20s  %-36s  %-20s  %-18s  %s\n", "TIME", "ACTION", "RESOURCE", "USER", "DETAILS")
	for _, e := range entries {
		if securityOnly && !strings.HasPrefix(e.Action, store.SecurityPrefix) {
			continue
		}
		fmt.Printf("%-20s  %-36.36s  %-20.20s  %-18.18s  %s\n",
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Action, auditDeref(e.ResourceID), auditDeref(e.UserID), string(e.Details))
		printed++
	}
	if printed == 0 {
		fmt.Println("no audit entries")
	}
	return nil
}

func auditDeref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
