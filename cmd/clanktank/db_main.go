package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// create and migrate are the same operation because every DDL
// statement is idempotent; both verbs exist so runbooks read naturally.
func runDBMigrate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Migrate(cmd.Context()); err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, version := range a.schemas.Versions() {
		byStatus, err := a.store.CountByStatus(cmd.Context(), version)
		if err != nil {
			return err
		}
		for _, n := range byStatus {
			counts[version] += n
		}
	}

	fmt.Println("✅ schema up to date")
	for _, version := range a.schemas.Versions() {
		fmt.Printf("   %s: %d submission(s)\n", version, counts[version])
	}
	return nil
}
