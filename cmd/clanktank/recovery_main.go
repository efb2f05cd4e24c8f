package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/episode"
)

func runRecovery(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("submission-id")
	if id == "" {
		return fmt.Errorf("--submission-id is required")
	}
	force, _ := cmd.Flags().GetBool("force")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	sub, err := episode.Recover(cmd.Context(), a.store, a.cfg.BackupsDir, version, id, force)
	if err != nil {
		return err
	}

	fmt.Printf("✅ restored %s (status %s)\n", sub.ID, sub.Status)
	return nil
}
