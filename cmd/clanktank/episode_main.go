package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/episode"
)

func runEpisode(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = filepath.Join("episodes", fmt.Sprintf("episode_%s.json", time.Now().UTC().Format("20060102_150405")))
	}

	exporter := episode.NewExporter(a.store, a.holders(), a.scoreConfig())
	ep, err := exporter.WriteEpisode(cmd.Context(), version, output)
	if err != nil {
		return err
	}

	fmt.Printf("✅ wrote episode with %d submission(s) to %s\n", len(ep.Entries), output)
	return nil
}
