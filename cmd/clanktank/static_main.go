package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/episode"
)

func runStaticData(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	tables := episode.StaticTables()
	if raw, _ := cmd.Flags().GetString("tables"); raw != "" {
		tables = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	output, _ := cmd.Flags().GetString("output")
	exporter := episode.NewExporter(a.store, a.holders(), a.scoreConfig())
	if err := exporter.ExportStatic(cmd.Context(), version, output, tables); err != nil {
		return err
	}

	fmt.Printf("✅ wrote %s to %s/\n", strings.Join(tables, ", "), output)
	return nil
}
