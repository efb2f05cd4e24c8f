package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName    = "clanktank"
	appVersion = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	// Pretty console output for humans, JSON lines for everything else.
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Hackathon submission evaluation pipeline",
		Version: appVersion,
		Long: `Clank Tank evaluates hackathon submissions end to end: repository
research, AI judge scoring, community vote ingestion, and comparative
synthesis, with an HTTP API for intake and public reads.

Stages run independently and are re-runnable; each drains one
submission status. Run 'serve' for the API, or drive stages directly:

   clanktank research --all
   clanktank score --submission-id my-project
   clanktank synthesize --all
   clanktank leaderboard`,
	}

	rootCmd.PersistentFlags().String("db-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, prize pool watcher, and vote poller",
		Long:  "Starts the API server plus the background prize-pool watcher and the periodic vote history poller",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "Listen host (overrides HTTP_HOST)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides HTTP_PORT)")

	researchCmd := &cobra.Command{
		Use:   "research",
		Short: "Run repository analysis and AI research",
		Long:  "Analyzes each submission's repository and produces the research record judges score from",
		RunE:  runResearch,
	}

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Run the round-1 judge panel",
		Long:  "Scores researched submissions with the full judge panel and records per-judge weighted totals",
		RunE:  runScore,
	}

	synthesizeCmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Run the comparative round-2 synthesis",
		Long:  "Re-evaluates the whole scored cohort with cohort statistics and community engagement in view",
		RunE:  runSynthesize,
	}

	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run research, score, and synthesize in order",
		Long:  "Drives every stage over the eligible submissions: research, then scoring, then cohort synthesis. A single-submission run stops after scoring.",
		RunE:  runPipeline,
	}

	// The stage commands share the selection flags.
	for _, cmd := range []*cobra.Command{researchCmd, scoreCmd, synthesizeCmd, pipelineCmd} {
		cmd.Flags().String("submission-id", "", "Process one submission")
		cmd.Flags().Bool("all", false, "Process every eligible submission")
		cmd.Flags().String("version", "", "Schema version (default: latest)")
	}
	researchCmd.Flags().Bool("force", false, "Bypass the research cache")
	pipelineCmd.Flags().Bool("force", false, "Bypass the research cache")
	scoreCmd.Flags().Bool("renormalize", false, "Rescale each judge's axis scores to a shared mean before weighting")
	pipelineCmd.Flags().Bool("renormalize", false, "Rescale each judge's axis scores to a shared mean before weighting")

	leaderboardCmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print or export the ranked leaderboard",
		RunE:  runLeaderboard,
	}
	leaderboardCmd.Flags().String("version", "", "Schema version (default: latest)")
	leaderboardCmd.Flags().String("output", "", "Write JSON to this file instead of printing")

	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database schema management",
	}
	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create all tables and indexes",
		Long:  "Creates every table and index the service needs. Statements are idempotent.",
		RunE:  runDBMigrate,
	}
	dbMigrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema changes",
		Long:  "Brings an existing database up to the current schema. Safe to re-run.",
		RunE:  runDBMigrate,
	}
	dbCmd.AddCommand(dbCreateCmd, dbMigrateCmd)

	votesCmd := &cobra.Command{
		Use:   "votes",
		Short: "Poll vote history and print community scores",
		Long:  "Backfills on-chain vote history through the indexer, then prints the weighted community score per submission",
		RunE:  runVotes,
	}
	votesCmd.Flags().String("submission-id", "", "Show one submission's score")
	votesCmd.Flags().Bool("all", false, "Show every submission with votes")
	votesCmd.Flags().Bool("poll", true, "Poll the indexer for new transactions first")

	episodeCmd := &cobra.Command{
		Use:   "episode",
		Short: "Export the episode bundle for dialogue generation",
		Long:  "Writes the per-submission verdict bundle (judge scores, verdicts, community context) consumed downstream",
		RunE:  runEpisode,
	}
	episodeCmd.Flags().String("version", "", "Schema version (default: latest)")
	episodeCmd.Flags().String("output", "", "Output file (default: episodes/episode_<timestamp>.json)")

	uploadCmd := &cobra.Command{
		Use:   "upload <image-file>",
		Short: "Attach a project image to a submission",
		Long:  "Validates and re-encodes a local image, stores it in the uploads directory, and points the submission at it",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	uploadCmd.Flags().String("submission-id", "", "Submission to attach the image to (required)")
	uploadCmd.Flags().String("version", "", "Schema version (default: latest)")

	staticCmd := &cobra.Command{
		Use:   "static-data",
		Short: "Dump public JSON snapshots",
		Long:  "Writes the public read models (submissions, leaderboard, community scores, stats) as static JSON files",
		RunE:  runStaticData,
	}
	staticCmd.Flags().String("version", "", "Schema version (default: latest)")
	staticCmd.Flags().String("output", "static", "Output directory")
	staticCmd.Flags().String("tables", "", "Comma-separated table subset (default: all)")

	recoveryCmd := &cobra.Command{
		Use:   "recovery",
		Short: "Restore a submission from its latest backup",
		Long:  "Re-creates a lost submission from the newest backup file, or overwrites the stored row with --force",
		RunE:  runRecovery,
	}
	recoveryCmd.Flags().String("submission-id", "", "Submission to restore (required)")
	recoveryCmd.Flags().String("version", "", "Schema version (default: latest)")
	recoveryCmd.Flags().Bool("force", false, "Overwrite the stored submission with the backup")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		RunE:  runAudit,
	}
	auditCmd.Flags().Int("limit", 50, "Maximum entries to show")
	auditCmd.Flags().Bool("security", false, "Only security events")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(synthesizeCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(votesCmd)
	rootCmd.AddCommand(episodeCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(staticCmd)
	rootCmd.AddCommand(recoveryCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
