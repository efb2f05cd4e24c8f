package store

import (
	"context"
	"fmt"
	"strings"
)

// submissionTable maps a schema version to its table name. Each version
// gets its own table because the column set differs.
func submissionTable(version string) string {
	return "hackathon_submissions_" + version
}

// submissionDDL builds the CREATE TABLE statement for one schema
// version. v1 ids are caller-supplied slugs; later versions use a
// database-assigned monotone integer.
func (s *Store) submissionDDL(version string) (string, error) {
	fields, err := s.schemas.Schema(version)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", submissionTable(version))
	if version == "v1" {
		b.WriteString("\tsubmission_id TEXT PRIMARY KEY,\n")
	} else {
		b.WriteString("\tsubmission_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,\n")
	}
	b.WriteString("\towner_discord_id TEXT NOT NULL,\n")
	b.WriteString("\tstatus TEXT NOT NULL DEFAULT 'submitted',\n")
	for _, f := range fields {
		if f.UIOnly {
			continue
		}
		null := ""
		if f.Required {
			null = " NOT NULL"
		}
		fmt.Fprintf(&b, "\t%s TEXT%s,\n", f.Name, null)
	}
	b.WriteString("\tcreated_at TIMESTAMPTZ NOT NULL DEFAULT now(),\n")
	b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String(), nil
}

// fixedDDL covers every table whose layout does not depend on the
// schema registry.
var fixedDDL = []string{
	`CREATE TABLE IF NOT EXISTS hackathon_research (
		submission_id TEXT PRIMARY KEY,
		github_analysis JSONB,
		market_research JSONB,
		technical_assessment JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS hackathon_scores (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		submission_id TEXT NOT NULL,
		judge_name TEXT NOT NULL,
		round INT NOT NULL,
		innovation DOUBLE PRECISION NOT NULL,
		technical_execution DOUBLE PRECISION NOT NULL,
		market_potential DOUBLE PRECISION NOT NULL,
		user_experience DOUBLE PRECISION NOT NULL,
		weighted_total DOUBLE PRECISION NOT NULL,
		notes JSONB,
		community_bonus DOUBLE PRECISION,
		final_verdict TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS community_votes (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		tx_signature TEXT NOT NULL UNIQUE,
		submission_id TEXT NOT NULL,
		sender_address TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS prize_pool_contributions (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		tx_signature TEXT NOT NULL UNIQUE,
		token_mint TEXT NOT NULL,
		token_symbol TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL,
		contributor_wallet TEXT NOT NULL,
		source TEXT NOT NULL CHECK (source IN ('vote_overflow', 'direct_donation', 'real_balance')),
		ts TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS token_metadata (
		mint TEXT PRIMARY KEY,
		symbol TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		decimals INT NOT NULL DEFAULT 0,
		logo_uri TEXT NOT NULL DEFAULT '',
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		discord_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		roles JSONB,
		last_login TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS community_feedback (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		submission_id TEXT NOT NULL,
		discord_id TEXT NOT NULL,
		reaction TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (submission_id, discord_id, reaction)
	)`,
	`CREATE TABLE IF NOT EXISTS likes_dislikes (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		submission_id TEXT NOT NULL,
		discord_id TEXT NOT NULL,
		vote_type TEXT NOT NULL CHECK (vote_type IN ('like', 'dislike')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (discord_id, submission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		action TEXT NOT NULL,
		resource_id TEXT,
		user_id TEXT,
		details JSONB
	)`,
}

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_scores_lookup ON hackathon_scores (submission_id, judge_name, round, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_submission ON community_votes (submission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_sender ON community_votes (sender_address)`,
	`CREATE INDEX IF NOT EXISTS idx_contributions_ts ON prize_pool_contributions (ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_submission ON community_feedback (submission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_likes_submission ON likes_dislikes (submission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log (action, ts DESC)`,
}

// Migrate creates every table and index the service needs. Statements
// are idempotent so re-running on startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	var statements []string
	for _, version := range s.schemas.Versions() {
		ddl, err := s.submissionDDL(version)
		if err != nil {
			return fmt.Errorf("failed to build DDL: %w", err)
		}
		statements = append(statements, ddl)
		statements = append(statements,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status)", submissionTable(version), submissionTable(version)))
	}
	statements = append(statements, fixedDDL...)
	statements = append(statements, indexDDL...)

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
