package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// UpsertResearch writes the research blobs for a submission. Re-running
// research replaces the previous record in place.
func (s *Store) UpsertResearch(ctx context.Context, rec *ResearchRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO hackathon_research (submission_id, github_analysis, market_research, technical_assessment)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (submission_id) DO UPDATE SET
			github_analysis = EXCLUDED.github_analysis,
			market_research = EXCLUDED.market_research,
			technical_assessment = EXCLUDED.technical_assessment,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		rec.SubmissionID, jsonbArg(rec.GitHubAnalysis), jsonbArg(rec.MarketResearch), jsonbArg(rec.TechnicalAssessment)).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert research: %w", err)
	}
	return nil
}

// GetResearch loads the research record for a submission.
func (s *Store) GetResearch(ctx context.Context, submissionID string) (*ResearchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec ResearchRecord
	query := `
		SELECT submission_id, github_analysis, market_research, technical_assessment, created_at, updated_at
		FROM hackathon_research
		WHERE submission_id = $1`

	err := s.db.GetContext(ctx, &rec, query, submissionID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("research for submission %s", submissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research: %w", err)
	}
	return &rec, nil
}

// jsonbArg turns an optional raw JSON blob into a driver argument,
// writing NULL instead of an empty string.
func jsonbArg(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
