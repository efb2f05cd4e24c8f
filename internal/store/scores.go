package store

import (
	"context"
	"fmt"
)

// InsertScore appends one judge verdict. Rows are never updated; the
// latest row per (submission, judge, round) is canonical so re-scoring
// keeps history.
func (s *Store) InsertScore(ctx context.Context, score *Score) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO hackathon_scores
			(submission_id, judge_name, round, innovation, technical_execution,
			 market_potential, user_experience, weighted_total, notes, community_bonus, final_verdict)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		score.SubmissionID, score.JudgeName, score.Round,
		score.Innovation, score.TechnicalExecution, score.MarketPotential, score.UserExperience,
		score.WeightedTotal, jsonbArg(score.Notes), score.CommunityBonus, score.FinalVerdict).
		Scan(&score.ID, &score.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}
	return nil
}

// LatestScores returns the canonical score rows for a submission, one
// per (judge, round).
func (s *Store) LatestScores(ctx context.Context, submissionID string) ([]Score, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (judge_name, round)
			id, submission_id, judge_name, round, innovation, technical_execution,
			market_potential, user_experience, weighted_total, notes, community_bonus, final_verdict, created_at
		FROM hackathon_scores
		WHERE submission_id = $1
		ORDER BY judge_name, round, created_at DESC`

	var scores []Score
	if err := s.db.SelectContext(ctx, &scores, query, submissionID); err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	return scores, nil
}

// LatestScoresByRound returns the canonical rows for one round across
// every submission, keyed by submission id. The synthesizer uses this
// to build cohort statistics.
func (s *Store) LatestScoresByRound(ctx context.Context, round int) (map[string][]Score, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (submission_id, judge_name)
			id, submission_id, judge_name, round, innovation, technical_execution,
			market_potential, user_experience, weighted_total, notes, community_bonus, final_verdict, created_at
		FROM hackathon_scores
		WHERE round = $1
		ORDER BY submission_id, judge_name, created_at DESC`

	var scores []Score
	if err := s.db.SelectContext(ctx, &scores, query, round); err != nil {
		return nil, fmt.Errorf("failed to query round scores: %w", err)
	}

	bySubmission := make(map[string][]Score)
	for _, sc := range scores {
		bySubmission[sc.SubmissionID] = append(bySubmission[sc.SubmissionID], sc)
	}
	return bySubmission, nil
}

// SubmissionTotal sums a submission's canonical weighted totals for a
// round. The leaderboard ranks on the round-2 total when present,
// falling back to round 1.
func SubmissionTotal(scores []Score, round int) (float64, int) {
	var total float64
	var count int
	for _, sc := range scores {
		if sc.Round == round {
			total += sc.WeightedTotal
			count++
		}
	}
	return total, count
}
