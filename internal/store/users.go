package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// UpsertUser records a Discord identity after OAuth login, refreshing
// profile fields and the login timestamp on revisit.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO users (discord_id, username, avatar, roles, last_login)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (discord_id) DO UPDATE SET
			username = EXCLUDED.username,
			avatar = EXCLUDED.avatar,
			roles = COALESCE(EXCLUDED.roles, users.roles),
			last_login = now()
		RETURNING last_login`

	err := s.db.QueryRowxContext(ctx, query, u.DiscordID, u.Username, u.Avatar, jsonbArg(u.Roles)).
		Scan(&u.LastLogin)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser loads a Discord identity.
func (s *Store) GetUser(ctx context.Context, discordID string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var u User
	query := `SELECT discord_id, username, avatar, roles, last_login FROM users WHERE discord_id = $1`
	err := s.db.GetContext(ctx, &u, query, discordID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("user %s", discordID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// AddReaction records a legacy emoji reaction. Repeats of the same
// reaction are no-ops.
func (s *Store) AddReaction(ctx context.Context, r *CommunityReaction) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO community_feedback (submission_id, discord_id, reaction)
		VALUES ($1, $2, $3)
		ON CONFLICT (submission_id, discord_id, reaction) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, r.SubmissionID, r.DiscordID, r.Reaction); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// ReactionCounts tallies legacy reactions for a submission.
func (s *Store) ReactionCounts(ctx context.Context, submissionID string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT reaction, COUNT(*)
		FROM community_feedback
		WHERE submission_id = $1
		GROUP BY reaction`

	rows, err := s.db.QueryxContext(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count reactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reaction string
		var count int
		if err := rows.Scan(&reaction, &count); err != nil {
			return nil, fmt.Errorf("failed to scan reaction count: %w", err)
		}
		counts[reaction] = count
	}
	return counts, rows.Err()
}

// SetLikeDislike records or switches a user's binary reaction on a
// submission. One row per (user, submission).
func (s *Store) SetLikeDislike(ctx context.Context, submissionID, discordID, voteType string) error {
	if voteType != ReactionLike && voteType != ReactionDislike {
		return apperr.Validationf("vote_type must be %q or %q", ReactionLike, ReactionDislike)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO likes_dislikes (submission_id, discord_id, vote_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (discord_id, submission_id) DO UPDATE SET
			vote_type = EXCLUDED.vote_type,
			created_at = now()`

	if _, err := s.db.ExecContext(ctx, query, submissionID, discordID, voteType); err != nil {
		return fmt.Errorf("failed to set reaction: %w", err)
	}
	return nil
}

// GetLikeDislike returns a user's reaction on a submission, or empty
// when none exists.
func (s *Store) GetLikeDislike(ctx context.Context, submissionID, discordID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var voteType string
	query := `SELECT vote_type FROM likes_dislikes WHERE submission_id = $1 AND discord_id = $2`
	err := s.db.QueryRowxContext(ctx, query, submissionID, discordID).Scan(&voteType)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get reaction: %w", err)
	}
	return voteType, nil
}

// LikeDislikeCounts tallies reactions for a submission.
func (s *Store) LikeDislikeCounts(ctx context.Context, submissionID string) (likes, dislikes int, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE vote_type = 'like'),
			COUNT(*) FILTER (WHERE vote_type = 'dislike')
		FROM likes_dislikes
		WHERE submission_id = $1`

	if err := s.db.QueryRowxContext(ctx, query, submissionID).Scan(&likes, &dislikes); err != nil {
		return 0, 0, fmt.Errorf("failed to count reactions: %w", err)
	}
	return likes, dislikes, nil
}
