package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// InsertVote records one on-chain vote. A duplicate transaction
// signature reports a conflict so replayed webhooks are no-ops.
func (s *Store) InsertVote(ctx context.Context, v *Vote) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO community_votes (tx_signature, submission_id, sender_address, amount, ts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		v.TxSignature, v.SubmissionID, v.SenderAddress, v.Amount, v.Timestamp).
		Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return duplicateErr("vote", err)
	}
	return nil
}

// HasVoteSignature reports whether a transaction signature was already
// ingested. The poller checks before parsing a whole transaction.
func (s *Store) HasVoteSignature(ctx context.Context, signature string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists bool
	err := s.db.QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM community_votes WHERE tx_signature = $1)`, signature).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check vote signature: %w", err)
	}
	return exists, nil
}

// ListVotes returns every vote for a submission, oldest first.
func (s *Store) ListVotes(ctx context.Context, submissionID string) ([]Vote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var votes []Vote
	query := `
		SELECT id, tx_signature, submission_id, sender_address, amount, ts, created_at
		FROM community_votes
		WHERE submission_id = $1
		ORDER BY ts ASC, id ASC`
	if err := s.db.SelectContext(ctx, &votes, query, submissionID); err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

// ListAllVotes returns every vote in ingestion order. Community score
// aggregation runs over the full set because per-sender weights depend
// on cumulative totals.
func (s *Store) ListAllVotes(ctx context.Context) ([]Vote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var votes []Vote
	query := `
		SELECT id, tx_signature, submission_id, sender_address, amount, ts, created_at
		FROM community_votes
		ORDER BY ts ASC, id ASC`
	if err := s.db.SelectContext(ctx, &votes, query); err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

// InsertContribution records a token flow into the prize wallet.
// Duplicate logical signatures (including the -overflow variants)
// report a conflict.
func (s *Store) InsertContribution(ctx context.Context, c *PrizePoolContribution) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO prize_pool_contributions
			(tx_signature, token_mint, token_symbol, amount, contributor_wallet, source, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		c.TxSignature, c.TokenMint, c.TokenSymbol, c.Amount, c.ContributorWallet, c.Source, c.Timestamp).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return duplicateErr("contribution", err)
	}
	return nil
}

// ListContributions returns the most recent contributions.
func (s *Store) ListContributions(ctx context.Context, limit int) ([]PrizePoolContribution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	var contributions []PrizePoolContribution
	query := `
		SELECT id, tx_signature, token_mint, token_symbol, amount, contributor_wallet, source, ts, created_at
		FROM prize_pool_contributions
		ORDER BY ts DESC, id DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &contributions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	return contributions, nil
}

// UpsertTokenMetadata refreshes the cached descriptor for a mint.
func (s *Store) UpsertTokenMetadata(ctx context.Context, m *TokenMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO token_metadata (mint, symbol, name, decimals, logo_uri, last_updated)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (mint) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			logo_uri = EXCLUDED.logo_uri,
			last_updated = now()
		RETURNING last_updated`

	err := s.db.QueryRowxContext(ctx, query, m.Mint, m.Symbol, m.Name, m.Decimals, m.LogoURI).
		Scan(&m.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert token metadata: %w", err)
	}
	return nil
}

// GetTokenMetadata loads the cached descriptor for a mint.
func (s *Store) GetTokenMetadata(ctx context.Context, mint string) (*TokenMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var m TokenMetadata
	query := `
		SELECT mint, symbol, name, decimals, logo_uri, last_updated
		FROM token_metadata
		WHERE mint = $1`
	err := s.db.GetContext(ctx, &m, query, mint)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("token metadata for %s", mint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token metadata: %w", err)
	}
	return &m, nil
}
