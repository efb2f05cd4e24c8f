package store

import (
	"encoding/json"
	"time"
)

// Submission is the root entity. Fixed columns carry identity and
// lifecycle; content columns are defined by the schema registry and
// carried in Fields.
type Submission struct {
	ID        string            `json:"submission_id"`
	Version   string            `json:"schema_version"`
	OwnerID   string            `json:"owner_discord_id"`
	Status    string            `json:"status"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Field returns a schema-defined content field, empty when unset.
func (s *Submission) Field(name string) string {
	if s.Fields == nil {
		return ""
	}
	return s.Fields[name]
}

// ResearchRecord holds the three research blobs for a submission.
// Exactly one row per submission; re-runs upsert.
type ResearchRecord struct {
	SubmissionID        string          `db:"submission_id" json:"submission_id"`
	GitHubAnalysis      json.RawMessage `db:"github_analysis" json:"github_analysis"`
	MarketResearch      json.RawMessage `db:"market_research" json:"market_research"`
	TechnicalAssessment json.RawMessage `db:"technical_assessment" json:"technical_assessment"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Score is one judge's verdict on a submission in one round. Rows are
// append-only; the latest row per (submission, judge, round) wins.
type Score struct {
	ID                 int64           `db:"id" json:"id"`
	SubmissionID       string          `db:"submission_id" json:"submission_id"`
	JudgeName          string          `db:"judge_name" json:"judge_name"`
	Round              int             `db:"round" json:"round"`
	Innovation         float64         `db:"innovation" json:"innovation"`
	TechnicalExecution float64         `db:"technical_execution" json:"technical_execution"`
	MarketPotential    float64         `db:"market_potential" json:"market_potential"`
	UserExperience     float64         `db:"user_experience" json:"user_experience"`
	WeightedTotal      float64         `db:"weighted_total" json:"weighted_total"`
	Notes              json.RawMessage `db:"notes" json:"notes,omitempty"`
	CommunityBonus     *float64        `db:"community_bonus" json:"community_bonus,omitempty"`
	FinalVerdict       *string         `db:"final_verdict" json:"final_verdict,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// Vote is an on-chain contribution tagged to a submission via memo.
type Vote struct {
	ID            int64     `db:"id" json:"id"`
	TxSignature   string    `db:"tx_signature" json:"tx_signature"`
	SubmissionID  string    `db:"submission_id" json:"submission_id"`
	SenderAddress string    `db:"sender_address" json:"sender_address"`
	Amount        float64   `db:"amount" json:"amount"`
	Timestamp     time.Time `db:"ts" json:"timestamp"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Contribution sources.
const (
	SourceVoteOverflow   = "vote_overflow"
	SourceDirectDonation = "direct_donation"
	SourceRealBalance    = "real_balance"
)

// PrizePoolContribution is a token flow into the prize wallet.
type PrizePoolContribution struct {
	ID                int64     `db:"id" json:"id"`
	TxSignature       string    `db:"tx_signature" json:"tx_signature"`
	TokenMint         string    `db:"token_mint" json:"token_mint"`
	TokenSymbol       string    `db:"token_symbol" json:"token_symbol"`
	Amount            float64   `db:"amount" json:"amount"`
	ContributorWallet string    `db:"contributor_wallet" json:"contributor_wallet"`
	Source            string    `db:"source" json:"source"`
	Timestamp         time.Time `db:"ts" json:"timestamp"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// TokenMetadata caches on-chain asset descriptors by mint.
type TokenMetadata struct {
	Mint        string    `db:"mint" json:"mint"`
	Symbol      string    `db:"symbol" json:"symbol"`
	Name        string    `db:"name" json:"name"`
	Decimals    int       `db:"decimals" json:"decimals"`
	LogoURI     string    `db:"logo_uri" json:"logo_uri,omitempty"`
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
}

// User is a Discord identity observed through OAuth login.
type User struct {
	DiscordID string          `db:"discord_id" json:"discord_id"`
	Username  string          `db:"username" json:"username"`
	Avatar    string          `db:"avatar" json:"avatar,omitempty"`
	Roles     json.RawMessage `db:"roles" json:"roles,omitempty"`
	LastLogin time.Time       `db:"last_login" json:"last_login"`
}

// CommunityReaction is legacy emoji feedback, kept for display
// compatibility with pre-voting episodes.
type CommunityReaction struct {
	ID           int64     `db:"id" json:"id"`
	SubmissionID string    `db:"submission_id" json:"submission_id"`
	DiscordID    string    `db:"discord_id" json:"discord_id"`
	Reaction     string    `db:"reaction" json:"reaction"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Like/dislike reaction types.
const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

// LikeDislike is a Discord-authenticated binary reaction, unique per
// (user, submission).
type LikeDislike struct {
	ID           int64     `db:"id" json:"id"`
	SubmissionID string    `db:"submission_id" json:"submission_id"`
	DiscordID    string    `db:"discord_id" json:"discord_id"`
	VoteType     string    `db:"vote_type" json:"vote_type"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AuditEntry is one append-only audit event.
type AuditEntry struct {
	ID         int64           `db:"id" json:"id"`
	Timestamp  time.Time       `db:"ts" json:"timestamp"`
	Action     string          `db:"action" json:"action"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	UserID     *string         `db:"user_id" json:"user_id,omitempty"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
}
