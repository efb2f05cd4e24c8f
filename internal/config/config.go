// Package config loads the service configuration from environment
// variables. A local .env file is honored when present so development
// setups match deployment without extra flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment labels. Anything other than production unlocks the test
// auth token and the test webhook endpoint.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	// Store
	DatabaseURL string
	DBTimeout   time.Duration

	// HTTP surface
	HTTPHost   string
	HTTPPort   int
	UploadsDir string
	BackupsDir string

	// Discord OAuth
	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURI  string
	DiscordBotToken     string
	DiscordGuildID      string

	// LLM completion endpoint (OpenAI-compatible)
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	// Repo platform (GitHub)
	GitHubToken string

	// Research cache
	ResearchCacheDir string
	ResearchCacheTTL time.Duration

	// Community voting
	VoteMinimum    float64
	VoteMultiplier float64
	VoteCap        float64
	HoldersFile    string

	// Prize pool
	PrizeWallet       string
	PrizeTargetSOL    float64
	GovernanceMint    string
	ReserveStableMint string
	HeliusAPIKey      string
	HeliusAPIBase     string
	HeliusWSURL       string

	// Submission window
	SubmissionDeadline time.Time

	// Webhook
	WebhookSecret string

	// Test hooks; only honored outside production.
	TestAuthToken string
	Environment   string

	// Rate limiting toggle for the API surface.
	RateLimitEnabled bool

	// Optional redis hot cache.
	RedisAddr string
}

// Load reads the environment (and an optional .env file) into a Config.
// Missing optional values fall back to defaults; malformed values are
// reported rather than silently zeroed.
func Load() (*Config, error) {
	// Missing .env is the normal case in deployment.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         envOr("DATABASE_URL", "postgres://localhost/clanktank?sslmode=disable"),
		DBTimeout:           10 * time.Second,
		HTTPHost:            envOr("HTTP_HOST", "0.0.0.0"),
		UploadsDir:          envOr("UPLOADS_DIR", "data/uploads"),
		BackupsDir:          envOr("BACKUPS_DIR", "data/backups"),
		DiscordClientID:     os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
		DiscordRedirectURI:  os.Getenv("DISCORD_REDIRECT_URI"),
		DiscordBotToken:     os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordGuildID:      os.Getenv("DISCORD_GUILD_ID"),
		LLMAPIKey:           os.Getenv("OPENROUTER_API_KEY"),
		LLMBaseURL:          envOr("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:            envOr("LLM_MODEL", "anthropic/claude-3.5-sonnet"),
		LLMTimeout:          30 * time.Second,
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		ResearchCacheDir:    envOr("RESEARCH_CACHE_DIR", "data/research-cache"),
		HoldersFile:         os.Getenv("HOLDERS_FILE"),
		PrizeWallet:         os.Getenv("PRIZE_WALLET_ADDRESS"),
		GovernanceMint:      os.Getenv("GOVERNANCE_TOKEN_MINT"),
		ReserveStableMint:   os.Getenv("RESERVE_STABLE_MINT"),
		HeliusAPIKey:        os.Getenv("HELIUS_API_KEY"),
		HeliusAPIBase:       envOr("HELIUS_API_BASE", "https://api.helius.xyz"),
		HeliusWSURL:         envOr("HELIUS_WS_URL", "wss://mainnet.helius-rpc.com"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		TestAuthToken:       os.Getenv("TEST_AUTH_TOKEN"),
		Environment:         envOr("ENVIRONMENT", EnvDevelopment),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.HTTPPort, err = envInt("HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.VoteMinimum, err = envFloat("VOTE_MINIMUM", 1); err != nil {
		return nil, err
	}
	if cfg.VoteMultiplier, err = envFloat("VOTE_MULTIPLIER", 3); err != nil {
		return nil, err
	}
	if cfg.VoteCap, err = envFloat("VOTE_CAP", 100); err != nil {
		return nil, err
	}
	if cfg.PrizeTargetSOL, err = envFloat("PRIZE_TARGET_SOL", 100); err != nil {
		return nil, err
	}

	ttlHours, err := envInt("RESEARCH_CACHE_TTL_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.ResearchCacheTTL = time.Duration(ttlHours) * time.Hour

	if raw := os.Getenv("SUBMISSION_DEADLINE"); raw != "" {
		deadline, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SUBMISSION_DEADLINE %q: %w", raw, err)
		}
		cfg.SubmissionDeadline = deadline
	}

	cfg.RateLimitEnabled = envOr("RATE_LIMIT_ENABLED", "true") != "false"

	return cfg, nil
}

// IsProduction reports whether the environment label is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// SubmissionsOpen reports whether the submission window is still open at t.
// A zero deadline means no window is configured and submissions stay open.
func (c *Config) SubmissionsOpen(t time.Time) bool {
	if c.SubmissionDeadline.IsZero() {
		return true
	}
	return t.Before(c.SubmissionDeadline)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
