package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/config"
	"github.com/M3-org/clanktank-sub000/internal/curator"
	"github.com/M3-org/clanktank-sub000/internal/github"
	"github.com/M3-org/clanktank-sub000/internal/judge"
	"github.com/M3-org/clanktank-sub000/internal/llm"
	"github.com/M3-org/clanktank-sub000/internal/pipeline"
	"github.com/M3-org/clanktank-sub000/internal/research"
	"github.com/M3-org/clanktank-sub000/internal/schema"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/synth"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// app bundles what every command needs: config, the schema registry,
// the store, and the provider guard registry. Engines are built on
// demand so read-only commands never touch LLM config.
type app struct {
	cfg     *config.Config
	schemas *schema.Registry
	store   *store.Store
	guards  *upstream.Registry
}

// openApp loads configuration and connects the store. The --db-url
// flag wins over DATABASE_URL; SCHEMA_MANIFEST points at an external
// schema manifest when the built-in one is not enough.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dsn, _ := cmd.Flags().GetString("db-url"); dsn != "" {
		cfg.DatabaseURL = dsn
	}

	schemas, err := schema.LoadRegistryOrDefault(os.Getenv("SCHEMA_MANIFEST"))
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.DefaultConfig(cfg.DatabaseURL), schemas)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		schemas: schemas,
		store:   st,
		guards:  upstream.DefaultRegistry(),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}

func (a *app) llmClient() *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:  a.cfg.LLMAPIKey,
		BaseURL: a.cfg.LLMBaseURL,
		Model:   a.cfg.LLMModel,
		Timeout: a.cfg.LLMTimeout,
	}, a.guards)
}

// pipelineRunner wires the three stage engines behind the driver.
func (a *app) pipelineRunner(judgeCfg judge.Config) *pipeline.Runner {
	client := a.llmClient()
	gh := github.NewClient(a.cfg.GitHubToken, a.guards)
	cache := research.NewFileCache(a.cfg.ResearchCacheDir, a.cfg.ResearchCacheTTL)
	orch := research.NewOrchestrator(a.store, client, gh, curator.New(client), cache)
	eng := judge.NewEngine(a.store, client, judgeCfg)
	syn := synth.New(a.store, client, 0)
	return pipeline.NewRunner(a.store, orch, eng, syn)
}

// holders loads the token holder snapshot when one is configured.
// A missing or unreadable file disables display-name weighting rather
// than failing the command.
func (a *app) holders() *votes.Holders {
	h, err := votes.LoadHolders(a.cfg.HoldersFile)
	if err != nil {
		log.Warn().Err(err).Str("file", a.cfg.HoldersFile).Msg("holders file unreadable, display weighting disabled")
		return nil
	}
	return h
}

func (a *app) scoreConfig() votes.ScoreConfig {
	sc := votes.DefaultScoreConfig()
	if a.cfg.VoteMultiplier > 0 {
		sc.SenderMultiplier = a.cfg.VoteMultiplier
	}
	return sc
}

// resolveVersion reads --version and falls back to the latest schema
// version. Unknown versions are rejected with the known list.
func resolveVersion(cmd *cobra.Command, schemas *schema.Registry) (string, error) {
	version, _ := cmd.Flags().GetString("version")
	if version == "" {
		return schemas.Latest(), nil
	}
	if _, err := schemas.Schema(version); err != nil {
		return "", fmt.Errorf("unknown version %q (known: %s)", version, strings.Join(schemas.Versions(), ", "))
	}
	return version, nil
}

// stageOpts reads the shared selection flags. Exactly one of
// --submission-id and --all must be given so a bare invocation never
// silently processes the whole cohort.
func stageOpts(cmd *cobra.Command) (pipeline.Opts, error) {
	id, _ := cmd.Flags().GetString("submission-id")
	all, _ := cmd.Flags().GetBool("all")
	force, _ := cmd.Flags().GetBool("force")
	if id != "" && all {
		return pipeline.Opts{}, fmt.Errorf("--submission-id and --all are mutually exclusive")
	}
	if id == "" && !all {
		return pipeline.Opts{}, fmt.Errorf("pass --submission-id <id> or --all")
	}
	return pipeline.Opts{ID: id, Force: force}, nil
}

// judgeConfig reads the scoring knobs off a command. Commands without
// the flags get the defaults.
func judgeConfig(cmd *cobra.Command) judge.Config {
	cfg := judge.DefaultConfig()
	cfg.Renormalize, _ = cmd.Flags().GetBool("renormalize")
	return cfg
}
