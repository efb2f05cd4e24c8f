package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/llm"
	"github.com/M3-org/clanktank-sub000/internal/research"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

// Config controls one engine instance.
type Config struct {
	// InterCallDelay spaces consecutive LLM calls.
	InterCallDelay time.Duration

	// Renormalize scales each judge's axis scores to a mean of 6
	// before weighting. The raw scores are kept in the notes.
	Renormalize bool
}

// DefaultConfig spaces calls at two seconds and leaves scores raw.
func DefaultConfig() Config {
	return Config{InterCallDelay: 2 * time.Second}
}

// Engine runs the round-1 judging pass.
type Engine struct {
	store *store.Store
	llm   *llm.Client
	cfg   Config
}

func NewEngine(st *store.Store, client *llm.Client, cfg Config) *Engine {
	if cfg.InterCallDelay <= 0 {
		cfg.InterCallDelay = DefaultConfig().InterCallDelay
	}
	return &Engine{store: st, llm: client, cfg: cfg}
}

// notes is the structured payload serialized into a score row.
type notes struct {
	Axes             map[string]AxisResult `json:"axes"`
	OverallComment   string                `json:"overall_comment,omitempty"`
	Warnings         []string              `json:"warnings,omitempty"`
	PreNormalization map[string]float64    `json:"pre_normalization,omitempty"`
}

// Run scores one researched submission with the full panel.
func (e *Engine) Run(ctx context.Context, version, id string) error {
	if !e.llm.IsEnabled() {
		return apperr.Validationf("scoring requires an LLM API key")
	}

	sub, err := e.store.GetSubmission(ctx, version, id)
	if err != nil {
		return err
	}
	if store.StatusRank(sub.Status) < store.StatusRank(store.StatusResearched) {
		return apperr.Validationf("submission %s is %s, research it first", sub.ID, sub.Status)
	}

	rec, err := e.store.GetResearch(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("no research on file for %s: %w", sub.ID, err)
	}
	summary := researchSummary(rec)
	redFlags := redFlagLines(rec)

	for i, j := range Panel {
		if i > 0 {
			if err := sleepCtx(ctx, e.cfg.InterCallDelay); err != nil {
				return err
			}
		}

		raw, err := e.llm.Complete(ctx, llm.Request{
			System:      j.Persona,
			Prompt:      judgePrompt(j, sub, summary, redFlags),
			MaxTokens:   1500,
			Temperature: 0.4,
		})
		if err != nil {
			return fmt.Errorf("judge %s failed on %s: %w", j.Name, sub.ID, err)
		}

		eval := ParseEvaluation(raw)
		if len(eval.Warnings) > 0 {
			log.Warn().
				Str("submission_id", sub.ID).
				Str("judge", j.Name).
				Strs("warnings", eval.Warnings).
				Msg("judge response partially unparseable")
		}

		score, err := e.buildScore(sub.ID, j, eval)
		if err != nil {
			return err
		}
		if err := e.store.InsertScore(ctx, score); err != nil {
			return err
		}

		log.Info().
			Str("submission_id", sub.ID).
			Str("judge", j.Name).
			Float64("weighted_total", score.WeightedTotal).
			Msg("round-1 score recorded")
	}

	if sub.Status == store.StatusResearched {
		if err := e.store.UpdateStatus(ctx, version, sub.ID, store.StatusResearched, store.StatusScored); err != nil {
			return err
		}
	}
	e.store.Audit(ctx, "scoring_completed", sub.ID, "", map[string]interface{}{
		"judges": len(Panel),
		"round":  1,
	})
	return nil
}

// buildScore converts a parsed evaluation into a round-1 score row,
// applying optional renormalization before weighting.
func (e *Engine) buildScore(submissionID string, j Judge, eval Evaluation) (*store.Score, error) {
	n := notes{
		Axes:           eval.Axes,
		OverallComment: eval.Overall,
		Warnings:       eval.Warnings,
	}

	axes := eval.Axes
	if e.cfg.Renormalize {
		normalized, pre := renormalize(eval.Axes)
		if pre != nil {
			axes = normalized
			n.Axes = normalized
			n.PreNormalization = pre
		}
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode judge notes: %w", err)
	}

	return &store.Score{
		SubmissionID:       submissionID,
		JudgeName:          j.Name,
		Round:              1,
		Innovation:         axes[AxisInnovation].Score,
		TechnicalExecution: axes[AxisTechnicalExecution].Score,
		MarketPotential:    axes[AxisMarketPotential].Score,
		UserExperience:     axes[AxisUserExperience].Score,
		WeightedTotal:      WeightedTotal(j, axes),
		Notes:              payload,
	}, nil
}

// renormalize scales axis scores to a mean of 6, clamped back into
// [0,10]. A zero mean leaves the scores untouched.
func renormalize(axes map[string]AxisResult) (map[string]AxisResult, map[string]float64) {
	var sum float64
	for _, axis := range Axes {
		sum += axes[axis].Score
	}
	mean := sum / float64(len(Axes))
	if mean == 0 {
		return nil, nil
	}

	factor := 6.0 / mean
	normalized := make(map[string]AxisResult, len(axes))
	pre := make(map[string]float64, len(axes))
	for _, axis := range Axes {
		r := axes[axis]
		pre[axis] = r.Score
		r.Score = clampScore(r.Score * factor)
		normalized[axis] = r
	}
	return normalized, pre
}

func judgePrompt(j Judge, sub *store.Submission, summary, redFlags string) string {
	var b strings.Builder

	b.WriteString(scaleAnchors)
	b.WriteString("\n\n## Project\n")
	fmt.Fprintf(&b, "id: %s\n", sub.ID)
	for _, name := range []string{"project_name", "category", "description", "problem_solved", "favorite_part", "github_url", "demo_video_url"} {
		if v := sub.Field(name); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}

	if redFlags != "" {
		b.WriteString("\n## Automated red flags\n")
		b.WriteString(redFlags)
	}
	if summary != "" {
		b.WriteString("\n## Research findings\n")
		b.WriteString(summary)
	}

	b.WriteString("\n## Task\n")
	b.WriteString("Respond using exactly this template, one field per line:\n")
	for _, axis := range Axes {
		fmt.Fprintf(&b, "%s: <0-10>\n%s: <your reasoning>\n", scoreLabel(axis), reasonLabel(axis))
	}
	b.WriteString("OVERALL_COMMENT: <your verdict in persona voice>\n\n")
	b.WriteString("Every reason must cite at least one concrete weakness. ")
	b.WriteString("Do not award a score above 8 unless you cite a specific production-grade feature that earns it.")
	return b.String()
}

// researchSummary renders the stored research blobs for the prompt.
func researchSummary(rec *store.ResearchRecord) string {
	var parts []string
	if len(rec.TechnicalAssessment) > 0 {
		parts = append(parts, clip(string(rec.TechnicalAssessment), 8000))
	}
	if len(rec.MarketResearch) > 0 {
		parts = append(parts, clip(string(rec.MarketResearch), 4000))
	}
	return strings.Join(parts, "\n")
}

// redFlagLines pulls the analyzer's red flags back out of the stored
// repo context.
func redFlagLines(rec *store.ResearchRecord) string {
	if len(rec.GitHubAnalysis) == 0 {
		return ""
	}
	var repo research.RepoContext
	if err := json.Unmarshal(rec.GitHubAnalysis, &repo); err != nil {
		return ""
	}
	var b strings.Builder
	for _, f := range repo.RedFlags {
		fmt.Fprintf(&b, "- %s: %s\n", f.Kind, f.Detail)
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
