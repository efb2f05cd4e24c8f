// Package pipeline drives submissions through the evaluation stages.
// Each stage drains one source status: research takes submitted
// submissions, scoring takes researched ones, synthesis takes the
// scored cohort as a whole. Batches run sequentially because LLM rate
// limits dominate, and one failing submission never aborts the rest.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/judge"
	"github.com/M3-org/clanktank-sub000/internal/research"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/synth"
)

// Stage names, in pipeline order.
const (
	StageResearch   = "research"
	StageScore      = "score"
	StageSynthesize = "synthesize"
)

// Stages returns the stage names in the order a full run executes them.
func Stages() []string {
	return []string{StageResearch, StageScore, StageSynthesize}
}

// sourceStatus maps a stage to the submission status it drains.
func sourceStatus(stage string) (string, bool) {
	switch stage {
	case StageResearch:
		return store.StatusSubmitted, true
	case StageScore:
		return store.StatusResearched, true
	case StageSynthesize:
		return store.StatusScored, true
	}
	return "", false
}

// Opts selects what a stage run covers.
type Opts struct {
	// ID targets one submission. Empty runs the whole eligible set.
	ID string

	// Force bypasses the research cache.
	Force bool
}

// Stats is the outcome of one stage run.
type Stats struct {
	Stage     string        `json:"stage"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Runner selects eligible submissions per stage and hands them to the
// stage engines one at a time.
type Runner struct {
	store    *store.Store
	research *research.Orchestrator
	judges   *judge.Engine
	synth    *synth.Synthesizer
}

func NewRunner(st *store.Store, orch *research.Orchestrator, eng *judge.Engine, syn *synth.Synthesizer) *Runner {
	return &Runner{store: st, research: orch, judges: eng, synth: syn}
}

// Run executes one named stage and reports its statistics. Unknown
// stage names are rejected before any work starts.
func (r *Runner) Run(ctx context.Context, stage, version string, o Opts) (Stats, error) {
	switch stage {
	case StageResearch:
		return r.runItems(ctx, stage, version, o, func(ctx context.Context, id string) error {
			_, err := r.research.Run(ctx, version, id, o.Force)
			return err
		})
	case StageScore:
		return r.runItems(ctx, stage, version, o, func(ctx context.Context, id string) error {
			return r.judges.Run(ctx, version, id)
		})
	case StageSynthesize:
		return r.runSynthesize(ctx, version, o)
	}
	return Stats{Stage: stage}, apperr.Validationf("unknown stage %q (stages: %s)", stage, strings.Join(Stages(), ", "))
}

// RunAll executes every stage in order for one schema version. A stage
// that fails outright (selection error, cancellation) stops the
// sequence; per-submission failures inside a stage do not.
func (r *Runner) RunAll(ctx context.Context, version string, o Opts) ([]Stats, error) {
	var all []Stats
	for _, stage := range Stages() {
		if stage == StageSynthesize && o.ID != "" {
			// A single-submission run covers research and scoring;
			// synthesis needs the whole cohort and runs separately.
			log.Info().Str("submission_id", o.ID).Msg("skipping synthesis for single-submission run")
			break
		}
		stats, err := r.Run(ctx, stage, version, o)
		all = append(all, stats)
		if err != nil {
			return all, fmt.Errorf("stage %s failed: %w", stage, err)
		}
	}
	return all, nil
}

// runItems selects the stage's candidates and drains them.
func (r *Runner) runItems(ctx context.Context, stage, version string, o Opts, op func(context.Context, string) error) (Stats, error) {
	start := time.Now()

	var ids []string
	if o.ID != "" {
		ids = []string{o.ID}
	} else {
		source, _ := sourceStatus(stage)
		subs, err := r.store.ListSubmissions(ctx, version, source)
		if err != nil {
			return Stats{Stage: stage, Duration: time.Since(start)},
				fmt.Errorf("failed to select %s candidates: %w", stage, err)
		}
		for _, sub := range subs {
			ids = append(ids, sub.ID)
		}
	}

	stats, err := drain(ctx, stage, ids, op)
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}
	logStats(version, stats)
	return stats, nil
}

// drain runs op over ids one at a time. A failing submission is
// counted and logged, never aborting the rest; only cancellation
// stops the loop early.
func drain(ctx context.Context, stage string, ids []string, op func(context.Context, string) error) (Stats, error) {
	stats := Stats{Stage: stage}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Processed++
		if err := op(ctx, id); err != nil {
			stats.Failed++
			log.Error().Err(err).
				Str("stage", stage).
				Str("submission_id", id).
				Msg("stage failed for submission")
			continue
		}
		stats.Succeeded++
	}
	return stats, nil
}

// runSynthesize delegates to the synthesizer, which needs the whole
// cohort to rank and compare. Scored submissions it leaves untouched
// (no round-1 rows on file) count as skipped.
func (r *Runner) runSynthesize(ctx context.Context, version string, o Opts) (Stats, error) {
	start := time.Now()
	stats := Stats{Stage: StageSynthesize}

	if o.ID != "" {
		return stats, apperr.Validationf("synthesis is comparative and always runs on the full cohort")
	}

	eligible, err := r.store.ListSubmissions(ctx, version, store.StatusScored)
	if err != nil {
		stats.Duration = time.Since(start)
		return stats, fmt.Errorf("failed to select synthesis candidates: %w", err)
	}

	done, failed, err := r.synth.Run(ctx, version)
	stats.Processed = done + failed
	stats.Succeeded = done
	stats.Failed = failed
	if n := len(eligible) - stats.Processed; n > 0 {
		stats.Skipped = n
	}
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}

	logStats(version, stats)
	return stats, nil
}

func logStats(version string, stats Stats) {
	log.Info().
		Str("stage", stats.Stage).
		Str("version", version).
		Int("processed", stats.Processed).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("stage complete")
}
