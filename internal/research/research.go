// Package research runs the two-stage AI research pass for a
// submission: repository analysis and curation, one structured LLM
// verdict, a 24-hour file cache, and the submitted to researched
// status flip.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/curator"
	"github.com/M3-org/clanktank-sub000/internal/github"
	"github.com/M3-org/clanktank-sub000/internal/llm"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

// sampleFileCount bounds the file list embedded in prompts and the
// persisted repo context. The full manifest never leaves the analyzer.
const sampleFileCount = 25

// Verdict holds the LLM's structured findings. Sections stay raw JSON
// because the model may emit strings or nested objects per section.
type Verdict struct {
	TechnicalImplementation json.RawMessage `json:"technical_implementation,omitempty"`
	OriginalityEffort       json.RawMessage `json:"originality_effort,omitempty"`
	MarketAnalysis          json.RawMessage `json:"market_analysis,omitempty"`
	Viability               json.RawMessage `json:"viability,omitempty"`
	Innovation              json.RawMessage `json:"innovation,omitempty"`
	JudgeSpecificInsights   json.RawMessage `json:"judge_specific_insights,omitempty"`
	RedFlags                json.RawMessage `json:"red_flags,omitempty"`

	// RawResponse carries the unparsed model output when the JSON
	// sections could not be extracted.
	RawResponse string `json:"raw_response,omitempty"`
}

func (v Verdict) parsed() bool {
	return v.TechnicalImplementation != nil || v.OriginalityEffort != nil ||
		v.MarketAnalysis != nil || v.Viability != nil || v.Innovation != nil ||
		v.JudgeSpecificInsights != nil || v.RedFlags != nil
}

// RepoContext is the reduced repository analysis: metadata, structure
// summary, and sample file lists.
type RepoContext struct {
	Facts       github.RepoFacts  `json:"facts"`
	FileCount   int               `json:"file_count"`
	TotalBytes  int               `json:"total_bytes"`
	TokenBudget int               `json:"token_budget"`
	Histogram   map[string]int    `json:"size_histogram"`
	SampleFiles []string          `json:"sample_files,omitempty"`
	RedFlags    []github.RedFlag  `json:"red_flags,omitempty"`
	Curation    *curator.Settings `json:"curation,omitempty"`
}

// Report is the full research artifact: cached on disk and split
// across the research table's JSONB columns.
type Report struct {
	SubmissionID string       `json:"submission_id"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Model        string       `json:"model"`
	Repo         *RepoContext `json:"repo,omitempty"`
	Verdict      Verdict      `json:"verdict"`
}

// Orchestrator wires the analyzer, curator, LLM, cache, and store.
type Orchestrator struct {
	store   *store.Store
	llm     *llm.Client
	github  *github.Client
	curator *curator.Curator
	cache   *FileCache
}

func NewOrchestrator(st *store.Store, llmClient *llm.Client, gh *github.Client, cur *curator.Curator, cache *FileCache) *Orchestrator {
	return &Orchestrator{store: st, llm: llmClient, github: gh, curator: cur, cache: cache}
}

// Run researches one submission. force bypasses the cache.
func (o *Orchestrator) Run(ctx context.Context, version, id string, force bool) (*Report, error) {
	sub, err := o.store.GetSubmission(ctx, version, id)
	if err != nil {
		return nil, err
	}

	if !force {
		if report, ok := o.cache.Get(sub.ID); ok {
			log.Info().Str("submission_id", sub.ID).Msg("research cache hit")
			if err := o.persist(ctx, version, sub, report, true); err != nil {
				return nil, err
			}
			return report, nil
		}
	}

	if !o.llm.IsEnabled() {
		return nil, apperr.Validationf("research requires an LLM API key")
	}

	repoCtx, snapshot, err := o.gatherRepo(ctx, sub)
	if err != nil {
		return nil, err
	}

	raw, err := o.llm.Complete(ctx, llm.Request{
		System:      researchSystem,
		Prompt:      buildPrompt(sub, repoCtx, snapshot),
		MaxTokens:   4000,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("research llm call failed: %w", err)
	}

	report := &Report{
		SubmissionID: sub.ID,
		GeneratedAt:  time.Now().UTC(),
		Model:        o.llm.Model(),
		Repo:         repoCtx,
		Verdict:      parseVerdict(raw),
	}
	if report.Verdict.RawResponse != "" {
		log.Warn().Str("submission_id", sub.ID).Msg("research response not parseable as JSON, raw output preserved")
	}

	if err := o.persist(ctx, version, sub, report, false); err != nil {
		return nil, err
	}
	if err := o.cache.Put(report); err != nil {
		log.Warn().Err(err).Str("submission_id", sub.ID).Msg("research cache write failed")
	}
	return report, nil
}

// gatherRepo runs analyzer, curator, and packager. A submission with
// no github_url researches on fields alone; a dead repository link
// degrades the same way instead of sinking the run.
func (o *Orchestrator) gatherRepo(ctx context.Context, sub *store.Submission) (*RepoContext, string, error) {
	repoURL := sub.Field("github_url")
	if repoURL == "" {
		return nil, "", nil
	}

	analysis, err := o.github.Analyze(ctx, repoURL)
	if err != nil {
		if apperr.IsNotFound(err) || apperr.IsValidation(err) {
			log.Warn().Err(err).Str("submission_id", sub.ID).Msg("repository unreachable, researching without repo context")
			return nil, "", nil
		}
		return nil, "", err
	}

	settings := o.curator.Curate(ctx, analysis)
	snapshot, err := curator.Package(ctx, o.github, repoURL, analysis, settings)
	if err != nil {
		return nil, "", err
	}

	return reduceAnalysis(analysis, settings), snapshot, nil
}

func reduceAnalysis(a *github.Analysis, settings *curator.Settings) *RepoContext {
	rc := &RepoContext{
		Facts:       a.Facts,
		FileCount:   a.FileCount,
		TotalBytes:  a.TotalBytes,
		TokenBudget: a.TokenBudget,
		Histogram:   a.Histogram,
		RedFlags:    a.RedFlags,
		Curation:    settings,
	}
	for _, f := range a.TopEntries(sampleFileCount) {
		rc.SampleFiles = append(rc.SampleFiles, fmt.Sprintf("%s (%d bytes, %s)", f.Path, f.Bytes, f.Relevance))
	}
	return rc
}

const researchSystem = `You are a rigorous hackathon due-diligence researcher. Analyze the submission and respond with a single JSON object containing exactly these sections: "technical_implementation", "originality_effort", "market_analysis", "viability", "innovation", "judge_specific_insights", "red_flags". Be specific and cite evidence from the provided repository content.`

func buildPrompt(sub *store.Submission, repo *RepoContext, snapshot string) string {
	var b strings.Builder

	b.WriteString("## Submission\n")
	fmt.Fprintf(&b, "id: %s\n", sub.ID)
	names := make([]string, 0, len(sub.Fields))
	for name := range sub.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := sub.Fields[name]; v != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}

	if repo == nil {
		b.WriteString("\n## Repository\nNo repository content available; assess from the submission fields alone and flag the missing repository.\n")
		return b.String()
	}

	b.WriteString("\n## Repository\n")
	fmt.Fprintf(&b, "%s: %s\n", repo.Facts.FullName, repo.Facts.Description)
	fmt.Fprintf(&b, "created %s, last push %s, %d stars, %d files, %d bytes\n",
		repo.Facts.CreatedAt.Format("2006-01-02"), repo.Facts.PushedAt.Format("2006-01-02"),
		repo.Facts.Stars, repo.FileCount, repo.TotalBytes)
	fmt.Fprintf(&b, "commits in last 72h: %d\n", repo.Facts.Commits72h)

	if len(repo.RedFlags) > 0 {
		b.WriteString("\n## Automated red flags\n")
		for _, f := range repo.RedFlags {
			fmt.Fprintf(&b, "- %s: %s\n", f.Kind, f.Detail)
		}
	}

	if len(repo.SampleFiles) > 0 {
		b.WriteString("\n## Notable files\n")
		for _, f := range repo.SampleFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if snapshot != "" {
		b.WriteString("\n## Repository content\n")
		b.WriteString(snapshot)
	}
	return b.String()
}

func parseVerdict(raw string) Verdict {
	payload := llm.ExtractJSON(raw)
	if payload == nil {
		return Verdict{RawResponse: raw}
	}
	var v Verdict
	if err := json.Unmarshal(payload, &v); err != nil || !v.parsed() {
		return Verdict{RawResponse: raw}
	}
	return v
}

// persist splits the report into the research table's JSONB columns,
// flips the submission forward, and records the audit event.
func (o *Orchestrator) persist(ctx context.Context, version string, sub *store.Submission, report *Report, cached bool) error {
	repoJSON, err := json.Marshal(report.Repo)
	if err != nil {
		return fmt.Errorf("failed to encode repo context: %w", err)
	}
	technical, err := json.Marshal(map[string]interface{}{
		"technical_implementation": report.Verdict.TechnicalImplementation,
		"originality_effort":       report.Verdict.OriginalityEffort,
		"innovation":               report.Verdict.Innovation,
		"judge_specific_insights":  report.Verdict.JudgeSpecificInsights,
		"red_flags":                report.Verdict.RedFlags,
		"raw_response":             report.Verdict.RawResponse,
		"model":                    report.Model,
		"generated_at":             report.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode technical assessment: %w", err)
	}
	market, err := json.Marshal(map[string]interface{}{
		"market_analysis": report.Verdict.MarketAnalysis,
		"viability":       report.Verdict.Viability,
	})
	if err != nil {
		return fmt.Errorf("failed to encode market research: %w", err)
	}

	if err := o.store.UpsertResearch(ctx, &store.ResearchRecord{
		SubmissionID:        sub.ID,
		GitHubAnalysis:      repoJSON,
		TechnicalAssessment: technical,
		MarketResearch:      market,
	}); err != nil {
		return err
	}

	if store.StatusRank(sub.Status) < store.StatusRank(store.StatusResearched) {
		if err := o.store.UpdateStatus(ctx, version, sub.ID, sub.Status, store.StatusResearched); err != nil {
			return err
		}
	}

	o.store.Audit(ctx, "research_completed", sub.ID, "", map[string]interface{}{
		"model":  report.Model,
		"cached": cached,
	})
	return nil
}
