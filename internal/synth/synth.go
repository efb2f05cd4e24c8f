// Package synth runs the comparative round-2 pass over the scored
// cohort: each judge revisits their round-1 verdict with cohort
// statistics and community engagement in view, and may revise their
// score within the revision rules.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/judge"
	"github.com/M3-org/clanktank-sub000/internal/llm"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

// Synthesizer drives the round-2 synthesis.
type Synthesizer struct {
	store *store.Store
	llm   *llm.Client
	delay time.Duration
}

func New(st *store.Store, client *llm.Client, interCallDelay time.Duration) *Synthesizer {
	if interCallDelay <= 0 {
		interCallDelay = 2 * time.Second
	}
	return &Synthesizer{store: st, llm: client, delay: interCallDelay}
}

// Revision is a judge's requested score change.
type Revision struct {
	Type       string   `json:"type"`
	NewScore   *float64 `json:"new_score,omitempty"`
	Adjustment *float64 `json:"adjustment,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Round2Response is the JSON shape each judge must return.
type Round2Response struct {
	FinalVerdict       string   `json:"final_verdict"`
	ScoreRevision      Revision `json:"score_revision"`
	Reasoning          string   `json:"reasoning,omitempty"`
	CommunityInfluence string   `json:"community_influence,omitempty"`
	Confidence         string   `json:"confidence,omitempty"`
}

// ApplyRevision resolves a round-1 score against a revision request.
// Adjustments clamp into [0,40]; explicit scores outside [0,40] are
// ignored and the round-1 score stands.
func ApplyRevision(round1 float64, rev Revision) (float64, string) {
	switch rev.Type {
	case "adjustment":
		if rev.Adjustment == nil {
			return round1, "adjustment missing delta, kept round-1 score"
		}
		revised := round1 + *rev.Adjustment
		if revised < 0 {
			revised = 0
		}
		if revised > judge.MaxWeightedTotal {
			revised = judge.MaxWeightedTotal
		}
		return revised, fmt.Sprintf("adjusted by %+.1f", *rev.Adjustment)
	case "explicit":
		if rev.NewScore == nil || *rev.NewScore < 0 || *rev.NewScore > judge.MaxWeightedTotal {
			return round1, "explicit score out of range, kept round-1 score"
		}
		return *rev.NewScore, fmt.Sprintf("replaced with %.1f", *rev.NewScore)
	case "none", "":
		return round1, "kept round-1 score"
	default:
		return round1, fmt.Sprintf("unknown revision type %q, kept round-1 score", rev.Type)
	}
}

var communityInfluences = map[string]bool{
	"none": true, "minimal": true, "moderate": true, "significant": true, "unknown": true,
}

var confidences = map[string]bool{
	"low": true, "medium": true, "high": true,
}

func normalizeResponse(r *Round2Response) {
	if !communityInfluences[r.CommunityInfluence] {
		r.CommunityInfluence = "unknown"
	}
	if !confidences[r.Confidence] {
		r.Confidence = "low"
	}
}

// engagement is one submission's community context.
type engagement struct {
	TotalReactions int    `json:"total_reactions"`
	UniqueVoters   int    `json:"unique_voters"`
	Tier           string `json:"tier"`
}

func (e engagement) value() float64 {
	return float64(e.TotalReactions + e.UniqueVoters)
}

// entry is one cohort member with everything round 2 needs.
type entry struct {
	sub        *store.Submission
	scores     []store.Score
	total      float64
	variance   float64
	engagement engagement
	rank       int
	percentile float64
	gapToAbove float64
}

// Run synthesizes the whole scored cohort for one schema version.
// Failures are isolated per submission.
func (s *Synthesizer) Run(ctx context.Context, version string) (done, failed int, err error) {
	if !s.llm.IsEnabled() {
		return 0, 0, fmt.Errorf("synthesis requires an LLM API key")
	}

	cohort, stats, err := s.loadCohort(ctx, version)
	if err != nil {
		return 0, 0, err
	}
	if len(cohort) == 0 {
		log.Info().Str("version", version).Msg("no scored submissions to synthesize")
		return 0, 0, nil
	}

	for _, e := range cohort {
		if err := s.synthesizeOne(ctx, version, e, cohort, stats); err != nil {
			log.Error().Err(err).Str("submission_id", e.sub.ID).Msg("synthesis failed")
			failed++
			continue
		}
		done++
	}
	return done, failed, nil
}

// loadCohort assembles ranked entries for every scored submission.
func (s *Synthesizer) loadCohort(ctx context.Context, version string) ([]*entry, CohortStats, error) {
	subs, err := s.store.ListSubmissions(ctx, version, store.StatusScored)
	if err != nil {
		return nil, CohortStats{}, err
	}

	byID, err := s.store.LatestScoresByRound(ctx, 1)
	if err != nil {
		return nil, CohortStats{}, err
	}

	var cohort []*entry
	for _, sub := range subs {
		scores := byID[sub.ID]
		if len(scores) == 0 {
			log.Warn().Str("submission_id", sub.ID).Msg("scored submission has no round-1 rows, skipping")
			continue
		}

		e := &entry{sub: sub, scores: scores}
		var judgeTotals []float64
		for _, sc := range scores {
			e.total += sc.WeightedTotal
			judgeTotals = append(judgeTotals, sc.WeightedTotal)
		}
		e.variance = variance(judgeTotals)

		e.engagement, err = s.loadEngagement(ctx, sub.ID)
		if err != nil {
			return nil, CohortStats{}, err
		}
		cohort = append(cohort, e)
	}

	totals := make([]float64, len(cohort))
	values := make([]float64, len(cohort))
	for i, e := range cohort {
		totals[i] = e.total
		values[i] = e.engagement.value()
	}
	stats := computeStats(totals)

	for i, tier := range engagementTiers(values) {
		cohort[i].engagement.Tier = tier
	}

	ranked := make([]*entry, len(cohort))
	copy(ranked, cohort)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].total > ranked[j].total })
	for i, e := range ranked {
		e.rank = i + 1
		e.percentile = 100 * float64(len(ranked)-e.rank) / float64(len(ranked))
		if i > 0 {
			e.gapToAbove = ranked[i-1].total - e.total
		}
	}

	return cohort, stats, nil
}

func (s *Synthesizer) loadEngagement(ctx context.Context, submissionID string) (engagement, error) {
	var e engagement

	reactions, err := s.store.ReactionCounts(ctx, submissionID)
	if err != nil {
		return e, err
	}
	for _, n := range reactions {
		e.TotalReactions += n
	}

	votes, err := s.store.ListVotes(ctx, submissionID)
	if err != nil {
		return e, err
	}
	senders := make(map[string]bool)
	for _, v := range votes {
		senders[v.SenderAddress] = true
	}
	e.UniqueVoters = len(senders)
	return e, nil
}

// round2Notes is serialized into the round-2 score row.
type round2Notes struct {
	Round1Total        float64    `json:"round1_weighted_total"`
	Revision           Revision   `json:"revision"`
	Disposition        string     `json:"disposition"`
	Reasoning          string     `json:"reasoning,omitempty"`
	CommunityInfluence string     `json:"community_influence"`
	Confidence         string     `json:"confidence"`
	Engagement         engagement `json:"engagement"`
	Rank               int        `json:"rank"`
	Percentile         float64    `json:"percentile"`
	Warnings           []string   `json:"warnings,omitempty"`
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, version string, e *entry, cohort []*entry, stats CohortStats) error {
	comparative := s.comparativeText(e, cohort, stats)

	for i, sc := range e.scores {
		j, ok := judge.ByName(sc.JudgeName)
		if !ok {
			log.Warn().Str("judge", sc.JudgeName).Msg("round-1 row from unknown judge, skipping")
			continue
		}
		if i > 0 {
			if err := sleepCtx(ctx, s.delay); err != nil {
				return err
			}
		}

		raw, err := s.llm.Complete(ctx, llm.Request{
			System:      j.Persona,
			Prompt:      round2Prompt(j, e, sc, comparative),
			MaxTokens:   1200,
			Temperature: 0.4,
		})
		if err != nil {
			return fmt.Errorf("round-2 call failed for %s/%s: %w", e.sub.ID, j.Name, err)
		}

		resp, warnings := parseRound2(raw)
		final, disposition := ApplyRevision(sc.WeightedTotal, resp.ScoreRevision)

		n := round2Notes{
			Round1Total:        sc.WeightedTotal,
			Revision:           resp.ScoreRevision,
			Disposition:        disposition,
			Reasoning:          resp.Reasoning,
			CommunityInfluence: resp.CommunityInfluence,
			Confidence:         resp.Confidence,
			Engagement:         e.engagement,
			Rank:               e.rank,
			Percentile:         e.percentile,
			Warnings:           warnings,
		}
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to encode round-2 notes: %w", err)
		}

		verdict := resp.FinalVerdict
		if err := s.store.InsertScore(ctx, &store.Score{
			SubmissionID:       e.sub.ID,
			JudgeName:          j.Name,
			Round:              2,
			Innovation:         sc.Innovation,
			TechnicalExecution: sc.TechnicalExecution,
			MarketPotential:    sc.MarketPotential,
			UserExperience:     sc.UserExperience,
			WeightedTotal:      final,
			Notes:              payload,
			FinalVerdict:       &verdict,
		}); err != nil {
			return err
		}

		log.Info().
			Str("submission_id", e.sub.ID).
			Str("judge", j.Name).
			Float64("round1", sc.WeightedTotal).
			Float64("final", final).
			Str("disposition", disposition).
			Msg("round-2 score recorded")
	}

	if e.sub.Status == store.StatusScored {
		if err := s.store.UpdateStatus(ctx, version, e.sub.ID, store.StatusScored, store.StatusCompleted); err != nil {
			return err
		}
	}
	s.store.Audit(ctx, "synthesis_completed", e.sub.ID, "", map[string]interface{}{
		"rank":       e.rank,
		"engagement": e.engagement.Tier,
	})
	return nil
}

// comparativeText positions one submission against the cohort.
func (s *Synthesizer) comparativeText(e *entry, cohort []*entry, stats CohortStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cohort of %d: mean total %.1f, median %.1f, std dev %.1f.\n",
		stats.Size, stats.Mean, stats.Median, stats.StdDev)
	fmt.Fprintf(&b, "This project ranks #%d (%.0fth percentile) with a combined total of %.1f.\n",
		e.rank, e.percentile, e.total)
	if e.rank > 1 {
		fmt.Fprintf(&b, "It trails the next-ranked project by %.1f points.\n", e.gapToAbove)
	} else {
		b.WriteString("It currently leads the cohort.\n")
	}
	fmt.Fprintf(&b, "Judge disagreement (variance across judges): %.1f.\n", e.variance)

	own := reasonText(e.scores)
	var others []string
	for _, other := range cohort {
		if other.sub.ID != e.sub.ID {
			others = append(others, reasonText(other.scores))
		}
	}
	if themes := sharedThemes(own, others); len(themes) > 0 {
		fmt.Fprintf(&b, "Themes this cohort's judges raised here and elsewhere: %s.\n", strings.Join(themes, ", "))
	}
	return b.String()
}

// reasonText flattens a submission's round-1 reasoning for mining.
func reasonText(scores []store.Score) string {
	var b strings.Builder
	for _, sc := range scores {
		var n struct {
			Axes map[string]struct {
				Reason string `json:"reason"`
			} `json:"axes"`
			OverallComment string `json:"overall_comment"`
		}
		if err := json.Unmarshal(sc.Notes, &n); err != nil {
			continue
		}
		for _, a := range n.Axes {
			b.WriteString(a.Reason)
			b.WriteString(" ")
		}
		b.WriteString(n.OverallComment)
		b.WriteString(" ")
	}
	return b.String()
}

func round2Prompt(j judge.Judge, e *entry, sc store.Score, comparative string) string {
	var b strings.Builder

	b.WriteString("You scored this project in round 1. Now revisit your verdict with the full cohort in view.\n\n")

	b.WriteString("## Project\n")
	fmt.Fprintf(&b, "id: %s\n", e.sub.ID)
	for _, name := range []string{"project_name", "category", "description"} {
		if v := e.sub.Field(name); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}

	fmt.Fprintf(&b, "\n## Your round-1 result\nweighted score: %.1f of 40\n", sc.WeightedTotal)
	var n struct {
		OverallComment string `json:"overall_comment"`
	}
	if err := json.Unmarshal(sc.Notes, &n); err == nil && n.OverallComment != "" {
		fmt.Fprintf(&b, "your comment: %s\n", n.OverallComment)
	}

	b.WriteString("\n## Community engagement\n")
	fmt.Fprintf(&b, "reactions: %d, unique on-chain voters: %d, engagement tier: %s\n",
		e.engagement.TotalReactions, e.engagement.UniqueVoters, e.engagement.Tier)
	b.WriteString("Treat engagement as context for your reasoning, not as a score bonus.\n")

	b.WriteString("\n## Cohort position\n")
	b.WriteString(comparative)

	b.WriteString("\n## Task\n")
	b.WriteString(`Respond with a single JSON object:
{
  "final_verdict": "<2-3 sentences in your voice>",
  "score_revision": {"type": "none|adjustment|explicit", "adjustment": <delta>, "new_score": <0-40>, "reason": "<why>"},
  "reasoning": "<your comparative reasoning>",
  "community_influence": "none|minimal|moderate|significant|unknown",
  "confidence": "low|medium|high"
}`)
	return b.String()
}

// parseRound2 reads the judge's JSON; unparseable output keeps the
// round-1 score and preserves the raw text as the verdict.
func parseRound2(raw string) (Round2Response, []string) {
	payload := llm.ExtractJSON(raw)
	if payload == nil {
		return fallbackResponse(raw), []string{"response had no JSON object, kept round-1 score"}
	}
	var resp Round2Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fallbackResponse(raw), []string{"response JSON malformed, kept round-1 score"}
	}
	normalizeResponse(&resp)
	var warnings []string
	if resp.FinalVerdict == "" {
		resp.FinalVerdict = clip(strings.TrimSpace(raw), 500)
		warnings = append(warnings, "final_verdict missing, raw response preserved")
	}
	return resp, warnings
}

func fallbackResponse(raw string) Round2Response {
	return Round2Response{
		FinalVerdict:       clip(strings.TrimSpace(raw), 500),
		ScoreRevision:      Revision{Type: "none"},
		CommunityInfluence: "unknown",
		Confidence:         "low",
	}
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
