// Package leaderboard assembles the public ranking from judge scores
// and community votes. The API, the episode export, and the CLI all
// render the same entries.
package leaderboard

import (
	"context"
	"sort"

	"github.com/M3-org/clanktank-sub000/internal/judge"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// Statuses eligible for public ranking. Earlier stages stay hidden.
var publicStatuses = []string{store.StatusScored, store.StatusCompleted, store.StatusPublished}

// Entry is one ranked submission.
type Entry struct {
	Rank         int    `json:"rank"`
	SubmissionID string `json:"submission_id"`
	ProjectName  string `json:"project_name"`
	Category     string `json:"category"`
	Status       string `json:"status"`

	// JudgeCount is how many judges contributed; WeightedSum is the sum
	// of their totals, AverageScore rescales it to 0-10.
	JudgeCount   int     `json:"judge_count"`
	WeightedSum  float64 `json:"weighted_sum"`
	AverageScore float64 `json:"average_score"`

	// Round is the highest scoring round reflected in the totals.
	Round int `json:"round"`

	CommunityScore float64 `json:"community_score"`
	VoteCount      int     `json:"vote_count"`
}

// Build ranks every publicly visible submission. Judges' round-2
// totals replace their round-1 totals when present.
func Build(ctx context.Context, st *store.Store, version string, holders *votes.Holders, scoreCfg votes.ScoreConfig) ([]Entry, error) {
	var subs []*store.Submission
	for _, status := range publicStatuses {
		batch, err := st.ListSubmissions(ctx, version, status)
		if err != nil {
			return nil, err
		}
		subs = append(subs, batch...)
	}

	voteRows, err := st.ListAllVotes(ctx)
	if err != nil {
		return nil, err
	}
	community := make(map[string]*votes.CommunityScore)
	for _, cs := range votes.ComputeAll(voteRows, holders, scoreCfg) {
		community[cs.SubmissionID] = cs
	}

	entries := make([]Entry, 0, len(subs))
	for _, sub := range subs {
		scores, err := st.LatestScores(ctx, sub.ID)
		if err != nil {
			return nil, err
		}

		entry := Entry{
			SubmissionID: sub.ID,
			ProjectName:  sub.Field("project_name"),
			Category:     sub.Field("category"),
			Status:       sub.Status,
		}
		entry.JudgeCount, entry.WeightedSum, entry.Round = finalTotals(scores)
		if entry.JudgeCount > 0 {
			entry.AverageScore = entry.WeightedSum / float64(entry.JudgeCount) / 4
		}
		if cs := community[sub.ID]; cs != nil {
			entry.CommunityScore = cs.Score
			entry.VoteCount = cs.VoteCount
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].WeightedSum != entries[j].WeightedSum {
			return entries[i].WeightedSum > entries[j].WeightedSum
		}
		if entries[i].CommunityScore != entries[j].CommunityScore {
			return entries[i].CommunityScore > entries[j].CommunityScore
		}
		return entries[i].SubmissionID < entries[j].SubmissionID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// finalTotals sums each judge's latest-round total.
func finalTotals(scores []store.Score) (judges int, sum float64, round int) {
	best := make(map[string]store.Score, len(judge.Panel))
	for _, s := range scores {
		cur, ok := best[s.JudgeName]
		if !ok || s.Round > cur.Round {
			best[s.JudgeName] = s
		}
	}
	for _, s := range best {
		sum += s.WeightedTotal
		if s.Round > round {
			round = s.Round
		}
	}
	return len(best), sum, round
}
