package votes

import (
	"math"
	"sort"

	"github.com/M3-org/clanktank-sub000/internal/store"
)

// ScoreConfig holds the community-score constants. Defaults match the
// published formula: per-sender weight log10(total+1)*3 capped at 10,
// displayed score log10(total+1)*2 capped at 10.
type ScoreConfig struct {
	SenderMultiplier  float64
	SenderCap         float64
	DisplayMultiplier float64
	DisplayCap        float64
}

func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		SenderMultiplier:  3,
		SenderCap:         10,
		DisplayMultiplier: 2,
		DisplayCap:        10,
	}
}

// CommunityScore is one submission's on-chain voting summary. Score is
// the headline value; the weight fields expose the intermediate math.
type CommunityScore struct {
	SubmissionID       string  `json:"submission_id"`
	VoteCount          int     `json:"vote_count"`
	UniqueVoters       int     `json:"unique_voters"`
	TotalAmount        float64 `json:"total_amount"`
	LogWeightSum       float64 `json:"log_weight_sum"`
	QuadraticWeightSum float64 `json:"quadratic_weight_sum"`
	CombinedWeight     float64 `json:"combined_weight"`
	Score              float64 `json:"community_score"`
}

// Compute scores one submission's votes. Zero votes yield a zero
// score.
func Compute(submissionID string, voteRows []store.Vote, holders *Holders, cfg ScoreConfig) *CommunityScore {
	cs := &CommunityScore{SubmissionID: submissionID}

	bySender := make(map[string]float64)
	for _, v := range voteRows {
		bySender[v.SenderAddress] += v.Amount
		cs.TotalAmount += v.Amount
		cs.VoteCount++
	}
	cs.UniqueVoters = len(bySender)
	if cs.VoteCount == 0 {
		return cs
	}

	for sender, total := range bySender {
		w := math.Log10(total+1) * cfg.SenderMultiplier
		if w > cfg.SenderCap {
			w = cfg.SenderCap
		}
		cs.LogWeightSum += w
		cs.QuadraticWeightSum += holders.BaseWeight(sender)
	}

	logScale := math.Log10(cs.TotalAmount + 1)
	cs.CombinedWeight = cs.QuadraticWeightSum * logScale

	cs.Score = logScale * cfg.DisplayMultiplier
	if cs.Score > cfg.DisplayCap {
		cs.Score = cfg.DisplayCap
	}
	return cs
}

// ComputeAll groups votes by submission and scores each, sorted by
// score descending.
func ComputeAll(voteRows []store.Vote, holders *Holders, cfg ScoreConfig) []*CommunityScore {
	grouped := make(map[string][]store.Vote)
	for _, v := range voteRows {
		grouped[v.SubmissionID] = append(grouped[v.SubmissionID], v)
	}

	scores := make([]*CommunityScore, 0, len(grouped))
	for id, rows := range grouped {
		scores = append(scores, Compute(id, rows, holders, cfg))
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].SubmissionID < scores[j].SubmissionID
	})
	return scores
}

// Totals aggregates the overall voting activity.
type Totals struct {
	VoteCount    int     `json:"vote_count"`
	UniqueVoters int     `json:"unique_voters"`
	TotalAmount  float64 `json:"total_amount"`
	Submissions  int     `json:"submissions_with_votes"`
}

// ComputeTotals summarizes all votes for the stats endpoint.
func ComputeTotals(voteRows []store.Vote) Totals {
	t := Totals{VoteCount: len(voteRows)}
	senders := make(map[string]bool)
	subs := make(map[string]bool)
	for _, v := range voteRows {
		senders[v.SenderAddress] = true
		subs[v.SubmissionID] = true
		t.TotalAmount += v.Amount
	}
	t.UniqueVoters = len(senders)
	t.Submissions = len(subs)
	return t
}
