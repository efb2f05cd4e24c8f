package synth

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// CohortStats summarizes round-1 weighted totals across the cohort.
type CohortStats struct {
	Size   int     `json:"size"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
}

func computeStats(totals []float64) CohortStats {
	stats := CohortStats{Size: len(totals)}
	if len(totals) == 0 {
		return stats
	}

	var sum float64
	for _, t := range totals {
		sum += t
	}
	stats.Mean = sum / float64(len(totals))

	sorted := make([]float64, len(totals))
	copy(sorted, totals)
	sort.Float64s(sorted)
	stats.Median = median(sorted)

	var sq float64
	for _, t := range totals {
		d := t - stats.Mean
		sq += d * d
	}
	stats.StdDev = math.Sqrt(sq / float64(len(totals)))
	return stats
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// variance measures judge disagreement for one submission.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(values))
}

// Engagement tiers.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// Absolute fallback thresholds for cohorts too small to have a
// distribution.
const (
	absoluteHighThreshold   = 5
	absoluteMediumThreshold = 2
)

// engagementTiers assigns a tier per value. With more than one cohort
// member the cut points come from the distribution itself; a cohort of
// one falls back to the absolute thresholds.
func engagementTiers(values []float64) []string {
	tiers := make([]string, len(values))
	if len(values) <= 1 {
		for i, v := range values {
			tiers[i] = absoluteTier(v)
		}
		return tiers
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	med := median(sorted)

	for i, v := range values {
		switch {
		case v > med+0.5*med:
			tiers[i] = TierHigh
		case v > med:
			tiers[i] = TierMedium
		default:
			tiers[i] = TierLow
		}
	}
	return tiers
}

func absoluteTier(v float64) string {
	switch {
	case v >= absoluteHighThreshold:
		return TierHigh
	case v >= absoluteMediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

var wordRe = regexp.MustCompile(`[a-z]{5,}`)

var themeStopwords = map[string]bool{
	"about": true, "after": true, "again": true, "although": true,
	"because": true, "before": true, "being": true, "between": true,
	"could": true, "doesn": true, "during": true, "every": true,
	"however": true, "making": true, "overall": true, "project": true,
	"really": true, "score": true, "seems": true, "should": true,
	"since": true, "still": true, "submission": true, "their": true,
	"there": true, "these": true, "thing": true, "though": true,
	"through": true, "under": true, "which": true, "while": true,
	"without": true, "would": true,
}

// sharedThemes mines words that recur between this submission's
// round-1 reasoning and at least two other submissions' reasoning.
// The result is capped and deterministic.
func sharedThemes(own string, others []string) []string {
	ownWords := themeWords(own)
	if len(ownWords) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, text := range others {
		for w := range themeWords(text) {
			if ownWords[w] {
				counts[w]++
			}
		}
	}

	required := 2
	if len(others) < 2 {
		required = 1
	}

	var themes []string
	for w, n := range counts {
		if n >= required {
			themes = append(themes, w)
		}
	}
	sort.Slice(themes, func(i, j int) bool {
		if counts[themes[i]] != counts[themes[j]] {
			return counts[themes[i]] > counts[themes[j]]
		}
		return themes[i] < themes[j]
	})
	if len(themes) > 5 {
		themes = themes[:5]
	}
	return themes
}

func themeWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if !themeStopwords[w] {
			words[w] = true
		}
	}
	return words
}
