package leaderboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/M3-org/clanktank-sub000/internal/store"
)

func TestFinalTotalsPrefersRoundTwo(t *testing.T) {
	scores := []store.Score{
		{JudgeName: "aimarc", Round: 1, WeightedTotal: 30},
		{JudgeName: "aimarc", Round: 2, WeightedTotal: 34},
		{JudgeName: "aishaw", Round: 1, WeightedTotal: 25},
	}

	judges, sum, round := finalTotals(scores)
	assert.Equal(t, 2, judges)
	assert.Equal(t, 59.0, sum) // 34 + 25, not 30
	assert.Equal(t, 2, round)
}

func TestFinalTotalsRoundOneOnly(t *testing.T) {
	scores := []store.Score{
		{JudgeName: "aimarc", Round: 1, WeightedTotal: 28},
		{JudgeName: "spartan", Round: 1, WeightedTotal: 22},
	}

	judges, sum, round := finalTotals(scores)
	assert.Equal(t, 2, judges)
	assert.Equal(t, 50.0, sum)
	assert.Equal(t, 1, round)
}

func TestFinalTotalsEmpty(t *testing.T) {
	judges, sum, round := finalTotals(nil)
	assert.Equal(t, 0, judges)
	assert.Equal(t, 0.0, sum)
	assert.Equal(t, 0, round)
}

func TestAverageScoreScale(t *testing.T) {
	// Four judges at the 40-point ceiling average to a perfect 10.
	entry := Entry{JudgeCount: 4, WeightedSum: 160}
	entry.AverageScore = entry.WeightedSum / float64(entry.JudgeCount) / 4
	assert.Equal(t, 10.0, entry.AverageScore)
}
