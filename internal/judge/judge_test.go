package judge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/store"
)

func TestPanelComposition(t *testing.T) {
	require.Len(t, Panel, 4)
	names := []string{"aimarc", "aishaw", "spartan", "peepo"}
	for i, j := range Panel {
		assert.Equal(t, names[i], j.Name)
		assert.NotEmpty(t, j.Persona)
		for _, axis := range Axes {
			assert.Greater(t, j.Weights[axis], 0.0, "%s/%s", j.Name, axis)
		}
	}

	_, ok := ByName("spartan")
	assert.True(t, ok)
	_, ok = ByName("elvis")
	assert.False(t, ok)
}

func TestWeightedTotal(t *testing.T) {
	aimarc, _ := ByName("aimarc")

	axes := map[string]AxisResult{
		AxisInnovation:         {Score: 8},
		AxisTechnicalExecution: {Score: 6},
		AxisMarketPotential:    {Score: 9},
		AxisUserExperience:     {Score: 7},
	}
	// 8*1.2 + 6*0.8 + 9*1.5 + 7*1.0 = 34.9
	assert.InDelta(t, 34.9, WeightedTotal(aimarc, axes), 1e-9)
}

func TestWeightedTotalNeverExceedsMax(t *testing.T) {
	perfect := map[string]AxisResult{}
	for _, axis := range Axes {
		perfect[axis] = AxisResult{Score: 10}
	}
	for _, j := range Panel {
		total := WeightedTotal(j, perfect)
		assert.LessOrEqual(t, total, MaxWeightedTotal, j.Name)
		assert.Equal(t, MaxWeightedTotal, total, "%s at all tens should saturate the scale", j.Name)
	}

	zero := map[string]AxisResult{}
	for _, axis := range Axes {
		zero[axis] = AxisResult{Score: 0}
	}
	for _, j := range Panel {
		assert.Zero(t, WeightedTotal(j, zero), j.Name)
	}
}

const templateResponse = `INNOVATION_SCORE: 8
INNOVATION_REASON: Novel use of intents, though the settlement layer is standard fare.
TECHNICAL_EXECUTION_SCORE: 6.5
TECHNICAL_EXECUTION_REASON: Works end to end, but error handling is thin.
MARKET_POTENTIAL_SCORE: 7
MARKET_POTENTIAL_REASON: Clear niche, crowded space.
USER_EXPERIENCE_SCORE: 9
USER_EXPERIENCE_REASON: Slick onboarding; mobile layout breaks.
OVERALL_COMMENT: Ship it after hardening the backend.`

func TestParseEvaluationTemplate(t *testing.T) {
	eval := ParseEvaluation(templateResponse)

	assert.Empty(t, eval.Warnings)
	assert.Equal(t, 8.0, eval.Axes[AxisInnovation].Score)
	assert.Equal(t, 6.5, eval.Axes[AxisTechnicalExecution].Score)
	assert.Equal(t, 9.0, eval.Axes[AxisUserExperience].Score)
	assert.Contains(t, eval.Axes[AxisInnovation].Reason, "intents")
	assert.Equal(t, "Ship it after hardening the backend.", eval.Overall)
}

func TestParseEvaluationTemplateVariants(t *testing.T) {
	t.Run("slash ten scores", func(t *testing.T) {
		eval := ParseEvaluation("INNOVATION_SCORE: 8/10\nOVERALL_COMMENT: fine")
		assert.Equal(t, 8.0, eval.Axes[AxisInnovation].Score)
	})

	t.Run("clamps out of range", func(t *testing.T) {
		eval := ParseEvaluation("INNOVATION_SCORE: 14\nMARKET_POTENTIAL_SCORE: -3\nOVERALL_COMMENT: wild")
		assert.Equal(t, 10.0, eval.Axes[AxisInnovation].Score)
		assert.Equal(t, 0.0, eval.Axes[AxisMarketPotential].Score)
	})

	t.Run("missing axes default with warning", func(t *testing.T) {
		eval := ParseEvaluation("INNOVATION_SCORE: 7\nINNOVATION_REASON: ok\nOVERALL_COMMENT: partial")
		assert.Equal(t, 7.0, eval.Axes[AxisInnovation].Score)
		assert.Equal(t, defaultAxisScore, eval.Axes[AxisTechnicalExecution].Score)
		assert.Equal(t, defaultAxisScore, eval.Axes[AxisUserExperience].Score)
		assert.Len(t, eval.Warnings, 3)
	})

	t.Run("garbage score defaults with warning", func(t *testing.T) {
		eval := ParseEvaluation("INNOVATION_SCORE: excellent\nOVERALL_COMMENT: hmm")
		assert.Equal(t, defaultAxisScore, eval.Axes[AxisInnovation].Score)
		assert.NotEmpty(t, eval.Warnings)
	})
}

func TestParseEvaluationJSONFallback(t *testing.T) {
	raw := `{
		"innovation": {"score": 7, "reason": "familiar pattern"},
		"technical_execution": 8,
		"market_potential": {"score": 6},
		"user_experience": {"score": 5, "reason": "clunky"},
		"overall_comment": "decent"
	}`
	eval := ParseEvaluation(raw)

	assert.Equal(t, 7.0, eval.Axes[AxisInnovation].Score)
	assert.Equal(t, 8.0, eval.Axes[AxisTechnicalExecution].Score)
	assert.Equal(t, "clunky", eval.Axes[AxisUserExperience].Reason)
	assert.Equal(t, "decent", eval.Overall)
}

func TestParseEvaluationProseDefaultsEverything(t *testing.T) {
	eval := ParseEvaluation("This project shows promise but lacks depth.")
	for _, axis := range Axes {
		assert.Equal(t, defaultAxisScore, eval.Axes[axis].Score, axis)
	}
	assert.Len(t, eval.Warnings, 4)
}

func TestRenormalize(t *testing.T) {
	axes := map[string]AxisResult{
		AxisInnovation:         {Score: 2, Reason: "a"},
		AxisTechnicalExecution: {Score: 4, Reason: "b"},
		AxisMarketPotential:    {Score: 2},
		AxisUserExperience:     {Score: 4},
	}

	normalized, pre := renormalize(axes)
	require.NotNil(t, pre)

	// Mean 3 scales by 2 to a mean of 6.
	assert.Equal(t, 4.0, normalized[AxisInnovation].Score)
	assert.Equal(t, 8.0, normalized[AxisTechnicalExecution].Score)
	assert.Equal(t, "a", normalized[AxisInnovation].Reason)
	assert.Equal(t, 2.0, pre[AxisInnovation])

	var sum float64
	for _, axis := range Axes {
		sum += normalized[axis].Score
	}
	assert.InDelta(t, 6.0, sum/4, 1e-9)
}

func TestRenormalizeZeroMeanLeavesScores(t *testing.T) {
	axes := map[string]AxisResult{}
	for _, axis := range Axes {
		axes[axis] = AxisResult{Score: 0}
	}
	normalized, pre := renormalize(axes)
	assert.Nil(t, normalized)
	assert.Nil(t, pre)
}

func TestBuildScorePersistsPreNormalization(t *testing.T) {
	aishaw, _ := ByName("aishaw")
	engine := NewEngine(nil, nil, Config{Renormalize: true, InterCallDelay: 1})

	eval := ParseEvaluation(templateResponse)
	score, err := engine.buildScore("beat-bot", aishaw, eval)
	require.NoError(t, err)

	var n notes
	require.NoError(t, json.Unmarshal(score.Notes, &n))
	require.NotNil(t, n.PreNormalization)
	assert.Equal(t, 8.0, n.PreNormalization[AxisInnovation])
	assert.NotEqual(t, 8.0, score.Innovation)
	assert.Equal(t, 1, score.Round)
	assert.Nil(t, score.FinalVerdict)
}

func TestJudgePrompt(t *testing.T) {
	spartan, _ := ByName("spartan")
	sub := &store.Submission{
		ID: "beat-bot",
		Fields: map[string]string{
			"project_name": "Beat Bot",
			"category":     "AI/Agents",
			"description":  "on-chain drum machine",
		},
	}

	prompt := judgePrompt(spartan, sub, "solid implementation", "- minimal_implementation: only 4 files\n")

	assert.Contains(t, prompt, "project_name: Beat Bot")
	assert.Contains(t, prompt, "minimal_implementation")
	assert.Contains(t, prompt, "INNOVATION_SCORE:")
	assert.Contains(t, prompt, "OVERALL_COMMENT:")
	assert.Contains(t, prompt, "at least one concrete weakness")
	assert.Contains(t, prompt, "above 8")
}
