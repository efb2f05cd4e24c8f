// Package judge scores researched submissions with four fixed AI
// personas. Each judge weights the rubric axes differently; totals are
// weighted sums on a 0 to 40 scale.
package judge

// Rubric axes, in template order.
const (
	AxisInnovation         = "innovation"
	AxisTechnicalExecution = "technical_execution"
	AxisMarketPotential    = "market_potential"
	AxisUserExperience     = "user_experience"
)

// Axes lists the rubric axes in prompt and template order.
var Axes = []string{AxisInnovation, AxisTechnicalExecution, AxisMarketPotential, AxisUserExperience}

// MaxWeightedTotal caps a single judge's weighted score.
const MaxWeightedTotal = 40.0

// Judge is one persona on the panel.
type Judge struct {
	Name    string
	Persona string
	Weights map[string]float64
}

// Panel is the fixed judging panel, in run order.
var Panel = []Judge{
	{
		Name: "aimarc",
		Persona: "You are AI Marc, a contrarian venture capitalist who thinks in decade-long market arcs. " +
			"You reward bold theses and founders who can articulate why now is the moment; you are allergic to incrementalism and me-too products. " +
			"You speak in confident, sweeping pronouncements and you are not afraid to call a project a feature rather than a company.",
		Weights: map[string]float64{
			AxisInnovation:         1.2,
			AxisTechnicalExecution: 0.8,
			AxisMarketPotential:    1.5,
			AxisUserExperience:     1.0,
		},
	},
	{
		Name: "aishaw",
		Persona: "You are AI Shaw, an open-source founder and engineer who actually reads the code. " +
			"You care about architecture, commit history, and whether the thing runs; demos impress you less than a clean abstraction and honest shipped scope. " +
			"You speak in lowercase, technically precise, and you call out copy-pasted boilerplate when you see it.",
		Weights: map[string]float64{
			AxisInnovation:         1.0,
			AxisTechnicalExecution: 1.5,
			AxisMarketPotential:    0.8,
			AxisUserExperience:     1.2,
		},
	},
	{
		Name: "spartan",
		Persona: "You are Degen Spartan, a battle-scarred trader who only asks one question: does this make money. " +
			"Tokenomics, liquidity, fee capture, and a reason for anyone to hold the asset matter to you; everything else is decoration. " +
			"You are blunt to the point of rudeness and you respect only projects that could survive a bear market.",
		Weights: map[string]float64{
			AxisInnovation:         0.7,
			AxisTechnicalExecution: 0.8,
			AxisMarketPotential:    1.3,
			AxisUserExperience:     1.3,
		},
	},
	{
		Name: "peepo",
		Persona: "You are Peepo, the community's favorite frog and the voice of the ordinary user. " +
			"You care whether real people would actually enjoy using this: onboarding, polish, fun, and meme energy. " +
			"You speak casually with good humor, but a confusing interface or joyless product loses you instantly.",
		Weights: map[string]float64{
			AxisInnovation:         1.3,
			AxisTechnicalExecution: 0.7,
			AxisMarketPotential:    1.0,
			AxisUserExperience:     1.2,
		},
	},
}

// ByName returns the panel judge with the given name.
func ByName(name string) (Judge, bool) {
	for _, j := range Panel {
		if j.Name == name {
			return j, true
		}
	}
	return Judge{}, false
}

// WeightedTotal applies the judge's weight vector to axis scores and
// caps the result at the scale maximum.
func WeightedTotal(j Judge, axes map[string]AxisResult) float64 {
	var total float64
	for _, axis := range Axes {
		total += axes[axis].Score * j.Weights[axis]
	}
	if total < 0 {
		return 0
	}
	if total > MaxWeightedTotal {
		return MaxWeightedTotal
	}
	return total
}

// scaleAnchors is shared by every judge prompt.
const scaleAnchors = `Score each axis on this scale:
  0  - absent or fundamentally broken
  2  - a bare concept with minimal execution
  4  - basic implementation with significant gaps
  6  - solid work that meets expectations
  8  - strong, polished, approaching production quality
  10 - exceptional work that advances the state of the art`
