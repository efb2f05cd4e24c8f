package judge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/M3-org/clanktank-sub000/internal/llm"
)

const defaultAxisScore = 5.0

// AxisResult is one scored axis with its reasoning.
type AxisResult struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Evaluation is a judge's parsed response.
type Evaluation struct {
	Axes     map[string]AxisResult `json:"axes"`
	Overall  string                `json:"overall_comment,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

// labelRe finds the uppercase field labels of the response template.
var labelRe = regexp.MustCompile(`(?m)^[ \t]*([A-Z][A-Z_]+):[ \t]*`)

// leadingNumberRe tolerates scores written as "8", "8.5", or "8/10".
var leadingNumberRe = regexp.MustCompile(`^-?[0-9]+(?:\.[0-9]+)?`)

// ParseEvaluation extracts axis scores and reasons from a judge
// response. The delimited template is authoritative; a JSON object is
// accepted as fallback. Axes that cannot be recovered default to 5
// with a recorded warning, and every score is clamped to [0,10].
func ParseEvaluation(raw string) Evaluation {
	if eval, ok := parseTemplate(raw); ok {
		return eval
	}
	if eval, ok := parseJSONFallback(raw); ok {
		return eval
	}

	eval := Evaluation{Axes: make(map[string]AxisResult, len(Axes))}
	for _, axis := range Axes {
		eval.Axes[axis] = AxisResult{Score: defaultAxisScore}
		eval.Warnings = append(eval.Warnings, axis+": response unparseable, defaulted to 5")
	}
	eval.Overall = strings.TrimSpace(raw)
	return eval
}

// parseTemplate reads the delimited form: INNOVATION_SCORE,
// INNOVATION_REASON, and so on through OVERALL_COMMENT.
func parseTemplate(raw string) (Evaluation, bool) {
	fields := splitLabels(raw)
	if len(fields) == 0 {
		return Evaluation{}, false
	}

	// At least one known score label must be present, otherwise this
	// is not the template and the JSON fallback should run.
	known := false
	for _, axis := range Axes {
		if _, ok := fields[scoreLabel(axis)]; ok {
			known = true
			break
		}
	}
	if !known {
		return Evaluation{}, false
	}

	eval := Evaluation{Axes: make(map[string]AxisResult, len(Axes))}
	for _, axis := range Axes {
		result := AxisResult{Reason: fields[reasonLabel(axis)]}
		if text, ok := fields[scoreLabel(axis)]; ok {
			if score, err := parseScore(text); err == nil {
				result.Score = clampScore(score)
			} else {
				result.Score = defaultAxisScore
				eval.Warnings = append(eval.Warnings, fmt.Sprintf("%s: score %q unparseable, defaulted to 5", axis, text))
			}
		} else {
			result.Score = defaultAxisScore
			eval.Warnings = append(eval.Warnings, axis+": score missing, defaulted to 5")
		}
		eval.Axes[axis] = result
	}
	eval.Overall = fields["OVERALL_COMMENT"]
	return eval, true
}

func splitLabels(raw string) map[string]string {
	locs := labelRe.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return nil
	}
	fields := make(map[string]string, len(locs))
	for i, loc := range locs {
		label := raw[loc[2]:loc[3]]
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		fields[label] = strings.TrimSpace(raw[loc[1]:end])
	}
	return fields
}

func scoreLabel(axis string) string  { return strings.ToUpper(axis) + "_SCORE" }
func reasonLabel(axis string) string { return strings.ToUpper(axis) + "_REASON" }

func parseScore(text string) (float64, error) {
	m := leadingNumberRe.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, fmt.Errorf("no number in %q", text)
	}
	return strconv.ParseFloat(m, 64)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// parseJSONFallback accepts {"innovation": {"score": 8, "reason": "..."},
// ..., "overall_comment": "..."} with bare numbers tolerated per axis.
func parseJSONFallback(raw string) (Evaluation, bool) {
	payload := llm.ExtractJSON(raw)
	if payload == nil {
		return Evaluation{}, false
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return Evaluation{}, false
	}

	eval := Evaluation{Axes: make(map[string]AxisResult, len(Axes))}
	found := false
	for _, axis := range Axes {
		entry, ok := body[axis]
		if !ok {
			eval.Axes[axis] = AxisResult{Score: defaultAxisScore}
			eval.Warnings = append(eval.Warnings, axis+": missing from response, defaulted to 5")
			continue
		}

		var result AxisResult
		if err := json.Unmarshal(entry, &result); err != nil {
			var bare float64
			if err := json.Unmarshal(entry, &bare); err != nil {
				eval.Axes[axis] = AxisResult{Score: defaultAxisScore}
				eval.Warnings = append(eval.Warnings, axis+": unreadable in response, defaulted to 5")
				continue
			}
			result = AxisResult{Score: bare}
		}
		result.Score = clampScore(result.Score)
		eval.Axes[axis] = result
		found = true
	}
	if !found {
		return Evaluation{}, false
	}

	var overall string
	if entry, ok := body["overall_comment"]; ok {
		_ = json.Unmarshal(entry, &overall)
	}
	eval.Overall = overall
	return eval, true
}
