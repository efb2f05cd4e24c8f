// Package curator decides which repository files enter the research
// prompt. Stage one is the analyzer's relevance labeling; stage two
// asks the LLM for include/exclude globs and size caps, falling back
// to a deterministic rule set whenever the advisory response violates
// its schema.
package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/github"
	"github.com/M3-org/clanktank-sub000/internal/llm"
)

const (
	// advisoryEntries caps how much of the manifest the advisory
	// prompt carries.
	advisoryEntries = 400

	defaultCoreCodeMax = 150_000
	defaultOtherMax    = 50_000

	minFileCap = 1_000
	maxFileCap = 1_000_000

	maxRationale = 500
)

// SourceLLM and SourceHeuristic record which stage produced the
// settings.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Settings is the record the repo packager consumes.
type Settings struct {
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	CoreCodeMax     int      `json:"core_code_max"`
	OtherFileMax    int      `json:"other_file_max"`
	Rationale       string   `json:"rationale,omitempty"`
	Source          string   `json:"source"`
}

// sourceGlobs are the include patterns of the deterministic fallback.
var sourceGlobs = []string{
	"**/*.md",
	"**/*.py", "**/*.js", "**/*.ts", "**/*.jsx", "**/*.tsx",
	"**/*.go", "**/*.rs", "**/*.sol", "**/*.move",
	"**/*.java", "**/*.rb", "**/*.c", "**/*.cpp", "**/*.h",
	"**/*.toml", "**/*.json", "**/*.yaml", "**/*.yml",
}

// DefaultSettings is the deterministic fallback selection.
func DefaultSettings() *Settings {
	return &Settings{
		IncludePatterns: append([]string(nil), sourceGlobs...),
		ExcludePatterns: []string{"node_modules", "dist", "build", "__pycache__", ".log"},
		CoreCodeMax:     defaultCoreCodeMax,
		OtherFileMax:    defaultOtherMax,
		Source:          SourceHeuristic,
	}
}

// Curator asks the LLM for file-selection advice.
type Curator struct {
	llm *llm.Client
}

// New builds a curator on the shared LLM client.
func New(client *llm.Client) *Curator {
	return &Curator{llm: client}
}

// Curate returns the selection settings for one analyzed repo. It
// never fails: any advisory problem degrades to DefaultSettings.
func (c *Curator) Curate(ctx context.Context, analysis *github.Analysis) *Settings {
	if c.llm == nil || !c.llm.IsEnabled() {
		return DefaultSettings()
	}

	raw, err := c.llm.Complete(ctx, llm.Request{
		System:      advisorySystem,
		Prompt:      advisoryPrompt(analysis),
		MaxTokens:   800,
		Temperature: 0.2,
	})
	if err != nil {
		log.Warn().Err(err).Str("repo", analysis.Facts.FullName).Msg("curator advisory call failed, using heuristic selection")
		return DefaultSettings()
	}

	settings, err := parseSettings(raw)
	if err != nil {
		log.Warn().Err(err).Str("repo", analysis.Facts.FullName).Msg("curator advisory response rejected, using heuristic selection")
		return DefaultSettings()
	}
	return settings
}

const advisorySystem = `You curate repository files for an AI research summary under a strict token budget. Respond with a single JSON object and nothing else:
{"include_patterns": ["glob", ...], "exclude_patterns": ["glob", ...], "core_code_max": <bytes>, "other_file_max": <bytes>, "rationale": "<up to 500 chars>"}`

func advisoryPrompt(analysis *github.Analysis) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s\n", analysis.Facts.FullName)
	if analysis.Facts.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", analysis.Facts.Description)
	}
	fmt.Fprintf(&b, "Files: %d, total %d bytes, token budget %d\n\n", analysis.FileCount, analysis.TotalBytes, analysis.TokenBudget)

	b.WriteString("Size histogram:\n")
	for _, bucket := range github.HistogramBuckets {
		fmt.Fprintf(&b, "  %s: %d\n", bucket, analysis.Histogram[bucket])
	}

	if len(analysis.Excerpts) > 0 {
		b.WriteString("\nDependency manifests:\n")
		for _, e := range analysis.Excerpts {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", e.Path, e.Content)
		}
	}

	b.WriteString("\nFile manifest (relevance-ordered):\n")
	for _, f := range analysis.TopEntries(advisoryEntries) {
		fmt.Fprintf(&b, "  %s  %d bytes  [%s]\n", f.Path, f.Bytes, f.Relevance)
	}

	b.WriteString("\nSelect the files a reviewer needs to judge originality and technical depth. Prefer core source over generated or vendored content.")
	return b.String()
}

// parseSettings validates the advisory response against the schema.
// Every key is required and the caps must be sane byte counts.
func parseSettings(raw string) (*Settings, error) {
	payload := llm.ExtractJSON(raw)
	if payload == nil {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var body struct {
		IncludePatterns *[]string `json:"include_patterns"`
		ExcludePatterns *[]string `json:"exclude_patterns"`
		CoreCodeMax     *int      `json:"core_code_max"`
		OtherFileMax    *int      `json:"other_file_max"`
		Rationale       *string   `json:"rationale"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	switch {
	case body.IncludePatterns == nil:
		return nil, fmt.Errorf("missing include_patterns")
	case body.ExcludePatterns == nil:
		return nil, fmt.Errorf("missing exclude_patterns")
	case body.CoreCodeMax == nil:
		return nil, fmt.Errorf("missing core_code_max")
	case body.OtherFileMax == nil:
		return nil, fmt.Errorf("missing other_file_max")
	case body.Rationale == nil:
		return nil, fmt.Errorf("missing rationale")
	case len(*body.IncludePatterns) == 0:
		return nil, fmt.Errorf("empty include_patterns")
	case *body.CoreCodeMax < minFileCap || *body.CoreCodeMax > maxFileCap:
		return nil, fmt.Errorf("core_code_max %d out of range", *body.CoreCodeMax)
	case *body.OtherFileMax < minFileCap || *body.OtherFileMax > maxFileCap:
		return nil, fmt.Errorf("other_file_max %d out of range", *body.OtherFileMax)
	case len(*body.Rationale) > maxRationale:
		return nil, fmt.Errorf("rationale exceeds %d chars", maxRationale)
	}

	return &Settings{
		IncludePatterns: *body.IncludePatterns,
		ExcludePatterns: *body.ExcludePatterns,
		CoreCodeMax:     *body.CoreCodeMax,
		OtherFileMax:    *body.OtherFileMax,
		Rationale:       *body.Rationale,
		Source:          SourceLLM,
	}, nil
}
