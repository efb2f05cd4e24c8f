package curator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/github"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

func TestParseSettings(t *testing.T) {
	valid := `{
		"include_patterns": ["**/*.py", "README.md"],
		"exclude_patterns": ["node_modules"],
		"core_code_max": 120000,
		"other_file_max": 40000,
		"rationale": "python project, keep sources and docs"
	}`

	t.Run("valid", func(t *testing.T) {
		s, err := parseSettings(valid)
		require.NoError(t, err)
		assert.Equal(t, []string{"**/*.py", "README.md"}, s.IncludePatterns)
		assert.Equal(t, 120000, s.CoreCodeMax)
		assert.Equal(t, SourceLLM, s.Source)
	})

	t.Run("fenced block", func(t *testing.T) {
		s, err := parseSettings("Here you go:\n```json\n" + valid + "\n```")
		require.NoError(t, err)
		assert.Equal(t, 40000, s.OtherFileMax)
	})

	violations := []struct {
		name string
		raw  string
	}{
		{"not json", "just use everything"},
		{"malformed", `{"include_patterns": [,]}`},
		{"missing include", `{"exclude_patterns": [], "core_code_max": 120000, "other_file_max": 40000, "rationale": "x"}`},
		{"missing rationale", `{"include_patterns": ["**/*.py"], "exclude_patterns": [], "core_code_max": 120000, "other_file_max": 40000}`},
		{"empty include", `{"include_patterns": [], "exclude_patterns": [], "core_code_max": 120000, "other_file_max": 40000, "rationale": "x"}`},
		{"cap too small", `{"include_patterns": ["**/*.py"], "exclude_patterns": [], "core_code_max": 10, "other_file_max": 40000, "rationale": "x"}`},
		{"cap too large", `{"include_patterns": ["**/*.py"], "exclude_patterns": [], "core_code_max": 120000, "other_file_max": 99000000, "rationale": "x"}`},
	}
	for _, tt := range violations {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSettings(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, SourceHeuristic, s.Source)
	assert.Equal(t, 150_000, s.CoreCodeMax)
	assert.Equal(t, 50_000, s.OtherFileMax)
	assert.Contains(t, s.IncludePatterns, "**/*.md")
	assert.Contains(t, s.ExcludePatterns, "node_modules")
}

func TestMatcherSelects(t *testing.T) {
	m := newMatcher(DefaultSettings())

	selected := []string{
		"README.md",
		"docs/guide.md",
		"src/main.py",
		"backend/app/server.ts",
		"contracts/Token.sol",
		"package.json",
	}
	for _, p := range selected {
		assert.True(t, m.Selects(p), p)
	}

	rejected := []string{
		"node_modules/lodash/index.js",
		"web/node_modules/react/index.js",
		"dist/bundle.js",
		"build/output.js",
		"src/__pycache__/main.pyc",
		"debug.log",
		"assets/logo.png",
	}
	for _, p := range rejected {
		assert.False(t, m.Selects(p), p)
	}
}

func TestMatcherCustomGlobs(t *testing.T) {
	m := newMatcher(&Settings{
		IncludePatterns: []string{"src/**/*.rs", "Cargo.toml"},
		ExcludePatterns: []string{"src/generated"},
	})

	assert.True(t, m.Selects("src/lib.rs"))
	assert.True(t, m.Selects("src/chain/vote.rs"))
	assert.True(t, m.Selects("Cargo.toml"))
	assert.False(t, m.Selects("examples/demo.rs"))
	assert.False(t, m.Selects("src/generated/pb.rs"))
}

func TestGlobRegexp(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		match   bool
	}{
		{"**/*.md", "README.md", true},
		{"**/*.md", "a/b/c.md", true},
		{"**/*.md", "a/b/c.mdx", false},
		{"*.py", "main.py", true},
		{"*.py", "src/main.py", false},
		{"src/*.py", "src/main.py", true},
		{"src/*.py", "src/sub/main.py", false},
		{"test?.js", "test1.js", true},
		{"test?.js", "test12.js", false},
	}
	for _, tt := range tests {
		re, err := globRegexp(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.match, re.MatchString(tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

func TestFileCapByRelevance(t *testing.T) {
	s := DefaultSettings()
	core := fileCap(github.FileEntry{Path: "src/main.py", Relevance: github.RelevanceHigh}, s)
	other := fileCap(github.FileEntry{Path: "README.md", Relevance: github.RelevanceMedium}, s)
	assert.Equal(t, s.CoreCodeMax, core)
	assert.Equal(t, s.OtherFileMax, other)
}

func TestPackageRespectsBudgetAndCaps(t *testing.T) {
	serveFile := func(content string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"type":     "file",
				"encoding": "base64",
				"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			})
		}
	}
	refuse := func(reason string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("%s fetched: %s", reason, r.URL.Path)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/alice/widget/contents/src/main.py", serveFile("print('ok')\n"))
	mux.HandleFunc("/repos/alice/widget/contents/src/huge.py", refuse("budget-excluded file"))
	mux.HandleFunc("/repos/alice/widget/contents/README.md", refuse("capped file"))
	mux.HandleFunc("/repos/alice/widget/contents/node_modules/pkg/index.js", refuse("excluded file"))
	mux.HandleFunc("/repos/alice/widget/contents/docs/gone.md", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := github.NewClient("", upstream.NewRegistry())
	require.NoError(t, client.SetBaseURL(server.URL))

	settings := DefaultSettings()
	settings.CoreCodeMax = 1_000_000

	analysis := &github.Analysis{
		Facts: github.RepoFacts{FullName: "alice/widget"},
		Manifest: []github.FileEntry{
			// Within its cap but over the whole-snapshot budget.
			{Path: "src/huge.py", Bytes: snapshotBudget + 1, Relevance: github.RelevanceHigh},
			{Path: "src/main.py", Bytes: 60, Relevance: github.RelevanceHigh},
			// Over the non-core cap.
			{Path: "README.md", Bytes: 80_000, Relevance: github.RelevanceMedium},
			// Fetch failure skips the file, not the snapshot.
			{Path: "docs/gone.md", Bytes: 40, Relevance: github.RelevanceMedium},
			{Path: "node_modules/pkg/index.js", Bytes: 10, Relevance: github.RelevanceLow},
		},
	}

	snapshot, err := Package(context.Background(), client, "https://github.com/alice/widget", analysis, settings)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(snapshot, "=== src/main.py ===\n"))
	assert.Contains(t, snapshot, "print('ok')")
	assert.NotContains(t, snapshot, "huge.py")
	assert.NotContains(t, snapshot, "README.md")
	assert.NotContains(t, snapshot, "gone.md")
}
