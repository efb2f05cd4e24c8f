package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		owner   string
		repo    string
		wantErr bool
	}{
		{name: "plain", url: "https://github.com/alice/widget", owner: "alice", repo: "widget"},
		{name: "www and git suffix", url: "https://www.github.com/alice/widget.git", owner: "alice", repo: "widget"},
		{name: "query string tolerated", url: "https://github.com/alice/widget?tab=readme", owner: "alice", repo: "widget"},
		{name: "deep link tolerated", url: "https://github.com/alice/widget/tree/main/src", owner: "alice", repo: "widget"},
		{name: "http scheme", url: "http://github.com/alice/widget", owner: "alice", repo: "widget"},
		{name: "gitlab rejected", url: "https://gitlab.com/alice/widget", wantErr: true},
		{name: "owner only rejected", url: "https://github.com/alice", wantErr: true},
		{name: "not a url", url: "alice/widget", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepoURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestLabelFile(t *testing.T) {
	tests := []struct {
		path      string
		relevance string
	}{
		{"src/main.py", RelevanceHigh},
		{"backend/src/index.ts", RelevanceHigh},
		{"contracts/Token.sol", RelevanceHigh},
		{"cmd/server/main.go", RelevanceHigh},
		{"scripts/deploy.js", RelevanceMediumHigh},
		{"utils.py", RelevanceMediumHigh},
		{"package.json", RelevanceMedium},
		{"requirements.txt", RelevanceMedium},
		{"README.md", RelevanceMedium},
		{"docs/guide.rst", RelevanceMedium},
		{"tests/test_api.py", RelevanceMedium},
		{"src/store_test.go", RelevanceMedium},
		{"app/Button.spec.tsx", RelevanceMedium},
		{"node_modules/lodash/index.js", RelevanceLow},
		{"dist/bundle.min.js", RelevanceLow},
		{"package-lock.json", RelevanceLow},
		{".github/workflows/ci.yml", RelevanceLow},
		{"assets/logo.png", RelevanceLow},
		{"debug.log", RelevanceLow},
		{"LICENSE", RelevanceLow},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			relevance, rationale := labelFile(tt.path)
			assert.Equal(t, tt.relevance, relevance)
			assert.NotEmpty(t, rationale)
		})
	}
}

func TestSizeBucket(t *testing.T) {
	assert.Equal(t, "<1kB", sizeBucket(0))
	assert.Equal(t, "<1kB", sizeBucket(999))
	assert.Equal(t, "1-10kB", sizeBucket(1_000))
	assert.Equal(t, "10-50kB", sizeBucket(10_000))
	assert.Equal(t, "50-100kB", sizeBucket(99_999))
	assert.Equal(t, ">100kB", sizeBucket(100_000))
}

func TestRedFlags(t *testing.T) {
	now := time.Now()

	t.Run("stale repo", func(t *testing.T) {
		a := &Analysis{
			Facts: RepoFacts{
				CreatedAt: now.Add(-60 * 24 * time.Hour),
				UpdatedAt: now.Add(-20 * 24 * time.Hour),
				PushedAt:  now.Add(-20 * 24 * time.Hour),
			},
			FileCount: 20,
			Histogram: map[string]int{},
		}
		assert.True(t, hasFlag(redFlags(a), "stale_repo"))
	})

	t.Run("fresh repo not stale", func(t *testing.T) {
		a := &Analysis{
			Facts: RepoFacts{
				CreatedAt: now.Add(-60 * 24 * time.Hour),
				UpdatedAt: now.Add(-2 * 24 * time.Hour),
				PushedAt:  now.Add(-1 * 24 * time.Hour),
			},
			FileCount: 20,
			Histogram: map[string]int{},
		}
		assert.False(t, hasFlag(redFlags(a), "stale_repo"))
	})

	t.Run("dependency bloat", func(t *testing.T) {
		a := &Analysis{
			Facts:     RepoFacts{CreatedAt: now, UpdatedAt: now},
			FileCount: 30,
			Histogram: map[string]int{"<1kB": 20, "1-10kB": 5, ">100kB": 2},
		}
		assert.True(t, hasFlag(redFlags(a), "dependency_bloat"))
	})

	t.Run("no bloat without large files", func(t *testing.T) {
		a := &Analysis{
			Facts:     RepoFacts{CreatedAt: now, UpdatedAt: now},
			FileCount: 30,
			Histogram: map[string]int{"<1kB": 20, "1-10kB": 5},
		}
		assert.False(t, hasFlag(redFlags(a), "dependency_bloat"))
	})

	t.Run("generated code ratio", func(t *testing.T) {
		a := &Analysis{
			Facts:     RepoFacts{CreatedAt: now, UpdatedAt: now},
			FileCount: 30,
			Histogram: map[string]int{},
			Manifest: []FileEntry{
				{Relevance: RelevanceHigh},
				{Relevance: RelevanceLow}, {Relevance: RelevanceLow}, {Relevance: RelevanceLow},
			},
		}
		assert.True(t, hasFlag(redFlags(a), "generated_code_ratio"))
	})

	t.Run("minimal implementation", func(t *testing.T) {
		a := &Analysis{
			Facts:     RepoFacts{CreatedAt: now, UpdatedAt: now},
			FileCount: 4,
			Histogram: map[string]int{},
		}
		assert.True(t, hasFlag(redFlags(a), "minimal_implementation"))
	})
}

func hasFlag(flags []RedFlag, kind string) bool {
	for _, f := range flags {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func TestTopEntries(t *testing.T) {
	a := &Analysis{Manifest: []FileEntry{
		{Path: "README.md", Bytes: 900, Relevance: RelevanceMedium},
		{Path: "src/big.py", Bytes: 9_000, Relevance: RelevanceHigh},
		{Path: "src/small.py", Bytes: 100, Relevance: RelevanceHigh},
		{Path: "helper.js", Bytes: 5_000, Relevance: RelevanceMediumHigh},
		{Path: "logo.png", Bytes: 80_000, Relevance: RelevanceLow},
	}}

	top := a.TopEntries(3)
	require.Len(t, top, 3)
	assert.Equal(t, "src/big.py", top[0].Path)
	assert.Equal(t, "src/small.py", top[1].Path)
	assert.Equal(t, "helper.js", top[2].Path)
}

func TestHeadLines(t *testing.T) {
	assert.Equal(t, "a\nb", headLines("a\nb\nc\nd", 2))
	assert.Equal(t, "a\nb", headLines("a\nb", 5))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("", upstream.NewRegistry())
	require.NoError(t, client.SetBaseURL(server.URL))
	return client, server
}

func TestAnalyze(t *testing.T) {
	created := time.Now().Add(-3 * 24 * time.Hour).UTC().Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/alice/widget", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"full_name": "alice/widget",
			"description": "a demo",
			"license": {"spdx_id": "MIT"},
			"default_branch": "main",
			"created_at": %q,
			"updated_at": %q,
			"pushed_at": %q,
			"stargazers_count": 7,
			"forks_count": 2,
			"topics": ["solana"]
		}`, created.Format(time.RFC3339), created.Format(time.RFC3339), created.Format(time.RFC3339))
	})
	mux.HandleFunc("/repos/alice/widget/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		fmt.Fprint(w, `[{"sha": "abc"}, {"sha": "def"}]`)
	})
	mux.HandleFunc("/repos/alice/widget/contributors", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"login": "alice", "contributions": 41}]`)
	})
	mux.HandleFunc("/repos/alice/widget/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `{"sha": "root", "tree": [
			{"path": "src/main.py", "type": "blob", "size": 4200},
			{"path": "src/lib", "type": "tree"},
			{"path": "requirements.txt", "type": "blob", "size": 120},
			{"path": "README.md", "type": "blob", "size": 800},
			{"path": "assets/demo.png", "type": "blob", "size": 120000}
		]}`)
	})
	mux.HandleFunc("/repos/alice/widget/contents/requirements.txt", func(w http.ResponseWriter, r *http.Request) {
		content := base64.StdEncoding.EncodeToString([]byte("flask\nrequests\n"))
		json.NewEncoder(w).Encode(map[string]string{
			"type": "file", "encoding": "base64", "content": content, "path": "requirements.txt",
		})
	})

	client, _ := newTestClient(t, mux)
	analysis, err := client.Analyze(context.Background(), "https://github.com/alice/widget")
	require.NoError(t, err)

	assert.Equal(t, "alice/widget", analysis.Facts.FullName)
	assert.Equal(t, "MIT", analysis.Facts.License)
	assert.Equal(t, 2, analysis.Facts.Commits72h)
	require.Len(t, analysis.Facts.Contributors, 1)
	assert.Equal(t, "alice", analysis.Facts.Contributors[0].Login)

	assert.Equal(t, 4, analysis.FileCount) // tree entries are skipped
	assert.Equal(t, 4200+120+800+120000, analysis.TotalBytes)
	assert.Equal(t, baseTokenBudget-analysis.TotalBytes/4, analysis.TokenBudget)
	assert.False(t, analysis.Oversize())

	assert.Equal(t, 2, analysis.Histogram["<1kB"])
	assert.Equal(t, 1, analysis.Histogram["1-10kB"])
	assert.Equal(t, 1, analysis.Histogram[">100kB"])

	require.Len(t, analysis.Excerpts, 1)
	assert.Equal(t, "requirements.txt", analysis.Excerpts[0].Path)
	assert.Contains(t, analysis.Excerpts[0].Content, "flask")

	// Four files trips the minimal-implementation heuristic.
	assert.True(t, hasFlag(analysis.RedFlags, "minimal_implementation"))
}

func TestAnalyzeRepoNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/alice/ghost", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Analyze(context.Background(), "https://github.com/alice/ghost")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestFetchFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/alice/widget/contents/src/main.py", func(w http.ResponseWriter, r *http.Request) {
		content := base64.StdEncoding.EncodeToString([]byte("print('hi')\n"))
		json.NewEncoder(w).Encode(map[string]string{
			"type": "file", "encoding": "base64", "content": content, "path": "src/main.py",
		})
	})

	client, _ := newTestClient(t, mux)
	content, err := client.FetchFile(context.Background(), "alice", "widget", "src/main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", content)
}
