package github

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v42/github"
	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// Relevance labels for manifest entries.
const (
	RelevanceHigh       = "high"
	RelevanceMediumHigh = "medium-high"
	RelevanceMedium     = "medium"
	RelevanceLow        = "low"
)

// Histogram bucket names, ordered.
var HistogramBuckets = []string{"<1kB", "1-10kB", "10-50kB", "50-100kB", ">100kB"}

// baseTokenBudget is the context allowance a repo snapshot competes
// for; the byte estimate divides by four as a crude byte-to-token
// projection.
const baseTokenBudget = 50_000

// Contributor is one entry of the top-contributor list.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// RepoFacts is the metadata block of an analysis.
type RepoFacts struct {
	FullName      string        `json:"full_name"`
	Description   string        `json:"description"`
	License       string        `json:"license,omitempty"`
	DefaultBranch string        `json:"default_branch"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	PushedAt      time.Time     `json:"pushed_at"`
	Stars         int           `json:"stars"`
	Forks         int           `json:"forks"`
	Topics        []string      `json:"topics,omitempty"`
	Commits72h    int           `json:"commits_72h"`
	Contributors  []Contributor `json:"top_contributors,omitempty"`
}

// FileEntry is one blob in the labeled manifest.
type FileEntry struct {
	Path      string `json:"path"`
	Bytes     int    `json:"bytes"`
	Extension string `json:"extension"`
	Relevance string `json:"relevance"`
	Rationale string `json:"rationale"`
}

// DependencyExcerpt is the head of one dependency manifest.
type DependencyExcerpt struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RedFlag is one automated heuristic hit, embedded verbatim in the
// research prompt.
type RedFlag struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Analysis is the full analyzer output for one repository.
type Analysis struct {
	Facts       RepoFacts           `json:"facts"`
	Manifest    []FileEntry         `json:"manifest"`
	Excerpts    []DependencyExcerpt `json:"dependency_excerpts,omitempty"`
	Histogram   map[string]int      `json:"size_histogram"`
	FileCount   int                 `json:"file_count"`
	TotalBytes  int                 `json:"total_bytes"`
	TokenBudget int                 `json:"token_budget"`
	RedFlags    []RedFlag           `json:"red_flags,omitempty"`
}

// Oversize reports whether the repo blew through the token budget.
func (a *Analysis) Oversize() bool {
	return a.TokenBudget < 0
}

// Analyze runs the full pipeline for one repository URL.
func (c *Client) Analyze(ctx context.Context, repoURL string) (*Analysis, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	facts, err := c.fetchFacts(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	manifest, err := c.fetchManifest(ctx, owner, repo, facts.DefaultBranch)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Facts:     *facts,
		Manifest:  manifest,
		Histogram: make(map[string]int, len(HistogramBuckets)),
		FileCount: len(manifest),
	}
	for _, b := range HistogramBuckets {
		analysis.Histogram[b] = 0
	}
	for _, f := range manifest {
		analysis.TotalBytes += f.Bytes
		analysis.Histogram[sizeBucket(f.Bytes)]++
	}
	analysis.TokenBudget = baseTokenBudget - analysis.TotalBytes/4

	analysis.Excerpts = c.fetchExcerpts(ctx, owner, repo, manifest)
	analysis.RedFlags = redFlags(analysis)

	log.Debug().
		Str("repo", facts.FullName).
		Int("files", analysis.FileCount).
		Int("token_budget", analysis.TokenBudget).
		Int("red_flags", len(analysis.RedFlags)).
		Msg("repository analyzed")

	return analysis, nil
}

func (c *Client) fetchFacts(ctx context.Context, owner, repo string) (*RepoFacts, error) {
	result, err := c.guard.Do(ctx, func() (interface{}, error) {
		r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
		return r, err
	})
	if err != nil {
		return nil, mapError(err)
	}
	r := result.(*gh.Repository)

	facts := &RepoFacts{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		License:       r.GetLicense().GetSPDXID(),
		DefaultBranch: r.GetDefaultBranch(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
		PushedAt:      r.GetPushedAt().Time,
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		Topics:        r.Topics,
	}
	if facts.DefaultBranch == "" {
		facts.DefaultBranch = "main"
	}

	// Commit activity and contributors are best-effort; an empty repo
	// returns 409 for commits and that should not sink the analysis.
	if commits, err := c.guard.Do(ctx, func() (interface{}, error) {
		list, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, &gh.CommitsListOptions{
			Since:       time.Now().Add(-72 * time.Hour),
			ListOptions: gh.ListOptions{PerPage: 100},
		})
		return list, err
	}); err == nil {
		facts.Commits72h = len(commits.([]*gh.RepositoryCommit))
	}

	if contributors, err := c.guard.Do(ctx, func() (interface{}, error) {
		list, _, err := c.gh.Repositories.ListContributors(ctx, owner, repo, &gh.ListContributorsOptions{
			ListOptions: gh.ListOptions{PerPage: 5},
		})
		return list, err
	}); err == nil {
		for _, contrib := range contributors.([]*gh.Contributor) {
			facts.Contributors = append(facts.Contributors, Contributor{
				Login:         contrib.GetLogin(),
				Contributions: contrib.GetContributions(),
			})
		}
	}

	return facts, nil
}

func (c *Client) fetchManifest(ctx context.Context, owner, repo, branch string) ([]FileEntry, error) {
	result, err := c.guard.Do(ctx, func() (interface{}, error) {
		tree, _, err := c.gh.Git.GetTree(ctx, owner, repo, branch, true)
		return tree, err
	})
	if err != nil {
		return nil, mapError(err)
	}
	tree := result.(*gh.Tree)

	var manifest []FileEntry
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		p := entry.GetPath()
		relevance, rationale := labelFile(p)
		manifest = append(manifest, FileEntry{
			Path:      p,
			Bytes:     entry.GetSize(),
			Extension: strings.ToLower(path.Ext(p)),
			Relevance: relevance,
			Rationale: rationale,
		})
	}
	return manifest, nil
}

// dependencyManifests in preference order; the first three found
// become excerpts.
var dependencyManifests = []string{
	"package.json", "requirements.txt", "pyproject.toml", "Cargo.toml",
	"go.mod", "Gemfile", "composer.json", "build.gradle", "pom.xml", "foundry.toml",
}

const excerptLines = 40

func (c *Client) fetchExcerpts(ctx context.Context, owner, repo string, manifest []FileEntry) []DependencyExcerpt {
	var excerpts []DependencyExcerpt
	for _, name := range dependencyManifests {
		if len(excerpts) >= 3 {
			break
		}
		for _, f := range manifest {
			if path.Base(f.Path) != name {
				continue
			}
			content, err := c.FetchFile(ctx, owner, repo, f.Path)
			if err != nil {
				log.Debug().Err(err).Str("path", f.Path).Msg("dependency excerpt fetch failed")
				continue
			}
			excerpts = append(excerpts, DependencyExcerpt{
				Path:    f.Path,
				Content: headLines(content, excerptLines),
			})
			break
		}
	}
	return excerpts
}

// FetchFile downloads one blob's decoded content. The curator's
// packager uses this for every selected file.
func (c *Client) FetchFile(ctx context.Context, owner, repo, filePath string) (string, error) {
	result, err := c.guard.Do(ctx, func() (interface{}, error) {
		file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, filePath, nil)
		return file, err
	})
	if err != nil {
		return "", mapError(err)
	}
	file, ok := result.(*gh.RepositoryContent)
	if !ok || file == nil {
		return "", apperr.NotFoundf("file %s", filePath)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return content, nil
}

// labelFile assigns the relevance label for one path.
func labelFile(p string) (relevance, rationale string) {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	ext := path.Ext(base)

	switch {
	case isHidden(lower):
		return RelevanceLow, "hidden path"
	case isGenerated(lower, base):
		return RelevanceLow, "generated or vendored"
	case isBinary(ext):
		return RelevanceLow, "binary asset"
	case isTemp(base, ext):
		return RelevanceLow, "temporary file"
	case isTestFile(lower, base):
		return RelevanceMedium, "test file"
	case inCoreDir(lower):
		return RelevanceHigh, "core source directory"
	case isSourceExt(ext):
		return RelevanceMediumHigh, "source file outside core directories"
	case isDependencyManifest(base):
		return RelevanceMedium, "dependency manifest"
	case ext == ".md" || ext == ".rst":
		return RelevanceMedium, "documentation"
	default:
		return RelevanceLow, "unclassified"
	}
}

var coreDirs = []string{"src", "lib", "contracts", "cmd", "app"}

func inCoreDir(p string) bool {
	for _, seg := range strings.Split(path.Dir(p), "/") {
		for _, d := range coreDirs {
			if seg == d {
				return true
			}
		}
	}
	return false
}

var sourceExts = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".rs": true, ".go": true, ".sol": true, ".move": true, ".vy": true,
	".java": true, ".kt": true, ".swift": true, ".rb": true, ".php": true,
	".c": true, ".cpp": true, ".h": true, ".hpp": true, ".cs": true, ".scala": true,
}

func isSourceExt(ext string) bool { return sourceExts[ext] }

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".ico": true, ".svg": true, ".woff": true, ".woff2": true, ".ttf": true,
	".mp3": true, ".mp4": true, ".mov": true, ".webm": true,
	".zip": true, ".tar": true, ".gz": true, ".pdf": true, ".wasm": true,
	".so": true, ".dylib": true, ".dll": true, ".bin": true,
}

func isBinary(ext string) bool { return binaryExts[ext] }

func isHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}

func isGenerated(p, base string) bool {
	for _, dir := range []string{"node_modules/", "vendor/", "dist/", "build/", "__pycache__/", "target/"} {
		if strings.HasPrefix(p, dir) || strings.Contains(p, "/"+dir) {
			return true
		}
	}
	switch base {
	case "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum", "cargo.lock", "poetry.lock":
		return true
	}
	return strings.HasSuffix(base, ".min.js") || strings.HasSuffix(base, ".min.css")
}

func isTemp(base, ext string) bool {
	return strings.HasSuffix(base, "~") || ext == ".tmp" || ext == ".log" || ext == ".swp"
}

func isTestFile(p, base string) bool {
	if strings.Contains(p, "/test/") || strings.Contains(p, "/tests/") ||
		strings.HasPrefix(p, "test/") || strings.HasPrefix(p, "tests/") {
		return true
	}
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(base, ".test.") || strings.Contains(base, ".spec.")
}

func isDependencyManifest(base string) bool {
	for _, name := range dependencyManifests {
		if strings.EqualFold(base, name) {
			return true
		}
	}
	return false
}

func sizeBucket(bytes int) string {
	switch {
	case bytes < 1_000:
		return "<1kB"
	case bytes < 10_000:
		return "1-10kB"
	case bytes < 50_000:
		return "10-50kB"
	case bytes < 100_000:
		return "50-100kB"
	default:
		return ">100kB"
	}
}

// redFlags computes the automated heuristics the research prompt and
// the judges see.
func redFlags(a *Analysis) []RedFlag {
	var flags []RedFlag
	now := time.Now()

	if !a.Facts.CreatedAt.IsZero() &&
		now.Sub(a.Facts.CreatedAt) > 30*24*time.Hour &&
		now.Sub(lastActivity(a.Facts)) > 7*24*time.Hour {
		flags = append(flags, RedFlag{
			Kind: "stale_repo",
			Detail: fmt.Sprintf("created %s, last activity %s",
				a.Facts.CreatedAt.Format("2006-01-02"), lastActivity(a.Facts).Format("2006-01-02")),
		})
	}

	large := a.Histogram["50-100kB"] + a.Histogram[">100kB"]
	if large > 0 && a.Histogram["<1kB"] > a.Histogram["1-10kB"] {
		flags = append(flags, RedFlag{
			Kind: "dependency_bloat",
			Detail: fmt.Sprintf("%d files over 50kB with %d tiny files against %d medium ones",
				large, a.Histogram["<1kB"], a.Histogram["1-10kB"]),
		})
	}

	var low, core int
	for _, f := range a.Manifest {
		switch f.Relevance {
		case RelevanceLow:
			low++
		case RelevanceHigh, RelevanceMediumHigh:
			core++
		}
	}
	if low > 2*core {
		flags = append(flags, RedFlag{
			Kind:   "generated_code_ratio",
			Detail: fmt.Sprintf("%d low-relevance files vs %d source files", low, core),
		})
	}

	if a.FileCount < 10 {
		flags = append(flags, RedFlag{
			Kind:   "minimal_implementation",
			Detail: fmt.Sprintf("only %d files in the repository", a.FileCount),
		})
	}

	return flags
}

func lastActivity(f RepoFacts) time.Time {
	if f.PushedAt.After(f.UpdatedAt) {
		return f.PushedAt
	}
	return f.UpdatedAt
}

// TopEntries returns the n largest-relevance-first manifest entries for
// the curator's advisory prompt: high first, then medium-high, medium,
// low, each group by descending size.
func (a *Analysis) TopEntries(n int) []FileEntry {
	rank := map[string]int{RelevanceHigh: 0, RelevanceMediumHigh: 1, RelevanceMedium: 2, RelevanceLow: 3}
	sorted := make([]FileEntry, len(a.Manifest))
	copy(sorted, a.Manifest)
	sort.SliceStable(sorted, func(i, j int) bool {
		if rank[sorted[i].Relevance] != rank[sorted[j].Relevance] {
			return rank[sorted[i].Relevance] < rank[sorted[j].Relevance]
		}
		return sorted[i].Bytes > sorted[j].Bytes
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func headLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
