package curator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/github"
)

// snapshotBudget bounds the concatenated snapshot handed to the
// research prompt.
const snapshotBudget = 300_000

// Package fetches the selected files and concatenates them into one
// textual snapshot. Files over their size cap are skipped, fetch
// failures are logged and skipped, and the snapshot stops at the
// budget.
func Package(ctx context.Context, client *github.Client, repoURL string, analysis *github.Analysis, settings *Settings) (string, error) {
	owner, repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}

	m := newMatcher(settings)
	var b strings.Builder
	included := 0

	for _, f := range analysis.TopEntries(len(analysis.Manifest)) {
		if !m.Selects(f.Path) {
			continue
		}
		if f.Bytes > fileCap(f, settings) {
			continue
		}
		if b.Len()+f.Bytes > snapshotBudget {
			continue
		}

		content, err := client.FetchFile(ctx, owner, repo, f.Path)
		if err != nil {
			log.Debug().Err(err).Str("path", f.Path).Msg("snapshot fetch skipped")
			continue
		}

		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Path, content)
		included++

		if b.Len() >= snapshotBudget {
			break
		}
	}

	log.Debug().
		Str("repo", analysis.Facts.FullName).
		Int("files", included).
		Int("bytes", b.Len()).
		Str("selection", settings.Source).
		Msg("repo snapshot packaged")

	return b.String(), nil
}

func fileCap(f github.FileEntry, s *Settings) int {
	if f.Relevance == github.RelevanceHigh || f.Relevance == github.RelevanceMediumHigh {
		return s.CoreCodeMax
	}
	return s.OtherFileMax
}
