package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/leaderboard"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// Episode is the export consumed by downstream media generation. One
// file per run, containing every finished entry with both rounds of
// judge scores and the community result.
type Episode struct {
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"schema_version"`
	Entries     []Entry   `json:"entries"`
}

// Entry is one submission's full record inside an episode.
type Entry struct {
	SubmissionID string            `json:"submission_id"`
	Status       string            `json:"status"`
	Fields       map[string]string `json:"fields"`

	Scores        []JudgeScore          `json:"scores"`
	WeightedSum   float64               `json:"weighted_sum"`
	AverageScore  float64               `json:"average_score"`
	Community     *votes.CommunityScore `json:"community,omitempty"`
	ResearchNotes json.RawMessage       `json:"research_notes,omitempty"`
}

// JudgeScore is one judge's verdict in one round, flattened for the
// renderer.
type JudgeScore struct {
	Judge              string  `json:"judge"`
	Round              int     `json:"round"`
	Innovation         float64 `json:"innovation"`
	TechnicalExecution float64 `json:"technical_execution"`
	MarketPotential    float64 `json:"market_potential"`
	UserExperience     float64 `json:"user_experience"`
	WeightedTotal      float64 `json:"weighted_total"`
	FinalVerdict       string  `json:"final_verdict,omitempty"`
}

// Exporter reads finished submissions into export files.
type Exporter struct {
	store    *store.Store
	holders  *votes.Holders
	scoreCfg votes.ScoreConfig
}

func NewExporter(st *store.Store, holders *votes.Holders, scoreCfg votes.ScoreConfig) *Exporter {
	return &Exporter{store: st, holders: holders, scoreCfg: scoreCfg}
}

// BuildEpisode assembles the episode for every completed or published
// submission in a schema version.
func (e *Exporter) BuildEpisode(ctx context.Context, version string) (*Episode, error) {
	var subs []*store.Submission
	for _, status := range []string{store.StatusCompleted, store.StatusPublished} {
		batch, err := e.store.ListSubmissions(ctx, version, status)
		if err != nil {
			return nil, err
		}
		subs = append(subs, batch...)
	}

	voteRows, err := e.store.ListAllVotes(ctx)
	if err != nil {
		return nil, err
	}
	community := make(map[string]*votes.CommunityScore)
	for _, cs := range votes.ComputeAll(voteRows, e.holders, e.scoreCfg) {
		community[cs.SubmissionID] = cs
	}

	ep := &Episode{
		GeneratedAt: time.Now().UTC(),
		Version:     version,
		Entries:     make([]Entry, 0, len(subs)),
	}
	for _, sub := range subs {
		entry, err := e.buildEntry(ctx, sub, community[sub.ID])
		if err != nil {
			return nil, err
		}
		ep.Entries = append(ep.Entries, *entry)
	}

	// Highest combined score leads the show.
	sort.SliceStable(ep.Entries, func(i, j int) bool {
		return ep.Entries[i].WeightedSum > ep.Entries[j].WeightedSum
	})
	return ep, nil
}

func (e *Exporter) buildEntry(ctx context.Context, sub *store.Submission, cs *votes.CommunityScore) (*Entry, error) {
	scores, err := e.store.LatestScores(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		Fields:       sub.Fields,
		Community:    cs,
	}

	latest := make(map[string]store.Score)
	for _, s := range scores {
		entry.Scores = append(entry.Scores, JudgeScore{
			Judge:              s.JudgeName,
			Round:              s.Round,
			Innovation:         s.Innovation,
			TechnicalExecution: s.TechnicalExecution,
			MarketPotential:    s.MarketPotential,
			UserExperience:     s.UserExperience,
			WeightedTotal:      s.WeightedTotal,
			FinalVerdict:       deref(s.FinalVerdict),
		})
		if cur, ok := latest[s.JudgeName]; !ok || s.Round > cur.Round {
			latest[s.JudgeName] = s
		}
	}
	for _, s := range latest {
		entry.WeightedSum += s.WeightedTotal
	}
	if len(latest) > 0 {
		entry.AverageScore = entry.WeightedSum / float64(len(latest)) / 4
	}

	sort.SliceStable(entry.Scores, func(i, j int) bool {
		if entry.Scores[i].Round != entry.Scores[j].Round {
			return entry.Scores[i].Round < entry.Scores[j].Round
		}
		return entry.Scores[i].Judge < entry.Scores[j].Judge
	})

	if research, err := e.store.GetResearch(ctx, sub.ID); err == nil {
		entry.ResearchNotes = research.TechnicalAssessment
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}
	return entry, nil
}

// WriteEpisode builds the episode and writes it to path.
func (e *Exporter) WriteEpisode(ctx context.Context, version, path string) (*Episode, error) {
	ep, err := e.BuildEpisode(ctx, version)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if err := writeJSONFile(path, ep); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("entries", len(ep.Entries)).Msg("episode exported")
	return ep, nil
}

// Static export tables. Table-name input is validated against this
// list before anything touches the filesystem.
var staticTables = []string{"submissions", "leaderboard", "community_scores", "stats"}

// StaticTables returns the exportable table names.
func StaticTables() []string {
	return append([]string(nil), staticTables...)
}

func validTable(name string) bool {
	for _, t := range staticTables {
		if t == name {
			return true
		}
	}
	return false
}

// ExportStatic dumps the requested tables as JSON files under dir. An
// empty table list exports everything.
func (e *Exporter) ExportStatic(ctx context.Context, version, dir string, tables []string) error {
	if len(tables) == 0 {
		tables = staticTables
	}
	for _, t := range tables {
		if !validTable(t) {
			return apperr.Validationf("unknown table %q (allowed: %s)", t, strings.Join(staticTables, ", "))
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	for _, table := range tables {
		data, err := e.staticTable(ctx, version, table)
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", table, err)
		}
		path := filepath.Join(dir, table+".json")
		if err := writeJSONFile(path, data); err != nil {
			return err
		}
		log.Info().Str("table", table).Str("path", path).Msg("static table exported")
	}
	return nil
}

func (e *Exporter) staticTable(ctx context.Context, version, table string) (interface{}, error) {
	switch table {
	case "submissions":
		subs, err := e.store.ListSubmissions(ctx, version, "")
		if err != nil {
			return nil, err
		}
		// Public dump: strip owner identities.
		out := make([]map[string]interface{}, 0, len(subs))
		for _, sub := range subs {
			row := map[string]interface{}{
				"submission_id": sub.ID,
				"status":        sub.Status,
				"created_at":    sub.CreatedAt,
			}
			for k, v := range sub.Fields {
				row[k] = v
			}
			out = append(out, row)
		}
		return out, nil
	case "leaderboard":
		return leaderboard.Build(ctx, e.store, version, e.holders, e.scoreCfg)
	case "community_scores":
		voteRows, err := e.store.ListAllVotes(ctx)
		if err != nil {
			return nil, err
		}
		return votes.ComputeAll(voteRows, e.holders, e.scoreCfg), nil
	case "stats":
		counts, err := e.store.CountByStatus(ctx, version)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"by_status": counts, "generated_at": time.Now().UTC()}, nil
	default:
		return nil, apperr.Validationf("unknown table %q", table)
	}
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
