package research

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

// FileCache stores one report per submission as JSON on disk. A report
// older than the TTL counts as a miss.
type FileCache struct {
	dir string
	ttl time.Duration
}

func NewFileCache(dir string, ttl time.Duration) *FileCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FileCache{dir: dir, ttl: ttl}
}

var unsafeCacheChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func (c *FileCache) path(submissionID string) string {
	return filepath.Join(c.dir, unsafeCacheChars.ReplaceAllString(submissionID, "_")+".json")
}

// Get returns the cached report if it is younger than the TTL.
func (c *FileCache) Get(submissionID string) (*Report, bool) {
	if c == nil || c.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path(submissionID))
	if err != nil {
		return nil, false
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		log.Warn().Err(err).Str("submission_id", submissionID).Msg("research cache entry unreadable, ignoring")
		return nil, false
	}
	if time.Since(report.GeneratedAt) > c.ttl {
		return nil, false
	}
	return &report, true
}

// Put writes the report, creating the cache directory on first use.
func (c *FileCache) Put(report *Report) error {
	if c == nil || c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(report.SubmissionID), data, 0o644)
}
