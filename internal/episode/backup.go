// Package episode holds the offline artifacts around the live
// pipeline: submission backups, the episode export consumed by media
// generation, and the static JSON dumps a frontend can serve without
// the API.
package episode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

const backupTimeFormat = "20060102T150405"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// WriteBackup snapshots a submission to a timestamped JSON file and
// returns the path. Every create and edit leaves one behind so a bad
// migration or an accidental delete is recoverable.
func WriteBackup(dir string, sub *store.Submission) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no backup directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json",
		unsafeNameChars.ReplaceAllString(sub.ID, "_"),
		time.Now().UTC().Format(backupTimeFormat))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}

// BackupSubmission writes a backup and logs rather than fails; callers
// on the request path never block a submission on backup I/O.
func BackupSubmission(dir string, sub *store.Submission) {
	path, err := WriteBackup(dir, sub)
	if err != nil {
		log.Warn().Err(err).Str("submission", sub.ID).Msg("submission backup failed")
		return
	}
	log.Debug().Str("path", path).Msg("submission backed up")
}

// LatestBackup loads the most recent backup for a submission id.
func LatestBackup(dir, submissionID string) (*store.Submission, string, error) {
	prefix := unsafeNameChars.ReplaceAllString(submissionID, "_") + "_"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > len(prefix) && name[:len(prefix)] == prefix && filepath.Ext(name) == ".json" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, "", apperr.NotFoundf("backup for submission %s", submissionID)
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	path := filepath.Join(dir, names[len(names)-1])

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read backup %s: %w", path, err)
	}
	var sub store.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, "", fmt.Errorf("backup %s is corrupt: %w", path, err)
	}
	return &sub, path, nil
}
