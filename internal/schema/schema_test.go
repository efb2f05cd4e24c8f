package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() map[string]string {
	return map[string]string{
		"project_name":   "Vote Quadratic",
		"category":       "DeFi",
		"description":    "Quadratic funding for hackathon prizes.",
		"github_url":     "https://github.com/acme/vote-quadratic",
		"demo_video_url": "https://youtu.be/abc123",
		"problem_solved": "Prize allocation is plutocratic.",
		"favorite_part":  "The memo parser.",
	}
}

func TestDefaultRegistryVersions(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{"v1", "v2"}, reg.Versions())
	assert.Equal(t, "v2", reg.Latest())
}

func TestDatabaseFieldsExcludeUIOnly(t *testing.T) {
	reg := DefaultRegistry()

	all, err := reg.Fields("v1")
	require.NoError(t, err)
	db, err := reg.DatabaseFields("v1")
	require.NoError(t, err)

	assert.Contains(t, all, "how_heard")
	assert.NotContains(t, db, "how_heard")
	assert.Len(t, db, len(all)-1)
}

func TestV2AddsWalletFields(t *testing.T) {
	reg := DefaultRegistry()
	db, err := reg.DatabaseFields("v2")
	require.NoError(t, err)

	assert.Contains(t, db, "solana_address")
	assert.Contains(t, db, "discord_handle")
}

func TestValidateAcceptsCompletePayload(t *testing.T) {
	reg := DefaultRegistry()
	errs, err := reg.Validate("v1", validPayload())
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestValidateFieldRules(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name      string
		mutate    func(map[string]string)
		wantField string
	}{
		{
			name:      "missing required",
			mutate:    func(p map[string]string) { delete(p, "project_name") },
			wantField: "project_name",
		},
		{
			name:      "blank required",
			mutate:    func(p map[string]string) { p["description"] = "   " },
			wantField: "description",
		},
		{
			name:      "bad category",
			mutate:    func(p map[string]string) { p["category"] = "Quantum" },
			wantField: "category",
		},
		{
			name:      "non-github repo url",
			mutate:    func(p map[string]string) { p["github_url"] = "https://gitlab.com/acme/x" },
			wantField: "github_url",
		},
		{
			name:      "not a url",
			mutate:    func(p map[string]string) { p["demo_video_url"] = "watch my demo" },
			wantField: "demo_video_url",
		},
		{
			name:      "twitter handle too long",
			mutate:    func(p map[string]string) { p["twitter_handle"] = "@this_handle_is_way_too_long" },
			wantField: "twitter_handle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload()
			tt.mutate(payload)

			errs, err := reg.Validate("v1", payload)
			require.NoError(t, err)
			require.NotEmpty(t, errs)
			assert.Equal(t, tt.wantField, errs[0].Field)
		})
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	reg := DefaultRegistry()
	errs, err := reg.Validate("v1", map[string]string{"category": "Nope"})
	require.NoError(t, err)

	// Every required field missing plus one bad select value.
	assert.GreaterOrEqual(t, len(errs), 6)
}

func TestValidateIgnoresUnknownKeys(t *testing.T) {
	reg := DefaultRegistry()
	payload := validPayload()
	payload["tracking_pixel"] = "ignored"

	errs, err := reg.Validate("v1", payload)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestUnknownVersion(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Validate("v9", validPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v1, v2")
}

func TestLoadRegistryFromFile(t *testing.T) {
	manifest := `versions:
  - version: v1
    fields:
      - name: project_name
        label: Project Name
        type: text
        required: true
        max_length: 40
      - name: category
        label: Category
        type: select
        required: true
        options: [DeFi, Other]
`
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, reg.Versions())

	errs, err := reg.Validate("v1", map[string]string{"project_name": "x", "category": "DeFi"})
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestLoadRegistryRejectsBadManifests(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{
			name: "unknown field type",
			manifest: `versions:
  - version: v1
    fields:
      - {name: a, label: A, type: checkbox}
`,
		},
		{
			name: "select without options",
			manifest: `versions:
  - version: v1
    fields:
      - {name: a, label: A, type: select}
`,
		},
		{
			name: "duplicate field",
			manifest: `versions:
  - version: v1
    fields:
      - {name: a, label: A, type: text}
      - {name: a, label: A again, type: text}
`,
		},
		{
			name: "bad pattern",
			manifest: `versions:
  - version: v1
    fields:
      - {name: a, label: A, type: text, pattern: "(["}
`,
		},
		{
			name:     "no versions",
			manifest: `versions: []`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "schema.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.manifest), 0o644))
			_, err := LoadRegistry(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistryOrDefaultFallsBack(t *testing.T) {
	reg, err := LoadRegistryOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "v2", reg.Latest())
}
