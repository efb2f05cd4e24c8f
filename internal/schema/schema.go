// Package schema is the registry of versioned submission field manifests.
// Each version enumerates the fields a submission carries, how they are
// validated, and which of them the store persists. The API surface, the
// store DDL, and the serializers all consult this registry so a field
// added to the manifest flows everywhere without code changes.
package schema

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field types supported by the manifest.
const (
	TypeText     = "text"
	TypeTextarea = "textarea"
	TypeURL      = "url"
	TypeSelect   = "select"
)

// Field describes one submission field in a manifest version.
type Field struct {
	Name      string   `yaml:"name" json:"name"`
	Label     string   `yaml:"label" json:"label"`
	Type      string   `yaml:"type" json:"type"`
	Required  bool     `yaml:"required" json:"required"`
	MaxLength int      `yaml:"max_length" json:"max_length,omitempty"`
	Options   []string `yaml:"options,omitempty" json:"options,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// UIOnly fields are validated on intake but never persisted.
	UIOnly bool `yaml:"ui_only,omitempty" json:"ui_only,omitempty"`

	re *regexp.Regexp
}

// Manifest is the ordered field list for one schema version.
type Manifest struct {
	Version string  `yaml:"version"`
	Fields  []Field `yaml:"fields"`
}

var fieldNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FieldError reports one validation failure against a manifest.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Registry holds every supported manifest version.
type Registry struct {
	manifests map[string]*Manifest
}

// registryFile is the on-disk YAML layout.
type registryFile struct {
	Versions []Manifest `yaml:"versions"`
}

// LoadRegistry reads a manifest file. Patterns are compiled eagerly so a
// bad regex fails at startup rather than on the first submission.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema manifest: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema manifest: %w", err)
	}
	if len(file.Versions) == 0 {
		return nil, fmt.Errorf("schema manifest %s declares no versions", path)
	}

	reg := &Registry{manifests: make(map[string]*Manifest, len(file.Versions))}
	for i := range file.Versions {
		m := file.Versions[i]
		if err := compileManifest(&m); err != nil {
			return nil, err
		}
		reg.manifests[m.Version] = &m
	}
	return reg, nil
}

// LoadRegistryOrDefault loads the manifest at path when it exists and
// falls back to the built-in registry otherwise.
func LoadRegistryOrDefault(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultRegistry(), nil
	}
	return LoadRegistry(path)
}

// DefaultRegistry returns the compiled-in manifests for v1 and v2.
func DefaultRegistry() *Registry {
	reg := &Registry{manifests: map[string]*Manifest{
		"v1": defaultV1(),
		"v2": defaultV2(),
	}}
	for _, m := range reg.manifests {
		if err := compileManifest(m); err != nil {
			// Built-in patterns are fixed strings; a failure here is a
			// programming error.
			panic(err)
		}
	}
	return reg
}

func compileManifest(m *Manifest) error {
	if m.Version == "" {
		return fmt.Errorf("schema manifest entry missing version")
	}
	seen := make(map[string]bool, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("schema %s: field %d has no name", m.Version, i)
		}
		// Field names become database identifiers.
		if !fieldNameRe.MatchString(f.Name) {
			return fmt.Errorf("schema %s: field name %q must match %s", m.Version, f.Name, fieldNameRe.String())
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %q", m.Version, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeText, TypeTextarea, TypeURL, TypeSelect:
		default:
			return fmt.Errorf("schema %s: field %q has unknown type %q", m.Version, f.Name, f.Type)
		}
		if f.Type == TypeSelect && len(f.Options) == 0 {
			return fmt.Errorf("schema %s: select field %q has no options", m.Version, f.Name)
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("schema %s: field %q pattern: %w", m.Version, f.Name, err)
			}
			f.re = re
		}
	}
	return nil
}

// Versions lists the supported schema versions in sorted order.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.manifests))
	for v := range r.manifests {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Latest returns the highest supported version.
func (r *Registry) Latest() string {
	versions := r.Versions()
	if len(versions) == 0 {
		return ""
	}
	return versions[len(versions)-1]
}

// Schema returns the full field descriptors for a version.
func (r *Registry) Schema(version string) ([]Field, error) {
	m, ok := r.manifests[version]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %q (supported: %s)", version, strings.Join(r.Versions(), ", "))
	}
	out := make([]Field, len(m.Fields))
	copy(out, m.Fields)
	return out, nil
}

// Fields returns every field name in a version, in manifest order.
func (r *Registry) Fields(version string) ([]string, error) {
	m, ok := r.manifests[version]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %q (supported: %s)", version, strings.Join(r.Versions(), ", "))
	}
	out := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		out = append(out, f.Name)
	}
	return out, nil
}

// DatabaseFields returns the persisted field names for a version, in
// manifest order. UI-only fields are excluded; the store derives its
// column layout from this list.
func (r *Registry) DatabaseFields(version string) ([]string, error) {
	m, ok := r.manifests[version]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %q (supported: %s)", version, strings.Join(r.Versions(), ", "))
	}
	out := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.UIOnly {
			continue
		}
		out = append(out, f.Name)
	}
	return out, nil
}

// Validate checks a submission payload against a manifest version and
// returns one entry per failing field. Unknown payload keys are ignored;
// intake copies only manifest fields into the stored row.
func (r *Registry) Validate(version string, payload map[string]string) ([]FieldError, error) {
	m, ok := r.manifests[version]
	if !ok {
		return nil, fmt.Errorf("unknown schema version %q (supported: %s)", version, strings.Join(r.Versions(), ", "))
	}

	var errs []FieldError
	for _, f := range m.Fields {
		value := strings.TrimSpace(payload[f.Name])
		if value == "" {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "is required"})
			}
			continue
		}
		if f.MaxLength > 0 && len(value) > f.MaxLength {
			errs = append(errs, FieldError{Field: f.Name, Message: fmt.Sprintf("exceeds %d characters", f.MaxLength)})
			continue
		}
		switch f.Type {
		case TypeURL:
			if !validURL(value) {
				errs = append(errs, FieldError{Field: f.Name, Message: "must be a valid http(s) URL"})
				continue
			}
		case TypeSelect:
			if !contains(f.Options, value) {
				errs = append(errs, FieldError{Field: f.Name, Message: fmt.Sprintf("must be one of: %s", strings.Join(f.Options, ", "))})
				continue
			}
		}
		if f.re != nil && !f.re.MatchString(value) {
			errs = append(errs, FieldError{Field: f.Name, Message: "has an invalid format"})
		}
	}
	return errs, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

// Categories available to submissions. Kept in one place because the
// leaderboard and stats endpoints group by them.
var Categories = []string{"DeFi", "AI/Agents", "Gaming", "Infrastructure", "Social", "Other"}

func defaultV1() *Manifest {
	return &Manifest{
		Version: "v1",
		Fields: []Field{
			{Name: "project_name", Label: "Project Name", Type: TypeText, Required: true, MaxLength: 100},
			{Name: "category", Label: "Category", Type: TypeSelect, Required: true, Options: Categories},
			{Name: "description", Label: "Description", Type: TypeTextarea, Required: true, MaxLength: 2000},
			{Name: "github_url", Label: "GitHub Repository", Type: TypeURL, Required: true, MaxLength: 300, Pattern: `^https?://(www\.)?github\.com/[^/]+/[^/]+`},
			{Name: "demo_video_url", Label: "Demo Video", Type: TypeURL, Required: true, MaxLength: 300},
			{Name: "problem_solved", Label: "What problem does it solve?", Type: TypeTextarea, Required: true, MaxLength: 1000},
			{Name: "favorite_part", Label: "What is your favorite part?", Type: TypeTextarea, Required: true, MaxLength: 1000},
			{Name: "twitter_handle", Label: "Twitter / X Handle", Type: TypeText, Required: false, MaxLength: 50, Pattern: `^@?[A-Za-z0-9_]{1,15}$`},
			{Name: "project_image", Label: "Project Image", Type: TypeText, Required: false, MaxLength: 300},
			{Name: "how_heard", Label: "How did you hear about us?", Type: TypeSelect, Required: false, Options: []string{"Discord", "Twitter", "Friend", "Other"}, UIOnly: true},
		},
	}
}

func defaultV2() *Manifest {
	m := defaultV1()
	m.Version = "v2"
	m.Fields = append(m.Fields,
		Field{Name: "solana_address", Label: "Solana Address", Type: TypeText, Required: false, MaxLength: 50, Pattern: `^[1-9A-HJ-NP-Za-km-z]{32,44}$`},
		Field{Name: "discord_handle", Label: "Discord Handle", Type: TypeText, Required: false, MaxLength: 100},
	)
	return m
}
