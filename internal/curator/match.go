package curator

import (
	"regexp"
	"strings"
)

// matcher applies a settings record to paths. Patterns compile once;
// an invalid pattern simply never matches.
type matcher struct {
	include []patternFn
	exclude []patternFn
}

type patternFn func(path string) bool

func newMatcher(s *Settings) *matcher {
	m := &matcher{}
	for _, p := range s.IncludePatterns {
		if fn := compilePattern(p); fn != nil {
			m.include = append(m.include, fn)
		}
	}
	for _, p := range s.ExcludePatterns {
		if fn := compilePattern(p); fn != nil {
			m.exclude = append(m.exclude, fn)
		}
	}
	return m
}

// Selects reports whether path passes the include list and none of the
// excludes.
func (m *matcher) Selects(path string) bool {
	for _, fn := range m.exclude {
		if fn(path) {
			return false
		}
	}
	for _, fn := range m.include {
		if fn(path) {
			return true
		}
	}
	return false
}

// compilePattern supports four forms: glob patterns (with ** crossing
// directories), bare extension suffixes like ".log", bare names like
// "node_modules" matching any path segment, and literal paths like
// "src/generated" matching that path and everything under it.
func compilePattern(pattern string) patternFn {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}

	if !strings.ContainsAny(pattern, "*?") {
		if strings.Contains(pattern, "/") {
			prefix := strings.TrimSuffix(pattern, "/")
			return func(p string) bool {
				return p == prefix || strings.HasPrefix(p, prefix+"/")
			}
		}
		if strings.HasPrefix(pattern, ".") {
			suffix := pattern
			return func(p string) bool { return strings.HasSuffix(p, suffix) }
		}
		name := pattern
		return func(p string) bool {
			for _, seg := range strings.Split(p, "/") {
				if seg == name {
					return true
				}
			}
			return false
		}
	}

	re, err := globRegexp(pattern)
	if err != nil {
		return nil
	}
	return re.MatchString
}

func globRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					i++
					b.WriteString(`(?:[^/]+/)*`)
				} else {
					b.WriteString(`.*`)
				}
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			b.WriteString(`[^/]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
