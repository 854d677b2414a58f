package filesearch

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Matcher matches relative paths against gitignore-style patterns. The
// zero value matches nothing.
type Matcher struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	re       *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
}

// LoadMatcher parses a .gitignore file. A missing file yields an empty
// matcher.
func LoadMatcher(path string) (*Matcher, error) {
	m := &Matcher{}
	if path == "" {
		return m, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p, ok := parsePattern(line); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Matches reports whether a relative path should be ignored. Later
// patterns override earlier ones, and negations re-include.
func (m *Matcher) Matches(path string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	path = filepath.ToSlash(path)

	ignored := false
	for _, p := range m.patterns {
		var hit bool
		switch {
		case p.dirOnly:
			if isDir {
				hit = p.re.MatchString(path)
			} else {
				// Files inside an ignored directory.
				hit = p.re.MatchString(filepath.ToSlash(filepath.Dir(path)))
			}
		case p.anchored:
			hit = p.re.MatchString(path)
		default:
			hit = p.re.MatchString(path) || p.re.MatchString(filepath.ToSlash(filepath.Base(path)))
		}
		if hit {
			ignored = !p.negation
		}
	}
	return ignored
}

// parsePattern compiles one gitignore line. Invalid patterns are dropped.
func parsePattern(line string) (ignorePattern, bool) {
	p := ignorePattern{}
	if strings.HasPrefix(line, "!") {
		p.negation = true
		line = line[1:]
	}
	p.anchored = strings.HasPrefix(line, "/")
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	re, err := regexp.Compile(ignoreGlobToRegex(line))
	if err != nil {
		return p, false
	}
	p.re = re
	return p, true
}

// ignoreGlobToRegex converts a gitignore glob to a regexp source. Patterns
// starting with / anchor at the root; others match at any path segment.
func ignoreGlobToRegex(pattern string) string {
	var b strings.Builder
	if strings.HasPrefix(pattern, "/") {
		b.WriteString("^")
		pattern = pattern[1:]
	} else {
		b.WriteString("(^|/)")
	}

	for i := 0; i < len(pattern); {
		switch c := pattern[i]; c {
		case '*':
			switch {
			case strings.HasPrefix(pattern[i:], "**/"):
				b.WriteString("(.*/)?")
				i += 3
			case strings.HasPrefix(pattern[i:], "**"):
				b.WriteString(".*")
				i += 2
			default:
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				i++
				break
			}
			b.WriteString(pattern[i : i+end+1])
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	b.WriteString("($|/)")
	return b.String()
}
