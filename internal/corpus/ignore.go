package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile lists paths the loader skips, in .gitignore syntax. Only the
// file at the corpus root is read.
const IgnoreFile = ".amanragignore"

// IgnoreRules matches slash-separated paths relative to the corpus root.
// The zero value and nil ignore nothing.
type IgnoreRules struct {
	rules []ignoreRule
}

type ignoreRule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// LoadIgnoreFile reads root/.amanragignore. A missing file yields no rules.
func LoadIgnoreFile(root string) (*IgnoreRules, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if os.IsNotExist(err) {
		return &IgnoreRules{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", IgnoreFile, err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFile, err)
	}
	return ParseIgnore(lines...), nil
}

// ParseIgnore compiles patterns. Blank lines and # comments are skipped;
// "!" re-includes, a trailing "/" matches directories only and a "/"
// anywhere else anchors the pattern to the root.
func ParseIgnore(patterns ...string) *IgnoreRules {
	r := &IgnoreRules{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		var rule ignoreRule
		if strings.HasPrefix(p, "!") {
			rule.negate = true
			p = p[1:]
		} else if strings.HasPrefix(p, `\!`) || strings.HasPrefix(p, `\#`) {
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			rule.dirOnly = true
			p = strings.TrimRight(p, "/")
		}
		if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
			rule.anchored = true
			p = strings.TrimPrefix(p, "/")
		}
		p = strings.TrimPrefix(p, "**/")
		if p == "" {
			continue
		}
		rule.re = regexp.MustCompile("^" + globToRegexp(p) + "$")
		r.rules = append(r.rules, rule)
	}
	return r
}

// Match reports whether relPath is ignored. The last matching rule wins.
func (r *IgnoreRules) Match(relPath string, isDir bool) bool {
	if r == nil || len(r.rules) == 0 {
		return false
	}
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	ignored := false
	for _, rule := range r.rules {
		if rule.matches(relPath, isDir) {
			ignored = !rule.negate
		}
	}
	return ignored
}

// Len returns the number of compiled rules.
func (r *IgnoreRules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// matches checks the path and each of its parent directories, so a rule
// matching a directory also covers everything below it.
func (rule ignoreRule) matches(path string, isDir bool) bool {
	parts := strings.Split(path, "/")
	for i := range parts {
		// Every component but the last is a directory.
		dir := i < len(parts)-1 || isDir
		if rule.dirOnly && !dir {
			continue
		}
		candidate := parts[i]
		if rule.anchored {
			candidate = strings.Join(parts[:i+1], "/")
		}
		if rule.re.MatchString(candidate) {
			return true
		}
	}
	return false
}

// globToRegexp translates "*", "**", "?" and "[...]" glob syntax.
func globToRegexp(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				i++
				if i+1 < len(glob) && glob[i+1] == '/' {
					// "a/**/b" matches zero or more directories.
					i++
					sb.WriteString("(?:.*/)?")
				} else {
					sb.WriteString(".*")
				}
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}
