package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/dynbus/pkg/cache"
)

var patternCache cache.Cache[*regexp.Regexp]

func init() {
	var err error
	patternCache, err = cache.NewLRU[*regexp.Regexp](256)
	if err != nil {
		panic(fmt.Sprintf("filter: pattern cache: %v", err))
	}
}

// compilePattern turns a MATCH or LIKE pattern into an anchored regexp.
//
// MATCH takes a comma-separated list of shell-style wildcards ('*', '?',
// '[...]'); LIKE takes an SQL pattern ('%' any run, '_' one character).
func compilePattern(pattern string, like bool) (*regexp.Regexp, error) {
	key := patternOp(like) + ":" + pattern
	if re, ok := patternCache.Get(key); ok {
		return re, nil
	}

	var src string
	if like {
		src = "^" + likeToRegexp(pattern) + "$"
	} else {
		alts := strings.Split(pattern, ",")
		for i, a := range alts {
			g, err := globToRegexp(strings.TrimSpace(a))
			if err != nil {
				return nil, err
			}
			alts[i] = g
		}
		src = "^(?:" + strings.Join(alts, "|") + ")$"
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if _, err := patternCache.Set(key, re); err != nil {
		return nil, err
	}
	return re, nil
}

func likeToRegexp(p string) string {
	var sb strings.Builder
	for _, r := range p {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return sb.String()
}

func globToRegexp(p string) (string, error) {
	var sb strings.Builder
	rs := []rune(p)
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '\\':
			if i+1 < len(rs) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(rs[i])))
			}
		case '[':
			end := i + 1
			for end < len(rs) && rs[end] != ']' {
				end++
			}
			if end >= len(rs) {
				return "", fmt.Errorf("unterminated character class in %q", p)
			}
			class := string(rs[i+1 : end])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + class + "]")
			i = end
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return sb.String(), nil
}
