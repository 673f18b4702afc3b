// Package pattern implements the pure text matching and rewriting used to plan
// migrations. Nothing in this package performs I/O.
package pattern

import (
	"bytes"
	"regexp"

	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// Mode selects how a pattern is interpreted
type Mode string

const (
	// ModeLiteral matches the pattern as a plain substring
	ModeLiteral Mode = "literal"
	// ModeRegex matches the pattern as an RE2 regular expression
	ModeRegex Mode = "regex"
)

// extraPasses is added to the content length to bound the fixpoint iteration
// in Rewrite. A converging rewrite that shrinks or keeps the content length
// settles within len(content) passes.
const extraPasses = 8

// Matcher is a compiled pattern/replacement pair. It is immutable and safe for
// concurrent use.
type Matcher struct {
	mode        Mode
	pattern     []byte
	replacement []byte
	re          *regexp.Regexp

	// skipReplacement is set in literal mode when the replacement itself
	// contains the pattern; occurrences of the replacement are then treated as
	// already migrated. Regex mode does the same per match in rewriteRegex.
	skipReplacement bool
}

// Compile validates pattern for the given mode and returns a Matcher
func Compile(mode Mode, pattern, replacement string) (*Matcher, error) {
	if pattern == "" {
		return nil, goerr.New("pattern must not be empty", goerr.T(types.ErrTagInvalidPattern))
	}

	m := &Matcher{
		mode:        mode,
		pattern:     []byte(pattern),
		replacement: []byte(replacement),
	}

	switch mode {
	case ModeLiteral, "":
		m.mode = ModeLiteral
		m.skipReplacement = bytes.Contains(m.replacement, m.pattern)

	case ModeRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to compile regular expression",
				goerr.T(types.ErrTagInvalidPattern),
				goerr.V("pattern", pattern))
		}
		if re.Match(nil) {
			return nil, goerr.New("regular expression matches the empty string",
				goerr.T(types.ErrTagInvalidPattern),
				goerr.V("pattern", pattern))
		}
		m.re = re

	default:
		return nil, goerr.New("unknown pattern mode",
			goerr.T(types.ErrTagInvalidPattern),
			goerr.V("mode", mode))
	}

	return m, nil
}

// Mode returns the interpretation mode of the matcher
func (m *Matcher) Mode() Mode { return m.mode }

// Pattern returns the source pattern
func (m *Matcher) Pattern() string { return string(m.pattern) }

// Replacement returns the replacement template
func (m *Matcher) Replacement() string { return string(m.replacement) }

// Match reports whether content contains at least one occurrence of the pattern
func (m *Matcher) Match(content []byte) bool {
	if m.re != nil {
		return m.re.Match(content)
	}
	return bytes.Contains(content, m.pattern)
}

// Rewrite replaces every occurrence of the pattern in content. The result is a
// fixpoint: rewriting it again yields the same bytes. Content without an
// occurrence is returned unchanged. An occurrence that already sits inside its
// own replacement is left alone. A rewrite that keeps producing new
// occurrences fails with an InvalidPattern error.
func (m *Matcher) Rewrite(content []byte) ([]byte, error) {
	passes := len(content) + extraPasses
	current := content
	for range passes {
		if !m.Match(current) {
			return current, nil
		}

		next := m.rewriteOnce(current)
		if bytes.Equal(next, current) {
			return current, nil
		}
		current = next
	}

	return nil, goerr.New("rewrite does not converge",
		goerr.T(types.ErrTagInvalidPattern),
		goerr.V("pattern", string(m.pattern)),
		goerr.V("replacement", string(m.replacement)),
		goerr.V("passes", passes))
}

func (m *Matcher) rewriteOnce(content []byte) []byte {
	if m.re != nil {
		return m.rewriteRegex(content)
	}
	if !m.skipReplacement {
		return bytes.ReplaceAll(content, m.pattern, m.replacement)
	}

	var buf bytes.Buffer
	buf.Grow(len(content))
	rest := content
	for len(rest) > 0 {
		ip := bytes.Index(rest, m.pattern)
		if ip < 0 {
			buf.Write(rest)
			break
		}

		ir := bytes.Index(rest, m.replacement)
		if ir >= 0 && ir <= ip {
			end := ir + len(m.replacement)
			buf.Write(rest[:end])
			rest = rest[end:]
			continue
		}

		buf.Write(rest[:ip])
		buf.Write(m.replacement)
		rest = rest[ip+len(m.pattern):]
	}
	return buf.Bytes()
}

func (m *Matcher) rewriteRegex(content []byte) []byte {
	matches := m.re.FindAllSubmatchIndex(content, -1)
	if matches == nil {
		return content
	}

	var buf bytes.Buffer
	buf.Grow(len(content))
	last := 0
	for _, sm := range matches {
		start, end := sm[0], sm[1]
		expanded := m.re.Expand(nil, m.replacement, content, sm)

		buf.Write(content[last:start])
		if withinExpansion(content, start, end, expanded) {
			buf.Write(content[start:end])
		} else {
			buf.Write(expanded)
		}
		last = end
	}
	buf.Write(content[last:])
	return buf.Bytes()
}

// withinExpansion reports whether content[start:end] is part of an occurrence
// of expanded that covers it
func withinExpansion(content []byte, start, end int, expanded []byte) bool {
	match := content[start:end]
	for off := 0; off+len(match) <= len(expanded); off++ {
		if !bytes.Equal(expanded[off:off+len(match)], match) {
			continue
		}
		from := start - off
		if from < 0 || from+len(expanded) > len(content) {
			continue
		}
		if bytes.Equal(content[from:from+len(expanded)], expanded) {
			return true
		}
	}
	return false
}

// Match is a convenience wrapper that compiles pattern and tests content
func Match(content []byte, mode Mode, pattern string) (bool, error) {
	m, err := Compile(mode, pattern, "")
	if err != nil {
		return false, err
	}
	return m.Match(content), nil
}

// Rewrite is a convenience wrapper that compiles pattern and rewrites content
func Rewrite(content []byte, mode Mode, pattern, replacement string) ([]byte, error) {
	m, err := Compile(mode, pattern, replacement)
	if err != nil {
		return nil, err
	}
	return m.Rewrite(content)
}
