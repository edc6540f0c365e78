// Package matcher provides the pattern-scanning capability used by codebase
// search. Patterns compile to Go's RE2 engine (linear time, no pathological
// backtracking); plain literals take a faster Aho-Corasick DFA path.
package matcher

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	aho "github.com/petar-dambovaliev/aho-corasick"

	"github.com/corey/curserve/internal/ports"
)

// ErrInvalidPattern indicates the pattern failed to compile. The compiler's
// diagnostic is attached via wrapping.
var ErrInvalidPattern = errors.New("invalid pattern")

// Engine implements ports.Matcher.
type Engine struct{}

// New creates a pattern engine.
func New() *Engine {
	return &Engine{}
}

// regexMeta is the set of characters that make a pattern non-literal.
const regexMeta = `\.+*?()|[]{}^$`

// Compile builds a scanner for pattern. Literals (no regex metacharacters)
// compile to an Aho-Corasick automaton; everything else goes through regexp.
func (e *Engine) Compile(pattern string, caseSensitive bool) (ports.CompiledPattern, error) {
	if pattern != "" && !strings.ContainsAny(pattern, regexMeta) {
		// StandardMatch (the default) is required for overlapping iteration.
		builder := aho.NewAhoCorasickBuilder(aho.Opts{
			AsciiCaseInsensitive: !caseSensitive,
			DFA:                  true,
		})
		automaton := builder.Build([]string{pattern})
		return &literalPattern{automaton: automaton}, nil
	}

	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &regexPattern{re: re}, nil
}

type literalPattern struct {
	automaton aho.AhoCorasick
}

func (p *literalPattern) Scan(buf []byte) []ports.LineMatch {
	var starts []int
	iter := p.automaton.IterOverlappingByte(buf)
	for next := iter.Next(); next != nil; next = iter.Next() {
		starts = append(starts, next.Start())
	}
	sort.Ints(starts)
	return matchesToLines(buf, starts)
}

type regexPattern struct {
	re *regexp.Regexp
}

func (p *regexPattern) Scan(buf []byte) []ports.LineMatch {
	locs := p.re.FindAllIndex(buf, -1)
	if len(locs) == 0 {
		return nil
	}
	starts := make([]int, len(locs))
	for i, loc := range locs {
		starts[i] = loc[0]
	}
	return matchesToLines(buf, starts)
}

// matchesToLines converts ascending match start offsets into line-level
// matches: one record per matching line, first match wins. Lines that are not
// printable text are excluded individually.
func matchesToLines(buf []byte, starts []int) []ports.LineMatch {
	if len(starts) == 0 {
		return nil
	}

	var out []ports.LineMatch
	lineNo := 1
	lineStart := 0
	lineEnd := lineEndFrom(buf, 0)
	lastLine := 0

	for _, s := range starts {
		if s >= len(buf) {
			break
		}
		for s > lineEnd {
			lineStart = lineEnd + 1
			lineNo++
			lineEnd = lineEndFrom(buf, lineStart)
		}
		if lineNo == lastLine {
			continue
		}
		lastLine = lineNo
		if s == lineEnd {
			// Match starts on the terminating newline byte and selects no
			// visible content on this line; not reported.
			continue
		}

		line := buf[lineStart:lineEnd]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if !printableLine(line) {
			continue
		}
		out = append(out, ports.LineMatch{
			LineNumber: lineNo,
			LineText:   string(line),
			ByteOffset: s,
		})
	}
	return out
}

// lineEndFrom returns the index of the next '\n' at or after start, or
// len(buf) when the final line is unterminated.
func lineEndFrom(buf []byte, start int) int {
	if start >= len(buf) {
		return len(buf)
	}
	if i := bytes.IndexByte(buf[start:], '\n'); i >= 0 {
		return start + i
	}
	return len(buf)
}

// printableLine reports whether line is valid UTF-8 free of control bytes
// (tab excepted).
func printableLine(line []byte) bool {
	if !utf8.Valid(line) {
		return false
	}
	for _, b := range line {
		if b < 0x20 && b != '\t' {
			return false
		}
	}
	return true
}
