package patch

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/cuemby/warden/pkg/types"
)

// buildChange turns one detector hit into a concrete change for the fix
// kind. Line numbers are zero-based within the file's line slice.
func buildChange(fix fixKind, lines []string, lineNo int) (types.Change, bool) {
	switch fix {
	case fixWrapTryFinally:
		return buildWrap(lines, lineNo, "finally")
	case fixAddErrorHandling:
		return buildWrap(lines, lineNo, "catch")
	case fixAddTimeout:
		return buildTimeout(lines, lineNo)
	case fixReplaceCache:
		return buildCacheReplace(lines, lineNo)
	}
	return types.Change{}, false
}

var functionPattern = regexp.MustCompile(`^\s*(async\s+)?function\b|=>\s*\{\s*$`)

// buildWrap wraps the enclosing block in try/finally or try/catch.
// Block boundaries use simple heuristics: nearest preceding function
// declaration for the start, nearest return or closing brace at the same
// indent level for the end.
func buildWrap(lines []string, lineNo int, mode string) (types.Change, bool) {
	start := -1
	for i := lineNo; i >= 0; i-- {
		if functionPattern.MatchString(lines[i]) {
			start = i
			break
		}
	}
	if start < 0 {
		return types.Change{}, false
	}

	startIndent := indentOf(lines[start])
	end := -1
	for i := lineNo; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "return") {
			end = i
			break
		}
		if trimmed == "}" && indentOf(lines[i]) == startIndent && i > start {
			end = i - 1
			break
		}
	}
	if end < 0 || end <= start {
		return types.Change{}, false
	}

	bodyStart := start + 1
	body := lines[bodyStart : end+1]
	indent := strings.Repeat(" ", startIndent+2)

	var wrapped []string
	wrapped = append(wrapped, indent+"try {")
	for _, l := range body {
		wrapped = append(wrapped, "  "+l)
	}
	if mode == "finally" {
		wrapped = append(wrapped, indent+"} finally {")
		wrapped = append(wrapped, indent+"  if (typeof connection !== 'undefined' && connection.release) connection.release();")
		wrapped = append(wrapped, indent+"}")
	} else {
		wrapped = append(wrapped, indent+"} catch (err) {")
		wrapped = append(wrapped, indent+"  console.error(err);")
		wrapped = append(wrapped, indent+"  throw err;")
		wrapped = append(wrapped, indent+"}")
	}

	return types.Change{
		Type:       types.ChangeWrap,
		BlockStart: bodyStart,
		BlockEnd:   end,
		Before:     strings.Join(body, "\n"),
		After:      strings.Join(wrapped, "\n"),
	}, true
}

var callArgsPattern = regexp.MustCompile(`((?:fetch|axios\.(?:get|post|put|delete)|http\.request)\s*\()([^)]*)(\))`)

// buildTimeout appends a timeout option to the matched call
func buildTimeout(lines []string, lineNo int) (types.Change, bool) {
	line := lines[lineNo]
	if strings.Contains(line, "timeout") || strings.Contains(line, "signal") {
		return types.Change{}, false
	}

	m := callArgsPattern.FindStringSubmatch(line)
	if m == nil {
		return types.Change{}, false
	}

	args := strings.TrimSpace(m[2])
	var replacement string
	if args == "" {
		replacement = fmt.Sprintf("${1}{ timeout: %d }${3}", defaultTimeoutMillis)
	} else {
		replacement = fmt.Sprintf("${1}${2}, { timeout: %d }${3}", defaultTimeoutMillis)
	}
	after := callArgsPattern.ReplaceAllString(line, replacement)

	return types.Change{
		Type:   types.ChangeReplace,
		Line:   lineNo,
		Before: line,
		After:  after,
	}, true
}

var mapCtorPattern = regexp.MustCompile(`new\s+Map\s*\(\s*\)`)

// buildCacheReplace swaps an unbounded Map for a bounded LRU cache
func buildCacheReplace(lines []string, lineNo int) (types.Change, bool) {
	line := lines[lineNo]
	after := mapCtorPattern.ReplaceAllString(line, "new LRUCache({ max: 1000 })")
	if after == line {
		return types.Change{}, false
	}

	return types.Change{
		Type:   types.ChangeReplace,
		Line:   lineNo,
		Before: line,
		After:  after,
	}, true
}

// ApplyChanges applies changes to the line slice. Changes are sorted by
// descending line number first so earlier-line offsets are unaffected;
// the result is therefore independent of input order.
func ApplyChanges(lines []string, changes []types.Change) []string {
	sorted := make([]types.Change, len(changes))
	copy(sorted, changes)
	sort.Slice(sorted, func(i, j int) bool {
		return effectiveLine(sorted[i]) > effectiveLine(sorted[j])
	})

	out := make([]string, len(lines))
	copy(out, lines)

	for _, change := range sorted {
		switch change.Type {
		case types.ChangeReplace:
			if change.Line >= 0 && change.Line < len(out) {
				out[change.Line] = change.After
			}
		case types.ChangeInsert:
			if change.Line >= 0 && change.Line < len(out) {
				rest := make([]string, len(out[change.Line+1:]))
				copy(rest, out[change.Line+1:])
				out = append(out[:change.Line+1], change.After)
				out = append(out, rest...)
			}
		case types.ChangeWrap:
			if change.BlockStart >= 0 && change.BlockEnd < len(out) && change.BlockStart <= change.BlockEnd {
				replacement := strings.Split(change.After, "\n")
				tail := make([]string, len(out[change.BlockEnd+1:]))
				copy(tail, out[change.BlockEnd+1:])
				out = append(out[:change.BlockStart], replacement...)
				out = append(out, tail...)
			}
		}
	}
	return out
}

func effectiveLine(c types.Change) int {
	if c.Type == types.ChangeWrap {
		return c.BlockStart
	}
	return c.Line
}

// Apply writes a generated patch to its target files
func Apply(p *types.Patch) error {
	for _, fc := range p.Files {
		data, err := os.ReadFile(fc.Path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fc.Path, err)
		}

		lines := strings.Split(string(data), "\n")
		patched := ApplyChanges(lines, fc.Changes)

		if err := os.WriteFile(fc.Path, []byte(strings.Join(patched, "\n")), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", fc.Path, err)
		}
	}
	return nil
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
