package patch

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
)

const historyCapacity = 100

// Issue is the analyzer finding a patch is generated for
type Issue struct {
	ID       string
	Type     string
	Evidence []string
	Files    []string
}

// Generator produces rule-based source rewrites
type Generator struct {
	patterns []pattern

	mu      sync.Mutex
	history []*types.Patch
}

// NewGenerator creates a generator with the built-in patterns
func NewGenerator() *Generator {
	return &Generator{patterns: builtinPatterns}
}

// Generate matches the issue against the built-in patterns and produces
// a patch for every detectable location in the issue's files
func (g *Generator) Generate(issue Issue) (*types.Patch, error) {
	matched, hits := g.matchPattern(issue)
	if matched == nil {
		return nil, fmt.Errorf("no pattern matches issue type %q", issue.Type)
	}

	p := &types.Patch{
		ID:         uuid.New().String(),
		IssueType:  issue.Type,
		Pattern:    matched.name,
		Confidence: confidence(hits),
		Timestamp:  time.Now(),
	}

	logger := log.WithComponent("patch")
	for _, path := range issue.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
			continue
		}
		lines := strings.Split(string(data), "\n")

		changes := g.scanFile(matched, lines)
		if len(changes) > 0 {
			p.Files = append(p.Files, types.FileChange{Path: path, Changes: changes})
		}
	}

	if len(p.Files) == 0 {
		return nil, fmt.Errorf("pattern %s matched but no fixable locations found", matched.name)
	}

	g.record(p)
	return p, nil
}

// matchPattern returns the first pattern whose types contain the issue
// type and whose keywords appear in the evidence, plus the keyword hit
// count used for confidence scoring
func (g *Generator) matchPattern(issue Issue) (*pattern, int) {
	for i := range g.patterns {
		pat := &g.patterns[i]
		if !contains(pat.types, issue.Type) {
			continue
		}

		hits := 0
		for _, keyword := range pat.keywords {
			for _, evidence := range issue.Evidence {
				if strings.Contains(strings.ToLower(evidence), strings.ToLower(keyword)) {
					hits++
					break
				}
			}
		}
		if hits > 0 {
			return pat, hits
		}
	}
	return nil, 0
}

// scanFile finds detector matches and emits the pattern's fix as changes
func (g *Generator) scanFile(pat *pattern, lines []string) []types.Change {
	var changes []types.Change

	for lineNo, line := range lines {
		for _, det := range pat.detectors {
			if !det.regex.MatchString(line) {
				continue
			}
			if !hasContext(lines, lineNo, det.context) {
				continue
			}

			if change, ok := buildChange(pat.fix, lines, lineNo); ok {
				changes = append(changes, change)
			}
			break
		}
	}
	return changes
}

// hasContext verifies every required token appears near the line
func hasContext(lines []string, lineNo int, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}

	start := lineNo - contextWindow
	if start < 0 {
		start = 0
	}
	end := lineNo + contextWindow
	if end >= len(lines) {
		end = len(lines) - 1
	}

	window := strings.ToLower(strings.Join(lines[start:end+1], "\n"))
	for _, token := range tokens {
		if !strings.Contains(window, strings.ToLower(token)) {
			return false
		}
	}
	return true
}

func confidence(keywordHits int) float64 {
	c := 0.5 + 0.15*float64(keywordHits)
	if c > 0.95 {
		return 0.95
	}
	if c < 0.5 {
		return 0.5
	}
	return c
}

func (g *Generator) record(p *types.Patch) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, p)
	if len(g.history) > historyCapacity {
		g.history = g.history[len(g.history)-historyCapacity:]
	}
}

// History returns a copy of the retained patches
func (g *Generator) History() []*types.Patch {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*types.Patch, len(g.history))
	copy(out, g.history)
	return out
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
