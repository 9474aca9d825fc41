package patch

import "regexp"

type fixKind string

const (
	fixWrapTryFinally    fixKind = "wrap_try_finally"
	fixAddErrorHandling  fixKind = "add_error_handling"
	fixAddTimeout        fixKind = "add_timeout"
	fixReplaceCache      fixKind = "replace_unbounded_cache"
	defaultTimeoutMillis         = 30000
)

// detector locates candidate lines: the regex must match and, when
// context tokens are declared, every token must appear within a small
// window around the line.
type detector struct {
	regex   *regexp.Regexp
	context []string
}

// contextWindow is the number of lines scanned on each side of a
// detector match for required context tokens
const contextWindow = 5

// pattern is one built-in issue signature with its fix
type pattern struct {
	name      string
	types     []string
	keywords  []string
	detectors []detector
	fix       fixKind
}

var builtinPatterns = []pattern{
	{
		name:     "connection_leak",
		types:    []string{"resource_leak", "connection_leak"},
		keywords: []string{"connection", "leak", "pool exhausted", "ECONNRESET"},
		detectors: []detector{
			{regex: regexp.MustCompile(`(getConnection|createConnection|acquire)\s*\(`)},
		},
		fix: fixWrapTryFinally,
	},
	{
		name:     "missing_error_handling",
		types:    []string{"unhandled_error", "crash"},
		keywords: []string{"unhandled", "uncaught", "rejection", "exception"},
		detectors: []detector{
			{regex: regexp.MustCompile(`await\s+[\w.]+\s*\(`), context: []string{"async"}},
		},
		fix: fixAddErrorHandling,
	},
	{
		name:     "missing_timeout",
		types:    []string{"timeout", "hang", "slow_response"},
		keywords: []string{"timeout", "hang", "ETIMEDOUT", "slow"},
		detectors: []detector{
			{regex: regexp.MustCompile(`(fetch|axios\.(get|post|put|delete)|http\.request)\s*\(`)},
		},
		fix: fixAddTimeout,
	},
	{
		name:     "unbounded_cache",
		types:    []string{"memory_leak", "unbounded_cache"},
		keywords: []string{"cache", "memory", "heap", "OOM"},
		detectors: []detector{
			{regex: regexp.MustCompile(`new\s+Map\s*\(\s*\)`), context: []string{"cache"}},
		},
		fix: fixReplaceCache,
	},
}
