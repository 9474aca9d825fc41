package autoheal

import (
	"fmt"
	"math"
	"regexp"

	"github.com/cuemby/warden/pkg/log"
)

// Recognized heal scenarios. Anything else fails validation.
var knownScenarios = map[string]bool{
	"disk_space_low": true,
	"process_down":   true,
	"memory_leak":    true,
	"api_slow":       true,
	"ssl_expiring":   true,
}

const maxScenarioLen = 50

type fieldKind int

const (
	numericField fieldKind = iota
	stringField
	enumField
)

// fieldSpec is the declared type of one recognized context key
type fieldSpec struct {
	kind    fieldKind
	min     float64
	max     float64
	maxLen  int
	pattern *regexp.Regexp
	values  map[string]bool
}

var processNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// contextSchema declares every recognized context key. Unknown keys are
// dropped with a warning, never an error.
var contextSchema = map[string]fieldSpec{
	"disk_usage":          {kind: numericField, min: 0, max: 1_000_000},
	"memory_usage":        {kind: numericField, min: 0, max: 1_000_000},
	"api_latency_ms":      {kind: numericField, min: 0, max: 1_000_000},
	"ssl_expires_in_days": {kind: numericField, min: 0, max: 1_000_000},
	"process_name":        {kind: stringField, maxLen: 100, pattern: processNamePattern},
	"process_status": {kind: enumField, values: map[string]bool{
		"running": true, "crashed": true, "stopped": true, "unknown": true,
	}},
}

// validateScenario checks the scenario name against the closed set
func validateScenario(scenario string) error {
	if scenario == "" {
		return fmt.Errorf("scenario must be a non-empty string")
	}
	if len(scenario) > maxScenarioLen {
		return fmt.Errorf("scenario name too long (%d > %d)", len(scenario), maxScenarioLen)
	}
	if !knownScenarios[scenario] {
		return fmt.Errorf("unknown scenario: %s", scenario)
	}
	return nil
}

// validateContext type-checks every recognized key and drops unknown ones.
// The returned map contains only validated values.
func validateContext(context map[string]interface{}) (map[string]interface{}, error) {
	if context == nil {
		return nil, fmt.Errorf("context must be a mapping")
	}

	logger := log.WithComponent("autoheal")
	validated := make(map[string]interface{}, len(context))

	for key, value := range context {
		spec, ok := contextSchema[key]
		if !ok {
			logger.Warn().Str("key", key).Msg("unknown context key dropped")
			continue
		}

		switch spec.kind {
		case numericField:
			n, ok := toFloat(value)
			if !ok {
				return nil, fmt.Errorf("context field %s must be numeric", key)
			}
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("context field %s must be finite", key)
			}
			if n < spec.min || n > spec.max {
				return nil, fmt.Errorf("context field %s out of range [%g, %g]", key, spec.min, spec.max)
			}
			validated[key] = n

		case stringField:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("context field %s must be a string", key)
			}
			if len(s) > spec.maxLen {
				return nil, fmt.Errorf("context field %s too long (%d > %d)", key, len(s), spec.maxLen)
			}
			if !spec.pattern.MatchString(s) {
				return nil, fmt.Errorf("context field %s contains invalid characters", key)
			}
			validated[key] = s

		case enumField:
			s, ok := value.(string)
			if !ok || !spec.values[s] {
				return nil, fmt.Errorf("context field %s has invalid value", key)
			}
			validated[key] = s
		}
	}

	return validated, nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}
