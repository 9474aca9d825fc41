package autoheal

import (
	"strconv"
	"strings"
)

// evalCondition evaluates a restricted condition expression of the form
// "<identifier> <op> <number>" against the validated context. Malformed
// expressions, unknown identifiers and unknown operators all evaluate to
// false; conditions never fail a heal.
func evalCondition(condition string, context map[string]interface{}) bool {
	fields := strings.Fields(condition)
	if len(fields) != 3 {
		return false
	}

	identifier, op, literal := fields[0], fields[1], fields[2]

	raw, ok := context[identifier]
	if !ok {
		return false
	}
	value, ok := toFloat(raw)
	if !ok {
		return false
	}

	operand, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return false
	}

	switch op {
	case ">":
		return value > operand
	case "<":
		return value < operand
	case ">=":
		return value >= operand
	case "<=":
		return value <= operand
	case "==":
		return value == operand
	}
	return false
}
