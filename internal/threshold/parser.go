// Package threshold implements the Parser + Threshold Evaluator (C6):
// extracting named variables out of a raw tool result and classifying
// the outcome as green/amber/red.
package threshold

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrLegacyExpression is returned when a threshold_condition string fails
// to decode as JSON. The legacy Python eval()-based expression fallback
// is a deliberate security boundary and is never implemented here — see
// DESIGN.md.
var ErrLegacyExpression = errors.New("threshold: non-JSON legacy expressions are not supported")

var regexRuleRe = regexp.MustCompile(`^regex\("((?:[^"\\]|\\.)*)",\s*(\d+)\)$`)

// Parse applies parserRules to a tool result, producing a flat map of
// extracted variables per spec.md §4.6.
func Parse(parserRules map[string]string, result map[string]interface{}) map[string]interface{} {
	text := resultText(result)
	out := make(map[string]interface{}, len(parserRules))

	for name, rule := range parserRules {
		switch {
		case strings.HasPrefix(rule, "$."):
			out[name] = jsonPathLookup(result, rule)
		case regexRuleRe.MatchString(rule):
			out[name] = regexExtract(rule, text)
		default:
			out[name] = nil
		}
	}
	return out
}

// resultText prefers tool_result.stdout when present, else serializes
// the whole result as JSON, per spec.md §4.6.
func resultText(result map[string]interface{}) string {
	if stdout, ok := result["stdout"].(string); ok {
		return stdout
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(raw)
}

// jsonPathLookup traverses dotted keys only — no arrays, no filters —
// per spec.md's explicitly narrowed JSONPath subset. Missing keys yield
// nil rather than an error.
func jsonPathLookup(result map[string]interface{}, path string) interface{} {
	keys := strings.Split(strings.TrimPrefix(path, "$."), ".")
	var cur interface{} = result
	for _, key := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// regexExtract applies the rule's pattern once and returns the
// requested capture group as a string, or nil if no match.
func regexExtract(rule, text string) interface{} {
	m := regexRuleRe.FindStringSubmatch(rule)
	if m == nil {
		return nil
	}
	pattern, groupStr := m[1], m[2]
	group, err := strconv.Atoi(groupStr)
	if err != nil {
		return nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	matches := re.FindStringSubmatch(text)
	if matches == nil || group >= len(matches) {
		return nil
	}
	return matches[group]
}
