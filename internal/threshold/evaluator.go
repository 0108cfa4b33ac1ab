package threshold

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/hostwarden/control-plane/pkg/models"
)

// DecodeCondition JSON-decodes a MonitoringTask's ThresholdCondition into
// a ThresholdSpec, or returns ErrLegacyExpression for non-JSON input —
// the explicit security boundary replacing the original eval() fallback.
func DecodeCondition(conditionJSON string) (models.ThresholdSpec, error) {
	if !json.Valid([]byte(conditionJSON)) {
		return models.ThresholdSpec{}, ErrLegacyExpression
	}
	var spec models.ThresholdSpec
	if err := json.Unmarshal([]byte(conditionJSON), &spec); err != nil {
		return models.ThresholdSpec{}, fmt.Errorf("%w: %v", ErrLegacyExpression, err)
	}
	return spec, nil
}

// Evaluate classifies a tool result against a decoded ThresholdSpec,
// per spec.md §4.6's per-mode table.
func Evaluate(spec models.ThresholdSpec, result map[string]interface{}) (models.ResultStatus, error) {
	switch spec.Mode {
	case models.ThresholdModeVariable:
		return evaluateVariable(spec, result)
	case models.ThresholdModeContains:
		return evaluateContains(spec, result), nil
	case models.ThresholdModeStructured, models.ThresholdModeAI, models.ThresholdModeBinary:
		// Natural-language criteria aren't automatically decidable.
		return models.StatusAmber, nil
	default:
		return models.StatusAmber, fmt.Errorf("threshold: unknown mode %q", spec.Mode)
	}
}

// evaluateVariable applies parserRules, then runs each rule's comparison
// through expr-lang/expr rather than a hand-rolled switch on op — the
// wiring the teacher's workflow engine left as a TODO.
func evaluateVariable(spec models.ThresholdSpec, result map[string]interface{}) (models.ResultStatus, error) {
	parsed := Parse(spec.ParserRules, result)

	firedAmber := false
	for _, rule := range spec.Rules {
		val, ok := asFloat(parsed[rule.Var])
		if !ok {
			continue // missing/non-numeric values skip the rule
		}

		fired, err := evalComparison(val, rule.Op, rule.Value)
		if err != nil {
			return models.StatusAmber, fmt.Errorf("threshold: rule %q: %w", rule.Var, err)
		}
		if !fired {
			continue
		}

		switch strings.ToLower(rule.Level) {
		case "red":
			return models.StatusRed, nil
		case "amber":
			firedAmber = true
		}
	}

	if firedAmber {
		return models.StatusAmber, nil
	}
	return models.StatusGreen, nil
}

// evalComparison compiles "val <op> threshold" with expr-lang/expr
// against an environment carrying the extracted numeric value.
func evalComparison(val float64, op string, threshold float64) (bool, error) {
	if op != ">" && op != ">=" && op != "<" && op != "<=" && op != "==" {
		return false, fmt.Errorf("unsupported operator %q", op)
	}

	env := map[string]interface{}{"val": val, "threshold": threshold}
	program, err := expr.Compile(fmt.Sprintf("val %s threshold", op), expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile comparison: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run comparison: %w", err)
	}
	fired, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("comparison did not yield a boolean")
	}
	return fired, nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// evaluateContains performs a lowercase substring scan of the serialised
// result: any not_contains hit forces green, else any contains hit fires
// match_level (usually red), else green.
func evaluateContains(spec models.ThresholdSpec, result map[string]interface{}) models.ResultStatus {
	text := strings.ToLower(resultText(result))

	for _, phrase := range spec.NotContains {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return models.StatusGreen
		}
	}
	for _, phrase := range spec.Contains {
		if strings.Contains(text, strings.ToLower(phrase)) {
			level := strings.ToLower(spec.MatchLevel)
			if level == "" {
				level = "red"
			}
			if level == "red" {
				return models.StatusRed
			}
			return models.StatusAmber
		}
	}
	return models.StatusGreen
}
