// Package action implements the Action Templater (C7): substituting
// {{dotted.path}} placeholders in a monitoring task's action_tool_args
// with values pulled out of the tool result that triggered it.
package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render decodes argsJSON, walks every string value, and substitutes
// {{dotted.path}} placeholders with values from toolResult. Placeholders
// that don't resolve are left literal (spec.md §4.7).
func Render(argsJSON string, toolResult map[string]interface{}) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("action: decode action_tool_args: %w", err)
	}
	return renderValue(args, toolResult).(map[string]interface{}), nil
}

// renderValue recurses through maps, slices, and strings, substituting
// placeholders at every string leaf.
func renderValue(v interface{}, toolResult map[string]interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			out[k] = renderValue(val, toolResult)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, val := range typed {
			out[i] = renderValue(val, toolResult)
		}
		return out
	case string:
		return renderString(typed, toolResult)
	default:
		return v
	}
}

func renderString(s string, toolResult map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := lookupPath(toolResult, path)
		if !ok {
			return match // unresolved placeholders left literal
		}
		return fmt.Sprintf("%v", val)
	})
}

func lookupPath(result map[string]interface{}, path string) (interface{}, bool) {
	keys := strings.Split(path, ".")
	var cur interface{} = result
	for _, key := range keys {
		switch node := cur.(type) {
		case map[string]interface{}:
			val, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = val
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// InjectTarget sets args["agent_id"] after substitution, per spec.md's
// single-target agent_id injection rule for action execution. Args that
// already carry an agent_id are left as they are.
func InjectTarget(args map[string]interface{}, target string) {
	if _, ok := args["agent_id"]; ok {
		return
	}
	args["agent_id"] = target
}
