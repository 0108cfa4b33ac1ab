package reasoning

import (
	"encoding/json"
	"strings"
)

// toolCall is what the model asked to invoke, extracted from its raw
// text output.
type toolCall struct {
	Name        string
	Args        map[string]interface{}
	ResponseMsg string // audit_verify's human-readable status line, if present
}

// extractToolCall strips ```json/``` fences if present, then scans for
// the first top-level brace-balanced JSON object and treats it as a
// tool call if it carries a "tool" or "tool_name" key (§4.5 step 2c).
func extractToolCall(fullContent string) *toolCall {
	cleaned := stripFences(fullContent)
	jsonStr := firstBalancedObject(cleaned)
	if jsonStr == "" {
		return nil
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return nil
	}

	name, _ := data["tool"].(string)
	if name == "" {
		name, _ = data["tool_name"].(string)
	}
	if name == "" {
		return nil
	}

	args, _ := data["args"].(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	// execute_host_command sometimes arrives with target/command at the
	// top level instead of nested under args.
	if target, ok := data["target"].(string); ok && args["target"] == nil {
		args["target"] = target
	}
	if command, ok := data["command"].(string); ok && args["command"] == nil {
		args["command"] = command
	}

	responseMsg, _ := data["response"].(string)

	return &toolCall{Name: name, Args: args, ResponseMsg: responseMsg}
}

func stripFences(text string) string {
	if strings.Contains(text, "```json") {
		parts := strings.SplitN(text, "```json", 2)
		if len(parts) == 2 {
			inner := strings.SplitN(parts[1], "```", 2)
			return strings.TrimSpace(inner[0])
		}
	}
	if strings.Contains(text, "```") {
		parts := strings.SplitN(text, "```", 2)
		if len(parts) == 2 {
			inner := strings.SplitN(parts[1], "```", 2)
			return strings.TrimSpace(inner[0])
		}
	}
	return text
}

// firstBalancedObject returns the first top-level brace-balanced JSON
// object substring, or "" if none closes.
func firstBalancedObject(text string) string {
	depth := 0
	start := -1
	for i, ch := range text {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
