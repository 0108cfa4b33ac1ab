package reasoning

import "fmt"

// Mode is the closed set of reasoning-loop modes, each selecting a
// system prompt and an output-suppression policy (§4.5).
type Mode string

const (
	ModeOps               Mode = "ops"
	ModeBuilder           Mode = "builder"
	ModeBuilderSelection  Mode = "builder_selection"
	ModeBuilderThreshold  Mode = "builder_threshold"
	ModeBuilderAction     Mode = "builder_action"
	ModeAuditRead         Mode = "audit_read"
	ModeAuditAnalysis     Mode = "audit_analysis"
	ModeAuditVerify       Mode = "audit_verify"
)

// designOnly reports whether a mode must never execute a tool call even
// if the model emits one — the loop breaks after the first assistant
// turn regardless.
func (m Mode) designOnly() bool {
	switch m {
	case ModeBuilder, ModeBuilderAction, ModeAuditAnalysis:
		return true
	default:
		return false
	}
}

// maxSteps returns the step budget for a mode (§4.5 step loop).
func (m Mode) maxSteps() int {
	switch m {
	case ModeAuditRead, ModeAuditVerify:
		return 20
	default:
		return 10
	}
}

const toolCallContract = `When you need to use a tool, respond with exactly one JSON object of the form:
{"tool": "<tool_name>", "args": {...}}
Do not wrap it in any other text when you intend it to be executed.`

// systemPrompt renders the mode-specific instructions. Each mode's
// voice is written fresh here; only the documented behaviors (target
// injection ban, self-correction contract, audit_verify's trailing tag)
// carry over.
func systemPrompt(mode Mode, osHint string) string {
	switch mode {
	case ModeOps:
		return fmt.Sprintf(`You are a security operations assistant with direct access to host and detection tooling.
Target host OS: %s. Favor commands appropriate to that OS.
%s
After a tool result comes back, give a concise summary of what it means — skip generic recommendations unless asked.`, osHint, toolCallContract)

	case ModeBuilder:
		return `You are designing a monitoring task for a security operator, end to end: what to check, how often, and what counts as a problem.
Describe the check in plain language first, then propose one concrete tool_name and tool_args.
Never place "target" or "agent_id" in the tool_args you propose — the operator's asset selection is injected at run time.
This is a design conversation only: never emit a tool-call JSON meant for execution.`

	case ModeBuilderSelection:
		return `You are helping an operator choose which tool and target asset to monitor.
Ask only what's necessary to pin down tool_name and the asset selection, then summarize the choice.
Never place "target" or "agent_id" in any proposed tool_args.`

	case ModeBuilderThreshold:
		return `You are helping an operator define a threshold condition for a monitoring task.
Walk through the available threshold modes (variable, contains, structured, ai, binary) and help them pick parser rules and
rule levels (amber/red) appropriate to the check they described. Produce the threshold_condition as a JSON object when ready.`

	case ModeBuilderAction:
		return `You are helping an operator define the remediation action a monitoring task should take when it fires red.
Propose an action_tool_name and action_tool_args template using {{dotted.path}} placeholders resolved from the tool result.
Never place "target" or "agent_id" in the action_tool_args you propose — the runner injects the triggering asset automatically.
This is a design conversation only: never emit a tool-call JSON meant for execution.`

	case ModeAuditRead:
		return fmt.Sprintf(`You are scanning a file or command output for security-relevant findings.
%s
Once you have the raw content, return your findings as a pure JSON array with no markdown fencing and no other commentary.`, toolCallContract)

	case ModeAuditAnalysis:
		return `You are analyzing previously gathered findings for security significance.
Write a clear, structured assessment. This is analysis only: never emit a tool-call JSON meant for execution.`

	case ModeAuditVerify:
		return fmt.Sprintf(`You are verifying a security finding by gathering corroborating evidence.
%s
Include a one-line "response" field in any tool-call JSON describing what you're about to check, so the caller can show it as status.
When you analyze a tool result, decide whether more verification is needed. Once you have enough evidence, write your conclusion
and end your final message with exactly one trailing tag: [AUDIT_RESULT:confirmed], [AUDIT_RESULT:clear], or [AUDIT_RESULT:needs_review].`, toolCallContract)

	default:
		return toolCallContract
	}
}
