package models

import "time"

// ── Asset ────────────────────────────────────────────────────

type AssetOS string

const (
	AssetOSLinux   AssetOS = "linux"
	AssetOSWindows AssetOS = "windows"
)

type AssetAuthMode string

const (
	AssetAuthPassword AssetAuthMode = "password"
	AssetAuthKey      AssetAuthMode = "key"
)

// Asset is one SSH-reachable host registered in the inventory.
type Asset struct {
	ID       string        `json:"id" db:"id"`
	Name     string        `json:"name" db:"name"`
	IP       string        `json:"ip" db:"ip"`
	Port     int           `json:"port" db:"port"` // default 22
	User     string        `json:"user" db:"user"`
	OS       AssetOS       `json:"os" db:"os"`
	AuthMode AssetAuthMode `json:"auth_mode" db:"auth_mode"`
	Password string        `json:"password,omitempty" db:"password"`
	KeyID    string        `json:"key_id,omitempty" db:"key_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ── Key Entry ────────────────────────────────────────────────

// KeyEntry is a private key referenced by Asset.KeyID. Only ever read by
// the SSH/SFTP executors.
type KeyEntry struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	PrivateKey string    `json:"private_key" db:"private_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ── Provider Config (LLM) ────────────────────────────────────

type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderGoogle    LLMProvider = "google"
	LLMProviderOllama    LLMProvider = "ollama"
)

// ProviderConfig describes how to reach one LLM provider.
type ProviderConfig struct {
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ── MCP Provider Config ──────────────────────────────────────

type MCPProvider string

const (
	MCPProviderWazuh        MCPProvider = "wazuh"
	MCPProviderFalcon       MCPProvider = "falcon"
	MCPProviderVelociraptor MCPProvider = "velociraptor"
	MCPProviderTavily       MCPProvider = "tavily"
	MCPProviderSSHExec      MCPProvider = "ssh_exec"
)

// MCPProviderConfig carries provider-specific connection fields plus the
// enable flag that gates whether its tools are listed or executable.
type MCPProviderConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ── System Config (the single persisted record, C1) ─────────

// SystemConfig is the single row read by the Config Store: the LLM
// provider catalog+keys, the asset inventory, the SSH keystore, and the
// per-provider MCP config + enable flags. Read-through, no caching beyond
// this snapshot — callers re-fetch on the next request.
type SystemConfig struct {
	ID string `json:"id" db:"id"` // always "main"

	LLMProviders      map[LLMProvider]ProviderConfig `json:"llm_providers"`
	DefaultLLMProvider LLMProvider                   `json:"llm_provider"`
	DefaultLLMModel    string                        `json:"llm_model"`

	MCPProviders map[MCPProvider]MCPProviderConfig `json:"mcp_providers"`

	Assets []Asset    `json:"assets,omitempty"`
	Keys   []KeyEntry `json:"keys,omitempty"`

	NotificationChannels []NotificationChannel `json:"notification_channels,omitempty"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ── Monitoring Task ──────────────────────────────────────────

// TargetAll is the literal sentinel meaning "every asset".
const TargetAll = "all"

// MonitoringTask is a persisted monitoring blueprint: tool + args + targets
// + threshold + schedule + optional remediation action.
type MonitoringTask struct {
	ID                string `json:"id" db:"id"`
	Title             string `json:"title" db:"title"`
	ToolName          string `json:"tool_name" db:"tool_name"`
	ToolArgs          map[string]interface{} `json:"tool_args" db:"tool_args"`
	ThresholdCondition string `json:"threshold_condition" db:"threshold_condition"` // opaque JSON spec, §4.6
	IntervalMinutes   int    `json:"interval_minutes" db:"interval_minutes"`        // invariant: >= 1
	Enabled           bool   `json:"enabled" db:"enabled"`

	// TargetAgent is either the literal "all" or a JSON-encoded list of
	// asset identifiers. Stored as a string so both shapes round-trip.
	TargetAgent string `json:"target_agent" db:"target_agent"`

	ActionToolName string `json:"action_tool_name,omitempty" db:"action_tool_name"`
	ActionToolArgs string `json:"action_tool_args,omitempty" db:"action_tool_args"` // JSON string with {{template}} placeholders

	LastRun *time.Time `json:"last_run,omitempty" db:"last_run"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ── Monitoring Result ────────────────────────────────────────

type ResultStatus string

const (
	StatusGreen   ResultStatus = "green"
	StatusAmber   ResultStatus = "amber"
	StatusRed     ResultStatus = "red"
	StatusError   ResultStatus = "error"
	StatusUnknown ResultStatus = "unknown"
)

// ThresholdEval captures the outcome of a single threshold evaluation,
// embedded in ExecutionLog.
type ThresholdEval struct {
	Condition string       `json:"condition"`
	Mode      string       `json:"mode"`
	Triggered ResultStatus `json:"triggered"`
	Error     string       `json:"error,omitempty"`
}

// ActionExecution records the outcome of a C7+C4 remediation call.
type ActionExecution struct {
	ToolName string                 `json:"tool_name"`
	Args     map[string]interface{} `json:"args"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// ExecutionLog is the structured record persisted as MonitoringResult's
// ResultData — the full audit trail for one task invocation.
type ExecutionLog struct {
	TaskID        string                 `json:"task_id"`
	TaskTitle     string                 `json:"task_title"`
	ToolName      string                 `json:"tool_name"`
	ExecutedAt    time.Time              `json:"executed_at"`
	ToolArgsSent  map[string]interface{} `json:"tool_args_sent"`
	RawOutput     map[string]interface{} `json:"raw_output"`
	ThresholdEval *ThresholdEval         `json:"threshold_eval,omitempty"`
	FinalStatus   ResultStatus           `json:"final_status"`
	Action        *ActionExecution       `json:"action_execution,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Traceback     string                 `json:"traceback,omitempty"`
}

// MonitoringResult is an append-only execution record; the newest result
// for a task defines its currently displayed status.
type MonitoringResult struct {
	ID         string       `json:"id" db:"id"`
	TaskID     string       `json:"task_id" db:"task_id"`
	Status     ResultStatus `json:"status" db:"status"`
	ResultData ExecutionLog `json:"result_data" db:"result_data"`
	Timestamp  time.Time    `json:"timestamp" db:"timestamp"`
}

// ── MCP Session (in-memory, per remote client) ──────────────

// MCPSession is lazily created on first call and invalidated on any
// transport failure so the next call re-handshakes.
type MCPSession struct {
	BaseURL    string
	SessionID  string // empty until the initialize handshake completes
	HostHeader string // "localhost:<port>", the DNS-rebinding workaround
}

// ── Conversation (in-memory, per reasoning invocation) ──────

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is one turn of a Conversation.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Conversation is the ordered message sequence driving one reasoning
// invocation: system prompt + caller history + the live exchange.
type Conversation struct {
	ID       string        `json:"id" db:"id"`
	Mode     string        `json:"mode" db:"mode"`
	Messages []ChatMessage `json:"messages"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ── Tool Descriptor (C2/C4) ──────────────────────────────────

// ToolDescriptor mirrors the MCP tools/list shape, annotated with the
// provider display name and offline status by the dispatcher.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Provider    string                 `json:"provider,omitempty"`
	Offline     bool                   `json:"_offline,omitempty"`
}

// ── Notification Channel (supplemental alerting) ────────────

// NotificationChannel is a webhook endpoint that receives a copy of
// every red-status monitoring result, independent of whatever
// remediation action the task itself triggers.
type NotificationChannel struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"` // HMAC-SHA256 signs the payload when set
	Active bool   `json:"active"`
}

// NotifyResult records one channel dispatch attempt.
type NotifyResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Audit Event (supplemental observability) ────────────────

// AuditEvent is an audit trail entry kept apart from monitoring results.
// The monitor runner writes one (kind "action_execution") when a
// remediation action fails; dispatcher executions, scheduler errors and
// reasoning-loop terminal states are not recorded as audit events.
type AuditEvent struct {
	ID        string                 `json:"id" db:"id"`
	Kind      string                 `json:"kind" db:"kind"` // e.g. "action_execution"
	Source    string                 `json:"source" db:"source"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
}

// ── Tagged-variant Threshold Spec (§9) ───────────────────────

type ThresholdMode string

const (
	ThresholdModeVariable   ThresholdMode = "variable"
	ThresholdModeContains   ThresholdMode = "contains"
	ThresholdModeStructured ThresholdMode = "structured"
	ThresholdModeAI         ThresholdMode = "ai"
	ThresholdModeBinary     ThresholdMode = "binary"
)

// ThresholdRule is one {var, op, value, level} comparison in Variable mode.
type ThresholdRule struct {
	Var   string  `json:"var"`
	Op    string  `json:"op"` // one of >, >=, <, <=, ==
	Value float64 `json:"value"`
	Level string  `json:"level"` // amber | red
}

// ThresholdSpec is the tagged variant decoded from MonitoringTask's
// ThresholdCondition JSON string. Mode discriminates which fields apply;
// dispatching over it is exhaustive (see internal/threshold).
type ThresholdSpec struct {
	Mode ThresholdMode `json:"mode"`

	// Variable mode
	ParserRules map[string]string `json:"parserRules,omitempty"`
	Rules       []ThresholdRule   `json:"rules,omitempty"`

	// Contains mode
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
	MatchLevel  string   `json:"match_level,omitempty"`

	// Structured | AI mode
	Criteria string `json:"criteria,omitempty"`
}
