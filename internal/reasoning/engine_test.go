package reasoning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hostwarden/control-plane/internal/reasoning/providers"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type stubConfigStore struct {
	cfg *models.SystemConfig
}

func (s *stubConfigStore) GetConfig(ctx context.Context) (*models.SystemConfig, error) {
	return s.cfg, nil
}

func (s *stubConfigStore) SaveConfig(ctx context.Context, cfg *models.SystemConfig) error {
	s.cfg = cfg
	return nil
}

func newStubConfigStore() *stubConfigStore {
	return &stubConfigStore{cfg: &models.SystemConfig{
		DefaultLLMProvider: models.LLMProviderAnthropic,
		DefaultLLMModel:    "claude-sonnet-4-5",
		LLMProviders:       map[models.LLMProvider]models.ProviderConfig{},
	}}
}

// scriptedDriver replays a fixed sequence of full responses, one per
// call to Stream, each delivered as a single chunk.
type scriptedDriver struct {
	responses []string
	calls     int
}

func (d *scriptedDriver) Stream(ctx context.Context, system string, messages []providers.Message, model string) (<-chan providers.Chunk, error) {
	idx := d.calls
	d.calls++
	out := make(chan providers.Chunk, 1)
	resp := "That's my final answer."
	if idx < len(d.responses) {
		resp = d.responses[idx]
	}
	out <- providers.Chunk{Content: resp}
	close(out)
	return out, nil
}

type stubExecutor struct {
	results map[string]map[string]interface{}
	errs    map[string]error
	calls   []string
}

func (s *stubExecutor) Execute(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	s.calls = append(s.calls, toolName)
	if err, ok := s.errs[toolName]; ok {
		return nil, err
	}
	if r, ok := s.results[toolName]; ok {
		return r, nil
	}
	return map[string]interface{}{"status": "success"}, nil
}

func drain(t *testing.T, ch <-chan Chunk) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return sb.String()
			}
			require.NoError(t, c.Err)
			sb.WriteString(c.Text)
		case <-deadline:
			t.Fatal("timed out draining reasoning engine output")
		}
	}
}

func TestReason_DesignOnlyModeBreaksAfterFirstTurn(t *testing.T) {
	driver := &scriptedDriver{responses: []string{`{"tool": "deploy_monitoring_task", "args": {}}`}}
	exec := &stubExecutor{}
	eng := New(newStubConfigStore(), exec, map[models.LLMProvider]providers.Driver{
		models.LLMProviderAnthropic: driver,
	})

	ch, err := eng.Reason(context.Background(), Request{UserInput: "design a check", Mode: ModeBuilder})
	require.NoError(t, err)
	drain(t, ch)

	require.Equal(t, 1, driver.calls)
	require.Empty(t, exec.calls, "builder mode must never execute a tool call")
}

func TestReason_OpsModeExecutesToolThenStops(t *testing.T) {
	driver := &scriptedDriver{responses: []string{
		`{"tool": "execute_host_command", "args": {"command": "uptime"}}`,
		"Load average looks normal.",
	}}
	exec := &stubExecutor{results: map[string]map[string]interface{}{
		"execute_host_command": {"status": "success", "stdout": "load average: 0.1"},
	}}
	eng := New(newStubConfigStore(), exec, map[models.LLMProvider]providers.Driver{
		models.LLMProviderAnthropic: driver,
	})

	ch, err := eng.Reason(context.Background(), Request{UserInput: "check load", Mode: ModeOps})
	require.NoError(t, err)
	out := drain(t, ch)

	require.Equal(t, []string{"execute_host_command"}, exec.calls)
	require.Contains(t, out, "[MCP_TOOL_CALL]")
	require.Contains(t, out, "Executing tool: execute_host_command")
}

func TestReason_StepBudgetExhaustedEmitsTerminalMessage(t *testing.T) {
	always := `{"tool": "execute_host_command", "args": {"command": "uptime"}}`
	responses := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, always)
	}
	driver := &scriptedDriver{responses: responses}
	exec := &stubExecutor{}
	eng := New(newStubConfigStore(), exec, map[models.LLMProvider]providers.Driver{
		models.LLMProviderAnthropic: driver,
	})

	ch, err := eng.Reason(context.Background(), Request{UserInput: "loop forever", Mode: ModeOps})
	require.NoError(t, err)
	out := drain(t, ch)

	require.Contains(t, out, "Maximum tool execution steps reached")
	require.Equal(t, ModeOps.maxSteps(), driver.calls)
}

func TestReason_ToolFailureTriggersSelfCorrectionThenCapsAfterThreeFailures(t *testing.T) {
	always := `{"tool": "execute_host_command", "args": {"command": "bogus"}}`
	responses := []string{always, always, always, always}
	driver := &scriptedDriver{responses: responses}
	exec := &stubExecutor{errs: map[string]error{"execute_host_command": assertionErr("permission denied")}}
	eng := New(newStubConfigStore(), exec, map[models.LLMProvider]providers.Driver{
		models.LLMProviderAnthropic: driver,
	})

	ch, err := eng.Reason(context.Background(), Request{UserInput: "run a broken command", Mode: ModeOps})
	require.NoError(t, err)
	out := drain(t, ch)

	require.Contains(t, out, "Attempting self-correction")
	require.Contains(t, out, "failed 3 times in a row")
	require.Equal(t, 3, len(exec.calls))
}

func TestReason_AuditVerifyBuffersRawContentAndEmitsResponseStatus(t *testing.T) {
	driver := &scriptedDriver{responses: []string{
		`{"tool": "client_info", "args": {}, "response": "Checking agent connectivity"}`,
		"Confirmed consistent with the alert. [AUDIT_RESULT:confirmed]",
	}}
	exec := &stubExecutor{results: map[string]map[string]interface{}{
		"client_info": {"status": "success", "online": true},
	}}
	eng := New(newStubConfigStore(), exec, map[models.LLMProvider]providers.Driver{
		models.LLMProviderAnthropic: driver,
	})

	ch, err := eng.Reason(context.Background(), Request{UserInput: "verify the alert", Mode: ModeAuditVerify})
	require.NoError(t, err)
	out := drain(t, ch)

	require.Contains(t, out, "Checking agent connectivity")
	require.NotContains(t, out, `"tool": "client_info", "args": {}, "response"`)
	require.Contains(t, out, "[AUDIT_RESULT:confirmed]")
}

func TestReason_UnknownProviderReturnsError(t *testing.T) {
	eng := New(newStubConfigStore(), &stubExecutor{}, map[models.LLMProvider]providers.Driver{})
	_, err := eng.Reason(context.Background(), Request{UserInput: "hi", Mode: ModeOps})
	require.Error(t, err)
}

type assertionErr string

func (e assertionErr) Error() string { return string(e) }
