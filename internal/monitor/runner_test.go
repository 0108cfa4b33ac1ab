package monitor

import (
	"context"
	"testing"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	calls   []stubCall
	results map[string]map[string]interface{}
	err     error
}

type stubCall struct {
	toolName string
	args     map[string]interface{}
}

func (s *stubDispatcher) Execute(_ context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	s.calls = append(s.calls, stubCall{toolName, args})
	if s.err != nil {
		return nil, s.err
	}
	if s.results != nil {
		if r, ok := s.results[toolName]; ok {
			return r, nil
		}
	}
	return map[string]interface{}{"status": "success"}, nil
}

func newMemoryTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	t.Setenv("HOSTWARDEN_DATA_DIR", t.TempDir())
	return store.NewMemoryStore()
}

func TestExecuteTask_PerIPFanOutForExecuteHostCommand(t *testing.T) {
	ctx := context.Background()
	s := newMemoryTestStore(t)

	task := &models.MonitoringTask{
		Title:              "ping sweep",
		ToolName:           "execute_host_command",
		ToolArgs:           map[string]interface{}{"command": "ping -c 4 {target}"},
		ThresholdCondition: `{"mode":"variable","parserRules":{"loss":"regex(\"(\\d+)% packet loss\",1)"},"rules":[{"var":"loss","op":">","value":20,"level":"red"}]}`,
		IntervalMinutes:    5,
		Enabled:            true,
		TargetAgent:        `["10.0.0.1","10.0.0.2"]`,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	disp := &stubDispatcher{
		results: map[string]map[string]interface{}{
			"execute_host_command": {"stdout": "4 packets transmitted, 4 received, 25% packet loss"},
		},
	}
	runner := New(s, s, s, disp)

	require.NoError(t, runner.ExecuteTask(ctx, task.ID))

	require.Len(t, disp.calls, 2)
	for _, call := range disp.calls {
		cmd, _ := call.args["command"].(string)
		require.NotContains(t, cmd, "{target}")
	}

	results, err := s.ListResults(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.StatusRed, results[0].Status)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
}

func TestExecuteTask_SingleTargetInjectsAgentID(t *testing.T) {
	ctx := context.Background()
	s := newMemoryTestStore(t)

	task := &models.MonitoringTask{
		Title:              "status check",
		ToolName:           "get_wazuh_alerts",
		ToolArgs:           map[string]interface{}{},
		ThresholdCondition: `{"mode":"structured","criteria":"needs review"}`,
		IntervalMinutes:    5,
		Enabled:            true,
		TargetAgent:        `["agent-7"]`,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	disp := &stubDispatcher{}
	runner := New(s, s, s, disp)

	require.NoError(t, runner.ExecuteTask(ctx, task.ID))
	require.Len(t, disp.calls, 1)
	require.Equal(t, "agent-7", disp.calls[0].args["agent_id"])
}

func TestExecuteTask_RedStatusTriggersAction(t *testing.T) {
	ctx := context.Background()
	s := newMemoryTestStore(t)

	task := &models.MonitoringTask{
		Title:              "kill runaway process",
		ToolName:           "execute_host_command",
		ToolArgs:           map[string]interface{}{"command": "check.sh"},
		ThresholdCondition: `{"mode":"contains","contains":["runaway"],"match_level":"red"}`,
		IntervalMinutes:    5,
		Enabled:            true,
		TargetAgent:        `["10.0.0.1"]`,
		ActionToolName:     "execute_host_command",
		ActionToolArgs:     `{"command":"kill -9 {{pid}}","target":"{{host}}"}`,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	disp := &stubDispatcher{
		results: map[string]map[string]interface{}{
			"execute_host_command": {"stdout": "runaway process detected", "pid": float64(1234), "host": "10.0.0.1"},
		},
	}
	runner := New(s, s, s, disp)
	require.NoError(t, runner.ExecuteTask(ctx, task.ID))

	require.GreaterOrEqual(t, len(disp.calls), 2)
	last := disp.calls[len(disp.calls)-1]
	require.Equal(t, "kill -9 1234", last.args["command"])
}

func TestExecuteTask_EmptyThresholdConditionYieldsGreen(t *testing.T) {
	ctx := context.Background()
	s := newMemoryTestStore(t)

	task := &models.MonitoringTask{
		Title:              "no-op check",
		ToolName:           "get_wazuh_alerts",
		ToolArgs:           map[string]interface{}{},
		ThresholdCondition: "",
		IntervalMinutes:    5,
		Enabled:            true,
		TargetAgent:        models.TargetAll,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	disp := &stubDispatcher{}
	runner := New(s, s, s, disp)

	require.NoError(t, runner.ExecuteTask(ctx, task.ID))

	results, err := s.ListResults(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.StatusGreen, results[0].Status)
}

func TestExecuteTask_DispatchFailureYieldsErrorStatusAndAdvancesLastRun(t *testing.T) {
	ctx := context.Background()
	s := newMemoryTestStore(t)

	task := &models.MonitoringTask{
		Title:              "broken task",
		ToolName:           "get_wazuh_alerts",
		ToolArgs:           map[string]interface{}{},
		ThresholdCondition: `{"mode":"structured"}`,
		IntervalMinutes:    5,
		Enabled:            true,
		TargetAgent:        models.TargetAll,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	disp := &stubDispatcher{err: context.DeadlineExceeded}
	runner := New(s, s, s, disp)

	require.NoError(t, runner.ExecuteTask(ctx, task.ID))

	results, err := s.ListResults(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.StatusError, results[0].Status)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
}
