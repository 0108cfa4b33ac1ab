package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hostwarden/control-plane/internal/config"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *countingRunner) ExecuteTask(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, taskID)
	return nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newMemoryTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	t.Setenv("HOSTWARDEN_DATA_DIR", t.TempDir())
	return store.NewMemoryStore()
}

func TestIsDue_NeverRunIsAlwaysDue(t *testing.T) {
	require.True(t, isDue(nil, 5, time.Now()))
}

func TestIsDue_RespectsInterval(t *testing.T) {
	now := time.Now()
	recentRun := now.Add(-2 * time.Minute)
	require.False(t, isDue(&recentRun, 5, now))

	staleRun := now.Add(-10 * time.Minute)
	require.True(t, isDue(&staleRun, 5, now))
}

func TestScheduler_FiresDueTasksOnTick(t *testing.T) {
	ctx := context.Background()
	s := newMemoryTestStore(t)

	due := &models.MonitoringTask{Title: "due", ToolName: "x", ThresholdCondition: "{}", IntervalMinutes: 1, Enabled: true, TargetAgent: models.TargetAll}
	require.NoError(t, s.CreateTask(ctx, due))

	notDue := &models.MonitoringTask{Title: "not due", ToolName: "x", ThresholdCondition: "{}", IntervalMinutes: 60, Enabled: true, TargetAgent: models.TargetAll}
	require.NoError(t, s.CreateTask(ctx, notDue))
	require.NoError(t, s.TouchTaskLastRun(ctx, notDue.ID, time.Now().UTC()))

	disabled := &models.MonitoringTask{Title: "disabled", ToolName: "x", ThresholdCondition: "{}", IntervalMinutes: 1, Enabled: false, TargetAgent: models.TargetAll}
	require.NoError(t, s.CreateTask(ctx, disabled))

	runner := &countingRunner{}
	sched := New(s, runner, config.SchedulerConfig{TickInterval: time.Hour})
	sched.tick(ctx)

	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{due.ID}, runner.calls)
}

func TestScheduler_RunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newMemoryTestStore(t)
	runner := &countingRunner{}
	sched := New(s, runner, config.SchedulerConfig{TickInterval: 10 * time.Millisecond, StartupDelay: 0})

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
