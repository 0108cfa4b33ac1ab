package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
)

// DeployExecutor backs the deploy_monitoring_task tool, only advertised
// to builder-family reasoning modes (§4.1, §4.3.4): it turns a proposed
// check into a persisted MonitoringTask the Scheduler will start picking
// up on its next tick.
type DeployExecutor struct {
	Tasks store.MonitoringTaskStore
}

func NewDeployExecutor(tasks store.MonitoringTaskStore) *DeployExecutor {
	return &DeployExecutor{Tasks: tasks}
}

// DeployMonitoringTaskArgs mirrors the shape a reasoning-loop tool call
// supplies for deploy_monitoring_task.
type DeployMonitoringTaskArgs struct {
	Title              string                 `json:"title"`
	ToolName           string                 `json:"tool_name"`
	ToolArgs           map[string]interface{} `json:"tool_args"`
	ThresholdCondition string                 `json:"threshold_condition"`
	IntervalMinutes    int                    `json:"interval_minutes"`
	TargetAgent        string                 `json:"target_agent"`
	ActionToolName     string                 `json:"action_tool_name"`
	ActionToolArgs     string                 `json:"action_tool_args"`
}

func (e *DeployExecutor) DeployMonitoringTask(ctx context.Context, args DeployMonitoringTaskArgs) Result {
	if args.Title == "" || args.ToolName == "" || args.ThresholdCondition == "" {
		return errResult("deploy_monitoring_task requires title, tool_name, and threshold_condition")
	}
	if args.IntervalMinutes < 1 {
		args.IntervalMinutes = 1
	}
	if args.TargetAgent == "" {
		args.TargetAgent = models.TargetAll
	}
	if !json.Valid([]byte(args.ThresholdCondition)) {
		return errResult("threshold_condition must be a JSON object, got: %s", args.ThresholdCondition)
	}

	task := &models.MonitoringTask{
		ID:                 uuid.NewString(),
		Title:              args.Title,
		ToolName:           args.ToolName,
		ToolArgs:           args.ToolArgs,
		ThresholdCondition: args.ThresholdCondition,
		IntervalMinutes:    args.IntervalMinutes,
		Enabled:            true,
		TargetAgent:        args.TargetAgent,
		ActionToolName:     args.ActionToolName,
		ActionToolArgs:     args.ActionToolArgs,
	}

	if err := e.Tasks.CreateTask(ctx, task); err != nil {
		return errResult("failed to persist monitoring task: %v", err)
	}

	return Result{
		"status":  "success",
		"task_id": task.ID,
		"message": fmt.Sprintf("Monitoring task %q scheduled every %d minute(s).", task.Title, task.IntervalMinutes),
	}
}
