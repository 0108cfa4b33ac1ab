// Package monitor implements the Monitor Runner (C8): one execution of
// a Monitoring Task from tool dispatch through threshold evaluation to
// conditional action and result persistence.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/hostwarden/control-plane/internal/action"
	"github.com/hostwarden/control-plane/internal/notify"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/internal/threshold"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// placeholderRe matches any {...} run, the greedy substitution spec.md
// §9 documents and this expansion deliberately preserves.
var placeholderRe = regexp.MustCompile(`\{[^}]+\}`)

// toolExecuteHostCommand mirrors dispatcher.ToolExecuteHostCommand; kept
// as a local constant so the runner doesn't need to import the
// dispatcher package just for its name table.
const toolExecuteHostCommand = "execute_host_command"

// toolDispatcher is the slice of *dispatcher.Dispatcher the runner
// needs, kept as an interface so tests can stub it.
type toolDispatcher interface {
	Execute(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error)
}

// alerter is the slice of *notify.Service the runner needs.
type alerter interface {
	NotifyAlert(ctx context.Context, event notify.Event) []models.NotifyResult
}

type Runner struct {
	Tasks      store.MonitoringTaskStore
	Results    store.MonitoringResultStore
	Audit      store.AuditStore
	Dispatcher toolDispatcher
	Notifier   alerter // optional; red-status results fan out here if set
}

func New(tasks store.MonitoringTaskStore, results store.MonitoringResultStore, audit store.AuditStore, d toolDispatcher) *Runner {
	return &Runner{Tasks: tasks, Results: results, Audit: audit, Dispatcher: d}
}

// ExecuteTask runs one task end to end. Failures in dispatch, threshold
// evaluation, or action execution are caught and persisted as an
// error-status result rather than propagated — last_run always advances
// (spec.md §4.8's closing guarantee).
func (r *Runner) ExecuteTask(ctx context.Context, taskID string) error {
	task, err := r.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("monitor: load task %s: %w", taskID, err)
	}

	logEntry := r.run(ctx, task)

	status := logEntry.FinalStatus
	if err := r.Results.CreateResult(ctx, &models.MonitoringResult{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		Status:     status,
		ResultData: logEntry,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist monitoring result")
	}

	if err := r.Tasks.TouchTaskLastRun(ctx, task.ID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to advance last_run")
	}

	if status == models.StatusRed && r.Notifier != nil {
		r.Notifier.NotifyAlert(ctx, notify.Event{
			TaskID:    task.ID,
			TaskTitle: task.Title,
			ToolName:  task.ToolName,
			Status:    status,
			Detail:    logEntry.RawOutput,
			Timestamp: time.Now().UTC(),
		})
	}

	return nil
}

// run performs steps 2-6 and never returns an error: every failure is
// captured into the returned ExecutionLog instead.
func (r *Runner) run(ctx context.Context, task *models.MonitoringTask) (logEntry models.ExecutionLog) {
	logEntry = models.ExecutionLog{
		TaskID:    task.ID,
		TaskTitle: task.Title,
		ToolName:  task.ToolName,
		ExecutedAt: time.Now().UTC(),
	}

	defer func() {
		if rec := recover(); rec != nil {
			logEntry.FinalStatus = models.StatusError
			logEntry.Error = fmt.Sprintf("panic: %v", rec)
			logEntry.Traceback = string(debug.Stack())
		}
	}()

	targets, err := resolveTargets(task.TargetAgent)
	if err != nil {
		return errorLog(logEntry, err)
	}

	rawOutput, toolArgsSent, err := r.dispatchTool(ctx, task, targets)
	if err != nil {
		return errorLog(logEntry, err)
	}
	logEntry.ToolArgsSent = toolArgsSent
	logEntry.RawOutput = rawOutput

	if task.ThresholdCondition == "" {
		logEntry.FinalStatus = models.StatusGreen
		return logEntry
	}

	spec, err := threshold.DecodeCondition(task.ThresholdCondition)
	if err != nil {
		logEntry.ThresholdEval = &models.ThresholdEval{Condition: task.ThresholdCondition, Error: err.Error()}
		logEntry.FinalStatus = models.StatusAmber
		return logEntry
	}

	status, evalErr := threshold.Evaluate(spec, rawOutput)
	eval := &models.ThresholdEval{Condition: task.ThresholdCondition, Mode: string(spec.Mode), Triggered: status}
	if evalErr != nil {
		eval.Error = evalErr.Error()
		status = models.StatusAmber
	}
	logEntry.ThresholdEval = eval
	logEntry.FinalStatus = status

	if status == models.StatusRed && task.ActionToolName != "" {
		r.runAction(ctx, task, rawOutput, &logEntry)
	}

	return logEntry
}

// dispatchTool implements step 3: per-IP fan-out for execute_host_command
// when targets are present, else a single call with agent_id injected
// for a lone target.
func (r *Runner) dispatchTool(ctx context.Context, task *models.MonitoringTask, targets []string) (map[string]interface{}, map[string]interface{}, error) {
	args, err := decodeToolArgs(task.ToolArgs)
	if err != nil {
		return nil, nil, err
	}

	if task.ToolName == toolExecuteHostCommand && len(targets) > 0 {
		fanOut := make(map[string]interface{}, len(targets))
		sentByIP := make(map[string]interface{}, len(targets))
		for _, ip := range targets {
			perIPArgs := substitutePlaceholders(args, ip)
			perIPArgs["target"] = ip
			result, err := r.Dispatcher.Execute(ctx, task.ToolName, perIPArgs)
			if err != nil {
				fanOut[ip] = map[string]interface{}{"status": "error", "message": err.Error()}
			} else {
				fanOut[ip] = result
			}
			sentByIP[ip] = perIPArgs
		}
		return fanOut, map[string]interface{}{"per_target": sentByIP}, nil
	}

	if len(targets) == 1 {
		args["agent_id"] = targets[0]
	}

	result, err := r.Dispatcher.Execute(ctx, task.ToolName, args)
	if err != nil {
		return nil, args, err
	}
	return result, args, nil
}

// runAction implements step 5: render the action's templated args
// against the tool result, call the dispatcher, and record the outcome.
func (r *Runner) runAction(ctx context.Context, task *models.MonitoringTask, rawOutput map[string]interface{}, logEntry *models.ExecutionLog) {
	renderedArgs, err := action.Render(task.ActionToolArgs, rawOutput)
	if err != nil {
		logEntry.Action = &models.ActionExecution{ToolName: task.ActionToolName, Error: err.Error()}
		r.auditAction(ctx, task, err)
		return
	}

	if len(resolveTargetsFromTask(task)) == 1 {
		action.InjectTarget(renderedArgs, resolveTargetsFromTask(task)[0])
	}

	result, err := r.Dispatcher.Execute(ctx, task.ActionToolName, renderedArgs)
	exec := &models.ActionExecution{ToolName: task.ActionToolName, Args: renderedArgs}
	if err != nil {
		exec.Error = err.Error()
		r.auditAction(ctx, task, err)
	} else {
		exec.Result = result
	}
	logEntry.Action = exec
}

func (r *Runner) auditAction(ctx context.Context, task *models.MonitoringTask, cause error) {
	if r.Audit == nil {
		return
	}
	event := &models.AuditEvent{
		ID:        uuid.NewString(),
		Kind:      "action_execution",
		Source:    task.ID,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := r.Audit.CreateAuditEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to record action audit event")
	}
}

func errorLog(logEntry models.ExecutionLog, err error) models.ExecutionLog {
	logEntry.FinalStatus = models.StatusError
	logEntry.Error = err.Error()
	logEntry.Traceback = string(debug.Stack())
	return logEntry
}

// resolveTargets implements step 2: "all" resolves to an empty target
// list (meaning: no per-IP fan-out), otherwise a JSON list of asset
// identifiers.
func resolveTargets(targetAgent string) ([]string, error) {
	if targetAgent == "" || targetAgent == models.TargetAll {
		return nil, nil
	}
	var targets []string
	if err := json.Unmarshal([]byte(targetAgent), &targets); err != nil {
		return nil, fmt.Errorf("monitor: target_agent is neither %q nor a JSON list: %w", models.TargetAll, err)
	}
	return targets, nil
}

func resolveTargetsFromTask(task *models.MonitoringTask) []string {
	targets, _ := resolveTargets(task.TargetAgent)
	return targets
}

// decodeToolArgs accepts tool_args already as a map (the common case,
// since models.MonitoringTask.ToolArgs is typed map[string]interface{})
// while still tolerating a JSON-string-encoded legacy shape.
func decodeToolArgs(toolArgs map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(toolArgs))
	for k, v := range toolArgs {
		out[k] = v
	}
	return out, nil
}

// substitutePlaceholders walks every string-valued arg, replacing any
// {...} run with ip — greedy, matching every brace-delimited token
// rather than only named ones, per spec.md §9's documented behavior.
func substitutePlaceholders(args map[string]interface{}, ip string) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = placeholderRe.ReplaceAllString(s, ip)
			continue
		}
		out[k] = v
	}
	return out
}
