// Package launch implements the task-launch executor strategy (spec §4.3):
// build a validated launch specification, submit it to the task-launch API
// primitive, poll for termination, and read back the result blob or exit
// status.
package launch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/ident"
)

// Options configures a Strategy.
type Options struct {
	Launcher       backend.Launcher
	TaskDefinition string // validated with ident.KindFilename-style rules below
	PollInterval   time.Duration
}

// Strategy submits jobs as task-launch-API tasks (spec §4.3 "Task-launch
// strategy").
type Strategy struct {
	opts Options
}

// New validates opts and builds a Strategy.
func New(opts Options) (*Strategy, error) {
	if opts.Launcher == nil {
		return nil, errs.New(errs.KindValidation, "launcher is required")
	}
	if _, err := ident.Validate(opts.TaskDefinition, ident.KindFilename); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Strategy{opts: opts}, nil
}

// Execute implements executor.Strategy.
func (s *Strategy) Execute(ctx *executor.Context, payload []byte) (executor.Result, error) {
	jobID, err := ident.Validate(ctx.JobID, ident.KindRun)
	if err != nil {
		return executor.Result{}, errs.Wrap(errs.KindSecurity, err)
	}
	tenantID, err := ident.Validate(ctx.TenantID, ident.KindTenant)
	if err != nil {
		return executor.Result{}, errs.Wrap(errs.KindSecurity, err)
	}

	spec := backend.LaunchSpec{
		TaskDefinition: s.opts.TaskDefinition,
		JobID:          jobID,
		TenantID:       tenantID,
		Env: map[string]string{
			"JOB_ID":          jobID,
			"TENANT_ID":       tenantID,
			"WORKSPACE_DIR":   "/workspaces/" + tenantID + "/" + jobID,
			"ARTIFACT_PREFIX": "artifacts/" + tenantID + "/jobs/" + jobID,
		},
	}
	if ctx.NodeID != "" {
		nodeID, err := ident.Validate(ctx.NodeID, ident.KindNode)
		if err != nil {
			return executor.Result{}, errs.Wrap(errs.KindSecurity, err)
		}
		spec.Env["NODE_ID"] = nodeID
	}

	taskID, err := s.opts.Launcher.Launch(ctx.Context, spec)
	if err != nil {
		return executor.Result{}, errs.Wrap(errs.KindTransientBackend, err)
	}

	status, err := s.awaitTermination(ctx, taskID)
	if err != nil {
		return executor.Result{}, err
	}
	return interpretExitCode(status, payload)
}

func (s *Strategy) awaitTermination(ctx *executor.Context, taskID string) (backend.TaskStatus, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = s.opts.Launcher.Cancel(context.Background(), taskID)
			return backend.TaskStatus{}, errs.New(errs.KindTimeout, "deadline exceeded waiting for task "+taskID)
		case <-ticker.C:
			if err := ctx.Heartbeat(); err != nil {
				return backend.TaskStatus{}, errs.Wrap(errs.KindTransientBackend, err)
			}
			status, err := s.opts.Launcher.Poll(ctx.Context, taskID)
			if err != nil {
				return backend.TaskStatus{}, errs.Wrap(errs.KindTransientBackend, err)
			}
			if status.Done {
				return status, nil
			}
		}
	}
}

// interpretExitCode applies spec §6 "Exit codes from spawned agent
// commands": 0 success, 1 handler failure, 2 config error, anything else a
// crash. Exit 2 maps to a validation error; 1 and crashes map to a handler
// error, distinguished by message.
func interpretExitCode(status backend.TaskStatus, payload []byte) (executor.Result, error) {
	switch status.ExitCode {
	case 0:
		var result executor.Result
		if len(payload) > 0 {
			result.ResultJSON = json.RawMessage(payload)
		}
		return result, nil
	case 1:
		return executor.Result{}, errs.New(errs.KindHandler, "task reported failure (exit 1)")
	case 2:
		return executor.Result{}, errs.New(errs.KindValidation, "task reported a configuration error (exit 2)")
	default:
		return executor.Result{}, errs.New(errs.KindHandler, fmt.Sprintf("task crashed (exit %d)", status.ExitCode))
	}
}
