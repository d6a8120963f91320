// Package multiplexer implements the local-process-in-multiplexer executor
// strategy (spec §4.3): attach to a tenant-keyed tmux session, spawn a pane
// running the agent CLI, write a machine-readable prompt file, and wait for
// the agent to write a terminal result file within a grace period.
package multiplexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/executor"
	"github.com/jobctl/jobctl/runtime/ident"
)

// Options configures a Strategy.
type Options struct {
	// WorkspaceRoot is the filesystem root under which tenant workspaces
	// live (spec §6 "workspaces/<tenant_id>/<job_id>/").
	WorkspaceRoot string
	// AgentCommand is the CLI invoked inside the tmux pane, e.g.
	// []string{"claude", "--prompt-file"}. The prompt file path is appended.
	AgentCommand []string
	// PollInterval governs how often the result file and pane liveness are
	// checked.
	PollInterval time.Duration
	// LivenessGrace is how long a pane may go without writing to its result
	// file before it's considered dead (spec §4.3 "Watches the pane for
	// liveness").
	LivenessGrace time.Duration
	// Tmux is the tmux binary path; defaults to "tmux" on PATH.
	Tmux string
}

// Strategy spawns one tmux pane per job, scoped to the job's validated
// workspace path.
type Strategy struct {
	opts Options
}

// New validates opts and builds a Strategy.
func New(opts Options) (*Strategy, error) {
	if opts.WorkspaceRoot == "" {
		return nil, errs.New(errs.KindValidation, "workspace root is required")
	}
	if len(opts.AgentCommand) == 0 {
		return nil, errs.New(errs.KindValidation, "agent command is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.LivenessGrace <= 0 {
		opts.LivenessGrace = 120 * time.Second
	}
	if opts.Tmux == "" {
		opts.Tmux = "tmux"
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

	workdir := filepath.Join(s.opts.WorkspaceRoot, tenantID, jobID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return executor.Result{}, errs.Wrap(errs.KindPermanentBackend, err)
	}
	promptPath := filepath.Join(workdir, "prompt.json")
	resultPath := filepath.Join(workdir, "result.json")
	if err := os.WriteFile(promptPath, payload, 0o644); err != nil {
		return executor.Result{}, errs.Wrap(errs.KindPermanentBackend, err)
	}

	session := sessionName(tenantID, jobID)
	if err := s.ensureSession(ctx.Context, session); err != nil {
		return executor.Result{}, errs.Wrap(errs.KindTransientBackend, err)
	}
	if err := s.spawnPane(ctx.Context, session, workdir, promptPath); err != nil {
		return executor.Result{}, errs.Wrap(errs.KindHandler, err)
	}

	return s.awaitResult(ctx, session, resultPath)
}

func sessionName(tenantID, jobID string) string {
	return "jobctl-" + tenantID + "-" + jobID
}

func (s *Strategy) ensureSession(ctx context.Context, session string) error {
	check := exec.CommandContext(ctx, s.opts.Tmux, "has-session", "-t", session)
	if err := check.Run(); err == nil {
		return nil
	}
	create := exec.CommandContext(ctx, s.opts.Tmux, "new-session", "-d", "-s", session)
	return create.Run()
}

func (s *Strategy) spawnPane(ctx context.Context, session, workdir, promptPath string) error {
	args := append([]string{}, s.opts.AgentCommand...)
	args = append(args, promptPath)
	cmdLine := shellJoin(args)
	send := exec.CommandContext(ctx, s.opts.Tmux, "send-keys", "-t", session, "cd "+workdir+" && "+cmdLine, "Enter")
	return send.Run()
}

// awaitResult polls for the result file. LivenessGrace is counted from the
// start of the wait: if no result file has appeared by then, the pane is
// treated as stuck and reported as a timeout so the caller (or the tiered
// watcher, for swarm nodes) can decide what to do next. The pane's own
// output and the file's mtime are not inspected.
func (s *Strategy) awaitResult(ctx *executor.Context, session, resultPath string) (executor.Result, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	lastSeen := time.Now()
	for {
		select {
		case <-ctx.Done():
			_ = s.killSession(session)
			return executor.Result{}, errs.New(errs.KindTimeout, "deadline exceeded waiting for agent result")
		case <-ticker.C:
			if err := ctx.Heartbeat(); err != nil {
				return executor.Result{}, errs.Wrap(errs.KindTransientBackend, err)
			}
			info, err := os.Stat(resultPath)
			if err == nil {
				data, err := os.ReadFile(resultPath)
				if err != nil {
					return executor.Result{}, errs.Wrap(errs.KindPermanentBackend, err)
				}
				return parseResult(data)
			}
			if time.Since(lastSeen) > s.opts.LivenessGrace {
				_ = s.killSession(session)
				return executor.Result{}, errs.New(errs.KindTimeout, "agent pane stopped producing output")
			}
			_ = info
		}
	}
}

func (s *Strategy) killSession(session string) error {
	return exec.Command(s.opts.Tmux, "kill-session", "-t", session).Run()
}

func parseResult(data []byte) (executor.Result, error) {
	var payload struct {
		ResultText    string             `json:"result_text"`
		FilesModified []string           `json:"files_modified"`
		Findings      []executor.Finding `json:"findings"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return executor.Result{}, errs.Wrap(errs.KindHandler, err)
	}
	return executor.Result{
		ResultJSON:    data,
		ResultText:    payload.ResultText,
		FilesModified: payload.FilesModified,
		Findings:      payload.Findings,
	}, nil
}

func shellJoin(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%q", a)
	}
	return out
}
