// Command jobctl-conductor executes one workflow run to completion and
// exits. The Dispatch Engine's task-launch executor strategy spawns one
// jobctl-conductor process per `workflow` job (spec §4.4); it
// also exposes a decision-audit reader as a second subcommand.
//
// # Configuration
//
// jobctl-conductor reads the same flag/env/config surface as
// cmd/jobctl-server (internal/config); `run` additionally requires:
//
//	--workflow-file   path to a workflow definition JSON document
//	--run-id          unique id for this run
//	--tenant-id       owning tenant
//	--input           JSON object used as the run's initial context
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jobctl/jobctl/internal/actuator"
	"github.com/jobctl/jobctl/internal/agentstrategy"
	"github.com/jobctl/jobctl/internal/bootstrap"
	"github.com/jobctl/jobctl/internal/config"
	"github.com/jobctl/jobctl/internal/llmfactory"
	"github.com/jobctl/jobctl/runtime/blackboard"
	"github.com/jobctl/jobctl/runtime/conductor"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/node"
	"github.com/jobctl/jobctl/runtime/telemetry"
	"github.com/jobctl/jobctl/runtime/watcher"
)

func main() {
	var configFile, workflowFile, runID, tenantID, inputJSON string

	root := &cobra.Command{Use: "jobctl-conductor"}
	config.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "execute one workflow run to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			return runWorkflow(cmd.Context(), cfg, workflowFile, runID, tenantID, inputJSON)
		},
	}
	runCmd.Flags().StringVar(&workflowFile, "workflow-file", "", "path to a workflow definition JSON document")
	runCmd.Flags().StringVar(&runID, "run-id", "", "unique id for this run")
	runCmd.Flags().StringVar(&tenantID, "tenant-id", "", "owning tenant")
	runCmd.Flags().StringVar(&inputJSON, "input", "{}", "JSON object used as the run's initial context")

	var auditRunID string
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "print a run's append-only decision trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			return printAudit(cmd.Context(), cfg, auditRunID)
		},
	}
	auditCmd.Flags().StringVar(&auditRunID, "run-id", "", "run id to print decisions for")

	root.AddCommand(runCmd, auditCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorkflow(ctx context.Context, cfg *config.Config, workflowFile, runID, tenantID, inputJSON string) error {
	if workflowFile == "" || runID == "" || tenantID == "" {
		return errs.New(errs.KindValidation, "--workflow-file, --run-id, and --tenant-id are required")
	}
	log := telemetry.NewClueLogger()

	data, err := os.ReadFile(workflowFile)
	if err != nil {
		return fmt.Errorf("read workflow file: %w", err)
	}
	var wf conductor.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse workflow file: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return fmt.Errorf("parse --input: %w", err)
	}

	backends, err := bootstrap.Dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dial backends: %w", err)
	}
	defer backends.Close(context.Background())

	gen, err := llmfactory.New(ctx, cfg.LLMProvider, cfg.LLMModel)
	if err != nil {
		return fmt.Errorf("build llm generator: %w", err)
	}

	blackboardRoot := cfg.WorkspaceRoot + "/blackboards"
	if _, err := blackboard.Create(blackboardRoot, runID); err != nil {
		return fmt.Errorf("create blackboard: %w", err)
	}

	runner, err := node.New(node.Options{
		Strategy:       agentstrategy.New(gen, cfg.LLMModel, 4096),
		Blob:           backends.Blob,
		BlackboardRoot: blackboardRoot,
		Log:            log,
	})
	if err != nil {
		return fmt.Errorf("build node runner: %w", err)
	}

	engine, err := conductor.New(conductor.Options{
		Runner:      runner,
		Store:       backends.ConductorStore,
		Concurrency: cfg.ConductorConcurrency,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("build conductor engine: %w", err)
	}

	signalRoot := cfg.WorkspaceRoot + "/signals"
	if err := os.MkdirAll(signalRoot, 0o755); err != nil {
		return fmt.Errorf("create signal root: %w", err)
	}
	act, err := actuator.New(actuator.Options{BlackboardRoot: blackboardRoot, Store: backends.ConductorStore, Log: log})
	if err != nil {
		return fmt.Errorf("build actuator: %w", err)
	}
	watchOpts := watcher.Options{BlackboardRoot: blackboardRoot, SignalRoot: signalRoot, Log: log}
	tier1, err := watcher.New(watchOpts)
	if err != nil {
		return fmt.Errorf("build watcher: %w", err)
	}
	tier2, err := watcher.NewEscalator(watchOpts, act)
	if err != nil {
		return fmt.Errorf("build escalator: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go superviseSwarm(watchCtx, log, tier1, tier2, runID)

	runContext := make(map[string]any, len(input))
	for k, v := range input {
		runContext[k] = v
	}
	run := &conductor.Run{ID: runID, WorkflowID: wf.ID, TenantID: tenantID, Input: input, Context: runContext}
	if err := engine.Execute(ctx, &wf, run); err != nil {
		return fmt.Errorf("execute workflow: %w", err)
	}
	stopWatch()

	log.Info(ctx, "workflow run finished", "run_id", runID, "status", string(run.Status),
		"completed", run.Completed, "failed", run.Failed)
	if run.Status == conductor.RunFailed {
		os.Exit(1)
	}
	return nil
}

// superviseSwarm runs the tiered watcher (spec §4.7) alongside the
// conductor engine for the run's swarm nodes: tier-1 watches until it
// escalates or the run finishes, then tier-2 resolves the escalation and
// tier-1 resumes. Runs until ctx is cancelled (the workflow run completed).
func superviseSwarm(ctx context.Context, log telemetry.Logger, tier1 *watcher.Watcher, tier2 *watcher.Escalator, runID string) {
	for {
		status, err := tier1.Watch(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn(ctx, "watcher: tier-1 failed", "run_id", runID, "err", err)
			return
		}
		if status == watcher.StatusDone {
			return
		}

		action, err := tier2.Handle(ctx, runID)
		if err != nil {
			log.Warn(ctx, "watcher: tier-2 escalation failed", "run_id", runID, "err", err)
			return
		}
		if action == watcher.ActionAbort {
			return
		}
	}
}

func printAudit(ctx context.Context, cfg *config.Config, runID string) error {
	if runID == "" {
		return errs.New(errs.KindValidation, "--run-id is required")
	}
	backends, err := bootstrap.Dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dial backends: %w", err)
	}
	defer backends.Close(context.Background())

	decisions, err := backends.ConductorStore.ListDecisionsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list decisions: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, d := range decisions {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode decision: %w", err)
		}
	}
	return nil
}
