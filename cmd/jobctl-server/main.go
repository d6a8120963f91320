// Command jobctl-server runs the HTTP ingress and the Dispatch Engine's
// worker pool: it accepts job submissions, runs in-process job handlers
// (spec §4.3), and leaves workflow/swarm runs to cmd/jobctl-conductor.
//
// # Configuration
//
// jobctl-server reads its configuration from flags, JOBCTL_*-prefixed
// environment variables, and an optional --config file (internal/config):
//
//	--listen-addr           HTTP ingress listen address (default ":8080")
//	--redis-url             Redis address for the queue backend
//	--mongo-uri             MongoDB connection URI
//	--llm-provider          generate() provider: anthropic, openai, or bedrock
//	--concurrency           dispatch engine worker loop count
//	--auth-disabled         skip credential resolution and use the default tenant
//	--tenant-credentials    comma-separated credential=tenant_id pairs
//	--ecs-task-definition   ECS task definition that runs "workflow" jobs as jobctl-conductor tasks; blank leaves that job type unregistered
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"

	"github.com/jobctl/jobctl/internal/bootstrap"
	"github.com/jobctl/jobctl/internal/config"
	"github.com/jobctl/jobctl/internal/handlers"
	"github.com/jobctl/jobctl/internal/httpapi"
	"github.com/jobctl/jobctl/internal/llmfactory"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/jobctl/jobctl/features/launcher/ecslauncher"
	"github.com/jobctl/jobctl/runtime/dispatch"
	"github.com/jobctl/jobctl/runtime/executor/inprocess"
	"github.com/jobctl/jobctl/runtime/executor/launch"
	"github.com/jobctl/jobctl/runtime/telemetry"
)

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:   "jobctl-server",
		Short: "HTTP ingress and job-dispatch worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&configFile, "config", "", "optional config file path")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	backends, err := bootstrap.Dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dial backends: %w", err)
	}
	defer backends.Close(context.Background())

	gen, err := llmfactory.New(ctx, cfg.LLMProvider, cfg.LLMModel)
	if err != nil {
		return fmt.Errorf("build llm generator: %w", err)
	}

	schemas := dispatch.NewSchemaRegistry()
	engine := dispatch.New(dispatch.Options{
		Queue:             backends.Queue,
		Store:             backends.JobStore,
		Blob:              backends.Blob,
		Log:               log,
		Metrics:           metrics,
		Schemas:           schemas,
		VisibilityTimeout: cfg.VisibilityTimeout,
		Concurrency:       cfg.Concurrency,
	})

	strategy := inprocess.New()
	handlers.RegisterEcho(strategy, "echo")
	handlers.RegisterAgentInvocation(strategy, "claude_chat", gen)
	handlers.RegisterAgentInvocation(strategy, "analytics", gen)
	for _, jobType := range []string{"echo", "claude_chat", "analytics"} {
		engine.Register(jobType, strategy.Bind(jobType))
	}

	// "workflow" jobs run a whole conductor workflow to completion and don't
	// fit the in-process handler shape, so they're launched as a
	// jobctl-conductor ECS task instead (spec §4.3 "task-launch strategy").
	// Left unregistered when no task definition is configured.
	if cfg.ECSTaskDefinition != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config for ecs launcher: %w", err)
		}
		ecsLauncher, err := ecslauncher.New(ecslauncher.Options{
			Client:         ecs.NewFromConfig(awsCfg),
			Cluster:        cfg.ECSCluster,
			ContainerName:  cfg.ECSContainerName,
			Subnets:        cfg.ECSSubnets,
			SecurityGroups: cfg.ECSSecurityGroups,
			AssignPublicIP: cfg.ECSAssignPublicIP,
		})
		if err != nil {
			return fmt.Errorf("build ecs launcher: %w", err)
		}
		launchStrategy, err := launch.New(launch.Options{
			Launcher:       ecsLauncher,
			TaskDefinition: cfg.ECSTaskDefinition,
		})
		if err != nil {
			return fmt.Errorf("build task-launch strategy: %w", err)
		}
		engine.Register("workflow", launchStrategy)
	}

	reconciler := dispatch.NewReconciler(engine)
	go reconciler.Run(ctx)
	go engine.Run(ctx)

	server, err := httpapi.New(httpapi.Options{
		Dispatch:       engine,
		Store:          backends.JobStore,
		Blob:           backends.Blob,
		Resolver:       backends.Resolver,
		RunLister:      backends.ConductorStore,
		BlackboardRoot: cfg.WorkspaceRoot + "/blackboards",
		Log:            log,
		PingQueue:      func() error { return backends.Redis.Ping(ctx).Err() },
		PingStore:      func() error { return backends.Mongo.Ping(ctx, readpref.Primary()) },
		PingBlob:       backends.Blob.Ping,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	log.Info(ctx, "jobctl-server listening", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.VisibilityTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
