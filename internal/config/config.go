// Package config loads jobctl's runtime configuration from flags, env vars,
// and an optional config file, using github.com/spf13/viper bound to
// github.com/spf13/cobra flags. The field set and defaults mirror the
// env-var table the teacher's registry/cmd/registry/main.go documents in its
// package doc comment (REGISTRY_ADDR, REDIS_URL, PING_INTERVAL, ...); viper
// replaces the teacher's hand-rolled envOr/envIntOr/envDurationOr helpers
// since this repo hand-writes its CLI with cobra instead of goa's generated
// one.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for both cmd/jobctl-server and
// cmd/jobctl-conductor; each binary only reads the fields it needs.
type Config struct {
	// ListenAddr is the HTTP ingress address (spec §6).
	ListenAddr string

	// RedisURL backs the Queue primitive (features/queue/redisqueue).
	RedisURL      string
	RedisPassword string

	// MongoURI backs the Store primitive (features/store/mongostore).
	MongoURI    string
	MongoDBName string

	// ECSCluster, ECSContainerName, ECSTaskDefinition, and the network
	// fields back the task-launch executor strategy
	// (features/launcher/ecslauncher, runtime/executor/launch). A blank
	// ECSTaskDefinition leaves the "workflow" job type unregistered.
	ECSCluster         string
	ECSContainerName   string
	ECSTaskDefinition  string
	ECSSubnets         []string
	ECSSecurityGroups  []string
	ECSAssignPublicIP  bool

	// LLMProvider selects which features/llm adapter Generate() calls are
	// routed to: "anthropic", "openai", or "bedrock".
	LLMProvider string
	LLMModel    string

	// VisibilityTimeout and Concurrency configure the Dispatch Engine
	// (spec §4.2).
	VisibilityTimeout time.Duration
	Concurrency       int

	// ConductorConcurrency bounds per-run node concurrency (spec §4.4).
	ConductorConcurrency int

	// WorkspaceRoot is the filesystem root the multiplexer executor strategy
	// and the blackboard use for per-run working directories (spec §4.3,
	// §4.6).
	WorkspaceRoot string

	// LogLevel selects clue/log's verbosity.
	LogLevel string

	// AuthDisabled and TenantCredentials configure the tenant.StaticResolver
	// httpapi authenticates requests against (spec §6 "When authentication
	// is disabled, tenant = default").
	AuthDisabled      bool
	TenantCredentials map[string]string
}

// defaults mirrors the teacher's documented default table, translated to
// jobctl's field names. Keys use flag-style dashes; Load maps
// JOBCTL_FOO_BAR env vars onto the same keys via an env key replacer.
var defaults = map[string]any{
	"listen-addr":           ":8080",
	"redis-url":             "localhost:6379",
	"redis-password":        "",
	"mongo-uri":             "mongodb://localhost:27017",
	"mongo-db-name":         "jobctl",
	"ecs-cluster":           "jobctl",
	"ecs-container-name":    "worker",
	"ecs-task-definition":   "",
	"ecs-subnets":           "",
	"ecs-security-groups":   "",
	"ecs-assign-public-ip":  false,
	"llm-provider":          "anthropic",
	"llm-model":             "",
	"visibility-timeout":    30 * time.Second,
	"concurrency":           4,
	"conductor-concurrency": 4,
	"workspace-root":        "/var/lib/jobctl/runs",
	"log-level":             "info",
	"auth-disabled":         false,
	"tenant-credentials":    "",
}

// BindFlags registers the flags Load reads, so both jobctl-server and
// jobctl-conductor expose a consistent --flag / JOBCTL_* env surface.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("listen-addr", defaults["listen-addr"].(string), "HTTP ingress listen address")
	flags.String("redis-url", defaults["redis-url"].(string), "Redis address for the queue backend")
	flags.String("redis-password", defaults["redis-password"].(string), "Redis password")
	flags.String("mongo-uri", defaults["mongo-uri"].(string), "MongoDB connection URI")
	flags.String("mongo-db-name", defaults["mongo-db-name"].(string), "MongoDB database name")
	flags.String("ecs-cluster", defaults["ecs-cluster"].(string), "ECS cluster for the task-launch executor strategy")
	flags.String("ecs-container-name", defaults["ecs-container-name"].(string), "ECS container name to override per task")
	flags.String("ecs-task-definition", defaults["ecs-task-definition"].(string), "ECS task definition for the workflow task-launch strategy; blank disables it")
	flags.String("ecs-subnets", defaults["ecs-subnets"].(string), "comma-separated subnet ids for awsvpc network configuration")
	flags.String("ecs-security-groups", defaults["ecs-security-groups"].(string), "comma-separated security group ids for awsvpc network configuration")
	flags.Bool("ecs-assign-public-ip", defaults["ecs-assign-public-ip"].(bool), "assign a public IP to launched ECS tasks")
	flags.String("llm-provider", defaults["llm-provider"].(string), "generate() provider: anthropic, openai, or bedrock")
	flags.String("llm-model", defaults["llm-model"].(string), "default model id passed to the provider")
	flags.Duration("visibility-timeout", defaults["visibility-timeout"].(time.Duration), "queue message visibility timeout")
	flags.Int("concurrency", defaults["concurrency"].(int), "dispatch engine worker loop count")
	flags.Int("conductor-concurrency", defaults["conductor-concurrency"].(int), "conductor per-run node concurrency")
	flags.String("workspace-root", defaults["workspace-root"].(string), "root directory for per-run working directories")
	flags.String("log-level", defaults["log-level"].(string), "clue/log verbosity")
	flags.Bool("auth-disabled", defaults["auth-disabled"].(bool), "skip credential resolution and use the default tenant")
	flags.String("tenant-credentials", defaults["tenant-credentials"].(string), "comma-separated credential=tenant_id pairs")
}

// parseTenantCredentials turns "cred1=tenant1,cred2=tenant2" into a map,
// ignoring blank entries so an unset flag/env var yields an empty map.
func parseTenantCredentials(raw string) map[string]string {
	creds := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cred, tenantID, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		creds[cred] = tenantID
	}
	return creds
}

// splitCSV splits a comma-separated flag value into a non-nil slice of
// trimmed, non-empty entries.
func splitCSV(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load resolves Config from (in increasing priority) defaults, an optional
// config file, JOBCTL_*-prefixed environment variables, and cmd's flags.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix("jobctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	return &Config{
		ListenAddr:           v.GetString("listen-addr"),
		RedisURL:             v.GetString("redis-url"),
		RedisPassword:        v.GetString("redis-password"),
		MongoURI:             v.GetString("mongo-uri"),
		MongoDBName:          v.GetString("mongo-db-name"),
		ECSCluster:           v.GetString("ecs-cluster"),
		ECSContainerName:     v.GetString("ecs-container-name"),
		ECSTaskDefinition:    v.GetString("ecs-task-definition"),
		ECSSubnets:           splitCSV(v.GetString("ecs-subnets")),
		ECSSecurityGroups:    splitCSV(v.GetString("ecs-security-groups")),
		ECSAssignPublicIP:    v.GetBool("ecs-assign-public-ip"),
		LLMProvider:          v.GetString("llm-provider"),
		LLMModel:             v.GetString("llm-model"),
		VisibilityTimeout:    v.GetDuration("visibility-timeout"),
		Concurrency:          v.GetInt("concurrency"),
		ConductorConcurrency: v.GetInt("conductor-concurrency"),
		WorkspaceRoot:        v.GetString("workspace-root"),
		LogLevel:             v.GetString("log-level"),
		AuthDisabled:         v.GetBool("auth-disabled"),
		TenantCredentials:    parseTenantCredentials(v.GetString("tenant-credentials")),
	}, nil
}
