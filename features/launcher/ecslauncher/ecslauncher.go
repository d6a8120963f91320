// Package ecslauncher implements backend.Launcher on top of Amazon ECS, using
// github.com/aws/aws-sdk-go-v2/service/ecs. Grounded on the teacher's
// features/model/bedrock adapter shape: a narrow client interface mirroring
// just the SDK calls used (RunTask/DescribeTasks/StopTask), Options-driven
// construction, errs.Wrap(errs.KindTransientBackend, ...) at the call
// boundary.
package ecslauncher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/errs"
)

// Client mirrors the subset of *ecs.Client the launcher needs.
type Client interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
}

// Options configures a Launcher.
type Options struct {
	Client         Client
	Cluster        string
	ContainerName  string // container within the task definition to override command/env on
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// Launcher implements backend.Launcher by running one ECS task per job.
type Launcher struct {
	client        Client
	cluster       string
	containerName string
	subnets       []string
	securityGroups []string
	assignPublicIP bool
}

// New builds a Launcher.
func New(opts Options) (*Launcher, error) {
	if opts.Client == nil {
		return nil, errs.New(errs.KindValidation, "ecs client is required")
	}
	if opts.Cluster == "" {
		return nil, errs.New(errs.KindValidation, "cluster is required")
	}
	if opts.ContainerName == "" {
		return nil, errs.New(errs.KindValidation, "container name is required")
	}
	return &Launcher{
		client: opts.Client, cluster: opts.Cluster, containerName: opts.ContainerName,
		subnets: opts.Subnets, securityGroups: opts.SecurityGroups, assignPublicIP: opts.AssignPublicIP,
	}, nil
}

// Launch implements backend.Launcher, running spec.TaskDefinition as one ECS
// task tagged with the job and tenant ID.
func (l *Launcher) Launch(ctx context.Context, spec backend.LaunchSpec) (string, error) {
	var envPairs []types.KeyValuePair
	for k, v := range spec.Env {
		key, val := k, v
		envPairs = append(envPairs, types.KeyValuePair{Name: &key, Value: &val})
	}
	jobID, tenantID := spec.JobID, spec.TenantID

	assignPublicIP := types.AssignPublicIpDisabled
	if l.assignPublicIP {
		assignPublicIP = types.AssignPublicIpEnabled
	}

	input := &ecs.RunTaskInput{
		Cluster:        &l.cluster,
		TaskDefinition: &spec.TaskDefinition,
		LaunchType:     types.LaunchTypeFargate,
		Count:          awsInt32(1),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        l.subnets,
				SecurityGroups: l.securityGroups,
				AssignPublicIp: assignPublicIP,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{
				{
					Name:        &l.containerName,
					Command:     spec.CommandOverride,
					Environment: envPairs,
				},
			},
		},
		Tags: []types.Tag{
			{Key: awsString("jobctl:job_id"), Value: &jobID},
			{Key: awsString("jobctl:tenant_id"), Value: &tenantID},
		},
	}

	out, err := l.client.RunTask(ctx, input)
	if err != nil {
		return "", errs.Wrap(errs.KindTransientBackend, fmt.Errorf("ecs run task for job %q: %w", jobID, err))
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", errs.New(errs.KindTransientBackend, fmt.Sprintf("ecs run task for job %q failed: %s", jobID, derefString(f.Reason)))
	}
	if len(out.Tasks) == 0 || out.Tasks[0].TaskArn == nil {
		return "", errs.New(errs.KindTransientBackend, fmt.Sprintf("ecs run task for job %q returned no task", jobID))
	}
	return *out.Tasks[0].TaskArn, nil
}

// Poll implements backend.Launcher.
func (l *Launcher) Poll(ctx context.Context, taskID string) (backend.TaskStatus, error) {
	out, err := l.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{Cluster: &l.cluster, Tasks: []string{taskID}})
	if err != nil {
		return backend.TaskStatus{}, errs.Wrap(errs.KindTransientBackend, fmt.Errorf("ecs describe task %q: %w", taskID, err))
	}
	if len(out.Tasks) == 0 {
		return backend.TaskStatus{}, errs.New(errs.KindNotFound, fmt.Sprintf("ecs task %q not found", taskID))
	}
	task := out.Tasks[0]
	if task.LastStatus == nil || *task.LastStatus != "STOPPED" {
		return backend.TaskStatus{Done: false}, nil
	}
	exitCode := 0
	for _, c := range task.Containers {
		if c.Name != nil && *c.Name == l.containerName && c.ExitCode != nil {
			exitCode = int(*c.ExitCode)
		}
	}
	return backend.TaskStatus{Done: true, ExitCode: exitCode}, nil
}

// Cancel implements backend.Launcher.
func (l *Launcher) Cancel(ctx context.Context, taskID string) error {
	_, err := l.client.StopTask(ctx, &ecs.StopTaskInput{Cluster: &l.cluster, Task: &taskID, Reason: awsString("cancelled by jobctl")})
	if err != nil {
		return errs.Wrap(errs.KindTransientBackend, fmt.Errorf("ecs stop task %q: %w", taskID, err))
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsInt32(v int32) *int32    { return &v }

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
