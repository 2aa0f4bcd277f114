package runtimeexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/attribution-runner/internal/platform/k8s"
)

func TestDockerRunArgs(t *testing.T) {
	args, err := dockerRunArgs(JobSpec{
		Name:       "pc-abc-reshard-a1-0",
		InstanceID: "inst-1",
		Stage:      "reshard",
		Image:      "pc-runner:1",
		Env:        map[string]string{"B": "2", "A": "1", " ": "skip"},
		Resources:  map[string]any{"cpu": "2", "memory": "4g"},
		Args:       []string{"--verbose"},
	}, "host")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run", "--detach",
		"--name", "pc-abc-reshard-a1-0",
		"--network", "host",
		"--label", "pc.instance_id=inst-1",
		"--label", "pc.stage=reshard",
		"-e", "A=1",
		"-e", "B=2",
		"--cpus", "2",
		"--memory", "4g",
		"pc-runner:1",
		"--verbose",
	}, args)

	_, err = dockerRunArgs(JobSpec{Image: "x"}, "host")
	require.Error(t, err)
}

func TestParseDockerState(t *testing.T) {
	obs, err := parseDockerState("c", []byte(`{"Status":"exited","ExitCode":0}`))
	require.NoError(t, err)
	assert.Equal(t, ObservationSucceeded, obs.Status)

	obs, err = parseDockerState("c", []byte(`{"Status":"exited","ExitCode":137,"Error":"oom"}`))
	require.NoError(t, err)
	assert.Equal(t, ObservationFailed, obs.Status)
	assert.Equal(t, "exit code 137: oom", obs.Message)

	obs, err = parseDockerState("c", []byte(`{"Status":"running"}`))
	require.NoError(t, err)
	assert.Equal(t, ObservationRunning, obs.Status)

	_, err = parseDockerState("c", []byte(`not json`))
	require.Error(t, err)
}

type fakeJobClient struct {
	created []k8s.Job
	jobs    map[string]k8s.Job
	deleted []string
}

func (f *fakeJobClient) Namespace() string { return "default-ns" }

func (f *fakeJobClient) CreateJob(ctx context.Context, namespace string, job k8s.Job) error {
	job.Metadata.Namespace = namespace
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobClient) GetJob(ctx context.Context, namespace, name string) (k8s.Job, error) {
	job, ok := f.jobs[name]
	if !ok {
		return k8s.Job{}, k8s.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobClient) DeleteJob(ctx context.Context, namespace, name string) error {
	f.deleted = append(f.deleted, namespace+"/"+name)
	return nil
}

func TestKubernetesJobExecutor(t *testing.T) {
	client := &fakeJobClient{jobs: map[string]k8s.Job{
		"running": {Status: k8s.JobStatus{Active: 1}},
		"done":    {Status: k8s.JobStatus{Conditions: []k8s.JobCondition{{Type: "Complete", Status: "True"}}}},
		"broken":  {Status: k8s.JobStatus{Conditions: []k8s.JobCondition{{Type: "Failed", Status: "True", Reason: "BackoffLimitExceeded"}}}},
	}}
	e, err := NewKubernetesJobExecutor(client, "", 600, "pc-runner")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.Submit(ctx, JobSpec{
		Name:       "pc-abc-id-match-a1-0",
		InstanceID: "inst-1",
		Stage:      "id_match",
		Attempt:    1,
		Image:      "pc-runner:1",
		Env:        map[string]string{EnvInstanceID: "inst-1"},
		Resources:  map[string]any{"memory": "8Gi"},
	}))
	require.Len(t, client.created, 1)
	job := client.created[0]
	assert.Equal(t, "default-ns", job.Metadata.Namespace)
	assert.Equal(t, "inst-1", job.Metadata.Annotations["pc.instance_id"])
	assert.Equal(t, "id-match", job.Metadata.Labels["pc.stage"])
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	assert.Equal(t, "pc-runner", job.Spec.Template.Spec.ServiceAccountName)
	assert.Equal(t, "8Gi", job.Spec.Template.Spec.Containers[0].Resources.Requests["memory"])

	for name, want := range map[string]string{
		"running": ObservationRunning,
		"done":    ObservationSucceeded,
		"broken":  ObservationFailed,
		"missing": ObservationPending,
	} {
		obs, err := e.Inspect(ctx, Execution{Name: name})
		require.NoError(t, err)
		assert.Equal(t, want, obs.Status, name)
	}
	obs, err := e.Inspect(ctx, Execution{Name: "broken"})
	require.NoError(t, err)
	assert.Equal(t, "BackoffLimitExceeded", obs.Message)

	require.NoError(t, e.Cancel(ctx, Execution{Name: "running"}))
	assert.Equal(t, []string{"default-ns/running"}, client.deleted)
}
