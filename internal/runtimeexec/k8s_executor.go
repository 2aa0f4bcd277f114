package runtimeexec

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/animus-labs/attribution-runner/internal/platform/k8s"
)

// JobClient is the subset of the Kubernetes client the job executor drives.
type JobClient interface {
	Namespace() string
	CreateJob(ctx context.Context, namespace string, job k8s.Job) error
	GetJob(ctx context.Context, namespace, name string) (k8s.Job, error)
	DeleteJob(ctx context.Context, namespace, name string) error
}

type KubernetesJobExecutor struct {
	client            JobClient
	namespace         string
	jobTTLSeconds     int32
	jobServiceAccount string
}

func NewKubernetesJobExecutor(client JobClient, namespace string, jobTTLSeconds int32, jobServiceAccount string) (*KubernetesJobExecutor, error) {
	if client == nil {
		return nil, errors.New("k8s client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = strings.TrimSpace(client.Namespace())
	}
	if namespace == "" {
		return nil, errors.New("stage namespace is required")
	}
	if jobTTLSeconds < 0 {
		return nil, errors.New("job ttl must be non-negative")
	}
	return &KubernetesJobExecutor{
		client:            client,
		namespace:         namespace,
		jobTTLSeconds:     jobTTLSeconds,
		jobServiceAccount: strings.TrimSpace(jobServiceAccount),
	}, nil
}

func (e *KubernetesJobExecutor) Kind() string {
	return "kubernetes_job"
}

func (e *KubernetesJobExecutor) Submit(ctx context.Context, spec JobSpec) error {
	job, namespace, err := e.buildJob(spec)
	if err != nil {
		return err
	}
	err = e.client.CreateJob(ctx, namespace, job)
	if err == nil || errors.Is(err, k8s.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (e *KubernetesJobExecutor) buildJob(spec JobSpec) (k8s.Job, string, error) {
	jobName := strings.TrimSpace(spec.Name)
	if jobName == "" {
		return k8s.Job{}, "", errors.New("k8s job name is required")
	}
	if strings.TrimSpace(spec.InstanceID) == "" {
		return k8s.Job{}, "", errors.New("instance id is required")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return k8s.Job{}, "", errors.New("image is required")
	}

	namespace := strings.TrimSpace(spec.Namespace)
	if namespace == "" {
		namespace = e.namespace
	}

	labels := map[string]string{
		"app.kubernetes.io/name":      "attribution-runner",
		"app.kubernetes.io/component": "stage",
		"pc.stage":                    sanitizeLabel(spec.Stage),
		"pc.attempt":                  strconv.Itoa(spec.Attempt),
	}
	annotations := map[string]string{
		"pc.instance_id": spec.InstanceID,
		"pc.binary_url":  spec.BinaryURL,
	}

	container := k8s.Container{
		Name:  "stage",
		Image: spec.Image,
		Args:  append([]string(nil), spec.Args...),
	}
	for _, kv := range sortedEnv(spec.Env) {
		container.Env = append(container.Env, k8s.EnvVar{Name: kv[0], Value: kv[1]})
	}
	applyResourceHints(&container, spec.Resources)

	podSpec := k8s.PodSpec{
		RestartPolicy: "Never",
		Containers:    []k8s.Container{container},
	}
	if e.jobServiceAccount != "" {
		podSpec.ServiceAccountName = e.jobServiceAccount
	}

	// Retries are owned by the stage driver, never by the job controller.
	backoff := int32(0)
	var ttl *int32
	if e.jobTTLSeconds > 0 {
		ttl = &e.jobTTLSeconds
	}

	job := k8s.Job{
		Metadata: k8s.ObjectMeta{
			Name:        jobName,
			Namespace:   namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: k8s.JobSpec{
			BackoffLimit: &backoff,
			Template: k8s.PodTemplateSpec{
				Metadata: k8s.ObjectMeta{Labels: labels},
				Spec:     podSpec,
			},
			TTLSecondsAfterFinished: ttl,
		},
	}
	return job, namespace, nil
}

func (e *KubernetesJobExecutor) Inspect(ctx context.Context, execution Execution) (Observation, error) {
	namespace := strings.TrimSpace(execution.Namespace)
	if namespace == "" {
		namespace = e.namespace
	}
	jobName := strings.TrimSpace(execution.Name)
	if jobName == "" {
		return Observation{}, errors.New("k8s job name is required")
	}

	job, err := e.client.GetJob(ctx, namespace, jobName)
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			return Observation{Status: ObservationPending, Message: "job_not_found"}, nil
		}
		return Observation{}, err
	}

	status := ObservationPending
	message := ""
	if cond, ok := findJobCondition(job.Status.Conditions, "Failed"); ok && strings.EqualFold(cond.Status, "True") {
		status = ObservationFailed
		message = conditionMessage(cond)
	} else if cond, ok := findJobCondition(job.Status.Conditions, "Complete"); ok && strings.EqualFold(cond.Status, "True") {
		status = ObservationSucceeded
		message = conditionMessage(cond)
	} else if job.Status.Active > 0 {
		status = ObservationRunning
	}

	return Observation{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"k8s_namespace": namespace,
			"k8s_job_name":  jobName,
			"active":        job.Status.Active,
			"succeeded":     job.Status.Succeeded,
			"failed":        job.Status.Failed,
		},
	}, nil
}

func (e *KubernetesJobExecutor) Cancel(ctx context.Context, execution Execution) error {
	namespace := strings.TrimSpace(execution.Namespace)
	if namespace == "" {
		namespace = e.namespace
	}
	return e.client.DeleteJob(ctx, namespace, execution.Name)
}

func conditionMessage(cond k8s.JobCondition) string {
	message := strings.TrimSpace(cond.Message)
	if message == "" {
		message = strings.TrimSpace(cond.Reason)
	}
	return message
}

func findJobCondition(conditions []k8s.JobCondition, conditionType string) (k8s.JobCondition, bool) {
	for _, cond := range conditions {
		if strings.EqualFold(strings.TrimSpace(cond.Type), strings.TrimSpace(conditionType)) {
			return cond, true
		}
	}
	return k8s.JobCondition{}, false
}

func applyResourceHints(container *k8s.Container, resources map[string]any) {
	if container == nil || len(resources) == 0 {
		return
	}
	if cpu := stringResource(resources, "cpu"); cpu != "" {
		if container.Resources.Requests == nil {
			container.Resources.Requests = map[string]string{}
		}
		container.Resources.Requests["cpu"] = cpu
	}
	if memory := stringResource(resources, "memory"); memory != "" {
		if container.Resources.Requests == nil {
			container.Resources.Requests = map[string]string{}
		}
		container.Resources.Requests["memory"] = memory
	}
	if limit := parseIntResource(resources, "memory_limit_mib"); limit > 0 {
		if container.Resources.Limits == nil {
			container.Resources.Limits = map[string]string{}
		}
		container.Resources.Limits["memory"] = strconv.Itoa(limit) + "Mi"
	}
}
