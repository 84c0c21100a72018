package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/lib/kubernetes"
	"github.com/sitepress-engine/lib/storage"
	"github.com/sitepress-engine/models"
	"github.com/sitepress-engine/utils"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Job status poll interval. Polling is deliberate: it survives dropped watch
// connections and keeps the failure model simple.
const jobPollInterval = 5 * time.Second

// KubernetesExecutor runs the build pipeline as a cluster-scheduled Job, for
// production multi-tenant deployment. The Job's init containers clone and
// build into a shared volume; the main container uploads the output tree to
// object storage.
type KubernetesExecutor struct {
	k8s   *kubernetes.Client
	store *storage.Client
}

// NewKubernetesExecutor creates the cluster backend
func NewKubernetesExecutor(k8s *kubernetes.Client, store *storage.Client) *KubernetesExecutor {
	return &KubernetesExecutor{k8s: k8s, store: store}
}

// Name identifies the backend in logs
func (e *KubernetesExecutor) Name() string {
	return "kubernetes"
}

// Execute creates the build Job and blocks until it succeeds, fails, or the
// deadline fires. There is no automatic re-queue: a failed attempt is
// terminal until a caller requests a new build.
func (e *KubernetesExecutor) Execute(ctx context.Context, job models.BuildJob, cfg models.BuildConfig, slug string, sink models.LogSink) error {
	if err := e.CreateBuildJob(ctx, job, cfg, slug); err != nil {
		return err
	}
	return e.WatchBuildJob(ctx, job.DeploymentID, sink)
}

// CreateBuildJob ensures the build namespace, recreates the per-deployment
// env Secret, clears any leftover Job with the same name, and submits the
// new Job
func (e *KubernetesExecutor) CreateBuildJob(ctx context.Context, job models.BuildJob, cfg models.BuildConfig, slug string) error {
	namespace := utils.GetBuildNamespace()
	if err := e.ensureNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("ensure build namespace: %w", err)
	}

	// Delete-then-create: the Secret always reflects this attempt's env vars
	secretName := utils.BuildSecretName(job.DeploymentID)
	err := e.k8s.Clientset.CoreV1().Secrets(namespace).Delete(ctx, secretName, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete stale env secret: %w", err)
	}
	secret := utils.NewBuildEnvSecret(job.DeploymentID, job.ProjectID, cfg.EnvVars)
	if _, err := e.k8s.Clientset.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create env secret: %w", err)
	}

	jobName := utils.BuildJobName(job.DeploymentID)
	if err := e.deleteJob(ctx, namespace, jobName); err != nil {
		log.Printf("Warning: failed to clean up existing job %s: %v", jobName, err)
	}

	storeCfg := storage.ConfigFromEnv()
	buildJob := utils.NewSiteBuildJob(job, cfg, utils.UploadTarget{
		Endpoint:  storeCfg.Endpoint,
		AccessKey: storeCfg.AccessKey,
		SecretKey: storeCfg.SecretKey,
		Bucket:    e.store.Bucket(),
		Slug:      slug,
		UseSSL:    storeCfg.UseSSL,
	})

	if _, err := e.k8s.Clientset.BatchV1().Jobs(namespace).Create(ctx, buildJob, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("submit build job: %w", err)
	}
	log.Printf("🚀 Build job %s submitted to namespace %s", jobName, namespace)
	return nil
}

// WatchBuildJob polls the Job every 5 seconds until it succeeds, fails, or
// the deadline fires. Log tailing runs concurrently and best-effort: its
// failure never fails the build.
func (e *KubernetesExecutor) WatchBuildJob(ctx context.Context, deploymentID string, sink models.LogSink) error {
	namespace := utils.GetBuildNamespace()
	jobName := utils.BuildJobName(deploymentID)

	deadline := time.Duration(config.GetEnvInt("BUILD_JOB_DEADLINE_SECONDS", 900)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline+time.Minute)
	defer cancel()

	go utils.TailBuildLogs(ctx, e.k8s, namespace, jobName, sink)

	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("build job %s timed out after %s", jobName, deadline)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		job, err := e.k8s.Clientset.BatchV1().Jobs(namespace).Get(ctx, jobName, metav1.GetOptions{})
		if err != nil {
			if errors.IsNotFound(err) {
				// Not yet visible to this API server; keep polling
				continue
			}
			return fmt.Errorf("poll build job %s: %w", jobName, err)
		}

		if job.Status.Succeeded > 0 {
			log.Printf("✅ Build job %s completed", jobName)
			return nil
		}
		if job.Status.Failed > 0 {
			tail := utils.GetJobPodLogs(ctx, e.k8s, namespace, jobName, 20)
			if sink != nil && tail != "" {
				sink("error", tail)
			}
			return fmt.Errorf("build job %s failed", jobName)
		}
	}
}

// VerifyArtifacts reports whether at least one object exists under the slug
// prefix in the builds bucket
func (e *KubernetesExecutor) VerifyArtifacts(ctx context.Context, slug string) (bool, error) {
	return e.store.HasPrefix(ctx, slug)
}

// Cleanup deletes the deployment's Job and Secret. Idempotent: already
// deleted is not an error.
func (e *KubernetesExecutor) Cleanup(ctx context.Context, deploymentID string) error {
	namespace := utils.GetBuildNamespace()

	if err := e.deleteJob(ctx, namespace, utils.BuildJobName(deploymentID)); err != nil {
		return err
	}

	err := e.k8s.Clientset.CoreV1().Secrets(namespace).Delete(ctx, utils.BuildSecretName(deploymentID), metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete env secret: %w", err)
	}
	return nil
}

// RemoveArtifacts deletes every object under the slug prefix on site teardown
func (e *KubernetesExecutor) RemoveArtifacts(ctx context.Context, slug string) error {
	return e.store.RemovePrefix(ctx, slug)
}

// Status is a stateless read of the Job used for out-of-band status checks.
// A Job that cannot be found is pending ("not yet visible"), not an error.
func (e *KubernetesExecutor) Status(ctx context.Context, deploymentID string) (models.JobStatus, error) {
	namespace := utils.GetBuildNamespace()
	job, err := e.k8s.Clientset.BatchV1().Jobs(namespace).Get(ctx, utils.BuildJobName(deploymentID), metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return models.JobStatusPending, nil
		}
		return models.JobStatusPending, err
	}

	switch {
	case job.Status.Succeeded > 0:
		return models.JobStatusSucceeded, nil
	case job.Status.Failed > 0:
		return models.JobStatusFailed, nil
	case job.Status.Active > 0:
		return models.JobStatusRunning, nil
	}
	return models.JobStatusPending, nil
}

func (e *KubernetesExecutor) deleteJob(ctx context.Context, namespace, jobName string) error {
	propagation := metav1.DeletePropagationBackground
	err := e.k8s.Clientset.BatchV1().Jobs(namespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete build job %s: %w", jobName, err)
	}
	return nil
}

func (e *KubernetesExecutor) ensureNamespace(ctx context.Context, namespace string) error {
	_, err := e.k8s.Clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !errors.IsNotFound(err) {
		return err
	}

	_, err = e.k8s.Clientset.CoreV1().Namespaces().Create(ctx, utils.NewBuildNamespace(namespace), metav1.CreateOptions{})
	if err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	return nil
}
