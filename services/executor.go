package services

import (
	"context"
	"fmt"

	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/lib/docker"
	"github.com/sitepress-engine/lib/kubernetes"
	"github.com/sitepress-engine/lib/storage"
	"github.com/sitepress-engine/models"
)

// BuildExecutor runs the clone→install→build→collect pipeline for one
// deployment on a concrete backend. The worker depends only on this
// interface, never on backend-specific types.
type BuildExecutor interface {
	// Name identifies the backend in logs
	Name() string

	// Execute runs the whole pipeline for one attempt and blocks until it
	// finishes or ctx is cancelled. Output lines go to the sink.
	Execute(ctx context.Context, job models.BuildJob, cfg models.BuildConfig, slug string, sink models.LogSink) error

	// VerifyArtifacts reports whether build output exists for the slug
	VerifyArtifacts(ctx context.Context, slug string) (bool, error)

	// Cleanup releases backend resources for a deployment. Idempotent:
	// resources that are already gone are not an error.
	Cleanup(ctx context.Context, deploymentID string) error

	// RemoveArtifacts deletes the published artifact set for a slug on
	// site teardown. Idempotent.
	RemoveArtifacts(ctx context.Context, slug string) error

	// Status is a stateless out-of-band read of the backend job
	Status(ctx context.Context, deploymentID string) (models.JobStatus, error)
}

// NewExecutor constructs the executor selected by BUILD_BACKEND
func NewExecutor(backend config.BuildBackend) (BuildExecutor, error) {
	switch backend {
	case config.BuildBackendDocker:
		dockerClient, err := docker.NewClient()
		if err != nil {
			return nil, fmt.Errorf("docker backend: %w", err)
		}
		return NewDockerExecutor(dockerClient), nil

	case config.BuildBackendKubernetes:
		k8sClient, err := kubernetes.NewClient()
		if err != nil {
			return nil, fmt.Errorf("kubernetes backend: %w", err)
		}
		store, err := storage.NewClient(storage.ConfigFromEnv())
		if err != nil {
			return nil, fmt.Errorf("kubernetes backend artifact store: %w", err)
		}
		return NewKubernetesExecutor(k8sClient, store), nil
	}
	return nil, fmt.Errorf("unknown build backend %q", backend)
}
