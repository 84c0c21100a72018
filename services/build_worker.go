package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/lib/metrics"
	"github.com/sitepress-engine/models"
	"github.com/sitepress-engine/repositories"
	"github.com/sitepress-engine/utils"
)

// ProjectStore is the project read capability the worker needs
type ProjectStore interface {
	FindByID(id string) (models.Project, error)
}

// DeploymentStore is the status/log sink the worker writes through. The gorm
// repository is the production implementation; implementations must enforce
// terminal-state finality in SetStatus.
type DeploymentStore interface {
	Create(deployment models.Deployment) (models.Deployment, error)
	FindByID(id string) (models.Deployment, error)
	SetStatus(id string, status models.DeploymentStatus, extras map[string]interface{}) error
	AppendLog(deploymentID, level, message string) error
	ActivateDeployment(projectID, deploymentID string) error
}

// BuildWorker drives the build pipeline for dequeued jobs: it sequences
// validation, execution, and artifact verification for one deployment,
// persists every status and log transition, and reports terminal outcomes.
type BuildWorker struct {
	queue          *BuildQueue
	executor       BuildExecutor
	projectRepo    ProjectStore
	deploymentRepo DeploymentStore
	baseDomain     string
	webhookURL     string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewBuildWorker wires the worker to its queue, executor, and stores
func NewBuildWorker(queue *BuildQueue, executor BuildExecutor) *BuildWorker {
	return &BuildWorker{
		queue:          queue,
		executor:       executor,
		projectRepo:    repositories.NewProjectRepository(),
		deploymentRepo: repositories.NewDeploymentRepository(),
		baseDomain:     config.GetBaseDomain(),
		webhookURL:     config.GetEnv("BUILD_WEBHOOK_URL", ""),
		running:        make(map[string]context.CancelFunc),
	}
}

// Queue exposes the underlying queue for introspection endpoints
func (w *BuildWorker) Queue() *BuildQueue {
	return w.queue
}

// Executor exposes the backend for out-of-band status reads
func (w *BuildWorker) Executor() BuildExecutor {
	return w.executor
}

// Start launches the dispatch loop and returns its supervisor handle
func (w *BuildWorker) Start(pollInterval time.Duration) *Dispatcher {
	log.Printf("🔄 Build dispatcher started (backend: %s)", w.executor.Name())
	return w.queue.ProcessBuildQueue(w.ProcessJob, pollInterval)
}

// EnqueueBuild creates the deployment record and queues the build. Production
// deployments take the high tier, previews the low tier.
func (w *BuildWorker) EnqueueBuild(ctx context.Context, projectID string, deployType models.DeploymentType) (models.Deployment, error) {
	project, err := w.projectRepo.FindByID(projectID)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("project %s not found", projectID)
	}

	deployment, err := w.deploymentRepo.Create(models.Deployment{
		ProjectID: project.ID,
		Type:      deployType,
		Status:    models.DeploymentStatusBuilding,
	})
	if err != nil {
		return models.Deployment{}, fmt.Errorf("create deployment record: %w", err)
	}

	priority := models.BuildPriorityLow
	if deployType == models.DeploymentTypeProduction {
		priority = models.BuildPriorityHigh
	}

	if err := w.queue.EnqueueBuild(ctx, deployment.ID, project.ID, priority); err != nil {
		w.finalize(deployment.ID, models.DeploymentStatusError, nil)
		return models.Deployment{}, err
	}

	return deployment, nil
}

// ProcessJob runs one dequeued job through the state machine:
// BUILDING → DEPLOYING → {READY | ERROR | CANCELLED}
func (w *BuildWorker) ProcessJob(job models.BuildJob) {
	started := time.Now()
	sink := w.logSink(job.DeploymentID)

	ctx, cancel := context.WithCancel(context.Background())
	w.track(job.DeploymentID, cancel)
	defer w.untrack(job.DeploymentID)
	defer cancel()

	// Pipeline start is authoritative for the BUILDING state
	if err := w.deploymentRepo.SetStatus(job.DeploymentID, models.DeploymentStatusBuilding, nil); err != nil {
		// Already terminal: cancelled while queued, nothing to do
		log.Printf("Skipping build %s: %v", job.DeploymentID, err)
		return
	}
	go utils.SendWebhookNotification(w.webhookURL, job.DeploymentID, "building", "")

	project, err := w.projectRepo.FindByID(job.ProjectID)
	if err != nil {
		sink("error", "project configuration could not be loaded")
		w.fail(job, started, fmt.Sprintf("load project: %v", err))
		return
	}
	deployment, err := w.deploymentRepo.FindByID(job.DeploymentID)
	if err != nil {
		w.fail(job, started, fmt.Sprintf("load deployment: %v", err))
		return
	}

	cfg := repositories.BuildConfigFromProject(project)

	// Validation failures never reach a subprocess or allocate backend
	// resources
	validation := utils.ValidateBuildConfig(cfg)
	if !validation.Valid {
		for _, reason := range validation.Errors {
			sink("error", "invalid build configuration: "+reason)
		}
		w.fail(job, started, "build configuration rejected")
		return
	}

	slug := utils.SiteSlug(project.Slug, deployment.ID, deployment.Type)
	sink("info", fmt.Sprintf("starting %s build for %s on %s backend", deployment.Type, slug, w.executor.Name()))

	if err := w.executor.Execute(ctx, job, cfg, slug, sink); err != nil {
		if ctx.Err() == context.Canceled {
			w.finishCancelled(job)
			return
		}
		sink("error", err.Error())
		w.fail(job, started, err.Error())
		return
	}
	if ctx.Err() == context.Canceled {
		w.finishCancelled(job)
		return
	}

	if err := w.deploymentRepo.SetStatus(job.DeploymentID, models.DeploymentStatusDeploying, nil); err != nil {
		log.Printf("Skipping publish for %s: %v", job.DeploymentID, err)
		return
	}

	exists, err := w.executor.VerifyArtifacts(ctx, slug)
	if err != nil {
		sink("error", fmt.Sprintf("artifact verification failed: %v", err))
		w.fail(job, started, "artifact verification failed")
		return
	}
	if !exists {
		sink("error", "no artifacts found after build")
		w.fail(job, started, "no artifacts found after build")
		return
	}

	duration := time.Since(started)
	url := fmt.Sprintf("https://%s.%s", slug, w.baseDomain)
	if err := w.deploymentRepo.SetStatus(job.DeploymentID, models.DeploymentStatusReady, map[string]interface{}{
		"url":               url,
		"artifact_path":     slug,
		"build_duration_ms": duration.Milliseconds(),
	}); err != nil {
		log.Printf("Skipping ready transition for %s: %v", job.DeploymentID, err)
		return
	}

	// Single active deployment per project. Two separate writes: a brief
	// window with zero or two active deployments is accepted.
	if err := w.deploymentRepo.ActivateDeployment(job.ProjectID, job.DeploymentID); err != nil {
		log.Printf("Warning: failed to activate deployment %s: %v", job.DeploymentID, err)
	}

	sink("info", fmt.Sprintf("deployment ready at %s (%s)", url, duration.Round(time.Millisecond)))
	metrics.BuildsTotal.WithLabelValues(string(models.DeploymentStatusReady)).Inc()
	metrics.BuildDuration.Observe(duration.Seconds())
	go utils.SendWebhookNotification(w.webhookURL, job.DeploymentID, "ready", "")
	log.Printf("✅ Deployment %s ready at %s", job.DeploymentID, url)
}

// Cancel cancels a deployment. Queued jobs are removed synchronously; running
// jobs get backend teardown signalled, and the CANCELLED status write is
// authoritative regardless of subprocess timing.
func (w *BuildWorker) Cancel(ctx context.Context, deploymentID string) error {
	deployment, err := w.deploymentRepo.FindByID(deploymentID)
	if err != nil {
		return fmt.Errorf("deployment %s not found", deploymentID)
	}
	if deployment.Status.IsTerminal() {
		return fmt.Errorf("deployment %s is already %s", deploymentID, deployment.Status)
	}

	removed, err := w.queue.RemoveFromQueue(ctx, deploymentID)
	if err != nil {
		return err
	}
	if removed {
		w.finalize(deploymentID, models.DeploymentStatusCancelled, nil)
		log.Printf("Cancelled queued build %s", deploymentID)
		return nil
	}

	// Running: tear down backend resources first, then the authoritative
	// status write
	if err := w.executor.Cleanup(ctx, deploymentID); err != nil {
		log.Printf("Warning: cleanup for cancelled build %s: %v", deploymentID, err)
	}
	w.cancelRunning(deploymentID)
	w.finalize(deploymentID, models.DeploymentStatusCancelled, nil)
	log.Printf("Cancelled running build %s", deploymentID)
	return nil
}

func (w *BuildWorker) fail(job models.BuildJob, started time.Time, reason string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.executor.Cleanup(cleanupCtx, job.DeploymentID); err != nil {
		log.Printf("Warning: cleanup after failed build %s: %v", job.DeploymentID, err)
	}

	w.finalize(job.DeploymentID, models.DeploymentStatusError, map[string]interface{}{
		"build_duration_ms": time.Since(started).Milliseconds(),
	})
	go utils.SendWebhookNotification(w.webhookURL, job.DeploymentID, "error", reason)
	log.Printf("❌ Build %s failed: %s", job.DeploymentID, reason)
}

func (w *BuildWorker) finishCancelled(job models.BuildJob) {
	// Cancel already wrote the terminal status and cleaned up; the guard
	// makes this a no-op when so
	w.finalize(job.DeploymentID, models.DeploymentStatusCancelled, nil)
	log.Printf("Build %s cancelled", job.DeploymentID)
}

// finalize writes a terminal status, tolerating the already-terminal case
func (w *BuildWorker) finalize(deploymentID string, status models.DeploymentStatus, extras map[string]interface{}) {
	if err := w.deploymentRepo.SetStatus(deploymentID, status, extras); err != nil {
		log.Printf("Status %s for %s not applied: %v", status, deploymentID, err)
		return
	}
	metrics.BuildsTotal.WithLabelValues(string(status)).Inc()
}

// logSink appends tagged lines to the deployment's durable log stream
func (w *BuildWorker) logSink(deploymentID string) models.LogSink {
	return func(level, message string) {
		if err := w.deploymentRepo.AppendLog(deploymentID, level, message); err != nil {
			log.Printf("Warning: dropped log line for %s: %v", deploymentID, err)
		}
	}
}

func (w *BuildWorker) track(deploymentID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running[deploymentID] = cancel
}

func (w *BuildWorker) untrack(deploymentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.running, deploymentID)
}

func (w *BuildWorker) cancelRunning(deploymentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.running[deploymentID]; ok {
		cancel()
	}
}
