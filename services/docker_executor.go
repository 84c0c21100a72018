package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/lib/docker"
	"github.com/sitepress-engine/models"
	"github.com/sitepress-engine/utils"
)

// Per-step wall-clock caps for the container backend
const (
	cloneTimeout   = 2 * time.Minute
	installTimeout = 5 * time.Minute
	buildTimeout   = 8 * time.Minute
	copyTimeout    = 1 * time.Minute

	// Backstop over the whole pipeline, independent of the per-step caps
	pipelineTimeout = 10 * time.Minute
)

const deploymentLabel = "sitepress.deployment-id"

// DockerExecutor runs the build pipeline in resource-capped local containers,
// for environments without a cluster. Output is published to a local serving
// directory keyed by site slug.
type DockerExecutor struct {
	client        *docker.Client
	workspaceRoot string
	servingRoot   string
}

// NewDockerExecutor creates the container backend with workspace and serving
// roots from the environment
func NewDockerExecutor(client *docker.Client) *DockerExecutor {
	return &DockerExecutor{
		client:        client,
		workspaceRoot: config.GetEnv("BUILD_WORKSPACE_DIR", "/var/lib/sitepress/workspaces"),
		servingRoot:   config.GetEnv("SERVING_DIR", "/var/lib/sitepress/sites"),
	}
}

// Name identifies the backend in logs
func (e *DockerExecutor) Name() string {
	return "docker"
}

// Execute runs clone → install → build → collect under the 10-minute backstop
func (e *DockerExecutor) Execute(ctx context.Context, job models.BuildJob, cfg models.BuildConfig, slug string, sink models.LogSink) error {
	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
	defer cancel()

	workDir := filepath.Join(e.workspaceRoot, job.DeploymentID)
	if err := e.CloneRepo(ctx, cfg.RepoURL, cfg.Branch, workDir, sink); err != nil {
		return err
	}
	defer e.CleanupRepo(workDir)

	buildDir := workDir
	if cfg.RootDir != "" {
		buildDir = utils.ResolveSecurePath(workDir, cfg.RootDir)
		if buildDir == "" {
			return fmt.Errorf("root directory %q escapes the workspace", cfg.RootDir)
		}
	}

	if cfg.InstallCmd != "" {
		if err := e.RunInstall(ctx, job.DeploymentID, buildDir, cfg.InstallCmd, cfg.NodeVersion, sink); err != nil {
			return err
		}
	}

	if err := e.RunBuild(ctx, job.DeploymentID, buildDir, cfg.BuildCmd, cfg.NodeVersion, cfg.EnvVars, sink); err != nil {
		return err
	}

	return e.CopyOutput(ctx, buildDir, cfg.OutputDir, slug, sink)
}

// CloneRepo performs a shallow single-branch clone into targetDir, removing
// any stale directory first
func (e *DockerExecutor) CloneRepo(ctx context.Context, repoURL, branch, targetDir string, sink models.LogSink) error {
	if err := os.RemoveAll(targetDir); err != nil {
		return fmt.Errorf("remove stale workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(targetDir), 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}

	result := utils.RunCommand(ctx, "git", []string{
		"clone", "--depth", "1", "--single-branch", "--branch", branch, repoURL, targetDir,
	}, utils.RunCommandOptions{
		Timeout: cloneTimeout,
		Sink:    sink,
		Env:     map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	if !result.Success {
		return fmt.Errorf("git clone failed (exit code %d)", result.ExitCode)
	}
	return nil
}

// RunInstall runs the install command in a container with no network access:
// dependencies must already be lockfile-pinned
func (e *DockerExecutor) RunInstall(ctx context.Context, deploymentID, workDir, installCmd, nodeVersion string, sink models.LogSink) error {
	executable, args := utils.SplitCommand(installCmd)
	result := e.runInContainer(ctx, containerRunSpec{
		name:        fmt.Sprintf("sitebuild-%s-install", utils.ShortHash(deploymentID)),
		deployment:  deploymentID,
		image:       utils.NodeImage(nodeVersion),
		cmd:         append([]string{executable}, args...),
		workDir:     workDir,
		network:     "none",
		memoryBytes: 1 << 30, // 1 GiB
		nanoCPUs:    1_000_000_000,
		pidsLimit:   256,
		tmpfsSize:   "512m",
		timeout:     installTimeout,
	}, sink)
	if !result.Success {
		if result.ExitCode == -1 {
			return fmt.Errorf("install command timed out after %s", installTimeout)
		}
		return fmt.Errorf("install command failed (exit code %d)", result.ExitCode)
	}
	return nil
}

// RunBuild runs the build command with higher resource caps and the
// project's sanitized environment variables injected. Network stays enabled
// for build-time fetches.
func (e *DockerExecutor) RunBuild(ctx context.Context, deploymentID, workDir, buildCmd, nodeVersion string, envVars map[string]string, sink models.LogSink) error {
	env := make(map[string]string, len(envVars))
	for key, value := range envVars {
		env[key] = utils.SanitizeEnvValue(value)
	}

	executable, args := utils.SplitCommand(buildCmd)
	result := e.runInContainer(ctx, containerRunSpec{
		name:        fmt.Sprintf("sitebuild-%s-build", utils.ShortHash(deploymentID)),
		deployment:  deploymentID,
		image:       utils.NodeImage(nodeVersion),
		cmd:         append([]string{executable}, args...),
		workDir:     workDir,
		env:         env,
		memoryBytes: 3 << 30, // 3 GiB
		nanoCPUs:    2_000_000_000,
		pidsLimit:   512,
		tmpfsSize:   "1g",
		timeout:     buildTimeout,
	}, sink)
	if !result.Success {
		if result.ExitCode == -1 {
			return fmt.Errorf("build command timed out after %s", buildTimeout)
		}
		return fmt.Errorf("build command failed (exit code %d)", result.ExitCode)
	}
	return nil
}

// CopyOutput resolves the output directory securely and atomically replaces
// the previous artifact directory for the slug
func (e *DockerExecutor) CopyOutput(ctx context.Context, workDir, outputDir, slug string, sink models.LogSink) error {
	ctx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()

	source := utils.ResolveSecurePath(workDir, outputDir)
	if source == "" {
		return fmt.Errorf("output directory %q escapes the workspace", outputDir)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("output directory %q not found after build", outputDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %q is not a directory", outputDir)
	}

	if err := os.MkdirAll(e.servingRoot, 0o755); err != nil {
		return fmt.Errorf("create serving root: %w", err)
	}

	final := filepath.Join(e.servingRoot, slug)
	staging := final + ".new"
	previous := final + ".old"

	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging directory: %w", err)
	}
	if err := copyTree(ctx, source, staging); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("copy build output: %w", err)
	}

	// Swap: the serving path points at a complete tree at every instant
	os.RemoveAll(previous)
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, previous); err != nil {
			return fmt.Errorf("stash previous artifacts: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("publish build output: %w", err)
	}
	os.RemoveAll(previous)

	if sink != nil {
		sink("info", fmt.Sprintf("published build output to %s", final))
	}
	return nil
}

// CleanupRepo removes the build workspace. Best effort: failures are logged,
// never fatal.
func (e *DockerExecutor) CleanupRepo(workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		log.Printf("Warning: failed to clean workspace %s: %v", workDir, err)
	}
}

// VerifyArtifacts reports whether the serving directory for the slug exists
// and is non-empty
func (e *DockerExecutor) VerifyArtifacts(_ context.Context, slug string) (bool, error) {
	entries, err := os.ReadDir(filepath.Join(e.servingRoot, slug))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// Cleanup force-removes any containers for the deployment and its workspace.
// Idempotent: already-gone resources are not an error.
func (e *DockerExecutor) Cleanup(ctx context.Context, deploymentID string) error {
	containers, err := e.client.API.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", deploymentLabel+"="+deploymentID)),
	})
	if err != nil {
		return fmt.Errorf("list build containers: %w", err)
	}
	for _, c := range containers {
		if err := e.client.API.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			log.Printf("Warning: failed to remove container %s: %v", c.ID, err)
		}
	}

	e.CleanupRepo(filepath.Join(e.workspaceRoot, deploymentID))
	return nil
}

// RemoveArtifacts deletes the serving directory for a slug, including any
// in-flight staging or stashed trees
func (e *DockerExecutor) RemoveArtifacts(_ context.Context, slug string) error {
	final := filepath.Join(e.servingRoot, slug)
	var firstErr error
	for _, dir := range []string{final, final + ".new", final + ".old"} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove artifacts %s: %w", dir, err)
		}
	}
	return firstErr
}

// Status reports running when a build container for the deployment exists,
// pending otherwise
func (e *DockerExecutor) Status(ctx context.Context, deploymentID string) (models.JobStatus, error) {
	containers, err := e.client.API.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", deploymentLabel+"="+deploymentID)),
	})
	if err != nil {
		return models.JobStatusPending, err
	}
	if len(containers) == 0 {
		return models.JobStatusPending, nil
	}
	return models.JobStatusRunning, nil
}

type containerRunSpec struct {
	name        string
	deployment  string
	image       string
	cmd         []string
	workDir     string
	env         map[string]string
	network     string
	memoryBytes int64
	nanoCPUs    int64
	pidsLimit   int64
	tmpfsSize   string
	timeout     time.Duration
}

// runInContainer executes one command in an isolated container: read-only
// root filesystem, size-capped writable /tmp, memory/CPU/pid caps, and the
// workspace bind-mounted at /app. The command runs as a plain argv, no shell.
func (e *DockerExecutor) runInContainer(ctx context.Context, spec containerRunSpec, sink models.LogSink) models.CommandResult {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	if err := e.pullImage(ctx, spec.image, sink); err != nil {
		sinkOrLog(sink, "error", fmt.Sprintf("failed to pull image %s: %v", spec.image, err))
		return models.CommandResult{Success: false, ExitCode: -1}
	}

	env := []string{"HOME=/tmp", "npm_config_cache=/tmp/.npm"}
	for key, value := range spec.env {
		env = append(env, key+"="+value)
	}

	pids := spec.pidsLimit
	hostConfig := &container.HostConfig{
		Binds:          []string{spec.workDir + ":/app"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=" + spec.tmpfsSize},
		Resources: container.Resources{
			Memory:    spec.memoryBytes,
			NanoCPUs:  spec.nanoCPUs,
			PidsLimit: &pids,
		},
	}
	if spec.network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.network)
	}

	created, err := e.client.API.ContainerCreate(ctx, &container.Config{
		Image:      spec.image,
		Cmd:        spec.cmd,
		WorkingDir: "/app",
		Env:        env,
		Labels:     map[string]string{deploymentLabel: spec.deployment},
	}, hostConfig, nil, nil, spec.name)
	if err != nil {
		sinkOrLog(sink, "error", fmt.Sprintf("failed to create container: %v", err))
		return models.CommandResult{Success: false, ExitCode: -1}
	}
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		_ = e.client.API.ContainerRemove(removeCtx, created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := e.client.API.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		sinkOrLog(sink, "error", fmt.Sprintf("failed to start container: %v", err))
		return models.CommandResult{Success: false, ExitCode: -1}
	}

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		e.streamContainerOutput(ctx, created.ID, sink)
	}()

	statusCh, errCh := e.client.API.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		// Hard kill on wall-clock timeout
		killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer killCancel()
		_ = e.client.API.ContainerKill(killCtx, created.ID, "KILL")
		sinkOrLog(sink, "error", "command killed: wall-clock timeout exceeded")
		return models.CommandResult{Success: false, ExitCode: -1}

	case err := <-errCh:
		sinkOrLog(sink, "error", fmt.Sprintf("container wait failed: %v", err))
		return models.CommandResult{Success: false, ExitCode: -1}

	case status := <-statusCh:
		<-logsDone
		if status.StatusCode != 0 {
			return models.CommandResult{Success: false, ExitCode: int(status.StatusCode)}
		}
		return models.CommandResult{Success: true, ExitCode: 0}
	}
}

func (e *DockerExecutor) pullImage(ctx context.Context, ref string, sink models.LogSink) error {
	reader, err := e.client.API.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// streamContainerOutput demuxes the container's stdout/stderr and forwards
// them line by line, tagged info/error
func (e *DockerExecutor) streamContainerOutput(ctx context.Context, containerID string, sink models.LogSink) {
	logs, err := e.client.API.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return
	}
	defer logs.Close()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, logs)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanLines(stdoutR, "info", sink)
	}()
	scanLines(stderrR, "error", sink)
	<-done
}

func scanLines(r io.Reader, level string, sink models.LogSink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		sinkOrLog(sink, level, scanner.Text())
	}
}

func sinkOrLog(sink models.LogSink, level, message string) {
	if sink == nil {
		log.Printf("[%s] %s", level, message)
		return
	}
	sink(level, message)
}

// copyTree copies src recursively to dst, preserving file modes
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			// Symlinks and devices never belong in build output
			return nil
		}

		source, err := os.Open(path)
		if err != nil {
			return err
		}
		defer source.Close()

		dest, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		defer dest.Close()

		_, err = io.Copy(dest, source)
		return err
	})
}
