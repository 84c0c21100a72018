package utils

import (
	"testing"

	"github.com/sitepress-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
)

func testJob() models.BuildJob {
	return models.BuildJob{
		DeploymentID: "dep-1",
		ProjectID:    "proj-1",
		Priority:     models.BuildPriorityHigh,
	}
}

func testBuildConfig() models.BuildConfig {
	return models.BuildConfig{
		RepoURL:     "https://github.com/acme/site",
		Branch:      "main",
		InstallCmd:  "npm ci",
		BuildCmd:    "npm run build",
		OutputDir:   "dist",
		NodeVersion: "20",
	}
}

func testTarget() UploadTarget {
	return UploadTarget{
		Endpoint:  "minio:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "site-builds",
		Slug:      "acme-site",
	}
}

func TestNewSiteBuildJobNeverRetries(t *testing.T) {
	job := NewSiteBuildJob(testJob(), testBuildConfig(), testTarget())

	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	assert.Equal(t, corev1.RestartPolicyNever, job.Spec.Template.Spec.RestartPolicy)
	require.NotNil(t, job.Spec.ActiveDeadlineSeconds)
	assert.Positive(t, *job.Spec.ActiveDeadlineSeconds)
	require.NotNil(t, job.Spec.TTLSecondsAfterFinished)
}

func TestNewSiteBuildJobContainerLayout(t *testing.T) {
	job := NewSiteBuildJob(testJob(), testBuildConfig(), testTarget())
	podSpec := job.Spec.Template.Spec

	require.Len(t, podSpec.InitContainers, 2)
	assert.Equal(t, CloneContainerName, podSpec.InitContainers[0].Name)
	assert.Equal(t, BuildContainerName, podSpec.InitContainers[1].Name)
	require.Len(t, podSpec.Containers, 1)
	assert.Equal(t, UploadContainerName, podSpec.Containers[0].Name)

	// Build runs on the allow-listed node image
	assert.Equal(t, "node:20-alpine", podSpec.InitContainers[1].Image)

	// Every container shares the workspace volume
	for _, container := range append(podSpec.InitContainers, podSpec.Containers...) {
		require.Len(t, container.VolumeMounts, 1)
		assert.Equal(t, "/workspace", container.VolumeMounts[0].MountPath)
	}
}

func TestNewSiteBuildJobCloneIsShallowSingleBranch(t *testing.T) {
	job := NewSiteBuildJob(testJob(), testBuildConfig(), testTarget())
	cloneArgs := job.Spec.Template.Spec.InitContainers[0].Args

	require.Len(t, cloneArgs, 1)
	assert.Contains(t, cloneArgs[0], "--depth 1")
	assert.Contains(t, cloneArgs[0], "--single-branch")
	assert.Contains(t, cloneArgs[0], "--branch main")
	assert.Contains(t, cloneArgs[0], "https://github.com/acme/site.git")
}

func TestNewSiteBuildJobEnvComesFromSecret(t *testing.T) {
	job := NewSiteBuildJob(testJob(), testBuildConfig(), testTarget())
	build := job.Spec.Template.Spec.InitContainers[1]

	require.Len(t, build.EnvFrom, 1)
	require.NotNil(t, build.EnvFrom[0].SecretRef)
	assert.Equal(t, BuildSecretName("dep-1"), build.EnvFrom[0].SecretRef.Name)
}

func TestNewSiteBuildJobLabels(t *testing.T) {
	job := NewSiteBuildJob(testJob(), testBuildConfig(), testTarget())

	assert.Equal(t, "proj-1", job.Labels["project-id"])
	assert.Equal(t, "dep-1", job.Labels["deployment-id"])
	assert.Equal(t, "high", job.Labels["priority"])
	// Pod template carries job-name for log tailing lookups
	assert.Equal(t, BuildJobName("dep-1"), job.Spec.Template.Labels["job-name"])
}

func TestNewSiteBuildJobResourceLimits(t *testing.T) {
	job := NewSiteBuildJob(testJob(), testBuildConfig(), testTarget())
	build := job.Spec.Template.Spec.InitContainers[1]

	assert.False(t, build.Resources.Limits.Cpu().IsZero())
	assert.False(t, build.Resources.Limits.Memory().IsZero())
	assert.False(t, build.Resources.Limits.StorageEphemeral().IsZero())
}

func TestBuildScriptStagesOutput(t *testing.T) {
	script := buildScript(testBuildConfig())

	assert.Contains(t, script, "set -e")
	assert.Contains(t, script, "cd '/workspace/repo'")
	assert.Contains(t, script, "npm ci")
	assert.Contains(t, script, "npm run build")
	assert.Contains(t, script, "cp -r 'dist' /workspace/output")
	assert.Contains(t, script, ".build-complete")
}

func TestBuildScriptSingleQuotesDirectories(t *testing.T) {
	cfg := testBuildConfig()
	cfg.RootDir = "packages/web"
	script := buildScript(cfg)

	// Directory interpolations sit inside single quotes, where sh expands
	// nothing
	assert.Contains(t, script, "cd '/workspace/repo/packages/web'")
	assert.Contains(t, script, "if [ ! -d 'dist' ]")
	assert.NotContains(t, script, `"dist"`)
}

func TestUploadScriptSingleQuotesTarget(t *testing.T) {
	script := uploadScript(testTarget())

	assert.Contains(t, script, "'http://minio:9000'")
	assert.Contains(t, script, "'store/site-builds/acme-site'")
}

func TestBuildScriptHonorsRootDir(t *testing.T) {
	cfg := testBuildConfig()
	cfg.RootDir = "packages/web"
	script := buildScript(cfg)
	assert.Contains(t, script, "cd '/workspace/repo/packages/web'")
}

func TestBuildScriptSkipsEmptyInstall(t *testing.T) {
	cfg := testBuildConfig()
	cfg.InstallCmd = ""
	script := buildScript(cfg)
	assert.NotContains(t, script, "npm ci")
}

func TestNewBuildEnvSecretSanitizesValues(t *testing.T) {
	secret := NewBuildEnvSecret("dep-1", "proj-1", map[string]string{
		"API_URL": "https://api.example.com",
		"SNEAKY":  "value$(whoami)",
	})

	assert.Equal(t, BuildSecretName("dep-1"), secret.Name)
	assert.Equal(t, "https://api.example.com", secret.StringData["API_URL"])
	assert.Equal(t, "valuewhoami", secret.StringData["SNEAKY"])
}

func TestNodeImage(t *testing.T) {
	assert.Equal(t, "node:18-alpine", NodeImage("18"))
}
