package utils

import (
	"fmt"
	"strings"

	"github.com/sitepress-engine/config"
	"github.com/sitepress-engine/models"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	resource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	BuildContainerName  = "site-build"
	CloneContainerName  = "git-clone"
	UploadContainerName = "artifact-upload"

	workspaceVolume = "build-workspace"
	completeMarker  = "/workspace/.build-complete"
)

// GetBuildNamespace returns the namespace build jobs run in
func GetBuildNamespace() string {
	return config.GetEnv("BUILD_NAMESPACE", "site-builds")
}

// BuildJobName returns the Job name for a deployment
func BuildJobName(deploymentID string) string {
	return "build-" + deploymentID
}

// BuildSecretName returns the per-deployment env Secret name
func BuildSecretName(deploymentID string) string {
	return "build-env-" + deploymentID
}

// NodeImage maps an allow-listed node version to its container image
func NodeImage(version string) string {
	return fmt.Sprintf("node:%s-alpine", version)
}

// NewBuildNamespace returns the namespace object build jobs run in
func NewBuildNamespace(name string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				"managed-by": "sitepress",
			},
		},
	}
}

// NewBuildEnvSecret creates the per-deployment Secret carrying sanitized
// build environment variables. Recreated on every attempt.
func NewBuildEnvSecret(deploymentID, projectID string, envVars map[string]string) *corev1.Secret {
	data := make(map[string]string, len(envVars))
	for key, value := range envVars {
		data[key] = SanitizeEnvValue(value)
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      BuildSecretName(deploymentID),
			Namespace: GetBuildNamespace(),
			Labels: map[string]string{
				"app":           "sitepress",
				"project-id":    projectID,
				"deployment-id": deploymentID,
			},
		},
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}
}

// UploadTarget carries the object-store coordinates the upload container needs
type UploadTarget struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Slug      string
	UseSSL    bool
}

// NewSiteBuildJob constructs the build Job: a git-clone init container and a
// site-build init container write into a shared emptyDir, then the main
// container uploads the output tree to object storage once the completion
// marker appears. BackoffLimit is zero: a failed build is a failed build,
// never silently retried.
func NewSiteBuildJob(job models.BuildJob, cfg models.BuildConfig, target UploadTarget) *batchv1.Job {
	jobName := BuildJobName(job.DeploymentID)
	namespace := GetBuildNamespace()

	repoURL := cfg.RepoURL
	if !strings.HasSuffix(repoURL, ".git") {
		repoURL = repoURL + ".git"
	}

	deadline := int64(config.GetEnvInt("BUILD_JOB_DEADLINE_SECONDS", 900))
	labels := map[string]string{
		"app":           "sitepress",
		"project-id":    job.ProjectID,
		"deployment-id": job.DeploymentID,
		"priority":      string(job.Priority),
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(0),
			TTLSecondsAfterFinished: int32Ptr(600),
			ActiveDeadlineSeconds:   int64Ptr(deadline),

			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: mergeLabels(labels, map[string]string{"job-name": jobName}),
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,

					InitContainers: []corev1.Container{
						{
							Name:    CloneContainerName,
							Image:   "alpine/git:2.43.0",
							Command: []string{"sh", "-c"},
							Args: []string{fmt.Sprintf(
								"git clone --branch %s --single-branch --depth 1 %s /workspace/repo",
								cfg.Branch, repoURL,
							)},
							VolumeMounts: []corev1.VolumeMount{workspaceMount()},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("100m"),
									corev1.ResourceMemory: resource.MustParse("128Mi"),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("200m"),
									corev1.ResourceMemory: resource.MustParse("256Mi"),
								},
							},
						},
						{
							Name:    BuildContainerName,
							Image:   NodeImage(cfg.NodeVersion),
							Command: []string{"sh", "-c"},
							Args:    []string{buildScript(cfg)},
							EnvFrom: []corev1.EnvFromSource{
								{
									SecretRef: &corev1.SecretEnvSource{
										LocalObjectReference: corev1.LocalObjectReference{
											Name: BuildSecretName(job.DeploymentID),
										},
									},
								},
							},
							VolumeMounts: []corev1.VolumeMount{workspaceMount()},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:              resource.MustParse("500m"),
									corev1.ResourceMemory:           resource.MustParse("1Gi"),
									corev1.ResourceEphemeralStorage: resource.MustParse("1Gi"),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:              resource.MustParse("2000m"),
									corev1.ResourceMemory:           resource.MustParse("4Gi"),
									corev1.ResourceEphemeralStorage: resource.MustParse("4Gi"),
								},
							},
						},
					},

					Containers: []corev1.Container{
						{
							Name:    UploadContainerName,
							Image:   "minio/mc:RELEASE.2024-11-17T19-35-25Z",
							Command: []string{"sh", "-c"},
							Args:    []string{uploadScript(target)},
							Env: []corev1.EnvVar{
								{Name: "STORE_ACCESS_KEY", Value: target.AccessKey},
								{Name: "STORE_SECRET_KEY", Value: target.SecretKey},
							},
							VolumeMounts: []corev1.VolumeMount{workspaceMount()},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("100m"),
									corev1.ResourceMemory: resource.MustParse("128Mi"),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("500m"),
									corev1.ResourceMemory: resource.MustParse("512Mi"),
								},
							},
						},
					},

					Volumes: []corev1.Volume{
						{
							Name: workspaceVolume,
							VolumeSource: corev1.VolumeSource{
								EmptyDir: &corev1.EmptyDirVolumeSource{
									SizeLimit: resource.NewQuantity(4*1024*1024*1024, resource.BinarySI),
								},
							},
						},
					},
				},
			},
		},
	}
}

// buildScript runs install and build inside the repo and stages the output
// tree for the uploader. Commands and directories here have already passed
// the whitelist validator; directory interpolations are single-quoted anyway
// so nothing in them can ever expand under sh.
func buildScript(cfg models.BuildConfig) string {
	workDir := "/workspace/repo"
	if cfg.RootDir != "" {
		workDir = workDir + "/" + cfg.RootDir
	}

	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "cd '%s'\n", workDir)
	if cfg.InstallCmd != "" {
		b.WriteString(cfg.InstallCmd + "\n")
	}
	b.WriteString(cfg.BuildCmd + "\n")
	fmt.Fprintf(&b, "if [ ! -d '%s' ]; then echo \"output directory not found\" >&2; exit 1; fi\n", cfg.OutputDir)
	fmt.Fprintf(&b, "cp -r '%s' /workspace/output\n", cfg.OutputDir)
	fmt.Fprintf(&b, "touch %s\n", completeMarker)
	return b.String()
}

// uploadScript waits for the completion marker, then mirrors the staged
// output tree into the builds bucket under the site slug
func uploadScript(target UploadTarget) string {
	scheme := "http"
	if target.UseSSL {
		scheme = "https"
	}

	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "while [ ! -f %s ]; do sleep 1; done\n", completeMarker)
	fmt.Fprintf(&b, "mc alias set store '%s://%s' \"$STORE_ACCESS_KEY\" \"$STORE_SECRET_KEY\"\n", scheme, target.Endpoint)
	fmt.Fprintf(&b, "mc mirror --overwrite --remove /workspace/output 'store/%s/%s'\n", target.Bucket, target.Slug)
	return b.String()
}

func workspaceMount() corev1.VolumeMount {
	return corev1.VolumeMount{
		Name:      workspaceVolume,
		MountPath: "/workspace",
	}
}

func mergeLabels(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
