package models

import "time"

// BuildPriority selects the queue tier for a build job
type BuildPriority string

const (
	BuildPriorityHigh BuildPriority = "high" // production deployments
	BuildPriorityLow  BuildPriority = "low"  // preview deployments
)

// BuildJob is the ephemeral queue payload for one requested build.
// Owned by the queue until dequeued, then by the worker for the job's lifetime.
type BuildJob struct {
	DeploymentID string        `json:"deploymentId"`
	ProjectID    string        `json:"projectId"`
	Priority     BuildPriority `json:"priority"`
	EnqueuedAt   time.Time     `json:"enqueuedAt"`
}

// BuildConfig is derived from the project configuration at dequeue time
// and immutable for the duration of one build attempt
type BuildConfig struct {
	RepoURL     string            `json:"repoUrl"`
	Branch      string            `json:"branch"`
	InstallCmd  string            `json:"installCmd"`
	BuildCmd    string            `json:"buildCmd"`
	OutputDir   string            `json:"outputDir"`
	RootDir     string            `json:"rootDir"`
	NodeVersion string            `json:"nodeVersion"`
	EnvVars     map[string]string `json:"envVars"`
}

// ValidationResult collects every reason a build config was rejected
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// CommandResult represents the outcome of one sandboxed subprocess.
// ExitCode -1 is reserved for a timeout kill.
type CommandResult struct {
	Success  bool `json:"success"`
	ExitCode int  `json:"exitCode"`
}

// LogSink receives build output lines tagged info/error. Implementations
// must preserve per-deployment arrival order; they are the only channel
// through which subprocess output reaches the deployment log stream.
type LogSink func(level, message string)

// JobStatus is the out-of-band view of a backend build job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)
