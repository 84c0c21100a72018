package dto

import (
	"time"

	"github.com/sitepress-engine/models"
)

// EnqueueBuildRequest is the payload for submitting a new build
type EnqueueBuildRequest struct {
	ProjectID string                `json:"projectId" binding:"required"`
	Type      models.DeploymentType `json:"type"`
}

// BuildResponse describes one deployment and its pipeline progress
type BuildResponse struct {
	DeploymentID    string     `json:"deploymentId"`
	ProjectID       string     `json:"projectId"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	URL             string     `json:"url,omitempty"`
	ArtifactPath    string     `json:"artifactPath,omitempty"`
	BuildDurationMs int64      `json:"buildDurationMs,omitempty"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// BuildLogLine is one persisted log entry from a build attempt
type BuildLogLine struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueStatsResponse reports queue depth per tier and the running count
type QueueStatsResponse struct {
	HighPriority int64 `json:"highPriority"`
	LowPriority  int64 `json:"lowPriority"`
	Active       int64 `json:"active"`
	Concurrency  int   `json:"concurrency"`
}

// FromDeployment maps the persisted deployment to its API shape
func FromDeployment(deployment models.Deployment) BuildResponse {
	return BuildResponse{
		DeploymentID:    deployment.ID,
		ProjectID:       deployment.ProjectID,
		Type:            string(deployment.Type),
		Status:          string(deployment.Status),
		URL:             deployment.URL,
		ArtifactPath:    deployment.ArtifactPath,
		BuildDurationMs: deployment.BuildDurationMs,
		Active:          deployment.Active,
		CreatedAt:       deployment.CreatedAt,
		FinishedAt:      deployment.FinishedAt,
	}
}

// FromDeploymentLogs maps persisted log rows to their API shape
func FromDeploymentLogs(logs []models.DeploymentLog) []BuildLogLine {
	lines := make([]BuildLogLine, 0, len(logs))
	for _, entry := range logs {
		lines = append(lines, BuildLogLine{
			Level:     entry.Level,
			Message:   entry.Message,
			CreatedAt: entry.CreatedAt,
		})
	}
	return lines
}
