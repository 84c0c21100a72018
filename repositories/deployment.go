package repositories

import (
	"fmt"
	"time"

	"github.com/sitepress-engine/database"
	"github.com/sitepress-engine/models"
)

// DeploymentRepository handles database operations for deployments.
// It is the durable status/log sink the build worker writes through.
type DeploymentRepository struct{}

// NewDeploymentRepository creates a new deployment repository instance
func NewDeploymentRepository() *DeploymentRepository {
	return &DeploymentRepository{}
}

// terminalStatuses guard every status write: once a deployment reaches one of
// these, no further status-changing call is accepted.
var terminalStatuses = []models.DeploymentStatus{
	models.DeploymentStatusReady,
	models.DeploymentStatusError,
	models.DeploymentStatusCancelled,
}

// Create inserts a new deployment into the database
func (r *DeploymentRepository) Create(deployment models.Deployment) (models.Deployment, error) {
	result := database.DB.Create(&deployment)
	return deployment, result.Error
}

// FindByID retrieves a deployment by its ID
func (r *DeploymentRepository) FindByID(id string) (models.Deployment, error) {
	var deployment models.Deployment
	result := database.DB.First(&deployment, "id = ?", id)
	return deployment, result.Error
}

// FindByProjectID retrieves all deployments for a project, newest first
func (r *DeploymentRepository) FindByProjectID(projectID string) ([]models.Deployment, error) {
	var deployments []models.Deployment
	result := database.DB.Where("project_id = ?", projectID).
		Order("created_at DESC").Find(&deployments)
	return deployments, result.Error
}

// SetStatus transitions a deployment. Terminal states are immutable: the
// update is filtered to non-terminal rows, and a transition into a terminal
// state sets finished_at exactly once. Extras (url, artifact path, duration)
// land in the same write as the status change.
func (r *DeploymentRepository) SetStatus(id string, status models.DeploymentStatus, extras map[string]interface{}) error {
	updates := map[string]interface{}{
		"status": status,
	}
	for key, value := range extras {
		updates[key] = value
	}
	if status.IsTerminal() {
		now := time.Now()
		updates["finished_at"] = &now
	}

	result := database.DB.Model(&models.Deployment{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("deployment %s is already terminal", id)
	}
	return nil
}

// AppendLog appends one line to the deployment's log stream. Arrival order
// is preserved by the autoincrement primary key.
func (r *DeploymentRepository) AppendLog(deploymentID, level, message string) error {
	entry := models.DeploymentLog{
		DeploymentID: deploymentID,
		Level:        level,
		Message:      message,
	}
	return database.DB.Create(&entry).Error
}

// GetLogs returns the full log stream for a deployment in arrival order
func (r *DeploymentRepository) GetLogs(deploymentID string) ([]models.DeploymentLog, error) {
	var logs []models.DeploymentLog
	result := database.DB.Where("deployment_id = ?", deploymentID).
		Order("id ASC").Find(&logs)
	return logs, result.Error
}

// GetLogsAfter returns log lines with an ID greater than afterID, in arrival
// order. Used by incremental log streaming.
func (r *DeploymentRepository) GetLogsAfter(deploymentID string, afterID uint) ([]models.DeploymentLog, error) {
	var logs []models.DeploymentLog
	result := database.DB.Where("deployment_id = ? AND id > ?", deploymentID, afterID).
		Order("id ASC").Find(&logs)
	return logs, result.Error
}

// ActivateDeployment deactivates any previously active deployment for the
// project and marks the given one active. The two writes are not a single
// transaction against concurrent builders of the same project; a brief window
// where zero or two deployments appear active is accepted.
func (r *DeploymentRepository) ActivateDeployment(projectID, deploymentID string) error {
	err := database.DB.Model(&models.Deployment{}).
		Where("project_id = ? AND active = ? AND id <> ?", projectID, true, deploymentID).
		Update("active", false).Error
	if err != nil {
		return err
	}
	return database.DB.Model(&models.Deployment{}).
		Where("id = ?", deploymentID).
		Update("active", true).Error
}

// GetActiveDeployment returns the currently active deployment for a project
func (r *DeploymentRepository) GetActiveDeployment(projectID string) (models.Deployment, error) {
	var deployment models.Deployment
	result := database.DB.Where("project_id = ? AND active = ?", projectID, true).
		First(&deployment)
	return deployment, result.Error
}
