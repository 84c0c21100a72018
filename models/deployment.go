package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeploymentStatus represents the lifecycle state of a deployment
type DeploymentStatus string

const (
	DeploymentStatusBuilding  DeploymentStatus = "building"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusReady     DeploymentStatus = "ready"
	DeploymentStatusError     DeploymentStatus = "error"
	DeploymentStatusCancelled DeploymentStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is allowed
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentStatusReady, DeploymentStatusError, DeploymentStatusCancelled:
		return true
	}
	return false
}

// DeploymentType distinguishes production deployments from previews
type DeploymentType string

const (
	DeploymentTypeProduction DeploymentType = "production"
	DeploymentTypePreview    DeploymentType = "preview"
)

// Deployment represents one build attempt of a project
type Deployment struct {
	ID        string           `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ProjectID string           `json:"projectId" gorm:"type:uuid;not null;index"`
	Type      DeploymentType   `json:"type" gorm:"type:varchar(20);default:'production'"`
	Status    DeploymentStatus `json:"status" gorm:"type:varchar(20);default:'building'"`

	// Set atomically with the ready transition
	URL             string `json:"url" gorm:"default:null"`
	ArtifactPath    string `json:"artifactPath" gorm:"default:null"`
	BuildDurationMs int64  `json:"buildDurationMs" gorm:"default:0"`

	// At most one active deployment per project
	Active bool `json:"active" gorm:"default:false;index"`

	FinishedAt *time.Time     `json:"finishedAt" gorm:"default:null"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Project Project         `json:"project,omitempty" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Logs    []DeploymentLog `json:"logs,omitempty" gorm:"foreignKey:DeploymentID;constraint:OnDelete:CASCADE"`
}

// TableName sets the table name for Deployment model
func (Deployment) TableName() string {
	return "deployments"
}

// BeforeCreate generates the ID so the queue payload can carry it immediately
func (d *Deployment) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// DeploymentLog is one line of the append-only per-deployment log stream
type DeploymentLog struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeploymentID string    `json:"deploymentId" gorm:"type:uuid;not null;index"`
	Level        string    `json:"level" gorm:"type:varchar(10);default:'info'"`
	Message      string    `json:"message" gorm:"type:text"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName sets the table name for DeploymentLog model
func (DeploymentLog) TableName() string {
	return "deployment_logs"
}
