package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EnvVars custom type for JSON storage
type EnvVars map[string]string

func (e EnvVars) Value() (driver.Value, error) {
	return json.Marshal(e)
}

func (e *EnvVars) Scan(value interface{}) error {
	if value == nil {
		*e = make(map[string]string)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, e)
}

// Project represents a deployable static site
type Project struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name string `json:"name" gorm:"not null"`
	Slug string `json:"slug" gorm:"not null;uniqueIndex"`

	// Git repository
	RepoURL string `json:"repoUrl" gorm:"not null"`
	Branch  string `json:"branch" gorm:"default:main"`

	// Build configuration
	InstallCmd  string  `json:"installCmd" gorm:"default:null"`
	BuildCmd    string  `json:"buildCmd" gorm:"not null"`
	OutputDir   string  `json:"outputDir" gorm:"default:dist"`
	RootDir     string  `json:"rootDir" gorm:"default:null"`
	NodeVersion string  `json:"nodeVersion" gorm:"default:20"`
	EnvVars     EnvVars `json:"envVars" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Deployments []Deployment `json:"deployments,omitempty" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

// TableName sets the table name for Project model
func (Project) TableName() string {
	return "projects"
}

// BeforeCreate generates the ID so callers hold it before the insert returns
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
