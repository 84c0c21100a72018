package repositories

import (
	"github.com/sitepress-engine/database"
	"github.com/sitepress-engine/models"
)

// ProjectRepository handles database operations for projects
type ProjectRepository struct{}

// NewProjectRepository creates a new project repository instance
func NewProjectRepository() *ProjectRepository {
	return &ProjectRepository{}
}

// Create inserts a new project into the database
func (r *ProjectRepository) Create(project models.Project) (models.Project, error) {
	result := database.DB.Create(&project)
	return project, result.Error
}

// List retrieves all projects, newest first
func (r *ProjectRepository) List() ([]models.Project, error) {
	var projects []models.Project
	result := database.DB.Order("created_at DESC").Find(&projects)
	return projects, result.Error
}

// Update persists changed project settings
func (r *ProjectRepository) Update(project models.Project) (models.Project, error) {
	result := database.DB.Save(&project)
	return project, result.Error
}

// Delete soft-deletes a project
func (r *ProjectRepository) Delete(id string) error {
	return database.DB.Delete(&models.Project{}, "id = ?", id).Error
}

// FindByID retrieves a project by its ID
func (r *ProjectRepository) FindByID(id string) (models.Project, error) {
	var project models.Project
	result := database.DB.First(&project, "id = ?", id)
	return project, result.Error
}

// FindBySlug retrieves a project by its slug
func (r *ProjectRepository) FindBySlug(slug string) (models.Project, error) {
	var project models.Project
	result := database.DB.First(&project, "slug = ?", slug)
	return project, result.Error
}

// BuildConfigFromProject maps project settings to a build config snapshot
func BuildConfigFromProject(project models.Project) models.BuildConfig {
	branch := project.Branch
	if branch == "" {
		branch = "main"
	}
	outputDir := project.OutputDir
	if outputDir == "" {
		outputDir = "dist"
	}
	nodeVersion := project.NodeVersion
	if nodeVersion == "" {
		nodeVersion = "20"
	}

	return models.BuildConfig{
		RepoURL:     project.RepoURL,
		Branch:      branch,
		InstallCmd:  project.InstallCmd,
		BuildCmd:    project.BuildCmd,
		OutputDir:   outputDir,
		RootDir:     project.RootDir,
		NodeVersion: nodeVersion,
		EnvVars:     project.EnvVars,
	}
}
