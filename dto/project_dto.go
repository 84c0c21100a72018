package dto

import "github.com/sitepress-engine/models"

// CreateProjectRequest is the payload for registering a new project
type CreateProjectRequest struct {
	Name        string            `json:"name" binding:"required"`
	Slug        string            `json:"slug" binding:"required"`
	RepoURL     string            `json:"repoUrl" binding:"required"`
	Branch      string            `json:"branch"`
	InstallCmd  string            `json:"installCmd"`
	BuildCmd    string            `json:"buildCmd" binding:"required"`
	OutputDir   string            `json:"outputDir"`
	RootDir     string            `json:"rootDir"`
	NodeVersion string            `json:"nodeVersion"`
	EnvVars     map[string]string `json:"envVars"`
}

// UpdateProjectRequest carries settings changes; nil fields are unchanged
type UpdateProjectRequest struct {
	Name        *string            `json:"name"`
	RepoURL     *string            `json:"repoUrl"`
	Branch      *string            `json:"branch"`
	InstallCmd  *string            `json:"installCmd"`
	BuildCmd    *string            `json:"buildCmd"`
	OutputDir   *string            `json:"outputDir"`
	RootDir     *string            `json:"rootDir"`
	NodeVersion *string            `json:"nodeVersion"`
	EnvVars     *map[string]string `json:"envVars"`
}

// ToProject maps the create request to a project record
func (req CreateProjectRequest) ToProject() models.Project {
	return models.Project{
		Name:        req.Name,
		Slug:        req.Slug,
		RepoURL:     req.RepoURL,
		Branch:      req.Branch,
		InstallCmd:  req.InstallCmd,
		BuildCmd:    req.BuildCmd,
		OutputDir:   req.OutputDir,
		RootDir:     req.RootDir,
		NodeVersion: req.NodeVersion,
		EnvVars:     models.EnvVars(req.EnvVars),
	}
}

// ApplyTo overlays the non-nil fields onto an existing project
func (req UpdateProjectRequest) ApplyTo(project models.Project) models.Project {
	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.RepoURL != nil {
		project.RepoURL = *req.RepoURL
	}
	if req.Branch != nil {
		project.Branch = *req.Branch
	}
	if req.InstallCmd != nil {
		project.InstallCmd = *req.InstallCmd
	}
	if req.BuildCmd != nil {
		project.BuildCmd = *req.BuildCmd
	}
	if req.OutputDir != nil {
		project.OutputDir = *req.OutputDir
	}
	if req.RootDir != nil {
		project.RootDir = *req.RootDir
	}
	if req.NodeVersion != nil {
		project.NodeVersion = *req.NodeVersion
	}
	if req.EnvVars != nil {
		project.EnvVars = models.EnvVars(*req.EnvVars)
	}
	return project
}
