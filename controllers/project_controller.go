package controllers

import (
	"log"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/sitepress-engine/dto"
	"github.com/sitepress-engine/repositories"
	"github.com/sitepress-engine/services"
	"github.com/sitepress-engine/utils"
)

// Slugs become DNS labels, so they carry the DNS label constraints
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ProjectController manages project registration, settings, and teardown
type ProjectController struct {
	worker         *services.BuildWorker
	projectRepo    *repositories.ProjectRepository
	deploymentRepo *repositories.DeploymentRepository
}

// NewProjectController creates the controller; the worker supplies the
// executor that owns published artifacts
func NewProjectController(worker *services.BuildWorker) *ProjectController {
	return &ProjectController{
		worker:         worker,
		projectRepo:    repositories.NewProjectRepository(),
		deploymentRepo: repositories.NewDeploymentRepository(),
	}
}

// CreateProject handles POST /api/projects
func (ctrl *ProjectController) CreateProject(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid request: " + err.Error(),
		})
		return
	}

	if !slugPattern.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Slug must be a valid DNS label",
		})
		return
	}
	if _, err := ctrl.projectRepo.FindBySlug(req.Slug); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"status":  "error",
			"message": "Slug is already taken",
		})
		return
	}

	project := req.ToProject()

	// Reject unbuildable settings at registration time, not at build time
	validation := utils.ValidateBuildConfig(repositories.BuildConfigFromProject(project))
	if !validation.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid build configuration",
			"errors":  validation.Errors,
		})
		return
	}

	project, err := ctrl.projectRepo.Create(project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to create project",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"data":   project,
	})
}

// ListProjects handles GET /api/projects
func (ctrl *ProjectController) ListProjects(c *gin.Context) {
	projects, err := ctrl.projectRepo.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to list projects",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   projects,
	})
}

// GetProject handles GET /api/projects/:id
func (ctrl *ProjectController) GetProject(c *gin.Context) {
	project, err := ctrl.projectRepo.FindByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Project not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   project,
	})
}

// UpdateProject handles PUT /api/projects/:id
func (ctrl *ProjectController) UpdateProject(c *gin.Context) {
	project, err := ctrl.projectRepo.FindByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Project not found",
		})
		return
	}

	var req dto.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid request: " + err.Error(),
		})
		return
	}

	project = req.ApplyTo(project)

	validation := utils.ValidateBuildConfig(repositories.BuildConfigFromProject(project))
	if !validation.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid build configuration",
			"errors":  validation.Errors,
		})
		return
	}

	project, err = ctrl.projectRepo.Update(project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to update project",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   project,
	})
}

// DeleteProject handles DELETE /api/projects/:id. Teardown removes the
// published artifact set of every deployment before the record goes away.
func (ctrl *ProjectController) DeleteProject(c *gin.Context) {
	id := c.Param("id")
	project, err := ctrl.projectRepo.FindByID(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Project not found",
		})
		return
	}

	deployments, err := ctrl.deploymentRepo.FindByProjectID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to list deployments for teardown",
		})
		return
	}

	executor := ctrl.worker.Executor()
	slugs := make(map[string]bool)
	for _, deployment := range deployments {
		slugs[utils.SiteSlug(project.Slug, deployment.ID, deployment.Type)] = true
	}
	for slug := range slugs {
		if err := executor.RemoveArtifacts(c.Request.Context(), slug); err != nil {
			log.Printf("Warning: failed to remove artifacts for %s: %v", slug, err)
		}
	}

	if err := ctrl.projectRepo.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to delete project",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Project deleted",
	})
}

// GetActiveDeployment handles GET /api/projects/:id/active
func (ctrl *ProjectController) GetActiveDeployment(c *gin.Context) {
	id := c.Param("id")
	if _, err := ctrl.projectRepo.FindByID(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Project not found",
		})
		return
	}

	deployment, err := ctrl.deploymentRepo.GetActiveDeployment(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "No active deployment",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   dto.FromDeployment(deployment),
	})
}

// ListProjectDeployments handles GET /api/projects/:id/deployments
func (ctrl *ProjectController) ListProjectDeployments(c *gin.Context) {
	id := c.Param("id")
	if _, err := ctrl.projectRepo.FindByID(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Project not found",
		})
		return
	}

	deployments, err := ctrl.deploymentRepo.FindByProjectID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to list deployments",
		})
		return
	}

	responses := make([]dto.BuildResponse, 0, len(deployments))
	for _, deployment := range deployments {
		responses = append(responses, dto.FromDeployment(deployment))
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   responses,
	})
}
