package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sitepress-engine/dto"
	"github.com/sitepress-engine/models"
	"github.com/sitepress-engine/repositories"
	"github.com/sitepress-engine/services"
	"github.com/sitepress-engine/utils"
)

// BuildController exposes the build pipeline over HTTP
type BuildController struct {
	worker         *services.BuildWorker
	deploymentRepo *repositories.DeploymentRepository
}

// NewBuildController creates the controller with its worker dependency
func NewBuildController(worker *services.BuildWorker) *BuildController {
	return &BuildController{
		worker:         worker,
		deploymentRepo: repositories.NewDeploymentRepository(),
	}
}

// EnqueueBuild handles POST /api/builds
func (ctrl *BuildController) EnqueueBuild(c *gin.Context) {
	var req dto.EnqueueBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid request: " + err.Error(),
		})
		return
	}

	deployType := req.Type
	if deployType == "" {
		deployType = models.DeploymentTypePreview
	}
	if deployType != models.DeploymentTypeProduction && deployType != models.DeploymentTypePreview {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid deployment type: " + string(deployType),
		})
		return
	}

	deployment, err := ctrl.worker.EnqueueBuild(c.Request.Context(), req.ProjectID, deployType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "success",
		"data":   dto.FromDeployment(deployment),
	})
}

// CancelBuild handles POST /api/builds/:deploymentId/cancel
func (ctrl *BuildController) CancelBuild(c *gin.Context) {
	deploymentID := c.Param("deploymentId")

	if err := ctrl.worker.Cancel(c.Request.Context(), deploymentID); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Build cancelled",
	})
}

// GetBuild handles GET /api/builds/:deploymentId. For non-terminal
// deployments it also reads the backend job status out of band.
func (ctrl *BuildController) GetBuild(c *gin.Context) {
	deploymentID := c.Param("deploymentId")

	deployment, err := ctrl.deploymentRepo.FindByID(deploymentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Deployment not found",
		})
		return
	}

	response := gin.H{
		"status": "success",
		"data":   dto.FromDeployment(deployment),
	}
	if !deployment.Status.IsTerminal() {
		if jobStatus, err := ctrl.worker.Executor().Status(c.Request.Context(), deploymentID); err == nil {
			response["jobStatus"] = jobStatus
		}
	}

	c.JSON(http.StatusOK, response)
}

// GetBuildLogs handles GET /api/builds/:deploymentId/logs
func (ctrl *BuildController) GetBuildLogs(c *gin.Context) {
	deploymentID := c.Param("deploymentId")

	if _, err := ctrl.deploymentRepo.FindByID(deploymentID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Deployment not found",
		})
		return
	}

	logs, err := ctrl.deploymentRepo.GetLogs(deploymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to load logs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   dto.FromDeploymentLogs(logs),
	})
}

// StreamBuildLogs handles GET /api/builds/:deploymentId/logs/stream. It sends
// existing log lines as SSE events, then tails new lines until the deployment
// reaches a terminal state or the client disconnects.
func (ctrl *BuildController) StreamBuildLogs(c *gin.Context) {
	deploymentID := c.Param("deploymentId")

	deployment, err := ctrl.deploymentRepo.FindByID(deploymentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Deployment not found",
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	var lastID uint
	flush := func(logs []models.DeploymentLog) {
		for _, entry := range logs {
			utils.WriteSSEEvent(c.Writer, "log", dto.BuildLogLine{
				Level:     entry.Level,
				Message:   entry.Message,
				CreatedAt: entry.CreatedAt,
			})
			lastID = entry.ID
		}
		c.Writer.Flush()
	}

	logs, err := ctrl.deploymentRepo.GetLogs(deploymentID)
	if err == nil {
		flush(logs)
	}

	if deployment.Status.IsTerminal() {
		utils.WriteSSEEvent(c.Writer, "status", gin.H{"status": deployment.Status})
		c.Writer.Flush()
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		logs, err := ctrl.deploymentRepo.GetLogsAfter(deploymentID, lastID)
		if err == nil {
			flush(logs)
		}

		deployment, err = ctrl.deploymentRepo.FindByID(deploymentID)
		if err != nil {
			return
		}
		if deployment.Status.IsTerminal() {
			utils.WriteSSEEvent(c.Writer, "status", gin.H{"status": deployment.Status})
			c.Writer.Flush()
			return
		}
	}
}

// GetQueueStats handles GET /api/queue/stats
func (ctrl *BuildController) GetQueueStats(c *gin.Context) {
	ctx := c.Request.Context()
	queue := ctrl.worker.Queue()

	high, err := queue.GetQueueLengthByPriority(ctx, models.BuildPriorityHigh)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Queue backend unavailable",
		})
		return
	}
	low, err := queue.GetQueueLengthByPriority(ctx, models.BuildPriorityLow)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Queue backend unavailable",
		})
		return
	}
	active, err := queue.GetActiveBuildCount(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Queue backend unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": dto.QueueStatsResponse{
			HighPriority: high,
			LowPriority:  low,
			Active:       active,
			Concurrency:  queue.Concurrency(),
		},
	})
}
