package api

import (
	"net/http"
	"strconv"
	"time"

	"ticketmind/internal/analysis_service/service"
	"ticketmind/internal/analysis_service/store"
	"ticketmind/internal/models"
	"ticketmind/pkg/logger"

	"github.com/gin-gonic/gin"
)

// API provides handlers for the analysis service.
type API struct {
	service *service.AnalysisService
	logger  *logger.Logger
}

// NewAPI creates a new API handler.
func NewAPI(service *service.AnalysisService, logger *logger.Logger) *API {
	return &API{
		service: service,
		logger:  logger,
	}
}

func actorFrom(c *gin.Context) string {
	actor, _ := c.Get("actor")
	name, ok := actor.(string)
	if !ok || name == "" {
		return "system"
	}
	return name
}

// EnqueueHandler starts an analysis task for a ticket.
func (a *API) EnqueueHandler(c *gin.Context) {
	ticketID := c.Param("id")

	task, err := a.service.Enqueue(c.Request.Context(), ticketID, models.TaskKindAnalysis, actorFrom(c))
	if err != nil {
		if err == service.ErrAlreadyInProgress {
			c.JSON(http.StatusConflict, gin.H{"error": "An analysis is already in progress for this ticket"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue analysis"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID})
}

// EnqueueBulkHandler starts bulk-analysis tasks for a set of tickets.
func (a *API) EnqueueBulkHandler(c *gin.Context) {
	var payload struct {
		TicketIDs []string `json:"ticket_ids"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.TicketIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	created, skipped, err := a.service.EnqueueBulk(c.Request.Context(), payload.TicketIDs, actorFrom(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue bulk analysis"})
		return
	}

	taskIDs := make([]string, 0, len(created))
	for _, task := range created {
		taskIDs = append(taskIDs, task.ID)
	}
	c.JSON(http.StatusAccepted, gin.H{"task_ids": taskIDs, "skipped": skipped})
}

// GetTaskHandler returns a single task by its ID.
func (a *API) GetTaskHandler(c *gin.Context) {
	task, err := a.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// LatestTaskHandler returns the most recent task for a ticket.
func (a *API) LatestTaskHandler(c *gin.Context) {
	task, err := a.service.LatestTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve latest task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No analysis found for this ticket"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// ListTasksHandler returns a filtered, paginated list of tasks.
func (a *API) ListTasksHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	filter := store.TaskFilter{
		Status: models.TaskStatus(c.Query("status")),
		Kind:   models.TaskKind(c.Query("kind")),
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}

	tasks, err := a.service.ListTasks(c.Request.Context(), filter, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve tasks"})
		return
	}

	c.JSON(http.StatusOK, tasks)
}

// ProgressHandler returns the aggregate progress for a ticket's tasks.
func (a *API) ProgressHandler(c *gin.Context) {
	report, err := a.service.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute progress"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// RetryHandler re-enqueues a failed task.
func (a *API) RetryHandler(c *gin.Context) {
	task, err := a.service.Retry(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		switch err {
		case service.ErrTaskNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		case service.ErrNotRetryable:
			c.JSON(http.StatusConflict, gin.H{"error": "Only failed tasks can be retried"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry task"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID})
}

// DismissFailedHandler bulk-dismisses all failed tasks.
func (a *API) DismissFailedHandler(c *gin.Context) {
	n, err := a.service.DismissFailed(c.Request.Context(), actorFrom(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dismiss tasks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dismissed": n})
}
