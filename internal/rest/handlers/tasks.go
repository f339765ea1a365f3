package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/example/taskboard/internal/models"
	"github.com/example/taskboard/internal/store"
	"github.com/example/taskboard/pkg/rest/response"
)

// Task exposes the synchronization store's presentation surface over
// REST. Handlers never touch task state directly; every mutation goes
// through the store.
type Task struct {
	log   *logrus.Logger
	store *store.Store
	view  *store.Viewer
}

func NewTaskHandler(s *store.Store, log *logrus.Logger) *Task {
	return &Task{
		log:   log,
		store: s,
		view:  store.NewViewer(s),
	}
}

func (h *Task) EnrichRoutes(router *gin.Engine) {
	taskRoutes := router.Group("/tasks")
	taskRoutes.GET("", h.listTasksAction)
	taskRoutes.POST("", h.createTaskAction)
	taskRoutes.PATCH("/:taskID", h.updateTaskAction)
	taskRoutes.DELETE("/:taskID", h.deleteTaskAction)
	taskRoutes.POST("/:taskID/move", h.moveTaskAction)
	taskRoutes.POST("/:taskID/reorder", h.reorderTaskAction)
}

type taskJSON struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	EffectiveStatus string     `json:"effective_status"`
	Category        string     `json:"category"`
	Priority        string     `json:"priority"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	DueDate         string     `json:"due_date,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Order           int        `json:"order"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toTaskJSON(t store.Task, now time.Time) taskJSON {
	return taskJSON{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Status:          string(t.Status),
		EffectiveStatus: string(store.EffectiveStatus(t, now)),
		Category:        t.Category,
		Priority:        t.Priority,
		AssigneeID:      t.AssigneeID,
		DueDate:         t.DueDate,
		CompletedAt:     t.CompletedAt,
		Order:           t.Order,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (h *Task) listTasksAction(c *gin.Context) {
	filter := store.Filter{
		AssigneeID: c.Query("assignee"),
		Categories: c.QueryArray("category"),
		Search:     c.Query("q"),
	}
	for _, s := range c.QueryArray("status") {
		if !validStatus(s) {
			response.HandleError(response.NewBadRequestError("unknown status: "+s), c)
			return
		}
		filter.Statuses = append(filter.Statuses, store.Status(s))
	}

	now := h.store.Now()
	view := h.view.View(filter)

	tasks := make([]taskJSON, 0, len(view.Tasks))
	for _, t := range view.Tasks {
		tasks = append(tasks, toTaskJSON(t, now))
	}
	columns := make(map[string][]taskJSON, len(view.ByStatus))
	for status, partition := range view.ByStatus {
		col := make([]taskJSON, 0, len(partition))
		for _, t := range partition {
			col = append(col, toTaskJSON(t, now))
		}
		columns[string(status)] = col
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":   tasks,
		"columns": columns,
		"loading": h.store.IsLoading(),
	})
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
	AssigneeID  string `json:"assignee_id"`
	DueDate     string `json:"due_date"`
}

func (h *Task) createTaskAction(c *gin.Context) {
	const op = "handlers.Task.createTaskAction"
	log := h.log.WithField("operation", op)

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.HandleError(response.NewBadRequestError("invalid request structure"), c)
		return
	}

	fields := make(map[string]string)
	if req.Title == "" {
		fields["title"] = "title is required"
	}
	if req.Status != "" && !models.ValidStoredStatus(req.Status) {
		fields["status"] = "unknown status"
	}
	validateEnums(req.Category, req.Priority, req.DueDate, fields)
	if len(fields) > 0 {
		response.HandleError(response.NewValidationError(fields), c)
		return
	}

	created, err := h.store.Create(c.Request.Context(), store.Draft{
		Title:       req.Title,
		Description: req.Description,
		Status:      store.Status(req.Status),
		Category:    req.Category,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		DueDate:     req.DueDate,
	})
	if err != nil {
		log.WithError(err).Error("create task failed")
		response.HandleError(response.NewRemoteError(err.Error()), c)
		return
	}

	c.JSON(http.StatusCreated, toTaskJSON(created, h.store.Now()))
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Category    *string `json:"category"`
	Priority    *string `json:"priority"`
	AssigneeID  *string `json:"assignee_id"`
	DueDate     *string `json:"due_date"`
}

func (h *Task) updateTaskAction(c *gin.Context) {
	const op = "handlers.Task.updateTaskAction"
	log := h.log.WithField("operation", op)

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.HandleError(response.NewBadRequestError("invalid request structure"), c)
		return
	}

	fields := make(map[string]string)
	if req.Title != nil && *req.Title == "" {
		fields["title"] = "title must not be empty"
	}
	if req.Status != nil && !validStatus(*req.Status) {
		fields["status"] = "unknown status"
	}
	if req.Category != nil {
		validateEnums(*req.Category, "", "", fields)
	}
	if req.Priority != nil {
		validateEnums("", *req.Priority, "", fields)
	}
	if req.DueDate != nil {
		validateEnums("", "", *req.DueDate, fields)
	}
	if len(fields) > 0 {
		response.HandleError(response.NewValidationError(fields), c)
		return
	}

	upd := store.Fields{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		DueDate:     req.DueDate,
	}
	if req.Status != nil {
		status := store.Status(*req.Status)
		upd.Status = &status
	}

	if err := h.store.Update(c.Request.Context(), c.Param("taskID"), upd); err != nil {
		h.mutationError(log, err, c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Task) deleteTaskAction(c *gin.Context) {
	const op = "handlers.Task.deleteTaskAction"
	log := h.log.WithField("operation", op)

	if err := h.store.Delete(c.Request.Context(), c.Param("taskID")); err != nil {
		h.mutationError(log, err, c)
		return
	}
	c.Status(http.StatusNoContent)
}

type moveTaskRequest struct {
	Status string `json:"status"`
	Order  int    `json:"order"`
}

func (h *Task) moveTaskAction(c *gin.Context) {
	const op = "handlers.Task.moveTaskAction"
	log := h.log.WithField("operation", op)

	var req moveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.HandleError(response.NewBadRequestError("invalid request structure"), c)
		return
	}
	if !validStatus(req.Status) {
		response.HandleError(response.NewValidationError(map[string]string{"status": "unknown status"}), c)
		return
	}

	if err := h.store.Move(c.Request.Context(), c.Param("taskID"), store.Status(req.Status), req.Order); err != nil {
		h.mutationError(log, err, c)
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderTaskRequest struct {
	Order int `json:"order"`
}

func (h *Task) reorderTaskAction(c *gin.Context) {
	const op = "handlers.Task.reorderTaskAction"
	log := h.log.WithField("operation", op)

	var req reorderTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.HandleError(response.NewBadRequestError("invalid request structure"), c)
		return
	}

	if err := h.store.Reorder(c.Request.Context(), c.Param("taskID"), req.Order); err != nil {
		h.mutationError(log, err, c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Task) mutationError(log *logrus.Entry, err error, c *gin.Context) {
	if errors.Is(err, store.ErrNotFound) {
		response.HandleError(response.NewNotFoundError("task not found"), c)
		return
	}
	log.WithError(err).Error("mutation failed")
	response.HandleError(response.NewRemoteError(err.Error()), c)
}

func validStatus(s string) bool {
	for _, status := range store.Statuses() {
		if store.Status(s) == status {
			return true
		}
	}
	return false
}

func validateEnums(category, priority, dueDate string, fields map[string]string) {
	switch category {
	case "", models.CategoryFeature, models.CategoryBug, models.CategoryChore, models.CategoryDesign, models.CategoryOther:
	default:
		fields["category"] = "unknown category"
	}
	switch priority {
	case "", models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		fields["priority"] = "unknown priority"
	}
	if dueDate != "" {
		if _, err := time.Parse("2006-01-02", dueDate); err != nil {
			fields["due_date"] = "due date must be YYYY-MM-DD"
		}
	}
}
