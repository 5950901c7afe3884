package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"cinebox/internal/models"
	"cinebox/internal/queue"
	"cinebox/internal/storage"
)

// terminalJobRetention is how long completed and failed jobs stay around
// before the cleanup sweep removes them.
const terminalJobRetention = 24 * time.Hour

// JobHandler serves the job admin API.
type JobHandler struct {
	jobs    *storage.JobRepository
	movies  *storage.MovieRepository
	manager *queue.Manager
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs *storage.JobRepository, movies *storage.MovieRepository, manager *queue.Manager) *JobHandler {
	return &JobHandler{jobs: jobs, movies: movies, manager: manager}
}

// List returns jobs, optionally filtered by state and kind.
func (h *JobHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.jobs.List(ctx, storage.JobFilter{
		State: c.QueryParam("state"),
		Kind:  c.QueryParam("kind"),
		Limit: limit,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

// Get returns one job.
func (h *JobHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

type createJobRequest struct {
	Kind     string            `json:"kind"`
	MovieID  string            `json:"movie_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Create records a new job and triggers a queue pass. The caller gets the
// pending job back immediately; the encode itself runs detached.
func (h *JobHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Kind == "" {
		req.Kind = models.JobKindEncode
	}
	if req.Kind != models.JobKindEncode && req.Kind != models.JobKindUpload {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown job kind: " + req.Kind})
	}
	if req.MovieID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "movie_id is required"})
	}

	movie, err := h.movies.GetByID(ctx, req.MovieID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if movie == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "movie not found"})
	}

	job := &models.Job{
		Kind:       req.Kind,
		MovieID:    movie.ID,
		MovieTitle: movie.Title,
		Metadata:   req.Metadata,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, storage.ErrActiveJobExists) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "movie already has an active job"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	go h.manager.ProcessQueue(context.Background())

	return c.JSON(http.StatusCreated, job)
}

type progressRequest struct {
	Progress int `json:"progress"`
}

// UpdateProgress lets an external ingester push a percentage directly.
func (h *JobHandler) UpdateProgress(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req progressRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Progress < 0 || req.Progress > 100 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "progress must be 0-100"})
	}

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	if err := h.jobs.UpdateProgress(ctx, id, req.Progress); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete removes a job record.
func (h *JobHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	if err := h.jobs.Delete(ctx, id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// Cleanup deletes terminal jobs past the retention window.
func (h *JobHandler) Cleanup(c echo.Context) error {
	ctx := c.Request().Context()

	removed, err := h.jobs.CleanupTerminal(ctx, terminalJobRetention)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int64{"removed": removed})
}

// Stats returns job counts per state.
func (h *JobHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.jobs.CountByState(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, counts)
}

// QueueStatus returns the running jobs and the ordered pending list.
func (h *JobHandler) QueueStatus(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.manager.Status(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

// Cancel cancels one job.
func (h *JobHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.manager.Cancel(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

// CancelAll cancels every active job.
func (h *JobHandler) CancelAll(c echo.Context) error {
	ctx := c.Request().Context()

	n, err := h.manager.CancelAll(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"cancelled": n})
}
