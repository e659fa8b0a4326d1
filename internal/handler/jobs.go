package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sawtell/cutshop/internal/domain"
	"github.com/sawtell/cutshop/internal/service"
)

// JobHandler handles job lifecycle, cutlist and timer endpoints.
type JobHandler struct {
	jobs *service.JobService
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type createMaterialRequest struct {
	SupplyID    int64 `json:"supply_id" validate:"required"`
	TotalSheets int   `json:"total_sheets"`
}

type createCutlistRequest struct {
	Label     string                  `json:"label" validate:"required"`
	Materials []createMaterialRequest `json:"materials" validate:"dive"`
}

type createJobRequest struct {
	Number   string                 `json:"number" validate:"required"`
	Name     string                 `json:"name" validate:"required"`
	Customer string                 `json:"customer"`
	Cutlists []createCutlistRequest `json:"cutlists" validate:"dive"`
}

// actorRequest is the optional body shared by lifecycle and timer endpoints.
type actorRequest struct {
	ActorID *int64 `json:"actor_id"`
}

// Create creates a job, optionally with nested cutlists and materials.
func (h *JobHandler) Create(c echo.Context) error {
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	n := domain.NewJob{Number: req.Number, Name: req.Name, Customer: req.Customer}
	for _, cl := range req.Cutlists {
		nc := domain.NewCutlist{Label: cl.Label}
		for _, m := range cl.Materials {
			nc.Materials = append(nc.Materials, domain.NewMaterial{
				SupplyID:    m.SupplyID,
				TotalSheets: m.TotalSheets,
			})
		}
		n.Cutlists = append(n.Cutlists, nc)
	}

	job, err := h.jobs.Create(c.Request().Context(), n)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, job)
}

// Get returns a single job aggregate with its status brought up to date.
func (h *JobHandler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.jobs.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// List returns job summaries matching the filter query.
func (h *JobHandler) List(c echo.Context) error {
	filter := domain.JobFilter{Customer: c.QueryParam("customer")}

	if s := c.QueryParam("status"); s != "" {
		status := domain.JobStatus(s)
		switch status {
		case domain.StatusWaiting, domain.StatusInProgress, domain.StatusPaused, domain.StatusDone:
			filter.Status = &status
		default:
			return fmt.Errorf("status %q: %w", s, domain.ErrInvalidInput)
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("limit %q: %w", v, domain.ErrInvalidInput)
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("offset %q: %w", v, domain.ErrInvalidInput)
		}
		filter.Offset = n
	}

	jobs, err := h.jobs.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return JSONList(c, http.StatusOK, jobs, PaginationMeta{
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Count:  len(jobs),
	})
}

// Delete removes a job together with its cutlists, materials, recuts and logs.
func (h *JobHandler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.jobs.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Start marks a job in progress and opens its work timer.
func (h *JobHandler) Start(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	job, err := h.jobs.Start(c.Request().Context(), id, req.ActorID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// Pause suspends a job and closes its open work timer.
func (h *JobHandler) Pause(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.jobs.Pause(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// Resume lifts a pause and recomputes the job status from its sheets.
func (h *JobHandler) Resume(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	job, err := h.jobs.Resume(c.Request().Context(), id, req.ActorID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// Complete marks a job done regardless of remaining sheets.
func (h *JobHandler) Complete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.jobs.Complete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// StartTimer opens a work interval for a job without touching its status.
func (h *JobHandler) StartTimer(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req actorRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	job, err := h.jobs.StartTimer(c.Request().Context(), id, req.ActorID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// StopTimer closes the open work interval and refreshes the total duration.
func (h *JobHandler) StopTimer(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.jobs.StopTimer(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// TimeLogs returns a job's work intervals, oldest first.
func (h *JobHandler) TimeLogs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	logs, err := h.jobs.TimeLogs(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, logs)
}

// CutLog returns a job's sheet cut history, newest first.
func (h *JobHandler) CutLog(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	logs, err := h.jobs.CutLog(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, logs)
}

type addCutlistRequest struct {
	Label string `json:"label" validate:"required"`
}

// AddCutlist appends a cutlist to a job.
func (h *JobHandler) AddCutlist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req addCutlistRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	cutlist, err := h.jobs.AddCutlist(c.Request().Context(), id, req.Label)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, cutlist)
}

// DeleteCutlist removes a cutlist and returns the updated job.
func (h *JobHandler) DeleteCutlist(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.jobs.DeleteCutlist(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}
