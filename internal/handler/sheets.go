package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sawtell/cutshop/internal/domain"
	"github.com/sawtell/cutshop/internal/service"
)

// SheetHandler handles material, sheet and recut endpoints. Every mutation
// responds with the full job aggregate so clients never need a second read.
type SheetHandler struct {
	sheets *service.SheetService
}

// NewSheetHandler creates a new SheetHandler.
func NewSheetHandler(sheets *service.SheetService) *SheetHandler {
	return &SheetHandler{sheets: sheets}
}

type sheetStatusRequest struct {
	Status  domain.SheetStatus `json:"status" validate:"required"`
	ActorID *int64             `json:"actor_id"`
}

type addSheetsRequest struct {
	Count int `json:"count"`
}

type addMaterialRequest struct {
	CutlistID   *int64 `json:"cutlist_id"`
	SupplyID    int64  `json:"supply_id" validate:"required"`
	TotalSheets int    `json:"total_sheets"`
}

type addRecutRequest struct {
	Quantity int     `json:"quantity"`
	Reason   *string `json:"reason"`
	ActorID  *int64  `json:"actor_id"`
}

// SetSheetStatus sets one sheet of a material to pending, cut or skip.
func (h *SheetHandler) SetSheetStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	index, err := pathIndex(c, "index")
	if err != nil {
		return err
	}
	var req sheetStatusRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	job, err := h.sheets.SetSheetStatus(c.Request().Context(), id, index, req.Status, req.ActorID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// AddSheets appends pending sheets to a material.
func (h *SheetHandler) AddSheets(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req addSheetsRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	job, err := h.sheets.AddSheets(c.Request().Context(), id, req.Count)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// DeleteSheet removes one sheet from a material.
func (h *SheetHandler) DeleteSheet(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	index, err := pathIndex(c, "index")
	if err != nil {
		return err
	}
	job, err := h.sheets.DeleteSheet(c.Request().Context(), id, index)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// AddMaterial adds a material to a job, defaulting to its first cutlist.
func (h *SheetHandler) AddMaterial(c echo.Context) error {
	jobID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req addMaterialRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	job, err := h.sheets.AddMaterial(c.Request().Context(), jobID, req.CutlistID, req.SupplyID, req.TotalSheets)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, job)
}

// DeleteMaterial removes a material and everything recorded against it.
func (h *SheetHandler) DeleteMaterial(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.sheets.DeleteMaterial(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// AddRecut opens a corrective batch against a material.
func (h *SheetHandler) AddRecut(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req addRecutRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	job, err := h.sheets.AddRecut(c.Request().Context(), id, req.Quantity, req.Reason, req.ActorID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, job)
}

// SetRecutSheetStatus sets one sheet of a recut batch.
func (h *SheetHandler) SetRecutSheetStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	index, err := pathIndex(c, "index")
	if err != nil {
		return err
	}
	var req sheetStatusRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	job, err := h.sheets.SetRecutSheetStatus(c.Request().Context(), id, index, req.Status, req.ActorID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}

// DeleteRecut removes a recut batch and its sheets.
func (h *SheetHandler) DeleteRecut(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.sheets.DeleteRecut(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, job)
}
