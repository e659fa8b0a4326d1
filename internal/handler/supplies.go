package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sawtell/cutshop/internal/domain"
	"github.com/sawtell/cutshop/internal/service"
)

// SupplyHandler handles supply catalog, location and stock endpoints.
type SupplyHandler struct {
	inventory *service.InventoryService
}

// NewSupplyHandler creates a new SupplyHandler.
func NewSupplyHandler(inventory *service.InventoryService) *SupplyHandler {
	return &SupplyHandler{inventory: inventory}
}

type createSupplyRequest struct {
	Name         string  `json:"name" validate:"required"`
	Color        *string `json:"color"`
	ReorderPoint int     `json:"reorder_point"`
	ReorderQty   int     `json:"reorder_qty"`
}

type createLocationRequest struct {
	Name string `json:"name" validate:"required"`
}

type receiveStockRequest struct {
	LocationID int64 `json:"location_id" validate:"required"`
	Quantity   int   `json:"quantity"`
}

type consumeStockRequest struct {
	Quantity int `json:"quantity"`
}

// CreateSupply adds a sheet material to the catalog.
func (h *SupplyHandler) CreateSupply(c echo.Context) error {
	var req createSupplyRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	supply, err := h.inventory.CreateSupply(c.Request().Context(), domain.NewSupply{
		Name:         req.Name,
		Color:        req.Color,
		ReorderPoint: req.ReorderPoint,
		ReorderQty:   req.ReorderQty,
	})
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, supply)
}

// GetSupply returns one supply with its per-location stock and allocation.
func (h *SupplyHandler) GetSupply(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	supply, err := h.inventory.GetSupply(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, supply)
}

// ListSupplies returns the whole catalog with stock and allocations.
func (h *SupplyHandler) ListSupplies(c echo.Context) error {
	supplies, err := h.inventory.ListSupplies(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, supplies)
}

// CreateLocation adds a storage location.
func (h *SupplyHandler) CreateLocation(c echo.Context) error {
	var req createLocationRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	location, err := h.inventory.CreateLocation(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, location)
}

// ListLocations returns all storage locations.
func (h *SupplyHandler) ListLocations(c echo.Context) error {
	locations, err := h.inventory.ListLocations(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, locations)
}

// ReceiveStock books incoming sheets into a location.
func (h *SupplyHandler) ReceiveStock(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req receiveStockRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	stock, err := h.inventory.ReceiveStock(c.Request().Context(), id, req.LocationID, req.Quantity)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, stock)
}

// ConsumeStock draws sheets from stock, emptying locations in order.
func (h *SupplyHandler) ConsumeStock(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req consumeStockRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("decode request: %w", domain.ErrInvalidInput)
	}
	stock, err := h.inventory.ConsumeStock(c.Request().Context(), id, req.Quantity)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, stock)
}

// ReorderSuggestions lists supplies whose free stock fell below the
// reorder point, with a suggested order quantity for each.
func (h *SupplyHandler) ReorderSuggestions(c echo.Context) error {
	suggestions, err := h.inventory.ReorderSuggestions(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, suggestions)
}
