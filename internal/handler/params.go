package handler

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sawtell/cutshop/internal/domain"
)

// pathID parses a positive int64 path parameter.
func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("path parameter %q: %w", name, domain.ErrInvalidInput)
	}
	return id, nil
}

// pathIndex parses a non-negative int path parameter.
func pathIndex(c echo.Context, name string) (int, error) {
	idx, err := strconv.Atoi(c.Param(name))
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("path parameter %q: %w", name, domain.ErrInvalidInput)
	}
	return idx, nil
}
