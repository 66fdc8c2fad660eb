package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lazarus/internal/domain"
)

// Commit commits one artifact to the migration branch. Both success and
// error outcomes are reported with 200.
// POST /api/commit
func (h *Handler) Commit(c echo.Context) error {
	var req domain.CommitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	outcome := h.runner.CommitArtifact(c.Request().Context(), req)
	return c.JSON(http.StatusOK, outcome)
}
