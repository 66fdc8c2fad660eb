package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/stream"
)

// Resurrect runs the pipeline and streams its events as NDJSON.
// POST /api/resurrect
func (h *Handler) Resurrect(c echo.Context) error {
	req, err := bindRunRequest(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, stream.ContentType)
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(resp)
	events := h.runner.Resurrect(ctx, req)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Status is already sent. Drain so the run can finish.
			h.logger.Warn().Err(err).Str("repo", req.RepositoryURL).Msg("stream write failed")
			for range events {
			}
			return nil
		}
	}
	return nil
}

func bindRunRequest(c echo.Context) (domain.RunRequest, error) {
	var req domain.RunRequest
	if err := c.Bind(&req); err != nil {
		return req, domain.ErrInvalidRequest
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
