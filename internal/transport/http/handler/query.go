package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grantrag/internal/app"
	"grantrag/internal/transport/http/middleware"
	"grantrag/internal/transport/http/response"
)

const maxQueryBodyBytes = 64 << 10

type QueryHandler struct {
	queries *app.QueryService
	logger  *zap.Logger
}

func NewQueryHandler(queries *app.QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{queries: queries, logger: logger}
}

func (h *QueryHandler) Query(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxQueryBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if app.IsBodyTooLarge(err) {
			h.writeError(c, h.queries.Oversized(c.GetHeader("Content-Type")))
			return
		}
		// An unreadable body decodes as nothing.
		body = nil
	}

	query, err := h.queries.Parse(c.GetHeader("Content-Type"), body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	answer, err := h.queries.Answer(c.Request.Context(), query)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, http.StatusOK, answer)
}

func (h *QueryHandler) writeError(c *gin.Context, err error) {
	if msg, ok := app.ClientMessage(err); ok {
		response.Error(c, http.StatusBadRequest, msg)
		return
	}
	switch {
	case errors.Is(err, app.ErrNoRelevantChunks):
		response.OK(c, http.StatusNotFound, app.Answer{
			Response: response.MsgNoRelevantInfo,
			Sources:  []string{},
		})
	case errors.Is(err, app.ErrIndexNotReady):
		h.logger.Warn("query rejected, index not ready", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.MsgNotInitialized)
	default:
		h.logger.Error("query failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, response.MsgQueryFailed)
	}
}
