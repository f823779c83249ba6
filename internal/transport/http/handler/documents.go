package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grantrag/internal/app"
	"grantrag/internal/docstore"
	"grantrag/internal/transport/http/response"
)

type DocumentHandler struct {
	uploads *app.UploadService
	index   *app.IndexManager
	logger  *zap.Logger
}

func NewDocumentHandler(uploads *app.UploadService, index *app.IndexManager, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{uploads: uploads, index: index, logger: logger}
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.uploads.List()
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "An error occurred while listing documents")
		return
	}
	if docs == nil {
		docs = []docstore.DocumentInfo{}
	}
	response.OK(c, http.StatusOK, gin.H{"documents": docs})
}

// Reindex rebuilds the index from the store and waits for the result.
func (h *DocumentHandler) Reindex(c *gin.Context) {
	idx, err := h.index.Rebuild(c.Request.Context())
	if err != nil {
		h.logger.Warn("reindex failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.MsgNotInitialized)
		return
	}
	response.OK(c, http.StatusOK, gin.H{
		"documents":  idx.Documents,
		"chunks":     idx.Len(),
		"generation": idx.Generation,
	})
}
