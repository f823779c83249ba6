package handler

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grantrag/internal/app"
	"grantrag/internal/transport/http/middleware"
	"grantrag/internal/transport/http/response"
)

const (
	fileField = "file"
	// multipartOverhead leaves room for boundaries and part headers on a max-size upload.
	multipartOverhead = 1 << 20
)

var errNoFilePart = errors.New("no file part")

type UploadHandler struct {
	uploads *app.UploadService
	logger  *zap.Logger
}

func NewUploadHandler(uploads *app.UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, logger: logger}
}

func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploads.MaxBytes()+multipartOverhead)

	var input app.UploadInput
	name, part, err := findFilePart(c.Request)
	switch {
	case err == nil:
		defer part.Close()
		input = app.UploadInput{Filename: name, Content: part}
	case app.IsBodyTooLarge(err):
		h.writeError(c, h.uploads.TooLarge())
		return
	case !errors.Is(err, errNoFilePart):
		h.logger.Debug("malformed multipart body", zap.Error(err))
	}

	result, err := h.uploads.Upload(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusCreated, gin.H{
		"message":  "File uploaded successfully",
		"filename": result.Filename,
	})
}

func (h *UploadHandler) writeError(c *gin.Context, err error) {
	if msg, ok := app.ClientMessage(err); ok {
		response.Error(c, http.StatusBadRequest, msg)
		return
	}
	if errors.Is(err, app.ErrFileExists) {
		response.Error(c, http.StatusConflict, response.MsgFileExists)
		return
	}
	h.logger.Error("upload failed",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	response.Error(c, http.StatusInternalServerError, response.MsgUploadFailed)
}

// findFilePart streams the body up to the first part that carries a filename
// parameter under the file field. The name is returned as sent, without the
// base-name cleanup multipart.Part.FileName applies, so unsafe names can be
// rejected instead of silently rewritten.
func findFilePart(r *http.Request) (string, *multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return "", nil, errNoFilePart
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", nil, errNoFilePart
		}
		if err != nil {
			return "", nil, err
		}
		if part.FormName() != fileField {
			_ = part.Close()
			continue
		}
		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			_ = part.Close()
			continue
		}
		name, ok := params["filename"]
		if !ok {
			_ = part.Close()
			continue
		}
		return name, part, nil
	}
}
