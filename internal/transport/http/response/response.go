package response

import "github.com/gin-gonic/gin"

const (
	MsgNotInitialized = "RAG system not initialized"
	MsgQueryFailed    = "An error occurred while processing your query"
	MsgNoRelevantInfo = "No relevant information found for your query."
	MsgFileExists     = "File already exists"
	MsgUploadFailed   = "An error occurred while saving the file"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func OK(c *gin.Context, httpStatus int, data interface{}) {
	c.JSON(httpStatus, data)
}

func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, ErrorResponse{Error: message})
}

// AbortError writes the error body and stops the handler chain.
func AbortError(c *gin.Context, httpStatus int, message string) {
	c.AbortWithStatusJSON(httpStatus, ErrorResponse{Error: message})
}
