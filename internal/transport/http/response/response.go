package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                  = 0
	CodeBadRequest          = 40000
	CodeUnreadableDocument  = 40001
	CodeUploadFailed        = 40002
	CodeUnauthorized        = 40100
	CodeNotFound            = 40400
	CodeFragmentNotFound    = 40401
	CodeSourceNotFound      = 40402
	CodeInternalServer      = 50000
	CodeStorageUnavailable  = 50001
	CodeProviderUnavailable = 50301
	CodeQueueDisabled       = 50302
)

type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Fail is Error with a payload, for failures that still carry a result.
func Fail(c *gin.Context, httpStatus, code int, message string, data any) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
