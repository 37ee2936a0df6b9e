package response

import (
	"net/http"

	appErrors "github.com/charlesng35/inkroom/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Status is the minimal acknowledgement payload used by probe style endpoints.
type Status struct {
	Success bool `json:"success"`
}

// ErrorBody is written for every failed request.
type ErrorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes data as the response body without an envelope.
func JSON(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// OK writes {"success": true}.
func OK(c *gin.Context) {
	c.JSON(http.StatusOK, Status{Success: true})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorBody{
		Success: false,
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

// Abort writes the error response and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
