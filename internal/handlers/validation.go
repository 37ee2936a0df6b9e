package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/inkroom/pkg/errors"
	"github.com/charlesng35/inkroom/pkg/response"
	appValidator "github.com/charlesng35/inkroom/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When either step fails a 400 response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	return bind(c, dest, false)
}

// bindOptionalAndValidate is bindAndValidate for endpoints where an empty body means an
// empty request and leaves dest at its zero value.
func bindOptionalAndValidate[T any](c *gin.Context, dest *T) bool {
	return bind(c, dest, true)
}

func bind[T any](c *gin.Context, dest *T, optional bool) bool {
	if optional && c.Request.Body == nil {
		c.Request.Body = http.NoBody
	}
	if err := c.ShouldBindJSON(dest); err != nil && !(optional && errors.Is(err, io.EOF)) {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	var ve appValidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		switch failure.Tag {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", failure.Field))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", failure.Field, failure.Param))
		default:
			messages = append(messages, failure.String())
		}
	}
	return strings.Join(messages, "; ")
}
