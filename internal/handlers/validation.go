package handlers

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/rahulnair23/foyer/pkg/errors"
	"github.com/rahulnair23/foyer/pkg/response"
	appValidator "github.com/rahulnair23/foyer/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, validationError(err))
		return false
	}

	return true
}

func validationError(err error) error {
	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return appErrors.NewBadRequest("invalid request payload")
	}

	fields := make([]appErrors.FieldError, 0, len(ve))
	for _, failure := range ve {
		fields = append(fields, appErrors.FieldError{
			Field:   failure.Field,
			Message: appValidator.Describe(failure),
		})
	}
	return appErrors.NewValidation(fields)
}
