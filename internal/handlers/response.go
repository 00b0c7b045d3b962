package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slidesmith/slidesmith-backend/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps the typed service errors onto HTTP statuses. Anything
// untyped is a 500 with a generic code.
func RespondAppError(c *gin.Context, err error) {
	switch {
	case apierr.IsValidation(err):
		RespondError(c, http.StatusBadRequest, "validation_error", err)
	case apierr.IsNotFound(err):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case apierr.IsInvalidTransition(err):
		RespondError(c, http.StatusConflict, "invalid_transition", err)
	case apierr.IsConflict(err):
		RespondError(c, http.StatusConflict, "version_conflict", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
