package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			message := cs.Message
			if message == "" {
				message = err.Error()
			}
			c.JSON(cs.Status, NewErrorResponse(c, message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// domainErrorCases maps the registry error taxonomy. Validation and state
// messages are returned verbatim since they name the offending field or transition.
var domainErrorCases = []ErrorCase{
	{Err: domain.ErrValidation, Status: http.StatusBadRequest},
	{Err: domain.ErrNotFound, Status: http.StatusNotFound, Message: "device not found"},
	{Err: domain.ErrState, Status: http.StatusConflict},
}

func respondDomainError(c *gin.Context, err error, fallbackMessage string) {
	RespondWithMappedError(c, err, domainErrorCases, http.StatusInternalServerError, fallbackMessage)
}
