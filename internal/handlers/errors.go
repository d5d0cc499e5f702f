package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
)

// httpError carries a status code through handler internals so transactional
// helpers can signal the right client error.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func httpErrorf(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

// respondError maps an error to the standard error body. Unrecognized errors
// become 500s with a generic message; the cause stays in the logs.
func respondError(c *gin.Context, err error) {
	var he *httpError
	if errors.As(err, &he) {
		c.JSON(he.status, api.ErrorResponse{Error: he.message})
		return
	}
	logger.WithError(err).Error("Request failed")
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal server error"})
}
