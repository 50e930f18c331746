package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// respondError maps the domain error taxonomy onto status codes so clients
// can branch on responses deterministically.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue contention, retry"})
	case errors.Is(err, domain.ErrSolverTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "policy solver timed out"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
