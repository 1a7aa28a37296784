package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/dispatcher"
	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/store"
)

// writeError maps a component error to the status code spec.md §7 names,
// before any stage work has started. Anything unrecognized is a 500.
func writeError(c *gin.Context, err error) {
	var insufficient *ledger.InsufficientCreditsError
	var validation *config.ValidationError

	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "insufficient credits",
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotOwned):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, dispatcher.ErrInputTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrNotAQuestion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrTooManyAttachments), errors.Is(err, dispatcher.ErrInvalidAttachment):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
