package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/gin-gonic/gin"
)

func writeSuccess(c *gin.Context, message string, body gin.H) {
	out := gin.H{"success": true, "message": message}
	for k, v := range body {
		out[k] = v
	}
	c.JSON(http.StatusOK, out)
}

// writeError maps service errors onto the {success:false} envelope.
func writeError(c *gin.Context, message string, err error) {
	var (
		validation *domain.ValidationError
		invalid    *domain.InvalidOfferDataError
		upstream   *domain.UpstreamAPIError
		auth       *domain.UpstreamAuthError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"message": message,
			"errors":  gin.H{validation.Field: []string{validation.Message}},
		})
		return
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid flight offer data.", "error": invalid.Reason})
		return
	case errors.Is(err, domain.ErrBookingNotFound), errors.Is(err, domain.ErrPricingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": notFoundMessage(err)})
		return
	case errors.Is(err, domain.ErrPaymentNotSettled):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Payment not successful"})
		return
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": message, "error": upstream.Detail})
		return
	case errors.As(err, &auth):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": message, "error": "upstream authentication failed"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": message, "error": err.Error()})
}

func notFoundMessage(err error) string {
	if errors.Is(err, domain.ErrPricingNotFound) {
		return "Flight pricing not found"
	}
	return "Booking not found"
}
