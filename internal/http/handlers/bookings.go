package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripbooking/internal/services"
)

// CreateBooking reserves seats and returns the pending booking.
func (h *Handler) CreateBooking(c *gin.Context) {
	var in services.CreateBookingInput
	if !BindJSONOrError(c, &in) {
		return
	}
	b, err := h.Bookings.Create(c.Request.Context(), in)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": b})
}

// GetBooking is the public booking lookup used by the checkout page.
func (h *Handler) GetBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := h.Bookings.Get(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}
