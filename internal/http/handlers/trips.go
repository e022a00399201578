package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripbooking/internal/services"
)

// ListTrips returns the published trips that have not departed yet.
func (h *Handler) ListTrips(c *gin.Context) {
	trips, err := h.Trips.ListUpcoming(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trips})
}

func (h *Handler) GetTrip(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	trip, err := h.Trips.Get(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trip, "available_seats": trip.AvailableSeats()})
}

func (h *Handler) CreateTrip(c *gin.Context) {
	var in services.CreateTripInput
	if !BindJSONOrError(c, &in) {
		return
	}
	trip, err := h.Trips.Create(c.Request.Context(), in)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": trip})
}

// GetTripReport is the per-trip booking and money summary.
func (h *Handler) GetTripReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	report, err := h.Reports.GetTripReport(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (h *Handler) ListTripBookings(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	list, err := h.Bookings.ListByTrip(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}
