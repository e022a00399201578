package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/http/middleware"
)

type cancelRequest struct {
	Reason string `json:"reason"`
}

// ownBooking loads a booking of the session owner. Someone else's booking
// looks exactly like a missing one.
func (h *Handler) ownBooking(c *gin.Context) (models.Booking, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return models.Booking{}, false
	}
	b, err := h.Bookings.Get(c.Request.Context(), id)
	if err == nil && b.UserEmail != middleware.Principal(c).Email {
		err = domain.NotFoundError{Resource: "booking"}
	}
	if err != nil {
		RespondDomainError(c, err)
		return models.Booking{}, false
	}
	return b, true
}

func (h *Handler) MyBookings(c *gin.Context) {
	list, err := h.Bookings.ListByEmail(c.Request.Context(), middleware.Principal(c).Email)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) CancelMyBooking(c *gin.Context) {
	b, ok := h.ownBooking(c)
	if !ok {
		return
	}
	var req cancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	b, err := h.Bookings.Cancel(c.Request.Context(), b.ID, req.Reason)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}

func (h *Handler) RequestMyRefund(c *gin.Context) {
	b, ok := h.ownBooking(c)
	if !ok {
		return
	}
	b, err := h.Bookings.RequestRefund(c.Request.Context(), b.ID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}

func (h *Handler) MyTicket(c *gin.Context) {
	b, ok := h.ownBooking(c)
	if !ok {
		return
	}
	data, name, err := h.Tickets.GenerateTicket(c.Request.Context(), b.ID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	sendPDF(c, data, name)
}

func (h *Handler) MyReceipt(c *gin.Context) {
	b, ok := h.ownBooking(c)
	if !ok {
		return
	}
	data, name, err := h.Tickets.GenerateReceipt(c.Request.Context(), b.ID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	sendPDF(c, data, name)
}
