package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

// ListBookings pages through bookings, optionally of one status.
func (h *Handler) ListBookings(c *gin.Context) {
	status := models.BookingStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	page := domain.Pagination{Page: queryInt(c, "page"), PageSize: queryInt(c, "page_size")}.Normalize()
	list, err := h.Bookings.ListByStatus(c.Request.Context(), status, page)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "page": page.Page, "page_size": page.PageSize})
}

func (h *Handler) ConfirmBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := h.Bookings.Confirm(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	b, err := h.Bookings.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}

// ProcessRefund records a refund paid out by hand.
func (h *Handler) ProcessRefund(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req amountRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	if req.Amount == nil {
		RespondDomainError(c, domain.ValidationError{Field: "amount", Msg: "required"})
		return
	}
	b, err := h.Bookings.ProcessRefund(c.Request.Context(), id, *req.Amount)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": b})
}

// EnqueueRefund queues a provider refund. Without an amount the remaining
// refundable sum is refunded.
func (h *Handler) EnqueueRefund(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req amountRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	b, err := h.Bookings.EnqueueRefund(c.Request.Context(), id, req.Amount)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": b, "message": "refund queued"})
}

func (h *Handler) BookingTicket(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	data, name, err := h.Tickets.GenerateTicket(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	sendPDF(c, data, name)
}
