package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/http/middleware"
)

const maxCallbackBody = 1 << 20

type createPaymentRequest struct {
	BookingID int64  `json:"booking_id"`
	Provider  string `json:"provider"`
}

type amountRequest struct {
	Amount *int64 `json:"amount"`
}

func parseProvider(raw string) (models.Provider, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	p, ok := models.ParseProvider(raw)
	if !ok {
		return "", domain.ValidationError{Field: "provider", Msg: "unknown payment provider"}
	}
	return p, nil
}

// CreatePayment starts a checkout for a booking and returns where to send
// the customer.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	if req.BookingID <= 0 {
		RespondDomainError(c, domain.ValidationError{Field: "booking_id", Msg: "required"})
		return
	}
	provider, err := parseProvider(req.Provider)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	res, err := h.Payments.CreatePayment(c.Request.Context(), req.BookingID, provider)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": res})
}

// GetPaymentURL returns the cached checkout URL of a payment.
func (h *Handler) GetPaymentURL(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	u, err := h.Payments.GetPaymentURL(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_id": id, "redirect_url": u})
}

// PaymentCallback receives provider webhooks (POST) and customer return
// redirects (GET). The raw body is handed to the driver untouched so its
// signature can be checked.
func (h *Handler) PaymentCallback(provider models.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			respondError(c, http.StatusBadRequest, "validation_error", "unreadable body")
			return
		}
		req := gateway.CallbackRequest{
			Body:     body,
			Header:   c.Request.Header.Clone(),
			Query:    c.Request.URL.Query(),
			RemoteIP: c.ClientIP(),
		}

		p, err := h.Payments.HandleCallback(c.Request.Context(), provider, req)
		if c.Request.Method == http.MethodGet && h.FrontendURL != "" {
			h.redirectAfterReturn(c, p, err)
			return
		}
		if err != nil {
			h.log().Warn("payment callback failed",
				zap.String("provider", string(provider)),
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			RespondDomainError(c, err)
			return
		}
		resp := gin.H{"status": "ok"}
		if p != nil {
			resp["payment_id"] = p.ID
			resp["payment_status"] = p.Status
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *Handler) redirectAfterReturn(c *gin.Context, p *models.Payment, err error) {
	base := strings.TrimRight(h.FrontendURL, "/")
	if err != nil || p == nil || p.Status == models.ChargeFailed || p.Status == models.ChargeCancelled {
		if err != nil {
			h.log().Warn("payment return failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.Redirect(http.StatusFound, base+"/payment/cancel")
		return
	}
	q := url.Values{}
	q.Set("booking_id", strconv.FormatInt(p.BookingID, 10))
	q.Set("status", string(p.Status))
	c.Redirect(http.StatusFound, base+"/payment/success?"+q.Encode())
}

func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.Payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (h *Handler) ListBookingPayments(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	list, err := h.Payments.ListForBooking(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// GetPaymentInfo returns the provider's own view of a payment.
func (h *Handler) GetPaymentInfo(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	info, err := h.Payments.GetPaymentInfo(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": info})
}

func (h *Handler) CapturePayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req amountRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	var amount int64
	if req.Amount != nil {
		amount = *req.Amount
	}
	p, err := h.Payments.CapturePayment(c.Request.Context(), id, amount)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (h *Handler) CancelPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.Payments.CancelPayment(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}
