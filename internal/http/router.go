package api

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	intconfig "tripbooking/internal/config"
	"tripbooking/internal/domain/models"
	h "tripbooking/internal/http/handlers"
	"tripbooking/internal/http/middleware"
	"tripbooking/internal/services"
)

// NewRouter mounts the public, account and admin APIs under /api/v1.
func NewRouter(env intconfig.Env, hd *h.Handler, sessions middleware.SessionParser, log *zap.Logger) *gin.Engine {
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(log), gin.Recovery(), middleware.CORS(env.CORSAllowedOrigins))

	// Provider source checks rely on ClientIP, so forwarded addresses are only
	// read from configured proxies.
	if err := r.SetTrustedProxies(env.TrustedProxies); err != nil {
		log.Warn("failed to set trusted proxies", zap.Strings("proxies", env.TrustedProxies), zap.Error(err))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	// Magic links and admin logins are brute-force targets.
	loginLimit := middleware.NewRateLimiter(rate.Every(6*time.Second), 5)

	api := r.Group("/api/v1")
	api.Use(middleware.Authenticate(sessions))
	{
		api.GET("/health", hd.Health)

		// Trips
		api.GET("/trips", hd.ListTrips)
		api.GET("/trips/:id", hd.GetTrip)

		// Bookings
		api.POST("/bookings", hd.CreateBooking)
		api.GET("/bookings/:id", hd.GetBooking)

		// Payments
		payments := api.Group("/payments")
		payments.POST("", hd.CreatePayment)
		payments.GET("/:id/url", hd.GetPaymentURL)
		for _, provider := range models.OnlineProviders() {
			callback := hd.PaymentCallback(provider)
			payments.POST("/"+string(provider)+"/callback", callback)
			payments.GET("/"+string(provider)+"/callback", callback)
		}

		// Auth
		auth := api.Group("/auth", loginLimit.Middleware())
		auth.POST("/magic-link", hd.RequestMagicLink)
		auth.POST("/login", hd.Login)

		// Account (magic-link session)
		account := api.Group("/account", middleware.RequireSession())
		account.GET("/bookings", hd.MyBookings)
		account.POST("/bookings/:id/cancel", hd.CancelMyBooking)
		account.POST("/bookings/:id/refund", hd.RequestMyRefund)
		account.GET("/bookings/:id/ticket", hd.MyTicket)
		account.GET("/bookings/:id/receipt", hd.MyReceipt)

		// Admin
		api.POST("/admin/login", loginLimit.Middleware(), hd.AdminLogin)
		admin := api.Group("/admin", middleware.RequireRoles(services.RoleAdmin))
		admin.POST("/trips", hd.CreateTrip)
		admin.GET("/trips/:id/bookings", hd.ListTripBookings)
		admin.GET("/trips/:id/report", hd.GetTripReport)

		admin.GET("/bookings", hd.ListBookings)
		admin.GET("/bookings/:id", hd.GetBooking)
		admin.POST("/bookings/:id/confirm", hd.ConfirmBooking)
		admin.POST("/bookings/:id/cancel", hd.CancelBooking)
		admin.POST("/bookings/:id/process-refund", hd.ProcessRefund)
		admin.POST("/bookings/:id/enqueue-refund", hd.EnqueueRefund)
		admin.GET("/bookings/:id/payments", hd.ListBookingPayments)
		admin.GET("/bookings/:id/ticket", hd.BookingTicket)

		admin.GET("/payments/:id", hd.GetPayment)
		admin.GET("/payments/:id/info", hd.GetPaymentInfo)
		admin.POST("/payments/:id/capture", hd.CapturePayment)
		admin.POST("/payments/:id/cancel", hd.CancelPayment)
	}

	return r
}
